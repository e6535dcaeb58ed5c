// Package coordinator runs the supply update pipeline for one request:
// validate → submit → confirm → measure supply → compute price → persist.
// Every transition is journaled; a failure stops the pipeline and reports the
// stage it stopped at.
package coordinator

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"model-token-engine/internal/aptos"
	"model-token-engine/internal/custody"
	"model-token-engine/internal/domain"
	"model-token-engine/internal/journal"
	"model-token-engine/internal/keylock"
	"model-token-engine/internal/ledger"
	"model-token-engine/internal/observability"
	"model-token-engine/internal/pricing"
	"model-token-engine/internal/storage"
	"model-token-engine/internal/supply"
)

// DefaultMaxPriceRetries bounds re-reads after a version conflict on the price write.
const DefaultMaxPriceRetries = 3

// Ledger is the gateway surface the pipeline needs.
type Ledger interface {
	Submit(ctx context.Context, op *domain.Operation, signer aptos.Signer, onBroadcast func(hash string)) (string, error)
	QuerySupply(ctx context.Context, tokenAddress string) (domain.SupplyQuery, error)
	CreateToken(ctx context.Context, req ledger.CreateTokenRequest, signer aptos.Signer) (*ledger.TokenCreation, error)
}

// Compile-time interface check.
var _ Ledger = (*ledger.Gateway)(nil)

// Coordinator executes mint, burn and onboarding requests.
type Coordinator struct {
	// Collaborators
	ledger  Ledger
	custody custody.Provider
	models  storage.ModelStore
	history storage.PriceHistoryStore
	journal *journal.Recorder
	locks   *keylock.Locker
	logger  logrus.FieldLogger

	// Options
	submitTimeout   time.Duration
	maxPriceRetries int
	now             func() time.Time
	newID           func() string
	random          io.Reader
}

// Options for creating Coordinator.
type Options struct {
	// Required
	Ledger  Ledger
	Custody custody.Provider
	Models  storage.ModelStore
	Journal *journal.Recorder
	Logger  logrus.FieldLogger

	// Optional
	History         storage.PriceHistoryStore // price ticks, skipped when nil
	Locks           *keylock.Locker           // shared per-token locks
	SubmitTimeout   time.Duration             // broadcast + confirm deadline
	MaxPriceRetries int                       // price write retries on version conflict
	Now             func() time.Time
	NewID           func() string // operation and model ids
	Random          io.Reader     // entropy for new wallets
}

// New creates a new Coordinator.
func New(opts Options) (*Coordinator, error) {
	switch {
	case opts.Ledger == nil:
		return nil, errors.New("coordinator: ledger is required")
	case opts.Custody == nil:
		return nil, errors.New("coordinator: custody provider is required")
	case opts.Models == nil:
		return nil, errors.New("coordinator: model store is required")
	case opts.Journal == nil:
		return nil, errors.New("coordinator: journal is required")
	case opts.Logger == nil:
		return nil, errors.New("coordinator: logger is required")
	}

	c := &Coordinator{
		ledger:          opts.Ledger,
		custody:         opts.Custody,
		models:          opts.Models,
		history:         opts.History,
		journal:         opts.Journal,
		locks:           opts.Locks,
		logger:          opts.Logger.WithField("component", "coordinator"),
		submitTimeout:   opts.SubmitTimeout,
		maxPriceRetries: opts.MaxPriceRetries,
		now:             opts.Now,
		newID:           opts.NewID,
		random:          opts.Random,
	}
	if c.locks == nil {
		c.locks = keylock.New()
	}
	if c.submitTimeout <= 0 {
		c.submitTimeout = aptos.DefaultSubmitTimeout
	}
	if c.maxPriceRetries <= 0 {
		c.maxPriceRetries = DefaultMaxPriceRetries
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	if c.random == nil {
		c.random = rand.Reader
	}
	return c, nil
}

// MintRequest asks for new units of a model token.
type MintRequest struct {
	ModelID   string
	Amount    decimal.Decimal
	Intent    domain.MintIntent
	Recipient string // defaults to the model's custodial account
}

// BurnRequest asks to destroy units held by the model's custodial account.
type BurnRequest struct {
	ModelID     string
	Amount      decimal.Decimal
	UserAddress string // requester, required and recorded
}

// Result is the outcome of a completed mint or burn.
type Result struct {
	OperationID     string
	TransactionHash string
	TokenAddress    string
	Kind            domain.OperationKind
	Amount          decimal.Decimal
	Recipient       string
	NewPrice        float64
	TotalSupply     decimal.Decimal
	PriceImpactPct  float64
	PriceUpdated    bool
	NoPriceImpact   bool
	Clamped         bool
}

// Mint runs the pipeline for a mint. Administrative mints leave the price untouched.
func (c *Coordinator) Mint(ctx context.Context, req MintRequest) (*Result, error) {
	if !req.Intent.IsValid() {
		return nil, c.reject(ctx, &domain.Operation{ID: c.newID(), Kind: domain.OperationMint, ModelID: req.ModelID},
			invalid("mint intent %q must be %q or %q", req.Intent, domain.IntentAdministrative, domain.IntentMarket))
	}
	return c.run(ctx, &domain.Operation{
		ID:        c.newID(),
		Kind:      domain.OperationMint,
		Intent:    req.Intent,
		ModelID:   req.ModelID,
		Amount:    req.Amount,
		Recipient: req.Recipient,
	})
}

// Burn runs the pipeline for a burn. A burn always moves the price.
func (c *Coordinator) Burn(ctx context.Context, req BurnRequest) (*Result, error) {
	return c.run(ctx, &domain.Operation{
		ID:        c.newID(),
		Kind:      domain.OperationBurn,
		ModelID:   req.ModelID,
		Amount:    req.Amount,
		Recipient: req.UserAddress,
	})
}

// run executes the pipeline.
// Phases:
//  1. Validate request, model and signer
//  2. Broadcast and confirm on the ledger
//  3. Measure total supply
//  4. Compute and persist the new price
func (c *Coordinator) run(ctx context.Context, op *domain.Operation) (*Result, error) {
	start := c.now()
	log := c.logger.WithFields(logrus.Fields{
		"operation_id": op.ID,
		"kind":         string(op.Kind),
		"model_id":     op.ModelID,
	})

	// Phase 1: Validate
	model, signer, err := c.validate(ctx, op)
	if err != nil {
		return nil, c.reject(ctx, op, err)
	}
	op.TokenAddress = model.TokenAddress
	c.record(ctx, op, domain.StageValidated, nil)

	unlock, err := c.locks.Lock(ctx, model.TokenAddress)
	if err != nil {
		return nil, c.reject(ctx, op, &UpdateError{Stage: StageValidate, Kind: KindInvalidRequest, Err: fmt.Errorf("wait for token lock: %w", err)})
	}
	defer unlock()

	// Phase 2: Submit and confirm
	log.Debug("phase: submit")
	hash, uerr := c.submit(ctx, op, signer)
	// Once broadcast, the ledger may have moved: bookkeeping outlives the caller.
	ctx = context.WithoutCancel(ctx)
	if uerr != nil {
		return nil, c.fail(ctx, op, start, uerr)
	}

	result := &Result{
		OperationID:     op.ID,
		TransactionHash: hash,
		TokenAddress:    op.TokenAddress,
		Kind:            op.Kind,
		Amount:          op.Amount,
		Recipient:       op.Recipient,
		NewPrice:        model.QuotedPrice,
	}
	if op.Kind == domain.OperationMint && result.Recipient == "" {
		result.Recipient = signer.Address()
	}

	if !op.MovesPrice() {
		log.WithField("tx_hash", hash).Info("administrative mint, price unchanged")
		c.record(ctx, op, domain.StageCompleted, &domain.UpdateEvent{
			TransactionHash: hash,
			Price:           &result.NewPrice,
			Detail:          "administrative mint",
		})
		observability.RecordOperation(string(op.Kind), string(op.Intent), "ok", c.now().Sub(start).Seconds())
		return result, nil
	}

	// Phase 3: Measure supply
	log.Debug("phase: measure supply")
	measured, uerr := c.measure(ctx, op, hash)
	if uerr != nil {
		return nil, c.fail(ctx, op, start, uerr)
	}
	result.TotalSupply = measured

	// Phase 4: Compute and persist price
	log.Debug("phase: persist price")
	quote, updated, uerr := c.persistPrice(ctx, op, hash, measured)
	if uerr != nil {
		return nil, c.fail(ctx, op, start, uerr)
	}

	result.NewPrice = quote.NewPrice
	result.PriceImpactPct = quote.ImpactPct
	result.NoPriceImpact = quote.NoPriceImpact
	result.Clamped = quote.Clamped
	result.PriceUpdated = true

	c.recordTick(ctx, op, hash, quote, measured, updated.UpdatedAt)
	supplyF := measured.InexactFloat64()
	observability.RecordPrice(op.ModelID, quote.NewPrice, supplyF, c.now().Unix())
	c.record(ctx, op, domain.StageCompleted, &domain.UpdateEvent{
		TransactionHash: hash,
		Price:           &result.NewPrice,
		TotalSupply:     &supplyF,
		ImpactPct:       &result.PriceImpactPct,
	})
	observability.RecordOperation(string(op.Kind), string(op.Intent), "ok", c.now().Sub(start).Seconds())

	log.WithFields(logrus.Fields{
		"tx_hash":    hash,
		"old_price":  quote.OldPrice,
		"new_price":  quote.NewPrice,
		"impact_pct": quote.ImpactPct,
	}).Info("supply update completed")

	return result, nil
}

// validate checks the request, loads the model and resolves its signer.
func (c *Coordinator) validate(ctx context.Context, op *domain.Operation) (*domain.Model, aptos.Signer, error) {
	if op.ModelID == "" {
		return nil, nil, invalid("model id is required")
	}
	if !op.Amount.IsPositive() {
		return nil, nil, invalid("amount %s must be positive", op.Amount)
	}
	if _, err := ledger.ToRawUnits(op.Amount); err != nil {
		return nil, nil, invalid("amount %s: %w", op.Amount, err)
	}
	if op.Kind == domain.OperationBurn && op.Recipient == "" {
		return nil, nil, invalid("user address is required")
	}
	if op.Recipient != "" {
		addr, err := aptos.NormalizeAddress(op.Recipient)
		if err != nil {
			return nil, nil, invalid("recipient: %w", err)
		}
		op.Recipient = addr
	}

	model, err := c.models.GetByID(ctx, op.ModelID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, invalid("model %s: %w", op.ModelID, err)
		}
		return nil, nil, &UpdateError{Stage: StageValidate, Kind: KindPersistence, Err: fmt.Errorf("load model %s: %w", op.ModelID, err)}
	}
	if !model.HasToken() {
		return nil, nil, invalid("model %s has no token address", op.ModelID)
	}

	signer, err := c.custody.Signer(ctx, model.CustodialKeyRef)
	if err != nil {
		return nil, nil, invalid("resolve custodial signer for model %s: %w", op.ModelID, err)
	}
	if model.CustodialAddress != "" && signer.Address() != model.CustodialAddress {
		return nil, nil, invalid("custodial key resolves to %s, model account is %s", signer.Address(), model.CustodialAddress)
	}
	return model, signer, nil
}

// submit broadcasts and confirms within the submit deadline.
func (c *Coordinator) submit(ctx context.Context, op *domain.Operation, signer aptos.Signer) (string, *UpdateError) {
	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	hash, err := c.ledger.Submit(ctx, op, signer, func(hash string) {
		c.record(context.WithoutCancel(ctx), op, domain.StageSubmitted, &domain.UpdateEvent{TransactionHash: hash})
	})
	if err != nil {
		if hash == "" {
			return "", &UpdateError{Stage: StageLedger, Kind: KindSubmission, TransactionHash: ledger.TxHash(err), Err: err}
		}
		kind := KindSubmission
		var execErr *ledger.ExecutionFailure
		if errors.As(err, &execErr) {
			kind = KindExecution
		}
		return "", &UpdateError{Stage: StageLedger, Kind: kind, TransactionHash: hash, Err: err}
	}
	c.record(context.WithoutCancel(ctx), op, domain.StageConfirmed, &domain.UpdateEvent{TransactionHash: hash})
	return hash, nil
}

// measure reads the post-operation total supply.
func (c *Coordinator) measure(ctx context.Context, op *domain.Operation, hash string) (decimal.Decimal, *UpdateError) {
	q, err := c.ledger.QuerySupply(ctx, op.TokenAddress)
	if err != nil {
		return decimal.Zero, &UpdateError{Stage: StageSupplyRead, Kind: KindSupplyUnavailable, TransactionHash: hash, Err: err}
	}

	total, err := supply.TotalSupply(q)
	if err != nil {
		return decimal.Zero, &UpdateError{Stage: StageSupplyRead, Kind: KindDataIntegrity, TransactionHash: hash, Err: err}
	}

	supplyF := total.InexactFloat64()
	c.record(ctx, op, domain.StageSupplyMeasured, &domain.UpdateEvent{
		TransactionHash: hash,
		TotalSupply:     &supplyF,
		Detail:          fmt.Sprintf("%d holders", len(q.Entries)),
	})
	return total, nil
}

// persistPrice computes the new price from the stored one and writes it with
// a version check, re-reading on conflict.
func (c *Coordinator) persistPrice(ctx context.Context, op *domain.Operation, hash string, measured decimal.Decimal) (pricing.Quote, *domain.Model, *UpdateError) {
	baseline := pricing.Baseline(op.Kind, measured, op.Amount)

	var lastErr error
	for attempt := 0; attempt <= c.maxPriceRetries; attempt++ {
		model, err := c.models.GetByID(ctx, op.ModelID)
		if err != nil {
			return pricing.Quote{}, nil, &UpdateError{Stage: StagePersist, Kind: KindPersistence, TransactionHash: hash, Err: fmt.Errorf("reload model: %w", err)}
		}

		quote, err := pricing.NextPrice(model.QuotedPrice, op.Amount, op.Kind, baseline)
		if err != nil {
			return pricing.Quote{}, nil, &UpdateError{Stage: StagePersist, Kind: KindDataIntegrity, TransactionHash: hash, Err: err}
		}
		if attempt == 0 {
			c.record(ctx, op, domain.StagePriceComputed, &domain.UpdateEvent{
				TransactionHash: hash,
				Price:           &quote.NewPrice,
				ImpactPct:       &quote.ImpactPct,
				Detail:          quoteDetail(quote),
			})
		}

		updated, err := c.models.UpdatePrice(ctx, model.ID, model.Version, quote.NewPrice, c.now().UnixMilli())
		if err == nil {
			c.record(ctx, op, domain.StagePersisted, &domain.UpdateEvent{TransactionHash: hash, Price: &quote.NewPrice})
			return quote, updated, nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return pricing.Quote{}, nil, &UpdateError{Stage: StagePersist, Kind: KindPersistence, TransactionHash: hash, Err: fmt.Errorf("write price: %w", err)}
		}

		lastErr = err
		observability.RecordPriceConflict()
		c.logger.WithFields(logrus.Fields{
			"operation_id": op.ID,
			"model_id":     op.ModelID,
			"attempt":      attempt + 1,
		}).Warn("price version conflict, re-reading model")
	}

	return pricing.Quote{}, nil, &UpdateError{
		Stage:           StagePersist,
		Kind:            KindPersistence,
		TransactionHash: hash,
		Err:             fmt.Errorf("write price after %d attempts: %w", c.maxPriceRetries+1, lastErr),
	}
}

func quoteDetail(q pricing.Quote) string {
	switch {
	case q.NoPriceImpact:
		return "no price impact: baseline supply " + q.Baseline.String()
	case q.Clamped:
		return "price clamped at zero"
	}
	return ""
}

// recordTick appends the price change to the history store. Failures are
// logged only: the price is already persisted.
func (c *Coordinator) recordTick(ctx context.Context, op *domain.Operation, hash string, q pricing.Quote, measured decimal.Decimal, ts int64) {
	if c.history == nil {
		return
	}
	tick := &domain.PriceTick{
		ModelID:         op.ModelID,
		TokenAddress:    op.TokenAddress,
		TransactionHash: hash,
		Kind:            op.Kind,
		Amount:          op.Amount.InexactFloat64(),
		SupplyBaseline:  q.Baseline.InexactFloat64(),
		TotalSupply:     measured.InexactFloat64(),
		OldPrice:        q.OldPrice,
		NewPrice:        q.NewPrice,
		ImpactPct:       q.ImpactPct,
		TimestampMs:     ts,
	}
	if err := c.history.Insert(ctx, tick); err != nil {
		c.logger.WithError(err).WithField("operation_id", op.ID).Warn("record price tick failed")
	}
}

// record journals a transition. Journal failures never abort the pipeline.
func (c *Coordinator) record(ctx context.Context, op *domain.Operation, stage domain.Stage, e *domain.UpdateEvent) {
	if e == nil {
		e = &domain.UpdateEvent{}
	}
	e.OperationID = op.ID
	e.ModelID = op.ModelID
	e.TokenAddress = op.TokenAddress
	e.Kind = op.Kind
	e.Stage = stage
	if e.Status == "" {
		e.Status = domain.EventStatusOK
	}
	if err := c.journal.Record(ctx, e); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"operation_id": op.ID,
			"stage":        string(stage),
		}).Warn("journal transition failed")
	}
}

// reject reports a validation failure. Nothing has reached the ledger.
func (c *Coordinator) reject(ctx context.Context, op *domain.Operation, err error) error {
	ue, ok := AsUpdateError(err)
	if !ok {
		ue = &UpdateError{Stage: StageValidate, Kind: KindInvalidRequest, Err: err}
	}
	ue.OperationID = op.ID
	c.record(ctx, op, domain.StageFailed, &domain.UpdateEvent{
		Status:      domain.EventStatusFailed,
		FailedStage: ue.Stage,
		Detail:      ue.Err.Error(),
	})
	observability.RecordStageFailure(ue.Stage, string(ue.Kind))
	observability.RecordOperation(opLabel(op), string(op.Intent), "rejected", 0)
	return ue
}

// fail reports a failure after validation passed.
func (c *Coordinator) fail(ctx context.Context, op *domain.Operation, start time.Time, ue *UpdateError) error {
	ue.OperationID = op.ID
	ue.PriceUpdated = false
	c.record(ctx, op, domain.StageFailed, &domain.UpdateEvent{
		Status:          domain.EventStatusFailed,
		FailedStage:     ue.Stage,
		TransactionHash: ue.TransactionHash,
		Detail:          ue.Err.Error(),
	})
	observability.RecordStageFailure(ue.Stage, string(ue.Kind))
	observability.RecordOperation(opLabel(op), string(op.Intent), "failed", c.now().Sub(start).Seconds())

	c.logger.WithError(ue.Err).WithFields(logrus.Fields{
		"operation_id": op.ID,
		"model_id":     op.ModelID,
		"stage":        ue.Stage,
		"kind":         string(ue.Kind),
		"tx_hash":      ue.TransactionHash,
	}).Error("supply update failed")
	return ue
}

// opLabel names the operation for metrics. Onboarding operations carry no kind.
func opLabel(op *domain.Operation) string {
	if op.Kind == "" {
		return "create_token"
	}
	return string(op.Kind)
}
