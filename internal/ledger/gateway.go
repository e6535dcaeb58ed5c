// Package ledger submits mint, burn and token creation transactions to the
// Aptos launchpad contract and reads back token supply from the indexer.
package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"model-token-engine/internal/aptos"
	"model-token-engine/internal/domain"
	"model-token-engine/internal/observability"
)

const signatureTypeEd25519 = "ed25519_signature"

// Default supply query backoff.
const (
	DefaultSupplyRetryDelay = 250 * time.Millisecond
	DefaultSupplyMaxDelay   = 2 * time.Second
)

// CreateTokenRequest describes a new fungible asset.
type CreateTokenRequest struct {
	Name       string
	Symbol     string
	IconURI    string
	ProjectURI string
}

// TokenCreation is the result of a confirmed create_fa_simple call.
type TokenCreation struct {
	TransactionHash string
	TokenAddress    string
	CreatorAddress  string
}

// Gateway wraps the ledger node and indexer.
type Gateway struct {
	cfg     aptos.Config
	node    aptos.Node
	indexer aptos.Indexer
	logger  logrus.FieldLogger

	retryDelay time.Duration
	maxDelay   time.Duration
	now        func() time.Time
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithSupplyBackoff sets the supply query backoff bounds.
func WithSupplyBackoff(initial, max time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.retryDelay = initial
		g.maxDelay = max
	}
}

// WithClock overrides the wall clock used for expiration when the node
// does not report a ledger timestamp.
func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		g.now = now
	}
}

// NewGateway creates a gateway. Zero config fields take their defaults.
func NewGateway(cfg aptos.Config, node aptos.Node, indexer aptos.Indexer, logger logrus.FieldLogger, opts ...GatewayOption) (*Gateway, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if node == nil || indexer == nil {
		return nil, errors.New("ledger node and indexer are required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	g := &Gateway{
		cfg:        cfg,
		node:       node,
		indexer:    indexer,
		logger:     logger.WithField("component", "ledger"),
		retryDelay: DefaultSupplyRetryDelay,
		maxDelay:   DefaultSupplyMaxDelay,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Payload builds the entry function call for a mint or burn.
// A mint without recipient goes to the signer's own account.
func (g *Gateway) Payload(op *domain.Operation, signer aptos.Signer) (aptos.EntryFunctionPayload, error) {
	raw, err := ToRawUnits(op.Amount)
	if err != nil {
		return aptos.EntryFunctionPayload{}, err
	}
	amount := strconv.FormatUint(raw, 10)

	switch op.Kind {
	case domain.OperationMint:
		to := op.Recipient
		if to == "" {
			to = signer.Address()
		}
		return aptos.NewEntryFunctionPayload(g.cfg.EntryFunction(aptos.FunctionMintToAddress),
			to, op.TokenAddress, amount), nil
	case domain.OperationBurn:
		return aptos.NewEntryFunctionPayload(g.cfg.EntryFunction(aptos.FunctionBurnFA),
			op.TokenAddress, amount), nil
	default:
		return aptos.EntryFunctionPayload{}, fmt.Errorf("unsupported operation kind %q", op.Kind)
	}
}

// Submit broadcasts a mint or burn and waits for the ledger verdict,
// bounded by the configured submit timeout. onBroadcast, when set, runs once
// the node accepted the transaction. A confirmation failure still returns the hash.
func (g *Gateway) Submit(ctx context.Context, op *domain.Operation, signer aptos.Signer, onBroadcast func(hash string)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.SubmitTimeout)
	defer cancel()

	hash, err := g.Broadcast(ctx, op, signer)
	if err != nil {
		return "", err
	}
	if onBroadcast != nil {
		onBroadcast(hash)
	}
	if _, err := g.Confirm(ctx, hash); err != nil {
		return hash, err
	}
	return hash, nil
}

// Broadcast signs and submits a mint or burn, returning the pending hash.
func (g *Gateway) Broadcast(ctx context.Context, op *domain.Operation, signer aptos.Signer) (string, error) {
	payload, err := g.Payload(op, signer)
	if err != nil {
		return "", &SubmissionError{Step: "build", Err: err}
	}
	return g.broadcast(ctx, payload, signer)
}

// Confirm polls the node until the transaction commits or ctx ends.
// Returns *ExecutionFailure when the ledger rejected it and a
// *SubmissionError wrapping ErrConfirmTimeout when no verdict arrived.
func (g *Gateway) Confirm(ctx context.Context, hash string) (*aptos.Transaction, error) {
	start := time.Now()
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		tx, err := g.node.TransactionByHash(ctx, hash)
		switch {
		case err != nil:
			lastErr = err
			g.logger.WithError(err).WithField("tx_hash", hash).Debug("transaction lookup failed, polling again")
		case tx.Committed():
			observability.RecordLedgerCall("confirm", time.Since(start).Seconds(), nil)
			if !tx.Success {
				return tx, &ExecutionFailure{Hash: hash, Version: tx.Version, VMStatus: tx.VMStatus}
			}
			return tx, nil
		}

		select {
		case <-ctx.Done():
			cause := fmt.Errorf("%w: %w", ErrConfirmTimeout, ctx.Err())
			if lastErr != nil {
				cause = fmt.Errorf("%w (last lookup error: %v)", cause, lastErr)
			}
			observability.RecordLedgerCall("confirm", time.Since(start).Seconds(), cause)
			return nil, &SubmissionError{Step: "confirm", Hash: hash, Err: cause}
		case <-ticker.C:
		}
	}
}

// CreateToken creates a fungible asset through create_fa_simple and returns
// its address, read from the creation event.
func (g *Gateway) CreateToken(ctx context.Context, req CreateTokenRequest, signer aptos.Signer) (*TokenCreation, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.SubmitTimeout)
	defer cancel()

	payload := aptos.NewEntryFunctionPayload(g.cfg.EntryFunction(aptos.FunctionCreateFASimple),
		req.Name, req.Symbol, req.IconURI, req.ProjectURI)

	hash, err := g.broadcast(ctx, payload, signer)
	if err != nil {
		return nil, err
	}
	tx, err := g.Confirm(ctx, hash)
	if err != nil {
		return nil, err
	}

	token, err := tokenAddressFromEvents(tx.Events)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", hash, err)
	}
	return &TokenCreation{
		TransactionHash: hash,
		TokenAddress:    token,
		CreatorAddress:  signer.Address(),
	}, nil
}

// QuerySupply reads all holder balances of a token. Transient failures are
// retried with capped exponential backoff, bounded by the supply timeout.
// Permanent failures (4xx, GraphQL errors) return at once.
func (g *Gateway) QuerySupply(ctx context.Context, tokenAddress string) (domain.SupplyQuery, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.SupplyTimeout)
	defer cancel()

	delay := g.retryDelay
	var lastErr error

	for attempt := 0; attempt <= g.cfg.SupplyRetries; attempt++ {
		if attempt > 0 {
			observability.RecordSupplyRetry()
			g.logger.WithError(lastErr).WithFields(logrus.Fields{
				"token":   tokenAddress,
				"attempt": attempt,
			}).Warn("supply query failed, retrying")

			select {
			case <-ctx.Done():
				return domain.SupplyQuery{}, fmt.Errorf("query supply: %w (last error: %v)", ctx.Err(), lastErr)
			case <-time.After(delay):
			}
			delay *= 2
			if delay > g.maxDelay {
				delay = g.maxDelay
			}
		}

		start := time.Now()
		rows, err := g.indexer.FungibleAssetBalances(ctx, tokenAddress)
		observability.RecordLedgerCall("query_supply", time.Since(start).Seconds(), err)
		if err == nil {
			q := domain.SupplyQuery{
				TokenAddress: tokenAddress,
				ObservedAt:   time.Now().UnixMilli(),
				Entries:      make([]domain.BalanceEntry, 0, len(rows)),
			}
			for _, r := range rows {
				q.Entries = append(q.Entries, domain.BalanceEntry{Owner: r.OwnerAddress, RawAmount: r.Amount})
			}
			return q, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if !aptos.IsRetryable(err) {
			return domain.SupplyQuery{}, fmt.Errorf("query supply: %w", err)
		}
	}

	return domain.SupplyQuery{}, fmt.Errorf("query supply after %d attempts: %w", g.cfg.SupplyRetries+1, lastErr)
}

// broadcast builds, encodes, signs and submits a payload.
func (g *Gateway) broadcast(ctx context.Context, payload aptos.EntryFunctionPayload, signer aptos.Signer) (string, error) {
	start := time.Now()
	hash, err := g.doBroadcast(ctx, payload, signer)
	observability.RecordLedgerCall("submit", time.Since(start).Seconds(), err)
	if err != nil {
		return "", err
	}

	g.logger.WithFields(logrus.Fields{
		"function": payload.Function,
		"sender":   signer.Address(),
		"tx_hash":  hash,
	}).Info("transaction submitted")
	return hash, nil
}

func (g *Gateway) doBroadcast(ctx context.Context, payload aptos.EntryFunctionPayload, signer aptos.Signer) (string, error) {
	sender := signer.Address()

	acc, err := g.node.Account(ctx, sender)
	if err != nil {
		return "", &SubmissionError{Step: "account", Err: fmt.Errorf("load account %s: %w", sender, err)}
	}

	expiration, err := g.expiration(ctx)
	if err != nil {
		return "", &SubmissionError{Step: "build", Err: err}
	}

	req := &aptos.TransactionRequest{
		Sender:                  sender,
		SequenceNumber:          strconv.FormatUint(acc.SequenceNumber, 10),
		MaxGasAmount:            strconv.FormatUint(g.cfg.MaxGasAmount, 10),
		GasUnitPrice:            strconv.FormatUint(g.cfg.GasUnitPrice, 10),
		ExpirationTimestampSecs: strconv.FormatInt(expiration, 10),
		Payload:                 payload,
	}

	msg, err := g.node.EncodeSubmission(ctx, req)
	if err != nil {
		return "", &SubmissionError{Step: "encode", Err: err}
	}

	sig, err := signer.Sign(msg)
	if err != nil {
		return "", &SubmissionError{Step: "sign", Err: err}
	}

	pending, err := g.node.SubmitTransaction(ctx, &aptos.SignedTransaction{
		TransactionRequest: *req,
		Signature: aptos.Signature{
			Type:      signatureTypeEd25519,
			PublicKey: signer.PublicKeyHex(),
			Signature: "0x" + hex.EncodeToString(sig),
		},
	})
	if err != nil {
		return "", &SubmissionError{Step: "submit", Err: err}
	}
	return pending.Hash, nil
}

// expiration returns the expiration timestamp in seconds, anchored on the
// ledger clock when available.
func (g *Gateway) expiration(ctx context.Context) (int64, error) {
	info, err := g.node.LedgerInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger info: %w", err)
	}
	base := g.now().Unix()
	if info.LedgerTimestamp > 0 {
		base = int64(info.LedgerTimestamp / 1_000_000)
	}
	return base + int64(g.cfg.ExpirationWindow/time.Second), nil
}

// tokenAddressFromEvents reads data.fa_obj.inner from the first event carrying it.
func tokenAddressFromEvents(events []aptos.Event) (string, error) {
	for _, e := range events {
		var data struct {
			FAObj struct {
				Inner string `json:"inner"`
			} `json:"fa_obj"`
		}
		if err := json.Unmarshal(e.Data, &data); err != nil {
			continue
		}
		if data.FAObj.Inner != "" {
			return data.FAObj.Inner, nil
		}
	}
	return "", ErrMissingTokenEvent
}
