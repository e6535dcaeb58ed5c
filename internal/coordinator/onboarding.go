package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"model-token-engine/internal/aptos"
	"model-token-engine/internal/domain"
	"model-token-engine/internal/ledger"
	"model-token-engine/internal/storage"
)

// CreateTokenRequest registers a model and creates its token on the ledger.
type CreateTokenRequest struct {
	ModelID      string // generated when empty
	Name         string
	Type         domain.ModelType
	Description  string
	OwnerID      string
	TokenName    string
	TokenSymbol  string
	IconURI      string
	ProjectURI   string
	KeyRef       string  // custodial key reference; the account signs and owns the token
	InitialPrice float64 // APT per token
}

// TokenResult is the outcome of CreateToken.
type TokenResult struct {
	OperationID     string
	TransactionHash string
	Model           *domain.Model
}

// Wallet is a newly generated custodial account.
type Wallet struct {
	Address   string
	PublicKey string
	KeyRef    string
}

// CreateToken creates a fungible asset for a new model and stores the model
// record with its initial quoted price.
func (c *Coordinator) CreateToken(ctx context.Context, req CreateTokenRequest) (*TokenResult, error) {
	op := &domain.Operation{ID: c.newID(), ModelID: req.ModelID}
	if op.ModelID == "" {
		op.ModelID = c.newID()
	}

	if err := validateCreateToken(req); err != nil {
		return nil, c.reject(ctx, op, err)
	}
	if _, err := c.models.GetByID(ctx, op.ModelID); err == nil {
		return nil, c.reject(ctx, op, invalid("model %s: %w", op.ModelID, storage.ErrDuplicateKey))
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, c.reject(ctx, op, &UpdateError{Stage: StageValidate, Kind: KindPersistence, Err: fmt.Errorf("load model %s: %w", op.ModelID, err)})
	}

	signer, err := c.custody.Signer(ctx, req.KeyRef)
	if err != nil {
		return nil, c.reject(ctx, op, invalid("resolve custodial signer: %w", err))
	}
	c.record(ctx, op, domain.StageValidated, nil)

	start := c.now()
	created, err := c.ledger.CreateToken(ctx, ledger.CreateTokenRequest{
		Name:       req.TokenName,
		Symbol:     req.TokenSymbol,
		IconURI:    req.IconURI,
		ProjectURI: req.ProjectURI,
	}, signer)
	if err != nil {
		kind := KindSubmission
		var execErr *ledger.ExecutionFailure
		if errors.As(err, &execErr) {
			kind = KindExecution
		}
		return nil, c.fail(ctx, op, start, &UpdateError{Stage: StageLedger, Kind: kind, TransactionHash: ledger.TxHash(err), Err: err})
	}
	op.TokenAddress = created.TokenAddress
	c.record(ctx, op, domain.StageConfirmed, &domain.UpdateEvent{TransactionHash: created.TransactionHash})

	now := c.now().UnixMilli()
	model := &domain.Model{
		ID:               op.ModelID,
		Name:             strings.TrimSpace(req.Name),
		Type:             req.Type,
		Description:      req.Description,
		OwnerID:          req.OwnerID,
		TokenName:        req.TokenName,
		TokenSymbol:      req.TokenSymbol,
		TokenAddress:     created.TokenAddress,
		CustodialAddress: signer.Address(),
		CustodialKeyRef:  req.KeyRef,
		QuotedPrice:      req.InitialPrice,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := c.models.Insert(ctx, model); err != nil {
		return nil, c.fail(ctx, op, start, &UpdateError{
			Stage:           StagePersist,
			Kind:            KindPersistence,
			TransactionHash: created.TransactionHash,
			Err:             fmt.Errorf("insert model %s: %w", model.ID, err),
		})
	}

	price := model.QuotedPrice
	c.record(ctx, op, domain.StagePersisted, &domain.UpdateEvent{TransactionHash: created.TransactionHash, Price: &price})
	c.record(ctx, op, domain.StageCompleted, &domain.UpdateEvent{TransactionHash: created.TransactionHash})

	c.logger.WithFields(logrus.Fields{
		"model_id": model.ID,
		"token":    model.TokenAddress,
		"tx_hash":  created.TransactionHash,
	}).Info("model token created")

	return &TokenResult{OperationID: op.ID, TransactionHash: created.TransactionHash, Model: model}, nil
}

func validateCreateToken(req CreateTokenRequest) error {
	switch {
	case strings.TrimSpace(req.Name) == "":
		return invalid("model name is required")
	case !req.Type.IsValid():
		return invalid("model type %q is not one of text, image, audio, video", req.Type)
	case strings.TrimSpace(req.TokenName) == "":
		return invalid("token name is required")
	case strings.TrimSpace(req.TokenSymbol) == "":
		return invalid("token symbol is required")
	case strings.TrimSpace(req.KeyRef) == "":
		return invalid("signing key reference is required")
	case req.InitialPrice < 0:
		return invalid("initial price %v must not be negative", req.InitialPrice)
	}
	return nil
}

// InitWallet generates a custodial account and stores its key through the
// custody provider. Only the reference is returned.
func (c *Coordinator) InitWallet(ctx context.Context) (*Wallet, error) {
	account, err := aptos.GenerateAccount(c.random)
	if err != nil {
		return nil, fmt.Errorf("init wallet: %w", err)
	}

	ref, err := c.custody.Store(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("init wallet: store key: %w", err)
	}

	c.logger.WithField("address", account.Address()).Info("custodial wallet created")
	return &Wallet{
		Address:   account.Address(),
		PublicKey: account.PublicKeyHex(),
		KeyRef:    ref,
	}, nil
}
