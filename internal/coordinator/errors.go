package coordinator

import (
	"errors"
	"fmt"
)

// Kind classifies a failed supply update.
type Kind string

const (
	KindInvalidRequest    Kind = "InvalidRequest"
	KindSubmission        Kind = "Submission"
	KindExecution         Kind = "Execution"
	KindDataIntegrity     Kind = "DataIntegrity"
	KindSupplyUnavailable Kind = "SupplyUnavailable"
	KindPersistence       Kind = "Persistence"
)

// Failed stage names carried by UpdateError and failed transition events.
const (
	StageValidate   = "validate"
	StageLedger     = "ledger"
	StageSupplyRead = "supply-read"
	StagePersist    = "persist"
)

// UpdateError reports where a pipeline stopped. TransactionHash is set once
// the ledger accepted the transaction, so a caller can tell that the ledger
// moved even though the price did not.
type UpdateError struct {
	OperationID     string
	Stage           string
	Kind            Kind
	TransactionHash string
	PriceUpdated    bool
	Err             error
}

func (e *UpdateError) Error() string {
	if e.TransactionHash != "" {
		return fmt.Sprintf("%s failed at %s (tx %s): %v", e.Kind, e.Stage, e.TransactionHash, e.Err)
	}
	return fmt.Sprintf("%s failed at %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}

// AsUpdateError extracts an *UpdateError from err.
func AsUpdateError(err error) (*UpdateError, bool) {
	var ue *UpdateError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

func invalid(format string, args ...interface{}) *UpdateError {
	return &UpdateError{Stage: StageValidate, Kind: KindInvalidRequest, Err: fmt.Errorf(format, args...)}
}
