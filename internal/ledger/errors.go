package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrConfirmTimeout is wrapped when the deadline passes before the ledger reports a verdict.
	ErrConfirmTimeout = errors.New("confirmation timed out")

	// ErrInvalidAmount is returned when an amount cannot be expressed in raw units.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrMissingTokenEvent is returned when a token creation commits without the creation event.
	ErrMissingTokenEvent = errors.New("token creation event not found")
)

// SubmissionError is a failure to build, sign, broadcast or confirm a transaction.
// No confirmed ledger effect is known. Hash is set once the node accepted the
// transaction, in which case the effect may still land later.
type SubmissionError struct {
	Step string // account, encode, sign, submit, confirm
	Hash string
	Err  error
}

func (e *SubmissionError) Error() string {
	if e.Hash != "" {
		return fmt.Sprintf("submission failed at %s (tx %s): %v", e.Step, e.Hash, e.Err)
	}
	return fmt.Sprintf("submission failed at %s: %v", e.Step, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// ExecutionFailure is a transaction the ledger committed but marked unsuccessful.
type ExecutionFailure struct {
	Hash     string
	Version  uint64
	VMStatus string
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("transaction %s failed on ledger: %s", e.Hash, e.VMStatus)
}

// TxHash extracts the transaction hash carried by a gateway error, if any.
func TxHash(err error) string {
	var subErr *SubmissionError
	if errors.As(err, &subErr) {
		return subErr.Hash
	}
	var execErr *ExecutionFailure
	if errors.As(err, &execErr) {
		return execErr.Hash
	}
	return ""
}
