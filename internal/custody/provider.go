// Package custody resolves custodial key references into transaction signers.
// Key material never leaves this package except through aptos.Signer.
package custody

import (
	"context"
	"errors"

	"model-token-engine/internal/aptos"
)

var (
	// ErrKeyNotFound is returned when a reference resolves to no key.
	ErrKeyNotFound = errors.New("custodial key not found")

	// ErrEmptyRef is returned for a blank key reference.
	ErrEmptyRef = errors.New("empty key reference")
)

// Provider stores and resolves custodial keys.
type Provider interface {
	// Signer resolves a key reference into a signer.
	Signer(ctx context.Context, ref string) (aptos.Signer, error)

	// Store persists a newly generated account key and returns its reference.
	Store(ctx context.Context, account *aptos.Ed25519Signer) (string, error)
}
