package aptos

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/sha3"
)

// ed25519Scheme is the authentication key scheme byte for single Ed25519 keys.
const ed25519Scheme = 0x00

// aip80Prefix is the AIP-80 private key prefix.
const aip80Prefix = "ed25519-priv-"

var (
	// ErrInvalidAddress is returned for malformed account addresses.
	ErrInvalidAddress = errors.New("invalid account address")

	// ErrInvalidKey is returned for malformed or unusable key material.
	ErrInvalidKey = errors.New("invalid ed25519 key")
)

// Signer signs transactions on behalf of one account.
// Price and supply logic only ever see this capability, never key bytes.
type Signer interface {
	// Address returns the account address the signer authorizes.
	Address() string

	// PublicKeyHex returns the 0x-prefixed public key.
	PublicKeyHex() string

	// Sign signs a signing message produced by the node.
	Sign(message []byte) ([]byte, error)
}

// Ed25519Signer is a Signer backed by an in-memory Ed25519 key.
type Ed25519Signer struct {
	priv    ed25519.PrivateKey
	address string
}

// Compile-time interface check.
var _ Signer = (*Ed25519Signer)(nil)

// NewEd25519Signer wraps a private key after checking its public half is a
// valid curve point.
func NewEd25519Signer(priv ed25519.PrivateKey) (*Ed25519Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key length %d", ErrInvalidKey, len(priv))
	}
	pub := priv.Public().(ed25519.PublicKey)
	if err := ValidatePublicKey(pub); err != nil {
		return nil, err
	}
	return &Ed25519Signer{priv: priv, address: DeriveAddress(pub)}, nil
}

// ParsePrivateKey accepts a 32-byte seed or 64-byte key as hex, with optional
// 0x and AIP-80 prefixes.
func ParsePrivateKey(s string) (*Ed25519Signer, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, aip80Prefix)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")

	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	switch len(b) {
	case ed25519.SeedSize:
		return NewEd25519Signer(ed25519.NewKeyFromSeed(b))
	case ed25519.PrivateKeySize:
		// The trailing half must match the key derived from the seed.
		derived := ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])
		if !derived.Equal(ed25519.PrivateKey(b)) {
			return nil, fmt.Errorf("%w: public half does not match seed", ErrInvalidKey)
		}
		return NewEd25519Signer(derived)
	default:
		return nil, fmt.Errorf("%w: unexpected key length %d", ErrInvalidKey, len(b))
	}
}

// GenerateAccount creates a fresh Ed25519 account from the given entropy source.
func GenerateAccount(random io.Reader) (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(random)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return NewEd25519Signer(priv)
}

// Address returns the account address the signer authorizes.
func (s *Ed25519Signer) Address() string {
	return s.address
}

// PublicKeyHex returns the 0x-prefixed public key.
func (s *Ed25519Signer) PublicKeyHex() string {
	return "0x" + hex.EncodeToString(s.priv.Public().(ed25519.PublicKey))
}

// Sign signs a signing message produced by the node.
func (s *Ed25519Signer) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, message), nil
}

// SeedHex exports the 32-byte seed. Only custody providers persisting a newly
// generated account call this.
func (s *Ed25519Signer) SeedHex() string {
	return "0x" + hex.EncodeToString(s.priv.Seed())
}

// ValidatePublicKey checks that the key decodes to a point on the curve.
func ValidatePublicKey(pub ed25519.PublicKey) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: public key length %d", ErrInvalidKey, len(pub))
	}
	if _, err := new(edwards25519.Point).SetBytes(pub); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}

// DeriveAddress computes the account address of a single Ed25519 key:
// sha3-256(public_key | 0x00).
func DeriveAddress(pub ed25519.PublicKey) string {
	buf := make([]byte, 0, len(pub)+1)
	buf = append(buf, pub...)
	buf = append(buf, ed25519Scheme)
	sum := sha3.Sum256(buf)
	return "0x" + hex.EncodeToString(sum[:])
}

// NormalizeAddress lowercases an address and ensures the 0x prefix.
// Short forms such as 0x1 are accepted as-is.
func NormalizeAddress(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	if s == "" || len(s) > 64 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
	}
	return "0x" + s, nil
}
