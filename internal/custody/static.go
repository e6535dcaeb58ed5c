package custody

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"model-token-engine/internal/aptos"
)

// staticRefPrefix marks references issued by StaticProvider.Store.
const staticRefPrefix = "static:"

// StaticProvider keeps keys in process memory, keyed by reference.
// Suited to tests and single-operator deployments configured from env.
type StaticProvider struct {
	mu   sync.RWMutex
	keys map[string]string
}

// Compile-time interface check.
var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates a provider seeded with ref -> private key hex.
func NewStaticProvider(keys map[string]string) *StaticProvider {
	p := &StaticProvider{keys: make(map[string]string, len(keys))}
	for ref, key := range keys {
		p.keys[strings.TrimSpace(ref)] = key
	}
	return p
}

// Signer parses the key stored under ref.
func (p *StaticProvider) Signer(_ context.Context, ref string) (aptos.Signer, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrEmptyRef
	}

	p.mu.RLock()
	key, ok := p.keys[ref]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, ref)
	}

	signer, err := aptos.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", ref, err)
	}
	return signer, nil
}

// Store keeps the account seed under static:<address>.
func (p *StaticProvider) Store(_ context.Context, account *aptos.Ed25519Signer) (string, error) {
	if account == nil {
		return "", fmt.Errorf("store key: nil account")
	}
	ref := staticRefPrefix + account.Address()

	p.mu.Lock()
	p.keys[ref] = account.SeedHex()
	p.mu.Unlock()

	return ref, nil
}
