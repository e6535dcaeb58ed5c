package stub

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"model-token-engine/internal/aptos"
)

// ErrBadSignature is returned by SubmitTransaction when the signature does not verify.
var ErrBadSignature = errors.New("signature verification failed")

// Ledger is an in-memory Aptos node and indexer for tests.
// Mint, burn and create calls against the launchpad module change balances.
type Ledger struct {
	mu sync.Mutex

	ChainID  uint8
	accounts map[string]*aptos.AccountInfo
	balances map[string]map[string]*big.Int // token -> owner -> raw amount
	txs      map[string]*aptos.Transaction
	lookups  map[string]int

	// PendingLookups is how many by-hash lookups report pending before commit.
	PendingLookups int

	// SubmitErr, when set, is returned by SubmitTransaction.
	SubmitErr error

	// AbortFunctions maps an entry function name to a vm_status; matching
	// transactions commit with success=false.
	AbortFunctions map[string]string

	// IndexerFailures fails that many balance queries before answering.
	IndexerFailures int
	// IndexerErr is returned while IndexerFailures > 0, or always if IndexerFailures < 0.
	IndexerErr error

	// RawBalances overrides indexer rows for a token.
	RawBalances map[string][]aptos.FungibleAssetBalance

	// Submitted records every accepted transaction request, in order.
	Submitted []aptos.SignedTransaction
}

// NewLedger creates an empty stub ledger.
func NewLedger() *Ledger {
	return &Ledger{
		ChainID:        1,
		accounts:       make(map[string]*aptos.AccountInfo),
		balances:       make(map[string]map[string]*big.Int),
		txs:            make(map[string]*aptos.Transaction),
		lookups:        make(map[string]int),
		AbortFunctions: make(map[string]string),
		RawBalances:    make(map[string][]aptos.FungibleAssetBalance),
	}
}

var (
	_ aptos.Node    = (*Ledger)(nil)
	_ aptos.Indexer = (*Ledger)(nil)
)

// AddAccount registers an account with sequence number 0.
func (l *Ledger) AddAccount(address string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[address]; !ok {
		l.accounts[address] = &aptos.AccountInfo{}
	}
}

// SetBalance sets a raw balance for a holder.
func (l *Ledger) SetBalance(token, owner string, raw int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.holders(token)[owner] = big.NewInt(raw)
}

// Balance returns a holder's raw balance.
func (l *Ledger) Balance(token, owner string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[token][owner]; ok {
		return b.Int64()
	}
	return 0
}

// LedgerInfo returns a fixed chain id.
func (l *Ledger) LedgerInfo(_ context.Context) (*aptos.LedgerInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &aptos.LedgerInfo{ChainID: l.ChainID, LedgerVersion: uint64(len(l.txs))}, nil
}

// Account returns the account or ErrAccountNotFound.
func (l *Ledger) Account(_ context.Context, address string) (*aptos.AccountInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[address]
	if !ok {
		return nil, aptos.ErrAccountNotFound
	}
	accCopy := *acc
	return &accCopy, nil
}

// EncodeSubmission returns SHA256 of the request's JSON form as signing message.
func (l *Ledger) EncodeSubmission(_ context.Context, req *aptos.TransactionRequest) ([]byte, error) {
	return signingMessage(req)
}

// SubmitTransaction verifies the signature, commits the transaction and applies its effects.
func (l *Ledger) SubmitTransaction(_ context.Context, tx *aptos.SignedTransaction) (*aptos.PendingTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.SubmitErr != nil {
		return nil, l.SubmitErr
	}

	msg, err := signingMessage(&tx.TransactionRequest)
	if err != nil {
		return nil, err
	}
	pub, err := hex.DecodeString(strings.TrimPrefix(tx.Signature.PublicKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(tx.Signature.Signature, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize || !ed25519.Verify(pub, msg, sig) {
		return nil, ErrBadSignature
	}
	if aptos.DeriveAddress(pub) != tx.Sender {
		return nil, fmt.Errorf("sender %s does not match public key", tx.Sender)
	}

	acc, ok := l.accounts[tx.Sender]
	if !ok {
		return nil, aptos.ErrAccountNotFound
	}
	if fmt.Sprint(acc.SequenceNumber) != tx.SequenceNumber {
		return nil, fmt.Errorf("sequence number mismatch: have %d, got %s", acc.SequenceNumber, tx.SequenceNumber)
	}
	acc.SequenceNumber++

	sum := sha256.Sum256(append(msg, sig...))
	hash := "0x" + hex.EncodeToString(sum[:])

	committed := &aptos.Transaction{
		Type:     aptos.TxTypeUser,
		Hash:     hash,
		Version:  uint64(len(l.txs) + 1),
		Success:  true,
		VMStatus: "Executed successfully",
	}
	if err := l.apply(tx, committed); err != nil {
		committed.Success = false
		committed.VMStatus = err.Error()
	}

	l.txs[hash] = committed
	l.Submitted = append(l.Submitted, *tx)
	return &aptos.PendingTransaction{Hash: hash}, nil
}

// TransactionByHash reports pending for PendingLookups calls, then the committed transaction.
func (l *Ledger) TransactionByHash(_ context.Context, hash string) (*aptos.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.txs[hash]
	if !ok {
		return nil, nil
	}
	if l.lookups[hash] < l.PendingLookups {
		l.lookups[hash]++
		return &aptos.Transaction{Type: aptos.TxTypePending, Hash: hash}, nil
	}
	txCopy := *tx
	return &txCopy, nil
}

// FungibleAssetBalances returns holder balances sorted by owner.
func (l *Ledger) FungibleAssetBalances(_ context.Context, assetType string) ([]aptos.FungibleAssetBalance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.IndexerFailures < 0 {
		return nil, l.indexerErr()
	}
	if l.IndexerFailures > 0 {
		l.IndexerFailures--
		return nil, l.indexerErr()
	}

	if rows, ok := l.RawBalances[assetType]; ok {
		return append([]aptos.FungibleAssetBalance(nil), rows...), nil
	}

	holders := l.balances[assetType]
	owners := make([]string, 0, len(holders))
	for o := range holders {
		owners = append(owners, o)
	}
	sort.Strings(owners)

	out := make([]aptos.FungibleAssetBalance, 0, len(owners))
	for _, o := range owners {
		out = append(out, aptos.FungibleAssetBalance{OwnerAddress: o, Amount: holders[o].String()})
	}
	return out, nil
}

func (l *Ledger) indexerErr() error {
	if l.IndexerErr != nil {
		return l.IndexerErr
	}
	return errors.New("indexer unavailable")
}

func (l *Ledger) holders(token string) map[string]*big.Int {
	h, ok := l.balances[token]
	if !ok {
		h = make(map[string]*big.Int)
		l.balances[token] = h
	}
	return h
}

// apply executes the launchpad call. Must hold l.mu.
func (l *Ledger) apply(tx *aptos.SignedTransaction, committed *aptos.Transaction) error {
	fn := tx.Payload.Function
	name := fn[strings.LastIndex(fn, "::")+2:]
	if status, ok := l.AbortFunctions[name]; ok {
		return errors.New(status)
	}

	args := tx.Payload.Arguments
	switch name {
	case aptos.FunctionMintToAddress:
		if len(args) != 3 {
			return fmt.Errorf("mint_to_address: want 3 arguments, got %d", len(args))
		}
		amt, ok := new(big.Int).SetString(fmt.Sprint(args[2]), 10)
		if !ok || amt.Sign() <= 0 {
			return fmt.Errorf("mint_to_address: bad amount %v", args[2])
		}
		h := l.holders(fmt.Sprint(args[1]))
		to := fmt.Sprint(args[0])
		if h[to] == nil {
			h[to] = new(big.Int)
		}
		h[to].Add(h[to], amt)
	case aptos.FunctionBurnFA:
		if len(args) != 2 {
			return fmt.Errorf("burn_fa: want 2 arguments, got %d", len(args))
		}
		amt, ok := new(big.Int).SetString(fmt.Sprint(args[1]), 10)
		if !ok || amt.Sign() <= 0 {
			return fmt.Errorf("burn_fa: bad amount %v", args[1])
		}
		h := l.holders(fmt.Sprint(args[0]))
		bal := h[tx.Sender]
		if bal == nil || bal.Cmp(amt) < 0 {
			return errors.New("Move abort: EINSUFFICIENT_BALANCE")
		}
		bal.Sub(bal, amt)
	case aptos.FunctionCreateFASimple:
		sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%v", tx.Sender, tx.SequenceNumber, args)))
		token := "0x" + hex.EncodeToString(sum[:])
		l.holders(token)
		data, _ := json.Marshal(map[string]interface{}{
			"fa_obj": map[string]string{"inner": token},
		})
		committed.Events = append(committed.Events, aptos.Event{
			Type: tx.Payload.Function[:strings.LastIndex(fn, "::")] + "::CreateFAEvent",
			Data: data,
		})
	default:
		return fmt.Errorf("unknown entry function %s", fn)
	}
	return nil
}

// signingMessage derives a deterministic signing message from the request.
func signingMessage(req *aptos.TransactionRequest) ([]byte, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal transaction request: %w", err)
	}
	sum := sha256.Sum256(b)
	return sum[:], nil
}
