package aptos

import "encoding/json"

// Transaction type values reported by the node.
const (
	TxTypePending = "pending_transaction"
	TxTypeUser    = "user_transaction"
)

// LedgerInfo is the node's view of the chain.
type LedgerInfo struct {
	ChainID         uint8
	LedgerVersion   uint64
	LedgerTimestamp uint64 // microseconds
}

// AccountInfo is the on-chain account resource.
type AccountInfo struct {
	SequenceNumber    uint64
	AuthenticationKey string
}

// EntryFunctionPayload calls a Move entry function.
// u64 arguments are passed as decimal strings, addresses as hex strings.
type EntryFunctionPayload struct {
	Type          string        `json:"type"`
	Function      string        `json:"function"`
	TypeArguments []string      `json:"type_arguments"`
	Arguments     []interface{} `json:"arguments"`
}

// NewEntryFunctionPayload builds a payload without type arguments.
func NewEntryFunctionPayload(function string, args ...interface{}) EntryFunctionPayload {
	if args == nil {
		args = []interface{}{}
	}
	return EntryFunctionPayload{
		Type:          "entry_function_payload",
		Function:      function,
		TypeArguments: []string{},
		Arguments:     args,
	}
}

// TransactionRequest is an unsigned user transaction in the node's JSON form.
type TransactionRequest struct {
	Sender                  string               `json:"sender"`
	SequenceNumber          string               `json:"sequence_number"`
	MaxGasAmount            string               `json:"max_gas_amount"`
	GasUnitPrice            string               `json:"gas_unit_price"`
	ExpirationTimestampSecs string               `json:"expiration_timestamp_secs"`
	Payload                 EntryFunctionPayload `json:"payload"`
}

// Signature is a single Ed25519 transaction signature.
type Signature struct {
	Type      string `json:"type"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

// SignedTransaction is a transaction request ready for submission.
type SignedTransaction struct {
	TransactionRequest
	Signature Signature `json:"signature"`
}

// PendingTransaction is returned by a successful submission.
type PendingTransaction struct {
	Hash string `json:"hash"`
}

// Transaction is a transaction looked up by hash.
type Transaction struct {
	Type     string
	Hash     string
	Version  uint64
	Success  bool
	VMStatus string
	Events   []Event
}

// Committed reports whether the transaction left the mempool.
func (t *Transaction) Committed() bool {
	return t != nil && t.Type != "" && t.Type != TxTypePending
}

// Event is a Move event emitted by a committed transaction.
type Event struct {
	Type string
	Data json.RawMessage
}

// FungibleAssetBalance is a row of current_fungible_asset_balances.
type FungibleAssetBalance struct {
	OwnerAddress string
	Amount       string // numeric text as returned by the indexer
}
