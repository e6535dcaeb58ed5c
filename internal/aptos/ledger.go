package aptos

import "context"

// Node defines the Aptos fullnode REST interface used by the gateway.
type Node interface {
	// LedgerInfo returns chain id and ledger version.
	LedgerInfo(ctx context.Context) (*LedgerInfo, error)

	// Account returns the account resource. Returns ErrAccountNotFound if absent.
	Account(ctx context.Context, address string) (*AccountInfo, error)

	// EncodeSubmission returns the signing message for an unsigned transaction.
	EncodeSubmission(ctx context.Context, req *TransactionRequest) ([]byte, error)

	// SubmitTransaction broadcasts a signed transaction.
	SubmitTransaction(ctx context.Context, tx *SignedTransaction) (*PendingTransaction, error)

	// TransactionByHash looks up a transaction. Returns nil if the node does not know it yet.
	TransactionByHash(ctx context.Context, hash string) (*Transaction, error)
}

// Indexer defines the Aptos indexer GraphQL interface.
type Indexer interface {
	// FungibleAssetBalances returns all current holder balances for an asset type.
	FungibleAssetBalances(ctx context.Context, assetType string) ([]FungibleAssetBalance, error)
}
