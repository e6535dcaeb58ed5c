package domain

// BalanceEntry is one holder balance of a fungible asset as reported by the indexer.
type BalanceEntry struct {
	Owner     string // holder address
	RawAmount string // integer amount in raw units, kept as text until validated
}

// SupplyQuery is a point-in-time set of holder balances for one asset.
type SupplyQuery struct {
	TokenAddress string
	ObservedAt   int64 // ms
	Entries      []BalanceEntry
}

// TokenDecimals is the fixed on-chain decimals of model tokens.
// raw units = human units * 10^TokenDecimals.
const TokenDecimals = 6
