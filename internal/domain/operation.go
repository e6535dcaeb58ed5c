package domain

import "github.com/shopspring/decimal"

// OperationKind is the ledger operation applied to a model token.
type OperationKind string

const (
	OperationMint OperationKind = "mint"
	OperationBurn OperationKind = "burn"
)

// String returns the string representation of OperationKind.
func (k OperationKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a valid value.
func (k OperationKind) IsValid() bool {
	return k == OperationMint || k == OperationBurn
}

// MintIntent separates operator mints from mints paid for by an end user.
// Only market mints move the quoted price.
type MintIntent string

const (
	IntentAdministrative MintIntent = "administrative"
	IntentMarket         MintIntent = "market"
)

// IsValid checks if the intent is a valid value.
func (i MintIntent) IsValid() bool {
	return i == IntentAdministrative || i == IntentMarket
}

// Operation is a single mint or burn request. Transient, never persisted.
type Operation struct {
	ID           string          // operation id, used to correlate transition events
	Kind         OperationKind   // mint | burn
	Intent       MintIntent      // mint only
	ModelID      string          // model the token belongs to
	TokenAddress string          // fungible asset address
	Amount       decimal.Decimal // human units, > 0
	Recipient    string          // mint destination; informational for burn
}

// MovesPrice reports whether the operation is priced by the engine.
func (o *Operation) MovesPrice() bool {
	if o.Kind == OperationBurn {
		return true
	}
	return o.Intent == IntentMarket
}
