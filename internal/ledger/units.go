package ledger

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"model-token-engine/internal/domain"
)

var maxRaw = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// ToRawUnits converts a human amount to the ledger's integer units (human * 10^6).
// Amounts must be positive, have at most six fractional digits and fit in u64.
func ToRawUnits(amount decimal.Decimal) (uint64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount)
	}
	raw := amount.Shift(domain.TokenDecimals)
	if !raw.Equal(raw.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidAmount, amount, domain.TokenDecimals)
	}
	if raw.GreaterThan(maxRaw) {
		return 0, fmt.Errorf("%w: %s overflows u64", ErrInvalidAmount, amount)
	}
	return raw.BigInt().Uint64(), nil
}

