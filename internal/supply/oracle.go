// Package supply reduces indexer balance records to a total supply figure.
package supply

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"model-token-engine/internal/domain"
)

// ErrDataIntegrity is returned when a balance entry is not a non-negative integer.
var ErrDataIntegrity = errors.New("supply data integrity violation")

// TotalSupply sums all raw balances and converts the total to human units.
// An empty query is zero supply. The reduction is pure.
func TotalSupply(q domain.SupplyQuery) (decimal.Decimal, error) {
	total := decimal.Zero

	for i, e := range q.Entries {
		raw := strings.TrimSpace(e.RawAmount)
		if raw == "" {
			return decimal.Zero, fmt.Errorf("%w: entry %d (%s) has empty amount", ErrDataIntegrity, i, e.Owner)
		}
		amt, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: entry %d (%s) amount %q is not numeric", ErrDataIntegrity, i, e.Owner, e.RawAmount)
		}
		if amt.IsNegative() || !amt.Equal(amt.Truncate(0)) {
			return decimal.Zero, fmt.Errorf("%w: entry %d (%s) amount %q is not a raw unit count", ErrDataIntegrity, i, e.Owner, e.RawAmount)
		}
		total = total.Add(amt)
	}

	return total.Shift(-domain.TokenDecimals), nil
}
