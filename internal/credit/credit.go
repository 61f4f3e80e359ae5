// Package credit defines the fixed-point billing unit shared by the ledger.
//
// All balances and costs are stored and computed as integer milicredits
// (1 credit = 1000 milicredits). Floating point only ever appears at the
// presentation boundary.
package credit

import (
	"fmt"
	"math"
)

// Milicredits is the platform billing unit, credits x 1000.
type Milicredits int64

// PerCredit is the number of milicredits in one credit.
const PerCredit = 1000

// FromCredits converts a fractional credit amount into milicredits,
// rounding half up. Boundary conversion only.
func FromCredits(credits float64) Milicredits {
	return Milicredits(math.Floor(credits*PerCredit + 0.5))
}

// Credits returns the fractional credit value for display purposes.
func (m Milicredits) Credits() float64 {
	return float64(m) / PerCredit
}

func (m Milicredits) String() string {
	return fmt.Sprintf("%d", int64(m))
}
