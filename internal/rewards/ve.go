// Package rewards implements the vote-escrow, boost and gauge reward math
// behind the staking dashboard.
package rewards

import (
	"math"
	"math/big"
	"time"
)

const (
	// MinutesInTwoYears is the maximum lock length, in minutes
	MinutesInTwoYears = 2 * 365 * 24 * 60

	// MaxEarlyUnlockPenalty caps the early unlock penalty at 75%
	MaxEarlyUnlockPenalty = 0.75

	basisPoints = 10_000
)

// InitialVeAmount returns the vote-escrow balance granted for locking
// lockedAmount for duration. Only whole minutes count. The result is never
// negative.
func InitialVeAmount(lockedAmount *big.Int, duration time.Duration) *big.Int {
	if lockedAmount == nil {
		return new(big.Int)
	}
	minutes := int64(duration / time.Minute)

	ve := new(big.Int).Mul(lockedAmount, big.NewInt(minutes))
	ve.Quo(ve, big.NewInt(MinutesInTwoYears))
	if ve.Sign() < 0 {
		return new(big.Int)
	}
	return ve
}

// EarlyUnlockPenaltyPercentage scales linearly with the time left on a lock
// and is bounded to [0, MaxEarlyUnlockPenalty].
func EarlyUnlockPenaltyPercentage(remaining time.Duration) float64 {
	pct := remaining.Minutes() / MinutesInTwoYears
	if pct < 0 || math.IsNaN(pct) {
		return 0
	}
	return math.Min(MaxEarlyUnlockPenalty, pct)
}

// EarlyUnlockPenalty returns the amount forfeited when unlocking early.
// The percentage is applied in basis points so that the integer multiply
// keeps four decimal digits of it.
func EarlyUnlockPenalty(lockedAmount *big.Int, remaining time.Duration) *big.Int {
	if lockedAmount == nil {
		return new(big.Int)
	}
	bps := int64(math.Round(EarlyUnlockPenaltyPercentage(remaining) * basisPoints))

	penalty := new(big.Int).Mul(lockedAmount, big.NewInt(bps))
	return penalty.Quo(penalty, big.NewInt(basisPoints))
}
