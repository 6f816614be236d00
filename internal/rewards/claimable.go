package rewards

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

const (
	// Week is the gauge checkpoint period in seconds
	Week int64 = 604800

	// MaxReplayWeeks bounds the weekly replay, as the gauge contract does
	MaxReplayWeeks = 500
)

var (
	// ErrReplayLimit signals that the checkpoint is older than MaxReplayWeeks
	// weeks. The accompanying result only covers the replayed weeks and
	// understates the claimable amount.
	ErrReplayLimit = errors.New("rewards: replay limit reached, checkpoint too stale")

	// ErrOverflow is returned when an intermediate value leaves the uint256
	// range, where the contract itself would revert
	ErrOverflow = errors.New("rewards: arithmetic out of range")

	precision = uint256.NewInt(1_000_000_000_000_000_000)
)

// RewardPeriodState is a gauge's reward checkpoint for one account, as read
// from chain. All amounts are fixed-point at 1e18.
type RewardPeriodState struct {
	Gauge common.Address

	PeriodTimestamp      int64
	IntegrateInvSupply   *uint256.Int
	IntegrateFraction    *uint256.Int
	IntegrateInvSupplyOf *uint256.Int

	FutureEpochTime int64
	InflationRate   *uint256.Int
	MinterRate      *uint256.Int
	IsKilled        bool

	WorkingSupply  *uint256.Int
	WorkingBalance *uint256.Int
	MintedAmount   *uint256.Int
}

// WeightLookup returns the relative weight of a gauge for the week starting
// at weekStart, fixed-point at 1e18.
type WeightLookup interface {
	GaugeRelativeWeight(ctx context.Context, gauge common.Address, weekStart int64) (*uint256.Int, error)
}

// ClaimResult is the outcome of replaying a gauge checkpoint
type ClaimResult struct {
	// Amount is the claimable reward for the account
	Amount *uint256.Int
	// Integral is the replayed integrate_inv_supply at now
	Integral *uint256.Int
	// Weeks is the number of weekly windows replayed
	Weeks int
	// Truncated is set when the replay stopped at MaxReplayWeeks
	Truncated bool
}

// FloorToWeek rounds ts down to a week boundary, truncating toward zero
func FloorToWeek(ts int64) int64 {
	return ts / Week * Week
}

// Claimable replays the gauge reward integral from the last checkpoint up to
// now and returns what the account could mint.
//
// When the checkpoint is more than MaxReplayWeeks weeks old the replay stops,
// the partial result is returned and the error is ErrReplayLimit.
func Claimable(ctx context.Context, state RewardPeriodState, lookup WeightLookup, now int64) (ClaimResult, error) {
	rate := orZero(state.InflationRate)
	newRate := rate
	if state.FutureEpochTime >= state.PeriodTimestamp {
		newRate = orZero(state.MinterRate)
	}
	if state.IsKilled {
		rate = new(uint256.Int)
		newRate = new(uint256.Int)
	}

	workingSupply := orZero(state.WorkingSupply)
	integral := orZero(state.IntegrateInvSupply)
	result := ClaimResult{}

	if now > state.PeriodTimestamp {
		prevWeekTime := state.PeriodTimestamp
		weekTime := min64(FloorToWeek(state.PeriodTimestamp+Week), now)
		done := false

		for result.Weeks < MaxReplayWeeks {
			if err := ctx.Err(); err != nil {
				return ClaimResult{}, err
			}

			w, err := lookup.GaugeRelativeWeight(ctx, state.Gauge, FloorToWeek(prevWeekTime))
			if err != nil {
				return ClaimResult{}, fmt.Errorf("gauge weight at %d: %w", FloorToWeek(prevWeekTime), err)
			}

			if !workingSupply.IsZero() {
				epoch := state.FutureEpochTime
				if epoch >= prevWeekTime && epoch < weekTime {
					if err := accumulate(integral, rate, w, epoch-prevWeekTime, workingSupply); err != nil {
						return ClaimResult{}, err
					}
					rate = newRate
					if err := accumulate(integral, rate, w, weekTime-epoch, workingSupply); err != nil {
						return ClaimResult{}, err
					}
				} else if err := accumulate(integral, newRate, w, weekTime-prevWeekTime, workingSupply); err != nil {
					return ClaimResult{}, err
				}
			}

			result.Weeks++
			if weekTime == now {
				done = true
				break
			}
			prevWeekTime = weekTime
			weekTime = min64(weekTime+Week, now)
		}
		result.Truncated = !done
	}

	fraction, err := integrateFraction(state, integral)
	if err != nil {
		return ClaimResult{}, err
	}
	minted := orZero(state.MintedAmount)
	if fraction.Lt(minted) {
		return ClaimResult{}, fmt.Errorf("%w: minted %s exceeds accrued %s", ErrOverflow, minted.ToBig(), fraction.ToBig())
	}

	result.Amount = new(uint256.Int).Sub(fraction, minted)
	result.Integral = integral

	if result.Truncated {
		logrus.WithFields(logrus.Fields{
			"gauge":            state.Gauge.Hex(),
			"period_timestamp": state.PeriodTimestamp,
			"weeks":            result.Weeks,
		}).Warn("Claimable replay truncated")
		return result, ErrReplayLimit
	}
	return result, nil
}

// accumulate adds rate * w * dt / supply to integral in place
func accumulate(integral, rate, w *uint256.Int, dt int64, supply *uint256.Int) error {
	if dt <= 0 {
		return nil
	}
	step, overflow := new(uint256.Int).MulOverflow(rate, w)
	if overflow {
		return ErrOverflow
	}
	scaled, overflow := new(uint256.Int).MulOverflow(step, uint256.NewInt(uint64(dt)))
	if overflow {
		return ErrOverflow
	}
	scaled.Div(scaled, supply)
	sum, overflow := new(uint256.Int).AddOverflow(integral, scaled)
	if overflow {
		return ErrOverflow
	}
	integral.Set(sum)
	return nil
}

func integrateFraction(state RewardPeriodState, integral *uint256.Int) (*uint256.Int, error) {
	synced := orZero(state.IntegrateInvSupplyOf)
	if integral.Lt(synced) {
		return nil, fmt.Errorf("%w: integral %s below account snapshot %s", ErrOverflow, integral.ToBig(), synced.ToBig())
	}
	delta := new(uint256.Int).Sub(integral, synced)
	accrued, overflow := new(uint256.Int).MulOverflow(orZero(state.WorkingBalance), delta)
	if overflow {
		return nil, ErrOverflow
	}
	accrued.Div(accrued, precision)

	fraction, overflow := new(uint256.Int).AddOverflow(orZero(state.IntegrateFraction), accrued)
	if overflow {
		return nil, ErrOverflow
	}
	return fraction, nil
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
