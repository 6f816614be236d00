package rewards

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constantWeight struct {
	weight *uint256.Int
	calls  []int64
	err    error
}

func (c *constantWeight) GaugeRelativeWeight(_ context.Context, _ common.Address, weekStart int64) (*uint256.Int, error) {
	c.calls = append(c.calls, weekStart)
	if c.err != nil {
		return nil, c.err
	}
	return c.weight, nil
}

func u18(units uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(units), precision)
}

func tokens(v *uint256.Int) string {
	return new(uint256.Int).Div(v, precision).ToBig().String()
}

// t0 is a week boundary
const t0 = 2700 * Week

func TestFloorToWeek(t *testing.T) {
	assert.Equal(t, int64(t0), FloorToWeek(t0))
	assert.Equal(t, int64(t0), FloorToWeek(t0+Week-1))
	assert.Equal(t, int64(0), FloorToWeek(-1))
}

func TestClaimableTwoFullWeeks(t *testing.T) {
	lookup := &constantWeight{weight: new(uint256.Int).Div(precision, uint256.NewInt(2))}
	state := RewardPeriodState{
		Gauge:           common.HexToAddress("0x01"),
		PeriodTimestamp: t0,
		FutureEpochTime: t0 - 1,
		InflationRate:   u18(1),
		MinterRate:      u18(5),
		WorkingSupply:   u18(100),
		WorkingBalance:  u18(10),
	}

	res, err := Claimable(context.Background(), state, lookup, t0+2*Week)
	require.NoError(t, err)

	// 10% share of 1 token/s at 50% weight for two weeks
	assert.Equal(t, "60480", tokens(res.Amount))
	assert.Equal(t, 2, res.Weeks)
	assert.False(t, res.Truncated)
	assert.Equal(t, []int64{t0, t0 + Week}, lookup.calls)
}

func TestClaimableSplitsAtEpochBoundary(t *testing.T) {
	lookup := &constantWeight{weight: u18(1)}
	state := RewardPeriodState{
		PeriodTimestamp: t0,
		FutureEpochTime: t0 + 3*24*3600,
		InflationRate:   u18(1),
		MinterRate:      u18(2),
		WorkingSupply:   u18(1),
		WorkingBalance:  u18(1),
	}

	res, err := Claimable(context.Background(), state, lookup, t0+Week)
	require.NoError(t, err)

	// three days at 1/s then four days at 2/s
	assert.Equal(t, "950400", tokens(res.Amount))
}

func TestClaimableWholeWindowAtScheduledRate(t *testing.T) {
	lookup := &constantWeight{weight: u18(1)}
	state := RewardPeriodState{
		PeriodTimestamp: t0,
		FutureEpochTime: t0 + 10*Week,
		InflationRate:   u18(1),
		MinterRate:      u18(2),
		WorkingSupply:   u18(1),
		WorkingBalance:  u18(1),
	}

	res, err := Claimable(context.Background(), state, lookup, t0+Week)
	require.NoError(t, err)
	assert.Equal(t, "1209600", tokens(res.Amount))
}

func TestClaimablePartialFirstWeek(t *testing.T) {
	lookup := &constantWeight{weight: u18(1)}
	start := int64(t0 + 100)
	state := RewardPeriodState{
		PeriodTimestamp: start,
		InflationRate:   u18(1),
		WorkingSupply:   u18(1),
		WorkingBalance:  u18(1),
	}

	res, err := Claimable(context.Background(), state, lookup, t0+Week+50)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Weeks)
	assert.Equal(t, []int64{t0, t0 + Week}, lookup.calls)
	assert.Equal(t, "604750", tokens(res.Amount))
}

func TestClaimableSubtractsMintedAndKeepsFraction(t *testing.T) {
	lookup := &constantWeight{weight: u18(1)}
	state := RewardPeriodState{
		PeriodTimestamp:   t0,
		InflationRate:     u18(1),
		WorkingSupply:     u18(2),
		WorkingBalance:    u18(1),
		IntegrateFraction: u18(1000),
		MintedAmount:      u18(400),
	}

	res, err := Claimable(context.Background(), state, lookup, t0+100)
	require.NoError(t, err)
	// 1000 already accrued + half of 100 tokens - 400 minted
	assert.Equal(t, "650", tokens(res.Amount))
}

func TestClaimableKilledGauge(t *testing.T) {
	lookup := &constantWeight{weight: u18(1)}
	state := RewardPeriodState{
		PeriodTimestamp:   t0,
		InflationRate:     u18(1),
		MinterRate:        u18(1),
		IsKilled:          true,
		WorkingSupply:     u18(1),
		WorkingBalance:    u18(1),
		IntegrateFraction: u18(7),
	}

	res, err := Claimable(context.Background(), state, lookup, t0+3*Week)
	require.NoError(t, err)
	assert.Equal(t, "7", tokens(res.Amount))
}

func TestClaimableNothingElapsed(t *testing.T) {
	lookup := &constantWeight{weight: u18(1)}
	state := RewardPeriodState{
		PeriodTimestamp:   t0,
		InflationRate:     u18(1),
		WorkingSupply:     u18(1),
		WorkingBalance:    u18(1),
		IntegrateFraction: u18(3),
	}

	res, err := Claimable(context.Background(), state, lookup, t0)
	require.NoError(t, err)
	assert.Equal(t, "3", tokens(res.Amount))
	assert.Empty(t, lookup.calls)
}

func TestClaimableReplayLimit(t *testing.T) {
	lookup := &constantWeight{weight: u18(1)}
	state := RewardPeriodState{
		PeriodTimestamp: t0,
		InflationRate:   u18(1),
		WorkingSupply:   u18(1),
		WorkingBalance:  u18(1),
	}

	res, err := Claimable(context.Background(), state, lookup, t0+(MaxReplayWeeks+3)*Week)
	assert.ErrorIs(t, err, ErrReplayLimit)
	assert.True(t, res.Truncated)
	assert.Equal(t, MaxReplayWeeks, res.Weeks)
	assert.Len(t, lookup.calls, MaxReplayWeeks)
	require.NotNil(t, res.Amount)

	// partial result covers exactly the replayed weeks
	assert.Equal(t, uint256.NewInt(uint64(MaxReplayWeeks*Week)).ToBig().String(), tokens(res.Amount))
}

func TestClaimableExactlyAtLimit(t *testing.T) {
	lookup := &constantWeight{weight: u18(1)}
	state := RewardPeriodState{PeriodTimestamp: t0}

	res, err := Claimable(context.Background(), state, lookup, t0+MaxReplayWeeks*Week)
	require.NoError(t, err)
	assert.False(t, res.Truncated)
	assert.Equal(t, MaxReplayWeeks, res.Weeks)
}

func TestClaimableLookupError(t *testing.T) {
	boom := errors.New("rpc down")
	lookup := &constantWeight{err: boom}
	state := RewardPeriodState{PeriodTimestamp: t0, WorkingSupply: u18(1)}

	_, err := Claimable(context.Background(), state, lookup, t0+Week)
	assert.ErrorIs(t, err, boom)
}

func TestClaimableCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Claimable(ctx, RewardPeriodState{PeriodTimestamp: t0}, &constantWeight{weight: u18(1)}, t0+Week)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClaimableMintedAboveAccrued(t *testing.T) {
	state := RewardPeriodState{
		PeriodTimestamp: t0,
		MintedAmount:    u18(1),
	}
	_, err := Claimable(context.Background(), state, &constantWeight{weight: u18(1)}, t0)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestClaimableOverflow(t *testing.T) {
	huge := new(uint256.Int).SetAllOne()
	state := RewardPeriodState{
		PeriodTimestamp: t0,
		InflationRate:   huge,
		WorkingSupply:   u18(1),
		WorkingBalance:  u18(1),
	}
	_, err := Claimable(context.Background(), state, &constantWeight{weight: u18(1)}, t0+Week)
	assert.ErrorIs(t, err, ErrOverflow)
}
