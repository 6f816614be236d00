package rewards

import (
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bigFrom(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, "bad big int %s", s)
	return v
}

func e18(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), big.NewInt(1_000_000_000_000_000_000))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// workingSupplyFixture is 90750379.15850782e18
const workingSupplyFixture = "90750379158507820000000000"

func boostFixture(t *testing.T, veTokenAmount, totalVeToken *big.Int) BoostInputs {
	return BoostInputs{
		WorkingBalance: big.NewInt(0),
		WorkingSupply:  bigFrom(t, workingSupplyFixture),
		GaugeBalance:   e18(1),
		PoolLiquidity:  bigFrom(t, "10000000000000000000000000000"),
		VeTokenAmount:  veTokenAmount,
		TotalVeToken:   totalVeToken,
	}
}

func TestBoostMultiplier(t *testing.T) {
	tests := []struct {
		name  string
		ve    *big.Int
		total *big.Int
		want  float64
	}{
		{
			name:  "worked example",
			ve:    bigFrom(t, "10000000000000000"),
			total: bigFrom(t, "1000000000000000000000000000"),
			want:  1.15,
		},
		{
			name:  "no vote escrow",
			ve:    bigFrom(t, "100000000000"),
			total: bigFrom(t, "100000000000000000000000000000"),
			want:  1.00,
		},
		{
			name:  "dominant vote escrow",
			ve:    bigFrom(t, "10000000000000000000000000000000000"),
			total: bigFrom(t, "100000000000000000000000000000"),
			want:  2.50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BoostMultiplier(boostFixture(t, tt.ve, tt.total))
			assert.Equal(t, tt.want, round2(got))
		})
	}
}

func TestBoostMultiplierBounds(t *testing.T) {
	supplies := []string{"1000000000000000000", "90750379158507820000000000", "5000000000000000000000"}
	veAmounts := []int64{0, 1, 1_000, 1_000_000, 1_000_000_000}
	gaugeBalances := []int64{1, 10, 1_000, 100_000}

	for _, supply := range supplies {
		for _, ve := range veAmounts {
			for _, gb := range gaugeBalances {
				in := BoostInputs{
					WorkingBalance: e18(0),
					WorkingSupply:  bigFrom(t, supply),
					GaugeBalance:   e18(gb),
					PoolLiquidity:  e18(10_000_000),
					VeTokenAmount:  e18(ve),
					TotalVeToken:   e18(1_000_000),
				}
				got := BoostMultiplier(in)
				assert.GreaterOrEqual(t, got, 1.0-1e-9, "supply=%s ve=%d gauge=%d", supply, ve, gb)
				assert.LessOrEqual(t, got, 2.5+1e-9, "supply=%s ve=%d gauge=%d", supply, ve, gb)
			}
		}
	}
}

func TestBoostMultiplierZeroInputs(t *testing.T) {
	assert.Equal(t, 1.0, BoostMultiplier(BoostInputs{}))

	in := boostFixture(t, e18(1), big.NewInt(0))
	assert.Equal(t, 1.0, round2(BoostMultiplier(in)))
}

func TestBoostedRewards(t *testing.T) {
	tests := []struct {
		base, multiplier, want float64
	}{
		{10, 1.5, 5.00},
		{0, 1.7, 0.00},
		{40, 1.04, 1.60},
		{10, 0, 0},
		{10, -1, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, round2(BoostedRewards(tt.base, tt.multiplier)), "base=%v mult=%v", tt.base, tt.multiplier)
	}
}

func TestBaseRewards(t *testing.T) {
	in := BaseRewardsInput{
		PoolSize:      bigFrom(t, "111000000000000000"),
		PoolReward:    bigFrom(t, "118780129032258064346046"),
		PricePerShare: e18(1),
		Decimals:      18,
		AssetPrice:    2568.91135996858,
		RBNPrice:      1.3238686374851516,
	}
	// reference figure came from rounded displayed inputs; the formula yields 2867608.98
	assert.InEpsilon(t, 2867600.59, BaseRewards(in), 1e-5)

	empty := in
	empty.PoolSize = big.NewInt(0)
	assert.Equal(t, 0.0, BaseRewards(empty))

	unpriced := in
	unpriced.AssetPrice = 0
	assert.Equal(t, 0.0, BaseRewards(unpriced))
}

func TestBaseRewardsIsSimpleAnnualisation(t *testing.T) {
	// 1% a week on a 1:1 priced pool is 52%
	in := BaseRewardsInput{
		PoolSize:      e18(100),
		PoolReward:    e18(1),
		PricePerShare: e18(1),
		Decimals:      18,
		AssetPrice:    1,
		RBNPrice:      1,
	}
	assert.InDelta(t, 52.0, BaseRewards(in), 1e-9)
}

func TestInitialVeAmount(t *testing.T) {
	locked := e18(1000)

	twoYears := time.Duration(MinutesInTwoYears) * time.Minute
	assert.Equal(t, locked.String(), InitialVeAmount(locked, twoYears).String())
	assert.Equal(t, e18(500).String(), InitialVeAmount(locked, twoYears/2).String())

	for _, d := range []time.Duration{0, -time.Minute, -24 * time.Hour, 59 * time.Second} {
		assert.Equal(t, int64(0), InitialVeAmount(locked, d).Int64(), "duration %s", d)
	}
	assert.Equal(t, int64(0), InitialVeAmount(nil, twoYears).Int64())
}

func TestEarlyUnlockPenaltyPercentage(t *testing.T) {
	durations := []time.Duration{
		-time.Hour, 0, time.Minute, 24 * time.Hour, 365 * 24 * time.Hour,
		time.Duration(MinutesInTwoYears) * time.Minute, 4 * 365 * 24 * time.Hour,
	}
	for _, d := range durations {
		pct := EarlyUnlockPenaltyPercentage(d)
		assert.GreaterOrEqual(t, pct, 0.0, "duration %s", d)
		assert.LessOrEqual(t, pct, 0.75, "duration %s", d)
	}
	assert.InDelta(t, 0.5, EarlyUnlockPenaltyPercentage(365*24*time.Hour), 1e-12)
	assert.Equal(t, 0.75, EarlyUnlockPenaltyPercentage(4*365*24*time.Hour))
}

func TestEarlyUnlockPenalty(t *testing.T) {
	locked := e18(1000)

	// one year left: 50%
	assert.Equal(t, e18(500).String(), EarlyUnlockPenalty(locked, 365*24*time.Hour).String())

	// capped at 75%
	assert.Equal(t, e18(750).String(), EarlyUnlockPenalty(locked, 10*365*24*time.Hour).String())

	// 10 days left: 10*1440/1051200 = 0.013698..., 137 bps
	assert.Equal(t, "13700000000000000000", EarlyUnlockPenalty(locked, 10*24*time.Hour).String())

	assert.Equal(t, int64(0), EarlyUnlockPenalty(locked, 0).Int64())
}
