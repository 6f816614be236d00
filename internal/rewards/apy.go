package rewards

import (
	"math"
	"math/big"
)

const (
	// TokenlessProduction is the share of a gauge balance that counts
	// towards the working balance without any vote-escrow, in percent
	TokenlessProduction = 40

	weeksPerYear = 52
)

// BaseRewardsInput carries the gauge figures needed for the base APY
type BaseRewardsInput struct {
	// PoolSize is the gauge's staked share supply
	PoolSize *big.Int
	// PoolReward is the weekly reward emitted to the gauge
	PoolReward *big.Int
	// PricePerShare converts shares to underlying asset, scaled by 10^Decimals
	PricePerShare *big.Int
	Decimals      int
	AssetPrice    float64
	RBNPrice      float64
}

// BaseRewards returns the gauge's unboosted reward APY in percent.
//
// This is a simple annualisation, weekly yield times 52. It is not
// compounded and must stay that way to agree with figures shown elsewhere.
func BaseRewards(in BaseRewardsInput) float64 {
	poolRewardInUSD := bigToFloat(in.PoolReward) * in.RBNPrice

	var assets *big.Int
	if in.PoolSize != nil && in.PricePerShare != nil {
		assets = new(big.Int).Mul(in.PoolSize, in.PricePerShare)
		assets.Quo(assets, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(in.Decimals)), nil))
	}
	poolSizeInUSD := bigToFloat(assets) * in.AssetPrice

	if poolSizeInUSD <= 0 {
		return 0
	}
	return (poolRewardInUSD / poolSizeInUSD) * weeksPerYear * 100
}

// BoostInputs are the balances that determine a staker's boost.
// All values are raw fixed-point integers.
type BoostInputs struct {
	WorkingBalance *big.Int
	WorkingSupply  *big.Int
	GaugeBalance   *big.Int
	PoolLiquidity  *big.Int
	VeTokenAmount  *big.Int
	TotalVeToken   *big.Int
}

// BoostMultiplier returns the reward multiplier a staker would get after a
// checkpoint with the given vote-escrow balance.
//
// The ratio is not clamped. For WorkingBalance <= WorkingSupply and a non
// negative vote-escrow share it lies in [1, 2.5] because the limit is bounded
// to [0.4*l, l]. A zero gauge balance yields 1.
func BoostMultiplier(in BoostInputs) float64 {
	l := bigToFloat(in.GaugeBalance)
	if l == 0 {
		return 1
	}
	L := bigToFloat(in.PoolLiquidity) + l
	workingBalance := bigToFloat(in.WorkingBalance)
	workingSupply := bigToFloat(in.WorkingSupply)

	var veShare float64
	if total := bigToFloat(in.TotalVeToken); total > 0 {
		veShare = L * bigToFloat(in.VeTokenAmount) / total
	}

	lim := l*TokenlessProduction/100 + veShare*(100-TokenlessProduction)/100
	lim = math.Min(l, lim)

	noboostLim := TokenlessProduction * l / 100
	noboostSupply := workingSupply + noboostLim - workingBalance
	newWorkingSupply := workingSupply + lim - workingBalance

	return (lim / newWorkingSupply) / (noboostLim / noboostSupply)
}

// BoostedRewards returns the extra APY on top of base rewards that a boost
// multiplier provides.
func BoostedRewards(baseRewards, boostMultiplier float64) float64 {
	if boostMultiplier <= 0 {
		return 0
	}
	return baseRewards*boostMultiplier - baseRewards
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
