// Package aggregate condenses the vault rows of the yield sheet into the
// dashboard summary figures.
package aggregate

import (
	"math"
	"sort"

	"github.com/yourorg/vault-rewards/internal/model"
	"github.com/yourorg/vault-rewards/internal/validation"
)

// Summary is the aggregated view over a set of vaults
type Summary struct {
	// APY is the aggregated yield in percent
	APY float64 `json:"apy"`

	// TVL is the total (or median, depending on the method) value locked in USD
	TVL float64 `json:"tvl"`

	// Vaults is the number of rows that contributed
	Vaults int `json:"vaults"`

	// CollectedAt is the newest contributing timestamp
	CollectedAt int64 `json:"collected_at"`

	Method string `json:"method"`
}

const (
	MethodWeighted    = "weighted"
	MethodMedian      = "median"
	MethodAverage     = "average"
	MethodTrimmedMean = "trimmed_mean"
)

func usable(v model.VaultMetric) bool {
	return v.TVL > 0 && v.APY >= 0 && !math.IsNaN(v.APY) && !math.IsInf(v.APY, 0)
}

// Weighted computes the TVL-weighted APY over the vaults with positive TVL
func Weighted(vaults []model.VaultMetric) Summary {
	var totalTVL, weightedAPY float64
	var count int
	var latest int64

	for _, v := range vaults {
		if !usable(v) {
			continue
		}
		totalTVL += v.TVL
		weightedAPY += v.APY * v.TVL
		count++
		if v.CollectedAt > latest {
			latest = v.CollectedAt
		}
	}

	if count == 0 || totalTVL <= 0 || math.IsNaN(weightedAPY) {
		return Summary{Method: MethodWeighted}
	}

	return Summary{
		APY:         weightedAPY / totalTVL,
		TVL:         totalTVL,
		Vaults:      count,
		CollectedAt: latest,
		Method:      MethodWeighted,
	}
}

// Median returns the median of selector over the vaults with positive TVL
func Median(vaults []model.VaultMetric, selector func(model.VaultMetric) float64) float64 {
	values := make([]float64, 0, len(vaults))
	for _, v := range vaults {
		if v.TVL > 0 {
			values = append(values, selector(v))
		}
	}
	if len(values) == 0 {
		return 0
	}

	sort.Float64s(values)
	n := len(values)
	if n%2 == 0 {
		return (values[n/2-1] + values[n/2]) / 2
	}
	return values[n/2]
}

// MedianAggregation reports median APY and median TVL. It is the robust
// choice while the sheet is only partially filled in.
func MedianAggregation(vaults []model.VaultMetric) Summary {
	var count int
	var latest int64
	for _, v := range vaults {
		if v.TVL > 0 {
			count++
		}
		if v.CollectedAt > latest {
			latest = v.CollectedAt
		}
	}
	if count == 0 {
		return Summary{Method: MethodMedian}
	}

	return Summary{
		APY:         Median(vaults, func(v model.VaultMetric) float64 { return v.APY }),
		TVL:         Median(vaults, func(v model.VaultMetric) float64 { return v.TVL }),
		Vaults:      count,
		CollectedAt: latest,
		Method:      MethodMedian,
	}
}

// Average computes the unweighted mean APY; TVL is summed
func Average(vaults []model.VaultMetric) Summary {
	var totalAPY, totalTVL float64
	var count int
	var latest int64

	for _, v := range vaults {
		if v.APY < 0 || math.IsNaN(v.APY) {
			continue
		}
		totalAPY += v.APY
		totalTVL += math.Max(v.TVL, 0)
		count++
		if v.CollectedAt > latest {
			latest = v.CollectedAt
		}
	}
	if count == 0 {
		return Summary{Method: MethodAverage}
	}

	return Summary{
		APY:         totalAPY / float64(count),
		TVL:         totalTVL,
		Vaults:      count,
		CollectedAt: latest,
		Method:      MethodAverage,
	}
}

// TrimmedMean drops trimPercent of the lowest and highest APY rows and
// weights the rest by TVL. Fewer than three rows or a trim outside (0, 0.5)
// falls back to Weighted.
func TrimmedMean(vaults []model.VaultMetric, trimPercent float64) Summary {
	valid := make([]model.VaultMetric, 0, len(vaults))
	for _, v := range vaults {
		if usable(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) < 3 || trimPercent <= 0 || trimPercent >= 0.5 {
		return Weighted(valid)
	}

	sort.Slice(valid, func(i, j int) bool { return valid[i].APY < valid[j].APY })
	trim := int(float64(len(valid)) * trimPercent)

	s := Weighted(valid[trim : len(valid)-trim])
	s.Method = MethodTrimmedMean
	return s
}

// ByAsset groups the vaults per underlying asset and weights each group
func ByAsset(vaults []model.VaultMetric) map[model.Asset]Summary {
	groups := make(map[model.Asset][]model.VaultMetric)
	for _, v := range vaults {
		groups[v.Asset] = append(groups[v.Asset], v)
	}

	out := make(map[model.Asset]Summary, len(groups))
	for asset, rows := range groups {
		out[asset] = Weighted(rows)
	}
	return out
}

// Summarize validates the sheet rows, drops APY outliers and returns the
// TVL-weighted summary along with the rows that survived.
func Summarize(vaults []model.VaultMetric, opts validation.VaultOptions) (Summary, []model.VaultMetric) {
	kept := validation.FilterVaultOutliers(vaults, opts)
	return Weighted(kept), kept
}
