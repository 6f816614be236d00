package validation

import (
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/vault-rewards/internal/model"
)

// PriceOptions holds the sanity limits applied to oracle prices
type PriceOptions struct {
	// MaxAge defines how recent a price must be to be used
	MaxAge time.Duration

	// MaxDailyChange is the largest accepted |24h change| in percent
	MaxDailyChange float64
}

// DefaultPriceOptions returns the limits used by the price poller
func DefaultPriceOptions() PriceOptions {
	return PriceOptions{
		MaxAge:         time.Hour,
		MaxDailyChange: 90,
	}
}

// FilterInvalidPrices drops prices that are unknown, non positive, stale or
// moved more than the allowed daily change.
func FilterInvalidPrices(points []model.PricePoint, opts PriceOptions) []model.PricePoint {
	valid := make([]model.PricePoint, 0, len(points))
	for _, p := range points {
		if isValidPrice(p, opts) {
			valid = append(valid, p)
			continue
		}
		logrus.WithFields(logrus.Fields{
			"asset":        p.Asset.String(),
			"price":        p.Price,
			"daily_change": p.DailyChange,
		}).Debug("Filtered invalid price")
	}
	return valid
}

func isValidPrice(p model.PricePoint, opts PriceOptions) bool {
	if !p.Asset.Valid() {
		return false
	}
	if p.Price <= 0 || math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
		return false
	}
	if opts.MaxDailyChange > 0 && math.Abs(p.DailyChange) > opts.MaxDailyChange {
		return false
	}
	if opts.MaxAge > 0 && time.Since(time.Unix(p.CollectedAt, 0)) > opts.MaxAge {
		return false
	}
	return true
}

// VaultOptions holds configuration for vault metric validation
type VaultOptions struct {
	// MaxAge defines how recent a sheet row must be
	MaxAge time.Duration

	// MaxAPY is the largest plausible APY in percent
	MaxAPY float64

	// EnableOutlierDetection enables IQR filtering on APY
	EnableOutlierDetection bool

	// OutlierIQRMultiplier defines sensitivity for outlier detection (1.5 is standard)
	OutlierIQRMultiplier float64
}

// DefaultVaultOptions returns sensible defaults for the dashboard
func DefaultVaultOptions() VaultOptions {
	return VaultOptions{
		MaxAge:                 24 * time.Hour,
		MaxAPY:                 1000,
		EnableOutlierDetection: true,
		OutlierIQRMultiplier:   1.5,
	}
}

// FilterVaultOutliers removes vault rows failing basic criteria and, with at
// least four rows left, APY outliers by the IQR method.
func FilterVaultOutliers(vaults []model.VaultMetric, opts VaultOptions) []model.VaultMetric {
	valid := make([]model.VaultMetric, 0, len(vaults))
	for _, v := range vaults {
		if isValidVault(v, opts) {
			valid = append(valid, v)
			continue
		}
		logrus.WithFields(logrus.Fields{
			"vault": v.Vault,
			"apy":   v.APY,
			"tvl":   v.TVL,
		}).Debug("Filtered invalid vault metric")
	}

	if opts.EnableOutlierDetection && len(valid) > 3 {
		return filterOutliers(valid, opts.OutlierIQRMultiplier)
	}
	return valid
}

func isValidVault(v model.VaultMetric, opts VaultOptions) bool {
	if v.Vault == "" {
		return false
	}
	if v.APY < 0 || (opts.MaxAPY > 0 && v.APY > opts.MaxAPY) {
		return false
	}
	if v.TVL < 0 {
		return false
	}
	if opts.MaxAge > 0 && time.Since(time.Unix(v.CollectedAt, 0)) > opts.MaxAge {
		return false
	}
	return true
}

func filterOutliers(vaults []model.VaultMetric, iqrMultiplier float64) []model.VaultMetric {
	apys := make([]float64, len(vaults))
	for i, v := range vaults {
		apys[i] = v.APY
	}
	sort.Float64s(apys)
	q1 := apys[len(apys)/4]
	q3 := apys[len(apys)*3/4]
	iqr := q3 - q1

	lowerBound := q1 - iqrMultiplier*iqr
	upperBound := q3 + iqrMultiplier*iqr

	// tightly clustered yields would otherwise reject everything off the cluster
	if upperBound-lowerBound < 0.5 {
		mean := calculateMean(apys)
		lowerBound = mean * 0.5
		upperBound = mean * 2.0
	}

	valid := make([]model.VaultMetric, 0, len(vaults))
	for _, v := range vaults {
		if v.APY >= lowerBound && v.APY <= upperBound {
			valid = append(valid, v)
			continue
		}
		logrus.WithFields(logrus.Fields{
			"vault":  v.Vault,
			"apy":    v.APY,
			"bounds": []float64{lowerBound, upperBound},
		}).Info("Filtered outlier vault")
	}

	logrus.WithFields(logrus.Fields{
		"total":    len(vaults),
		"filtered": len(vaults) - len(valid),
	}).Debug("Outlier filtering complete")
	return valid
}

func calculateMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
