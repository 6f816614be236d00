package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/vault-rewards/internal/aggregate"
	"github.com/yourorg/vault-rewards/internal/model"
	"github.com/yourorg/vault-rewards/internal/units"
	"github.com/yourorg/vault-rewards/internal/validation"
)

// pricedAssets are the vault assets plus the reward token
func (s *Server) pricedAssets() []model.Asset {
	assets := s.deps.Vaults.Assets()
	for _, a := range assets {
		if a == model.AssetRBN {
			return assets
		}
	}
	return append(assets, model.AssetRBN)
}

// refreshPrices fetches, filters and breaker-checks one price snapshot.
// A rejected snapshot keeps the last good prices in service.
func (s *Server) refreshPrices(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	points, err := s.deps.Prices.Fetch(ctx, s.pricedAssets())
	if err != nil {
		s.metrics.feedErrors.WithLabelValues("prices").Inc()
		return fmt.Errorf("fetch prices: %w", err)
	}

	points = validation.FilterInvalidPrices(points, validation.PriceOptions{
		MaxAge:         validation.DefaultPriceOptions().MaxAge,
		MaxDailyChange: s.config.MaxDailyChange,
	})

	err = s.breaker.Check(points)
	s.metrics.circuitBreaker.Set(float64(s.breaker.GetState()))
	if err != nil {
		s.metrics.feedErrors.WithLabelValues("circuit_breaker").Inc()
		return fmt.Errorf("price snapshot rejected: %w", err)
	}

	for _, p := range points {
		s.metrics.assetPrice.WithLabelValues(p.Asset.String()).Set(p.Price)
	}
	logrus.WithField("assets", len(points)).Debug("Prices refreshed")
	return nil
}

// refreshVaults fetches the yield sheet and updates the dashboard figures
func (s *Server) refreshVaults(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	rows, err := s.deps.Sheet.Fetch(ctx)
	if err != nil {
		s.metrics.feedErrors.WithLabelValues("sheet").Inc()
		return fmt.Errorf("fetch sheet: %w", err)
	}

	summary, kept := aggregate.Summarize(rows, vaultOptions())

	s.vaultsMu.Lock()
	s.vaults = kept
	s.vaultsMu.Unlock()

	s.metrics.aggregateAPY.Set(summary.APY)
	s.metrics.aggregateTVL.Set(summary.TVL)
	s.metrics.vaultCount.Set(float64(len(kept)))

	logrus.WithFields(logrus.Fields{
		"rows": len(rows),
		"kept": len(kept),
		"apy":  summary.APY,
	}).Debug("Vault sheet refreshed")
	return nil
}

// price returns the last good USD price of asset
func (s *Server) price(asset model.Asset) (float64, bool) {
	p, ok := s.breaker.LastGoodPrice(asset)
	if !ok {
		return 0, false
	}
	return p.Price, true
}

type priceView struct {
	model.PricePoint
	Formatted string `json:"formatted"`
}

// handlePrices serves the last breaker-checked prices
func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	points := s.breaker.LastGoodPrices()
	out := make([]priceView, 0, len(points))
	for _, p := range points {
		out = append(out, priceView{PricePoint: p, Formatted: units.FormatFiat(p.Price)})
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"circuit_state": s.breaker.GetState().String(),
		"prices":        out,
	})
}

// handleCircuitReset forces the price breaker closed
func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	s.breaker.Reset()
	s.metrics.circuitBreaker.Set(float64(s.breaker.GetState()))
	respond(w, http.StatusOK, map[string]string{
		"state":   s.breaker.GetState().String(),
		"message": "Circuit breaker reset",
	})
}

type vaultView struct {
	model.VaultMetric
	TVLFormatted string `json:"tvl_formatted"`
	APYFormatted string `json:"apy_formatted"`
}

func (s *Server) currentVaults() []model.VaultMetric {
	s.vaultsMu.RLock()
	defer s.vaultsMu.RUnlock()
	return append([]model.VaultMetric(nil), s.vaults...)
}

// handleVaults lists the validated sheet rows, optionally for one asset
func (s *Server) handleVaults(w http.ResponseWriter, r *http.Request) {
	var filter model.Asset
	if symbol := r.URL.Query().Get("asset"); symbol != "" {
		a, err := model.ParseAsset(symbol)
		if err != nil {
			errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		filter = a
	}

	rows := s.currentVaults()
	out := make([]vaultView, 0, len(rows))
	for _, v := range rows {
		if filter.Valid() && v.Asset != filter {
			continue
		}
		out = append(out, vaultView{
			VaultMetric:  v,
			TVLFormatted: units.FormatFiat(v.TVL),
			APYFormatted: units.FormatPercent(v.APY),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].APY > out[j].APY })
	respond(w, http.StatusOK, out)
}

// handleVaultSummary aggregates the validated rows with the requested method
func (s *Server) handleVaultSummary(w http.ResponseWriter, r *http.Request) {
	rows := s.currentVaults()

	var summary aggregate.Summary
	switch method := strings.ToLower(r.URL.Query().Get("method")); method {
	case "", aggregate.MethodWeighted:
		summary = aggregate.Weighted(rows)
	case aggregate.MethodMedian:
		summary = aggregate.MedianAggregation(rows)
	case aggregate.MethodAverage:
		summary = aggregate.Average(rows)
	case aggregate.MethodTrimmedMean, "trimmed":
		summary = aggregate.TrimmedMean(rows, 0.1)
	default:
		errorResponse(w, http.StatusBadRequest, fmt.Sprintf("unknown aggregation method %q", method))
		return
	}

	byAsset := make(map[string]aggregate.Summary)
	for asset, sum := range aggregate.ByAsset(rows) {
		byAsset[asset.String()] = sum
	}

	respond(w, http.StatusOK, map[string]interface{}{
		"summary":       summary,
		"tvl_formatted": units.FormatFiat(summary.TVL),
		"apy_formatted": units.FormatPercent(summary.APY),
		"by_asset":      byAsset,
	})
}

type positionField struct {
	Raw       string `json:"raw"`
	Formatted string `json:"formatted"`
}

// handlePosition reports an account's balances in one vault: the position
// in asset terms, redeemable shares, gauge stake and the instantly
// withdrawable deposit of the current round.
func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	bal := s.deps.Balances
	if bal == nil {
		errorResponse(w, http.StatusServiceUnavailable, "chain access not configured")
		return
	}
	vault, err := s.deps.Vaults.Lookup(chi.URLParam(r, "name"))
	if err != nil {
		errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	accountHex := chi.URLParam(r, "account")
	if !common.IsHexAddress(accountHex) {
		errorResponse(w, http.StatusBadRequest, "account must be a hex address")
		return
	}
	account := common.HexToAddress(accountHex)

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	type balanceRead struct {
		name string
		read func() (*big.Int, error)
	}
	reads := []balanceRead{
		{"position", func() (*big.Int, error) { return bal.AccountVaultBalance(ctx, vault.Address, account) }},
		{"shares", func() (*big.Int, error) { return bal.BalanceOf(ctx, vault.Address, account) }},
		{"instant_withdrawable", func() (*big.Int, error) { return bal.PendingDeposit(ctx, vault.Address, account) }},
	}
	if vault.Gauge != (common.Address{}) {
		reads = append(reads, balanceRead{"staked", func() (*big.Int, error) { return bal.BalanceOf(ctx, vault.Gauge, account) }})
	}

	out := map[string]interface{}{
		"vault":   vault.Name,
		"account": account.Hex(),
	}
	for _, rd := range reads {
		v, err := rd.read()
		if err != nil {
			errorResponse(w, http.StatusBadGateway, fmt.Sprintf("read %s: %v", rd.name, err))
			return
		}
		out[rd.name] = positionField{Raw: v.String(), Formatted: units.FormatAmount(v, vault.Decimals, 6)}
	}
	respond(w, http.StatusOK, out)
}
