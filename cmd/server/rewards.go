package main

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/vault-rewards/internal/model"
	tracing "github.com/yourorg/vault-rewards/internal/otel"
	"github.com/yourorg/vault-rewards/internal/rewards"
	"github.com/yourorg/vault-rewards/internal/units"
)

// rewardDecimals is the precision of the reward and vote-escrow tokens
const rewardDecimals = 18

type veRequest struct {
	// Amount is a whole-token decimal string
	Amount   string `json:"amount"`
	Duration string `json:"duration"`
}

// handleVeAmount returns the vote-escrow balance for a new lock
func (s *Server) handleVeAmount(w http.ResponseWriter, r *http.Request) {
	var req veRequest
	if err := decode(w, r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	locked, err := units.ParseUnits(req.Amount, rewardDecimals)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, fmt.Sprintf("amount: %v", err))
		return
	}
	duration, err := parseDuration("duration", req.Duration)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	ve := rewards.InitialVeAmount(locked, duration)
	respond(w, http.StatusOK, map[string]string{
		"ve_amount": ve.String(),
		"formatted": units.FormatAmount(ve, rewardDecimals, 4),
	})
}

type penaltyRequest struct {
	Amount    string `json:"amount"`
	Remaining string `json:"remaining"`
}

// handlePenalty returns the early unlock penalty for a lock
func (s *Server) handlePenalty(w http.ResponseWriter, r *http.Request) {
	var req penaltyRequest
	if err := decode(w, r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	locked, err := units.ParseUnits(req.Amount, rewardDecimals)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, fmt.Sprintf("amount: %v", err))
		return
	}
	remaining, err := parseDuration("remaining", req.Remaining)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	pct := rewards.EarlyUnlockPenaltyPercentage(remaining)
	penalty := rewards.EarlyUnlockPenalty(locked, remaining)
	respond(w, http.StatusOK, map[string]interface{}{
		"percentage": pct,
		"penalty":    penalty.String(),
		"formatted":  units.FormatAmount(penalty, rewardDecimals, 4),
	})
}

type baseRewardsRequest struct {
	Vault         string `json:"vault"`
	PoolSize      string `json:"pool_size"`
	PoolReward    string `json:"pool_reward"`
	PricePerShare string `json:"price_per_share"`

	// Optional overrides of the feed prices
	AssetPrice float64 `json:"asset_price,omitempty"`
	RBNPrice   float64 `json:"rbn_price,omitempty"`
}

// handleBaseRewards returns the unboosted gauge APY of a vault
func (s *Server) handleBaseRewards(w http.ResponseWriter, r *http.Request) {
	var req baseRewardsRequest
	if err := decode(w, r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	vault, err := s.deps.Vaults.Lookup(req.Vault)
	if err != nil {
		errorResponse(w, http.StatusNotFound, err.Error())
		return
	}

	in := rewards.BaseRewardsInput{
		Decimals:   vault.Decimals,
		AssetPrice: req.AssetPrice,
		RBNPrice:   req.RBNPrice,
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"pool_size", req.PoolSize, &in.PoolSize},
		{"pool_reward", req.PoolReward, &in.PoolReward},
		{"price_per_share", req.PricePerShare, &in.PricePerShare},
	} {
		v, err := parseRaw(f.name, f.raw)
		if err != nil {
			errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		*f.dst = v
	}

	if in.AssetPrice == 0 {
		p, ok := s.price(vault.Asset)
		if !ok {
			errorResponse(w, http.StatusServiceUnavailable, fmt.Sprintf("no price for %s", vault.Asset))
			return
		}
		in.AssetPrice = p
	}
	if in.RBNPrice == 0 {
		p, ok := s.price(model.AssetRBN)
		if !ok {
			errorResponse(w, http.StatusServiceUnavailable, "no price for RBN")
			return
		}
		in.RBNPrice = p
	}

	apy := rewards.BaseRewards(in)
	if !finite(apy) {
		errorResponse(w, http.StatusUnprocessableEntity, "inputs out of range")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"vault":     vault.Name,
		"apy":       apy,
		"formatted": units.FormatPercent(apy),
	})
}

type boostRequest struct {
	WorkingBalance string  `json:"working_balance"`
	WorkingSupply  string  `json:"working_supply"`
	GaugeBalance   string  `json:"gauge_balance"`
	PoolLiquidity  string  `json:"pool_liquidity"`
	VeTokenAmount  string  `json:"ve_amount"`
	TotalVeToken   string  `json:"total_ve"`
	BaseAPY        float64 `json:"base_apy"`
}

// handleBoost returns the boost multiplier and the boosted APY
func (s *Server) handleBoost(w http.ResponseWriter, r *http.Request) {
	var req boostRequest
	if err := decode(w, r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	var in rewards.BoostInputs
	for _, f := range []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"working_balance", req.WorkingBalance, &in.WorkingBalance},
		{"working_supply", req.WorkingSupply, &in.WorkingSupply},
		{"gauge_balance", req.GaugeBalance, &in.GaugeBalance},
		{"pool_liquidity", req.PoolLiquidity, &in.PoolLiquidity},
		{"ve_amount", req.VeTokenAmount, &in.VeTokenAmount},
		{"total_ve", req.TotalVeToken, &in.TotalVeToken},
	} {
		v, err := parseRaw(f.name, f.raw)
		if err != nil {
			errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		*f.dst = v
	}

	if in.WorkingBalance.Cmp(in.WorkingSupply) > 0 {
		errorResponse(w, http.StatusBadRequest, "working_balance exceeds working_supply")
		return
	}

	multiplier := rewards.BoostMultiplier(in)
	boosted := rewards.BoostedRewards(req.BaseAPY, multiplier)
	if !finite(multiplier) || !finite(boosted) {
		errorResponse(w, http.StatusUnprocessableEntity, "inputs out of range")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"multiplier":  multiplier,
		"boosted_apy": boosted,
		"formatted":   units.FormatPercent(boosted),
	})
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// handleClaimable replays the gauge checkpoint of an account. A checkpoint
// older than the replay bound is answered with the partial amount and
// truncated set.
func (s *Server) handleClaimable(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gauges == nil {
		errorResponse(w, http.StatusServiceUnavailable, "chain access not configured")
		return
	}
	gaugeHex, accountHex := chi.URLParam(r, "gauge"), chi.URLParam(r, "account")
	if !common.IsHexAddress(gaugeHex) || !common.IsHexAddress(accountHex) {
		errorResponse(w, http.StatusBadRequest, "gauge and account must be hex addresses")
		return
	}
	gauge, account := common.HexToAddress(gaugeHex), common.HexToAddress(accountHex)

	ctx, span := tracing.Tracer().Start(r.Context(), "rewards.claimable")
	span.SetAttributes(
		attribute.String("gauge", gauge.Hex()),
		attribute.String("account", account.Hex()),
	)
	defer span.End()

	state, err := s.deps.Gauges.RewardPeriodState(ctx, gauge, account)
	if err != nil {
		tracing.RecordError(ctx, err)
		errorResponse(w, http.StatusBadGateway, fmt.Sprintf("read gauge state: %v", err))
		return
	}

	result, err := rewards.Claimable(ctx, state, s.deps.Gauges, time.Now().Unix())
	if err != nil && !errors.Is(err, rewards.ErrReplayLimit) {
		tracing.RecordError(ctx, err)
		status := http.StatusBadGateway
		if errors.Is(err, rewards.ErrOverflow) {
			status = http.StatusUnprocessableEntity
		}
		errorResponse(w, status, fmt.Sprintf("claimable: %v", err))
		return
	}
	span.SetAttributes(attribute.Int("weeks", result.Weeks), attribute.Bool("truncated", result.Truncated))

	amount := result.Amount.ToBig()
	respond(w, http.StatusOK, map[string]interface{}{
		"gauge":     gauge.Hex(),
		"account":   account.Hex(),
		"amount":    amount.String(),
		"formatted": units.FormatAmount(amount, rewardDecimals, 4),
		"weeks":     result.Weeks,
		"truncated": result.Truncated,
	})
}
