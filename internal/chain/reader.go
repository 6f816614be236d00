package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/yourorg/vault-rewards/internal/rewards"
)

// caller packs, calls and unpacks view methods
type caller struct {
	backend Backend
}

func (c caller) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	output, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s on %s: %w", method, to.Hex(), err)
	}
	values, err := contract.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("empty result from %s", method)
	}
	return values, nil
}

func (c caller) bigInt(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) (*big.Int, error) {
	values, err := c.call(ctx, to, contract, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %T from %s", values[0], method)
	}
	return v, nil
}

func (c caller) word(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) (*uint256.Int, error) {
	v, err := c.bigInt(ctx, to, contract, method, args...)
	if err != nil {
		return nil, err
	}
	return toWord(v, method)
}

func toWord(v *big.Int, method string) (*uint256.Int, error) {
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative value from %s", method)
	}
	w, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%s result exceeds 256 bits", method)
	}
	return w, nil
}

// GaugeReader reads liquidity gauge checkpoints. It also resolves gauge
// weights through the gauge controller.
type GaugeReader struct {
	caller
	controller common.Address
	minter     common.Address
}

var _ rewards.WeightLookup = (*GaugeReader)(nil)

// NewGaugeReader creates a reader against the given controller and minter
func NewGaugeReader(backend Backend, controller, minter common.Address) *GaugeReader {
	return &GaugeReader{caller: caller{backend: backend}, controller: controller, minter: minter}
}

// GaugeRelativeWeight implements rewards.WeightLookup
func (g *GaugeReader) GaugeRelativeWeight(ctx context.Context, gauge common.Address, weekStart int64) (*uint256.Int, error) {
	return g.word(ctx, g.controller, ControllerABI, "gauge_relative_weight", gauge, big.NewInt(weekStart))
}

// RewardPeriodState reads the checkpoint of account on gauge
func (g *GaugeReader) RewardPeriodState(ctx context.Context, gauge, account common.Address) (rewards.RewardPeriodState, error) {
	state := rewards.RewardPeriodState{Gauge: gauge}

	period, err := g.bigInt(ctx, gauge, GaugeABI, "period")
	if err != nil {
		return state, err
	}
	if period.Sign() < 0 {
		return state, fmt.Errorf("negative gauge period %s", period)
	}

	ts, err := g.bigInt(ctx, gauge, GaugeABI, "period_timestamp", period)
	if err != nil {
		return state, err
	}
	if !ts.IsInt64() {
		return state, fmt.Errorf("period timestamp %s out of range", ts)
	}
	state.PeriodTimestamp = ts.Int64()

	epoch, err := g.bigInt(ctx, gauge, GaugeABI, "future_epoch_time")
	if err != nil {
		return state, err
	}
	if !epoch.IsInt64() {
		return state, fmt.Errorf("future epoch time %s out of range", epoch)
	}
	state.FutureEpochTime = epoch.Int64()

	words := []struct {
		dst    **uint256.Int
		to     common.Address
		abi    abi.ABI
		method string
		args   []interface{}
	}{
		{&state.IntegrateInvSupply, gauge, GaugeABI, "integrate_inv_supply", []interface{}{period}},
		{&state.IntegrateInvSupplyOf, gauge, GaugeABI, "integrate_inv_supply_of", []interface{}{account}},
		{&state.IntegrateFraction, gauge, GaugeABI, "integrate_fraction", []interface{}{account}},
		{&state.InflationRate, gauge, GaugeABI, "inflation_rate", nil},
		{&state.WorkingSupply, gauge, GaugeABI, "working_supply", nil},
		{&state.WorkingBalance, gauge, GaugeABI, "working_balances", []interface{}{account}},
		{&state.MinterRate, g.minter, MinterABI, "rate", nil},
		{&state.MintedAmount, g.minter, MinterABI, "minted", []interface{}{account, gauge}},
	}
	for _, w := range words {
		v, err := g.word(ctx, w.to, w.abi, w.method, w.args...)
		if err != nil {
			return state, err
		}
		*w.dst = v
	}

	killed, err := g.call(ctx, gauge, GaugeABI, "is_killed")
	if err != nil {
		return state, err
	}
	state.IsKilled, _ = killed[0].(bool)
	return state, nil
}

// VaultReader reads vault, token and gauge balances
type VaultReader struct {
	caller
}

// NewVaultReader creates a reader over backend
func NewVaultReader(backend Backend) *VaultReader {
	return &VaultReader{caller: caller{backend: backend}}
}

// BalanceOf is the ERC20 balance of account. Vault shares and gauge stakes
// are ERC20 balances on the vault and gauge.
func (v *VaultReader) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	return v.bigInt(ctx, token, ERC20ABI, "balanceOf", account)
}

// NativeBalance is the account's balance in the chain's native asset
func (v *VaultReader) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := v.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("error reading native balance of %s: %w", account.Hex(), err)
	}
	return balance, nil
}

// TotalSupply of an ERC20 token
func (v *VaultReader) TotalSupply(ctx context.Context, token common.Address) (*big.Int, error) {
	return v.bigInt(ctx, token, ERC20ABI, "totalSupply")
}

// Allowance granted by owner to spender
func (v *VaultReader) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return v.bigInt(ctx, token, ERC20ABI, "allowance", owner, spender)
}

// Capacity returns the vault cap and its current total balance
func (v *VaultReader) Capacity(ctx context.Context, vault common.Address) (capacity, total *big.Int, err error) {
	capacity, err = v.bigInt(ctx, vault, VaultABI, "cap")
	if err != nil {
		return nil, nil, err
	}
	total, err = v.bigInt(ctx, vault, VaultABI, "totalBalance")
	if err != nil {
		return nil, nil, err
	}
	return capacity, total, nil
}

// PricePerShare of the vault, scaled by the asset decimals
func (v *VaultReader) PricePerShare(ctx context.Context, vault common.Address) (*big.Int, error) {
	return v.bigInt(ctx, vault, VaultABI, "pricePerShare")
}

// AccountVaultBalance is the account's position in asset terms
func (v *VaultReader) AccountVaultBalance(ctx context.Context, vault, account common.Address) (*big.Int, error) {
	return v.bigInt(ctx, vault, VaultABI, "accountVaultBalance", account)
}

// PendingDeposit is the amount deposited in the current round, the only
// part that can be withdrawn instantly.
func (v *VaultReader) PendingDeposit(ctx context.Context, vault, account common.Address) (*big.Int, error) {
	values, err := v.call(ctx, vault, VaultABI, "depositReceipts", account)
	if err != nil {
		return nil, err
	}
	if len(values) < 2 {
		return nil, fmt.Errorf("short depositReceipts result")
	}
	amount, ok := values[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %T in depositReceipts", values[1])
	}
	return amount, nil
}
