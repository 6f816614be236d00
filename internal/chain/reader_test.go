package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	controller = common.HexToAddress("0x0000000000000000000000000000000000c0ffee")
	minter     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	gauge      = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	account    = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func TestGaugeRelativeWeight(t *testing.T) {
	backend := newFakeBackend()
	backend.answer(controller, "gauge_relative_weight", big.NewInt(5e17))

	r := NewGaugeReader(backend, controller, minter)
	w, err := r.GaugeRelativeWeight(context.Background(), gauge, 604800)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(5e17), w)
}

func TestRewardPeriodState(t *testing.T) {
	backend := newFakeBackend()
	backend.answer(gauge, "period", big.NewInt(12))
	backend.answer(gauge, "period_timestamp", big.NewInt(1_650_000_000))
	backend.answer(gauge, "future_epoch_time", big.NewInt(1_660_000_000))
	backend.answer(gauge, "integrate_inv_supply", big.NewInt(100))
	backend.answer(gauge, "integrate_inv_supply_of", big.NewInt(40))
	backend.answer(gauge, "integrate_fraction", big.NewInt(7))
	backend.answer(gauge, "inflation_rate", big.NewInt(3))
	backend.answer(gauge, "working_supply", big.NewInt(1_000))
	backend.answer(gauge, "working_balances", big.NewInt(10))
	backend.answer(gauge, "is_killed", true)
	backend.answer(minter, "rate", big.NewInt(4))
	backend.answer(minter, "minted", big.NewInt(2))

	r := NewGaugeReader(backend, controller, minter)
	state, err := r.RewardPeriodState(context.Background(), gauge, account)
	require.NoError(t, err)

	assert.Equal(t, gauge, state.Gauge)
	assert.Equal(t, int64(1_650_000_000), state.PeriodTimestamp)
	assert.Equal(t, int64(1_660_000_000), state.FutureEpochTime)
	assert.Equal(t, uint64(100), state.IntegrateInvSupply.Uint64())
	assert.Equal(t, uint64(40), state.IntegrateInvSupplyOf.Uint64())
	assert.Equal(t, uint64(7), state.IntegrateFraction.Uint64())
	assert.Equal(t, uint64(3), state.InflationRate.Uint64())
	assert.Equal(t, uint64(4), state.MinterRate.Uint64())
	assert.Equal(t, uint64(1_000), state.WorkingSupply.Uint64())
	assert.Equal(t, uint64(10), state.WorkingBalance.Uint64())
	assert.Equal(t, uint64(2), state.MintedAmount.Uint64())
	assert.True(t, state.IsKilled)
}

func TestRewardPeriodStateRejectsNegativePeriod(t *testing.T) {
	backend := newFakeBackend()
	backend.answer(gauge, "period", big.NewInt(-1))

	_, err := NewGaugeReader(backend, controller, minter).RewardPeriodState(context.Background(), gauge, account)
	assert.ErrorContains(t, err, "negative gauge period")
}

func TestReaderPropagatesCallErrors(t *testing.T) {
	backend := newFakeBackend()
	backend.callErr = errors.New("rpc down")

	_, err := NewVaultReader(backend).BalanceOf(context.Background(), gauge, account)
	assert.ErrorIs(t, err, backend.callErr)
}

func TestVaultReader(t *testing.T) {
	vault := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	token := common.HexToAddress("0x00000000000000000000000000000000000000ee")

	backend := newFakeBackend()
	backend.answer(token, "balanceOf", big.NewInt(500))
	backend.answer(token, "totalSupply", big.NewInt(9_000))
	backend.answer(token, "allowance", big.NewInt(77))
	backend.answer(vault, "cap", big.NewInt(10_000))
	backend.answer(vault, "totalBalance", big.NewInt(9_800))
	backend.answer(vault, "pricePerShare", big.NewInt(1_050_000))
	backend.answer(vault, "accountVaultBalance", big.NewInt(320))
	backend.answer(vault, "depositReceipts", uint16(14), big.NewInt(25), big.NewInt(0))

	r := NewVaultReader(backend)
	ctx := context.Background()

	bal, err := r.BalanceOf(ctx, token, account)
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal.Int64())

	supply, err := r.TotalSupply(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(9_000), supply.Int64())

	allowance, err := r.Allowance(ctx, token, account, vault)
	require.NoError(t, err)
	assert.Equal(t, int64(77), allowance.Int64())

	capacity, total, err := r.Capacity(ctx, vault)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), capacity.Int64())
	assert.Equal(t, int64(9_800), total.Int64())

	pps, err := r.PricePerShare(ctx, vault)
	require.NoError(t, err)
	assert.Equal(t, int64(1_050_000), pps.Int64())

	locked, err := r.AccountVaultBalance(ctx, vault, account)
	require.NoError(t, err)
	assert.Equal(t, int64(320), locked.Int64())

	pendingDeposit, err := r.PendingDeposit(ctx, vault, account)
	require.NoError(t, err)
	assert.Equal(t, int64(25), pendingDeposit.Int64())

	_, err = r.NativeBalance(ctx, account)
	assert.Error(t, err)
	backend.native = big.NewInt(3_000)
	native, err := r.NativeBalance(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, int64(3_000), native.Int64())
}

func TestCalldataHelpers(t *testing.T) {
	vault := common.HexToAddress("0x01")
	amount := big.NewInt(1_000)

	tests := []struct {
		name   string
		build  func() (Call, error)
		method []byte
	}{
		{"deposit", func() (Call, error) { return DepositCall(vault, amount) }, VaultABI.Methods["deposit"].ID},
		{"withdrawInstantly", func() (Call, error) { return WithdrawInstantlyCall(vault, amount) }, VaultABI.Methods["withdrawInstantly"].ID},
		{"initiateWithdraw", func() (Call, error) { return InitiateWithdrawCall(vault, amount) }, VaultABI.Methods["initiateWithdraw"].ID},
		{"completeWithdraw", func() (Call, error) { return CompleteWithdrawCall(vault) }, VaultABI.Methods["completeWithdraw"].ID},
		{"stake", func() (Call, error) { return StakeCall(gauge, amount) }, GaugeABI.Methods["deposit"].ID},
		{"unstake", func() (Call, error) { return UnstakeCall(gauge, amount) }, GaugeABI.Methods["withdraw"].ID},
		{"claim", func() (Call, error) { return ClaimCall(minter, gauge) }, MinterABI.Methods["mint"].ID},
		{"approve", func() (Call, error) { return ApproveCall(vault, gauge, amount) }, ERC20ABI.Methods["approve"].ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, err := tt.build()
			require.NoError(t, err)
			assert.Equal(t, tt.method, call.Data[:4])
		})
	}

	// the deposit argument round-trips
	call, err := DepositCall(vault, amount)
	require.NoError(t, err)
	args, err := VaultABI.Methods["deposit"].Inputs.Unpack(call.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, amount.String(), args[0].(*big.Int).String())
}
