package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20JSON = `[
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const vaultJSON = `[
 {"type":"function","name":"cap","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"totalBalance","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"pricePerShare","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"accountVaultBalance","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"depositReceipts","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"round","type":"uint16"},{"name":"amount","type":"uint104"},{"name":"unredeemedShares","type":"uint128"}]},
 {"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"depositETH","stateMutability":"payable","inputs":[],"outputs":[]},
 {"type":"function","name":"withdrawInstantly","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"initiateWithdraw","stateMutability":"nonpayable","inputs":[{"name":"numShares","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"completeWithdraw","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

const gaugeJSON = `[
 {"type":"function","name":"period","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"int128"}]},
 {"type":"function","name":"period_timestamp","stateMutability":"view","inputs":[{"name":"arg0","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"integrate_inv_supply","stateMutability":"view","inputs":[{"name":"arg0","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"integrate_inv_supply_of","stateMutability":"view","inputs":[{"name":"arg0","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"integrate_fraction","stateMutability":"view","inputs":[{"name":"arg0","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"future_epoch_time","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"inflation_rate","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"is_killed","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"working_supply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"working_balances","stateMutability":"view","inputs":[{"name":"arg0","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"_value","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"_value","type":"uint256"}],"outputs":[]}
]`

const minterJSON = `[
 {"type":"function","name":"rate","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"minted","stateMutability":"view","inputs":[{"name":"arg0","type":"address"},{"name":"arg1","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"gauge_addr","type":"address"}],"outputs":[]}
]`

const controllerJSON = `[
 {"type":"function","name":"gauge_relative_weight","stateMutability":"view","inputs":[{"name":"addr","type":"address"},{"name":"time","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	ERC20ABI      = mustParse(erc20JSON)
	VaultABI      = mustParse(vaultJSON)
	GaugeABI      = mustParse(gaugeJSON)
	MinterABI     = mustParse(minterJSON)
	ControllerABI = mustParse(controllerJSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("chain: invalid ABI: %v", err))
	}
	return parsed
}

// DepositCall deposits amount of the vault's asset
func DepositCall(vault common.Address, amount *big.Int) (Call, error) {
	return pack(vault, VaultABI, "deposit", amount)
}

// DepositETHCall deposits native ETH into a WETH vault
func DepositETHCall(vault common.Address, amount *big.Int) (Call, error) {
	c, err := pack(vault, VaultABI, "depositETH")
	if err != nil {
		return Call{}, err
	}
	if amount != nil {
		c.Value = new(big.Int).Set(amount)
	}
	return c, nil
}

// WithdrawInstantlyCall withdraws amount deposited in the current round
func WithdrawInstantlyCall(vault common.Address, amount *big.Int) (Call, error) {
	return pack(vault, VaultABI, "withdrawInstantly", amount)
}

// InitiateWithdrawCall queues numShares for withdrawal at the next round
func InitiateWithdrawCall(vault common.Address, numShares *big.Int) (Call, error) {
	return pack(vault, VaultABI, "initiateWithdraw", numShares)
}

// CompleteWithdrawCall claims a withdrawal queued in an earlier round
func CompleteWithdrawCall(vault common.Address) (Call, error) {
	return pack(vault, VaultABI, "completeWithdraw")
}

// StakeCall deposits vault shares into the liquidity gauge
func StakeCall(gauge common.Address, amount *big.Int) (Call, error) {
	return pack(gauge, GaugeABI, "deposit", amount)
}

// UnstakeCall withdraws vault shares from the liquidity gauge
func UnstakeCall(gauge common.Address, amount *big.Int) (Call, error) {
	return pack(gauge, GaugeABI, "withdraw", amount)
}

// ClaimCall mints the gauge rewards of the sender
func ClaimCall(minter, gauge common.Address) (Call, error) {
	return pack(minter, MinterABI, "mint", gauge)
}

// ApproveCall approves spender for amount of token
func ApproveCall(token, spender common.Address, amount *big.Int) (Call, error) {
	return pack(token, ERC20ABI, "approve", spender, amount)
}

func pack(to common.Address, contract abi.ABI, method string, args ...interface{}) (Call, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return Call{}, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	return Call{To: to, Data: data}, nil
}
