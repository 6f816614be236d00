// Package validation holds the form validation rules of the transaction
// wizards and the sanity filters applied to price and vault data.
package validation

import (
	"math/big"
)

// Code is an inline form error. Codes block the form→preview transition and
// are never returned as Go errors.
type Code string

const (
	CodeNone                  Code = ""
	CodeEmptyAmount           Code = "emptyAmount"
	CodeInsufficientBalance   Code = "insufficientBalance"
	CodeMaxExceeded           Code = "maxExceeded"
	CodeCapacityOverflow      Code = "capacityOverflow"
	CodeWithdrawLimitExceeded Code = "withdrawLimitExceeded"
	CodeInsufficientStaked    Code = "insufficient_staked"
	CodeInsufficientUnstaked  Code = "insufficient_balance"
)

// Message is the short inline text shown for a code
func (c Code) Message() string {
	switch c {
	case CodeNone:
		return ""
	case CodeEmptyAmount:
		return "Enter an amount"
	case CodeInsufficientBalance:
		return "Insufficient balance"
	case CodeMaxExceeded:
		return "Exceeds deposit limit"
	case CodeCapacityOverflow:
		return "Exceeds vault capacity"
	case CodeWithdrawLimitExceeded:
		return "Available limit exceeded"
	case CodeInsufficientStaked:
		return "Insufficient staked balance"
	case CodeInsufficientUnstaked:
		return "Insufficient unstaked balance"
	}
	return string(c)
}

// DepositLimits are the balances a deposit is checked against.
// A nil MaxDeposit means the vault has no per-user ceiling.
type DepositLimits struct {
	WalletBalance *big.Int
	MaxDeposit    *big.Int
	Cap           *big.Int
	TotalBalance  *big.Int
}

// WithdrawKind selects which balance bucket a withdrawal draws from
type WithdrawKind int

const (
	// WithdrawStandard draws from the locked balance and completes next round
	WithdrawStandard WithdrawKind = iota
	// WithdrawInstant draws from the unlocked deposit of the current round
	WithdrawInstant
)

// WithdrawBalances are the buckets a withdrawal is checked against
type WithdrawBalances struct {
	Locked   *big.Int
	Unlocked *big.Int
}

// ValidateDeposit checks balance, then the per-user ceiling, then the vault's
// remaining capacity.
func ValidateDeposit(amount *big.Int, limits DepositLimits) Code {
	if isEmpty(amount) {
		return CodeEmptyAmount
	}
	if exceeds(amount, limits.WalletBalance) {
		return CodeInsufficientBalance
	}
	if limits.MaxDeposit != nil && amount.Cmp(limits.MaxDeposit) > 0 {
		return CodeMaxExceeded
	}
	if limits.Cap != nil {
		remaining := new(big.Int).Sub(limits.Cap, orZero(limits.TotalBalance))
		if amount.Cmp(remaining) > 0 {
			return CodeCapacityOverflow
		}
	}
	return CodeNone
}

// ValidateWithdraw checks the amount against the bucket kind draws from
func ValidateWithdraw(amount *big.Int, kind WithdrawKind, balances WithdrawBalances) Code {
	if isEmpty(amount) {
		return CodeEmptyAmount
	}
	bucket := balances.Locked
	if kind == WithdrawInstant {
		bucket = balances.Unlocked
	}
	if exceeds(amount, bucket) {
		return CodeWithdrawLimitExceeded
	}
	return CodeNone
}

// ValidateStake checks a gauge stake against the unstaked share balance
func ValidateStake(amount, unstaked *big.Int) Code {
	if isEmpty(amount) {
		return CodeEmptyAmount
	}
	if exceeds(amount, unstaked) {
		return CodeInsufficientUnstaked
	}
	return CodeNone
}

// ValidateUnstake checks a gauge withdrawal against the staked balance
func ValidateUnstake(amount, staked *big.Int) Code {
	if isEmpty(amount) {
		return CodeEmptyAmount
	}
	if exceeds(amount, staked) {
		return CodeInsufficientStaked
	}
	return CodeNone
}

// ValidateSwap checks the offer amount against the wallet balance
func ValidateSwap(amount, balance *big.Int) Code {
	if isEmpty(amount) {
		return CodeEmptyAmount
	}
	if exceeds(amount, balance) {
		return CodeInsufficientBalance
	}
	return CodeNone
}

func isEmpty(amount *big.Int) bool {
	return amount == nil || amount.Sign() <= 0
}

// exceeds treats a nil limit as zero
func exceeds(amount, limit *big.Int) bool {
	return amount.Cmp(orZero(limit)) > 0
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
