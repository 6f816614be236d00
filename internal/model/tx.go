package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxType is the user action a submitted transaction performs
type TxType string

const (
	TxDeposit         TxType = "deposit"
	TxWithdraw        TxType = "withdraw"
	TxWithdrawInstant TxType = "withdrawInstantly"
	TxStake           TxType = "stake"
	TxUnstake         TxType = "unstake"
	TxClaim           TxType = "claim"
	TxSwap            TxType = "swap"
	TxApprove         TxType = "approval"
)

// TxStatus tracks a submitted transaction until it is mined
type TxStatus string

const (
	TxStatusPending  TxStatus = "pending"
	TxStatusSuccess  TxStatus = "success"
	TxStatusReverted TxStatus = "reverted"
)

// PendingTransaction is the record announced when a wallet accepts a
// transaction. It is keyed by Hash.
type PendingTransaction struct {
	Hash        common.Hash    `json:"hash"`
	Type        TxType         `json:"type"`
	Amount      *big.Int       `json:"amount"`
	Vault       string         `json:"vault,omitempty"`
	Account     common.Address `json:"account"`
	Status      TxStatus       `json:"status"`
	SubmittedAt int64          `json:"submitted_at"`
	ConfirmedAt int64          `json:"confirmed_at,omitempty"`
}
