package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

var (
	// ErrWrongChain is returned when the node serves another chain than configured
	ErrWrongChain = errors.New("chain: connected to wrong chain")

	// ErrZeroAddress is returned for a transaction without recipient
	ErrZeroAddress = errors.New("chain: contract address cannot be zero address")
)

// WalletOptions tune transaction building
type WalletOptions struct {
	// GasFeeCapMultiplier scales the base fee, fee cap = baseFee*m + tip
	GasFeeCapMultiplier int64
	// GasLimitMultiplier scales the estimated gas
	GasLimitMultiplier float64
	// GasLimit is the upper bound for the scaled estimate
	GasLimit uint64
	// PollInterval between receipt queries
	PollInterval time.Duration
}

// DefaultWalletOptions are used by NewWallet
func DefaultWalletOptions() WalletOptions {
	return WalletOptions{
		GasFeeCapMultiplier: 2,
		GasLimitMultiplier:  1.2,
		GasLimit:            3_000_000,
		PollInterval:        2 * time.Second,
	}
}

// Wallet signs with a local key and sends over Backend
type Wallet struct {
	backend Backend
	key     *ecdsa.PrivateKey
	account common.Address
	chainID *big.Int
	signer  types.Signer
	opts    WalletOptions
}

// NewWallet creates a wallet for the hex encoded private key on chainID
func NewWallet(backend Backend, hexKey string, chainID *big.Int, opts WalletOptions) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("invalid chain id %v", chainID)
	}
	return &Wallet{
		backend: backend,
		key:     key,
		account: crypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
		signer:  types.LatestSignerForChainID(chainID),
		opts:    opts,
	}, nil
}

// Account is the sender address
func (w *Wallet) Account() common.Address {
	return w.account
}

// ChainID is the configured chain
func (w *Wallet) ChainID() *big.Int {
	return new(big.Int).Set(w.chainID)
}

// Connect checks that the node serves the configured chain
func (w *Wallet) Connect(ctx context.Context) error {
	id, err := w.backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve chain ID: %w", err)
	}
	if id.Cmp(w.chainID) != 0 {
		return fmt.Errorf("%w: node reports %s, expected %s", ErrWrongChain, id, w.chainID)
	}
	logrus.WithFields(logrus.Fields{
		"account":  w.account.Hex(),
		"chain_id": id.String(),
	}).Info("Wallet connected")
	return nil
}

// SendTransaction builds, signs and broadcasts call as an EIP-1559
// transaction and returns its hash.
func (w *Wallet) SendTransaction(ctx context.Context, call Call) (common.Hash, error) {
	tx, err := w.buildTx(ctx, call)
	if err != nil {
		return common.Hash{}, err
	}
	signed, err := types.SignTx(tx, w.signer, w.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"hash":  signed.Hash().Hex(),
		"to":    call.To.Hex(),
		"nonce": signed.Nonce(),
	}).Info("Transaction sent")
	return signed.Hash(), nil
}

func (w *Wallet) buildTx(ctx context.Context, call Call) (*types.Transaction, error) {
	if call.To == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := w.backend.PendingNonceAt(ctx, w.account)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	tip, feeCap, err := w.suggestGasFees(ctx)
	if err != nil {
		return nil, err
	}

	estimate, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      w.account,
		To:        &call.To,
		GasFeeCap: feeCap,
		GasTipCap: tip,
		Value:     value,
		Data:      call.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}
	gas := estimate
	if w.opts.GasLimitMultiplier > 0 {
		gas = uint64(float64(estimate) * w.opts.GasLimitMultiplier)
	}
	if w.opts.GasLimit > 0 && gas > w.opts.GasLimit {
		return nil, fmt.Errorf("failed to estimate gas limit (%d > %d)", gas, w.opts.GasLimit)
	}

	to := call.To
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      call.Data,
	}), nil
}

// suggestGasFees returns the tip and a fee cap of baseFee*m + tip
func (w *Wallet) suggestGasFees(ctx context.Context) (*big.Int, *big.Int, error) {
	tip, err := w.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to suggest gas tip cap: %w", err)
	}
	head, err := w.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get header: %w", err)
	}
	if head.BaseFee == nil {
		return nil, nil, fmt.Errorf("chain does not support EIP-1559")
	}
	multiplier := w.opts.GasFeeCapMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(multiplier))
	feeCap.Add(feeCap, tip)
	return tip, feeCap, nil
}

// WaitForTransaction polls until the transaction is mined with at least
// confirmations blocks on top of and including its own. The receipt is
// returned whatever its status. ctx bounds the wait.
func (w *Wallet) WaitForTransaction(ctx context.Context, hash common.Hash, confirmations uint64) (*types.Receipt, error) {
	return WaitForTransaction(ctx, w.backend, hash, confirmations, w.opts.PollInterval)
}

// WaitForTransaction is the backend level implementation of
// Wallet.WaitForTransaction.
func WaitForTransaction(ctx context.Context, backend Backend, hash common.Hash, confirmations uint64, interval time.Duration) (*types.Receipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, receipt, err := confirmed(ctx, backend, hash, confirmations)
		if err != nil {
			return nil, err
		}
		if done {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func confirmed(ctx context.Context, backend Backend, hash common.Hash, confirmations uint64) (bool, *types.Receipt, error) {
	receipt, err := backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	if receipt.BlockNumber == nil {
		return false, nil, nil
	}

	head, err := backend.BlockNumber(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("failed to get block number: %w", err)
	}
	mined := receipt.BlockNumber.Uint64()
	if head < mined || head-mined+1 < confirmations {
		return false, nil, nil
	}
	return true, receipt, nil
}
