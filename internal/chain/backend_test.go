package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeBackend is an in-memory node. View calls are answered from results,
// keyed by contract address and method name.
type fakeBackend struct {
	mu sync.Mutex

	chainID  *big.Int
	baseFee  *big.Int
	tip      *big.Int
	nonce    uint64
	gas      uint64
	head     uint64
	headStep uint64
	native   *big.Int

	sent     []*types.Transaction
	sendErr  error
	receipts map[common.Hash]*types.Receipt
	rcptErr  error

	results map[string][]interface{}
	callErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:  big.NewInt(1),
		baseFee:  big.NewInt(30_000_000_000),
		tip:      big.NewInt(1_000_000_000),
		nonce:    7,
		gas:      100_000,
		receipts: make(map[common.Hash]*types.Receipt),
		results:  make(map[string][]interface{}),
	}
}

func resultKey(to common.Address, method string) string {
	return fmt.Sprintf("%s:%s", to.Hex(), method)
}

func (f *fakeBackend) answer(to common.Address, method string, values ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[resultKey(to, method)] = values
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.head
	f.head += f.headStep
	return h, nil
}

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	if f.native == nil {
		return nil, errors.New("no balance")
	}
	return new(big.Int).Set(f.native), nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: f.baseFee}, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return f.tip, nil }

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.gas, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) mine(hash common.Hash, block uint64, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = &types.Receipt{TxHash: hash, Status: status, BlockNumber: new(big.Int).SetUint64(block)}
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rcptErr != nil {
		return nil, f.rcptErr
	}
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

var allABIs = []abi.ABI{ERC20ABI, VaultABI, GaugeABI, MinterABI, ControllerABI}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, errors.New("bad call")
	}
	for _, contract := range allABIs {
		method, err := contract.MethodById(msg.Data[:4])
		if err != nil {
			continue
		}
		f.mu.Lock()
		values, ok := f.results[resultKey(*msg.To, method.Name)]
		f.mu.Unlock()
		if !ok {
			continue
		}
		return method.Outputs.Pack(values...)
	}
	return nil, fmt.Errorf("execution reverted: no answer for %x on %s", msg.Data[:4], msg.To.Hex())
}
