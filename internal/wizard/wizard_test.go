package wizard

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/vault-rewards/internal/chain"
	"github.com/yourorg/vault-rewards/internal/model"
	"github.com/yourorg/vault-rewards/internal/pending"
	"github.com/yourorg/vault-rewards/internal/quote"
	"github.com/yourorg/vault-rewards/internal/validation"
)

var (
	testVault   = common.HexToAddress("0x25751853eab4d0eb3652b5eb6ecb102a2789644b")
	testAccount = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	testHash    = common.HexToHash("0xfeed")
)

type fakeWallet struct {
	mu sync.Mutex

	sendErr error
	waitErr error
	status  uint64

	// sendGate, when set, blocks SendTransaction until closed
	sendGate chan struct{}
	sending  chan struct{}
	// waitGate, when set, blocks WaitForTransaction until closed
	waitGate chan struct{}
	waiting  chan struct{}

	sent  []chain.Call
	waits []uint64
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{status: types.ReceiptStatusSuccessful}
}

func (f *fakeWallet) Account() common.Address { return testAccount }

func (f *fakeWallet) SendTransaction(ctx context.Context, call chain.Call) (common.Hash, error) {
	if f.sendGate != nil {
		close(f.sending)
		select {
		case <-f.sendGate:
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sent = append(f.sent, call)
	return testHash, nil
}

func (f *fakeWallet) WaitForTransaction(ctx context.Context, _ common.Hash, confirmations uint64) (*types.Receipt, error) {
	f.mu.Lock()
	f.waits = append(f.waits, confirmations)
	f.mu.Unlock()

	if f.waitGate != nil {
		close(f.waiting)
		select {
		case <-f.waitGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	return &types.Receipt{TxHash: testHash, Status: f.status, BlockNumber: big.NewInt(100)}, nil
}

func depositBuild(amount *big.Int, _ *quote.Swap) (chain.Call, error) {
	return chain.DepositCall(testVault, amount)
}

// limitTo rejects amounts above max whole units of an 18 decimals asset
func limitTo(max int64) ValidateFunc {
	limit := new(big.Int).Mul(big.NewInt(max), big.NewInt(1e18))
	return func(_ context.Context, amount *big.Int) (validation.Code, error) {
		return validation.ValidateDeposit(amount, validation.DepositLimits{WalletBalance: limit}), nil
	}
}

func newDepositMachine(t *testing.T, wallet Wallet, registry Registry, mutate ...func(*Config)) *Machine {
	t.Helper()
	cfg := Config{
		Action:         model.TxDeposit,
		Decimals:       18,
		Confirmations:  2,
		ConfirmTimeout: time.Second,
		Validate:       limitTo(10),
		Build:          depositBuild,
		Wallet:         wallet,
		Registry:       registry,
		Vault:          "T-ETH-C",
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	m, err := New(cfg)
	require.NoError(t, err)
	return m
}

func toPreview(t *testing.T, m *Machine, input string) {
	t.Helper()
	code, err := m.SetAmount(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, validation.CodeNone, code)
	code, err = m.Preview()
	require.NoError(t, err)
	require.Equal(t, validation.CodeNone, code)
	require.Equal(t, StepPreview, m.State().Step)
}

func TestNewRequiresBuilderAndWallet(t *testing.T) {
	_, err := New(Config{Action: model.TxDeposit})
	assert.Error(t, err)
	_, err = New(Config{Build: depositBuild, Wallet: newFakeWallet()})
	assert.Error(t, err)
}

func TestInitialStep(t *testing.T) {
	m := newDepositMachine(t, newFakeWallet(), nil)
	assert.Equal(t, StepForm, m.State().Step)

	warned := newDepositMachine(t, newFakeWallet(), nil, func(c *Config) { c.Warning = "Funds are locked until Friday" })
	s := warned.State()
	assert.Equal(t, StepWarning, s.Step)
	assert.Equal(t, "Funds are locked until Friday", s.Warning)

	_, err := warned.SetAmount(context.Background(), "1")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, warned.AcknowledgeWarning())
	assert.Equal(t, StepForm, warned.State().Step)
	assert.ErrorIs(t, warned.AcknowledgeWarning(), ErrInvalidTransition)
}

func TestFormGuard(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  validation.Code
	}{
		{"empty", "", validation.CodeEmptyAmount},
		{"zero", "0", validation.CodeEmptyAmount},
		{"zero with decimals", "0.000", validation.CodeEmptyAmount},
		{"garbage", "abc", validation.CodeEmptyAmount},
		{"negative", "-1", validation.CodeEmptyAmount},
		{"too many decimals", "1.0000000000000000001", validation.CodeEmptyAmount},
		{"above balance", "11", validation.CodeInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newDepositMachine(t, newFakeWallet(), nil)
			code, err := m.SetAmount(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, code)

			code, err = m.Preview()
			require.NoError(t, err)
			assert.Equal(t, tt.want, code)
			assert.Equal(t, StepForm, m.State().Step)
		})
	}
}

func TestPreviewWithoutAmount(t *testing.T) {
	m := newDepositMachine(t, newFakeWallet(), nil)
	code, err := m.Preview()
	require.NoError(t, err)
	assert.Equal(t, validation.CodeEmptyAmount, code)
	assert.Equal(t, StepForm, m.State().Step)
}

func TestValidateError(t *testing.T) {
	boom := errors.New("balance lookup failed")
	m := newDepositMachine(t, newFakeWallet(), nil, func(c *Config) {
		c.Validate = func(context.Context, *big.Int) (validation.Code, error) { return validation.CodeNone, boom }
	})
	_, err := m.SetAmount(context.Background(), "1")
	assert.ErrorIs(t, err, boom)

	code, err := m.Preview()
	require.NoError(t, err)
	assert.Equal(t, validation.CodeEmptyAmount, code)
}

func TestHappyPath(t *testing.T) {
	wallet := newFakeWallet()
	registry := pending.NewRegistry()
	m := newDepositMachine(t, wallet, registry)

	var steps []Step
	m.OnTransition(func(action model.TxType, from, to Step) {
		assert.Equal(t, model.TxDeposit, action)
		steps = append(steps, to)
	})

	toPreview(t, m, "1.5")
	assert.Equal(t, "1500000000000000000", m.State().Amount.String())

	require.NoError(t, m.Confirm(context.Background()))

	s := m.State()
	assert.Equal(t, StepSubmitted, s.Step)
	require.NotNil(t, s.TxHash)
	assert.Equal(t, testHash, *s.TxHash)
	assert.Empty(t, s.LastError)
	assert.Equal(t, []Step{StepPreview, StepWalletAction, StepProcessing, StepSubmitted}, steps)

	require.Len(t, wallet.sent, 1)
	assert.Equal(t, testVault, wallet.sent[0].To)
	assert.Equal(t, []uint64{2}, wallet.waits)

	rec, err := registry.Get(testHash)
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusSuccess, rec.Status)
	assert.Equal(t, model.TxDeposit, rec.Type)
	assert.Equal(t, testAccount, rec.Account)
	assert.Equal(t, "T-ETH-C", rec.Vault)
	assert.Equal(t, "1500000000000000000", rec.Amount.String())
}

func TestRecordAddedBeforeConfirmation(t *testing.T) {
	wallet := newFakeWallet()
	wallet.waitGate = make(chan struct{})
	wallet.waiting = make(chan struct{})
	registry := pending.NewRegistry()
	m := newDepositMachine(t, wallet, registry)
	toPreview(t, m, "1")

	done := make(chan error, 1)
	go func() { done <- m.Confirm(context.Background()) }()
	<-wallet.waiting

	assert.Equal(t, StepProcessing, m.State().Step)
	rec, err := registry.Get(testHash)
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusPending, rec.Status)

	// nothing can close or re-confirm a transaction in flight
	assert.ErrorIs(t, m.Close(), ErrTransactionInFlight)
	assert.ErrorIs(t, m.Confirm(context.Background()), ErrInvalidTransition)
	assert.Equal(t, StepProcessing, m.State().Step)

	close(wallet.waitGate)
	require.NoError(t, <-done)
	assert.Equal(t, StepSubmitted, m.State().Step)
}

func TestCloseRefusedDuringWalletAction(t *testing.T) {
	wallet := newFakeWallet()
	wallet.sendGate = make(chan struct{})
	wallet.sending = make(chan struct{})
	m := newDepositMachine(t, wallet, nil)
	toPreview(t, m, "1")

	done := make(chan error, 1)
	go func() { done <- m.Confirm(context.Background()) }()
	<-wallet.sending

	assert.Equal(t, StepWalletAction, m.State().Step)
	assert.ErrorIs(t, m.Close(), ErrTransactionInFlight)
	assert.ErrorIs(t, m.Back(), ErrInvalidTransition)

	close(wallet.sendGate)
	require.NoError(t, <-done)
}

func TestErrorsReturnToPreview(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*fakeWallet)
		wantErr   error
		wantHash  bool
		recStatus model.TxStatus
	}{
		{
			name:    "wallet rejection",
			setup:   func(w *fakeWallet) { w.sendErr = errors.New("user rejected transaction") },
			wantErr: nil,
		},
		{
			name:      "receipt error",
			setup:     func(w *fakeWallet) { w.waitErr = errors.New("rpc down") },
			wantHash:  true,
			recStatus: model.TxStatusPending,
		},
		{
			name:      "reverted",
			setup:     func(w *fakeWallet) { w.status = types.ReceiptStatusFailed },
			wantErr:   ErrReverted,
			wantHash:  true,
			recStatus: model.TxStatusReverted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wallet := newFakeWallet()
			tt.setup(wallet)
			registry := pending.NewRegistry()
			m := newDepositMachine(t, wallet, registry)
			toPreview(t, m, "2")

			err := m.Confirm(context.Background())
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			s := m.State()
			assert.Equal(t, StepPreview, s.Step)
			assert.Equal(t, err.Error(), s.LastError)
			assert.Equal(t, "2000000000000000000", s.Amount.String())

			rec, getErr := registry.Get(testHash)
			if !tt.wantHash {
				assert.ErrorIs(t, getErr, pending.ErrNotFound)
				return
			}
			require.NoError(t, getErr)
			assert.Equal(t, tt.recStatus, rec.Status)
		})
	}
}

func TestConfirmTimeout(t *testing.T) {
	wallet := newFakeWallet()
	wallet.waitGate = make(chan struct{})
	wallet.waiting = make(chan struct{})
	m := newDepositMachine(t, wallet, nil, func(c *Config) { c.ConfirmTimeout = 10 * time.Millisecond })
	toPreview(t, m, "1")

	err := m.Confirm(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StepPreview, m.State().Step)
}

func TestRetryAfterFailure(t *testing.T) {
	wallet := newFakeWallet()
	wallet.sendErr = errors.New("user rejected transaction")
	m := newDepositMachine(t, wallet, nil)
	toPreview(t, m, "1")

	require.Error(t, m.Confirm(context.Background()))
	assert.NotEmpty(t, m.State().LastError)

	wallet.mu.Lock()
	wallet.sendErr = nil
	wallet.mu.Unlock()

	require.NoError(t, m.Confirm(context.Background()))
	s := m.State()
	assert.Equal(t, StepSubmitted, s.Step)
	assert.Empty(t, s.LastError)
}

func TestConfirmOutsidePreview(t *testing.T) {
	m := newDepositMachine(t, newFakeWallet(), nil)
	assert.ErrorIs(t, m.Confirm(context.Background()), ErrInvalidTransition)
	assert.Equal(t, StepForm, m.State().Step)
}

func TestBack(t *testing.T) {
	m := newDepositMachine(t, newFakeWallet(), nil)
	assert.ErrorIs(t, m.Back(), ErrInvalidTransition)

	toPreview(t, m, "3")
	require.NoError(t, m.Back())
	s := m.State()
	assert.Equal(t, StepForm, s.Step)
	assert.Equal(t, "3", s.Input)
}

func TestCloseIsIdempotent(t *testing.T) {
	m := newDepositMachine(t, newFakeWallet(), nil, func(c *Config) { c.Warning = "risky" })

	var transitions int
	m.OnTransition(func(model.TxType, Step, Step) { transitions++ })

	require.NoError(t, m.AcknowledgeWarning())
	toPreview(t, m, "1")
	require.NoError(t, m.Confirm(context.Background()))

	require.NoError(t, m.Close())
	first := m.State()
	count := transitions

	require.NoError(t, m.Close())
	assert.Equal(t, first, m.State())
	assert.Equal(t, count, transitions)

	assert.Equal(t, StepWarning, first.Step)
	assert.Empty(t, first.Input)
	assert.Nil(t, first.Amount)
	assert.Nil(t, first.TxHash)
}

type fakeQuoter struct {
	calls int
	err   error
}

func (f *fakeQuoter) Quote(_ context.Context, offer, receive model.Token, amount *big.Int) (model.SwapQuote, quote.Swap, error) {
	f.calls++
	if f.err != nil {
		return model.SwapQuote{}, quote.Swap{}, f.err
	}
	swap := quote.Swap{
		TradeAmount: new(big.Int).Mul(amount, big.NewInt(2)),
		SpotPrice:   decimal.NewFromFloat(0.5),
		To:          common.HexToAddress("0x5e1f"),
		Data:        []byte{0xde, 0xad},
	}
	return model.SwapQuote{
		OfferToken:   offer,
		ReceiveToken: receive,
		OfferAmount:  amount,
		TradeAmount:  swap.TradeAmount,
		SpotPrice:    swap.SpotPrice,
		Sequence:     uint64(f.calls),
	}, swap, nil
}

func swapMachine(t *testing.T, wallet Wallet, q Quoter) *Machine {
	return newDepositMachine(t, wallet, nil, func(c *Config) {
		c.Action = model.TxSwap
		c.Quote = q
		c.Offer = model.Token{Symbol: "USDC", Decimals: 6}
		c.Receive = model.Token{Symbol: "WETH", Decimals: 18}
		c.Decimals = 6
		c.Validate = nil
		c.Build = func(amount *big.Int, swap *quote.Swap) (chain.Call, error) {
			if swap == nil {
				return chain.Call{}, errors.New("missing swap")
			}
			return chain.Call{To: swap.To, Data: swap.Data, Value: swap.Value}, nil
		}
	})
}

func TestSwapRefreshesQuoteOnEveryAmount(t *testing.T) {
	q := &fakeQuoter{}
	wallet := newFakeWallet()
	m := swapMachine(t, wallet, q)

	for _, in := range []string{"1", "2", "3"} {
		_, err := m.SetAmount(context.Background(), in)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, q.calls)

	s := m.State()
	require.NotNil(t, s.Quote)
	assert.Equal(t, "6000000", s.Quote.TradeAmount.String())

	_, err := m.Preview()
	require.NoError(t, err)
	require.NoError(t, m.Confirm(context.Background()))
	assert.Equal(t, common.HexToAddress("0x5e1f"), wallet.sent[0].To)
}

func TestSwapWithoutQuoteCannotPreview(t *testing.T) {
	q := &fakeQuoter{err: quote.ErrNoPairData}
	m := swapMachine(t, newFakeWallet(), q)

	_, err := m.SetAmount(context.Background(), "1")
	assert.ErrorIs(t, err, quote.ErrNoPairData)

	_, err = m.Preview()
	assert.ErrorIs(t, err, ErrQuoteRequired)
	assert.Equal(t, StepForm, m.State().Step)
}

// gatedQuoter holds the quote for slow until gate is closed
type gatedQuoter struct {
	slow    *big.Int
	entered chan struct{}
	gate    chan struct{}

	mu    sync.Mutex
	inner fakeQuoter
}

func newGatedQuoter(slow int64) *gatedQuoter {
	return &gatedQuoter{
		slow:    big.NewInt(slow),
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
}

func (g *gatedQuoter) Quote(ctx context.Context, offer, receive model.Token, amount *big.Int) (model.SwapQuote, quote.Swap, error) {
	if amount.Cmp(g.slow) == 0 {
		close(g.entered)
		<-g.gate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.Quote(ctx, offer, receive, amount)
}

func TestSetAmountOvertakenByNewerInput(t *testing.T) {
	tests := []struct {
		name       string
		newer      string
		wantAmount string
		wantCode   validation.Code
		wantQuote  bool
	}{
		{name: "newer amount", newer: "2", wantAmount: "2000000", wantCode: validation.CodeNone, wantQuote: true},
		{name: "newer empty input", newer: "", wantCode: validation.CodeEmptyAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newGatedQuoter(1_000_000)
			m := swapMachine(t, newFakeWallet(), q)

			type result struct {
				code validation.Code
				err  error
			}
			slow := make(chan result, 1)
			go func() {
				code, err := m.SetAmount(context.Background(), "1")
				slow <- result{code, err}
			}()
			<-q.entered

			code, err := m.SetAmount(context.Background(), tt.newer)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, code)

			close(q.gate)
			res := <-slow
			assert.ErrorIs(t, res.err, quote.ErrStaleQuote)

			s := m.State()
			assert.Equal(t, tt.newer, s.Input)
			assert.Equal(t, tt.wantCode, s.Code)
			if tt.wantAmount == "" {
				assert.Nil(t, s.Amount)
			} else {
				require.NotNil(t, s.Amount)
				assert.Equal(t, tt.wantAmount, s.Amount.String())
			}
			if tt.wantQuote {
				require.NotNil(t, s.Quote)
				assert.Equal(t, tt.wantAmount, s.Quote.OfferAmount.String())
			} else {
				assert.Nil(t, s.Quote)
			}
		})
	}
}
