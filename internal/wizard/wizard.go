// Package wizard implements the per-modal transaction flow shared by the
// deposit, withdraw, stake, claim and swap actions:
//
//	warning → form → preview → walletAction → processing → submitted
//
// Every error raised after preview returns the machine to preview.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/vault-rewards/internal/chain"
	"github.com/yourorg/vault-rewards/internal/model"
	tracing "github.com/yourorg/vault-rewards/internal/otel"
	"github.com/yourorg/vault-rewards/internal/quote"
	"github.com/yourorg/vault-rewards/internal/units"
	"github.com/yourorg/vault-rewards/internal/validation"
)

// Step of the wizard
type Step string

const (
	StepWarning      Step = "warning"
	StepForm         Step = "form"
	StepPreview      Step = "preview"
	StepWalletAction Step = "walletAction"
	StepProcessing   Step = "processing"
	StepSubmitted    Step = "submitted"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the current step. The state is unchanged.
	ErrInvalidTransition = errors.New("wizard: invalid transition")

	// ErrTransactionInFlight is returned by Close while the wallet or the
	// chain still owns the transaction
	ErrTransactionInFlight = errors.New("wizard: transaction in flight")

	// ErrReverted is returned when the transaction was mined but failed
	ErrReverted = errors.New("wizard: transaction reverted")

	// ErrQuoteRequired is returned by Preview for a swap without quote
	ErrQuoteRequired = errors.New("wizard: no quote for amount")
)

// Wallet signs and sends the transaction and reports its confirmation
type Wallet interface {
	Account() common.Address
	SendTransaction(ctx context.Context, call chain.Call) (common.Hash, error)
	WaitForTransaction(ctx context.Context, hash common.Hash, confirmations uint64) (*types.Receipt, error)
}

// Registry records submitted transactions. *pending.Registry satisfies it.
type Registry interface {
	Add(tx model.PendingTransaction) error
	SetStatus(hash common.Hash, status model.TxStatus) error
}

// Quoter prices swaps. *quote.Quoter satisfies it.
type Quoter interface {
	Quote(ctx context.Context, offer, receive model.Token, amount *big.Int) (model.SwapQuote, quote.Swap, error)
}

// ValidateFunc checks an amount against current balances. I/O errors are
// returned as error, rule violations as a code.
type ValidateFunc func(ctx context.Context, amount *big.Int) (validation.Code, error)

// BuildFunc turns the confirmed amount into a transaction. swap is nil
// unless the wizard quotes.
type BuildFunc func(amount *big.Int, swap *quote.Swap) (chain.Call, error)

// Config instantiates the machine for one action
type Config struct {
	Action model.TxType

	// Warning is shown before the form, no warning step when empty
	Warning string

	// Decimals of the amount typed into the form
	Decimals int

	// Confirmations required before submitted
	Confirmations uint64

	// ConfirmTimeout bounds the wait for the receipt
	ConfirmTimeout time.Duration

	Validate ValidateFunc
	Build    BuildFunc

	// Quote, Offer and Receive are set for swaps
	Quote   Quoter
	Offer   model.Token
	Receive model.Token

	Wallet   Wallet
	Registry Registry

	// Vault is recorded with the pending transaction
	Vault string

	// Account overrides the wallet account in the pending record
	Account common.Address
}

// State is a snapshot of the machine
type State struct {
	Action  model.TxType    `json:"action"`
	Step    Step            `json:"step"`
	Warning string          `json:"warning,omitempty"`
	Input   string          `json:"input"`
	Amount  *big.Int        `json:"amount,omitempty"`
	Code    validation.Code `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`

	Quote *model.SwapQuote `json:"quote,omitempty"`

	TxHash    *common.Hash `json:"tx_hash,omitempty"`
	LastError string       `json:"last_error,omitempty"`
	Err       error        `json:"-"`
}

// TransitionFunc observes step changes
type TransitionFunc func(action model.TxType, from, to Step)

// Machine is one wizard instance. It is safe for concurrent use; no lock is
// held while talking to the wallet, the chain or the router.
type Machine struct {
	cfg Config

	mu        sync.Mutex
	step      Step
	input     string
	amount    *big.Int
	code      validation.Code
	quote     *model.SwapQuote
	swap      *quote.Swap
	hash      *common.Hash
	lastErr   error
	amountSeq uint64

	observers []TransitionFunc
}

// New creates a machine at its initial step
func New(cfg Config) (*Machine, error) {
	if cfg.Action == "" {
		return nil, fmt.Errorf("wizard: action is required")
	}
	if cfg.Build == nil || cfg.Wallet == nil {
		return nil, fmt.Errorf("wizard: %s needs a builder and a wallet", cfg.Action)
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 10 * time.Minute
	}
	m := &Machine{cfg: cfg}
	m.step = m.initialStep()
	return m, nil
}

func (m *Machine) initialStep() Step {
	if m.cfg.Warning != "" {
		return StepWarning
	}
	return StepForm
}

// OnTransition registers fn for every step change
func (m *Machine) OnTransition(fn TransitionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// State returns a snapshot
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

func (m *Machine) snapshot() State {
	s := State{
		Action:  m.cfg.Action,
		Step:    m.step,
		Input:   m.input,
		Code:    m.code,
		Message: m.code.Message(),
		Err:     m.lastErr,
	}
	if m.step == StepWarning {
		s.Warning = m.cfg.Warning
	}
	if m.amount != nil {
		s.Amount = new(big.Int).Set(m.amount)
	}
	if m.quote != nil {
		q := *m.quote
		s.Quote = &q
	}
	if m.hash != nil {
		h := *m.hash
		s.TxHash = &h
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// moveLocked changes the step and returns the notification to run once the
// lock is released
func (m *Machine) moveLocked(to Step) func() {
	from := m.step
	if from == to {
		return func() {}
	}
	m.step = to
	observers := append([]TransitionFunc(nil), m.observers...)
	action := m.cfg.Action
	return func() {
		logrus.WithFields(logrus.Fields{
			"action": action,
			"from":   from,
			"to":     to,
		}).Debug("Wizard transition")
		for _, fn := range observers {
			fn(action, from, to)
		}
	}
}

func (m *Machine) invalid(op string) error {
	return fmt.Errorf("%w: %s in step %s", ErrInvalidTransition, op, m.step)
}

// AcknowledgeWarning moves from warning to form
func (m *Machine) AcknowledgeWarning() error {
	m.mu.Lock()
	if m.step != StepWarning {
		err := m.invalid("acknowledge")
		m.mu.Unlock()
		return err
	}
	notify := m.moveLocked(StepForm)
	m.mu.Unlock()
	notify()
	return nil
}

// SetAmount parses input, validates it and, for swaps, refreshes the quote.
// Unparseable or non positive input yields CodeEmptyAmount. The returned
// error reports I/O failures only.
func (m *Machine) SetAmount(ctx context.Context, input string) (validation.Code, error) {
	m.mu.Lock()
	if m.step != StepForm {
		err := m.invalid("set amount")
		m.mu.Unlock()
		return validation.CodeNone, err
	}
	m.amountSeq++
	seq := m.amountSeq
	m.input = input
	m.amount = nil
	m.quote = nil
	m.swap = nil
	m.code = validation.CodeEmptyAmount
	m.mu.Unlock()

	amount, err := units.ParseUnits(input, m.cfg.Decimals)
	if err != nil || amount.Sign() <= 0 {
		return validation.CodeEmptyAmount, nil
	}

	code := validation.CodeNone
	if m.cfg.Validate != nil {
		code, err = m.cfg.Validate(ctx, amount)
		if err != nil {
			return validation.CodeNone, fmt.Errorf("validate %s: %w", m.cfg.Action, err)
		}
	}

	var (
		q        model.SwapQuote
		swap     quote.Swap
		quoteErr error
	)
	if code == validation.CodeNone && m.cfg.Quote != nil {
		q, swap, quoteErr = m.cfg.Quote.Quote(ctx, m.cfg.Offer, m.cfg.Receive, amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if seq != m.amountSeq || m.step != StepForm {
		return code, quote.ErrStaleQuote
	}
	m.amount = amount
	m.code = code
	if quoteErr != nil {
		// amount stays, Preview is blocked until a quote arrives
		return code, fmt.Errorf("quote %s: %w", m.cfg.Action, quoteErr)
	}
	if m.cfg.Quote != nil && code == validation.CodeNone {
		m.quote = &q
		m.swap = &swap
	}
	return code, nil
}

// Preview moves from form to preview when the amount is valid. A non empty
// code leaves the machine in form.
func (m *Machine) Preview() (validation.Code, error) {
	m.mu.Lock()
	if m.step != StepForm {
		err := m.invalid("preview")
		m.mu.Unlock()
		return validation.CodeNone, err
	}
	if m.amount == nil || m.amount.Sign() <= 0 {
		m.mu.Unlock()
		return validation.CodeEmptyAmount, nil
	}
	if m.code != validation.CodeNone {
		code := m.code
		m.mu.Unlock()
		return code, nil
	}
	if m.cfg.Quote != nil && m.swap == nil {
		m.mu.Unlock()
		return validation.CodeNone, ErrQuoteRequired
	}
	m.lastErr = nil
	notify := m.moveLocked(StepPreview)
	m.mu.Unlock()
	notify()
	return validation.CodeNone, nil
}

// Back returns from preview to form keeping the amount
func (m *Machine) Back() error {
	m.mu.Lock()
	if m.step != StepPreview {
		err := m.invalid("back")
		m.mu.Unlock()
		return err
	}
	m.lastErr = nil
	notify := m.moveLocked(StepForm)
	m.mu.Unlock()
	notify()
	return nil
}

// Close resets the machine to its initial step. It is refused while the
// transaction is in the wallet or waiting for the chain, and is a no-op at
// the initial step.
func (m *Machine) Close() error {
	m.mu.Lock()
	if m.step == StepWalletAction || m.step == StepProcessing {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTransactionInFlight, m.step)
	}
	m.amountSeq++
	m.input = ""
	m.amount = nil
	m.code = validation.CodeNone
	m.quote = nil
	m.swap = nil
	m.hash = nil
	m.lastErr = nil
	notify := m.moveLocked(m.initialStep())
	m.mu.Unlock()
	notify()
	return nil
}

// Confirm sends the previewed transaction and follows it to submitted. On
// any failure the machine is back in preview and the error is returned and
// kept as the state's LastError.
func (m *Machine) Confirm(ctx context.Context) error {
	m.mu.Lock()
	if m.step != StepPreview {
		err := m.invalid("confirm")
		m.mu.Unlock()
		return err
	}
	amount := new(big.Int).Set(m.amount)
	swap := m.swap
	m.lastErr = nil
	m.hash = nil
	notify := m.moveLocked(StepWalletAction)
	m.mu.Unlock()
	notify()

	ctx, span := tracing.Tracer().Start(ctx, "wizard.confirm")
	span.SetAttributes(
		attribute.String("action", string(m.cfg.Action)),
		attribute.String("amount", amount.String()),
	)
	defer span.End()

	err := m.confirm(ctx, amount, swap)
	if err != nil {
		tracing.RecordError(ctx, err)
		m.fail(err)
		return err
	}
	return nil
}

func (m *Machine) confirm(ctx context.Context, amount *big.Int, swap *quote.Swap) error {
	call, err := m.cfg.Build(amount, swap)
	if err != nil {
		return fmt.Errorf("build %s: %w", m.cfg.Action, err)
	}

	hash, err := m.cfg.Wallet.SendTransaction(ctx, call)
	if err != nil {
		return fmt.Errorf("send %s: %w", m.cfg.Action, err)
	}

	m.mu.Lock()
	m.hash = &hash
	notify := m.moveLocked(StepProcessing)
	m.mu.Unlock()
	notify()

	m.record(hash, amount)

	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.ConfirmTimeout)
	defer cancel()
	receipt, err := m.cfg.Wallet.WaitForTransaction(waitCtx, hash, m.cfg.Confirmations)
	if err != nil {
		return fmt.Errorf("confirm %s %s: %w", m.cfg.Action, hash.Hex(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		m.setStatus(hash, model.TxStatusReverted)
		return fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
	}
	m.setStatus(hash, model.TxStatusSuccess)

	m.mu.Lock()
	notify = m.moveLocked(StepSubmitted)
	m.mu.Unlock()
	notify()

	logrus.WithFields(logrus.Fields{
		"action": m.cfg.Action,
		"hash":   hash.Hex(),
		"block":  receipt.BlockNumber,
	}).Info("Transaction confirmed")
	return nil
}

func (m *Machine) fail(err error) {
	m.mu.Lock()
	m.lastErr = err
	notify := m.moveLocked(StepPreview)
	m.mu.Unlock()
	notify()

	logrus.WithFields(logrus.Fields{
		"action": m.cfg.Action,
	}).WithError(err).Warn("Wizard returned to preview")
}

func (m *Machine) record(hash common.Hash, amount *big.Int) {
	if m.cfg.Registry == nil {
		return
	}
	account := m.cfg.Account
	if account == (common.Address{}) {
		account = m.cfg.Wallet.Account()
	}
	err := m.cfg.Registry.Add(model.PendingTransaction{
		Hash:        hash,
		Type:        m.cfg.Action,
		Amount:      amount,
		Vault:       m.cfg.Vault,
		Account:     account,
		Status:      model.TxStatusPending,
		SubmittedAt: time.Now().Unix(),
	})
	if err != nil {
		logrus.WithField("hash", hash.Hex()).WithError(err).Warn("Failed to record pending transaction")
	}
}

func (m *Machine) setStatus(hash common.Hash, status model.TxStatus) {
	if m.cfg.Registry == nil {
		return
	}
	if err := m.cfg.Registry.SetStatus(hash, status); err != nil {
		logrus.WithField("hash", hash.Hex()).WithError(err).Warn("Failed to update pending transaction")
	}
}
