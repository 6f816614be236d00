package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/vault-rewards/internal/chain"
	"github.com/yourorg/vault-rewards/internal/config"
	"github.com/yourorg/vault-rewards/internal/model"
	"github.com/yourorg/vault-rewards/internal/quote"
	"github.com/yourorg/vault-rewards/internal/validation"
	"github.com/yourorg/vault-rewards/internal/wizard"
)

const sessionIdleTimeout = time.Hour

// session is one open wizard. confirming is set while Confirm runs in the
// background.
type session struct {
	id      uuid.UUID
	machine *wizard.Machine

	mu         sync.Mutex
	lastUsed   time.Time
	confirming bool
	cancel     context.CancelFunc
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

type createWizardRequest struct {
	Action  model.TxType `json:"action"`
	Vault   string       `json:"vault,omitempty"`
	Offer   string       `json:"offer,omitempty"`
	Receive string       `json:"receive,omitempty"`
}

type sessionResponse struct {
	ID    uuid.UUID    `json:"id"`
	State wizard.State `json:"state"`
}

type amountResponse struct {
	Code    validation.Code `json:"code"`
	Message string          `json:"message,omitempty"`
	State   wizard.State    `json:"state"`
}

// handleCreateWizard opens a wizard session for one action
func (s *Server) handleCreateWizard(w http.ResponseWriter, r *http.Request) {
	if s.deps.Wallet == nil {
		errorResponse(w, http.StatusServiceUnavailable, "no signer configured")
		return
	}
	var req createWizardRequest
	if err := decode(w, r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := s.wizardConfig(req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, config.ErrUnknownVault) {
			status = http.StatusNotFound
		}
		errorResponse(w, status, err.Error())
		return
	}
	machine, err := wizard.New(cfg)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	machine.OnTransition(func(action model.TxType, from, to wizard.Step) {
		s.metrics.wizardTransitions.WithLabelValues(string(action), string(to)).Inc()
	})

	sess := &session{id: uuid.New(), machine: machine, lastUsed: time.Now()}
	s.sessionsMu.Lock()
	s.sessions[sess.id] = sess
	count := len(s.sessions)
	s.sessionsMu.Unlock()
	s.metrics.wizardSessions.Set(float64(count))

	logrus.WithFields(logrus.Fields{
		"session": sess.id,
		"action":  req.Action,
		"vault":   req.Vault,
	}).Info("Wizard opened")
	respond(w, http.StatusCreated, sessionResponse{ID: sess.id, State: machine.State()})
}

// wizardConfig binds the action to its validation and calldata
func (s *Server) wizardConfig(req createWizardRequest) (wizard.Config, error) {
	account := s.deps.Wallet.Account()
	cfg := wizard.Config{
		Action:         req.Action,
		ConfirmTimeout: s.config.ConfirmTimeout,
		Wallet:         s.deps.Wallet,
		Registry:       s.deps.Registry,
		Account:        account,
	}

	if req.Action == model.TxSwap {
		return s.swapConfig(cfg, req)
	}

	vault, err := s.deps.Vaults.Lookup(req.Vault)
	if err != nil {
		return cfg, err
	}
	cfg.Vault = vault.Name
	cfg.Decimals = vault.Decimals
	cfg.Confirmations = vault.ConfirmationsFor(req.Action)
	bal := s.deps.Balances

	switch req.Action {
	case model.TxDeposit:
		cfg.Warning = vault.Warning
		if bal != nil {
			cfg.Validate = func(ctx context.Context, amount *big.Int) (validation.Code, error) {
				return s.validateDeposit(ctx, vault, account, amount)
			}
		}
		cfg.Build = func(amount *big.Int, _ *quote.Swap) (chain.Call, error) {
			if vault.Native() {
				return chain.DepositETHCall(vault.Address, amount)
			}
			return chain.DepositCall(vault.Address, amount)
		}

	case model.TxApprove:
		if vault.Native() {
			return cfg, fmt.Errorf("vault %s takes the native asset, nothing to approve", vault.Name)
		}
		if bal != nil {
			cfg.Validate = func(ctx context.Context, amount *big.Int) (validation.Code, error) {
				balance, err := bal.BalanceOf(ctx, vault.Token, account)
				if err != nil {
					return validation.CodeNone, err
				}
				return validation.ValidateSwap(amount, balance), nil
			}
		}
		cfg.Build = func(amount *big.Int, _ *quote.Swap) (chain.Call, error) {
			return chain.ApproveCall(vault.Token, vault.Address, amount)
		}

	case model.TxWithdraw, model.TxWithdrawInstant:
		kind := validation.WithdrawStandard
		if req.Action == model.TxWithdrawInstant {
			kind = validation.WithdrawInstant
		}
		if bal != nil {
			cfg.Validate = func(ctx context.Context, amount *big.Int) (validation.Code, error) {
				return s.validateWithdraw(ctx, vault, account, kind, amount)
			}
		}
		cfg.Build = func(amount *big.Int, _ *quote.Swap) (chain.Call, error) {
			if kind == validation.WithdrawInstant {
				return chain.WithdrawInstantlyCall(vault.Address, amount)
			}
			return chain.InitiateWithdrawCall(vault.Address, amount)
		}

	case model.TxStake, model.TxUnstake:
		if vault.Gauge == (common.Address{}) {
			return cfg, fmt.Errorf("vault %s has no gauge", vault.Name)
		}
		stake := req.Action == model.TxStake
		if bal != nil {
			cfg.Validate = func(ctx context.Context, amount *big.Int) (validation.Code, error) {
				if stake {
					unstaked, err := bal.BalanceOf(ctx, vault.Address, account)
					if err != nil {
						return validation.CodeNone, err
					}
					return validation.ValidateStake(amount, unstaked), nil
				}
				staked, err := bal.BalanceOf(ctx, vault.Gauge, account)
				if err != nil {
					return validation.CodeNone, err
				}
				return validation.ValidateUnstake(amount, staked), nil
			}
		}
		cfg.Build = func(amount *big.Int, _ *quote.Swap) (chain.Call, error) {
			if stake {
				return chain.StakeCall(vault.Gauge, amount)
			}
			return chain.UnstakeCall(vault.Gauge, amount)
		}

	case model.TxClaim:
		if vault.Gauge == (common.Address{}) || s.deps.Minter == (common.Address{}) {
			return cfg, fmt.Errorf("vault %s has no claimable gauge", vault.Name)
		}
		// the amount is the displayed claimable figure; mint takes everything
		cfg.Decimals = rewardDecimals
		cfg.Build = func(*big.Int, *quote.Swap) (chain.Call, error) {
			return chain.ClaimCall(s.deps.Minter, vault.Gauge)
		}

	default:
		return cfg, fmt.Errorf("unsupported action %q", req.Action)
	}
	return cfg, nil
}

func (s *Server) swapConfig(cfg wizard.Config, req createWizardRequest) (wizard.Config, error) {
	if s.deps.Router == nil {
		return cfg, errors.New("swap router not configured")
	}
	offer, ok := s.deps.Vaults.LookupToken(req.Offer)
	if !ok {
		return cfg, fmt.Errorf("unknown offer token %q", req.Offer)
	}
	receive, ok := s.deps.Vaults.LookupToken(req.Receive)
	if !ok {
		return cfg, fmt.Errorf("unknown receive token %q", req.Receive)
	}
	if offer.Address == receive.Address {
		return cfg, errors.New("offer and receive token must differ")
	}

	cfg.Decimals = offer.Decimals
	cfg.Confirmations = 1
	cfg.Quote = quote.NewQuoter(s.deps.Router)
	cfg.Offer = offer
	cfg.Receive = receive
	if bal := s.deps.Balances; bal != nil {
		account := cfg.Account
		cfg.Validate = func(ctx context.Context, amount *big.Int) (validation.Code, error) {
			balance, err := bal.BalanceOf(ctx, offer.Address, account)
			if err != nil {
				return validation.CodeNone, err
			}
			return validation.ValidateSwap(amount, balance), nil
		}
	}
	cfg.Build = func(_ *big.Int, swap *quote.Swap) (chain.Call, error) {
		if swap == nil || swap.To == (common.Address{}) {
			return chain.Call{}, errors.New("swap has no route")
		}
		return chain.Call{To: swap.To, Data: swap.Data, Value: swap.Value}, nil
	}
	return cfg, nil
}

func (s *Server) validateDeposit(ctx context.Context, vault config.Vault, account common.Address, amount *big.Int) (validation.Code, error) {
	bal := s.deps.Balances
	var (
		balance *big.Int
		err     error
	)
	if vault.Native() {
		balance, err = bal.NativeBalance(ctx, account)
	} else {
		balance, err = bal.BalanceOf(ctx, vault.Token, account)
	}
	if err != nil {
		return validation.CodeNone, err
	}

	capacity, total, err := bal.Capacity(ctx, vault.Address)
	if err != nil {
		return validation.CodeNone, err
	}
	if override := vault.CapOverride(); override != nil {
		capacity = override
	}

	return validation.ValidateDeposit(amount, validation.DepositLimits{
		WalletBalance: balance,
		MaxDeposit:    vault.MaxDepositLimit(),
		Cap:           capacity,
		TotalBalance:  total,
	}), nil
}

func (s *Server) validateWithdraw(ctx context.Context, vault config.Vault, account common.Address, kind validation.WithdrawKind, amount *big.Int) (validation.Code, error) {
	bal := s.deps.Balances
	var balances validation.WithdrawBalances
	var err error
	if kind == validation.WithdrawInstant {
		balances.Unlocked, err = bal.PendingDeposit(ctx, vault.Address, account)
	} else {
		// initiateWithdraw redeems shares, which are the vault's ERC20 balance
		balances.Locked, err = bal.BalanceOf(ctx, vault.Address, account)
	}
	if err != nil {
		return validation.CodeNone, err
	}
	return validation.ValidateWithdraw(amount, kind, balances), nil
}

// lookupSession resolves the {id} route parameter
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*session, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid session id")
		return nil, false
	}
	s.sessionsMu.Lock()
	sess, ok := s.sessions[id]
	s.sessionsMu.Unlock()
	if !ok {
		errorResponse(w, http.StatusNotFound, "unknown session")
		return nil, false
	}
	sess.touch()
	return sess, true
}

// wizardError maps machine errors onto HTTP statuses
func wizardError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, wizard.ErrInvalidTransition),
		errors.Is(err, wizard.ErrTransactionInFlight),
		errors.Is(err, quote.ErrStaleQuote):
		errorResponse(w, http.StatusConflict, err.Error())
	case errors.Is(err, wizard.ErrQuoteRequired),
		errors.Is(err, quote.ErrNoPairData),
		errors.Is(err, quote.ErrNoRoute):
		errorResponse(w, http.StatusUnprocessableEntity, err.Error())
	default:
		errorResponse(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleWizardState(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	respond(w, http.StatusOK, sessionResponse{ID: sess.id, State: sess.machine.State()})
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if err := sess.machine.AcknowledgeWarning(); err != nil {
		wizardError(w, err)
		return
	}
	respond(w, http.StatusOK, sessionResponse{ID: sess.id, State: sess.machine.State()})
}

type amountRequest struct {
	Amount string `json:"amount"`
}

// handleAmount sets the form amount. Rule violations come back as a code
// with status 200.
func (s *Server) handleAmount(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decode(w, r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()
	code, err := sess.machine.SetAmount(ctx, req.Amount)
	if err != nil {
		wizardError(w, err)
		return
	}
	respond(w, http.StatusOK, amountResponse{Code: code, Message: code.Message(), State: sess.machine.State()})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	code, err := sess.machine.Preview()
	if err != nil {
		wizardError(w, err)
		return
	}
	respond(w, http.StatusOK, amountResponse{Code: code, Message: code.Message(), State: sess.machine.State()})
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if err := sess.machine.Back(); err != nil {
		wizardError(w, err)
		return
	}
	respond(w, http.StatusOK, sessionResponse{ID: sess.id, State: sess.machine.State()})
}

// handleConfirm starts the confirmation in the background and answers 202.
// The client polls the session state until submitted or back in preview.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	sess.mu.Lock()
	if sess.confirming {
		sess.mu.Unlock()
		wizardError(w, fmt.Errorf("%w: confirmation running", wizard.ErrTransactionInFlight))
		return
	}
	if step := sess.machine.State().Step; step != wizard.StepPreview {
		sess.mu.Unlock()
		wizardError(w, fmt.Errorf("%w: confirm in step %s", wizard.ErrInvalidTransition, step))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess.confirming = true
	sess.cancel = cancel
	sess.mu.Unlock()

	go func() {
		defer cancel()
		err := sess.machine.Confirm(ctx)

		sess.mu.Lock()
		sess.confirming = false
		sess.cancel = nil
		sess.lastUsed = time.Now()
		sess.mu.Unlock()

		entry := logrus.WithField("session", sess.id)
		if err != nil {
			entry.WithError(err).Warn("Wizard confirmation failed")
			return
		}
		entry.Info("Wizard confirmation done")
	}()

	respond(w, http.StatusAccepted, sessionResponse{ID: sess.id, State: sess.machine.State()})
}

// handleCloseWizard closes and forgets the session. It is refused while a
// transaction is in flight.
func (s *Server) handleCloseWizard(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if err := sess.machine.Close(); err != nil {
		wizardError(w, err)
		return
	}

	s.sessionsMu.Lock()
	delete(s.sessions, sess.id)
	count := len(s.sessions)
	s.sessionsMu.Unlock()
	s.metrics.wizardSessions.Set(float64(count))

	w.WriteHeader(http.StatusNoContent)
}

// expireSessions closes sessions idle for longer than idle
func (s *Server) expireSessions(idle time.Duration) int {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		sess.mu.Lock()
		stale := !sess.confirming && time.Since(sess.lastUsed) > idle
		sess.mu.Unlock()
		if !stale {
			continue
		}
		if err := sess.machine.Close(); err != nil {
			continue
		}
		delete(s.sessions, id)
		removed++
	}
	s.metrics.wizardSessions.Set(float64(len(s.sessions)))
	return removed
}

// cancelSessions aborts every running confirmation
func (s *Server) cancelSessions() {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	for _, sess := range s.sessions {
		sess.mu.Lock()
		if sess.cancel != nil {
			sess.cancel()
		}
		sess.mu.Unlock()
	}
}
