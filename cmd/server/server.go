package main

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/vault-rewards/internal/circuitbreaker"
	"github.com/yourorg/vault-rewards/internal/config"
	"github.com/yourorg/vault-rewards/internal/model"
	"github.com/yourorg/vault-rewards/internal/pending"
	"github.com/yourorg/vault-rewards/internal/poll"
	"github.com/yourorg/vault-rewards/internal/quote"
	"github.com/yourorg/vault-rewards/internal/rewards"
	"github.com/yourorg/vault-rewards/internal/validation"
	"github.com/yourorg/vault-rewards/internal/wizard"
)

const version = "1.0.0"

// PriceSource is the price oracle. *fetch.PriceClient satisfies it.
type PriceSource interface {
	Fetch(ctx context.Context, assets []model.Asset) ([]model.PricePoint, error)
}

// SheetSource is the vault yield sheet. *fetch.SheetClient satisfies it.
type SheetSource interface {
	Fetch(ctx context.Context) ([]model.VaultMetric, error)
}

// BalanceReader reads the balances the wizards validate against.
// *chain.VaultReader satisfies it.
type BalanceReader interface {
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
	Capacity(ctx context.Context, vault common.Address) (capacity, total *big.Int, err error)
	AccountVaultBalance(ctx context.Context, vault, account common.Address) (*big.Int, error)
	PendingDeposit(ctx context.Context, vault, account common.Address) (*big.Int, error)
}

// GaugeSource reads gauge checkpoints. *chain.GaugeReader satisfies it.
type GaugeSource interface {
	rewards.WeightLookup
	RewardPeriodState(ctx context.Context, gauge, account common.Address) (rewards.RewardPeriodState, error)
}

// Deps are the collaborators of the server. Only Vaults, Prices and
// Registry are required; the routes backed by a missing collaborator answer
// 503.
type Deps struct {
	Vaults   *config.VaultTable
	Prices   PriceSource
	Sheet    SheetSource
	Router   quote.Router
	Balances BalanceReader
	Gauges   GaugeSource
	Wallet   wizard.Wallet
	Minter   common.Address
	Registry *pending.Registry
	Notifier *pending.Notifier
}

// Server represents the vault rewards API server instance
type Server struct {
	config config.Config
	deps   Deps

	breaker *circuitbreaker.CircuitBreaker
	metrics *serverMetrics
	limiter *rateLimiter
	server  *http.Server
	started time.Time

	vaultsMu sync.RWMutex
	vaults   []model.VaultMetric

	sessionsMu sync.Mutex
	sessions   map[uuid.UUID]*session

	quotersMu sync.Mutex
	quoters   map[string]*clientQuoter

	pollers []*poll.Subscription
}

// NewServer creates a new server instance
func NewServer(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Vaults == nil || deps.Prices == nil || deps.Registry == nil {
		return nil, errors.New("server needs a vault table, a price source and a registry")
	}

	s := &Server{
		config:   cfg,
		deps:     deps,
		metrics:  registerMetrics(),
		limiter:  newRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		started:  time.Now(),
		sessions: make(map[uuid.UUID]*session),
		quoters:  make(map[string]*clientQuoter),
	}

	s.breaker = circuitbreaker.New(circuitbreaker.Thresholds{
		MaxDailyChange: cfg.MaxDailyChange,
		MaxPriceJump:   cfg.MaxPriceJump,
		MinAssets:      cfg.MinPricedAssets,
	}).WithResetDelay(cfg.CircuitResetDelay).
		WithTripCallback(func(reason string, points []model.PricePoint) {
			logrus.WithFields(logrus.Fields{
				"reason": reason,
				"prices": len(points),
			}).Warn("Price feed rejected, serving last good prices")
		})

	deps.Registry.Subscribe(s.observeTransaction)
	if deps.Notifier != nil {
		deps.Registry.Subscribe(deps.Notifier.Enqueue)
	}

	logrus.WithFields(logrus.Fields{
		"port":    cfg.Port,
		"vaults":  len(deps.Vaults.Vaults),
		"signer":  deps.Wallet != nil,
		"router":  deps.Router != nil,
		"gauges":  deps.Gauges != nil,
		"sheet":   deps.Sheet != nil,
		"webhook": deps.Notifier != nil,
	}).Info("Server initialized")

	return s, nil
}

// Routes builds the HTTP handler
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.instrument)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware)

		r.Get("/status", s.handleStatus)
		r.Get("/prices", s.handlePrices)
		r.Post("/circuit/reset", s.handleCircuitReset)
		r.Get("/vaults", s.handleVaults)
		r.Get("/vaults/summary", s.handleVaultSummary)
		r.Get("/vaults/{name}/position/{account}", s.handlePosition)

		r.Route("/rewards", func(r chi.Router) {
			r.Post("/ve", s.handleVeAmount)
			r.Post("/penalty", s.handlePenalty)
			r.Post("/base", s.handleBaseRewards)
			r.Post("/boost", s.handleBoost)
			r.Get("/claimable/{gauge}/{account}", s.handleClaimable)
		})

		r.Post("/quotes", s.handleQuote)
		r.Get("/quotes/{client}", s.handleLatestQuote)

		r.Route("/wizards", func(r chi.Router) {
			r.Post("/", s.handleCreateWizard)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleWizardState)
				r.Delete("/", s.handleCloseWizard)
				r.Post("/acknowledge", s.handleAcknowledge)
				r.Post("/amount", s.handleAmount)
				r.Post("/preview", s.handlePreview)
				r.Post("/back", s.handleBack)
				r.Post("/confirm", s.handleConfirm)
			})
		})

		r.Get("/pending", s.handlePendingList)
		r.Get("/pending/{hash}", s.handlePendingGet)
	})

	return r
}

// StartPollers subscribes the price and sheet feeds and the housekeeping job
func (s *Server) StartPollers() error {
	subs := []struct {
		name     string
		interval time.Duration
		fn       poll.Func
		enabled  bool
	}{
		{"prices", s.config.PricePollInterval, s.refreshPrices, true},
		{"sheet", s.config.SheetPollInterval, s.refreshVaults, s.deps.Sheet != nil},
		{"housekeeping", time.Minute, s.housekeeping, true},
	}

	for _, sub := range subs {
		if !sub.enabled {
			continue
		}
		p, err := poll.Subscribe(sub.interval, sub.name, sub.fn)
		if err != nil {
			s.StopPollers()
			return err
		}
		s.pollers = append(s.pollers, p)
	}
	return nil
}

// StopPollers stops every subscription and waits for running refreshes
func (s *Server) StopPollers() {
	for _, p := range s.pollers {
		p.Stop()
	}
	s.pollers = nil
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	if err := s.StartPollers(); err != nil {
		return err
	}
	defer s.StopPollers()

	s.server = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("Server starting on port %s", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logrus.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.cancelSessions()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.Stop(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("Final webhook flush failed")
		}
	}
	logrus.Info("Server stopped")
	return nil
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.sessionsMu.Lock()
	sessions := len(s.sessions)
	s.sessionsMu.Unlock()

	s.vaultsMu.RLock()
	vaults := len(s.vaults)
	s.vaultsMu.RUnlock()

	respond(w, http.StatusOK, map[string]interface{}{
		"status":        "operational",
		"version":       version,
		"started":       humanize.Time(s.started),
		"uptime":        time.Since(s.started).Round(time.Second).String(),
		"circuit_state": s.breaker.GetState().String(),
		"priced_assets": len(s.breaker.LastGoodPrices()),
		"vaults":        vaults,
		"sessions":      sessions,
		"transactions": map[string]int{
			"total":    s.deps.Registry.Len(),
			"pending":  len(s.deps.Registry.ListByStatus(model.TxStatusPending)),
			"success":  len(s.deps.Registry.ListByStatus(model.TxStatusSuccess)),
			"reverted": len(s.deps.Registry.ListByStatus(model.TxStatusReverted)),
		},
		"configuration": map[string]interface{}{
			"signer":          s.deps.Wallet != nil,
			"router":          s.deps.Router != nil,
			"gauges":          s.deps.Gauges != nil,
			"confirm_timeout": s.config.ConfirmTimeout.String(),
		},
	})
}

// observeTransaction keeps the transaction gauges in step with the registry
func (s *Server) observeTransaction(model.PendingTransaction) {
	for _, status := range []model.TxStatus{model.TxStatusPending, model.TxStatusSuccess, model.TxStatusReverted} {
		s.metrics.pendingTx.WithLabelValues(string(status)).Set(float64(len(s.deps.Registry.ListByStatus(status))))
	}
}

// housekeeping drops idle sessions, quoters and rate limiter entries
func (s *Server) housekeeping(context.Context) error {
	removed := s.expireSessions(sessionIdleTimeout)
	quoters := s.expireQuoters(sessionIdleTimeout)
	visitors := s.limiter.prune(10 * time.Minute)
	if removed > 0 || quoters > 0 || visitors > 0 {
		logrus.WithFields(logrus.Fields{
			"sessions": removed,
			"quoters":  quoters,
			"clients":  visitors,
		}).Debug("Housekeeping done")
	}
	return nil
}

func vaultOptions() validation.VaultOptions {
	return validation.DefaultVaultOptions()
}
