// Package main is the entry point for the vault rewards service: reward math,
// vault dashboards and the transaction wizards behind the staking front-end.
package main

import (
	"context"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/vault-rewards/internal/chain"
	"github.com/yourorg/vault-rewards/internal/config"
	"github.com/yourorg/vault-rewards/internal/fetch"
	tracing "github.com/yourorg/vault-rewards/internal/otel"
	"github.com/yourorg/vault-rewards/internal/pending"
	"github.com/yourorg/vault-rewards/internal/security"
)

// main is the entry point for the application
func main() {
	setupLogging()

	cfg := config.Load()
	shutdownTracer := tracing.InitTracer(cfg)
	defer shutdownTracer()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := buildDeps(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize")
	}

	server, err := NewServer(cfg, deps)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create server")
	}
	if err := server.Start(ctx); err != nil {
		logrus.WithError(err).Fatal("Server failed")
	}
}

// setupLogging configures the logging for the application
func setupLogging() {
	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))

	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch logLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}

// buildDeps creates the collaborators named by the configuration
func buildDeps(ctx context.Context, cfg config.Config) (Deps, error) {
	vaults, err := config.LoadVaults(cfg.VaultsFile)
	if err != nil {
		return Deps{}, err
	}

	deps := Deps{
		Vaults: vaults,
		Prices: fetch.NewPriceClient(fetch.Options{
			BaseURL: cfg.PriceURL,
			APIKey:  cfg.PriceAPIKey,
			Timeout: cfg.RequestTimeout,
		}),
		Registry: pending.NewRegistry(),
	}

	if cfg.SheetURL != "" {
		deps.Sheet = fetch.NewSheetClient(fetch.Options{
			BaseURL: cfg.SheetURL,
			APIKey:  cfg.SheetAPIKey,
			Timeout: cfg.RequestTimeout,
		})
	}
	if cfg.RouterURL != "" {
		deps.Router = fetch.NewRouterClient(fetch.Options{
			BaseURL: cfg.RouterURL,
			Timeout: cfg.RequestTimeout,
		})
	}
	if cfg.WebhookURL != "" {
		signer, err := security.NewSigner(cfg.WebhookSigningKey, 5*time.Minute)
		if err != nil {
			return Deps{}, err
		}
		deps.Notifier = pending.NewNotifier(pending.NotifierConfig{
			URL:     cfg.WebhookURL,
			APIKey:  cfg.WebhookAPIKey,
			Timeout: cfg.RequestTimeout,
			Signer:  signer,
		})
	}

	if cfg.RPCURL == "" {
		logrus.Warn("RPC_URL not set, chain reads and transaction wizards are disabled")
		return deps, nil
	}

	client, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return Deps{}, err
	}
	deps.Balances = chain.NewVaultReader(client)
	deps.Minter = common.HexToAddress(cfg.Minter)
	if cfg.GaugeController != "" && cfg.Minter != "" {
		deps.Gauges = chain.NewGaugeReader(client,
			common.HexToAddress(cfg.GaugeController),
			common.HexToAddress(cfg.Minter))
	}

	if cfg.CanSign() {
		wallet, err := chain.NewWallet(client, cfg.SignerKey, big.NewInt(cfg.ChainID), chain.DefaultWalletOptions())
		if err != nil {
			return Deps{}, err
		}
		if err := wallet.Connect(ctx); err != nil {
			return Deps{}, err
		}
		deps.Wallet = wallet
	}
	return deps, nil
}
