// Package config provides configuration loading and management for the application.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// Chain access. SignerKey is optional; without it the transaction
	// wizards are read-only.
	RPCURL    string
	ChainID   int64
	SignerKey string

	// Reward contracts shared by every gauge
	GaugeController string
	Minter          string

	// Off-chain collaborators
	PriceURL    string
	PriceAPIKey string
	SheetURL    string
	SheetAPIKey string
	RouterURL   string

	// Pending transaction webhook. The signing key signs every body; empty
	// uses an ephemeral key.
	WebhookURL        string
	WebhookAPIKey     string
	WebhookSigningKey string

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// VaultsFile is the TOML vault table
	VaultsFile string

	PricePollInterval time.Duration
	SheetPollInterval time.Duration
	RequestTimeout    time.Duration
	ConfirmTimeout    time.Duration

	// Price feed circuit breaker settings
	MaxDailyChange    float64
	MaxPriceJump      float64
	MinPricedAssets   int
	CircuitResetDelay time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
}

// Load creates a new Config from environment variables
func Load() Config {
	return Config{
		Port:              GetEnvOrDefault("PORT", "8080"),
		RPCURL:            GetEnvOrDefault("RPC_URL", ""),
		ChainID:           int64(GetEnvAsInt("CHAIN_ID", 1)),
		SignerKey:         strings.TrimPrefix(GetEnvOrDefault("SIGNER_KEY", ""), "0x"),
		GaugeController:   GetEnvOrDefault("GAUGE_CONTROLLER", ""),
		Minter:            GetEnvOrDefault("MINTER", ""),
		PriceURL:          GetEnvOrDefault("PRICE_URL", "https://api.coingecko.com/api/v3"),
		PriceAPIKey:       GetEnvOrDefault("PRICE_API_KEY", ""),
		SheetURL:          GetEnvOrDefault("SHEET_URL", ""),
		SheetAPIKey:       GetEnvOrDefault("SHEET_API_KEY", ""),
		RouterURL:         GetEnvOrDefault("ROUTER_URL", ""),
		WebhookURL:        GetEnvOrDefault("WEBHOOK_URL", ""),
		WebhookAPIKey:     GetEnvOrDefault("WEBHOOK_API_KEY", ""),
		WebhookSigningKey: GetEnvOrDefault("WEBHOOK_SIGNING_KEY", ""),
		OtelEndpoint:      GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		VaultsFile:        GetEnvOrDefault("VAULTS_FILE", "vaults.toml"),
		PricePollInterval: GetEnvAsDuration("PRICE_POLL_INTERVAL", 30*time.Second),
		SheetPollInterval: GetEnvAsDuration("SHEET_POLL_INTERVAL", 120*time.Second),
		RequestTimeout:    GetEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),
		ConfirmTimeout:    GetEnvAsDuration("CONFIRM_TIMEOUT", 10*time.Minute),
		MaxDailyChange:    GetEnvAsFloat("MAX_DAILY_CHANGE", 90), // percent
		MaxPriceJump:      GetEnvAsFloat("MAX_PRICE_JUMP", 0.5),  // 50% vs last good price
		MinPricedAssets:   GetEnvAsInt("MIN_PRICED_ASSETS", 2),
		CircuitResetDelay: GetEnvAsDuration("CIRCUIT_RESET_DELAY", 5*time.Minute),
		RateLimitRPS:      GetEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:    GetEnvAsInt("RATE_LIMIT_BURST", 20),
	}
}

// CanSign reports whether a signer key is configured
func (c Config) CanSign() bool {
	return c.SignerKey != ""
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a bool with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
