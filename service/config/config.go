package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Defaults for optional settings.
const (
	DefaultPollInterval  = 10 * time.Second
	DefaultSoftCapSOL    = "50"
	DefaultTelegramAPI   = "https://api.telegram.org"
	DefaultPriceAPIURL   = "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd"
	DefaultPriceJQ       = ".[$asset].usd"
	DefaultPriceAsset    = "solana"
	DefaultExplorerTxURL = "https://solscan.io/tx/"
	DefaultProjectName   = "BuyDetector"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Process configuration
	LogLevel    string
	MetricsAddr string

	// Solana configuration
	SolanaRPCURLs  []string
	WatchedAddress solana.PublicKey
	WrappedSOLMint solana.PublicKey

	// Detection configuration
	PollInterval        time.Duration
	StartAfterSignature string
	SoftCapSOL          decimal.Decimal
	BalanceQueryEnabled bool

	// Telegram configuration
	TelegramBotToken string
	TelegramAPIURL   string
	ChatIDs          []string
	GIFURL           string

	// Price oracle configuration
	PriceAPIURL string
	PriceJQ     string
	PriceAsset  string

	// NATS configuration, empty disables transfer event publishing
	NATSURL string

	// Message content
	ProjectName   string
	BuyURL        string
	ExplorerTxURL string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")

	// Solana configuration
	cfg.SolanaRPCURLs = parseList(os.Getenv("SOLANA_RPC_URLS"))
	if len(cfg.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URLS is required"))
	}

	if v := os.Getenv("WATCHED_ADDRESS"); v == "" {
		errs = append(errs, fmt.Errorf("WATCHED_ADDRESS is required"))
	} else if key, err := solana.PublicKeyFromBase58(v); err != nil {
		errs = append(errs, fmt.Errorf("WATCHED_ADDRESS: invalid public key %q: %w", v, err))
	} else {
		cfg.WatchedAddress = key
	}

	mint := getEnvOrDefault("WRAPPED_SOL_MINT", solana.WrappedSol.String())
	if key, err := solana.PublicKeyFromBase58(mint); err != nil {
		errs = append(errs, fmt.Errorf("WRAPPED_SOL_MINT: invalid public key %q: %w", mint, err))
	} else {
		cfg.WrappedSOLMint = key
	}

	// Detection configuration
	interval, err := parseDuration("POLL_INTERVAL", DefaultPollInterval.String())
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PollInterval = interval
	}

	cfg.StartAfterSignature = os.Getenv("START_AFTER_SIGNATURE")
	if cfg.StartAfterSignature != "" {
		if _, err := solana.SignatureFromBase58(cfg.StartAfterSignature); err != nil {
			errs = append(errs, fmt.Errorf("START_AFTER_SIGNATURE: invalid signature: %w", err))
		}
	}

	softCap, err := parseDecimal("SOFT_CAP_SOL", DefaultSoftCapSOL)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SoftCapSOL = softCap
	}

	balanceEnabled, err := parseBool("BALANCE_QUERY_ENABLED", true)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.BalanceQueryEnabled = balanceEnabled
	}

	// Telegram configuration
	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if cfg.TelegramBotToken == "" {
		errs = append(errs, fmt.Errorf("TELEGRAM_BOT_TOKEN is required"))
	}
	cfg.TelegramAPIURL = getEnvOrDefault("TELEGRAM_API_URL", DefaultTelegramAPI)
	cfg.ChatIDs = parseList(os.Getenv("CHAT_IDS"))
	if len(cfg.ChatIDs) == 0 {
		errs = append(errs, fmt.Errorf("CHAT_IDS is required"))
	}
	cfg.GIFURL = os.Getenv("GIF_URL")

	// Price oracle configuration
	cfg.PriceAPIURL = getEnvOrDefault("PRICE_API_URL", DefaultPriceAPIURL)
	cfg.PriceJQ = getEnvOrDefault("PRICE_JQ", DefaultPriceJQ)
	cfg.PriceAsset = getEnvOrDefault("PRICE_ASSET", DefaultPriceAsset)

	cfg.NATSURL = os.Getenv("NATS_URL")

	cfg.ProjectName = getEnvOrDefault("PROJECT_NAME", DefaultProjectName)
	cfg.BuyURL = os.Getenv("BUY_URL")
	cfg.ExplorerTxURL = getEnvOrDefault("EXPLORER_TX_URL", DefaultExplorerTxURL)

	if err := cfg.validateRanges(); err != nil {
		errs = append(errs, err)
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCURLs is required"))
	}
	if c.WatchedAddress.IsZero() {
		errs = append(errs, fmt.Errorf("WatchedAddress is required"))
	}
	if c.WrappedSOLMint.IsZero() {
		errs = append(errs, fmt.Errorf("WrappedSOLMint is required"))
	}
	if c.TelegramBotToken == "" {
		errs = append(errs, fmt.Errorf("TelegramBotToken is required"))
	}
	if len(c.ChatIDs) == 0 {
		errs = append(errs, fmt.Errorf("ChatIDs is required"))
	}
	if c.PriceJQ == "" {
		errs = append(errs, fmt.Errorf("PriceJQ is required"))
	}
	if err := c.validateRanges(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func (c *Config) validateRanges() error {
	if c.PollInterval != 0 && c.PollInterval < time.Second {
		return fmt.Errorf("POLL_INTERVAL must be at least 1 second, got %v", c.PollInterval)
	}
	if c.SoftCapSOL.IsNegative() {
		return fmt.Errorf("SOFT_CAP_SOL cannot be negative, got %s", c.SoftCapSOL)
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseDecimal parses a decimal from an environment variable or uses a default.
func parseDecimal(key, defaultValue string) (decimal.Decimal, error) {
	value := getEnvOrDefault(key, defaultValue)
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q: %w", key, value, err)
	}
	return d, nil
}

// parseBool parses a boolean from an environment variable or uses a default.
func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

// parseList splits a comma-separated value, trimming blanks.
func parseList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
