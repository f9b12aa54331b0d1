package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds every env-driven knob for the executor core (SPEC_FULL.md §6).
type Config struct {
	Mode     string // "test" | "live"
	TestMode bool
	DryRun   bool
	Debug    bool

	SignerAdapterURL   string
	SignerTimeout      time.Duration
	SignerMaxRetries   int
	SignerRetryDelay   time.Duration
	HLMainnet          bool
	HLExchangeTimeout  time.Duration
	HLExchangeRetries  int

	StateFilePath      string
	EventLogPath       string
	LiveEnabledCoins   map[string]bool
	PartialLockTTL     time.Duration

	TelegramToken  string
	TelegramChatID int64

	DatabaseURL string
}

func Load() (*Config, error) {
	cfg := &Config{
		Mode:     getEnv("MODE", "test"),
		TestMode: getEnvBool("TEST_MODE", false),
		DryRun:   getEnvBool("DRY_RUN", false),
		Debug:    getEnvBool("DEBUG", false),

		SignerAdapterURL:  getEnv("SIGNER_ADAPTER_URL", "http://localhost:8000"),
		SignerTimeout:     getEnvMillis("SIGNER_TIMEOUT_MS", 2500*time.Millisecond),
		SignerMaxRetries:  getEnvInt("SIGNER_MAX_RETRIES", 3),
		SignerRetryDelay:  getEnvMillis("SIGNER_RETRY_DELAY_MS", 250*time.Millisecond),
		HLMainnet:         getEnvBool("HL_MAINNET", true),
		HLExchangeTimeout: getEnvMillis("HL_EXCHANGE_TIMEOUT_MS", 4000*time.Millisecond),
		HLExchangeRetries: getEnvInt("HL_EXCHANGE_MAX_RETRIES", 3),

		StateFilePath:  getEnv("STATE_FILE_PATH", "data/executor_state.json"),
		EventLogPath:   getEnv("EVENT_LOG_PATH", "data/events.log"),
		PartialLockTTL: getEnvMillis("PARTIAL_LOCK_TTL_MS", 30_000*time.Millisecond),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
	}

	cfg.LiveEnabledCoins = parseCoinList(os.Getenv("LIVE_ENABLED_COINS"))

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.Mode != "test" && cfg.Mode != "live" {
		return nil, fmt.Errorf("MODE must be \"test\" or \"live\", got %q", cfg.Mode)
	}

	return cfg, nil
}

// CoinEnabled reports whether symbol is on the live allow-list. An empty
// allow-list permits nothing, matching the spec's fail-closed default.
func (c *Config) CoinEnabled(symbol string) bool {
	return c.LiveEnabledCoins[strings.ToUpper(symbol)]
}

// ExchangeBaseURL picks mainnet/testnet per HLMainnet (§6).
func (c *Config) ExchangeBaseURL() string {
	if c.HLMainnet {
		return "https://api.hyperliquid.xyz"
	}
	return "https://api.hyperliquid-testnet.xyz"
}

func parseCoinList(raw string) map[string]bool {
	out := map[string]bool{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			out[part] = true
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return time.Duration(i) * time.Millisecond
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
