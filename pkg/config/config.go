package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the execution core.
type Config struct {
	Port string

	// Trading mode on startup: "live", "paper" or "backtest".
	TradingMode string

	// Exchange backend
	ExchangeBaseURL   string
	ExchangeStreamURL string
	ExchangeAPIKey    string
	ExchangeAPISecret string
	ExchangeRPS       float64
	Symbols           []string
	UseMockFeed       bool

	// Paper / backtest simulation
	InitialBalance float64
	FeeRate        float64 // decimal (e.g. 0.0005 = 5 bps)
	Slippage       float64 // decimal applied against the taker
	QuoteAsset     string

	// Backtest window
	BacktestStart    string // RFC3339 date
	BacktestEnd      string
	BacktestTimeStep time.Duration
	BacktestDataPath string // CSV price history

	// Order execution
	OrderWorkers     int
	ExecutionTimeout time.Duration
	RetryDelay       time.Duration
	MaxRetries       int

	// Engine
	TickInterval time.Duration
	StopGrace    time.Duration
	TradeAmount  float64

	// Config files
	RiskRulesPath  string
	StrategiesPath string

	// Database
	DBPath string

	// Auth
	JWTSecret string
	Operator  string
	// OperatorPasswordHash is a bcrypt hash; when empty a dev password
	// is hashed at startup.
	OperatorPasswordHash string
	OperatorDevPassword  string

	Version string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		TradingMode:          strings.ToLower(getEnv("TRADING_MODE", "paper")),
		ExchangeBaseURL:      getEnv("EXCHANGE_BASE_URL", "https://api.exchange.local"),
		ExchangeStreamURL:    getEnv("EXCHANGE_STREAM_URL", "wss://stream.exchange.local/ws"),
		ExchangeAPIKey:       os.Getenv("EXCHANGE_API_KEY"),
		ExchangeAPISecret:    os.Getenv("EXCHANGE_API_SECRET"),
		ExchangeRPS:          getEnvFloat("EXCHANGE_REQUESTS_PER_SECOND", 10),
		Symbols:              splitAndTrim(getEnv("SYMBOLS", "BTC/USD,ETH/USD")),
		UseMockFeed:          getEnv("USE_MOCK_FEED", "true") == "true",
		InitialBalance:       getEnvFloat("INITIAL_BALANCE", 10000.0),
		FeeRate:              getEnvFloat("FEE_RATE", 0.0005),
		Slippage:             getEnvFloat("SLIPPAGE", 0.0),
		QuoteAsset:           getEnv("QUOTE_ASSET", "USD"),
		BacktestStart:        getEnv("BACKTEST_START", ""),
		BacktestEnd:          getEnv("BACKTEST_END", ""),
		BacktestTimeStep:     getEnvDuration("BACKTEST_TIME_STEP", time.Minute),
		BacktestDataPath:     getEnv("BACKTEST_DATA_PATH", ""),
		OrderWorkers:         getEnvInt("ORDER_WORKERS", 5),
		ExecutionTimeout:     getEnvDuration("EXECUTION_TIMEOUT", 30*time.Second),
		RetryDelay:           getEnvDuration("RETRY_DELAY", 5*time.Second),
		MaxRetries:           getEnvInt("MAX_RETRIES", 3),
		TickInterval:         getEnvDuration("TICK_INTERVAL", time.Second),
		StopGrace:            getEnvDuration("STOP_GRACE", 10*time.Second),
		TradeAmount:          getEnvFloat("TRADE_AMOUNT", 1),
		RiskRulesPath:        getEnv("RISK_RULES_PATH", "./config/risk_rules.yaml"),
		StrategiesPath:       getEnv("STRATEGIES_PATH", "./config/strategies.yaml"),
		DBPath:               getEnv("DB_PATH", "./data/tradecore.db"),
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret"),
		Operator:             getEnv("OPERATOR", "admin"),
		OperatorPasswordHash: os.Getenv("OPERATOR_PASSWORD_HASH"),
		OperatorDevPassword:  getEnv("OPERATOR_DEV_PASSWORD", "admin"),
		Version:              getEnv("VERSION", "dev"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
