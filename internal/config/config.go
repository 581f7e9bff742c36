package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chainpulse/chainpulse/internal/secrets"
)

// AuthMode represents the authentication mode for the chain data API
type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeBearer AuthMode = "bearer"
	AuthModeAPIKey AuthMode = "api_key"
)

// Config holds all application configuration
type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseDSN         string
	DatabaseMaxConns    int
	DatabaseMaxIdleTime time.Duration

	// Chain data API (metric snapshot source)
	ChainAPIBaseURL     string
	ChainAPIAuthMode    AuthMode
	ChainAPIBearerToken string
	ChainAPIAPIKey      string
	ChainAPIRPS         float64

	// Tracked entities
	ExchangeEntityIDs []string
	MinerEntityIDs    []string
	WhaleAddresses    []string

	// Signal processor constants
	AnomalyZScoreCutoff float64 // |z| above this flags an anomaly
	SpikeStdDevMultiple float64 // mempool fee spike threshold in sigmas
	VolumeSpikeMultiple float64 // total flow vs historical mean
	LargeSingleTxRatio  float64 // single tx fraction of total flow
	SmoothingAlpha      float64 // exponential smoothing factor
	HistoryWindow       int     // snapshots of history handed to processors
	MaxTransactionIDs   int     // evidence tx ids kept per signal
	StrengthChangeNorm  float64 // 24h percent change that maps to strength 1.0

	// Confidence scoring
	StrengthWeight         float64
	AccuracyWeight         float64
	QualityWeight          float64
	AnomalyPenalty         float64
	MediumBand             float64
	HighBand               float64
	DefaultAccuracy        float64
	DataQualityDeduction   float64
	QuietModeExtremeChange float64 // 24h percent change treated as extreme volatility

	// Polling / insight generation
	PollIntervalSec   int
	PollBatchLimit    int
	StaleSignalMaxAge time.Duration
	ProviderTimeout   time.Duration
	AccuracyFoldHours int // how often realized prediction accuracy is folded back

	// Text generation provider
	ProviderMode string // openai, static
	OpenAIAPIKey string
	OpenAIModel  string

	// Historical backfill
	BackfillBlocksPerMinute float64

	// Metrics/Health
	HealthPort int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Environment:         getEnv("ENVIRONMENT", "production"),
		DatabaseDSN:         secrets.GetOptionalSecret("DATABASE_DSN", "chainpulse:chainpulse@tcp(mysql:3306)/chainpulse?parseTime=true"),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMaxIdleTime: time.Duration(getEnvInt("DATABASE_MAX_IDLE_TIME_MINS", 5)) * time.Minute,

		ChainAPIBaseURL:     getEnv("CHAIN_API_BASE_URL", "https://chain-api.chainpulse.io"),
		ChainAPIAuthMode:    AuthMode(getEnv("CHAIN_API_AUTH_MODE", "none")),
		ChainAPIBearerToken: secrets.GetOptionalSecret("CHAIN_API_BEARER_TOKEN", ""),
		ChainAPIAPIKey:      secrets.GetOptionalSecret("CHAIN_API_API_KEY", ""),
		ChainAPIRPS:         getEnvFloat("CHAIN_API_RPS", 5.0),

		ExchangeEntityIDs: parseCSV(getEnv("EXCHANGE_ENTITY_IDS", "")),
		MinerEntityIDs:    parseCSV(getEnv("MINER_ENTITY_IDS", "")),
		WhaleAddresses:    parseCSV(getEnv("WHALE_ADDRESSES", "")),

		AnomalyZScoreCutoff: getEnvFloat("ANOMALY_ZSCORE_CUTOFF", 2.5),
		SpikeStdDevMultiple: getEnvFloat("SPIKE_STDDEV_MULTIPLE", 3.0),
		VolumeSpikeMultiple: getEnvFloat("VOLUME_SPIKE_MULTIPLE", 3.0),
		LargeSingleTxRatio:  getEnvFloat("LARGE_SINGLE_TX_RATIO", 0.5),
		SmoothingAlpha:      getEnvFloat("SMOOTHING_ALPHA", 0.3),
		HistoryWindow:       getEnvInt("HISTORY_WINDOW", 24),
		MaxTransactionIDs:   getEnvInt("MAX_TRANSACTION_IDS", 10),
		StrengthChangeNorm:  getEnvFloat("STRENGTH_CHANGE_NORM", 100.0),

		StrengthWeight:         getEnvFloat("CONFIDENCE_STRENGTH_WEIGHT", 0.35),
		AccuracyWeight:         getEnvFloat("CONFIDENCE_ACCURACY_WEIGHT", 0.30),
		QualityWeight:          getEnvFloat("CONFIDENCE_QUALITY_WEIGHT", 0.35),
		AnomalyPenalty:         getEnvFloat("CONFIDENCE_ANOMALY_PENALTY", 0.15),
		MediumBand:             getEnvFloat("CONFIDENCE_MEDIUM_BAND", 0.70),
		HighBand:               getEnvFloat("CONFIDENCE_HIGH_BAND", 0.85),
		DefaultAccuracy:        getEnvFloat("DEFAULT_HISTORICAL_ACCURACY", 0.70),
		DataQualityDeduction:   getEnvFloat("DATA_QUALITY_DEDUCTION", 0.25),
		QuietModeExtremeChange: getEnvFloat("QUIET_MODE_EXTREME_CHANGE", 300.0),

		PollIntervalSec:   getEnvInt("POLL_INTERVAL_SEC", 10),
		PollBatchLimit:    getEnvInt("POLL_BATCH_LIMIT", 100),
		StaleSignalMaxAge: time.Duration(getEnvInt("STALE_SIGNAL_MAX_AGE_HOURS", 6)) * time.Hour,
		ProviderTimeout:   time.Duration(getEnvInt("PROVIDER_TIMEOUT_SEC", 30)) * time.Second,
		AccuracyFoldHours: getEnvInt("ACCURACY_FOLD_HOURS", 24),

		ProviderMode: getEnv("PROVIDER_MODE", "openai"),
		OpenAIAPIKey: secrets.GetOptionalSecret("OPENAI_API_KEY", ""),
		OpenAIModel:  getEnv("OPENAI_MODEL", ""),

		BackfillBlocksPerMinute: getEnvFloat("BACKFILL_BLOCKS_PER_MINUTE", 60.0),

		HealthPort: getEnvInt("HEALTH_PORT", 8080),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}

	switch c.ChainAPIAuthMode {
	case AuthModeNone:
		// No validation needed
	case AuthModeBearer:
		if c.ChainAPIBearerToken == "" {
			return fmt.Errorf("CHAIN_API_BEARER_TOKEN is required when AUTH_MODE is bearer")
		}
	case AuthModeAPIKey:
		if c.ChainAPIAPIKey == "" {
			return fmt.Errorf("CHAIN_API_API_KEY is required when AUTH_MODE is api_key")
		}
	default:
		return fmt.Errorf("invalid CHAIN_API_AUTH_MODE: %s (must be none, bearer, or api_key)", c.ChainAPIAuthMode)
	}

	switch c.ProviderMode {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when PROVIDER_MODE is openai")
		}
	case "static":
		// Deterministic provider, no credentials
	default:
		return fmt.Errorf("invalid PROVIDER_MODE: %s (valid values: openai, static)", c.ProviderMode)
	}

	weightSum := c.StrengthWeight + c.AccuracyWeight + c.QualityWeight
	if weightSum < 0.999 || weightSum > 1.001 {
		return fmt.Errorf("confidence weights must sum to 1.0, got %.3f", weightSum)
	}

	if c.MediumBand >= c.HighBand {
		return fmt.Errorf("CONFIDENCE_MEDIUM_BAND (%.2f) must be below CONFIDENCE_HIGH_BAND (%.2f)", c.MediumBand, c.HighBand)
	}

	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1 {
		return fmt.Errorf("SMOOTHING_ALPHA must be in (0, 1], got %.3f", c.SmoothingAlpha)
	}

	if c.BackfillBlocksPerMinute <= 0 {
		return fmt.Errorf("BACKFILL_BLOCKS_PER_MINUTE must be positive")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
