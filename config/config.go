// Package config loads the application configuration from an optional JSON
// file with environment variable overrides. Environment values take
// precedence over the file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gap-trading-bot/internal/confluence"
	"gap-trading-bot/internal/gap"
	"gap-trading-bot/internal/quality"
	"gap-trading-bot/internal/session"
	"gap-trading-bot/internal/sizing"
)

// Config is the full application configuration. The pipeline sections reuse
// the owning packages' config types so every tunable a package validates is
// reachable from the file.
type Config struct {
	Server     ServerConfig       `json:"server"`
	Database   DatabaseConfig     `json:"database"`
	Redis      RedisConfig        `json:"redis"`
	Vault      VaultConfig        `json:"vault"`
	Engine     EngineConfig       `json:"engine"`
	Cycle      CycleConfig        `json:"cycle"`
	Gates      GatesConfig        `json:"gates"`
	Account    AccountConfig      `json:"account"`
	Detection  *gap.Config        `json:"detection"`
	Confluence *confluence.Config `json:"confluence"`
	Quality    *quality.Config    `json:"quality"`
	Sessions   *session.Config    `json:"sessions"`
	Sizing     *sizing.Config     `json:"sizing"`
	Logging    LoggingConfig      `json:"logging"`
}

type ServerConfig struct {
	Addr           string        `json:"addr"`
	AllowedOrigins []string      `json:"allowed_origins"`
	JWTSecret      string        `json:"jwt_secret"`
	TokenTTL       time.Duration `json:"token_ttl"`
	AdminUser      string        `json:"admin_user"`
	AdminPassHash  string        `json:"admin_pass_hash"`
}

type DatabaseConfig struct {
	Enabled bool   `json:"enabled"`
	DSN     string `json:"dsn"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

type EngineConfig struct {
	Symbols      []string      `json:"symbols"`
	Timeframes   []string      `json:"timeframes"`
	PollInterval time.Duration `json:"poll_interval"`
	CandleCount  int           `json:"candle_count"`
	MockSource   bool          `json:"mock_source"` // Use synthetic candles instead of a live feed
	PaperTrading bool          `json:"paper_trading"`
	SlippageBps  float64       `json:"slippage_bps"`
}

type CycleConfig struct {
	ProfitTarget float64       `json:"profit_target"`
	LossLimit    float64       `json:"loss_limit"`
	MaxTrades    int           `json:"max_trades"`
	Duration     time.Duration `json:"duration"`
}

type GatesConfig struct {
	MinQualityLevel    string  `json:"min_quality_level"`
	MinFillProbability float64 `json:"min_fill_probability"`
	InferenceURL       string  `json:"inference_url"` // Empty disables the model predictor
}

// AccountConfig holds the account figures risk sizing works from
type AccountConfig struct {
	Equity       float64 `json:"equity"`
	FreeMargin   float64 `json:"free_margin"`
	MarginPerLot float64 `json:"margin_per_lot"`
}

type LoggingConfig struct {
	Level  string `json:"level"` // debug, info, warn, error
	Pretty bool   `json:"pretty"`
}

// Load reads config.json (or CONFIG_PATH) when present and applies
// environment overrides
func Load() (*Config, error) {
	path := getEnvOrDefault("CONFIG_PATH", "config.json")
	cfg, err := loadFromFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = &Config{}
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if cfg.Server.TokenTTL == 0 {
		cfg.Server.TokenTTL = 12 * time.Hour
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if len(cfg.Engine.Symbols) == 0 {
		cfg.Engine.Symbols = []string{"BTCUSDT"}
	}
	if len(cfg.Engine.Timeframes) == 0 {
		cfg.Engine.Timeframes = []string{"5m", "15m", "1h"}
	}
	if cfg.Engine.PollInterval == 0 {
		cfg.Engine.PollInterval = 30 * time.Second
	}
	if cfg.Engine.CandleCount == 0 {
		cfg.Engine.CandleCount = 100
	}
	if cfg.Cycle.ProfitTarget == 0 {
		cfg.Cycle.ProfitTarget = 500
	}
	if cfg.Cycle.LossLimit == 0 {
		cfg.Cycle.LossLimit = 250
	}
	if cfg.Cycle.MaxTrades == 0 {
		cfg.Cycle.MaxTrades = 10
	}
	if cfg.Cycle.Duration == 0 {
		cfg.Cycle.Duration = 24 * time.Hour
	}
	if cfg.Gates.MinQualityLevel == "" {
		cfg.Gates.MinQualityLevel = "MEDIUM"
	}
	if cfg.Gates.MinFillProbability == 0 {
		cfg.Gates.MinFillProbability = 0.55
	}
	if cfg.Account.Equity == 0 {
		cfg.Account.Equity = 10000
	}
	if cfg.Account.FreeMargin == 0 {
		cfg.Account.FreeMargin = 10000
	}
	if cfg.Account.MarginPerLot == 0 {
		cfg.Account.MarginPerLot = 1000
	}
	if cfg.Detection == nil {
		cfg.Detection = gap.DefaultConfig()
	}
	if cfg.Confluence == nil {
		cfg.Confluence = confluence.DefaultConfig()
	}
	if cfg.Quality == nil {
		cfg.Quality = quality.DefaultConfig()
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.DefaultConfig()
	}
	if cfg.Sizing == nil {
		cfg.Sizing = sizing.DefaultConfig()
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks the pipeline sections with their owning packages' rules.
// It is meant to run once at startup, before any component is built.
func (cfg *Config) Validate() error {
	if cfg.Gates.MinFillProbability < 0 || cfg.Gates.MinFillProbability > 1 {
		return fmt.Errorf("gates: min fill probability must be in [0, 1], got %f", cfg.Gates.MinFillProbability)
	}
	if cfg.Account.Equity <= 0 {
		return fmt.Errorf("account: equity must be positive, got %f", cfg.Account.Equity)
	}
	if cfg.Account.FreeMargin <= 0 {
		return fmt.Errorf("account: free margin must be positive, got %f", cfg.Account.FreeMargin)
	}
	if cfg.Account.MarginPerLot <= 0 {
		return fmt.Errorf("account: margin per lot must be positive, got %f", cfg.Account.MarginPerLot)
	}
	if err := cfg.Detection.Validate(); err != nil {
		return fmt.Errorf("detection: %w", err)
	}
	if err := cfg.Confluence.Validate(); err != nil {
		return fmt.Errorf("confluence: %w", err)
	}
	if err := cfg.Quality.Validate(); err != nil {
		return fmt.Errorf("quality: %w", err)
	}
	if err := cfg.Sessions.Validate(); err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	if err := cfg.Sizing.Validate(); err != nil {
		return fmt.Errorf("sizing: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Server.Addr = getEnvOrDefault("SERVER_ADDR", cfg.Server.Addr)
	cfg.Server.JWTSecret = getEnvOrDefault("JWT_SECRET", cfg.Server.JWTSecret)
	cfg.Server.AdminUser = getEnvOrDefault("ADMIN_USER", cfg.Server.AdminUser)
	cfg.Server.AdminPassHash = getEnvOrDefault("ADMIN_PASS_HASH", cfg.Server.AdminPassHash)

	cfg.Database.DSN = getEnvOrDefault("DATABASE_DSN", cfg.Database.DSN)
	if cfg.Database.DSN != "" {
		cfg.Database.Enabled = true
	}

	cfg.Redis.Addr = getEnvOrDefault("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)
	if os.Getenv("REDIS_ENABLED") != "" {
		cfg.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.Redis.Enabled)
	}

	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	if cfg.Vault.Address != "" && cfg.Vault.Token != "" {
		cfg.Vault.Enabled = true
	}

	if symbols := os.Getenv("ENGINE_SYMBOLS"); symbols != "" {
		cfg.Engine.Symbols = splitAndTrim(symbols)
	}
	if tfs := os.Getenv("ENGINE_TIMEFRAMES"); tfs != "" {
		cfg.Engine.Timeframes = splitAndTrim(tfs)
	}
	cfg.Engine.PollInterval = getEnvDurationOrDefault("ENGINE_POLL_INTERVAL", cfg.Engine.PollInterval)
	if os.Getenv("ENGINE_MOCK_SOURCE") != "" {
		cfg.Engine.MockSource = getEnvBoolOrDefault("ENGINE_MOCK_SOURCE", cfg.Engine.MockSource)
	}

	cfg.Cycle.ProfitTarget = getEnvFloatOrDefault("CYCLE_PROFIT_TARGET", cfg.Cycle.ProfitTarget)
	cfg.Cycle.LossLimit = getEnvFloatOrDefault("CYCLE_LOSS_LIMIT", cfg.Cycle.LossLimit)
	cfg.Cycle.MaxTrades = getEnvIntOrDefault("CYCLE_MAX_TRADES", cfg.Cycle.MaxTrades)

	cfg.Gates.MinQualityLevel = getEnvOrDefault("GATES_MIN_QUALITY", cfg.Gates.MinQualityLevel)
	cfg.Gates.MinFillProbability = getEnvFloatOrDefault("GATES_MIN_FILL_PROBABILITY", cfg.Gates.MinFillProbability)
	cfg.Gates.InferenceURL = getEnvOrDefault("GATES_INFERENCE_URL", cfg.Gates.InferenceURL)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	if os.Getenv("LOG_PRETTY") != "" {
		cfg.Logging.Pretty = getEnvBoolOrDefault("LOG_PRETTY", cfg.Logging.Pretty)
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
