// Package config handles engine configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// EngineConfig holds the query/script execution engine settings.
type EngineConfig struct {
	StatementTimeout time.Duration // server-side statement timeout per execution
	MaxRows          int           // result row/document cap
	MaxQueryLength   int           // maximum query text length in bytes
	DangerousChecks  bool          // dangerous-pattern warnings on/off
	DefaultReadOnly  bool          // demote relational transactions to read-only by default

	// Relational connection pools (per instance+database).
	PoolMaxConns       int
	PoolConnectTimeout time.Duration
	PoolIdleTimeout    time.Duration
}

// ScriptPoolConfig holds the global script-execution resource gate settings.
type ScriptPoolConfig struct {
	MemoryBudgetMB  int           // total memory budget across all live scripts
	MemoryDefaultMB int           // per-script default when no hint is supplied
	MaxConcurrent   int           // maximum concurrently running scripts
	QueueTimeout    time.Duration // maximum slot wait before rejection
}

// ResultConfig holds result size caps.
type ResultConfig struct {
	MaxBytes        int // cap applied before results are persisted
	DisplayMaxBytes int // stricter cap for on-screen rendering
}

// Config is the full environment-sourced configuration, validated at startup.
type Config struct {
	ListenAddr string
	LogLevel   string

	Engine  EngineConfig
	Scripts ScriptPoolConfig
	Results ResultConfig

	// Rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// CORS
	CORSAllowedOrigins []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadFromEnv loads configuration from environment variables and applies
// defaults. Invalid combinations fail here so a misconfigured engine never
// starts.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr: os.Getenv("LISTEN_ADDR"),
		LogLevel:   os.Getenv("LOG_LEVEL"),
		Engine: EngineConfig{
			StatementTimeout:   parseDurationMsEnv("STATEMENT_TIMEOUT_MS", 30*time.Second),
			MaxRows:            parseIntEnv("MAX_ROWS", 1000),
			MaxQueryLength:     parseIntEnv("MAX_QUERY_LENGTH", 50000),
			DangerousChecks:    parseBoolEnvDefault("DANGEROUS_PATTERN_WARNINGS", true),
			DefaultReadOnly:    parseBoolEnvDefault("DEFAULT_READ_ONLY", false),
			PoolMaxConns:       parseIntEnv("POOL_MAX_CONNS", 5),
			PoolConnectTimeout: parseDurationMsEnv("POOL_CONNECT_TIMEOUT_MS", 10*time.Second),
			PoolIdleTimeout:    parseDurationMsEnv("POOL_IDLE_TIMEOUT_MS", time.Minute),
		},
		Scripts: ScriptPoolConfig{
			MemoryBudgetMB:  parseIntEnv("SCRIPT_MEMORY_BUDGET_MB", 2048),
			MemoryDefaultMB: parseIntEnv("SCRIPT_MEMORY_DEFAULT_MB", 256),
			MaxConcurrent:   parseIntEnv("SCRIPT_MAX_CONCURRENT", 5),
			QueueTimeout:    parseDurationMsEnv("SCRIPT_QUEUE_TIMEOUT_MS", 30*time.Second),
		},
		Results: ResultConfig{
			MaxBytes:        parseIntEnv("RESULT_MAX_BYTES", 1<<20),
			DisplayMaxBytes: parseIntEnv("RESULT_DISPLAY_MAX_BYTES", 100*1024),
		},
	}

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = origins
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Engine.MaxRows <= 0 {
		return fmt.Errorf("MAX_ROWS must be positive, got %d", c.Engine.MaxRows)
	}
	if c.Engine.MaxQueryLength <= 0 {
		return fmt.Errorf("MAX_QUERY_LENGTH must be positive, got %d", c.Engine.MaxQueryLength)
	}
	if c.Engine.PoolMaxConns <= 0 {
		return fmt.Errorf("POOL_MAX_CONNS must be positive, got %d", c.Engine.PoolMaxConns)
	}
	if c.Scripts.MaxConcurrent <= 0 {
		return fmt.Errorf("SCRIPT_MAX_CONCURRENT must be positive, got %d", c.Scripts.MaxConcurrent)
	}
	if c.Scripts.MemoryBudgetMB <= 0 {
		return fmt.Errorf("SCRIPT_MEMORY_BUDGET_MB must be positive, got %d", c.Scripts.MemoryBudgetMB)
	}
	if c.Scripts.MemoryDefaultMB <= 0 || c.Scripts.MemoryDefaultMB > c.Scripts.MemoryBudgetMB {
		return fmt.Errorf("SCRIPT_MEMORY_DEFAULT_MB must be in (0, %d], got %d",
			c.Scripts.MemoryBudgetMB, c.Scripts.MemoryDefaultMB)
	}
	if c.Results.MaxBytes <= 0 {
		return fmt.Errorf("RESULT_MAX_BYTES must be positive, got %d", c.Results.MaxBytes)
	}
	if c.Results.DisplayMaxBytes <= 0 || c.Results.DisplayMaxBytes > c.Results.MaxBytes {
		return fmt.Errorf("RESULT_DISPLAY_MAX_BYTES must be in (0, %d], got %d",
			c.Results.MaxBytes, c.Results.DisplayMaxBytes)
	}
	return nil
}

func parseIntEnv(key string, defaultVal int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func parseDurationMsEnv(key string, defaultVal time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(n) * time.Millisecond
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

// LoadDotEnv reads a .env file and sets any variables not already in the
// environment. Lines must be in KEY=VALUE format. Comments (#) and blank
// lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
