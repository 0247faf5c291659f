// Package config handles application configuration and environment loading.
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

// Audit sink kinds accepted in AUDIT_SINK.
const (
	AuditSinkSQLite = "sqlite"
	AuditSinkFile   = "file"
)

// PoolConfig holds connection pool tuning. Zero values mean "use the pool
// default".
type PoolConfig struct {
	MaxConnections      int
	ReaderRatio         float64
	WaitTimeout         time.Duration
	QueryTimeout        time.Duration
	TxTimeout           time.Duration
	ShutdownGrace       time.Duration
	MaintenanceSchedule string // cron spec, "-" disables maintenance
	CompactionInterval  time.Duration
}

// AuditConfig selects and tunes the audit trail.
type AuditConfig struct {
	Sink         string // "sqlite" (default) or "file"
	DBPath       string // SQLite audit store
	FilePath     string // JSON-lines audit file
	BufferSize   int
	WriteTimeout time.Duration
}

// BreakerConfig tunes the per-dependency circuit breakers.
type BreakerConfig struct {
	Threshold    int
	OpenDuration time.Duration
	Window       time.Duration
}

// Config holds the configuration for the gateway process.
type Config struct {
	DuckDBPath string // DuckDB database file; empty means in-memory
	PolicyPath string // YAML policy document
	ListenAddr string // HTTP listen address (default ":8080")
	PGWireAddr string // PG-wire listen address; empty disables it
	LogLevel   string // log level: debug, info, warn, error (default "info")
	Env        string // environment: "development" (default) or "production"

	Pool    PoolConfig
	Audit   AuditConfig
	Breaker BreakerConfig

	// Tool peers
	ToolPeers     string // name=url[,name=url]
	ToolPeerToken string

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
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

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// NewLogger builds the process logger: JSON in production, text otherwise.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		DuckDBPath:    os.Getenv("DUCKDB_PATH"),
		PolicyPath:    os.Getenv("POLICY_PATH"),
		ListenAddr:    os.Getenv("LISTEN_ADDR"),
		PGWireAddr:    os.Getenv("PGWIRE_ADDR"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		Env:           os.Getenv("ENV"),
		ToolPeers:     os.Getenv("TOOL_PEERS"),
		ToolPeerToken: os.Getenv("TOOL_PEER_TOKEN"),
		Audit: AuditConfig{
			Sink:     strings.ToLower(strings.TrimSpace(os.Getenv("AUDIT_SINK"))),
			DBPath:   os.Getenv("AUDIT_DB_PATH"),
			FilePath: os.Getenv("AUDIT_FILE_PATH"),
		},
		Pool: PoolConfig{
			MaintenanceSchedule: os.Getenv("MAINTENANCE_SCHEDULE"),
		},
	}

	// Pool
	cfg.Pool.MaxConnections = cfg.intEnv("POOL_MAX_CONNECTIONS")
	cfg.Pool.ReaderRatio = cfg.floatEnv("POOL_READER_RATIO")
	cfg.Pool.WaitTimeout = cfg.durationEnv("POOL_WAIT_TIMEOUT")
	cfg.Pool.QueryTimeout = cfg.durationEnv("POOL_QUERY_TIMEOUT")
	cfg.Pool.TxTimeout = cfg.durationEnv("POOL_TX_TIMEOUT")
	cfg.Pool.ShutdownGrace = cfg.durationEnv("POOL_SHUTDOWN_GRACE")
	cfg.Pool.CompactionInterval = cfg.durationEnv("COMPACTION_INTERVAL")

	// Audit
	cfg.Audit.BufferSize = cfg.intEnv("AUDIT_BUFFER_SIZE")
	cfg.Audit.WriteTimeout = cfg.durationEnv("AUDIT_WRITE_TIMEOUT")

	// Breakers
	cfg.Breaker.Threshold = cfg.intEnv("BREAKER_THRESHOLD")
	cfg.Breaker.OpenDuration = cfg.durationEnv("BREAKER_OPEN_DURATION")
	cfg.Breaker.Window = cfg.durationEnv("BREAKER_WINDOW")

	// Rate limiting
	cfg.RateLimitRPS = cfg.floatEnv("RATE_LIMIT_RPS")
	cfg.RateLimitBurst = cfg.intEnv("RATE_LIMIT_BURST")

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Audit.Sink == "" {
		cfg.Audit.Sink = AuditSinkSQLite
	}
	if cfg.Audit.DBPath == "" {
		cfg.Audit.DBPath = "gateway_audit.sqlite"
	}
	if cfg.Audit.FilePath == "" {
		cfg.Audit.FilePath = "gateway_audit.jsonl"
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

	if cfg.Audit.Sink != AuditSinkSQLite && cfg.Audit.Sink != AuditSinkFile {
		return nil, fmt.Errorf("AUDIT_SINK must be %q or %q, got %q", AuditSinkSQLite, AuditSinkFile, cfg.Audit.Sink)
	}
	if cfg.Pool.ReaderRatio < 0 || cfg.Pool.ReaderRatio >= 1 {
		return nil, fmt.Errorf("POOL_READER_RATIO must be in (0,1), got %v", cfg.Pool.ReaderRatio)
	}
	if cfg.Pool.MaxConnections < 0 {
		return nil, fmt.Errorf("POOL_MAX_CONNECTIONS must not be negative")
	}
	if cfg.ToolPeers != "" && cfg.ToolPeerToken == "" {
		cfg.Warnings = append(cfg.Warnings, "TOOL_PEERS is set without TOOL_PEER_TOKEN; peers will reject unsigned calls")
	}
	if cfg.PolicyPath == "" {
		cfg.Warnings = append(cfg.Warnings, "POLICY_PATH not set; only the demo policy is available")
	}
	if cfg.DuckDBPath == "" {
		cfg.Warnings = append(cfg.Warnings, "DUCKDB_PATH not set; using an in-memory database")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if cfg.PolicyPath == "" {
			return nil, fmt.Errorf("POLICY_PATH must be set in production (ENV=production)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

func (c *Config) intEnv(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q is not an integer; using default", key, v))
		return 0
	}
	return n
}

func (c *Config) floatEnv(key string) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q is not a number; using default", key, v))
		return 0
	}
	return f
}

func (c *Config) durationEnv(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q is not a duration; using default", key, v))
		return 0
	}
	return d
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
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
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if _, set := os.LookupEnv(key); !set {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
