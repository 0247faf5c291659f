// Package app provides application-level wiring for the gateway: it opens
// the engine and audit store, builds the pool, validator, tool invoker and
// gateway, and owns their shutdown order.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"duck-gateway/internal/api"
	"duck-gateway/internal/audit"
	"duck-gateway/internal/breaker"
	"duck-gateway/internal/config"
	"duck-gateway/internal/db"
	"duck-gateway/internal/db/repository"
	"duck-gateway/internal/domain"
	"duck-gateway/internal/engine"
	"duck-gateway/internal/gateway"
	"duck-gateway/internal/metrics"
	"duck-gateway/internal/middleware"
	"duck-gateway/internal/policy"
	"duck-gateway/internal/pool"
	"duck-gateway/internal/tools"
	"duck-gateway/internal/validator"
)

// Options select optional startup behavior.
type Options struct {
	// SeedDemo creates and fills the demo table when it is empty.
	SeedDemo bool
}

// App holds the fully-wired gateway.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	DuckDB    *sql.DB
	Pool      *pool.Pool
	Policy    *policy.Document
	Validator *validator.Validator
	Audit     *audit.Logger
	Metrics   *metrics.Metrics
	Gateway   *gateway.Gateway

	// AuditReader is nil when the file sink is in use.
	AuditReader domain.AuditReader
	// Invoker is nil when no tool peers are configured.
	Invoker *tools.Invoker

	closers []func(context.Context) error
}

// New wires every component from cfg. On error, whatever was opened is
// closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	// === Engine ===
	poolCfg := poolConfig(cfg.Pool)
	maxConns := poolCfg.MaxConnections
	if maxConns <= 0 {
		maxConns = pool.DefaultMaxConnections
	}
	// one spare session for schema introspection outside the pool
	a.DuckDB, err = engine.Open(ctx, cfg.DuckDBPath, maxConns+1)
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return a.DuckDB.Close() })
	if v, verr := engine.Version(ctx, a.DuckDB); verr == nil {
		logger.Info("engine opened", "path", displayPath(cfg.DuckDBPath), "version", v)
	}

	a.Pool, err = pool.New(ctx, a.DuckDB, poolCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connection pool: %w", err)
	}
	a.onClose(a.Pool.Shutdown)

	if opts.SeedDemo {
		n, serr := engine.SeedDemo(ctx, a.Pool)
		if serr != nil {
			return nil, serr
		}
		if n > 0 {
			logger.Info("demo data seeded", "table", engine.DemoTable, "rows", n)
		}
	}

	// === Policy + validator ===
	a.Policy, err = loadPolicy(cfg.PolicyPath, logger)
	if err != nil {
		return nil, err
	}
	schema, err := engine.LoadSchema(ctx, a.DuckDB, a.Policy.DefaultSchema())
	if err != nil {
		return nil, err
	}
	for _, t := range a.Policy.Tables() {
		if !schema.HasTable(t) {
			logger.Warn("allowlisted table not found in engine", "table", t)
		}
	}
	a.Validator = validator.New(a.Policy, schema)

	// === Audit ===
	sink, startSeq, err := a.openAuditSink(ctx)
	if err != nil {
		return nil, err
	}
	a.Audit = audit.New(sink, audit.Config{
		BufferSize:   cfg.Audit.BufferSize,
		WriteTimeout: cfg.Audit.WriteTimeout,
	}, startSeq, logger)
	// registered after the sink so it closes first
	a.onClose(a.Audit.Close)

	// === Tool peers ===
	peers, err := tools.ParsePeers(cfg.ToolPeers, cfg.ToolPeerToken)
	if err != nil {
		return nil, fmt.Errorf("TOOL_PEERS: %w", err)
	}
	if len(peers) > 0 {
		list := make([]tools.Peer, 0, len(peers))
		for _, p := range peers {
			list = append(list, p)
			a.Metrics.InitBreaker(p.Name())
		}
		a.Invoker, err = tools.NewInvoker(list, breaker.Config{
			Threshold:     cfg.Breaker.Threshold,
			OpenDuration:  cfg.Breaker.OpenDuration,
			Window:        cfg.Breaker.Window,
			OnStateChange: a.Metrics.BreakerStateChanged,
		}, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("tool peers registered", "dependencies", a.Invoker.Dependencies())
	}

	// === Metrics ===
	if err := a.Metrics.RegisterPool(a.Pool); err != nil {
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}
	if err := a.Metrics.RegisterAudit(a.Audit); err != nil {
		return nil, fmt.Errorf("register audit metrics: %w", err)
	}

	// === Gateway ===
	gwCfg := gateway.Config{
		Validator: a.Validator,
		Executor:  a.Pool,
		Audit:     a.Audit,
		Observer:  a.Metrics,
		Logger:    logger,
	}
	if a.Invoker != nil {
		gwCfg.Tools = a.Invoker
	}
	a.Gateway, err = gateway.New(gwCfg)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Handler builds the HTTP router. ctx bounds background middleware work.
func (a *App) Handler(ctx context.Context) http.Handler {
	deps := api.Deps{
		Gateway:     a.Gateway,
		AuditReader: a.AuditReader,
		PoolStats:   a.Pool.Stats,
		AuditHealth: a.Audit.Health,
		Metrics:     a.Metrics.Handler(),
		Logger:      a.Logger,
	}
	if a.Invoker != nil {
		deps.Breakers = a.Invoker.Snapshots
	}
	return api.NewHandler(deps).Router(ctx, api.Options{
		CORSAllowedOrigins: a.Config.CORSAllowedOrigins,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: a.Config.RateLimitRPS,
			Burst:             a.Config.RateLimitBurst,
		},
	})
}

// Close releases everything in reverse order of opening: the audit logger
// drains before its sink closes, the pool drains before the engine closes.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// openAuditSink opens the configured sink and returns the last sequence
// number it holds, so numbering continues across restarts.
func (a *App) openAuditSink(ctx context.Context) (domain.AuditSink, int64, error) {
	ac := a.Config.Audit
	switch ac.Sink {
	case config.AuditSinkFile:
		fs, err := audit.OpenFileSink(ac.FilePath)
		if err != nil {
			return nil, 0, err
		}
		a.onClose(func(context.Context) error { return fs.Close() })
		seq, err := fs.LastSequence()
		if err != nil {
			return nil, 0, fmt.Errorf("read audit file %s: %w", ac.FilePath, err)
		}
		a.Logger.Info("audit sink opened", "sink", ac.Sink, "path", ac.FilePath, "sequence", seq)
		return fs, seq, nil
	default:
		writeDB, readDB, err := db.OpenAuditStore(ac.DBPath)
		if err != nil {
			return nil, 0, fmt.Errorf("open audit store: %w", err)
		}
		a.onClose(func(context.Context) error {
			return errors.Join(readDB.Close(), writeDB.Close())
		})
		repo := repository.NewAuditRepo(writeDB, readDB)
		seq, err := repo.LastSequence(ctx)
		if err != nil {
			return nil, 0, err
		}
		a.AuditReader = repo
		a.Logger.Info("audit sink opened", "sink", ac.Sink, "path", ac.DBPath, "sequence", seq)
		return repo, seq, nil
	}
}

// loadPolicy reads the policy at path. Without a path the demo policy is
// used. A path that does not exist yet is created from the demo policy.
func loadPolicy(path string, logger *slog.Logger) (*policy.Document, error) {
	if path == "" {
		logger.Warn("no policy configured; using the demo policy", "table", engine.DemoTable)
		return policy.New(engine.DemoPolicy())
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		data, err := engine.DemoPolicy().Marshal()
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return nil, fmt.Errorf("write demo policy %s: %w", path, err)
		}
		logger.Info("wrote demo policy", "path", path)
	}
	doc, err := policy.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Info("policy loaded", "path", path, "tables", len(doc.Tables()), "max_rows", doc.MaxRows())
	return doc, nil
}

func poolConfig(c config.PoolConfig) pool.Config {
	return pool.Config{
		MaxConnections:      c.MaxConnections,
		ReaderRatio:         c.ReaderRatio,
		WaitTimeout:         c.WaitTimeout,
		QueryTimeout:        c.QueryTimeout,
		TxTimeout:           c.TxTimeout,
		ShutdownGrace:       c.ShutdownGrace,
		MaintenanceSchedule: c.MaintenanceSchedule,
		CompactionInterval:  c.CompactionInterval,
	}
}

func displayPath(p string) string {
	if p == "" {
		return engine.MemoryPath
	}
	return p
}
