package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"duck-gateway/internal/app"
	"duck-gateway/internal/config"
	"duck-gateway/internal/pgwire"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var (
		seedDemo bool
		peerAddr string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the HTTP API on LISTEN_ADDR.

With --peer-addr the gateway also answers signed tool invocations from other
gateways on a second listener. When PGWIRE_ADDR is set, Postgres clients can
send simple queries on that address; they pass the same validation and audit
as the HTTP API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return serve(cmd.Context(), cfg, app.Options{SeedDemo: seedDemo}, peerAddr)
		},
	}
	cmd.Flags().BoolVar(&seedDemo, "seed-demo", false, "create and fill the demo table when it is empty")
	cmd.Flags().StringVar(&peerAddr, "peer-addr", "", "listen address for peer tool invocations (disabled when empty)")
	return cmd
}

func serve(parent context.Context, cfg *config.Config, opts app.Options, peerAddr string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	logger := cfg.NewLogger()
	for _, w := range cfg.Warnings {
		logger.Warn("config", "warning", w)
	}

	a, err := app.New(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}

	servers := []*http.Server{{
		Addr:              cfg.ListenAddr,
		Handler:           a.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if peerAddr != "" {
		if cfg.ToolPeerToken == "" {
			_ = a.Close(context.Background())
			return errors.New("--peer-addr requires TOOL_PEER_TOKEN")
		}
		servers = append(servers, &http.Server{
			Addr:              peerAddr,
			Handler:           a.PeerHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	var pg *pgwire.Server
	if cfg.PGWireAddr != "" {
		pg = pgwire.NewServer(pgwire.Config{
			Addr:         cfg.PGWireAddr,
			QueryTimeout: cfg.Pool.QueryTimeout,
			Logger:       logger,
		}, a.Gateway)
		if err := pg.Start(); err != nil {
			_ = a.Close(context.Background())
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		if pg != nil {
			errs = append(errs, pg.Shutdown(shutdownCtx))
		}
		// in-flight requests are finished; drain audit and the pool
		errs = append(errs, a.Close(shutdownCtx))
		return errors.Join(errs...)
	})

	err = g.Wait()
	logger.Info("stopped", "error", err)
	return err
}
