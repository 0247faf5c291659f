// Package tools invokes operations on external peers through one circuit
// breaker per dependency.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"duck-gateway/internal/breaker"
	"duck-gateway/internal/domain"
)

// Result is the outcome of a successful invocation.
type Result struct {
	Dependency string          `json:"dependency"`
	Operation  string          `json:"operation"`
	Data       json.RawMessage `json:"data"`
	Duration   time.Duration   `json:"-"`
}

// Invoker routes calls to registered peers.
type Invoker struct {
	peers    map[string]Peer
	breakers map[string]*breaker.Breaker
	logger   *slog.Logger
}

// NewInvoker registers peers, each behind its own breaker built from cfg.
func NewInvoker(peers []Peer, cfg breaker.Config, logger *slog.Logger) (*Invoker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	inv := &Invoker{
		peers:    make(map[string]Peer, len(peers)),
		breakers: make(map[string]*breaker.Breaker, len(peers)),
		logger:   logger.With("component", "tools"),
	}
	for _, p := range peers {
		name := p.Name()
		if name == "" {
			return nil, errors.New("tools: peer with empty name")
		}
		if _, dup := inv.peers[name]; dup {
			return nil, fmt.Errorf("tools: duplicate peer %q", name)
		}
		inv.peers[name] = p
		inv.breakers[name] = breaker.New(name, cfg, logger)
	}
	return inv, nil
}

// Invoke runs operation on dependency. timeout, when positive, bounds this
// call below the breaker's call timeout; expiry counts as a failure. An
// open circuit yields a *domain.DependencyUnavailableError without
// contacting the peer.
func (inv *Invoker) Invoke(ctx context.Context, dependency, operation string, params map[string]interface{}, timeout time.Duration) (*Result, error) {
	peer, ok := inv.peers[dependency]
	if !ok {
		return nil, domain.ErrNotFound("unknown dependency %q", dependency)
	}
	if operation == "" {
		return nil, domain.ErrValidation("operation is required")
	}
	b := inv.breakers[dependency]

	start := time.Now()
	var data json.RawMessage
	err := b.Execute(ctx, func(ctx context.Context) error {
		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		out, err := peer.Invoke(callCtx, operation, params)
		if err != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return fmt.Errorf("%w after %s: %v", breaker.ErrCallTimeout, timeout, err)
			}
			return err
		}
		data = out
		return nil
	})
	if errors.Is(err, breaker.ErrOpen) {
		return nil, &domain.DependencyUnavailableError{Dependency: dependency, RetryAfter: b.Snapshot().RetryAfter}
	}
	if err != nil {
		inv.logger.Warn("tool invocation failed", "dependency", dependency, "operation", operation, "error", err)
		return nil, err
	}
	return &Result{
		Dependency: dependency,
		Operation:  operation,
		Data:       data,
		Duration:   time.Since(start),
	}, nil
}

// Dependencies returns the registered dependency names, sorted.
func (inv *Invoker) Dependencies() []string {
	names := make([]string, 0, len(inv.peers))
	for name := range inv.peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshots reports every breaker, sorted by dependency.
func (inv *Invoker) Snapshots() []breaker.Snapshot {
	out := make([]breaker.Snapshot, 0, len(inv.breakers))
	for _, name := range inv.Dependencies() {
		out = append(out, inv.breakers[name].Snapshot())
	}
	return out
}
