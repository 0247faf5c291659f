// Package breaker implements a three-state circuit breaker for calls to
// external dependencies.
//
// Closed passes calls through and counts consecutive failures inside a
// monitoring window. Reaching the threshold opens the circuit, and calls are
// refused until the open duration has passed. The next call then runs as the
// single half-open trial: success closes the circuit, failure reopens it.
// Calls that exceed the call timeout count as failures.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker state.
type State int32

// Breaker states.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Errors returned by Execute.
var (
	ErrOpen        = errors.New("circuit breaker is open")
	ErrCallTimeout = errors.New("call exceeded breaker timeout")
)

// Config tunes a breaker. Zero fields take the defaults.
type Config struct {
	Threshold    int
	OpenDuration time.Duration
	Window       time.Duration
	CallTimeout  time.Duration

	// OnStateChange, when set, is called after every transition. It must
	// not call back into the breaker.
	OnStateChange func(name string, from, to State)
}

// Defaults.
const (
	DefaultThreshold    = 5
	DefaultOpenDuration = 30 * time.Second
	DefaultWindow       = time.Minute
	DefaultCallTimeout  = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = DefaultOpenDuration
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return c
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Name                string        `json:"name"`
	State               State         `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastTransition      time.Time     `json:"last_transition"`
	LastError           string        `json:"last_error,omitempty"`
	Threshold           int           `json:"threshold"`
	OpenDuration        time.Duration `json:"open_duration_ns"`
	Window              time.Duration `json:"window_ns"`
	RetryAfter          time.Duration `json:"retry_after_ns,omitempty"`
}

// Breaker guards one dependency.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu             sync.Mutex
	state          State
	failures       int
	windowStart    time.Time
	openedAt       time.Time
	lastTransition time.Time
	lastErr        error
	trialInFlight  bool
}

// New creates a closed breaker.
func New(name string, cfg Config, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		name:           name,
		cfg:            cfg.withDefaults(),
		logger:         logger.With("component", "breaker", "dependency", name),
		now:            time.Now,
		lastTransition: time.Now(),
	}
}

// Name returns the dependency name.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn through the breaker. It returns ErrOpen without calling
// fn when the circuit refuses calls. fn receives a context bounded by the
// call timeout; exceeding it yields an error wrapping ErrCallTimeout.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.allow()
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(callCtx) }()

	var callErr error
	select {
	case callErr = <-done:
		if callErr != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			callErr = fmt.Errorf("%w after %s: %v", ErrCallTimeout, b.cfg.CallTimeout, callErr)
		}
	case <-callCtx.Done():
		if ctx.Err() == nil {
			callErr = fmt.Errorf("%w after %s", ErrCallTimeout, b.cfg.CallTimeout)
		} else {
			callErr = ctx.Err()
		}
	}

	// The caller giving up says nothing about the dependency.
	if ctx.Err() != nil && !errors.Is(callErr, ErrCallTimeout) {
		b.abandon(trial)
		return callErr
	}
	if callErr != nil {
		b.onFailure(trial, callErr)
		return callErr
	}
	b.onSuccess(trial)
	return nil
}

// allow decides whether a call may proceed and whether it is the half-open
// trial.
func (b *Breaker) allow() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.OpenDuration {
			return false, ErrOpen
		}
		b.transitionLocked(StateHalfOpen)
		b.trialInFlight = true
		return true, nil
	default: // half-open
		if b.trialInFlight {
			return false, ErrOpen
		}
		b.trialInFlight = true
		return true, nil
	}
}

func (b *Breaker) onSuccess(trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.lastErr = nil
	if trial {
		b.trialInFlight = false
		b.transitionLocked(StateClosed)
	}
}

func (b *Breaker) onFailure(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.lastErr = err

	if trial {
		b.trialInFlight = false
		b.failures = b.cfg.Threshold
		b.openedAt = now
		b.transitionLocked(StateOpen)
		return
	}
	if b.state != StateClosed {
		return
	}
	if b.failures == 0 || now.Sub(b.windowStart) > b.cfg.Window {
		b.failures = 0
		b.windowStart = now
	}
	b.failures++
	if b.failures >= b.cfg.Threshold {
		b.openedAt = now
		b.transitionLocked(StateOpen)
	}
}

func (b *Breaker) abandon(trial bool) {
	if !trial {
		return
	}
	b.mu.Lock()
	b.trialInFlight = false
	b.mu.Unlock()
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.lastTransition = b.now()
	if to == StateClosed {
		b.failures = 0
	}

	switch to {
	case StateOpen:
		b.logger.Warn("circuit opened", "failures", b.failures, "open_for", b.cfg.OpenDuration, "error", b.lastErr)
	case StateHalfOpen:
		b.logger.Info("circuit half-open, sending trial call")
	case StateClosed:
		b.logger.Info("circuit closed")
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// Snapshot reports the breaker's state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.failures,
		LastTransition:      b.lastTransition,
		Threshold:           b.cfg.Threshold,
		OpenDuration:        b.cfg.OpenDuration,
		Window:              b.cfg.Window,
	}
	if b.lastErr != nil {
		s.LastError = b.lastErr.Error()
	}
	if b.state == StateOpen {
		if left := b.cfg.OpenDuration - b.now().Sub(b.openedAt); left > 0 {
			s.RetryAfter = left
		}
	}
	return s
}

// State returns the current state. An open breaker whose open duration has
// elapsed still reports open until a call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
