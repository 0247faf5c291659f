// Package audit writes one durable record per gateway request. Writes go
// straight to the sink with a short timeout; when the sink fails, records
// queue in a bounded in-memory buffer and a background flusher retries them
// in order. A full buffer is an error the caller must surface.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"duck-gateway/internal/domain"
)

// Errors returned by Record.
var (
	ErrAuditBufferFull = errors.New("audit: buffer full")
	ErrClosed          = errors.New("audit: logger closed")
)

// Config bounds the logger. Zero fields take the defaults.
type Config struct {
	WriteTimeout  time.Duration
	BufferSize    int
	RetryInterval time.Duration
}

// Defaults.
const (
	DefaultWriteTimeout  = 250 * time.Millisecond
	DefaultBufferSize    = 10000
	DefaultRetryInterval = time.Second
)

func (c Config) withDefaults() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	return c
}

// Health describes the logger's state for readiness checks.
type Health struct {
	Degraded    bool      `json:"degraded"`
	Buffered    int       `json:"buffered"`
	Written     int64     `json:"written"`
	Sequence    int64     `json:"sequence"`
	LastError   string    `json:"last_error,omitempty"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// Logger is the append-only audit trail.
type Logger struct {
	sink   domain.AuditSink
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	// mu serializes writes so sequence order matches write order.
	mu          sync.Mutex
	seq         int64
	pending     []domain.AuditRecord
	written     int64
	degraded    bool
	lastErr     error
	lastFailure time.Time
	closed      bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New starts a logger over sink. Records begin at sequence startSeq+1, so a
// restarted process can continue the sequence of a persistent sink.
func New(sink domain.AuditSink, cfg Config, startSeq int64, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{
		sink:   sink,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "audit"),
		now:    time.Now,
		seq:    startSeq,
		stop:   make(chan struct{}),
	}
	l.wg.Add(1)
	go l.flushLoop()
	return l
}

// Record appends rec. ID, Sequence and CreatedAt are assigned here. A nil
// error means the record is either persisted or buffered for retry.
func (l *Logger) Record(ctx context.Context, rec domain.AuditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if rec.ID == "" {
		rec.ID = domain.NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now().UTC()
	}
	rec.Sequence = l.seq + 1

	// Records behind a backlog wait their turn.
	if len(l.pending) > 0 {
		return l.enqueueLocked(rec)
	}

	if err := l.writeLocked(ctx, &rec); err != nil {
		l.failLocked(err)
		return l.enqueueLocked(rec)
	}
	l.seq = rec.Sequence
	return nil
}

func (l *Logger) writeLocked(ctx context.Context, rec *domain.AuditRecord) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.WriteTimeout)
	defer cancel()
	if err := l.sink.Append(wctx, rec); err != nil {
		return err
	}
	l.written++
	return nil
}

func (l *Logger) enqueueLocked(rec domain.AuditRecord) error {
	if len(l.pending) >= l.cfg.BufferSize {
		l.logger.Error("audit buffer full, record dropped", "kind", rec.Kind, "buffered", len(l.pending))
		return ErrAuditBufferFull
	}
	l.seq = rec.Sequence
	l.pending = append(l.pending, rec)
	return nil
}

func (l *Logger) failLocked(err error) {
	if !l.degraded {
		l.logger.Warn("audit sink unavailable, buffering", "error", err)
	}
	l.degraded = true
	l.lastErr = err
	l.lastFailure = l.now()
}

func (l *Logger) flushLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.Flush(context.Background())
		}
	}
}

// Flush retries buffered records in order and reports how many remain.
func (l *Logger) Flush(ctx context.Context) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked(ctx)
}

func (l *Logger) flushLocked(ctx context.Context) int {
	if len(l.pending) == 0 {
		return 0
	}
	sent := 0
	for sent < len(l.pending) {
		if ctx.Err() != nil {
			break
		}
		if err := l.writeLocked(ctx, &l.pending[sent]); err != nil {
			l.failLocked(err)
			break
		}
		sent++
	}
	l.pending = append(l.pending[:0], l.pending[sent:]...)
	if len(l.pending) == 0 && l.degraded {
		l.degraded = false
		l.logger.Info("audit sink recovered", "flushed", sent)
	}
	return len(l.pending)
}

// Health reports the current state.
func (l *Logger) Health() Health {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := Health{
		Degraded:    l.degraded,
		Buffered:    len(l.pending),
		Written:     l.written,
		Sequence:    l.seq,
		LastFailure: l.lastFailure,
	}
	if l.lastErr != nil {
		h.LastError = l.lastErr.Error()
	}
	return h
}

// Close stops the flusher and makes a final attempt to persist the buffer.
// Records still buffered when ctx ends are reported as an error. With a
// failing sink Close retries until ctx ends, so ctx should carry a deadline.
func (l *Logger) Close(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for len(l.pending) > 0 && ctx.Err() == nil {
		before := len(l.pending)
		if l.flushLocked(ctx) == before {
			// No progress; back off briefly before retrying.
			l.mu.Unlock()
			select {
			case <-ctx.Done():
			case <-time.After(l.cfg.RetryInterval):
			}
			l.mu.Lock()
		}
	}
	if n := len(l.pending); n > 0 {
		return fmt.Errorf("audit: %d records not persisted: %w", n, l.lastErr)
	}
	return nil
}
