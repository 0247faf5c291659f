// Package pool manages a fixed set of DuckDB sessions split into reader and
// writer roles. Callers queue by priority when every connection of the role
// they need is busy; a released connection goes straight to the best waiter.
//
// A single mutex guards the bookkeeping (idle sets, wait queues, latency
// history). It is never held while a statement runs.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"duck-gateway/internal/domain"
)

// Pool hands out engine connections by role.
type Pool struct {
	db     *sql.DB
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu             sync.Mutex
	conns          map[string]*Connection
	idle           map[Role][]*Connection
	queues         map[Role]*waitQueue
	want           map[Role]int
	seq            uint64
	hist           *history
	openTx         map[string]*TxContext
	closed         bool
	replaced       int64
	queries        int64
	timedOut       int64
	lastCompaction time.Time

	txWG   sync.WaitGroup
	execWG sync.WaitGroup
	cron   *cron.Cron

	// halt is canceled when shutdown gives up waiting; running statements
	// observe it through their execution context.
	halt     context.Context
	haltWork context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

// New opens cfg.MaxConnections sessions on db and starts the maintenance
// schedule.
func New(ctx context.Context, db *sql.DB, cfg Config, logger *slog.Logger) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	readers, writers := cfg.split()

	p := &Pool{
		db:     db,
		cfg:    cfg,
		logger: logger.With("component", "pool"),
		now:    time.Now,
		conns:  make(map[string]*Connection),
		idle:   make(map[Role][]*Connection),
		queues: map[Role]*waitQueue{
			RoleReader: {},
			RoleWriter: {},
			RoleAny:    {},
		},
		want:   map[Role]int{RoleReader: readers, RoleWriter: writers},
		hist:   newHistory(cfg.HistorySize),
		openTx: make(map[string]*TxContext),
	}
	p.halt, p.haltWork = context.WithCancel(context.Background())

	for role, n := range p.want {
		for i := 0; i < n; i++ {
			c, err := p.open(ctx, role)
			if err != nil {
				p.closeAll()
				return nil, fmt.Errorf("open %s connection: %w", role, err)
			}
			p.conns[c.id] = c
			p.idle[role] = append(p.idle[role], c)
		}
	}

	if cfg.MaintenanceSchedule != "-" {
		p.cron = cron.New()
		if _, err := p.cron.AddFunc(cfg.MaintenanceSchedule, func() {
			if err := p.RunMaintenance(context.Background()); err != nil {
				p.logger.Warn("maintenance failed", "error", err)
			}
		}); err != nil {
			p.closeAll()
			return nil, fmt.Errorf("maintenance schedule %q: %w", cfg.MaintenanceSchedule, err)
		}
		p.cron.Start()
	}

	p.logger.Info("pool started", "readers", readers, "writers", writers)
	return p, nil
}

// Config returns the effective configuration.
func (p *Pool) Config() Config { return p.cfg }

func (p *Pool) open(ctx context.Context, role Role) (*Connection, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	now := p.now()
	return &Connection{
		id:        domain.NewID(),
		role:      role,
		conn:      conn,
		pool:      p,
		createdAt: now,
		lastUsed:  now,
	}, nil
}

func (p *Pool) closeAll() {
	for _, c := range p.conns {
		_ = c.conn.Close()
	}
	p.conns = make(map[string]*Connection)
	p.idle = make(map[Role][]*Connection)
}

// Acquire checks out a connection of the given role, waiting up to the
// configured queue-wait timeout. Expiry returns a ResourceExhaustedError.
func (p *Pool) Acquire(ctx context.Context, role Role, priority Priority) (*Connection, error) {
	return p.acquire(ctx, role, priority, p.cfg.WaitTimeout)
}

func (p *Pool) acquire(ctx context.Context, role Role, priority Priority, wait time.Duration) (*Connection, error) {
	if role == "" {
		role = RoleAny
	}
	q, ok := p.queues[role]
	if !ok {
		return nil, fmt.Errorf("pool: unknown role %q", role)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if c := p.takeIdleLocked(role); c != nil {
		p.mu.Unlock()
		return c, nil
	}
	p.seq++
	w := &waiter{role: role, priority: priority, seq: p.seq, grant: make(chan *Connection, 1)}
	q.push(w)
	p.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case c, ok := <-w.grant:
		if !ok {
			return nil, ErrPoolClosed
		}
		return c, nil
	case <-timer.C:
		return nil, p.abandon(w, &domain.ResourceExhaustedError{Role: string(role), Wait: wait})
	case <-ctx.Done():
		return nil, p.abandon(w, ctx.Err())
	}
}

// abandon removes a waiter that gave up. A grant that raced the timeout is
// given back so the connection is not lost.
func (p *Pool) abandon(w *waiter, err error) error {
	p.mu.Lock()
	removed := p.queues[w.role].remove(w)
	p.mu.Unlock()
	if removed {
		return err
	}
	if c, ok := <-w.grant; ok && c != nil {
		_ = p.Release(c)
	}
	return err
}

func (p *Pool) takeIdleLocked(role Role) *Connection {
	roles := []Role{role}
	if role == RoleAny {
		roles = []Role{RoleReader, RoleWriter}
	}
	for _, r := range roles {
		idle := p.idle[r]
		if len(idle) == 0 {
			continue
		}
		c := idle[len(idle)-1]
		p.idle[r] = idle[:len(idle)-1]
		c.inUse = true
		c.lastUsed = p.now()
		return c
	}
	return nil
}

// Release returns a connection to the pool. A connection with an open
// transaction is refused.
func (p *Pool) Release(c *Connection) error {
	if c == nil || c.pool != p {
		return ErrForeign
	}
	p.mu.Lock()
	if _, ok := p.conns[c.id]; !ok && p.closed {
		// already closed by shutdown
		p.mu.Unlock()
		return nil
	}
	if !c.inUse {
		p.mu.Unlock()
		return ErrNotInUse
	}
	if c.tx != nil {
		p.mu.Unlock()
		return ErrTransactionOpen
	}
	if p.closed {
		c.inUse = false
		delete(p.conns, c.id)
		p.mu.Unlock()
		return c.conn.Close()
	}
	p.handOffLocked(c)
	p.mu.Unlock()
	return nil
}

// handOffLocked gives c to the best waiter that can use it, or parks it in
// the idle set.
func (p *Pool) handOffLocked(c *Connection) {
	c.lastUsed = p.now()
	own, shared := p.queues[c.role], p.queues[RoleAny]
	var q *waitQueue
	switch a, b := own.peek(), shared.peek(); {
	case a != nil && (b == nil || a.before(b)):
		q = own
	case b != nil:
		q = shared
	}
	if q == nil {
		c.inUse = false
		p.idle[c.role] = append(p.idle[c.role], c)
		return
	}
	w := q.pop()
	c.inUse = true
	w.grant <- c
}

// retire discards a connection that can no longer be trusted and opens a
// replacement for its slot.
func (p *Pool) retire(c *Connection) {
	if err := c.conn.Close(); err != nil {
		p.logger.Debug("close retired connection", "connection", c.id, "error", err)
	}

	p.mu.Lock()
	c.inUse = false
	delete(p.conns, c.id)
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}

	repl, err := p.open(context.Background(), c.role)
	if err != nil {
		p.logger.Warn("replace connection failed", "role", c.role, "error", err)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = repl.conn.Close()
		return
	}
	p.conns[repl.id] = repl
	p.replaced++
	repl.inUse = true
	p.handOffLocked(repl)
	p.mu.Unlock()
	p.logger.Info("connection replaced", "role", c.role, "old", c.id, "new", repl.id)
}

// refill opens connections for any role below its configured count.
func (p *Pool) refill(ctx context.Context) error {
	p.mu.Lock()
	missing := make(map[Role]int)
	have := make(map[Role]int)
	for _, c := range p.conns {
		have[c.role]++
	}
	for role, n := range p.want {
		if d := n - have[role]; d > 0 {
			missing[role] = d
		}
	}
	p.mu.Unlock()

	var errs []error
	for role, n := range missing {
		for i := 0; i < n; i++ {
			c, err := p.open(ctx, role)
			if err != nil {
				errs = append(errs, fmt.Errorf("refill %s: %w", role, err))
				break
			}
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				_ = c.conn.Close()
				return ErrPoolClosed
			}
			p.conns[c.id] = c
			c.inUse = true
			p.handOffLocked(c)
			p.mu.Unlock()
		}
	}
	return errors.Join(errs...)
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Total            int           `json:"total"`
	Readers          int           `json:"readers"`
	Writers          int           `json:"writers"`
	IdleReaders      int           `json:"idle_readers"`
	IdleWriters      int           `json:"idle_writers"`
	InUse            int           `json:"in_use"`
	Waiting          int           `json:"waiting"`
	OpenTransactions int           `json:"open_transactions"`
	Replaced         int64         `json:"replaced"`
	Queries          int64         `json:"queries"`
	TimedOut         int64         `json:"timed_out"`
	AvgLatency       time.Duration `json:"avg_latency_ns"`
	Samples          int           `json:"samples"`
	LastCompaction   time.Time     `json:"last_compaction"`
	Closed           bool          `json:"closed"`
}

// Stats reports current counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Total:            len(p.conns),
		IdleReaders:      len(p.idle[RoleReader]),
		IdleWriters:      len(p.idle[RoleWriter]),
		OpenTransactions: len(p.openTx),
		Replaced:         p.replaced,
		Queries:          p.queries,
		TimedOut:         p.timedOut,
		AvgLatency:       p.hist.average(),
		Samples:          p.hist.len(),
		LastCompaction:   p.lastCompaction,
		Closed:           p.closed,
	}
	for _, c := range p.conns {
		switch c.role {
		case RoleReader:
			s.Readers++
		case RoleWriter:
			s.Writers++
		}
		if c.inUse {
			s.InUse++
		}
	}
	for _, q := range p.queues {
		s.Waiting += q.len()
	}
	return s
}

// Shutdown stops maintenance and waits up to the grace period for open
// transactions and running statements. Once the grace period or ctx runs
// out, transactions are rolled back and statements are canceled. Every
// connection is then closed, checked out or not; a later Release of one of
// them is a no-op. Safe to call more than once.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.shutdownErr = p.shutdown(ctx)
	})
	return p.shutdownErr
}

func (p *Pool) shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	for _, q := range p.queues {
		for w := q.pop(); w != nil; w = q.pop() {
			close(w.grant)
		}
	}
	p.mu.Unlock()

	if p.cron != nil {
		select {
		case <-p.cron.Stop().Done():
		case <-ctx.Done():
		}
	}

	drained := make(chan struct{})
	go func() {
		p.txWG.Wait()
		p.execWG.Wait()
		close(drained)
	}()

	grace := time.NewTimer(p.cfg.ShutdownGrace)
	defer grace.Stop()
	select {
	case <-drained:
	case <-grace.C:
		p.abortWork()
	case <-ctx.Done():
		p.abortWork()
	}
	select {
	case <-drained:
	case <-ctx.Done():
	}
	p.haltWork()

	p.mu.Lock()
	conns := make([]*Connection, 0, len(p.conns))
	inUse := 0
	for _, c := range p.conns {
		if c.inUse {
			inUse++
		}
		c.inUse = false
		conns = append(conns, c)
	}
	p.conns = make(map[string]*Connection)
	p.idle = make(map[Role][]*Connection)
	p.openTx = make(map[string]*TxContext)
	p.mu.Unlock()

	// Close blocks while a statement still holds the session, so it is
	// bounded by ctx like the waits above.
	errCh := make(chan error, 1)
	go func() {
		var errs []error
		for _, c := range conns {
			if err := c.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
				errs = append(errs, err)
			}
		}
		errCh <- errors.Join(errs...)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = fmt.Errorf("pool shutdown: %w", ctx.Err())
	}
	p.logger.Info("pool shut down", "closed", len(conns), "were_in_use", inUse)
	return err
}

// abortWork rolls back open transactions and cancels running statements.
func (p *Pool) abortWork() {
	p.mu.Lock()
	for _, tc := range p.openTx {
		p.logger.Warn("rolling back transaction at shutdown", "transaction", tc.ID, "connection", tc.ConnectionID)
		tc.cancel()
	}
	p.mu.Unlock()
	p.haltWork()
}
