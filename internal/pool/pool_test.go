package pool

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-gateway/internal/domain"
)

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	if cfg.MaintenanceSchedule == "" {
		cfg.MaintenanceSchedule = "-"
	}
	p, err := New(context.Background(), db, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Shutdown(context.Background())
		_ = db.Close()
	})
	return p
}

func TestConfig_Split(t *testing.T) {
	t.Parallel()

	tests := []struct {
		max     int
		ratio   float64
		readers int
		writers int
	}{
		{10, 0.7, 7, 3},
		{2, 0.7, 1, 1},
		{1, 0.7, 1, 1},
		{4, 0.99, 3, 1},
		{4, 0.01, 1, 3},
		{4, 1.5, 3, 1}, // out of range falls back to the default ratio
		{5, 0.2, 1, 4},
	}
	for _, tc := range tests {
		cfg := Config{MaxConnections: tc.max, ReaderRatio: tc.ratio}.withDefaults()
		r, w := cfg.split()
		assert.Equal(t, tc.readers, r, "readers for %d/%v", tc.max, tc.ratio)
		assert.Equal(t, tc.writers, w, "writers for %d/%v", tc.max, tc.ratio)
	}
}

func TestHistory_Ring(t *testing.T) {
	t.Parallel()

	h := newHistory(3)
	assert.Equal(t, time.Duration(0), h.average())
	h.add(10 * time.Millisecond)
	h.add(20 * time.Millisecond)
	assert.Equal(t, 2, h.len())
	assert.Equal(t, 15*time.Millisecond, h.average())

	h.add(30 * time.Millisecond)
	h.add(70 * time.Millisecond) // evicts 10ms
	assert.Equal(t, 3, h.len())
	assert.Equal(t, 40*time.Millisecond, h.average())

	h.add(80 * time.Millisecond) // evicts 20ms
	assert.Equal(t, 3, h.len())
	assert.Equal(t, 60*time.Millisecond, h.average())
}

func TestWaitQueue_Order(t *testing.T) {
	t.Parallel()

	var q waitQueue
	q.push(&waiter{priority: PriorityNormal, seq: 1})
	q.push(&waiter{priority: PriorityLow, seq: 2})
	q.push(&waiter{priority: PriorityHigh, seq: 3})
	q.push(&waiter{priority: PriorityNormal, seq: 4})
	q.push(&waiter{priority: PriorityHigh, seq: 5})

	var got []uint64
	for w := q.pop(); w != nil; w = q.pop() {
		got = append(got, w.seq)
	}
	assert.Equal(t, []uint64{3, 5, 1, 4, 2}, got)
}

func TestPool_New(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 4, ReaderRatio: 0.5})

	s := p.Stats()
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Readers)
	assert.Equal(t, 2, s.Writers)
	assert.Equal(t, 2, s.IdleReaders)
	assert.Equal(t, 2, s.IdleWriters)
	assert.Zero(t, s.InUse)
	assert.False(t, s.Closed)
}

func TestPool_AcquireRelease(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2})
	ctx := context.Background()

	c, err := p.Acquire(ctx, RoleReader, PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, RoleReader, c.Role())
	assert.True(t, c.InUse())
	assert.NotEmpty(t, c.ID())
	assert.Equal(t, 1, p.Stats().InUse)

	require.NoError(t, p.Release(c))
	assert.False(t, c.InUse())
	assert.ErrorIs(t, p.Release(c), ErrNotInUse)
	assert.ErrorIs(t, p.Release(nil), ErrForeign)

	other := newTestPool(t, Config{MaxConnections: 2})
	foreign, err := other.Acquire(ctx, RoleWriter, PriorityNormal)
	require.NoError(t, err)
	assert.ErrorIs(t, p.Release(foreign), ErrForeign)
	require.NoError(t, other.Release(foreign))
}

func TestPool_AcquireAnyTakesEitherRole(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2})
	ctx := context.Background()

	a, err := p.Acquire(ctx, RoleAny, PriorityNormal)
	require.NoError(t, err)
	b, err := p.Acquire(ctx, RoleAny, PriorityNormal)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Role{RoleReader, RoleWriter}, []Role{a.Role(), b.Role()})
	require.NoError(t, p.Release(a))
	require.NoError(t, p.Release(b))
}

func TestPool_ReleaseRefusesOpenTransaction(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2})

	c, err := p.Acquire(context.Background(), RoleWriter, PriorityNormal)
	require.NoError(t, err)

	p.mu.Lock()
	c.tx = &TxContext{ID: "tx", ConnectionID: c.id}
	p.mu.Unlock()
	assert.ErrorIs(t, p.Release(c), ErrTransactionOpen)
	assert.True(t, c.InUse())

	p.mu.Lock()
	c.tx = nil
	p.mu.Unlock()
	require.NoError(t, p.Release(c))
}

// Every writer is held; a writer request with a 2s wait must fail with
// resource exhaustion after roughly 2s and leave no waiter behind.
func TestPool_WriterExhaustion(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2})
	ctx := context.Background()

	held, err := p.Acquire(ctx, RoleWriter, PriorityNormal)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Query(ctx, "CREATE TABLE t (a INTEGER)", nil, QueryOptions{WaitTimeout: 2 * time.Second})
	elapsed := time.Since(start)

	var re *domain.ResourceExhaustedError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "writer", re.Role)
	assert.True(t, domain.IsRetryable(err))
	assert.GreaterOrEqual(t, elapsed, 2*time.Second)
	assert.Less(t, elapsed, 4*time.Second)
	assert.Zero(t, p.Stats().Waiting)

	// Readers are unaffected.
	res, err := p.Query(ctx, "SELECT 42 AS answer", nil, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"answer"}, res.Columns)

	require.NoError(t, p.Release(held))
}

func TestPool_HandOffByPriority(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2, WaitTimeout: 5 * time.Second})
	ctx := context.Background()

	held, err := p.Acquire(ctx, RoleWriter, PriorityNormal)
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []string
		wg    sync.WaitGroup
	)
	enqueue := func(name string, prio Priority, waiting int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Acquire(ctx, RoleWriter, prio)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			assert.NoError(t, p.Release(c))
		}()
		require.Eventually(t, func() bool { return p.Stats().Waiting == waiting }, time.Second, time.Millisecond)
	}

	enqueue("low", PriorityLow, 1)
	enqueue("normal-1", PriorityNormal, 2)
	enqueue("high", PriorityHigh, 3)
	enqueue("normal-2", PriorityNormal, 4)

	require.NoError(t, p.Release(held))
	wg.Wait()

	assert.Equal(t, []string{"high", "normal-1", "normal-2", "low"}, order)
	assert.Equal(t, 1, p.Stats().IdleWriters)
}

func TestPool_ReleaseServesAnyWaiter(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2})
	ctx := context.Background()

	r, err := p.Acquire(ctx, RoleReader, PriorityNormal)
	require.NoError(t, err)
	w, err := p.Acquire(ctx, RoleWriter, PriorityNormal)
	require.NoError(t, err)

	got := make(chan *Connection, 1)
	go func() {
		c, err := p.Acquire(ctx, RoleAny, PriorityNormal)
		assert.NoError(t, err)
		got <- c
	}()
	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	require.NoError(t, p.Release(r))
	c := <-got
	assert.Equal(t, r.ID(), c.ID())
	require.NoError(t, p.Release(c))
	require.NoError(t, p.Release(w))
}

func TestPool_AcquireContextCanceled(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2})

	held, err := p.Acquire(context.Background(), RoleReader, PriorityNormal)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, RoleReader, PriorityNormal)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, p.Stats().Waiting)
	require.NoError(t, p.Release(held))
}

func TestPool_QueryRoles(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2})
	ctx := context.Background()

	_, err := p.Query(ctx, "CREATE TABLE people (name VARCHAR, age INTEGER)", nil, QueryOptions{})
	require.NoError(t, err)
	res, err := p.Query(ctx, "INSERT INTO people VALUES (?, ?), (?, ?)", []interface{}{"ada", 36, "alan", 41}, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowCount)

	res, err = p.Query(ctx, "SELECT name, age FROM people ORDER BY age", nil, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "age"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "ada", res.Rows[0][0])
	assert.EqualValues(t, 36, res.Rows[0][1])

	_, err = p.Query(ctx, "DELETE FROM people", nil, QueryOptions{Role: RoleReader})
	assert.ErrorIs(t, err, ErrReaderWrite)

	// Writes through the shared queue still land on a writer.
	_, err = p.Query(ctx, "DELETE FROM people WHERE age > 40", nil, QueryOptions{Role: RoleAny})
	require.NoError(t, err)

	s := p.Stats()
	assert.EqualValues(t, 4, s.Queries)
	assert.Equal(t, 4, s.Samples)
	assert.Zero(t, s.InUse)
}

func TestPool_QueryErrorKeepsConnection(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2})

	_, err := p.Query(context.Background(), "SELECT missing_col FROM range(1)", nil, QueryOptions{})
	require.Error(t, err)
	s := p.Stats()
	assert.Equal(t, 2, s.Total)
	assert.Zero(t, s.InUse)
	assert.Zero(t, s.Replaced)
}

func TestPool_QueryTimeoutReplacesConnection(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2})
	ctx := context.Background()

	c, err := p.Acquire(ctx, RoleReader, PriorityNormal)
	require.NoError(t, err)
	oldID := c.ID()
	require.NoError(t, p.Release(c))

	_, err = p.Query(ctx, "SELECT count(*) FROM range(100000) a, range(100000) b", nil,
		QueryOptions{Timeout: 50 * time.Millisecond})
	var te *domain.ExecutionTimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 50*time.Millisecond, te.Timeout)

	require.Eventually(t, func() bool { return p.Stats().Replaced == 1 }, 10*time.Second, 10*time.Millisecond)

	s := p.Stats()
	assert.Equal(t, 2, s.Total)
	assert.EqualValues(t, 1, s.TimedOut)

	c, err = p.Acquire(ctx, RoleReader, PriorityNormal)
	require.NoError(t, err)
	assert.NotEqual(t, oldID, c.ID(), "timed-out connection must never be reused")
	require.NoError(t, p.Release(c))

	res, err := p.Query(ctx, "SELECT 1 AS one", nil, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowCount)
}

func TestPool_TransactionCommit(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2})
	ctx := context.Background()

	_, err := p.Query(ctx, "CREATE TABLE ledger (id INTEGER, amount INTEGER)", nil, QueryOptions{})
	require.NoError(t, err)

	res, err := p.Transaction(ctx, []Statement{
		{SQL: "INSERT INTO ledger VALUES (1, 10)"},
		{SQL: "INSERT INTO ledger VALUES (?, ?)", Args: []interface{}{2, 20}},
		{SQL: "SELECT CAST(sum(amount) AS BIGINT) AS total FROM ledger"},
	}, TxOptions{})
	require.NoError(t, err)
	require.Len(t, res.Results, 3)
	assert.EqualValues(t, 30, toInt(t, res.Results[2].Rows[0][0]))

	s := p.Stats()
	assert.Zero(t, s.OpenTransactions)
	assert.Zero(t, s.InUse)
}

func TestPool_TransactionRollback(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2})
	ctx := context.Background()

	_, err := p.Query(ctx, "CREATE TABLE ledger (id INTEGER, amount INTEGER)", nil, QueryOptions{})
	require.NoError(t, err)

	_, err = p.Transaction(ctx, []Statement{
		{SQL: "INSERT INTO ledger VALUES (1, 10)"},
		{SQL: "INSERT INTO ledger VALUES (2, 20)"},
		{SQL: "INSERT INTO no_such_table VALUES (3)"},
		{SQL: "INSERT INTO ledger VALUES (4, 40)"},
	}, TxOptions{})
	var txErr *domain.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, 2, txErr.FailedIndex)
	assert.Equal(t, 2, txErr.Succeeded)
	assert.Equal(t, domain.ErrorClassTransactionFailure, domain.ClassOf(err))

	res, err := p.Query(ctx, "SELECT count(*) AS n FROM ledger", nil, QueryOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, toInt(t, res.Rows[0][0]), "partial writes must be rolled back")

	s := p.Stats()
	assert.Zero(t, s.OpenTransactions)
	assert.Equal(t, 1, s.IdleWriters)
}

func TestPool_TransactionEmpty(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2})

	_, err := p.Transaction(context.Background(), nil, TxOptions{})
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestPool_TransactionStatementTimeout(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2})

	_, err := p.Transaction(context.Background(), []Statement{
		{SQL: "SELECT count(*) FROM range(100000) a, range(100000) b"},
	}, TxOptions{StatementTimeout: 50 * time.Millisecond})
	var txErr *domain.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, 0, txErr.FailedIndex)
	var te *domain.ExecutionTimeoutError
	require.ErrorAs(t, err, &te)

	require.Eventually(t, func() bool { return p.Stats().Replaced == 1 }, 10*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, p.Stats().Total)
}

func TestPool_BatchInsert(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2})
	ctx := context.Background()

	_, err := p.Query(ctx, `CREATE TABLE "county population" (county VARCHAR, population BIGINT)`, nil, QueryOptions{})
	require.NoError(t, err)

	rows := make([][]interface{}, 0, 25)
	for i := 0; i < 25; i++ {
		rows = append(rows, []interface{}{"county", int64(i)})
	}
	before := p.Stats().Queries
	n, err := p.BatchInsert(ctx, "county population", []string{"county", "population"}, rows, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 25, n)
	assert.EqualValues(t, 3, p.Stats().Queries-before, "one statement per batch")

	res, err := p.Query(ctx, `SELECT count(*) FROM "county population"`, nil, QueryOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 25, toInt(t, res.Rows[0][0]))
}

func TestPool_BatchInsertPartialFailure(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2})
	ctx := context.Background()

	_, err := p.Query(ctx, "CREATE TABLE ids (id INTEGER PRIMARY KEY)", nil, QueryOptions{})
	require.NoError(t, err)

	rows := [][]interface{}{{1}, {2}, {3}, {1}, {5}}
	n, err := p.BatchInsert(ctx, "main.ids", []string{"id"}, rows, 2)
	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.EqualValues(t, 2, be.Inserted)
	assert.EqualValues(t, 2, n)

	res, err := p.Query(ctx, "SELECT count(*) FROM ids", nil, QueryOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, toInt(t, res.Rows[0][0]))
	assert.Zero(t, p.Stats().InUse)
}

func TestPool_BatchInsertInvalid(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2})
	ctx := context.Background()

	tests := []struct {
		name    string
		table   string
		columns []string
		rows    [][]interface{}
	}{
		{"no table", "", []string{"a"}, nil},
		{"no columns", "t", nil, nil},
		{"blank column", "t", []string{" "}, nil},
		{"short row", "t", []string{"a", "b"}, [][]interface{}{{1}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.BatchInsert(ctx, tc.table, tc.columns, tc.rows, 0)
			assert.ErrorIs(t, err, ErrInvalidBatch)
		})
	}

	n, err := p.BatchInsert(ctx, "t", []string{"a"}, nil, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQuoteQualified(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"t"`, quoteQualified("t"))
	assert.Equal(t, `"main"."t"`, quoteQualified("main.t"))
	assert.Equal(t, `"we""ird"`, quoteQualified(`we"ird`))
}

func TestPool_RunMaintenance(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2, CompactionInterval: time.Hour})
	ctx := context.Background()

	_, err := p.Query(ctx, "CREATE TABLE m AS SELECT range AS id FROM range(100)", nil, QueryOptions{})
	require.NoError(t, err)

	require.NoError(t, p.RunMaintenance(ctx))
	first := p.Stats().LastCompaction
	assert.False(t, first.IsZero())

	// Interval not yet elapsed: no second compaction.
	require.NoError(t, p.RunMaintenance(ctx))
	assert.Equal(t, first, p.Stats().LastCompaction)
}

func TestPool_RunMaintenanceSkipsWhenBusy(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2, MaintenanceWait: 20 * time.Millisecond})
	ctx := context.Background()

	held, err := p.Acquire(ctx, RoleWriter, PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, p.RunMaintenance(ctx))
	assert.True(t, p.Stats().LastCompaction.IsZero())
	require.NoError(t, p.Release(held))
}

func TestPool_RunMaintenanceRefills(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 3, ReaderRatio: 0.5})
	ctx := context.Background()

	c, err := p.Acquire(ctx, RoleReader, PriorityNormal)
	require.NoError(t, err)
	p.mu.Lock()
	delete(p.conns, c.id)
	p.mu.Unlock()
	_ = c.conn.Close()
	assert.Equal(t, 2, p.Stats().Total)

	require.NoError(t, p.RunMaintenance(ctx))
	s := p.Stats()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Readers)
}

func TestPool_Shutdown(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2})
	ctx := context.Background()

	held, err := p.Acquire(ctx, RoleWriter, PriorityNormal)
	require.NoError(t, err)

	woken := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx, RoleWriter, PriorityNormal)
		woken <- err
	}()
	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	require.NoError(t, p.Shutdown(ctx))
	assert.ErrorIs(t, <-woken, ErrPoolClosed)
	require.NoError(t, p.Shutdown(ctx), "second shutdown is a no-op")

	s := p.Stats()
	assert.True(t, s.Closed)
	assert.Zero(t, s.Total, "checked-out connections are closed too")
	assert.Zero(t, s.InUse)
	assert.Zero(t, s.IdleReaders+s.IdleWriters)
	assert.False(t, held.InUse())

	_, err = p.Query(ctx, "SELECT 1", nil, QueryOptions{})
	assert.ErrorIs(t, err, ErrPoolClosed)
	_, err = p.Transaction(ctx, []Statement{{SQL: "SELECT 1"}}, TxOptions{})
	assert.ErrorIs(t, err, ErrPoolClosed)

	require.NoError(t, p.Release(held), "release after shutdown is a no-op")
	assert.Zero(t, p.Stats().Total)
}

func TestPool_ShutdownCancelsRunningQuery(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2, ShutdownGrace: 50 * time.Millisecond})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := p.Query(ctx, "SELECT count(*) FROM range(100000) a, range(100000) b", nil,
			QueryOptions{Timeout: time.Minute})
		done <- err
	}()
	require.Eventually(t, func() bool { return p.Stats().InUse == 1 }, time.Second, time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(shutdownCtx))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(10 * time.Second):
		t.Fatal("query was not canceled")
	}
	s := p.Stats()
	assert.Zero(t, s.Total)
	assert.Zero(t, s.InUse)
	assert.Zero(t, s.TimedOut, "shutdown is not an execution timeout")
}

// checkAccounting asserts that every tracked connection is either idle or
// checked out, and that idle ones are not marked in use.
func checkAccounting(t *testing.T, p *Pool) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	idle := 0
	for role, list := range p.idle {
		for _, c := range list {
			idle++
			assert.False(t, c.inUse, "idle connection %s is marked in use", c.id)
			assert.Equal(t, role, c.role)
			_, tracked := p.conns[c.id]
			assert.True(t, tracked, "idle connection %s is not tracked", c.id)
		}
	}
	active := 0
	for _, c := range p.conns {
		if c.inUse {
			active++
		}
	}
	assert.Equal(t, len(p.conns), active+idle, "active + idle must equal total")
}

func TestPool_AccountingUnderLoad(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 4, ReaderRatio: 0.75, WaitTimeout: 30 * time.Second})
	ctx := context.Background()

	_, err := p.Query(ctx, "CREATE TABLE events (id INTEGER, worker INTEGER)", nil, QueryOptions{})
	require.NoError(t, err)

	stop := make(chan struct{})
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		for {
			select {
			case <-stop:
				return
			default:
				checkAccounting(t, p)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < 40; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				var err error
				switch (w + i) % 4 {
				case 0:
					_, err = p.Query(ctx, "SELECT 1 AS one", nil, QueryOptions{Priority: Priority(w % 3)})
				case 1:
					if w%5 == 0 {
						_, err = p.Query(ctx, "SELECT count(*) FROM range(100000) a, range(100000) b", nil,
							QueryOptions{Timeout: 20 * time.Millisecond})
					} else {
						_, err = p.Query(ctx, "SELECT count(*) FROM events", nil, QueryOptions{})
					}
				case 2:
					_, err = p.Transaction(ctx, []Statement{
						{SQL: "INSERT INTO events VALUES (?, ?)", Args: []interface{}{i, w}},
						{SQL: "SELECT count(*) FROM events WHERE worker = ?", Args: []interface{}{w}},
					}, TxOptions{})
				case 3:
					var c *Connection
					c, err = p.Acquire(ctx, RoleAny, PriorityNormal)
					if err == nil {
						err = p.Release(c)
					}
				}
				var te *domain.ExecutionTimeoutError
				if err != nil && !errors.As(err, &te) {
					assert.NoError(t, err)
				}
			}
		}(w)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		s := p.Stats()
		return s.Total == 4 && s.InUse == 0
	}, 10*time.Second, 10*time.Millisecond)
	close(stop)
	<-sampled
	checkAccounting(t, p)

	s := p.Stats()
	assert.Equal(t, 3, s.IdleReaders)
	assert.Equal(t, 1, s.IdleWriters)
	assert.Zero(t, s.Waiting)
	assert.Zero(t, s.OpenTransactions)
	assert.Equal(t, s.Replaced, s.TimedOut, "every timed-out connection is replaced")
}

func TestPool_ShutdownRollsBackAfterGrace(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, Config{MaxConnections: 2, ShutdownGrace: 50 * time.Millisecond})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := p.Transaction(ctx, []Statement{
			{SQL: "SELECT count(*) FROM range(100000) a, range(100000) b"},
		}, TxOptions{})
		done <- err
	}()
	require.Eventually(t, func() bool { return p.Stats().OpenTransactions == 1 }, time.Second, time.Millisecond)

	require.NoError(t, p.Shutdown(ctx))

	select {
	case err := <-done:
		var txErr *domain.TransactionError
		assert.ErrorAs(t, err, &txErr)
	case <-time.After(10 * time.Second):
		t.Fatal("transaction was not aborted")
	}
	assert.Zero(t, p.Stats().OpenTransactions)
}

func TestIsSelect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT 1", true},
		{"WITH a AS (SELECT 1 AS x) SELECT x FROM a", true},
		{"INSERT INTO t VALUES (1)", false},
		{"CHECKPOINT", false},
		{"not sql at all", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, IsSelect(tc.sql), tc.sql)
	}
}

func toInt(t *testing.T, v interface{}) int64 {
	t.Helper()
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	default:
		t.Fatalf("unexpected numeric type %T", v)
		return 0
	}
}
