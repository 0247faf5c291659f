package pool

import (
	"context"
	"database/sql"
	"time"

	"duck-gateway/internal/domain"
	"duck-gateway/internal/duckdbsql"
)

// QueryOptions tune a single Query call. Zero values take pool defaults.
type QueryOptions struct {
	Role        Role // empty infers reader for SELECT, writer otherwise
	Priority    Priority
	Timeout     time.Duration
	WaitTimeout time.Duration
}

// QueryResult holds the rows of a statement. For statements that return no
// rows, RowCount is the number of affected rows.
type QueryResult struct {
	Columns  []string        `json:"columns"`
	Rows     [][]interface{} `json:"rows"`
	RowCount int             `json:"row_count"`
	Duration time.Duration   `json:"-"`
}

// IsSelect reports whether sqlText parses as a read-only query. Text the
// parser cannot handle counts as a write.
func IsSelect(sqlText string) bool {
	stmt, err := duckdbsql.Parse(sqlText)
	if err != nil {
		return false
	}
	return duckdbsql.Classify(stmt) == duckdbsql.StmtTypeSelect
}

// Query runs one statement on a connection of the right role and returns
// it to the pool afterwards.
func (p *Pool) Query(ctx context.Context, sqlText string, args []interface{}, opts QueryOptions) (*QueryResult, error) {
	isSelect := IsSelect(sqlText)
	role := opts.Role
	switch {
	case role == "":
		role = RoleWriter
		if isSelect {
			role = RoleReader
		}
	case role == RoleReader && !isSelect:
		return nil, ErrReaderWrite
	case role == RoleAny && !isSelect:
		role = RoleWriter
	}

	wait := opts.WaitTimeout
	if wait <= 0 {
		wait = p.cfg.WaitTimeout
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = p.cfg.QueryTimeout
	}

	c, err := p.acquire(ctx, role, opts.Priority, wait)
	if err != nil {
		return nil, err
	}
	if c.role == RoleReader && !isSelect {
		_ = p.Release(c)
		return nil, ErrReaderWrite
	}

	res, alive, err := p.execute(ctx, c, timeout, func(ctx context.Context) (*QueryResult, error) {
		if isSelect {
			return queryRows(ctx, c.conn, sqlText, args)
		}
		return execStmt(ctx, c.conn, sqlText, args)
	})
	if alive {
		if rerr := p.Release(c); rerr != nil {
			p.logger.Warn("release after query", "connection", c.id, "error", rerr)
		}
	}
	return res, err
}

// execute runs fn on c within timeout. If the deadline or ctx fires before
// fn returns, the connection is handed to a background retirer and alive is
// false: the caller must not touch c again. Stale executions never return
// their connection to the idle set.
func (p *Pool) execute(ctx context.Context, c *Connection, timeout time.Duration, fn func(context.Context) (*QueryResult, error)) (res *QueryResult, alive bool, err error) {
	// registered under the lock so shutdown never waits on a group that is
	// still growing
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, true, ErrPoolClosed
	}
	p.execWG.Add(1)
	p.mu.Unlock()

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	stopHalt := context.AfterFunc(p.halt, cancel)
	defer stopHalt()

	type outcome struct {
		res *QueryResult
		err error
	}
	done := make(chan outcome, 1)
	start := p.now()

	go func() {
		defer p.execWG.Done()
		r, err := fn(execCtx)
		done <- outcome{r, err}
	}()

	select {
	case o := <-done:
		elapsed := p.now().Sub(start)
		expired := execCtx.Err() != nil
		cancel()
		if expired {
			go p.retire(c)
			return nil, false, p.deadlineError(ctx, timeout)
		}
		p.mu.Lock()
		p.hist.add(elapsed)
		p.queries++
		c.queries++
		p.mu.Unlock()
		if o.res != nil {
			o.res.Duration = elapsed
		}
		return o.res, true, o.err
	case <-execCtx.Done():
		cancel()
		go func() {
			<-done
			p.retire(c)
		}()
		return nil, false, p.deadlineError(ctx, timeout)
	}
}

// deadlineError distinguishes the pool's execution budget from the caller
// giving up.
func (p *Pool) deadlineError(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.halt.Err() != nil {
		return ErrPoolClosed
	}
	p.mu.Lock()
	p.timedOut++
	p.mu.Unlock()
	return &domain.ExecutionTimeoutError{Timeout: timeout}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func queryRows(ctx context.Context, q queryer, sqlText string, args []interface{}) (*QueryResult, error) {
	rows, err := q.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck
	return scanRows(rows)
}

func execStmt(ctx context.Context, q queryer, sqlText string, args []interface{}) (*QueryResult, error) {
	r, err := q.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	n, err := r.RowsAffected()
	if err != nil {
		n = 0
	}
	return &QueryResult{RowCount: int(n)}, nil
}

func scanRows(rows *sql.Rows) (*QueryResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var resultRows [][]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		// []byte does not survive JSON encoding as text
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		resultRows = append(resultRows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &QueryResult{
		Columns:  cols,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}
