package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"duck-gateway/internal/domain"
)

// Statement is one step of a transaction.
type Statement struct {
	SQL  string
	Args []interface{}
}

// TxOptions tune a Transaction call. Zero values take pool defaults.
type TxOptions struct {
	Priority         Priority
	Timeout          time.Duration // whole transaction
	StatementTimeout time.Duration
	WaitTimeout      time.Duration
}

// TxContext tracks an open transaction. At most one exists per connection.
type TxContext struct {
	ID           string
	ConnectionID string
	StartedAt    time.Time
	Statements   int

	cancel context.CancelFunc
}

// TxResult holds one QueryResult per statement, in order.
type TxResult struct {
	Results  []*QueryResult
	Duration time.Duration
}

// Transaction runs statements in order on one writer connection and
// commits. Any failure rolls everything back and returns a
// *domain.TransactionError naming the failing statement; a failed COMMIT
// reports FailedIndex == len(stmts).
func (p *Pool) Transaction(ctx context.Context, stmts []Statement, opts TxOptions) (*TxResult, error) {
	if len(stmts) == 0 {
		return nil, domain.ErrValidation("transaction has no statements")
	}
	wait := opts.WaitTimeout
	if wait <= 0 {
		wait = p.cfg.WaitTimeout
	}
	txTimeout := opts.Timeout
	if txTimeout <= 0 {
		txTimeout = p.cfg.TxTimeout
	}
	stmtTimeout := opts.StatementTimeout
	if stmtTimeout <= 0 {
		stmtTimeout = p.cfg.QueryTimeout
	}

	c, err := p.acquire(ctx, RoleWriter, opts.Priority, wait)
	if err != nil {
		return nil, err
	}

	txCtx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	tc := &TxContext{
		ID:           domain.NewID(),
		ConnectionID: c.id,
		StartedAt:    p.now(),
		cancel:       cancel,
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = p.Release(c)
		return nil, ErrPoolClosed
	}
	c.tx = tc
	p.openTx[tc.ID] = tc
	p.txWG.Add(1)
	p.mu.Unlock()

	res, tainted, err := p.runTx(ctx, txCtx, c, tc, stmts, txTimeout, stmtTimeout)

	p.mu.Lock()
	c.tx = nil
	delete(p.openTx, tc.ID)
	p.mu.Unlock()
	p.txWG.Done()

	if tainted {
		go p.retire(c)
	} else if rerr := p.Release(c); rerr != nil {
		p.logger.Warn("release after transaction", "connection", c.id, "error", rerr)
	}
	if err != nil {
		p.logger.Info("transaction rolled back", "transaction", tc.ID, "error", err)
		return nil, err
	}
	return res, nil
}

// runTx executes the statements. tainted reports a deadline hit, after
// which the connection is discarded instead of reused.
func (p *Pool) runTx(ctx, txCtx context.Context, c *Connection, tc *TxContext, stmts []Statement, txTimeout, stmtTimeout time.Duration) (*TxResult, bool, error) {
	start := p.now()
	tx, err := c.conn.BeginTx(txCtx, nil)
	if err != nil {
		return nil, false, &domain.TransactionError{FailedIndex: 0, Err: fmt.Errorf("begin: %w", err)}
	}

	out := &TxResult{Results: make([]*QueryResult, 0, len(stmts))}
	for i, st := range stmts {
		budget := stmtTimeout
		if dl, ok := txCtx.Deadline(); ok {
			if left := time.Until(dl); left < budget {
				budget = left
			}
		}
		sctx, scancel := context.WithTimeout(txCtx, budget)
		var r *QueryResult
		if IsSelect(st.SQL) {
			r, err = queryRows(sctx, tx, st.SQL, st.Args)
		} else {
			r, err = execStmt(sctx, tx, st.SQL, st.Args)
		}
		expired := sctx.Err() != nil
		scancel()

		if err != nil || expired {
			_ = tx.Rollback()
			tainted := false
			switch {
			case ctx.Err() != nil:
				err = ctx.Err()
			case errors.Is(sctx.Err(), context.DeadlineExceeded):
				tainted = true
				timeout := budget
				if txCtx.Err() != nil {
					timeout = txTimeout
				}
				p.mu.Lock()
				p.timedOut++
				p.mu.Unlock()
				err = &domain.ExecutionTimeoutError{Timeout: timeout}
			case expired:
				err = fmt.Errorf("aborted by shutdown: %w", context.Canceled)
			}
			return nil, tainted, &domain.TransactionError{FailedIndex: i, Succeeded: i, Err: err}
		}

		p.mu.Lock()
		tc.Statements++
		c.queries++
		p.queries++
		p.mu.Unlock()
		out.Results = append(out.Results, r)
	}

	if err := tx.Commit(); err != nil {
		if errors.Is(txCtx.Err(), context.Canceled) && ctx.Err() == nil {
			err = fmt.Errorf("aborted by shutdown: %w", err)
		}
		return nil, false, &domain.TransactionError{FailedIndex: len(stmts), Succeeded: len(stmts), Err: err}
	}

	out.Duration = p.now().Sub(start)
	p.mu.Lock()
	p.hist.add(out.Duration)
	p.mu.Unlock()
	return out, false, nil
}
