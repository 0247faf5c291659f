package pool

import (
	"context"
	"errors"
	"fmt"

	"duck-gateway/internal/domain"
)

// RunMaintenance performs one maintenance pass: CHECKPOINT when the
// compaction interval has elapsed, then ANALYZE, then reopens any
// connection slots lost to failed replacements. It queues at low priority
// with a short wait and skips the pass when no writer frees up.
func (p *Pool) RunMaintenance(ctx context.Context) error {
	c, err := p.acquire(ctx, RoleWriter, PriorityLow, p.cfg.MaintenanceWait)
	if err != nil {
		var re *domain.ResourceExhaustedError
		if errors.As(err, &re) {
			p.logger.Debug("maintenance skipped, no idle writer")
			return nil
		}
		return err
	}

	p.mu.Lock()
	compact := p.lastCompaction.IsZero() || p.now().Sub(p.lastCompaction) >= p.cfg.CompactionInterval
	p.mu.Unlock()

	steps := []string{"ANALYZE"}
	if compact {
		steps = []string{"CHECKPOINT", "ANALYZE"}
	}
	for _, step := range steps {
		_, alive, err := p.execute(ctx, c, p.cfg.QueryTimeout, func(ctx context.Context) (*QueryResult, error) {
			return execStmt(ctx, c.conn, step, nil)
		})
		if err != nil {
			if alive {
				_ = p.Release(c)
			}
			return fmt.Errorf("maintenance %s: %w", step, err)
		}
		if step == "CHECKPOINT" {
			p.mu.Lock()
			p.lastCompaction = p.now()
			p.mu.Unlock()
		}
	}
	if err := p.Release(c); err != nil {
		return err
	}

	if err := p.refill(ctx); err != nil {
		return fmt.Errorf("maintenance refill: %w", err)
	}
	p.logger.Debug("maintenance complete", "compacted", compact)
	return nil
}
