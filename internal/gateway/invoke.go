package gateway

import (
	"context"
	"time"

	"duck-gateway/internal/domain"
	"duck-gateway/internal/tools"
)

// ErrToolsDisabled is returned by Invoke when no tool invoker is configured.
var ErrToolsDisabled = domain.ErrNotFound("no tool dependencies are configured")

// Invoke calls operation on an external dependency through its circuit
// breaker and audits the call. No SQL is involved, so the record's
// validation outcome is domain.OutcomeSkipped.
func (g *Gateway) Invoke(ctx context.Context, dependency, operation string, params map[string]interface{}, timeout time.Duration) (*tools.Result, error) {
	start := g.now()
	rec := newRecord(domain.RequestToolInvocation, dependency+"."+operation, "")
	rec.ValidationOutcome = domain.OutcomeSkipped

	var (
		res *tools.Result
		err error
	)
	if g.tools == nil {
		err = ErrToolsDisabled
	} else {
		res, err = g.tools.Invoke(ctx, dependency, operation, params, timeout)
	}

	if err = g.finish(ctx, &rec, start, err); err != nil {
		return nil, err
	}
	return res, nil
}
