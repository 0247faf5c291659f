package app

import (
	"context"
	"net/http"
	"time"

	"duck-gateway/internal/domain"
	"duck-gateway/internal/engine"
	"duck-gateway/internal/gateway"
	"duck-gateway/internal/tools"
)

// PeerOperations are the operations this gateway serves to other gateways
// that list it in TOOL_PEERS. Queries still pass through validation and
// audit here.
func (a *App) PeerOperations() map[string]tools.Operation {
	return map[string]tools.Operation{
		"tables": func(context.Context, map[string]interface{}) (interface{}, error) {
			out := make(map[string][]string)
			for _, t := range a.Policy.Tables() {
				out[t] = a.Policy.TableColumns(t)
			}
			return out, nil
		},
		"query": func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			sqlText, _ := params["sql"].(string)
			if sqlText == "" {
				return nil, domain.ErrValidation("params.sql is required")
			}
			resp, err := a.Gateway.Submit(ctx, gateway.SubmitRequest{SQL: sqlText, Kind: domain.RequestDirect})
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"columns": resp.Columns, "rows": resp.Rows, "audit_id": resp.Metadata.AuditID}, nil
		},
		"version": func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
			v, err := engine.Version(ctx, a.DuckDB)
			if err != nil {
				return nil, err
			}
			return map[string]string{"engine": v}, nil
		},
	}
}

// PeerHandler serves PeerOperations behind request signing.
func (a *App) PeerHandler() http.Handler {
	return tools.NewHandler(tools.HandlerConfig{
		Token:      a.Config.ToolPeerToken,
		Operations: a.PeerOperations(),
		MaxSkew:    time.Minute,
		Logger:     a.Logger,
	})
}
