package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Operation serves one named operation on the peer side.
type Operation func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ErrUnknownOperation is returned by a handler for an unregistered name.
var ErrUnknownOperation = errors.New("unknown operation")

// HandlerConfig configures a peer-side /invoke handler.
type HandlerConfig struct {
	Token      string
	Operations map[string]Operation
	MaxSkew    time.Duration
	Logger     *slog.Logger
}

// NewHandler builds the http.Handler a peer exposes: POST /invoke verifies
// the request signature, runs the named operation and answers with an
// InvokeResponse or ErrorResponse.
func NewHandler(cfg HandlerConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxSkew := cfg.MaxSkew
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /invoke", func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)

		body, err := io.ReadAll(io.LimitReader(r.Body, maxResponseBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unreadable body", Code: CodeParse, RequestID: requestID})
			return
		}
		if err := VerifyRequest(r, cfg.Token, body, time.Now(), maxSkew); err != nil {
			logger.Warn("rejected peer request", "request_id", requestID, "error", err)
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: CodeAuth, RequestID: requestID})
			return
		}

		var req InvokeRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: CodeParse, RequestID: requestID})
			return
		}
		if requestID == "" {
			requestID = req.RequestID
		}

		op, ok := cfg.Operations[req.Operation]
		if !ok {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: ErrUnknownOperation.Error() + ": " + req.Operation, Code: CodeNotFound, RequestID: requestID})
			return
		}

		out, err := op(r.Context(), req.Params)
		if err != nil {
			logger.Error("operation failed", "request_id", requestID, "operation", req.Operation, "error", err)
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: CodeExecution, RequestID: requestID})
			return
		}
		data, err := json.Marshal(out)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "encode result", Code: CodeExecution, RequestID: requestID})
			return
		}
		writeJSON(w, http.StatusOK, InvokeResponse{Data: data, RequestID: requestID})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
