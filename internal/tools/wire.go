package tools

import "encoding/json"

// InvokeRequest is the JSON body sent to POST /invoke on a peer. The client
// in peer.go and the handler in handler.go share it so the contract stays in
// sync at compile time.
type InvokeRequest struct {
	Operation string                 `json:"operation"`
	Params    map[string]interface{} `json:"params,omitempty"`
	RequestID string                 `json:"request_id"`
}

// InvokeResponse is the JSON body returned by a peer on success.
type InvokeResponse struct {
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"request_id,omitempty"`
}

// ErrorResponse is the JSON error body returned by a peer.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// Error codes used in ErrorResponse.
const (
	CodeAuth      = "AUTH_ERROR"
	CodeParse     = "PARSE_ERROR"
	CodeNotFound  = "UNKNOWN_OPERATION"
	CodeExecution = "EXECUTION_ERROR"
)
