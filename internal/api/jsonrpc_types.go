package api

import "encoding/json"

// JSON-RPC 2.0 request structure
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// JSON-RPC 2.0 response structure
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSON-RPC 2.0 error structure
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// OperationErrorData explains an engine rejection. Step is set for atomic
// batches and is the index of the failing step.
type OperationErrorData struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Step    *int   `json:"step,omitempty"`
}

// AtomicParams is a batch of calls run as one atomic operation
type AtomicParams struct {
	Steps []AtomicStep `json:"steps"`
}

type AtomicStep struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// JSON-RPC error codes (following standard)
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603

	// server-defined range
	JSONRPCOperationFailed = -32000
)
