package api

// Request types
type RPCRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// Response types
type RPCResponse struct {
	Result   any    `json:"result"`
	Provider string `json:"provider,omitempty"`
	Cached   bool   `json:"cached,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type contextKey string

const ContextKeyClientID contextKey = "client_id"
