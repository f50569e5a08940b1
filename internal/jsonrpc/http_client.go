package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultHealthMethod is the chain's liveness method; Solana-style
	// endpoints answer it with the string "ok".
	DefaultHealthMethod = "getHealth"

	defaultHTTPTimeout = 30 * time.Second
)

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError is a JSON-RPC 2.0 error object returned by an upstream.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HTTPClient speaks JSON-RPC 2.0 over HTTP POST against one upstream
// endpoint. It implements the router's provider capability.
type HTTPClient struct {
	url          string
	healthMethod string
	client       *http.Client
	log          *zap.Logger
	seq          atomic.Uint64
}

func NewHTTPClient(url string, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		url:          url,
		healthMethod: DefaultHealthMethod,
		client:       &http.Client{Timeout: defaultHTTPTimeout},
		log:          logger,
	}
}

// SetHealthMethod overrides the method used by HealthCheck.
func (c *HTTPClient) SetHealthMethod(method string) {
	c.healthMethod = method
}

func (c *HTTPClient) Call(ctx context.Context, method string, params []any) (any, error) {
	req := request{
		JSONRPC: "2.0",
		ID:      c.seq.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d", httpResp.StatusCode)
	}

	var resp response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	var result any
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	return result, nil
}

func (c *HTTPClient) HealthCheck(ctx context.Context) (bool, error) {
	result, err := c.Call(ctx, c.healthMethod, nil)
	if err != nil {
		return false, err
	}

	// getHealth answers "ok"; any other method passing without error also
	// counts as alive.
	if s, ok := result.(string); ok && c.healthMethod == DefaultHealthMethod {
		return s == "ok", nil
	}
	return true, nil
}
