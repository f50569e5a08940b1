package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrClientClosed = errors.New("websocket client closed")

const wsDialTimeout = 10 * time.Second

// WSClient speaks JSON-RPC 2.0 over a WebSocket connection. One reader
// goroutine dispatches responses to in-flight calls by id; the connection is
// re-dialed lazily after an error.
type WSClient struct {
	url          string
	healthMethod string
	log          *zap.Logger
	seq          atomic.Uint64

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]chan *response
	closed  bool
}

func NewWSClient(url string, logger *zap.Logger) *WSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSClient{
		url:          url,
		healthMethod: DefaultHealthMethod,
		log:          logger,
		pending:      make(map[uint64]chan *response),
	}
}

// SetHealthMethod overrides the method used by HealthCheck.
func (c *WSClient) SetHealthMethod(method string) {
	c.healthMethod = method
}

func (c *WSClient) Call(ctx context.Context, method string, params []any) (any, error) {
	id := c.seq.Add(1)
	req := request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	ch := make(chan *response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if err := c.ensureConnLocked(ctx); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	err := c.conn.WriteJSON(req)
	c.mu.Unlock()

	if err != nil {
		c.dropPending(id)
		c.teardown(fmt.Errorf("write failed: %w", err))
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, errors.New("connection lost mid-call")
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
}

func (c *WSClient) HealthCheck(ctx context.Context) (bool, error) {
	result, err := c.Call(ctx, c.healthMethod, nil)
	if err != nil {
		return false, err
	}
	if s, ok := result.(string); ok && c.healthMethod == DefaultHealthMethod {
		return s == "ok", nil
	}
	return true, nil
}

func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	return nil
}

func (c *WSClient) ensureConnLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, wsDialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.url, err)
	}
	c.conn = conn
	go c.readLoop(conn)
	return nil
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		var resp response
		if err := conn.ReadJSON(&resp); err != nil {
			c.teardown(err)
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()

		if ok {
			ch <- &resp
		}
		// Responses with unknown ids (e.g. subscription notifications)
		// are dropped; this client only does request/response.
	}
}

// teardown closes the current connection and fails every in-flight call so
// the next Call re-dials.
func (c *WSClient) teardown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	if !c.closed {
		c.log.Debug("websocket connection lost", zap.Error(err))
	}
}

func (c *WSClient) dropPending(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
