package jsonrpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// echoRPCServer answers each request with a canned result, or an RPC error
// for methods in failMethods.
func echoRPCServer(t *testing.T, result any, failMethods map[string]bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var req request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}

			resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
			if failMethods[req.Method] {
				resp["error"] = map[string]any{"code": -32601, "message": "Method not found"}
			} else {
				resp["result"] = result
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSClient_Call(t *testing.T) {
	srv := echoRPCServer(t, float64(98765), nil)
	defer srv.Close()

	client := NewWSClient(wsURL(srv), nil)
	defer client.Close()

	result, err := client.Call(context.Background(), "getSlot", nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result != float64(98765) {
		t.Errorf("result = %v, want 98765", result)
	}
}

func TestWSClient_SequentialCalls(t *testing.T) {
	srv := echoRPCServer(t, "pong", nil)
	defer srv.Close()

	client := NewWSClient(wsURL(srv), nil)
	defer client.Close()

	for i := 0; i < 5; i++ {
		result, err := client.Call(context.Background(), "ping", nil)
		if err != nil {
			t.Fatalf("Call(%d) error = %v", i, err)
		}
		if result != "pong" {
			t.Errorf("result = %v, want pong", result)
		}
	}
}

func TestWSClient_RPCError(t *testing.T) {
	srv := echoRPCServer(t, nil, map[string]bool{"bogus": true})
	defer srv.Close()

	client := NewWSClient(wsURL(srv), nil)
	defer client.Close()

	_, err := client.Call(context.Background(), "bogus", nil)
	if err == nil {
		t.Fatal("Call() error = nil, want RPC error")
	}
}

func TestWSClient_HealthCheck(t *testing.T) {
	srv := echoRPCServer(t, "ok", nil)
	defer srv.Close()

	client := NewWSClient(wsURL(srv), nil)
	defer client.Close()

	ok, err := client.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if !ok {
		t.Error("HealthCheck() = false, want true")
	}
}

func TestWSClient_ContextCancellation(t *testing.T) {
	// Server that never answers.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client := NewWSClient(wsURL(srv), nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.Call(ctx, "getSlot", nil); err == nil {
		t.Error("Call() error = nil with expired context")
	}
}

func TestWSClient_ReconnectsAfterServerDrop(t *testing.T) {
	srv := echoRPCServer(t, "ok", nil)

	client := NewWSClient(wsURL(srv), nil)
	defer client.Close()

	if _, err := client.Call(context.Background(), "ping", nil); err != nil {
		t.Fatalf("first Call() error = %v", err)
	}

	// Drop the server; the next call against a live server must succeed
	// after a lazy re-dial.
	srv.Close()

	srv2 := echoRPCServer(t, "ok", nil)
	defer srv2.Close()
	client.mu.Lock()
	client.url = wsURL(srv2)
	if client.conn != nil {
		_ = client.conn.Close()
		client.conn = nil
	}
	client.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := client.Call(context.Background(), "ping", nil); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client did not recover after reconnect")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWSClient_CallAfterClose(t *testing.T) {
	srv := echoRPCServer(t, "ok", nil)
	defer srv.Close()

	client := NewWSClient(wsURL(srv), nil)
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := client.Call(context.Background(), "getSlot", nil); err != ErrClientClosed {
		t.Errorf("Call() after close error = %v, want ErrClientClosed", err)
	}
}
