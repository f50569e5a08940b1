package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SynergiaOS/MojoRust-Polyglot-Trading-Bot-sub001/internal/router"
	"github.com/SynergiaOS/MojoRust-Polyglot-Trading-Bot-sub001/internal/store"
)

type fakeProvider struct {
	result  any
	callErr error
}

func (f *fakeProvider) Call(ctx context.Context, method string, params []any) (any, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.result, nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) (bool, error) {
	return f.callErr == nil, nil
}

type fakeAudit struct {
	mu   sync.Mutex
	rows []*store.CallAudit
}

func (f *fakeAudit) LogCallAudit(ctx context.Context, audit *store.CallAudit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, audit)
	return nil
}

func newTestHandlers(t *testing.T, audit AuditDB, providers ...router.ProviderConfig) *Handlers {
	t.Helper()
	rt, err := router.New(router.Config{
		Providers: providers,
		Routing: router.RoutingConfig{
			Policy:                  router.PolicyHealthFirst,
			HealthCheckInterval:     time.Hour,
			CircuitBreakerThreshold: 3,
		},
	}, nil)
	if err != nil {
		t.Fatalf("router.New() error = %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return NewHandlers(rt, audit, nil)
}

func providerCfg(name string, priority int, p router.Provider) router.ProviderConfig {
	return router.ProviderConfig{
		Name:     name,
		Handle:   p,
		Priority: priority,
		Enabled:  true,
		Timeout:  time.Second,
	}
}

func TestRPCHandler_Success(t *testing.T) {
	audit := &fakeAudit{}
	h := newTestHandlers(t, audit, providerCfg("main", 1, &fakeProvider{result: float64(123)}))

	body := strings.NewReader(`{"method":"getSlot","params":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/rpc", body)
	rec := httptest.NewRecorder()

	h.RPCHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp RPCResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Result != float64(123) {
		t.Errorf("result = %v, want 123", resp.Result)
	}
	if resp.Provider != "main" {
		t.Errorf("provider = %s, want main", resp.Provider)
	}

	if len(audit.rows) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(audit.rows))
	}
	if audit.rows[0].Outcome != "success" || audit.rows[0].Provider != "main" {
		t.Errorf("audit row = %+v", audit.rows[0])
	}
}

func TestRPCHandler_AllProvidersFailed(t *testing.T) {
	audit := &fakeAudit{}
	h := newTestHandlers(t, audit, providerCfg("main", 1, &fakeProvider{callErr: errors.New("down")}))

	req := httptest.NewRequest(http.MethodPost, "/v1/rpc", strings.NewReader(`{"method":"getSlot"}`))
	rec := httptest.NewRecorder()

	h.RPCHandler(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if len(audit.rows) != 1 || audit.rows[0].Outcome != "failure" {
		t.Errorf("audit rows = %+v", audit.rows)
	}
}

func TestRPCHandler_BadRequest(t *testing.T) {
	h := newTestHandlers(t, nil, providerCfg("main", 1, &fakeProvider{result: 1}))

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{method}`},
		{name: "missing method", body: `{"params":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/rpc", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.RPCHandler(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestRPCHandler_MethodNotAllowed(t *testing.T) {
	h := newTestHandlers(t, nil, providerCfg("main", 1, &fakeProvider{result: 1}))

	req := httptest.NewRequest(http.MethodGet, "/v1/rpc", nil)
	rec := httptest.NewRecorder()
	h.RPCHandler(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	h := newTestHandlers(t, nil, providerCfg("main", 1, &fakeProvider{result: 1}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	h.HealthHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var snap router.HealthSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !snap.Healthy || snap.TotalProviders != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestHealthHandler_Unavailable(t *testing.T) {
	failing := &fakeProvider{callErr: errors.New("down")}
	h := newTestHandlers(t, nil, providerCfg("main", 1, failing))

	// Trip the breaker through real traffic.
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/rpc", strings.NewReader(`{"method":"getSlot"}`))
		h.RPCHandler(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	h.HealthHandler(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestMetricsHandler(t *testing.T) {
	h := newTestHandlers(t, nil, providerCfg("main", 1, &fakeProvider{result: 1}))

	req := httptest.NewRequest(http.MethodPost, "/v1/rpc", strings.NewReader(`{"method":"getSlot"}`))
	h.RPCHandler(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	h.MetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/v1/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var snap router.MetricsSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if snap.Router.TotalRequests != 1 || snap.Router.SuccessfulRequests != 1 {
		t.Errorf("router stats = %+v", snap.Router)
	}
}
