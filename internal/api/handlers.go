package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SynergiaOS/MojoRust-Polyglot-Trading-Bot-sub001/internal/router"
	"github.com/SynergiaOS/MojoRust-Polyglot-Trading-Bot-sub001/internal/store"
)

// AuditDB persists call audit rows. Optional; a nil implementation disables
// auditing.
type AuditDB interface {
	LogCallAudit(ctx context.Context, audit *store.CallAudit) error
}

type Handlers struct {
	router *router.Router
	audit  AuditDB
	log    *zap.Logger
}

func NewHandlers(r *router.Router, audit AuditDB, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		router: r,
		audit:  audit,
		log:    logger,
	}
}

// RPCHandler handles POST /v1/rpc
func (h *Handlers) RPCHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, "missing method")
		return
	}

	result, info, err := h.router.CallDetailed(r.Context(), req.Method, req.Params)
	h.logAudit(r.Context(), req.Method, info, err)

	if err != nil {
		var apf *router.AllProvidersFailedError
		if errors.As(err, &apf) {
			writeError(w, http.StatusBadGateway, apf.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, RPCResponse{
		Result:   result,
		Provider: info.Provider,
		Cached:   info.Cached,
	})
}

// HealthHandler handles GET /v1/health
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	health := h.router.Health()
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// MetricsHandler handles GET /v1/metrics
func (h *Handlers) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, h.router.GetMetrics())
}

func (h *Handlers) logAudit(ctx context.Context, method string, info router.CallInfo, callErr error) {
	if h.audit == nil {
		return
	}

	outcome := "success"
	if callErr != nil {
		outcome = "failure"
	} else if info.Cached {
		outcome = "cache_hit"
	}

	audit := &store.CallAudit{
		RequestID:  uuid.New(),
		Method:     method,
		Provider:   info.Provider,
		Outcome:    outcome,
		DurationMs: int(info.Duration.Milliseconds()),
		Attempts:   info.Attempts,
		CreatedAt:  time.Now(),
	}

	if err := h.audit.LogCallAudit(ctx, audit); err != nil {
		// Best-effort: a lost audit row never fails the call.
		h.log.Warn("failed to persist call audit", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
