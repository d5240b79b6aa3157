// Package api exposes the execution engine over HTTP. The surrounding
// portal owns accounts and the approval workflow; these routes only cover
// the engine surface: execute, validate, test, stats, and script runs.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"querygate/internal/domain"
	"querygate/internal/engine"
	"querygate/internal/middleware"
	"querygate/internal/resourcepool"
	"querygate/internal/service/execution"
)

// Handler serves the engine API.
type Handler struct {
	facade  *engine.Facade
	pool    *resourcepool.Manager
	scripts *execution.Service
	logger  *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(facade *engine.Facade, pool *resourcepool.Manager, scripts *execution.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{facade: facade, pool: pool, scripts: scripts, logger: logger}
}

// Routes mounts the engine endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/v1/query", h.executeQuery)
	r.Post("/api/v1/query/validate", h.validateQuery)
	r.Post("/api/v1/scripts", h.runScript)
	r.Get("/api/v1/instances/{id}/test", h.testConnection)
	r.Get("/api/v1/stats", h.poolStats)
	r.Get("/api/v1/pool", h.resourcePoolStatus)
	r.Get("/health", h.health)
}

func (h *Handler) executeQuery(w http.ResponseWriter, r *http.Request) {
	var req domain.ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.ErrValidation("invalid request body: %v", err))
		return
	}

	result, err := h.facade.Execute(r.Context(), req)
	if err != nil {
		h.logger.Warn("query execution failed",
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"instance", req.InstanceID, "error", err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) validateQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Protocol string `json:"protocol"`
		Query    string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.ErrValidation("invalid request body: %v", err))
		return
	}

	warnings, err := h.facade.ValidateQuery(req.Protocol, req.Query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if warnings == nil {
		warnings = []domain.Warning{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "warnings": warnings})
}

func (h *Handler) runScript(w http.ResponseWriter, r *http.Request) {
	var req execution.ScriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.ErrValidation("invalid request body: %v", err))
		return
	}
	if req.RequestID == "" {
		req.RequestID = middleware.RequestIDFromContext(r.Context())
	}

	result, err := h.scripts.Run(r.Context(), req)
	if err != nil {
		h.logger.Warn("script run failed",
			"request_id", req.RequestID, "instance", req.InstanceID, "error", err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) testConnection(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "id")
	database := r.URL.Query().Get("database")

	result, err := h.facade.TestConnection(r.Context(), instanceID, database)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) poolStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.facade.PoolStats(r.Context()))
}

func (h *Handler) resourcePoolStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.pool.Status())
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := map[string]any{
		"kind":       errorKind(err),
		"message":    err.Error(),
		"request_id": middleware.RequestIDFromContext(r.Context()),
	}
	if detail := errorDetail(err); detail != nil {
		body["detail"] = detail
	}
	writeJSON(w, httpStatusFromError(err), body)
}
