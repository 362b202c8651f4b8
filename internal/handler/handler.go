package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtlprog/reviewflow/internal/handler/dto"
	"github.com/mtlprog/reviewflow/internal/middleware"
	"github.com/mtlprog/reviewflow/internal/service"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	taskService     *service.TaskService
	contractService *service.ContractTaskService
	pinger          Pinger
	gatherer        prometheus.Gatherer
}

// New creates a new Handler. pinger and gatherer may be nil: health then always
// succeeds and /metrics is not served.
func New(
	taskService *service.TaskService,
	contractService *service.ContractTaskService,
	pinger Pinger,
	gatherer prometheus.Gatherer,
) *Handler {
	return &Handler{
		taskService:     taskService,
		contractService: contractService,
		pinger:          pinger,
		gatherer:        gatherer,
	}
}

// Routes builds the HTTP router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
	}))
	r.Use(chimw.Recoverer)

	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all HTTP routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealthz)
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tasks/{id}", h.handleGetTask)
		r.Get("/tasks/{id}/events", h.handleGetTaskEvents)
		r.Get("/tasks/{id}/results", h.handleGetTaskResults)
		r.Get("/stats", h.handleGetStats)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireActor)
			r.Post("/contract-tasks", h.handleCreateContractTask)
			r.Post("/tasks/{id}/contract", h.handleAttachContract)
			r.Post("/tasks/{id}/cancel", h.handleCancelTask)
		})
	})
}

// handleHealthz returns 200 OK if the store is reachable.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			slog.Error("database health check failed", "error", err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a standard error response.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, dto.NewErrorResponse(code, message))
}

// respondDomainError maps err to a status code and writes it.
func respondDomainError(w http.ResponseWriter, err error) {
	status, code, message := dto.MapDomainError(err)
	respondError(w, status, code, message)
}

// extractTaskID extracts and validates task ID from path parameter.
// Returns (taskID, true) if valid, ("", false) if invalid (error already sent to client).
func extractTaskID(w http.ResponseWriter, r *http.Request) (string, bool) {
	taskID := chi.URLParam(r, "id")
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "task id is required")
		return "", false
	}

	if _, err := uuid.Parse(taskID); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "task_id must be a valid UUID")
		return "", false
	}

	return taskID, true
}
