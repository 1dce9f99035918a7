package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"migrator/app/usecase"
	"migrator/internal/domain/apperr"
	"migrator/internal/domain/entity"
	"migrator/internal/infrastructure/metrics"
)

// ProgressEvent is pushed to /api/v1/progress subscribers for every counted job.
type ProgressEvent struct {
	Type  string `json:"type"` // count|done|error
	JobID string `json:"job_id,omitempty"`
	Count int64  `json:"count,omitempty"`
	Total int64  `json:"total"`
	RunID string `json:"run_id,omitempty"`
	Error string `json:"error,omitempty"`
}

type CoordinatorHandler struct {
	coordinator usecase.CoordinatorUsecase
	plans       usecase.PlanUsecase
	logger      zerolog.Logger
	upgrader    websocket.Upgrader

	initTimeout time.Duration

	mu   sync.Mutex
	subs map[chan ProgressEvent]struct{}
}

// NewCoordinatorHandler builds the status API. plans may be nil, which
// disables the /plans routes.
func NewCoordinatorHandler(
	coordinator usecase.CoordinatorUsecase,
	plans usecase.PlanUsecase,
	initTimeout time.Duration,
	logger zerolog.Logger,
) *CoordinatorHandler {
	return &CoordinatorHandler{
		coordinator: coordinator,
		plans:       plans,
		logger:      logger.With().Str("component", "http").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		initTimeout: initTimeout,
		subs:        make(map[chan ProgressEvent]struct{}),
	}
}

func (h *CoordinatorHandler) withMetrics(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rw, r)

		metrics.ObserveHTTPRequest(r.Method, path, rw.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *CoordinatorHandler) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", h.withMetrics(h.handleStatus)).Methods(http.MethodGet)
	api.HandleFunc("/backlog", h.withMetrics(h.handleBacklog)).Methods(http.MethodGet)
	api.HandleFunc("/backlog", h.withMetrics(h.handleClearBacklog)).Methods(http.MethodDelete)
	api.HandleFunc("/completed", h.withMetrics(h.handleCompleted)).Methods(http.MethodGet)
	api.HandleFunc("/completed", h.withMetrics(h.handleClearCompleted)).Methods(http.MethodDelete)
	api.HandleFunc("/initialize", h.withMetrics(h.handleInitialize)).Methods(http.MethodPost)
	api.HandleFunc("/preview", h.withMetrics(h.handlePreview)).Methods(http.MethodPost)
	api.HandleFunc("/plans", h.withMetrics(h.handleListPlans)).Methods(http.MethodGet)
	api.HandleFunc("/plans/{id}", h.withMetrics(h.handleGetPlan)).Methods(http.MethodGet)
	api.HandleFunc("/plans/{id}", h.withMetrics(h.handleDeletePlan)).Methods(http.MethodDelete)
	api.HandleFunc("/progress", h.handleProgress).Methods(http.MethodGet)
	api.HandleFunc("/health", h.withMetrics(h.handleHealth)).Methods(http.MethodGet)

	// Prometheus
	r.Handle("/metrics", promhttp.Handler())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// errorStatus maps domain errors to HTTP codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, usecase.ErrInitializeRunning):
		return http.StatusConflict
	case apperr.IsConfiguration(err), apperr.IsInvalidJob(err):
		return http.StatusBadRequest
	case apperr.IsSourceQuery(err), apperr.IsStoreUnavailable(err):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *CoordinatorHandler) fail(w http.ResponseWriter, msg string, err error) {
	code := errorStatus(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg(msg)
	} else {
		h.logger.Warn().Err(err).Msg(msg)
	}
	writeError(w, code, err)
}

type jobsResponse struct {
	Jobs  []*entity.Job `json:"jobs"`
	Count int64         `json:"count"`
}

// GET /api/v1/status
func (h *CoordinatorHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.coordinator.Status(r.Context())
	if err != nil {
		h.fail(w, "status failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"backlog":      jobsResponse{Jobs: st.BacklogJobs, Count: st.BacklogCount},
		"completed":    jobsResponse{Jobs: st.CompletedJobs, Count: st.CompletedCount},
		"initializing": h.coordinator.Running(),
	})
}

// GET /api/v1/backlog
func (h *CoordinatorHandler) handleBacklog(w http.ResponseWriter, r *http.Request) {
	l, err := h.coordinator.Backlog(r.Context())
	if err != nil {
		h.fail(w, "get backlog failed", err)
		return
	}
	writeJSON(w, http.StatusOK, jobsResponse{Jobs: l.Jobs, Count: l.Count})
}

// GET /api/v1/completed
func (h *CoordinatorHandler) handleCompleted(w http.ResponseWriter, r *http.Request) {
	l, err := h.coordinator.Completed(r.Context())
	if err != nil {
		h.fail(w, "get completed failed", err)
		return
	}
	writeJSON(w, http.StatusOK, jobsResponse{Jobs: l.Jobs, Count: l.Count})
}

// DELETE /api/v1/backlog
func (h *CoordinatorHandler) handleClearBacklog(w http.ResponseWriter, r *http.Request) {
	if err := h.coordinator.ClearBacklog(r.Context()); err != nil {
		h.fail(w, "clear backlog failed", err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// DELETE /api/v1/completed
func (h *CoordinatorHandler) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	if err := h.coordinator.ClearCompleted(r.Context()); err != nil {
		h.fail(w, "clear completed failed", err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

type initializeReq struct {
	Names           string `json:"names"`
	IgnoreCompleted bool   `json:"ignore_completed"`
}

// POST /api/v1/initialize
func (h *CoordinatorHandler) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad request body: %w", err))
		return
	}
	if strings.TrimSpace(req.Names) == "" {
		writeError(w, http.StatusBadRequest, errors.New("names is required"))
		return
	}

	ctx := r.Context()
	if h.initTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.initTimeout)
		defer cancel()
	}

	plan, err := h.coordinator.Initialize(ctx, req.Names, req.IgnoreCompleted, func(job *entity.Job, total int64) {
		h.publish(ProgressEvent{Type: "count", JobID: job.ID(), Count: job.Count, Total: total})
	})
	if err != nil {
		if !errors.Is(err, usecase.ErrInitializeRunning) {
			h.publish(ProgressEvent{Type: "error", Error: err.Error()})
		}
		h.fail(w, "initialize failed", err)
		return
	}
	h.publish(ProgressEvent{Type: "done", Total: plan.Total, RunID: plan.RunID})
	writeJSON(w, http.StatusOK, plan)
}

type previewReq struct {
	Names string `json:"names"`
}

// POST /api/v1/preview
func (h *CoordinatorHandler) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad request body: %w", err))
		return
	}
	if strings.TrimSpace(req.Names) == "" {
		writeError(w, http.StatusBadRequest, errors.New("names is required"))
		return
	}
	jobs, err := h.coordinator.Preview(r.Context(), req.Names)
	if err != nil {
		h.fail(w, "preview failed", err)
		return
	}
	var total int64
	for _, j := range jobs {
		total += j.Count
	}
	writeJSON(w, http.StatusOK, jobsResponse{Jobs: jobs, Count: total})
}

// GET /api/v1/plans
func (h *CoordinatorHandler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	if h.plans == nil {
		writeError(w, http.StatusNotFound, errors.New("plan snapshots disabled"))
		return
	}
	runs, err := h.plans.ListPlans(r.Context())
	if err != nil {
		h.fail(w, "list plans failed", err)
		return
	}
	if runs == nil {
		runs = []string{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GET /api/v1/plans/{id}
func (h *CoordinatorHandler) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	if h.plans == nil {
		writeError(w, http.StatusNotFound, errors.New("plan snapshots disabled"))
		return
	}
	id := mux.Vars(r)["id"]
	plan, err := h.plans.GetPlan(r.Context(), id)
	if err != nil {
		h.logger.Warn().Err(err).Str("run_id", id).Msg("get plan failed")
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// DELETE /api/v1/plans/{id}
func (h *CoordinatorHandler) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	if h.plans == nil {
		writeError(w, http.StatusNotFound, errors.New("plan snapshots disabled"))
		return
	}
	id := mux.Vars(r)["id"]
	if err := h.plans.DeletePlan(r.Context(), id); err != nil {
		h.fail(w, "delete plan failed", err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// GET /api/v1/progress (websocket)
func (h *CoordinatorHandler) handleProgress(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events := h.subscribe()
	defer h.unsubscribe(events)

	// reader: detects client close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

// GET /api/v1/health
func (h *CoordinatorHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"ok": true,
		"ts": time.Now().UTC(),
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *CoordinatorHandler) subscribe() chan ProgressEvent {
	ch := make(chan ProgressEvent, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *CoordinatorHandler) unsubscribe(ch chan ProgressEvent) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// publish never blocks; slow subscribers miss events.
func (h *CoordinatorHandler) publish(ev ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *CoordinatorHandler) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
