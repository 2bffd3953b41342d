// Package httphandler is the HTTP driving adapter that serves the status API
// and mounts the webhook endpoint.
package httphandler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/nickel-lang/nickel-customs/internal/application"
	"github.com/nickel-lang/nickel-customs/internal/domain/model"
	"github.com/nickel-lang/nickel-customs/internal/domain/port/driven"
)

// defaultRecentLimit bounds the run list when the client gives no limit.
const defaultRecentLimit = 50

// maxRecentLimit caps client-supplied limits.
const maxRecentLimit = 500

// RunDirectory is the orchestrator's read surface: active runs plus retained
// finished runs, keyed by commit.
type RunDirectory interface {
	Lookup(key model.RunKey) (model.CheckRun, bool)
	ActiveRuns() []model.CheckRun
}

// Handler is the HTTP driving adapter that serves the status API. Run detail
// reads consult the in-memory directory before falling back to history, so a
// run still in flight is visible with its partial outcomes.
type Handler struct {
	runs   RunDirectory
	store  driven.RunStore
	logger *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(runs RunDirectory, store driven.RunStore, logger *slog.Logger) *Handler {
	return &Handler{runs: runs, store: store, logger: logger}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware. The webhook handler is mounted on the
// same mux so a single listener serves both surfaces.
func NewServeMux(h *Handler, webhook http.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /webhook", webhook)

	mux.HandleFunc("GET /api/v1/runs", h.ListRecentRuns)
	mux.HandleFunc("GET /api/v1/runs/active", h.ListActiveRuns)
	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/runs/{sha}", h.GetRun)
	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/runs/{sha}/summary", h.GetRunSummary)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// ListRecentRuns returns recent run history, newest first, without outcome
// lists.
func (h *Handler) ListRecentRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(parsed, maxRecentLimit)
	}

	runs, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list recent runs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toRunResponse(run, false))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListActiveRuns returns a snapshot of runs currently registered in memory.
func (h *Handler) ListActiveRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.runs.ActiveRuns()

	resp := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toRunResponse(run, true))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetRun returns the run for a commit, including its outcomes.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, found, err := h.findRun(r)
	if err != nil {
		h.logger.Error("failed to load run", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(run, true))
}

// GetRunSummary returns the run's report rendered as sanitized HTML.
func (h *Handler) GetRunSummary(w http.ResponseWriter, r *http.Request) {
	run, found, err := h.findRun(r)
	if err != nil {
		h.logger.Error("failed to load run", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	html := renderMarkdown(application.BuildComment(run, nil))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(html))
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// findRun resolves the run addressed by the request path, preferring the
// in-memory directory over persisted history.
func (h *Handler) findRun(r *http.Request) (model.CheckRun, bool, error) {
	key := model.RunKey{
		RepoFullName: r.PathValue("owner") + "/" + r.PathValue("repo"),
		HeadSHA:      r.PathValue("sha"),
	}

	if run, ok := h.runs.Lookup(key); ok {
		return run, true, nil
	}

	stored, err := h.store.GetBySHA(r.Context(), key.RepoFullName, key.HeadSHA)
	if err != nil {
		return model.CheckRun{}, false, err
	}
	if stored == nil {
		return model.CheckRun{}, false, nil
	}
	return *stored, true, nil
}
