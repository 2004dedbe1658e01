// Package control exposes reconsage's scan operations over a small JSON
// HTTP API: one POST route per analyzer, plus run history and a live
// progress WebSocket.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"reconsage/internal/falsepositive"
	"reconsage/internal/progress"
	"reconsage/internal/runs"
)

// ScanRequest is the shared request body for every scan route. Headers and
// QueryParams drive an analyzer's active sub-pass (operator-supplied
// attack headers/params); the passive sub-pass never sets them. ReportPath
// (only meaningful on /false/positive) names a previously-written
// directory-scan report to analyze instead of a live target.
type ScanRequest struct {
	Target      string            `json:"target"`
	Paths       []string          `json:"paths,omitempty"`
	Wordlist    []string          `json:"wordlist,omitempty"`
	Concurrency int               `json:"concurrency,omitempty"`
	TimeoutSecs int               `json:"timeout_secs,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	QueryParams string            `json:"query_params,omitempty"`
	ReportPath  string            `json:"json_file_to_read,omitempty"`
}

// ScanFunc runs one analyzer to completion, reporting progress as it goes.
// The returned summary is stored on the Run and the artifact paths point
// at whatever the analyzer persisted via the sink.
type ScanFunc func(ctx context.Context, run *runs.Run, req ScanRequest, emit func(progress.Event)) (summary any, artifactPaths []string, err error)

// Handler serves the control API.
type Handler struct {
	store       runs.Store
	broadcaster *progress.Broadcaster
	mux         *http.ServeMux

	directoryScan     ScanFunc
	wafScan           ScanFunc
	rateLimitScan     ScanFunc
	falsePositiveScan ScanFunc

	authEnabled bool
	apiKey      string
}

// Operations groups the four analyzer entry points the Handler dispatches
// to. Any that are nil reject their route with 503.
type Operations struct {
	Directory     ScanFunc
	WAF           ScanFunc
	RateLimit     ScanFunc
	FalsePositive ScanFunc
}

// New creates a Handler with authentication disabled.
func New(store runs.Store, broadcaster *progress.Broadcaster, ops Operations) *Handler {
	return NewWithAuth(store, broadcaster, ops, false, "")
}

// NewWithAuth creates a Handler, optionally requiring a bearer/API-key
// token on every route but /control/health.
func NewWithAuth(store runs.Store, broadcaster *progress.Broadcaster, ops Operations, authEnabled bool, apiKey string) *Handler {
	h := &Handler{
		store:             store,
		broadcaster:       broadcaster,
		mux:               http.NewServeMux(),
		directoryScan:     ops.Directory,
		wafScan:           ops.WAF,
		rateLimitScan:     ops.RateLimit,
		falsePositiveScan: ops.FalsePositive,
		authEnabled:       authEnabled,
		apiKey:            apiKey,
	}

	h.mux.HandleFunc("POST /scan", h.handleDirectoryScan)
	h.mux.HandleFunc("POST /waf/scan", h.handleWAFScan)
	h.mux.HandleFunc("POST /rate/limit", h.handleRateLimitScan)
	h.mux.HandleFunc("POST /false/positive", h.handleFalsePositiveScan)
	h.mux.HandleFunc("GET /control/health", h.handleHealth)
	h.mux.HandleFunc("GET /control/runs", h.handleRuns)
	h.mux.HandleFunc("GET /control/runs/{id}", h.handleRun)
	if broadcaster != nil {
		h.mux.Handle("GET /control/ws", broadcaster)
	}

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if h.authEnabled && r.URL.Path != "/control/health" {
		if !h.checkAuth(r) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="reconsage Control API"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "valid API key required; use 'Authorization: Bearer <api_key>'")
			return
		}
	}

	h.mux.ServeHTTP(w, r)
}

func (h *Handler) checkAuth(r *http.Request) bool {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		if strings.HasPrefix(authHeader, "Bearer ") {
			if strings.TrimPrefix(authHeader, "Bearer ") == h.apiKey {
				return true
			}
		} else if authHeader == h.apiKey {
			return true
		}
	}
	return r.Header.Get("X-API-Key") == h.apiKey
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now(),
	})
}

func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	filter := runs.ActiveFilter
	if r.URL.Query().Get("active") != "true" {
		filter = nil
	}
	list := h.store.List(filter)
	snaps := make([]runs.Run, 0, len(list))
	for _, run := range list {
		snaps = append(snaps, run.Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": snaps, "total": len(snaps)})
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, ok := h.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no run with that id")
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}

func (h *Handler) handleDirectoryScan(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "directory", h.directoryScan)
}

func (h *Handler) handleWAFScan(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "waf", h.wafScan)
}

func (h *Handler) handleRateLimitScan(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "rate_limit", h.rateLimitScan)
}

func (h *Handler) handleFalsePositiveScan(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "false_positive", h.falsePositiveScan)
}

// dispatch decodes the request, creates and stores a Run, launches fn in a
// goroutine, and responds immediately with the run id so the caller polls
// /control/runs/{id} (or watches /control/ws) for completion.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, operation string, fn ScanFunc) {
	if fn == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", operation+" scan is not wired on this instance")
		return
	}

	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}
	if req.Target == "" && req.ReportPath == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "target or json_file_to_read is required")
		return
	}

	// ReportPath analysis reads a prior report synchronously: no network
	// call is involved, so a malformed report can be rejected with its
	// proper status before a Run is even created.
	if req.ReportPath != "" {
		input, err := falsepositive.ReadReport(req.ReportPath)
		if err != nil {
			status, code := classifyError(err)
			writeError(w, status, code, err.Error())
			return
		}
		if req.Target == "" {
			req.Target = input.Target
		}
	}

	run := runs.New(uuid.NewString(), operation, req.Target)
	h.store.Put(run)
	run.Start()

	emit := func(ev progress.Event) {
		if h.broadcaster != nil {
			ev.RunID = run.ID
			h.broadcaster.Broadcast(ev)
		}
	}

	go func() {
		ctx := context.Background()
		summary, artifacts, err := fn(ctx, run, req, emit)
		if err != nil {
			slog.Error("scan run failed", "run_id", run.ID, "operation", operation, "error", err)
			run.Finish(runs.Failed, nil, nil, err)
		} else {
			run.Finish(runs.Completed, summary, artifacts, nil)
		}
		h.store.Put(run)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": run.ID, "state": run.GetState().String()})
}

// classifyError maps the error taxonomy onto HTTP status codes: a
// malformed input report is an AnalysisError (422); anything else reading
// or parsing the report surfaces as a bad request (400).
func classifyError(err error) (status int, code string) {
	var analysisErr *falsepositive.AnalysisError
	if errors.As(err, &analysisErr) {
		return http.StatusUnprocessableEntity, "analysis_error"
	}
	return http.StatusBadRequest, "bad_request"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, errCode, message string) {
	writeJSON(w, status, map[string]any{
		"error":   errCode,
		"message": message,
		"success": false,
	})
}
