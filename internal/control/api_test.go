package control_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"reconsage/internal/control"
	"reconsage/internal/progress"
	"reconsage/internal/runs"
)

func newTestHandler(ops control.Operations) (*control.Handler, runs.Store) {
	store := runs.NewMemoryStore()
	handler := control.New(store, progress.NewBroadcaster(), ops)
	return handler, store
}

func TestHandler_Health(t *testing.T) {
	handler, _ := newTestHandler(control.Operations{})

	req := httptest.NewRequest(http.MethodGet, "/control/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
}

func TestHandler_ScanDispatchesAndCompletesRun(t *testing.T) {
	started := make(chan struct{})
	fn := func(ctx context.Context, run *runs.Run, req control.ScanRequest, emit func(progress.Event)) (any, []string, error) {
		close(started)
		emit(progress.Event{Phase: progress.PhaseDone, Completed: 1, Total: 1})
		return map[string]string{"ok": "true"}, []string{"/tmp/report.json"}, nil
	}
	handler, store := newTestHandler(control.Operations{Directory: fn})

	body, _ := json.Marshal(control.ScanRequest{Target: "https://example.com"})
	req := httptest.NewRequest(http.MethodPost, "/scan", bytes.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	var accepted map[string]any
	if err := json.NewDecoder(w.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	runID, _ := accepted["run_id"].(string)
	if runID == "" {
		t.Fatal("expected a run_id in the response")
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("scan function never started")
	}

	deadline := time.Now().Add(time.Second)
	for {
		run, ok := store.Get(runID)
		if ok && run.GetState() == runs.Completed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never completed, state=%v", run.GetState())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_ScanRejectsMissingTarget(t *testing.T) {
	handler, _ := newTestHandler(control.Operations{Directory: func(context.Context, *runs.Run, control.ScanRequest, func(progress.Event)) (any, []string, error) {
		return nil, nil, nil
	}})

	req := httptest.NewRequest(http.MethodPost, "/scan", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestHandler_ScanRejectsUnwiredOperation(t *testing.T) {
	handler, _ := newTestHandler(control.Operations{})

	body, _ := json.Marshal(control.ScanRequest{Target: "https://example.com"})
	req := httptest.NewRequest(http.MethodPost, "/waf/scan", bytes.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}
}

func TestHandler_RunNotFound(t *testing.T) {
	handler, _ := newTestHandler(control.Operations{})

	req := httptest.NewRequest(http.MethodGet, "/control/runs/does-not-exist", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestHandler_AuthRejectsMissingKey(t *testing.T) {
	store := runs.NewMemoryStore()
	handler := control.NewWithAuth(store, progress.NewBroadcaster(), control.Operations{}, true, "s3cr3t")

	req := httptest.NewRequest(http.MethodGet, "/control/runs", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
}

func TestHandler_AuthAllowsHealthWithoutKey(t *testing.T) {
	store := runs.NewMemoryStore()
	handler := control.NewWithAuth(store, progress.NewBroadcaster(), control.Operations{}, true, "s3cr3t")

	req := httptest.NewRequest(http.MethodGet, "/control/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestHandler_AuthAcceptsBearerToken(t *testing.T) {
	store := runs.NewMemoryStore()
	handler := control.NewWithAuth(store, progress.NewBroadcaster(), control.Operations{}, true, "s3cr3t")

	req := httptest.NewRequest(http.MethodGet, "/control/runs", nil)
	req.Header.Set("Authorization", "Bearer s3cr3t")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}
