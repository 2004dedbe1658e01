package scan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"reconsage/internal/config"
	"reconsage/internal/control"
	"reconsage/internal/progress"
	"reconsage/internal/runs"
	"reconsage/internal/sink"
	"reconsage/internal/telemetry"
)

func testDeps(t *testing.T) *Deps {
	t.Helper()
	t.Setenv("LOG_DIR", t.TempDir())
	cfg := &config.Config{
		Scan: config.ScanConfig{
			DefaultConcurrency: 5,
			DefaultTimeoutSecs: 5,
			Clusterer: config.ClustererConfig{
				HashClusterSize: 3, LengthClusterSize: 5,
				SmallResponse: 100, LargeResponse: 50000,
				VerifiedMinSize: 3, VerifiedMaxSize: 5,
			},
		},
	}
	return New(cfg, sink.New(), telemetry.NoopProvider())
}

func noopEmit(progress.Event) {}

func TestDeps_Directory_ClassifiesAndPersists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/found":
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("hello"))
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	d := testDeps(t)
	req := control.ScanRequest{Target: server.URL, Paths: []string{"/found", "/missing"}}
	run := runs.New("r1", "directory", server.URL)

	summary, artifacts, err := d.Directory(context.Background(), run, req, noopEmit)
	if err != nil {
		t.Fatalf("Directory: %v", err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("expected one artifact path, got %v", artifacts)
	}
	if _, err := os.Stat(artifacts[0]); err != nil {
		t.Fatalf("expected artifact file to exist: %v", err)
	}

	ds, ok := summary.(DirectorySummary)
	if !ok {
		t.Fatalf("expected a DirectorySummary, got %T", summary)
	}
	if len(ds.Report.Success) != 1 || len(ds.Report.ClientError) != 1 {
		t.Errorf("expected 1 success + 1 client_error, got %+v", ds.Report)
	}
}

func TestDeps_WAF_DetectsCloudflareHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("cf-ray", "abc123")
		w.Header().Set("server", "cloudflare")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := testDeps(t)
	req := control.ScanRequest{Target: server.URL, Paths: []string{"/"}}
	run := runs.New("r2", "waf", server.URL)

	summary, _, err := d.WAF(context.Background(), run, req, noopEmit)
	if err != nil {
		t.Fatalf("WAF: %v", err)
	}
	ws, ok := summary.(WAFSummary)
	if !ok {
		t.Fatalf("expected a WAFSummary, got %T", summary)
	}
	if len(ws.Passive) != 1 || len(ws.Passive[0].Matches) == 0 {
		t.Fatalf("expected a Cloudflare detection, got %+v", ws.Passive)
	}
	if ws.Passive[0].Matches[0].Vendor != "Cloudflare" {
		t.Errorf("expected vendor Cloudflare, got %q", ws.Passive[0].Matches[0].Vendor)
	}
}

func TestDeps_RateLimit_DetectsDirectStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	d := testDeps(t)
	req := control.ScanRequest{Target: server.URL, Paths: []string{"/a", "/b"}}
	run := runs.New("r3", "rate_limit", server.URL)

	summary, _, err := d.RateLimit(context.Background(), run, req, noopEmit)
	if err != nil {
		t.Fatalf("RateLimit: %v", err)
	}
	rs, ok := summary.(RateLimitSummary)
	if !ok {
		t.Fatalf("expected a RateLimitSummary, got %T", summary)
	}
	if !rs.Passive.RateLimited {
		t.Errorf("expected rate_limited=true, got %+v", rs.Passive)
	}
}

func TestDeps_RateLimit_ActivePassRunsWhenHeadersSupplied(t *testing.T) {
	var sawAttackHeader bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Attack") != "" {
			sawAttackHeader = true
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := testDeps(t)
	req := control.ScanRequest{Target: server.URL, Paths: []string{"/a"}, Headers: map[string]string{"X-Attack": "1"}}
	run := runs.New("r4", "rate_limit", server.URL)

	summary, _, err := d.RateLimit(context.Background(), run, req, noopEmit)
	if err != nil {
		t.Fatalf("RateLimit: %v", err)
	}
	rs := summary.(RateLimitSummary)
	if rs.Active == nil {
		t.Fatal("expected an active-pass verdict when Headers is set")
	}
	if !sawAttackHeader {
		t.Error("expected the active pass to send the attack header to the target")
	}
}

func TestDeps_FalsePositive_ClustersIdenticalBodies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("same body every time"))
	}))
	defer server.Close()

	d := testDeps(t)
	req := control.ScanRequest{Target: server.URL, Paths: []string{"/a", "/b", "/c", "/d"}}
	run := runs.New("r5", "false_positive", server.URL)

	summary, artifacts, err := d.FalsePositive(context.Background(), run, req, noopEmit)
	if err != nil {
		t.Fatalf("FalsePositive: %v", err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("expected one artifact, got %v", artifacts)
	}
	fs := summary.(FalsePositiveSummary)
	if len(fs.Report.FPURLs) == 0 {
		t.Errorf("expected identical-body cluster to produce fp_urls, got %+v", fs.Report)
	}

	raw, err := os.ReadFile(artifacts[0])
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	var roundTripped map[string]any
	if err := json.Unmarshal(raw, &roundTripped); err != nil {
		t.Fatalf("artifact is not valid JSON: %v", err)
	}
	if filepath.Ext(artifacts[0]) != ".json" {
		t.Errorf("expected a .json artifact, got %s", artifacts[0])
	}
}
