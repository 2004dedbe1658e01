package scan

import (
	"context"
	"log/slog"

	"reconsage/internal/control"
	"reconsage/internal/fingerprint"
	"reconsage/internal/probe"
	"reconsage/internal/progress"
	"reconsage/internal/runs"
)

// VendorDetection pairs a probed URL with its fingerprint matches.
type VendorDetection struct {
	URL     string              `json:"url"`
	Matches []fingerprint.Match `json:"matches"`
}

// WAFSummary is the persisted and returned shape for a WAF/CDN fingerprint scan.
type WAFSummary struct {
	Target  string            `json:"target"`
	Passive []VendorDetection `json:"passive"`
	Active  []VendorDetection `json:"active,omitempty"`
}

// WAF implements control.ScanFunc for WAF/CDN fingerprinting. The passive
// pass probes with no extra headers/params; the active pass (run only when
// the caller supplies Headers or QueryParams) replays the same paths with
// operator-supplied attack headers. Batches are capped at
// fingerprint.MaxBatchPaths regardless of how many suffixes were supplied.
func (d *Deps) WAF(ctx context.Context, run *runs.Run, req control.ScanRequest, emit func(progress.Event)) (any, []string, error) {
	return d.traced(ctx, run, func(ctx context.Context) (any, []string, error) {
		return d.waf(ctx, run, req, emit)
	})
}

func (d *Deps) waf(ctx context.Context, run *runs.Run, req control.ScanRequest, emit func(progress.Event)) (any, []string, error) {
	suffixes := d.suffixes(req)
	if len(suffixes) > fingerprint.MaxBatchPaths {
		slog.Info("waf batch truncated", "run_id", run.ID, "supplied", len(suffixes), "cap", fingerprint.MaxBatchPaths)
		suffixes = suffixes[:fingerprint.MaxBatchPaths]
	}
	concurrency, timeoutSecs := d.concurrencyAndTimeout(req)

	emitPhase(emit, progress.PhaseProbing, 0, len(suffixes))
	budget, err := d.warmupAndBudget(ctx, req.Target, suffixes, concurrency, timeoutSecs)
	if err != nil {
		return nil, nil, err
	}

	passiveRecords := d.mainProbe(ctx, req.Target, suffixes, budget, nil, "")
	emitPhase(emit, progress.PhaseProbing, len(passiveRecords), len(suffixes))

	emitPhase(emit, progress.PhaseAnalyzing, 0, 1)
	summary := WAFSummary{
		Target:  req.Target,
		Passive: detectVendors(passiveRecords),
	}

	if len(req.Headers) > 0 || req.QueryParams != "" {
		activeRecords := d.mainProbe(ctx, req.Target, suffixes, budget, req.Headers, req.QueryParams)
		summary.Active = detectVendors(activeRecords)
	}
	emitPhase(emit, progress.PhaseAnalyzing, 1, 1)

	path, err := d.Sink.Write("waf", reportFileHint(run), summary)
	if err != nil {
		return nil, nil, err
	}
	d.recordHistory(run, summary, path)

	emitPhase(emit, progress.PhaseDone, 1, 1)
	return summary, []string{path}, nil
}

func detectVendors(records []probe.Record) []VendorDetection {
	var detections []VendorDetection
	for _, r := range successful(records) {
		matches := fingerprint.Detect(r.Headers)
		if r.TLS != nil {
			for i, m := range matches {
				if m.Vendor != fingerprint.Cloudflare {
					continue
				}
				if score, _ := fingerprint.CloudflareTLSScore(r.TLS); score >= fingerprint.CloudflareTLSThreshold {
					matches[i].TLSScore = &score
				}
			}
		}
		if len(matches) > 0 {
			detections = append(detections, VendorDetection{URL: r.URL, Matches: matches})
		}
	}
	return detections
}
