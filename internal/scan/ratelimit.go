package scan

import (
	"context"

	"reconsage/internal/control"
	"reconsage/internal/progress"
	"reconsage/internal/ratelimit"
	"reconsage/internal/runs"
)

// RateLimitSummary is the persisted and returned shape for a rate-limit scan.
type RateLimitSummary struct {
	Target  string             `json:"target"`
	Passive ratelimit.Verdict  `json:"passive"`
	Active  *ratelimit.Verdict `json:"active,omitempty"`
}

// RateLimit implements control.ScanFunc for rate-limit detection. The
// passive pass observes ordinary request/response behavior; the active
// pass (run only when the caller supplies Headers or QueryParams) replays
// the same batch with operator-supplied attack headers/params to look for
// a reaction.
func (d *Deps) RateLimit(ctx context.Context, run *runs.Run, req control.ScanRequest, emit func(progress.Event)) (any, []string, error) {
	return d.traced(ctx, run, func(ctx context.Context) (any, []string, error) {
		return d.rateLimit(ctx, run, req, emit)
	})
}

func (d *Deps) rateLimit(ctx context.Context, run *runs.Run, req control.ScanRequest, emit func(progress.Event)) (any, []string, error) {
	suffixes := d.suffixes(req)
	concurrency, timeoutSecs := d.concurrencyAndTimeout(req)

	emitPhase(emit, progress.PhaseWarmup, 0, len(suffixes))
	budget, err := d.warmupAndBudget(ctx, req.Target, suffixes, concurrency, timeoutSecs)
	if err != nil {
		return nil, nil, err
	}

	emitPhase(emit, progress.PhaseProbing, 0, len(suffixes))
	passiveRecords := d.mainProbe(ctx, req.Target, suffixes, budget, nil, "")
	emitPhase(emit, progress.PhaseProbing, len(passiveRecords), len(suffixes))

	emitPhase(emit, progress.PhaseAnalyzing, 0, 1)
	summary := RateLimitSummary{
		Target:  req.Target,
		Passive: ratelimit.Detect(passiveRecords),
	}

	if len(req.Headers) > 0 || req.QueryParams != "" {
		activeRecords := d.mainProbe(ctx, req.Target, suffixes, budget, req.Headers, req.QueryParams)
		verdict := ratelimit.Detect(activeRecords)
		summary.Active = &verdict
	}
	emitPhase(emit, progress.PhaseAnalyzing, 1, 1)

	path, err := d.Sink.Write("rate_limit", reportFileHint(run), summary)
	if err != nil {
		return nil, nil, err
	}
	d.recordHistory(run, summary, path)

	emitPhase(emit, progress.PhaseDone, 1, 1)
	return summary, []string{path}, nil
}
