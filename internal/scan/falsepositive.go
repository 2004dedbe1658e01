package scan

import (
	"context"

	"reconsage/internal/control"
	"reconsage/internal/falsepositive"
	"reconsage/internal/progress"
	"reconsage/internal/runs"
)

// FalsePositiveSummary is the persisted and returned shape for a
// false-positive clustering scan.
type FalsePositiveSummary struct {
	Target      string               `json:"target"`
	Concurrency int                  `json:"concurrency"`
	TimeoutSecs int                  `json:"timeout_secs"`
	Report      falsepositive.Report `json:"report"`
}

// FalsePositive implements control.ScanFunc for false-positive clustering.
// When req.ReportPath is set it clusters a previously-written directory
// scan report instead of running a live probe batch; otherwise it runs the
// canonical warm-up/governor/probe pipeline over the combined wordlist,
// then clusters the successful responses by body hash and content length
// using the configured thresholds.
func (d *Deps) FalsePositive(ctx context.Context, run *runs.Run, req control.ScanRequest, emit func(progress.Event)) (any, []string, error) {
	return d.traced(ctx, run, func(ctx context.Context) (any, []string, error) {
		return d.falsePositive(ctx, run, req, emit)
	})
}

func (d *Deps) falsePositive(ctx context.Context, run *runs.Run, req control.ScanRequest, emit func(progress.Event)) (any, []string, error) {
	if req.ReportPath != "" {
		return d.falsePositiveFromReport(run, req, emit)
	}
	return d.falsePositiveLive(ctx, run, req, emit)
}

// falsePositiveFromReport clusters a previously-written directory scan
// report instead of probing the target live. The control API already
// surfaced any AnalysisError from a malformed report synchronously before
// this Run was created; re-reading here picks up the same (or a
// since-replaced) file.
func (d *Deps) falsePositiveFromReport(run *runs.Run, req control.ScanRequest, emit func(progress.Event)) (any, []string, error) {
	input, err := falsepositive.ReadReport(req.ReportPath)
	if err != nil {
		return nil, nil, err
	}

	emitPhase(emit, progress.PhaseAnalyzing, 0, 1)
	report := falsepositive.Cluster(input.Records(), d.Cfg.Scan.Clusterer.Thresholds())
	emitPhase(emit, progress.PhaseAnalyzing, 1, 1)

	target := req.Target
	if target == "" {
		target = input.Target
	}
	summary := FalsePositiveSummary{
		Target: target,
		Report: report,
	}

	path, err := d.Sink.Write("false_positive", reportFileHint(run), summary)
	if err != nil {
		return nil, nil, err
	}
	d.recordHistory(run, summary, path)

	emitPhase(emit, progress.PhaseDone, 1, 1)
	return summary, []string{path}, nil
}

func (d *Deps) falsePositiveLive(ctx context.Context, run *runs.Run, req control.ScanRequest, emit func(progress.Event)) (any, []string, error) {
	suffixes := d.suffixes(req)
	concurrency, timeoutSecs := d.concurrencyAndTimeout(req)

	emitPhase(emit, progress.PhaseWarmup, 0, len(suffixes))
	budget, err := d.warmupAndBudget(ctx, req.Target, suffixes, concurrency, timeoutSecs)
	if err != nil {
		return nil, nil, err
	}

	emitPhase(emit, progress.PhaseProbing, 0, len(suffixes))
	records := d.mainProbe(ctx, req.Target, suffixes, budget, nil, "")
	emitPhase(emit, progress.PhaseProbing, len(records), len(suffixes))

	emitPhase(emit, progress.PhaseAnalyzing, 0, 1)
	report := falsepositive.Cluster(successful(records), d.Cfg.Scan.Clusterer.Thresholds())
	emitPhase(emit, progress.PhaseAnalyzing, 1, 1)

	summary := FalsePositiveSummary{
		Target:      req.Target,
		Concurrency: budget.Concurrency,
		TimeoutSecs: budget.TimeoutSecs,
		Report:      report,
	}

	path, err := d.Sink.Write("false_positive", reportFileHint(run), summary)
	if err != nil {
		return nil, nil, err
	}
	d.recordHistory(run, summary, path)

	emitPhase(emit, progress.PhaseDone, 1, 1)
	return summary, []string{path}, nil
}
