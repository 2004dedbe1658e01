package scan

import (
	"context"

	"reconsage/internal/control"
	"reconsage/internal/directory"
	"reconsage/internal/progress"
	"reconsage/internal/runs"
)

// DirectorySummary is the persisted and returned shape for a directory scan.
type DirectorySummary struct {
	Target      string           `json:"target"`
	Concurrency int              `json:"concurrency"`
	TimeoutSecs int              `json:"timeout_secs"`
	Warning     string           `json:"warning,omitempty"`
	FatalError  string           `json:"fatal_error,omitempty"`
	Report      directory.Report `json:"report"`
}

// Directory implements control.ScanFunc for directory enumeration: warm-up,
// governor, main probe over the combined wordlist, classify, persist.
func (d *Deps) Directory(ctx context.Context, run *runs.Run, req control.ScanRequest, emit func(progress.Event)) (any, []string, error) {
	return d.traced(ctx, run, func(ctx context.Context) (any, []string, error) {
		return d.directory(ctx, run, req, emit)
	})
}

func (d *Deps) directory(ctx context.Context, run *runs.Run, req control.ScanRequest, emit func(progress.Event)) (any, []string, error) {
	suffixes := d.suffixes(req)
	concurrency, timeoutSecs := d.concurrencyAndTimeout(req)

	emitPhase(emit, progress.PhaseWarmup, 0, len(suffixes))
	budget, err := d.warmupAndBudget(ctx, req.Target, suffixes, concurrency, timeoutSecs)
	if err != nil {
		return nil, nil, err
	}

	emitPhase(emit, progress.PhaseGoverning, 0, len(suffixes))
	emitPhase(emit, progress.PhaseProbing, 0, len(suffixes))
	records := d.mainProbe(ctx, req.Target, suffixes, budget, nil, "")
	emitPhase(emit, progress.PhaseProbing, len(records), len(suffixes))

	emitPhase(emit, progress.PhaseAnalyzing, 0, 1)
	report := directory.Classify(records)
	emitPhase(emit, progress.PhaseAnalyzing, 1, 1)

	summary := DirectorySummary{
		Target:      req.Target,
		Concurrency: budget.Concurrency,
		TimeoutSecs: budget.TimeoutSecs,
		Warning:     budget.Warning,
		FatalError:  budget.FatalError,
		Report:      report,
	}

	path, err := d.Sink.Write("directory", reportFileHint(run), summary)
	if err != nil {
		return nil, nil, err
	}
	d.recordHistory(run, summary, path)

	emitPhase(emit, progress.PhaseDone, 1, 1)
	return summary, []string{path}, nil
}
