// Package scan wires the individual analyzers (prober, governor,
// directory classifier, fingerprinter, rate-limit detector, false-positive
// clusterer) into the four operations the control API dispatches:
// directory enumeration, WAF/CDN fingerprinting, rate-limit detection, and
// false-positive clustering. Each operation follows the same canonical
// pipeline: warm-up, governor, main probe, analyze, persist.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"reconsage/internal/config"
	"reconsage/internal/control"
	"reconsage/internal/governor"
	"reconsage/internal/probe"
	"reconsage/internal/progress"
	"reconsage/internal/runs"
	"reconsage/internal/sink"
	"reconsage/internal/storage"
	"reconsage/internal/telemetry"
	"reconsage/internal/wordlist"
)

// Deps are the shared collaborators every orchestrator needs. One Deps is
// built at startup and its methods are wired into control.Operations.
type Deps struct {
	Cfg       *config.Config
	Sink      *sink.Sink
	Telemetry *telemetry.Provider
}

// New builds an orchestrator Deps. telemetry may be telemetry.NoopProvider()
// when tracing is disabled.
func New(cfg *config.Config, sink *sink.Sink, telemetry *telemetry.Provider) *Deps {
	return &Deps{Cfg: cfg, Sink: sink, Telemetry: telemetry}
}

// suffixes builds the operation's path list: operator-supplied paths and
// wordlist entries, combined with the configured default wordlist file
// (if any). Duplicates are preserved per wordlist.Combine's contract.
func (d *Deps) suffixes(req control.ScanRequest) []string {
	combined := wordlist.Combine(req.Paths, req.Wordlist)
	if d.Cfg.Scan.DefaultWordlistPath != "" {
		combined = wordlist.Combine(combined, wordlist.Load(d.Cfg.Scan.DefaultWordlistPath))
	}
	return combined
}

func (d *Deps) concurrencyAndTimeout(req control.ScanRequest) (int, int) {
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = d.Cfg.Scan.DefaultConcurrency
	}
	timeout := req.TimeoutSecs
	if timeout <= 0 {
		timeout = d.Cfg.Scan.DefaultTimeoutSecs
	}
	return concurrency, timeout
}

// warmupAndBudget runs the warm-up probe batch (at most governor.MaxWarmupPaths
// seed paths) and converts it into an adjusted concurrency/timeout budget.
func (d *Deps) warmupAndBudget(ctx context.Context, target string, suffixes []string, concurrency, timeoutSecs int) (governor.Budget, error) {
	seeds := suffixes
	if len(seeds) > governor.MaxWarmupPaths {
		seeds = seeds[:governor.MaxWarmupPaths]
	}

	warmupProber := probe.New(concurrency, time.Duration(timeoutSecs)*time.Second)
	defer warmupProber.Close()
	warmupRecords := warmupProber.ScanBatch(ctx, target, seeds, nil, "")

	return governor.Adjust(warmupRecords, concurrency, timeoutSecs)
}

// mainProbe issues the adjusted-budget main batch and closes its Prober
// before returning.
func (d *Deps) mainProbe(ctx context.Context, target string, suffixes []string, budget governor.Budget, headers map[string]string, queryParams string) []probe.Record {
	mainProber := probe.New(budget.Concurrency, time.Duration(budget.TimeoutSecs)*time.Second)
	defer mainProber.Close()
	return mainProber.ScanBatch(ctx, target, suffixes, headers, queryParams)
}

// successful filters a batch down to records that actually received a
// response, regardless of status class.
func successful(records []probe.Record) []probe.Record {
	out := make([]probe.Record, 0, len(records))
	for _, r := range records {
		if r.Success {
			out = append(out, r)
		}
	}
	return out
}

func reportFileHint(run *runs.Run) string {
	return fmt.Sprintf("%s_%s", run.Operation, run.ID)
}

// recordHistory persists one history row via the Sink's wired SQLite store,
// right after the Sink's JSON artifact write for the same invocation
// succeeds. A no-op when no history store is wired.
func (d *Deps) recordHistory(run *runs.Run, summary any, artifactPath string) {
	raw, err := json.Marshal(summary)
	if err != nil {
		raw = nil
	}
	now := time.Now()
	_ = d.Sink.RecordRun(storage.RunRecord{
		ID:            run.ID,
		Operation:     run.Operation,
		Target:        run.Target,
		State:         runs.Completed.String(),
		StartedAt:     run.StartedAt,
		FinishedAt:    now,
		DurationMs:    now.Sub(run.StartedAt).Milliseconds(),
		Summary:       raw,
		ArtifactPaths: []string{artifactPath},
	})
}

func emitPhase(emit func(progress.Event), phase progress.Phase, completed, total int) {
	emit(progress.Event{Phase: phase, Completed: completed, Total: total})
}

// traced wraps one orchestrator invocation in a single telemetry span.
func (d *Deps) traced(ctx context.Context, run *runs.Run, fn func(context.Context) (any, []string, error)) (any, []string, error) {
	ctx, span := d.Telemetry.StartScanSpan(ctx, run.ID, run.Operation, run.Target)
	summary, artifacts, err := fn(ctx)
	d.Telemetry.EndScanSpan(span, err)
	return summary, artifacts, err
}
