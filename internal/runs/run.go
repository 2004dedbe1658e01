// Package runs tracks in-flight and completed scan invocations: the
// orchestrator's in-memory analogue to the history rows persisted by
// internal/storage.
package runs

import (
	"sync"
	"time"
)

// State is a Run's lifecycle stage.
type State int

const (
	Pending State = iota
	Running
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Run is one orchestrator invocation.
type Run struct {
	mu sync.RWMutex

	ID            string            `json:"id"`
	Operation     string            `json:"operation"`
	Target        string            `json:"target"`
	State         State             `json:"state"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    *time.Time        `json:"finished_at,omitempty"`
	Summary       any               `json:"summary,omitempty"`
	ArtifactPaths []string          `json:"artifact_paths,omitempty"`
	Error         string            `json:"error,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`

	cancelChan chan struct{}
}

// New creates a pending Run.
func New(id, operation, target string) *Run {
	return &Run{
		ID:         id,
		Operation:  operation,
		Target:     target,
		State:      Pending,
		StartedAt:  time.Now(),
		Metadata:   make(map[string]string),
		cancelChan: make(chan struct{}),
	}
}

// Start transitions the Run to Running.
func (r *Run) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.State = Running
}

// Finish records a terminal state, the summary, and written artifact paths.
func (r *Run) Finish(state State, summary any, artifactPaths []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.State = state
	r.FinishedAt = &now
	r.Summary = summary
	r.ArtifactPaths = artifactPaths
	if err != nil {
		r.Error = err.Error()
	}
}

// Cancel signals in-flight work to stop. Safe to call once; later calls are
// no-ops.
func (r *Run) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State == Pending || r.State == Running {
		r.State = Cancelled
		now := time.Now()
		r.FinishedAt = &now
		close(r.cancelChan)
	}
}

// CancelChan returns the channel closed when Cancel is called.
func (r *Run) CancelChan() <-chan struct{} {
	return r.cancelChan
}

// GetState returns the current state under lock.
func (r *Run) GetState() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.State
}

// Snapshot returns a lock-free copy for safe reading/serialization.
func (r *Run) Snapshot() Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := Run{
		ID:            r.ID,
		Operation:     r.Operation,
		Target:        r.Target,
		State:         r.State,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		Summary:       r.Summary,
		ArtifactPaths: append([]string(nil), r.ArtifactPaths...),
		Error:         r.Error,
		Metadata:      make(map[string]string, len(r.Metadata)),
	}
	for k, v := range r.Metadata {
		snap.Metadata[k] = v
	}
	return snap
}
