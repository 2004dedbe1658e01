// Package dashboard serves a minimal HTML status page listing recent scan
// runs, backed by the in-memory/Redis run store and (when enabled) SQLite
// run history.
package dashboard

import (
	"html/template"
	"log/slog"
	"net/http"
	"sort"

	"reconsage/internal/runs"
	"reconsage/internal/storage"
)

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<title>reconsage</title>
	<style>
		body { font-family: monospace; margin: 2rem; background: #111; color: #ddd; }
		h1 { color: #7fd; }
		table { border-collapse: collapse; width: 100%; }
		th, td { text-align: left; padding: 0.4rem 0.8rem; border-bottom: 1px solid #333; }
		th { color: #888; font-weight: normal; }
		.state-completed { color: #7d7; }
		.state-failed { color: #d77; }
		.state-running { color: #dd7; }
		.state-pending { color: #888; }
	</style>
</head>
<body>
	<h1>reconsage</h1>
	<p>{{len .Runs}} run(s) in memory{{if .HasHistory}}, {{.TotalHistory}} in history{{end}}</p>
	<table>
		<tr><th>ID</th><th>Operation</th><th>Target</th><th>State</th><th>Started</th></tr>
		{{range .Runs}}
		<tr>
			<td>{{.ID}}</td>
			<td>{{.Operation}}</td>
			<td>{{.Target}}</td>
			<td class="state-{{.State}}">{{.State}}</td>
			<td>{{.StartedAt.Format "2006-01-02 15:04:05"}}</td>
		</tr>
		{{end}}
	</table>
</body>
</html>
`

// Handler renders the status page.
type Handler struct {
	store    runs.Store
	history  *storage.SQLiteStore // optional, nil disables the history count
	template *template.Template
}

// New creates a Handler over the live run store. history may be nil.
func New(store runs.Store, history *storage.SQLiteStore) *Handler {
	tmpl := template.Must(template.New("dashboard").Parse(pageTemplate))
	return &Handler{store: store, history: history, template: tmpl}
}

type pageData struct {
	Runs         []runs.Run
	HasHistory   bool
	TotalHistory int64
}

// ServeHTTP renders the status page for any request path; the dashboard
// has no sub-routes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	list := h.store.List(nil)
	snaps := make([]runs.Run, 0, len(list))
	for _, run := range list {
		snaps = append(snaps, run.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].StartedAt.After(snaps[j].StartedAt) })

	data := pageData{Runs: snaps}
	if h.history != nil {
		if stats, err := h.history.GetStats(nil); err == nil {
			data.HasHistory = true
			data.TotalHistory = stats.TotalRuns
		} else {
			slog.Warn("dashboard: failed to load history stats", "error", err)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.template.Execute(w, data); err != nil {
		slog.Error("dashboard: template execution failed", "error", err)
		http.Error(w, "failed to render dashboard", http.StatusInternalServerError)
	}
}
