// Package sink resolves a writable output directory and persists scan
// reports as pretty-printed JSON artifacts.
package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"reconsage/internal/redaction"
	"reconsage/internal/storage"
)

// ConfigError is returned for malformed sink inputs.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

// IOError wraps the final, unrecoverable failure after every fallback
// directory has been tried.
type IOError struct {
	Message string
	Cause   error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s: %v", e.Message, e.Cause) }
func (e *IOError) Unwrap() error { return e.Cause }

var sanitizePattern = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
var underscoreRun = regexp.MustCompile(`_+`)

// sanitize replaces any character outside [A-Za-z0-9._-] with "_",
// collapses runs, trims edges, and truncates to 255 bytes.
func sanitize(hint string) string {
	s := sanitizePattern.ReplaceAllString(hint, "_")
	s = underscoreRun.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 255 {
		s = s[:255]
	}
	return s
}

// Sink resolves output directories and writes JSON artifacts.
type Sink struct {
	logDir   string // $LOG_DIR override, empty means "unset"
	redactor *redaction.PatternRedactor
	history  *storage.SQLiteStore // optional, nil disables history recording
}

// New builds a Sink, reading $LOG_DIR from the environment once, with
// secret redaction enabled using the default pattern set.
func New() *Sink {
	return &Sink{logDir: os.Getenv("LOG_DIR"), redactor: redaction.NewPatternRedactor()}
}

// NewWithRedactor builds a Sink using a caller-supplied redactor, e.g. to
// disable redaction (redaction.NoopRedactor is not usable here since Sink
// needs RedactMap; pass a *PatternRedactor with SetEnabled(false) instead).
func NewWithRedactor(redactor *redaction.PatternRedactor) *Sink {
	return &Sink{logDir: os.Getenv("LOG_DIR"), redactor: redactor}
}

// SetHistory wires a SQLite history store into the Sink. Once set,
// RecordRun persists a row for every successful artifact write. Passing
// nil disables history recording again.
func (s *Sink) SetHistory(history *storage.SQLiteStore) {
	s.history = history
}

// RecordRun persists one history row after a JSON artifact write succeeds.
// A no-op when no history store is wired.
func (s *Sink) RecordRun(record storage.RunRecord) error {
	if s.history == nil {
		return nil
	}
	if err := s.history.SaveRun(record); err != nil {
		slog.Error("failed to record run history", "run_id", record.ID, "error", err)
		return err
	}
	return nil
}

// Write sanitizes both hints, resolves a writable directory via the
// fallback chain, disambiguates collisions with a timestamp suffix, and
// serializes payload as pretty UTF-8 JSON.
func (s *Sink) Write(folderHint, fileHint string, payload any) (string, error) {
	fileHint = sanitize(fileHint)
	if fileHint == "" {
		return "", &ConfigError{Message: "file_hint sanitizes to empty"}
	}
	folderHint = sanitize(folderHint)
	if !strings.HasSuffix(fileHint, ".json") {
		fileHint += ".json"
	}

	dir, err := s.resolveDir(folderHint)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, fileHint)
	if _, err := os.Stat(path); err == nil {
		stem := strings.TrimSuffix(fileHint, ".json")
		path = filepath.Join(dir, fmt.Sprintf("%s_%s.json", stem, time.Now().Format("2006-01-02_15-04-05")))
	}

	data, err := marshalPretty(s.redact(payload))
	if err != nil {
		return "", &IOError{Message: "failed to marshal report payload", Cause: err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", &IOError{Message: "failed to write report artifact", Cause: err}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

// resolveDir walks the fallback chain, stopping at the first directory
// that can be created and write-probed.
func (s *Sink) resolveDir(folderHint string) (string, error) {
	var candidates []string
	if s.logDir != "" {
		candidates = append(candidates, filepath.Join(s.logDir, folderHint))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, "reconsage_logs", folderHint))
	}
	candidates = append(candidates, filepath.Join(".", folderHint))
	candidates = append(candidates, filepath.Join(os.TempDir(), folderHint))

	var lastErr error
	for _, dir := range candidates {
		if err := tryDir(dir); err != nil {
			lastErr = err
			slog.Warn("sink directory unusable, falling through", "dir", dir, "error", err)
			continue
		}
		return dir, nil
	}
	return "", &IOError{Message: "no writable output directory among the fallback chain", Cause: lastErr}
}

func tryDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".reconsage_write_probe")
	if err := os.WriteFile(probe, []byte{}, 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}

// redact round-trips payload through a generic JSON map so every string
// leaf (headers, reflected body snippets) passes through the redactor
// before it is written to disk. Payloads that don't round-trip into a
// map (e.g. a bare slice) pass through unredacted at the top level; scan
// reports are always object-shaped in practice.
func (s *Sink) redact(payload any) any {
	if s.redactor == nil || !s.redactor.IsEnabled() {
		return payload
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return payload
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return payload
	}
	return s.redactor.RedactMap(generic)
}

// marshalPretty writes payload as 2-space-indented UTF-8 JSON without HTML
// escaping (json.Marshal escapes <, >, & by default; SetEscapeHTML(false)
// disables that) and without ASCII-escaping non-ASCII runes.
func marshalPretty(payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
