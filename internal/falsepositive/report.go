package falsepositive

import (
	"encoding/json"
	"fmt"
	"os"

	"reconsage/internal/directory"
	"reconsage/internal/probe"
)

// AnalysisError is returned when an input report has an unexpected shape:
// the parsed JSON is not an object, or it lacks a success_urls key.
// Surfaced to the caller; there is no default recovery.
type AnalysisError struct {
	Message string
}

func (e *AnalysisError) Error() string { return e.Message }

// ReportInput is what ReadReport extracts from a previously-written
// directory scan report (or a bare {success_urls, per_url} file).
type ReportInput struct {
	Target      string
	SuccessURLs []string
	PerURL      map[string]directory.URLDetail
}

// ReadReport loads a directory-scan JSON artifact from disk and extracts
// the successful URLs (and, when present, their per-URL body hash/content
// length) for false-positive clustering. It accepts both a bare
// {success_urls, per_url, target} file and the nested
// {target, report: {success_urls, per_url}} shape the directory
// orchestrator actually persists.
func ReadReport(path string) (ReportInput, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is an operator-supplied scan report reference
	if err != nil {
		return ReportInput{}, fmt.Errorf("reading report file %q: %w", path, err)
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(data, &generic); err != nil {
		return ReportInput{}, &AnalysisError{Message: "input report is not a JSON object"}
	}

	body := generic
	if reportRaw, ok := generic["report"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(reportRaw, &nested); err == nil {
			body = nested
		}
	}

	successRaw, ok := body["success_urls"]
	if !ok {
		return ReportInput{}, &AnalysisError{Message: "input report is missing the success_urls key"}
	}

	var input ReportInput
	if err := json.Unmarshal(successRaw, &input.SuccessURLs); err != nil {
		return ReportInput{}, &AnalysisError{Message: "success_urls is not an array of URLs"}
	}

	if perURLRaw, ok := body["per_url"]; ok {
		_ = json.Unmarshal(perURLRaw, &input.PerURL) // best-effort; absent/malformed per_url degrades to zero-value details
	}
	if targetRaw, ok := generic["target"]; ok {
		_ = json.Unmarshal(targetRaw, &input.Target)
	}

	return input, nil
}

// Records converts a ReportInput into synthetic probe Records suitable for
// Cluster: one successful record per success URL, enriched with body hash
// and content length from PerURL when available.
func (ri ReportInput) Records() []probe.Record {
	records := make([]probe.Record, 0, len(ri.SuccessURLs))
	for _, u := range ri.SuccessURLs {
		rec := probe.Record{URL: u, Success: true}
		if detail, ok := ri.PerURL[u]; ok {
			rec.BodySHA256 = detail.BodySHA256
			rec.ContentLength = detail.ContentLength
			rec.StatusCode = detail.Status
		}
		records = append(records, rec)
	}
	return records
}
