// Package directory buckets a batch of probe records into status classes
// for a directory-enumeration report.
package directory

import "reconsage/internal/probe"

// URLDetail is the per-URL summary carried in Report.PerURL.
type URLDetail struct {
	Status     int      `json:"status"`
	Headers    map[string]string `json:"headers"`
	BodySHA256 string   `json:"body_sha256"`
	ContentLength int   `json:"content_length"`
	LatencyMs  *float64 `json:"latency_ms"`
	Timestamp  string   `json:"timestamp"`
}

// Report is the output of Classify: every URL from the input batch appears
// in exactly one of the five buckets.
type Report struct {
	Success     []string             `json:"success_urls"`
	Redirect    []string             `json:"redirect"`
	ClientError []string             `json:"client_error"`
	ServerError []string             `json:"server_error"`
	Exception   []string             `json:"exception"`
	PerURL      map[string]URLDetail `json:"per_url"`
}

// Classify buckets each record by status class. Boundaries
// are half-open: [200,300) success, [300,400) redirect, [400,500)
// client_error, [500,inf) server_error; status==0 is an exception.
func Classify(records []probe.Record) Report {
	report := Report{
		Success:     []string{},
		Redirect:    []string{},
		ClientError: []string{},
		ServerError: []string{},
		Exception:   []string{},
		PerURL:      make(map[string]URLDetail, len(records)),
	}

	for _, r := range records {
		switch {
		case r.StatusCode == 0:
			report.Exception = append(report.Exception, r.URL)
		case r.StatusCode >= 200 && r.StatusCode < 300:
			report.Success = append(report.Success, r.URL)
		case r.StatusCode >= 300 && r.StatusCode < 400:
			report.Redirect = append(report.Redirect, r.URL)
		case r.StatusCode >= 400 && r.StatusCode < 500:
			report.ClientError = append(report.ClientError, r.URL)
		default: // >= 500
			report.ServerError = append(report.ServerError, r.URL)
		}

		report.PerURL[r.URL] = URLDetail{
			Status:        r.StatusCode,
			Headers:       r.Headers,
			BodySHA256:    r.BodySHA256,
			ContentLength: r.ContentLength,
			LatencyMs:     r.LatencyMs,
			Timestamp:     r.Timestamp,
		}
	}

	return report
}
