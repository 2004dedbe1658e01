// Package falsepositive clusters probe responses by body hash and content
// length to separate likely soft-404 noise from genuine hits.
package falsepositive

import "reconsage/internal/probe"

// Confidence mirrors the WAF Signature Match confidence levels so report consumers can treat both analyzers uniformly.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceHigh   Confidence = "high"
)

// Thresholds are configuration knobs, not hard-coded invariants. Callers that don't need custom values should use Defaults().
type Thresholds struct {
	HashClusterSize   int // score +10 when any hash cluster exceeds this size
	LengthClusterSize int // score +10 when any length cluster is at least this size
	SmallResponse     int // content_length below this is "suspiciously small"
	LargeResponse     int // content_length above this is "suspiciously large"
	VerifiedMinSize   int // lower bound of a "verified" cluster's member count
	VerifiedMaxSize   int // upper bound of a "verified" cluster's member count
}

// Defaults returns the canonical thresholds: hash cluster size > 3, length
// cluster size >= 5 (an earlier "11" draft value does not apply here).
func Defaults() Thresholds {
	return Thresholds{
		HashClusterSize:   3,
		LengthClusterSize: 5,
		SmallResponse:     100,
		LargeResponse:     50000,
		VerifiedMinSize:   3,
		VerifiedMaxSize:   5,
	}
}

// URLVerdict is one entry in Report.FPURLs or Report.VerifiedURLs.
type URLVerdict struct {
	URL           string     `json:"url"`
	Reason        string     `json:"reason"`
	ContentLength int        `json:"content_length"`
	Confidence    Confidence `json:"confidence"`
	PatternCount  int        `json:"pattern_count,omitempty"`
}

// Report is the clusterer's output.
type Report struct {
	FPURLs       []URLVerdict `json:"fp_urls"`
	VerifiedURLs []URLVerdict `json:"verified_urls"`
	Score        int          `json:"score"`
	FPRatio      float64      `json:"fp_ratio"`
	Warning      string       `json:"warning,omitempty"`
}

// Cluster builds the Report for a batch of successful probe records,
// labelling each URL exactly once via an if/else-if chain with
// mutually-exclusive branches.
func Cluster(records []probe.Record, th Thresholds) Report {
	byHash := make(map[string][]string)
	byLen := make(map[int][]string)
	order := make([]string, 0, len(records))
	lengthOf := make(map[string]int, len(records))

	for _, r := range records {
		if !r.Success {
			continue
		}
		byHash[r.BodySHA256] = append(byHash[r.BodySHA256], r.URL)
		byLen[r.ContentLength] = append(byLen[r.ContentLength], r.URL)
		order = append(order, r.URL)
		lengthOf[r.URL] = r.ContentLength
	}

	score := 0
	for _, members := range byHash {
		if len(members) > th.HashClusterSize {
			score += 10
		}
	}
	for _, members := range byLen {
		if len(members) >= th.LengthClusterSize {
			score += 10
		}
	}

	report := Report{
		FPURLs:       []URLVerdict{},
		VerifiedURLs: []URLVerdict{},
		Score:        score,
	}

	labelled := make(map[string]bool, len(order))
	for length, members := range byLen {
		switch {
		case length < th.SmallResponse:
			for _, u := range members {
				report.FPURLs = append(report.FPURLs, URLVerdict{
					URL: u, Reason: "suspiciously_small_response", ContentLength: length,
					Confidence: ConfidenceLow, PatternCount: len(members),
				})
				labelled[u] = true
			}
		case length > th.LargeResponse:
			for _, u := range members {
				report.FPURLs = append(report.FPURLs, URLVerdict{
					URL: u, Reason: "suspiciously_large_response", ContentLength: length,
					Confidence: ConfidenceLow, PatternCount: len(members),
				})
				labelled[u] = true
			}
		case len(members) >= th.VerifiedMinSize && len(members) <= th.VerifiedMaxSize:
			for _, u := range members {
				report.VerifiedURLs = append(report.VerifiedURLs, URLVerdict{
					URL: u, Reason: "verified", ContentLength: length,
					Confidence: ConfidenceHigh, PatternCount: len(members),
				})
				labelled[u] = true
			}
		}
	}

	// Any URL not touched by a length heuristic (a length inside
	// [small, large] whose cluster size is outside the verified band) is
	// neither flagged nor verified by a pattern; it still needs exactly one
	// home per the partition invariant, so it counts as verified with no
	// pattern evidence.
	for _, u := range order {
		if labelled[u] {
			continue
		}
		report.VerifiedURLs = append(report.VerifiedURLs, URLVerdict{
			URL: u, Reason: "verified", ContentLength: lengthOf[u], Confidence: ConfidenceHigh,
		})
	}

	if len(order) > 0 {
		report.FPRatio = float64(len(report.FPURLs)) / float64(len(order))
	}
	switch {
	case report.FPRatio > 0.7:
		report.Warning = "Very high false positive rate"
	case report.FPRatio > 0.5:
		report.Warning = "High false positive rate"
	}

	return report
}
