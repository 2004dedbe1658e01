package falsepositive

import (
	"testing"

	"reconsage/internal/probe"
)

func successRecord(url, hash string, length int) probe.Record {
	return probe.Record{Success: true, URL: url, BodySHA256: hash, ContentLength: length}
}

// TestCluster_FPTriggerScenario exercises five identical soft-404 bodies:
// they should score 20 and warn at the "very high" threshold.
func TestCluster_FPTriggerScenario(t *testing.T) {
	records := []probe.Record{
		successRecord("https://h/a", "h2", 8),
		successRecord("https://h/b", "h2", 8),
		successRecord("https://h/c", "h2", 8),
		successRecord("https://h/d", "h2", 8),
		successRecord("https://h/e", "h2", 8),
	}

	report := Cluster(records, Defaults())

	if report.Score != 20 {
		t.Errorf("score = %d, want 20 (hash cluster +10, length cluster +10)", report.Score)
	}
	if report.FPRatio != 1.0 {
		t.Errorf("fp_ratio = %v, want 1.0", report.FPRatio)
	}
	if report.Warning != "Very high false positive rate" {
		t.Errorf("warning = %q", report.Warning)
	}
	if len(report.FPURLs) != 5 {
		t.Errorf("fp_urls has %d entries, want 5", len(report.FPURLs))
	}
}

func TestCluster_Partition(t *testing.T) {
	records := []probe.Record{
		successRecord("https://h/a", "hash-a", 200),
		successRecord("https://h/b", "hash-b", 5),
		successRecord("https://h/c", "hash-c", 60000),
	}

	report := Cluster(records, Defaults())

	total := len(report.FPURLs) + len(report.VerifiedURLs)
	if total != len(records) {
		t.Fatalf("partition invariant violated: labelled %d of %d URLs", total, len(records))
	}
}

func TestCluster_VerifiedBand(t *testing.T) {
	records := []probe.Record{
		successRecord("https://h/a", "h1", 500),
		successRecord("https://h/b", "h2", 500),
		successRecord("https://h/c", "h3", 500),
	}

	report := Cluster(records, Defaults())
	if len(report.VerifiedURLs) != 3 {
		t.Errorf("expected all 3 URLs verified (size 3 in [3,5], length 500 in [100,50000]), got %d", len(report.VerifiedURLs))
	}
	for _, v := range report.VerifiedURLs {
		if v.Confidence != ConfidenceHigh {
			t.Errorf("verified confidence = %q, want high", v.Confidence)
		}
	}
}

func TestCluster_EmptyBatch(t *testing.T) {
	report := Cluster(nil, Defaults())
	if report.FPRatio != 0 {
		t.Errorf("fp_ratio on empty batch = %v, want 0", report.FPRatio)
	}
	if report.Warning != "" {
		t.Errorf("unexpected warning on empty batch: %q", report.Warning)
	}
}
