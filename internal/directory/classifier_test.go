package directory

import (
	"testing"

	"reconsage/internal/probe"
)

func TestClassify_Partition(t *testing.T) {
	records := []probe.Record{
		{URL: "https://h/a", StatusCode: 200},
		{URL: "https://h/b", StatusCode: 301},
		{URL: "https://h/c", StatusCode: 404},
		{URL: "https://h/d", StatusCode: 503},
		{URL: "https://h/e", StatusCode: 0},
	}

	report := Classify(records)

	total := len(report.Success) + len(report.Redirect) + len(report.ClientError) + len(report.ServerError) + len(report.Exception)
	if total != len(records) {
		t.Fatalf("partition invariant violated: bucketed %d of %d records", total, len(records))
	}
	if len(report.Success) != 1 || report.Success[0] != "https://h/a" {
		t.Errorf("success bucket = %v", report.Success)
	}
	if len(report.Redirect) != 1 || report.Redirect[0] != "https://h/b" {
		t.Errorf("redirect bucket = %v", report.Redirect)
	}
	if len(report.ClientError) != 1 || report.ClientError[0] != "https://h/c" {
		t.Errorf("client_error bucket = %v", report.ClientError)
	}
	if len(report.ServerError) != 1 || report.ServerError[0] != "https://h/d" {
		t.Errorf("server_error bucket = %v", report.ServerError)
	}
	if len(report.Exception) != 1 || report.Exception[0] != "https://h/e" {
		t.Errorf("exception bucket = %v", report.Exception)
	}
	if len(report.PerURL) != len(records) {
		t.Errorf("per_url has %d entries, want %d", len(report.PerURL), len(records))
	}
}

func TestClassify_AllTwoHundreds(t *testing.T) {
	records := []probe.Record{
		{URL: "https://h/a", StatusCode: 200},
		{URL: "https://h/b", StatusCode: 200},
	}

	report := Classify(records)
	if len(report.Success) != 2 {
		t.Errorf("expected both URLs in success, got %v", report.Success)
	}
	for _, bucket := range [][]string{report.Redirect, report.ClientError, report.ServerError, report.Exception} {
		if len(bucket) != 0 {
			t.Errorf("expected empty bucket, got %v", bucket)
		}
	}
}
