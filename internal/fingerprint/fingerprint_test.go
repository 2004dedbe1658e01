package fingerprint

import (
	"testing"

	"reconsage/internal/probe"
)

// TestDetect_CloudflareHeaders exercises cf-ray plus a cloudflare server
// header: two matched headers, medium confidence since no high-confidence
// marker is present.
func TestDetect_CloudflareHeaders(t *testing.T) {
	headers := map[string]string{
		"cf-ray": "7a000000000-sjc",
		"server": "cloudflare",
	}

	matches := Detect(headers)
	if len(matches) != 1 {
		t.Fatalf("expected exactly one vendor match, got %d", len(matches))
	}
	m := matches[0]
	if m.Vendor != Cloudflare {
		t.Errorf("vendor = %q, want Cloudflare", m.Vendor)
	}
	if len(m.MatchedHeaders) != 2 {
		t.Errorf("matched_headers size = %d, want 2", len(m.MatchedHeaders))
	}
	if m.Confidence != ConfidenceMedium {
		t.Errorf("confidence = %q, want medium", m.Confidence)
	}
}

func TestDetect_MonotoneInHeaders(t *testing.T) {
	if matches := Detect(map[string]string{}); len(matches) != 0 {
		t.Fatalf("expected no matches on empty headers, got %v", matches)
	}

	headers := map[string]string{"cf-ray": "abc"}
	matches := Detect(headers)
	if len(matches) != 1 || matches[0].Vendor != Cloudflare {
		t.Fatalf("adding a Cloudflare marker should flip detection on, got %v", matches)
	}
}

func TestDetect_HighConfidenceMarker(t *testing.T) {
	headers := map[string]string{"cf-chl": "1"}
	matches := Detect(headers)
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %d", len(matches))
	}
	if matches[0].Confidence != ConfidenceHigh {
		t.Errorf("confidence = %q, want high (cf-chl is a high-confidence marker)", matches[0].Confidence)
	}
}

func TestDetect_MultipleVendors(t *testing.T) {
	headers := map[string]string{
		"cf-ray":           "abc",
		"x-amz-cf-id":      "xyz",
		"x-amzn-requestid": "123",
	}
	matches := Detect(headers)
	if len(matches) != 2 {
		t.Fatalf("expected Cloudflare and AWS both detected, got %d matches", len(matches))
	}
}

func TestCloudflareTLSScore_ThresholdDetection(t *testing.T) {
	tls := &probe.TLSInfo{
		Version:     "TLSv1.3",
		CipherSuite: "TLS_AES_128_GCM_SHA256",
		PeerCertificate: &probe.CertInfo{
			IssuerOrg: "Cloudflare, Inc.",
			IssuerCN:  "Cloudflare Inc ECC CA-3",
		},
	}

	score, fields := CloudflareTLSScore(tls)
	// 10 (version) + 20 (cipher) + 40 (issuer_o) + 30 (issuer_cn) = 100
	if score != 100 {
		t.Errorf("score = %d, want 100", score)
	}
	if len(fields) != 4 {
		t.Errorf("matched fields = %v, want 4 entries", fields)
	}
	if score < CloudflareTLSThreshold {
		t.Errorf("score %d should clear the detection threshold %d", score, CloudflareTLSThreshold)
	}
}

func TestCloudflareTLSScore_NilTLS(t *testing.T) {
	score, fields := CloudflareTLSScore(nil)
	if score != 0 || fields != nil {
		t.Errorf("nil TLS should score 0 with no matched fields, got score=%d fields=%v", score, fields)
	}
}
