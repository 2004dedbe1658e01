// Package fingerprint identifies WAF/CDN vendors from response headers and,
// for Cloudflare, from TLS certificate fields.
package fingerprint

import (
	"strings"

	"reconsage/internal/probe"
)

// Confidence mirrors falsepositive.Confidence's vocabulary for this
// analyzer's own match quality.
type Confidence string

const (
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Vendor names returned in Match.Vendor.
const (
	Cloudflare = "Cloudflare"
	Fastly     = "Fastly"
	Akamai     = "Akamai"
	Imperva    = "Imperva"
	AWS        = "AWS"
)

// signature is one vendor's header-matching rule set.
type signature struct {
	vendor         string
	markers        []string
	highConfidence []string
	serverContains []string
	viaContains    []string
}

var signatures = []signature{
	{
		vendor:         Cloudflare,
		markers:        []string{"cf-ray", "cf-cache-status", "cf-request-id", "cf-connecting-ip", "cf-ipcountry", "cf-warp-tag-id", "cf-bgj"},
		highConfidence: []string{"cf-chl", "cf-chl-bypasses", "cf-chl-out", "cf-mitigated", "cf-turnstile", "cf-challenge"},
		serverContains: []string{"cloudflare"},
	},
	{
		vendor:         Fastly,
		markers:        []string{"x-served-by", "x-cached", "x-cache-hits", "fastly-debug-path", "fastly-trace", "x-github-request-id", "x-ratelimit-limit", "x-ratelimit-remaining", "x-ratelimit-reset"},
		serverContains: []string{"github.com", "varnish"},
		viaContains:    []string{"1.1 varnish"},
	},
	{
		vendor:         Akamai,
		markers:        []string{"akamai-pragma-client-region", "x-akamai-transformed", "x-akamai-request-id", "x-akamai-device-characteristics", "x-true-cache-key", "x-check-cacheable"},
		serverContains: []string{"akamaighost"},
		viaContains:    []string{"akamai"},
	},
	{
		vendor:  Imperva,
		markers: []string{"x-iinfo", "x-cdn", "x-incapsula", "x-cdn-request-id"},
		// x-cdn containing "imperva" and via containing "incapsula" are
		// evaluated against header VALUES, not additional marker keys; see
		// matchValueContains below.
	},
	{
		vendor:  AWS,
		markers: []string{"x-amz-cf-id", "x-amz-cf-pop", "x-amz-cf-paired-pop", "x-amzn-trace-id", "x-amzn-requestid", "x-amzn-errortype"},
	},
}

// Match is one vendor detection.
type Match struct {
	Vendor         string            `json:"vendor"`
	MatchedHeaders map[string]string `json:"matched_headers"`
	Confidence     Confidence        `json:"confidence"`
	TLSScore       *int              `json:"tls_match,omitempty"`
}

// Detect runs every vendor's header signature against one record's
// (already-lowercased) headers. A record may match multiple vendors; all
// detections are reported.
func Detect(headers map[string]string) []Match {
	var matches []Match
	for _, sig := range signatures {
		matched := map[string]string{}
		highHit := false
		markerHits := 0

		for _, m := range sig.markers {
			if v, ok := headers[m]; ok {
				matched[m] = v
				markerHits++
			}
		}
		for _, m := range sig.highConfidence {
			if v, ok := headers[m]; ok {
				matched[m] = v
				highHit = true
				markerHits++
			}
		}
		if containsAny(headers["server"], sig.serverContains) {
			matched["server"] = headers["server"]
		}
		if containsAny(headers["via"], sig.viaContains) {
			matched["via"] = headers["via"]
		}
		if sig.vendor == Imperva {
			if strings.Contains(strings.ToLower(headers["x-cdn"]), "imperva") {
				matched["x-cdn"] = headers["x-cdn"]
			}
			if strings.Contains(strings.ToLower(headers["via"]), "incapsula") {
				matched["via"] = headers["via"]
			}
		}

		if len(matched) == 0 {
			continue
		}

		confidence := ConfidenceMedium
		if highHit || markerHits >= 2 {
			confidence = ConfidenceHigh
		}

		matches = append(matches, Match{Vendor: sig.vendor, MatchedHeaders: matched, Confidence: confidence})
	}
	return matches
}

func containsAny(value string, needles []string) bool {
	if value == "" {
		return false
	}
	lower := strings.ToLower(value)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// cloudflareTLSVersions/cipherSuites/etc. are the exact signature value
// lists from the source's cf_tls_info_detector.py.
var (
	cloudflareTLSVersions = []string{"TLSv1.2", "TLSv1.3"}
	cloudflareCipherSuites = []string{
		"TLS_AES_128_GCM_SHA256",
		"TLS_AES_256_GCM_SHA384",
		"TLS_CHACHA20_POLY1305_SHA256",
		"ECDHE-RSA-AES128-GCM-SHA256",
		"ECDHE-RSA-AES256-GCM-SHA384",
		"ECDHE-ECDSA-AES128-GCM-SHA256",
		"ECDHE-ECDSA-AES256-GCM-SHA384",
		"ECDHE-ECDSA-CHACHA20-POLY1305",
		"ECDHE-RSA-CHACHA20-POLY1305",
	}
	cloudflareIssuerOrgs = []string{
		"Cloudflare, Inc.",
		"Cloudflare Inc",
		"Google Trust Services LLC",
		"Google Trust Services",
	}
	cloudflareIssuerCNs = []string{
		"Cloudflare Inc ECC CA-3",
		"Cloudflare Inc ECC CA-2",
		"Cloudflare Inc RSA CA-1",
		"GTS CA 1C3",
	}
	cloudflareSubjectCNs = []string{
		"sni.cloudflaressl.com",
		"*.cloudflaressl.com",
		"cloudflare.com",
	}
	cloudflareSANSuffixes = []string{
		".cloudflaressl.com",
		"sni.cloudflaressl.com",
		".cloudflare.com",
	}
	cloudflareSignatureAlgorithms = []string{
		"sha256WithRSAEncryption",
		"ecdsa-with-SHA256",
		"ecdsa-with-SHA384",
	}
)

// CloudflareTLSThreshold is the score at or above which the TLS signal
// alone says "Cloudflare".
const CloudflareTLSThreshold = 50

// CloudflareTLSScore scores a TLSInfo against Cloudflare's certificate
// fingerprint. Returns the score and
// the matched field names for audit.
func CloudflareTLSScore(tls *probe.TLSInfo) (score int, matchedFields []string) {
	if tls == nil {
		return 0, nil
	}

	if contains(cloudflareTLSVersions, tls.Version) {
		score += 10
		matchedFields = append(matchedFields, "tls_version")
	}
	if contains(cloudflareCipherSuites, tls.CipherSuite) {
		score += 20
		matchedFields = append(matchedFields, "cipher_suite")
	}
	if tls.PeerCertificate == nil {
		return score, matchedFields
	}

	cert := tls.PeerCertificate
	if contains(cloudflareIssuerOrgs, cert.IssuerOrg) {
		score += 40
		matchedFields = append(matchedFields, "issuer_o")
	}
	if contains(cloudflareIssuerCNs, cert.IssuerCN) {
		score += 30
		matchedFields = append(matchedFields, "issuer_cn")
	}
	if contains(cloudflareSubjectCNs, cert.SubjectCN) {
		score += 25
		matchedFields = append(matchedFields, "subject_cn")
	}
	for _, san := range cert.SAN {
		if containsAny(san, cloudflareSANSuffixes) {
			score += 25
			matchedFields = append(matchedFields, "san")
			break
		}
	}
	if contains(cloudflareSignatureAlgorithms, cert.SignatureAlgorithm) {
		score += 10
		matchedFields = append(matchedFields, "signature_algorithm")
	}

	return score, matchedFields
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

// MaxBatchPaths is the Fingerprinter's hard batch cap for WAF orchestration:
// the caller truncates silently and logs.
const MaxBatchPaths = 10
