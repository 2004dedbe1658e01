// Package probe issues bounded concurrent HTTP GETs against a target and
// normalizes each attempt into a Record, the single exchange currency
// between the prober and every downstream analyzer.
package probe

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Input describes one probe attempt before normalization.
type Input struct {
	BaseTarget     string
	Suffix         string
	RequestHeaders map[string]string
	QueryParams    string
}

// CertInfo captures the fields of a peer certificate relevant to WAF/CDN
// fingerprinting.
type CertInfo struct {
	IssuerOrg          string   `json:"issuer_o,omitempty"`
	IssuerCN           string   `json:"issuer_cn,omitempty"`
	SubjectCN          string   `json:"subject_cn,omitempty"`
	SAN                []string `json:"san,omitempty"`
	Serial             string   `json:"serial,omitempty"`
	SignatureAlgorithm string   `json:"signature_algorithm,omitempty"`
}

// TLSInfo is a client-agnostic shape every HTTP client implementation can
// fill in, so the core analyzers never see a raw *tls.ConnectionState.
type TLSInfo struct {
	Version            string    `json:"version"`
	CipherSuite        string    `json:"cipher_suite"`
	PeerCertificate    *CertInfo `json:"peer_certificate,omitempty"`
}

// Record is the normalized result of one probe attempt.
type Record struct {
	Success       bool              `json:"success"`
	URL           string            `json:"url"`
	StatusCode    int               `json:"status_code"`
	Headers       map[string]string `json:"headers"`
	LatencyMs     *float64          `json:"latency_ms"`
	Body          []byte            `json:"-"`
	BodySHA256    string            `json:"body_sha256"`
	ContentLength int               `json:"content_length"`
	TLS           *TLSInfo          `json:"tls,omitempty"`
	Error         *string           `json:"error,omitempty"`
	Timestamp     string            `json:"timestamp"`
}

// Prober is a scoped handle: it owns one shared, connection-pooled HTTP
// client for the lifetime of a single batch and releases it on Close. No
// other component may retain the client past disposal.
type Prober struct {
	client      *http.Client
	transport   *http.Transport
	concurrency int
	closeOnce   sync.Once
}

// New creates a Prober with a shared client whose per-host connection pool
// is sized to concurrency for keepalive reuse.
func New(concurrency int, timeout time.Duration) *Prober {
	if concurrency < 1 {
		concurrency = 1
	}
	transport := &http.Transport{
		MaxIdleConns:        concurrency,
		MaxIdleConnsPerHost: concurrency,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Prober{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		transport:   transport,
		concurrency: concurrency,
	}
}

// Close releases the shared client's idle connections. Safe to call once;
// subsequent calls are no-ops.
func (p *Prober) Close() {
	p.closeOnce.Do(func() {
		p.transport.CloseIdleConnections()
	})
}

// normalizeURL joins a base target and suffix so exactly one "/" separates
// them.
func normalizeURL(target, suffix string) string {
	target = strings.TrimSuffix(target, "/")
	if !strings.HasPrefix(suffix, "/") {
		suffix = "/" + suffix
	}
	return target + suffix
}

// ScanBatch issues one GET per suffix under a permit pool of size
// concurrency, returning records in submission order regardless of
// completion order. Individual probe failures never fail
// the batch; they become unsuccessful Records.
func (p *Prober) ScanBatch(ctx context.Context, target string, suffixes []string, requestHeaders map[string]string, queryParams string) []Record {
	records := make([]Record, len(suffixes))
	permits := make(chan struct{}, p.concurrency)

	g, gctx := errgroup.WithContext(ctx)
	for i, suffix := range suffixes {
		i, suffix := i, suffix
		g.Go(func() error {
			select {
			case permits <- struct{}{}:
			case <-gctx.Done():
				records[i] = failureRecord(normalizeURL(target, suffix), gctx.Err())
				return nil
			}
			defer func() { <-permits }()

			records[i] = p.probeOne(gctx, target, suffix, requestHeaders, queryParams)
			return nil
		})
	}
	// errgroup.Go's function bodies never return a non-nil error above, so
	// batch submission can never abort early; Wait only blocks for drain.
	_ = g.Wait()

	return records
}

func (p *Prober) probeOne(ctx context.Context, target, suffix string, requestHeaders map[string]string, queryParams string) Record {
	url := normalizeURL(target, suffix)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return failureRecord(url, err)
	}
	for k, v := range requestHeaders {
		req.Header.Set(k, v)
	}
	if queryParams != "" {
		req.URL.RawQuery = queryParams
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		slog.Debug("probe transport failure", "url", url, "error", err)
		return failureRecord(url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Debug("probe body read failure", "url", url, "error", err)
		return failureRecord(url, err)
	}

	latencyMs := float64(elapsed.Microseconds()) / 1000.0
	sum := sha256.Sum256(body)

	return Record{
		Success:       true,
		URL:           resp.Request.URL.String(),
		StatusCode:    resp.StatusCode,
		Headers:       lowercaseHeaders(resp.Header),
		LatencyMs:     &latencyMs,
		Body:          body,
		BodySHA256:    hex.EncodeToString(sum[:]),
		ContentLength: len(body),
		TLS:           tlsOf(resp),
		Timestamp:     time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}

func failureRecord(url string, err error) Record {
	msg := err.Error()
	return Record{
		Success:       false,
		URL:           url,
		StatusCode:    0,
		Headers:       map[string]string{},
		BodySHA256:    emptyBodyHash(),
		ContentLength: 0,
		Error:         &msg,
		Timestamp:     time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}

var emptyHash string

func emptyBodyHash() string {
	if emptyHash == "" {
		sum := sha256.Sum256(nil)
		emptyHash = hex.EncodeToString(sum[:])
	}
	return emptyHash
}

func lowercaseHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) == 0 {
			continue
		}
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}

// tlsOf extracts TLSInfo from the underlying connection, returning nil on
// any failure to do so; a plaintext or unreadable connection is not an
// error condition.
func tlsOf(resp *http.Response) *TLSInfo {
	if resp.TLS == nil {
		return nil
	}
	cs := resp.TLS

	info := &TLSInfo{
		Version:     tlsVersionName(cs.Version),
		CipherSuite: tls.CipherSuiteName(cs.CipherSuite),
	}

	if len(cs.PeerCertificates) > 0 {
		cert := cs.PeerCertificates[0]
		info.PeerCertificate = &CertInfo{
			IssuerOrg:          firstOrEmpty(cert.Issuer.Organization),
			IssuerCN:           cert.Issuer.CommonName,
			SubjectCN:          cert.Subject.CommonName,
			SAN:                cert.DNSNames,
			Serial:             cert.SerialNumber.String(),
			SignatureAlgorithm: cert.SignatureAlgorithm.String(),
		}
	}

	return info
}

func firstOrEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func tlsVersionName(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "TLSv1.0"
	case tls.VersionTLS11:
		return "TLSv1.1"
	case tls.VersionTLS12:
		return "TLSv1.2"
	case tls.VersionTLS13:
		return "TLSv1.3"
	default:
		return fmt.Sprintf("0x%04x", v)
	}
}
