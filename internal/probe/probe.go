// Package probe implements the per-target probe pipeline: DNS resolution,
// TCP connect, HTTP GET with a manual redirect chain, body sampling with
// transport decompression, and the login-surface heuristics that classify
// authentication pages.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sitewatch/monitor/internal/model"
)

const (
	// probeTimeout bounds the combined DNS+TCP+HTTP work for one target.
	probeTimeout = 45 * time.Second

	// userAgent identifies outbound probe requests.
	userAgent = "WebsiteMonitor"

	// acceptHeader mimics a browser so login pages render their real markup.
	acceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

	// acceptEncoding advertises the codings body.go can undo.
	acceptEncoding = "gzip, deflate, br"
)

// Result is the structured outcome of probing one target.
type Result struct {
	TargetID     int64
	TimestampUTC time.Time

	TCPOk        bool
	TCPLatencyMs int64
	UsedIP       string

	HTTPOk         bool
	HTTPStatusCode *int
	HTTPLatencyMs  int64
	FinalURL       string

	LoginDetected     bool
	DetectedLoginType string

	Summary string
}

// DNSResolver resolves a hostname to an ordered list of IPs. *net.Resolver
// satisfies it.
type DNSResolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// Dialer opens TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// HTTPClient issues single HTTP requests without following redirects; the
// prober follows them manually to preserve the final effective URL.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Prober runs the probe pipeline. All network dependencies are injectable
// for tests; NewProber wires the real ones.
type Prober struct {
	resolver DNSResolver
	dialer   Dialer
	client   HTTPClient
	logger   *slog.Logger
	timeout  time.Duration
}

// Option customises a Prober.
type Option func(*Prober)

// WithResolver overrides the DNS resolver.
func WithResolver(r DNSResolver) Option {
	return func(p *Prober) { p.resolver = r }
}

// WithDialer overrides the TCP dialer.
func WithDialer(d Dialer) Option {
	return func(p *Prober) { p.dialer = d }
}

// WithHTTPClient overrides the HTTP client. The client must not follow
// redirects on its own.
func WithHTTPClient(c HTTPClient) Option {
	return func(p *Prober) { p.client = c }
}

// WithTimeout overrides the per-target timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) { p.timeout = d }
}

// NewProber returns a Prober backed by the system resolver, a plain TCP
// dialer, and a pooled HTTP transport that leaves redirects and content
// decoding to the prober itself.
func NewProber(logger *slog.Logger, opts ...Option) *Prober {
	transport := &http.Transport{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		// Decompression happens in body.go so the raw Content-Encoding
		// header stays observable.
		DisableCompression: true,
	}
	p := &Prober{
		resolver: net.DefaultResolver,
		dialer:   &net.Dialer{Timeout: 10 * time.Second},
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger,
		timeout: probeTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe runs the full pipeline for one target. It never returns an error:
// transport failures are normal outcomes encoded in the Result. The work is
// bounded by the prober's timeout, linked to ctx so cycle cancellation
// aborts in-flight network calls.
func (p *Prober) Probe(ctx context.Context, target *model.Target) *Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res := &Result{
		TargetID:     target.ID,
		TimestampUTC: time.Now().UTC(),
		FinalURL:     target.URL,
	}

	u, err := url.Parse(target.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		res.Summary = "TCP FAIL; HTTP FAIL (invalid URL)"
		return res
	}

	ips := p.resolveIPs(ctx, u.Hostname())
	p.connectTCP(ctx, u, ips, res)
	p.fetchHTTP(ctx, target, u, res)

	res.Summary = buildSummary(res)
	return res
}

// resolveIPs resolves the host to an ordered IP list. Resolution failure is
// not fatal; the TCP step falls back to dialing by hostname.
func (p *Prober) resolveIPs(ctx context.Context, host string) []net.IP {
	ips, err := p.resolver.LookupIP(ctx, "ip", host)
	if err != nil {
		p.logger.Debug("dns resolution failed",
			slog.String("host", host), slog.Any("error", err))
		return nil
	}
	return ips
}

// connectTCP attempts a TCP connect to each resolved IP in order, recording
// the first success. With no resolved IPs it dials by hostname and leaves
// UsedIP empty.
func (p *Prober) connectTCP(ctx context.Context, u *url.URL, ips []net.IP, res *Result) {
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	if len(ips) == 0 {
		start := time.Now()
		conn, err := p.dialer.DialContext(ctx, "tcp", net.JoinHostPort(u.Hostname(), port))
		res.TCPLatencyMs = time.Since(start).Milliseconds()
		if err == nil {
			res.TCPOk = true
			_ = conn.Close()
		}
		return
	}

	for i, ip := range ips {
		start := time.Now()
		conn, err := p.dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), port))
		elapsed := time.Since(start).Milliseconds()
		if err == nil {
			res.TCPOk = true
			res.TCPLatencyMs = elapsed
			res.UsedIP = ip.String()
			_ = conn.Close()
			return
		}
		if i == 0 {
			// All-fail case reports the first address tried.
			res.UsedIP = ip.String()
			res.TCPLatencyMs = elapsed
		}
	}
}

// fetchHTTP issues the GET, follows redirects manually, samples the body,
// applies the expected-status window, runs the login heuristics, and applies
// the 401/403 login-gated override.
func (p *Prober) fetchHTTP(ctx context.Context, target *model.Target, u *url.URL, res *Result) {
	start := time.Now()
	resp, finalURL, err := p.followRedirects(ctx, u.String())
	res.HTTPLatencyMs = time.Since(start).Milliseconds()
	res.FinalURL = finalURL
	if err != nil {
		p.logger.Debug("http request failed",
			slog.String("url", target.URL), slog.Any("error", err))
		return
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	res.HTTPStatusCode = &code
	res.HTTPOk = code >= target.HTTPExpectedStatusMin && code <= target.HTTPExpectedStatusMax

	snippet := p.sampleBody(resp)
	res.LoginDetected, res.DetectedLoginType = Classify(Input{
		FinalURL:    finalURL,
		HeaderBlob:  headerBlob(resp.Header),
		BodySnippet: snippet,
		Hint:        target.LoginRule,
	})

	// An authentication surface answering 401/403 is reachable, not down.
	if !res.HTTPOk && (code == http.StatusUnauthorized || code == http.StatusForbidden) && res.LoginDetected {
		res.HTTPOk = true
	}
}

// headerBlob flattens response headers into "Key: v1, v2\n" lines for the
// heuristics.
func headerBlob(h http.Header) string {
	var b strings.Builder
	for key, values := range h {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(strings.Join(values, ", "))
		b.WriteString("\n")
	}
	return b.String()
}

// buildSummary renders the canonical one-line probe summary, e.g.
// "TCP OK (12ms); HTTP OK (200, 85ms)". Transport-level HTTP failures have
// no status code and render as "HTTP FAIL".
func buildSummary(res *Result) string {
	tcp := fmt.Sprintf("TCP FAIL (%dms)", res.TCPLatencyMs)
	if res.TCPOk {
		tcp = fmt.Sprintf("TCP OK (%dms)", res.TCPLatencyMs)
	}

	var httpPart string
	switch {
	case res.HTTPStatusCode == nil:
		httpPart = "HTTP FAIL"
	case res.HTTPOk:
		httpPart = fmt.Sprintf("HTTP OK (%d, %dms)", *res.HTTPStatusCode, res.HTTPLatencyMs)
	default:
		httpPart = fmt.Sprintf("HTTP FAIL (%d, %dms)", *res.HTTPStatusCode, res.HTTPLatencyMs)
	}
	return tcp + "; " + httpPart
}
