// Package probe performs an HTTP preflight against the scan target using
// a Chrome TLS fingerprint (utls). It records response metadata before
// the browser navigates; the scan proceeds whatever the probe says.
package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	tls2 "github.com/refraction-networking/utls"

	"github.com/use-agent/a11yscan/config"
)

// fallbackUA is sent when no session profile has been assigned yet.
const fallbackUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Result is the response metadata a preflight records.
type Result struct {
	Status      int
	Server      string
	ContentType string
}

// Prober fetches target metadata over HTTP with a Chrome client hello.
type Prober struct {
	cfg   config.ProbeConfig
	proxy string
}

// New creates a prober. proxy, when non-empty, routes requests the same
// way the browser sessions are routed so both see the same origin.
func New(cfg config.ProbeConfig, proxy string) *Prober {
	return &Prober{cfg: cfg, proxy: proxy}
}

// Enabled reports whether preflights are switched on.
func (p *Prober) Enabled() bool { return p.cfg.Enabled }

// Do issues one GET and returns the response metadata. The body is
// discarded. Any HTTP status counts as a successful probe; only
// transport-level failures return an error.
func (p *Prober) Do(ctx context.Context, targetURL, userAgent string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	transport := &http.Transport{
		DialTLSContext: dialTLSChrome,
	}
	if p.proxy != "" {
		proxyURL, err := url.Parse(p.proxy)
		if err == nil && (proxyURL.Scheme == "http" || proxyURL.Scheme == "https") {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	client := &http.Client{Transport: transport}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("probe: build request: %w", err)
	}
	if userAgent == "" {
		userAgent = fallbackUA
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe: request failed: %w", err)
	}
	defer resp.Body.Close()

	// Drain a bounded slice of the body so the connection closes cleanly.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 32*1024))

	return &Result{
		Status:      resp.StatusCode,
		Server:      resp.Header.Get("Server"),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// dialTLSChrome establishes the TLS connection with a Chrome fingerprint
// so the preflight presents the same client hello family as the browser.
func dialTLSChrome(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{}
	rawConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls2.UClient(rawConn, &tls2.Config{
		ServerName: host,
	}, tls2.HelloChrome_Auto)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}
