// Package probe implements the single-shot transport probe used for
// external worker-ready detection and liveness checks, generalized from a
// worker health-check routine to accept a context and to tolerate
// self-signed certificates on HTTPS probe URLs (local-host use only).
package probe

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"
)

// Result is the outcome of a single probe attempt.
type Result struct {
	Reachable bool
	Status    int
	Latency   time.Duration
	Err       error
}

// insecureTransport accepts self-signed certificates. It is never installed
// as http.DefaultTransport — only used by this package's dedicated client.
var insecureTransport = &http.Transport{
	TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // local-host probe only
}

// Probe issues a single GET to url, bounded by timeout. Any HTTP-level
// response — including 4xx/5xx — counts as reachable; only a transport
// failure (connection refused, timeout, DNS error) is not reachable. The
// probe never retries; callers that want polling (e.g. the rolling reload
// ready-wait) call this repeatedly on their own ticker.
func Probe(ctx context.Context, url string, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := &http.Client{Timeout: timeout, Transport: insecureTransport}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Err: err}
	}

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Result{Latency: latency, Err: err}
	}
	defer resp.Body.Close()

	return Result{Reachable: true, Status: resp.StatusCode, Latency: latency}
}
