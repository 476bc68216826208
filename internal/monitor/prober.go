// Package monitor runs periodic health checks against project endpoints.
package monitor

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/umbrellaops/umbrella/internal/domain"
)

// ProbeResult is the outcome of one health check.
type ProbeResult struct {
	Status     domain.UptimeStatus
	ResponseMS int64
	StatusCode int
	Err        string
}

// Prober checks whether an endpoint is reachable.
type Prober interface {
	Probe(ctx context.Context, targetURL string) ProbeResult
}

// HTTPProber performs GET probes with a bounded timeout. Any HTTP response
// below 400 counts as up; 400 and above, transport failures and timeouts
// count as down. A target that cannot produce a request at all is unknown.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber builds a prober with the given per-probe timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProber{client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProber) Probe(ctx context.Context, targetURL string) ProbeResult {
	if _, err := url.ParseRequestURI(targetURL); err != nil {
		return ProbeResult{Status: domain.UptimeUnknown, Err: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return ProbeResult{Status: domain.UptimeUnknown, Err: err.Error()}
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return ProbeResult{Status: domain.UptimeDown, ResponseMS: elapsed, Err: err.Error()}
	}
	defer resp.Body.Close()

	result := ProbeResult{ResponseMS: elapsed, StatusCode: resp.StatusCode}
	if resp.StatusCode < 400 {
		result.Status = domain.UptimeUp
	} else {
		result.Status = domain.UptimeDown
		result.Err = resp.Status
	}
	return result
}
