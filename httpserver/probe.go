package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const probeInterval = 25 * time.Millisecond

// ReadinessHeader marks readiness requests. Servers started by Start answer
// them directly with 204.
const ReadinessHeader = "X-Readiness-Check"

// Probe checks that a freshly started server answers HTTP requests.
// Any response, whatever its status code, counts as ready.
type Probe struct {
	client  *http.Client
	timeout time.Duration
}

// NewProbe creates a Probe that gives up after timeout.
func NewProbe(timeout time.Duration) *Probe {
	return &Probe{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
	}
}

// Check issues a single GET against url.
func (p *Probe) Check(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create readiness request for %s: %w", url, err)
	}
	req.Header.Set(ReadinessHeader, "1")
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("readiness request for %s failed: %w", url, err)
	}
	resp.Body.Close()
	return nil
}

// WaitReady polls url until Check succeeds, ctx is done or the probe
// timeout elapses.
func (p *Probe) WaitReady(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		err := p.Check(ctx, url)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("server at %s not ready after %s: %w", url, p.timeout, err)
		case <-ticker.C:
		}
	}
}
