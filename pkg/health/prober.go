package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/loopmaker/engine-supervisor-go/pkg/errors"
	"github.com/loopmaker/engine-supervisor-go/pkg/logging"
)

const (
	DefaultProbeInterval = 500 * time.Millisecond

	// Per-request budget. Startup polling must stay responsive, so a
	// single hung request cannot eat the whole wait timeout.
	requestTimeout = 2 * time.Second

	healthPath = "/health"
)

// URL returns the sidecar's health endpoint for the given port.
func URL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, healthPath)
}

// Prober polls the sidecar's health endpoint. A 200 response means ready;
// any other status or connection failure means not ready.
type Prober struct {
	client   *http.Client
	interval time.Duration
	logger   logging.Logger
}

func NewProber(interval time.Duration, logger logging.Logger) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Prober{
		client:   &http.Client{Timeout: requestTimeout},
		interval: interval,
		logger:   logger,
	}
}

// WaitUntilHealthy polls until the endpoint answers 200, the timeout
// elapses, or the owning process dies. alive is consulted before every
// poll: a dead process will never answer, so death short-circuits the
// wait instead of running out the timeout. The two failures are distinct
// error types because the caller surfaces them differently.
func (p *Prober) WaitUntilHealthy(ctx context.Context, port int, timeout time.Duration, alive func() bool) error {
	deadline := time.Now().Add(timeout)
	p.logger.Infof("Waiting for sidecar health, port: %d, timeout: %v", port, timeout)

	for attempt := 0; ; attempt++ {
		if alive != nil && !alive() {
			p.logger.Errorf("Sidecar process died before becoming healthy, port: %d, attempts: %d", port, attempt)
			return errors.NewProcessDiedError("engine process exited during startup", nil).WithContext("port", port)
		}

		healthy, detail := p.Check(ctx, port)
		if healthy {
			p.logger.Infof("Sidecar is healthy, port: %d, attempts: %d", port, attempt+1)
			return nil
		}
		p.logger.Debugf("Health probe not ready, port: %d, detail: %s", port, detail)

		if time.Now().After(deadline) {
			return errors.NewHealthTimeoutError(
				fmt.Sprintf("engine did not become healthy within %v", timeout), nil).WithContext("port", port)
		}

		select {
		case <-time.After(p.interval):
		case <-ctx.Done():
			return errors.NewCancelledError("health wait cancelled", ctx.Err()).WithContext("port", port)
		}
	}
}

// Check performs one probe. Also used by the periodic monitor for
// diagnostic logging only; liveness, not HTTP status, decides restarts.
func (p *Prober) Check(ctx context.Context, port int) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, URL(port), nil)
	if err != nil {
		return false, fmt.Sprintf("failed to build request: %v", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return true, resp.Status
	}
	return false, fmt.Sprintf("unexpected status: %s", resp.Status)
}
