package workflow

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/illuvrse/operator/pkg/model"
)

// HealthProber checks whether a service answers on url.
type HealthProber interface {
	Probe(ctx context.Context, url string) model.HealthDetail
}

// HTTPProber treats any HTTP response, whatever its status code, as
// healthy. Only a connection failure or timeout is unhealthy.
type HTTPProber struct {
	Client  *http.Client
	Timeout time.Duration
}

// NewHTTPProber returns a prober bounded by timeout (3s when zero).
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPProber{Client: &http.Client{}, Timeout: timeout}
}

// Probe implements HealthProber.
func (p *HTTPProber) Probe(ctx context.Context, url string) model.HealthDetail {
	detail := model.HealthDetail{URL: url}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		detail.Error = err.Error()
		return detail
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			detail.Error = "timeout"
		} else {
			detail.Error = err.Error()
		}
		return detail
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	detail.OK = true
	detail.StatusCode = resp.StatusCode
	return detail
}
