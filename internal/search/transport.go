// Package search implements the news and academic search clients used by the
// research tools.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/raphaelgruber/medresearch/internal/retry"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medresearch",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Outbound search requests by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medresearch",
			Subsystem: "search",
			Name:      "retries_total",
			Help:      "Retried search attempts by provider.",
		},
		[]string{"provider"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "medresearch",
			Subsystem: "search",
			Name:      "request_duration_seconds",
			Help:      "Latency of a search call including retries.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
)

// Transport performs JSON requests against one provider with retries.
type Transport struct {
	provider string
	client   *resty.Client
	policy   retry.Policy
	logger   *slog.Logger
}

// NewTransport creates a transport rooted at baseURL.
func NewTransport(provider, baseURL string, timeout time.Duration, policy retry.Policy, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	c := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "medresearch/1.0").
		SetTimeout(timeout)

	return &Transport{
		provider: provider,
		client:   c,
		policy:   policy,
		logger:   logger.With("provider", provider),
	}
}

// SetHeader adds a header sent with every request.
func (t *Transport) SetHeader(key, value string) {
	t.client.SetHeader(key, value)
}

// GetJSON issues a GET with query params and decodes the JSON body into out.
func (t *Transport) GetJSON(ctx context.Context, path string, params map[string]string, out any) error {
	return t.do(ctx, http.MethodGet, path, params, nil, out)
}

// PostJSON sends body as JSON and decodes the response into out.
func (t *Transport) PostJSON(ctx context.Context, path string, body any, out any) error {
	return t.do(ctx, http.MethodPost, path, nil, body, out)
}

func (t *Transport) do(ctx context.Context, method, path string, params map[string]string, body any, out any) error {
	start := time.Now()
	attempt := 0

	err := t.policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		req := t.client.R().SetContext(ctx)
		if params != nil {
			req.SetQueryParams(params)
		}
		if body != nil {
			req.SetHeader("Content-Type", "application/json").SetBody(body)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(&ConnectionError{Message: ctx.Err().Error(), Err: ctx.Err()})
			}
			return &ConnectionError{Message: err.Error(), Err: err}
		}

		status := resp.StatusCode()
		if status >= http.StatusBadRequest {
			statusErr := classify(status, resp)
			if t.policy.IsRetryableStatus(status) {
				return statusErr
			}
			return retry.Permanent(statusErr)
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return retry.Permanent(fmt.Errorf("decode %s response: %w", t.provider, err))
		}
		return nil
	}, func(err error, wait time.Duration) {
		retriesTotal.WithLabelValues(t.provider).Inc()
		t.logger.Warn("retrying search request", "path", path, "attempt", attempt, "wait", wait, "error", err)
	})

	requestDuration.WithLabelValues(t.provider).Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(t.provider, outcome(err)).Inc()
	if err != nil {
		t.logger.Error("search request failed", "path", path, "attempts", attempt, "error", err)
	}
	return err
}

func classify(status int, resp *resty.Response) error {
	msg := http.StatusText(status)
	if s := strings.TrimSpace(resp.String()); s != "" && len(s) < 300 {
		msg = s
	}
	if status >= http.StatusInternalServerError {
		return &ServerError{StatusCode: status, Message: msg}
	}
	return &ClientError{StatusCode: status, Message: msg}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch err.(type) {
	case *ClientError:
		return "client_error"
	case *ServerError:
		return "server_error"
	case *ConnectionError:
		return "connection_error"
	default:
		return "error"
	}
}
