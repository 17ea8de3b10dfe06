package andre

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/lmittmann/tint"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

const (
	breakerFailureThreshold = 5
	breakerOpenTimeout      = time.Minute
	breakerHalfOpenRequests = 1
	maxResponseSize         = 32 << 20
	userAgent               = "AndreBot (+https://github.com/jerome-ceccato/andre)"
)

// ErrRemoteUnavailable is returned while a remote API's circuit
// breaker is open
var ErrRemoteUnavailable = errors.New("remote API unavailable")

// StatusError is returned when a remote API responds with a non-2xx status
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.URL, e.StatusCode, truncate(e.Body, 200))
}

// remoteClient is an HTTP client for one remote API. Requests are rate
// limited and go through a circuit breaker, which opens after
// consecutive failures. 4xx responses and canceled requests don't count
// towards tripping it.
type remoteClient struct {
	name       string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *slog.Logger
}

func newRemoteClient(
	name string,
	httpClient *http.Client,
	requestsPerSecond float64,
	timeout time.Duration,
	logger *slog.Logger,
) *remoteClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	c := &remoteClient{
		name:       name,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](
		gobreaker.Settings{
			Name:        name,
			MaxRequests: breakerHalfOpenRequests,
			Timeout:     breakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailureThreshold
			},
			IsSuccessful: func(err error) bool {
				if err == nil {
					return true
				}
				if errors.Is(err, context.Canceled) {
					return true
				}
				var statusErr *StatusError
				if errors.As(err, &statusErr) {
					return statusErr.StatusCode < http.StatusInternalServerError &&
						statusErr.StatusCode != http.StatusTooManyRequests
				}
				return false
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				recordBreakerState(name, to)
				logger.Warn(
					"circuit breaker state changed",
					"client", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		},
	)
	return c
}

// do sends the request and returns the response body
func (c *remoteClient) do(req *http.Request) ([]byte, error) {
	ctx := req.Context()
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := c.breaker.Execute(
		func() ([]byte, error) {
			resp, err := c.httpClient.Do(req)
			if err != nil {
				return nil, err
			}
			defer func() {
				_ = resp.Body.Close()
			}()

			data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
			if err != nil {
				return nil, fmt.Errorf("reading response: %w", err)
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return nil, &StatusError{
					URL:        req.URL.Redacted(),
					StatusCode: resp.StatusCode,
					Body:       string(data),
				}
			}
			return data, nil
		},
	)

	took := time.Since(start)
	switch {
	case err == nil:
		recordRemoteRequest(c.name, resultOK, took)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		recordRemoteRequest(c.name, resultBreaker, took)
		return nil, fmt.Errorf("%w: %s: %w", ErrRemoteUnavailable, c.name, err)
	default:
		recordRemoteRequest(c.name, resultError, took)
	}

	c.logger.DebugContext(
		ctx,
		"remote request",
		"method", req.Method,
		"url", req.URL.Redacted(),
		"duration", took,
		tint.Err(err),
	)
	return body, err
}

func (c *remoteClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *remoteClient) postJSON(ctx context.Context, url string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *remoteClient) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// remoteStates returns the circuit breaker state of each remote client
func (a *Andre) remoteStates() map[string]string {
	states := map[string]string{}
	for _, c := range []*remoteClient{a.mal.remote, a.vndb.remote, a.quotes} {
		if c != nil {
			states[c.name] = c.BreakerState().String()
		}
	}
	return states
}
