// Package transport implements the shared HTTP client core. Every request
// flows through two interceptor stages: before dispatch the per-endpoint
// circuit breaker is consulted and the bearer token attached; after the
// response the breaker is updated, failures are normalized through the
// error classifier, and a 401 triggers the session's forced-logout hook.
// No raw transport error ever escapes this package.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fieldserve/client-go/apierror"
	"github.com/fieldserve/client-go/internal/breaker"
	"github.com/fieldserve/client-go/internal/config"
	"github.com/fieldserve/client-go/internal/endpoint"
	"github.com/fieldserve/client-go/internal/metrics"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// maxBodyBytes bounds how much of a response body is read for error
// classification and payload decoding.
const maxBodyBytes = 1 << 20 // 1 MB

// TokenSource supplies the current access token for the Authorization
// header. Implemented by the session manager.
type TokenSource interface {
	AccessToken() string
}

// Request describes one API call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body is JSON-marshaled when non-nil.
	Body any
	// Handler classifies failures; nil means the generic handler.
	Handler apierror.Handler
	// NoAuth skips the Authorization header (login, register, refresh).
	NoAuth bool
	// SkipAuthHook suppresses the forced-logout hook on 401. Set on the
	// session manager's own requests, which handle 401 themselves.
	SkipAuthHook bool
}

// Core is the shared transport. It is safe for concurrent use.
type Core struct {
	httpClient *http.Client
	baseURL    *url.URL
	breakers   *breaker.Registry
	limiter    *rate.Limiter // nil when rate limiting is disabled
	certLoader *clientCertLoader
	logger     *slog.Logger
	userAgent  string
	timeout    time.Duration

	tokens      TokenSource
	authFailure func()
}

// New builds the transport core. The breaker registry is injected by the
// composition root so tests can share or isolate breaker state explicitly.
func New(cfg *config.Config, breakers *breaker.Registry, logger *slog.Logger) (*Core, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.API.BaseURL, "/"))
	if err != nil {
		return nil, err
	}

	tlsCfg, certLoader, err := newTLSConfig(cfg.TLS, logger)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.BurstSize)
	}

	return &Core{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: tlsCfg,
				MaxIdleConns:    100,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		baseURL:    base,
		breakers:   breakers,
		limiter:    limiter,
		certLoader: certLoader,
		logger:     logger,
		userAgent:  cfg.API.UserAgent,
		timeout:    cfg.API.Timeout,
	}, nil
}

// SetTokenSource installs the access-token supplier. Must be called before
// authenticated requests are issued.
func (c *Core) SetTokenSource(ts TokenSource) { c.tokens = ts }

// SetAuthFailureHook installs the function invoked when any request (other
// than the session manager's own) receives a 401.
func (c *Core) SetAuthFailureHook(fn func()) { c.authFailure = fn }

// Close releases transport resources.
func (c *Core) Close() error {
	if t, ok := c.httpClient.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	if c.certLoader != nil {
		c.certLoader.Stop()
	}
	return nil
}

// Do executes one request, decoding a 2xx JSON response into out (ignored
// when out is nil). Any failure is returned as a normalized *apierror.Error.
func (c *Core) Do(ctx context.Context, req Request, out any) error {
	ep := endpoint.Key(req.Method, req.Path)

	handler := req.Handler
	if handler == nil {
		handler = apierror.Generic
	}

	// Request stage: circuit breaker gate. No network call when open.
	b := c.breakers.For(ep)
	if !b.Allow() {
		metrics.CircuitBreakerRejections.WithLabelValues(ep).Inc()
		c.logger.Warn("request rejected, circuit open", "endpoint", ep)
		return apierror.CircuitOpen()
	}

	if bh := c.breakers.BulkheadFor(ep); bh != nil {
		if !bh.TryAcquire() {
			return apierror.TooManyInFlight(ep)
		}
		defer bh.Release()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return apierror.Aborted(ctx.Err())
		}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	hreq, err := c.buildRequest(ctx, req)
	if err != nil {
		return apierror.Internal("building request", err)
	}

	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()
	start := time.Now()

	resp, err := c.httpClient.Do(hreq)
	if err != nil {
		f := classifyTransportError(ctx, err)
		if apierror.IsInfrastructure(f) {
			b.RecordFailure()
		}
		norm := handler(f)
		c.observe(ep, req.Method, string(norm.Code), start)
		c.logger.Warn("request failed before response",
			"endpoint", ep, "code", norm.Code, "error", err)
		return norm
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	c.observe(ep, req.Method, strconv.Itoa(resp.StatusCode), start)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Response stage, success path.
		b.RecordSuccess()
		if readErr != nil {
			return apierror.Internal("reading response", readErr)
		}
		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return apierror.Internal("decoding response", err)
			}
		}
		return nil
	}

	// Response stage, failure path.
	f := apierror.HTTPFailure{Status: resp.StatusCode, Body: body}
	if apierror.IsInfrastructure(f) {
		b.RecordFailure()
	} else {
		// The backend answered; whatever went wrong is not an outage,
		// so the consecutive-failure streak ends here.
		b.RecordSuccess()
	}

	norm := handler(f)

	if resp.StatusCode == http.StatusUnauthorized && !req.SkipAuthHook && c.authFailure != nil {
		metrics.AuthFailures.WithLabelValues("unauthorized").Inc()
		c.logger.Info("session expired, forcing logout", "endpoint", ep)
		c.authFailure()
	}

	c.logger.Debug("request failed",
		"endpoint", ep, "status", resp.StatusCode, "code", norm.Code, "retryable", norm.Retryable)
	return norm
}

func (c *Core) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(req.Path, "/")
	if req.Query != nil {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	hreq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, err
	}

	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set("User-Agent", c.userAgent)
	hreq.Header.Set("X-Request-ID", uuid.NewString())
	if req.Body != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}
	if !req.NoAuth && c.tokens != nil {
		if tok := c.tokens.AccessToken(); tok != "" {
			hreq.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return hreq, nil
}

// classifyTransportError maps an http.Client error into a tagged failure.
// The caller's context distinguishes cooperative cancellation from the
// per-request timeout.
func classifyTransportError(callerCtx context.Context, err error) apierror.Failure {
	if callerCtx.Err() == context.Canceled {
		return apierror.AbortFailure{Err: context.Canceled}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierror.NetworkFailure{Err: err, Timeout: true}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return apierror.NetworkFailure{Err: err, Timeout: true}
	}
	return apierror.NetworkFailure{Err: err}
}

func (c *Core) observe(ep, method, code string, start time.Time) {
	metrics.RequestsTotal.WithLabelValues(ep, method, code).Inc()
	metrics.RequestDuration.WithLabelValues(ep, method).Observe(time.Since(start).Seconds())
}
