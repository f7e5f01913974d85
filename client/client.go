// Package client is the public entry point: a composition root that wires
// the transport core, per-endpoint circuit breakers, retry policy, and the
// session lifecycle manager into one Client. All collaborators are
// constructed and injected here; nothing in the module holds package-level
// mutable state.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/fieldserve/client-go/internal/breaker"
	"github.com/fieldserve/client-go/internal/config"
	"github.com/fieldserve/client-go/internal/endpoint"
	"github.com/fieldserve/client-go/internal/logging"
	"github.com/fieldserve/client-go/internal/metrics"
	"github.com/fieldserve/client-go/internal/session"
	"github.com/fieldserve/client-go/internal/transport"
	"github.com/fieldserve/client-go/retry"
)

// Options configure a Client. Zero values fall back to configuration-file
// values and built-in defaults.
type Options struct {
	// ConfigFile is a YAML configuration path. When empty, defaults plus
	// FIELDSERVE_* environment variables apply.
	ConfigFile string
	// BaseURL overrides the configured API base URL.
	BaseURL string
	// SessionPath overrides where the session record is persisted.
	SessionPath string
	// Logger overrides the configured logging setup.
	Logger *slog.Logger
	// WatchConfig enables hot reload of the config file. Breaker and
	// retry settings are applied to the running client on change.
	WatchConfig bool
}

// Client is the resilient API access layer: work-order and auth services,
// a generic request path with retry, and a health probe.
type Client struct {
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
	breakers  *breaker.Registry
	core      *transport.Core
	session   *session.Manager
	reloader  *config.Reloader

	policyMu sync.Mutex
	policy   retry.Policy

	WorkOrders *WorkOrderService
	Auth       *AuthService
}

// New builds a fully wired Client.
func New(opts Options) (*Client, error) {
	var cfg *config.Config
	var err error
	if opts.ConfigFile != "" {
		cfg, err = config.Load(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		if opts.BaseURL != "" {
			cfg.API.BaseURL = opts.BaseURL
		}
	} else if opts.BaseURL != "" {
		cfg = &config.Config{}
		cfg.API.BaseURL = opts.BaseURL
		if err := config.Finalize(cfg); err != nil {
			return nil, err
		}
	} else {
		// No file, no override: defaults plus FIELDSERVE_* environment.
		cfg, err = config.Default()
		if err != nil {
			return nil, err
		}
	}
	if opts.SessionPath != "" {
		cfg.Session.StorePath = opts.SessionPath
	}

	logger := opts.Logger
	var logCloser io.Closer
	if logger == nil {
		logger, logCloser, err = logging.New(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("setting up logging: %w", err)
		}
	}
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	breakers := breaker.NewRegistry(breakerConfig(cfg), logger)

	core, err := transport.New(cfg, breakers, logger)
	if err != nil {
		closeQuietly(logCloser)
		return nil, fmt.Errorf("setting up transport: %w", err)
	}

	store, err := session.NewFileStore(cfg.Session.StorePath)
	if err != nil {
		core.Close() //nolint:errcheck
		closeQuietly(logCloser)
		return nil, fmt.Errorf("setting up session store: %w", err)
	}
	mgr, err := session.NewManager(core, store, cfg.Session, logger)
	if err != nil {
		core.Close() //nolint:errcheck
		closeQuietly(logCloser)
		return nil, fmt.Errorf("restoring session: %w", err)
	}

	c := &Client{
		cfg:       cfg,
		logger:    logger,
		logCloser: logCloser,
		breakers:  breakers,
		core:      core,
		session:   mgr,
		policy: retry.Policy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay,
			MaxDelay:   cfg.Retry.MaxDelay,
		},
	}
	c.WorkOrders = &WorkOrderService{c: c}
	c.Auth = &AuthService{c: c}

	if opts.WatchConfig && opts.ConfigFile != "" {
		reloader := config.NewReloader(opts.ConfigFile, cfg, logger)
		reloader.OnReload(c.applyConfig)
		reloader.Start()
		c.reloader = reloader
	}

	logger.Info("client ready", "base_url", cfg.API.BaseURL)
	return c, nil
}

// Close stops the refresh timer, the config watcher, and the transport.
// The persisted session survives so the next process can restore it.
func (c *Client) Close() error {
	if c.reloader != nil {
		c.reloader.Stop()
	}
	c.session.Close() //nolint:errcheck
	err := c.core.Close()
	closeQuietly(c.logCloser)
	return err
}

// Do runs one generic JSON request through the full pipeline (breaker,
// retry with backoff, the generic error classifier), decoding a 2xx
// response into out.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	req := transport.Request{Method: method, Path: path, Body: body}
	ep := endpoint.Key(method, path)
	attempt := 0
	_, err := retry.Do(ctx, c.retryPolicy(), func(ctx context.Context) (struct{}, error) {
		if attempt++; attempt > 1 {
			metrics.RetriesTotal.WithLabelValues(ep).Inc()
		}
		return struct{}{}, c.core.Do(ctx, req, out)
	})
	return err
}

// Retry exposes the retry primitive with the client's configured policy,
// for operations composed outside the HTTP pipeline.
func (c *Client) Retry(ctx context.Context, op func(context.Context) error) error {
	_, err := retry.Do(ctx, c.retryPolicy(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// HealthCheck probes the backend's health endpoint. A single attempt, no
// retry: the caller is asking "is it reachable right now".
func (c *Client) HealthCheck(ctx context.Context) bool {
	err := c.core.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/health",
		NoAuth: true,
	}, nil)
	return err == nil
}

// MetricsEndpoint reports the configured Prometheus listener, for
// embedding applications that want to expose the client's metrics.
func (c *Client) MetricsEndpoint() (addr, path string, enabled bool) {
	return c.cfg.Metrics.ListenAddr, c.cfg.Metrics.Path, c.cfg.Metrics.IsEnabled() && c.cfg.Metrics.ListenAddr != ""
}

// BreakerStates returns a snapshot of every known endpoint's circuit
// breaker state, for status displays.
func (c *Client) BreakerStates() map[string]string {
	states := c.breakers.States()
	out := make(map[string]string, len(states))
	for ep, st := range states {
		out[ep] = st.String()
	}
	return out
}

func (c *Client) retryPolicy() retry.Policy {
	c.policyMu.Lock()
	defer c.policyMu.Unlock()
	return c.policy
}

// applyConfig pushes reloaded breaker and retry settings into the running
// client. Transport-level settings (base URL, TLS) require a restart.
func (c *Client) applyConfig(cfg *config.Config) {
	c.breakers.UpdateConfig(breakerConfig(cfg))
	c.policyMu.Lock()
	c.policy = retry.Policy{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
		MaxDelay:   cfg.Retry.MaxDelay,
	}
	c.policyMu.Unlock()
	c.logger.Info("runtime settings reloaded")
}

func breakerConfig(cfg *config.Config) breaker.Config {
	return breaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:  cfg.CircuitBreaker.RecoveryTimeout,
		HalfOpenMax:      cfg.CircuitBreaker.HalfOpenMax,
		MaxConcurrent:    cfg.CircuitBreaker.MaxConcurrent,
	}
}

func closeQuietly(c io.Closer) {
	if c != nil {
		c.Close() //nolint:errcheck
	}
}

// doJSON is the shared service request path: retry around the transport
// with a domain error handler.
func doJSON[T any](ctx context.Context, c *Client, req transport.Request) (T, error) {
	ep := endpoint.Key(req.Method, req.Path)
	attempt := 0
	return retry.Do(ctx, c.retryPolicy(), func(ctx context.Context) (T, error) {
		if attempt++; attempt > 1 {
			metrics.RetriesTotal.WithLabelValues(ep).Inc()
		}
		var out T
		err := c.core.Do(ctx, req, &out)
		return out, err
	})
}

// doEmpty is doJSON for operations without a response payload.
func doEmpty(ctx context.Context, c *Client, req transport.Request) error {
	ep := endpoint.Key(req.Method, req.Path)
	attempt := 0
	_, err := retry.Do(ctx, c.retryPolicy(), func(ctx context.Context) (struct{}, error) {
		if attempt++; attempt > 1 {
			metrics.RetriesTotal.WithLabelValues(ep).Inc()
		}
		return struct{}{}, c.core.Do(ctx, req, nil)
	})
	return err
}
