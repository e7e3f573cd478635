// Package probe issues HTTP requests to health endpoints and classifies the responses.
package probe

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/domain"
)

const maxBodyBytes = 1 << 20

// Client is stateless apart from its HTTP transport and may be shared by all workers.
type Client struct {
	http     *http.Client
	timeout  time.Duration
	logger   *slog.Logger
	observer func(domain.ProbeResult)
}

// Option configures the Client.
type Option func(*Client)

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithInsecureTLS disables certificate verification, for self-signed test environments.
func WithInsecureTLS(insecure bool) Option {
	return func(c *Client) {
		if !insecure {
			return
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // test environments use self-signed certs
		c.http = &http.Client{Transport: transport}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger configures a logger for the Client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithObserver registers a callback invoked with every result (metrics).
func WithObserver(fn func(domain.ProbeResult)) Option {
	return func(c *Client) {
		c.observer = fn
	}
}

// NewClient creates a probe client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{},
		timeout: 15 * time.Second,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HTTPClient exposes the configured transport (e.g. for OIDC discovery).
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Probe requests the policy path on the endpoint and classifies the answer.
// Body assertions run only when the status is acceptable.
func (c *Client) Probe(ctx context.Context, ep domain.ServiceEndpoint, p Policy) domain.ProbeResult {
	res := c.probe(ctx, ep, p)
	c.logger.Debug("probe finished",
		"service", res.Service,
		"policy", res.Policy,
		"status", res.HTTPStatus,
		"classification", res.Classification,
		"duration", res.Duration,
	)
	if c.observer != nil {
		c.observer(res)
	}
	return res
}

func (c *Client) probe(ctx context.Context, ep domain.ServiceEndpoint, p Policy) (res domain.ProbeResult) {
	start := time.Now()
	res = domain.ProbeResult{
		Service: ep.Name,
		Policy:  p.Name,
		URL:     ep.URL(p.Path),
	}
	defer func() { res.Duration = time.Since(start) }()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.URL, nil)
	if err != nil {
		res.Classification = domain.Unreachable
		res.Detail = err.Error()
		return res
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		res.Classification = domain.Unreachable
		res.Detail = err.Error()
		return res
	}
	defer resp.Body.Close()

	res.HTTPStatus = resp.StatusCode
	res.Label = p.Label(resp.StatusCode)
	res.Classification = Classify(resp.StatusCode, p)
	res.Critical = res.Classification == domain.CriticalFailure

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if res.Classification == domain.Healthy && p.HasBodyChecks() {
			res.Classification = domain.BodyMismatch
			res.Detail = fmt.Sprintf("read body: %v", err)
		}
		return res
	}

	var body any
	decodeErr := json.Unmarshal(raw, &body)
	if obj, ok := body.(map[string]any); ok {
		res.Body = obj
	}

	if res.Classification != domain.Healthy || !p.HasBodyChecks() {
		return res
	}
	if decodeErr != nil {
		res.Classification = domain.BodyMismatch
		res.Detail = fmt.Sprintf("body is not JSON: %v", decodeErr)
		return res
	}
	if err := checkBody(p, body); err != nil {
		res.Classification = domain.BodyMismatch
		res.Detail = err.Error()
	}
	return res
}

func checkBody(p Policy, body any) error {
	schema, err := p.Schema()
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}
	return schema.Validate(body)
}

// Require converts a result into the error taxonomy: nil when healthy,
// ProbeCriticalFailure when critical, AssertionFailure otherwise.
func Require(res domain.ProbeResult) error {
	switch res.Classification {
	case domain.Healthy:
		return nil
	case domain.CriticalFailure:
		return &domain.ProbeCriticalFailure{Result: res}
	default:
		return &domain.AssertionFailure{
			Step: fmt.Sprintf("probe %s %s", res.Service, res.Policy),
			Err:  errors.New(res.String()),
		}
	}
}
