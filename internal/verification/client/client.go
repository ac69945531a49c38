// Package client talks to the external fiscal registry over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"fiscaldoc/internal/verification/models"
	"fiscaldoc/pkg/platform/circuit"
)

// maxBodyBytes caps how much of a registry answer is read.
const maxBodyBytes = 1 << 20

// Config identifies the registry endpoint and credentials.
type Config struct {
	BaseURL       string
	Token         string
	ConsultantID  string
	RatePerSecond float64
	Burst         int
}

// Client queries the registry. Calls wait on a token bucket and fail fast
// while the circuit breaker is open.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuit.Breaker
	logger     *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid registry base url %q", cfg.BaseURL)
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	c := &Client{
		endpoint:   base.JoinPath("v1", "contribuyente", "contribuyentes", cfg.ConsultantID, "validarcomprobante").String(),
		token:      cfg.Token,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(limit, burst),
		breaker:    circuit.New("registry"),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type queryRequest struct {
	IssuerID  string `json:"numRuc"`
	TypeCode  string `json:"codComp"`
	Series    string `json:"numeroSerie"`
	Number    string `json:"numero"`
	IssueDate string `json:"fechaEmision"`
	Total     string `json:"monto,omitempty"`
}

type queryResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    *struct {
		DocumentStatus  string   `json:"estadoCp"`
		IssuerStatus    string   `json:"estadoRuc"`
		IssuerCondition string   `json:"condDomiRuc"`
		Observations    []string `json:"observaciones"`
	} `json:"data"`
}

// Query performs one registry call. Failures are *RegistryError values;
// a business negative is a successful Response.
func (c *Client) Query(ctx context.Context, q models.Query) (models.Response, error) {
	if !c.breaker.Allow() {
		return models.Response{}, NewRegistryError(ErrorOutage, "circuit open", nil)
	}
	resp, err := c.query(ctx, q)
	c.settle(ctx, err)
	return resp, err
}

func (c *Client) query(ctx context.Context, q models.Query) (models.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.Response{}, NewRegistryError(ErrorTimeout, "rate limiter wait", err)
	}

	body, err := json.Marshal(queryRequest{
		IssuerID:  q.IssuerID,
		TypeCode:  q.TypeCode,
		Series:    q.Series,
		Number:    q.Number,
		IssueDate: q.IssueDate.String(),
		Total:     q.Total,
	})
	if err != nil {
		return models.Response{}, fmt.Errorf("encode registry query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return models.Response{}, fmt.Errorf("build registry request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Response{}, transportFailure(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return models.Response{}, statusError(ErrorAuthentication, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return models.Response{}, unhealthy(statusError(ErrorRateLimited, resp.StatusCode))
	case resp.StatusCode >= 500:
		return models.Response{}, unhealthy(statusError(ErrorOutage, resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return models.Response{}, statusError(ErrorContractMismatch, resp.StatusCode)
	}

	var decoded queryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&decoded); err != nil {
		return models.Response{}, NewRegistryError(ErrorBadData, "decode registry answer", err)
	}

	out := models.Response{Success: decoded.Success, Message: decoded.Message}
	if decoded.Data != nil {
		out.DocumentStatus = decoded.Data.DocumentStatus
		out.IssuerStatus = decoded.Data.IssuerStatus
		out.IssuerCondition = decoded.Data.IssuerCondition
		out.Observations = decoded.Data.Observations
	}
	return out, nil
}

func transportFailure(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return unhealthy(NewRegistryError(ErrorTimeout, "registry call timed out", err))
	}
	if errors.Is(err, context.Canceled) {
		return NewRegistryError(ErrorTimeout, "registry call cancelled", err)
	}
	return unhealthy(NewRegistryError(ErrorOutage, "registry unreachable", err))
}

func unhealthy(err *RegistryError) *RegistryError {
	err.unhealthy = true
	return err
}

// settle feeds a call's outcome to the breaker. Failures that say nothing
// about the registry's health only free the call's trial slot.
func (c *Client) settle(ctx context.Context, err error) {
	var re *RegistryError
	switch {
	case err == nil:
		if _, change := c.breaker.RecordSuccess(); change.Closed {
			c.logger.InfoContext(ctx, "registry circuit closed", "breaker", c.breaker.Name())
		}
	case errors.As(err, &re) && re.unhealthy:
		if _, change := c.breaker.RecordFailure(); change.Opened {
			c.logger.WarnContext(ctx, "registry circuit opened", "breaker", c.breaker.Name(), "cause", re.Category)
		}
	default:
		c.breaker.Release()
	}
}

func statusError(category ErrorCategory, status int) *RegistryError {
	err := NewRegistryError(category, fmt.Sprintf("registry answered HTTP %d", status), nil)
	err.StatusCode = status
	return err
}
