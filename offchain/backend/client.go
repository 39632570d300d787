// Package backend is the HTTP client for the deployment job runner API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/metrics"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/protocol"
)

var (
	ErrMissingBaseURL = errors.New("missing backend url")
	ErrUpstream       = errors.New("backend error")
	ErrNotFound       = errors.New("deployment not found")
)

// APIError is a non-2xx response. Message is the backend's own text when it
// sent one.
type APIError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s: http %d", ErrUpstream.Error(), e.Endpoint, e.Status)
	}
	return fmt.Sprintf("%s: %s: http %d: %s", ErrUpstream.Error(), e.Endpoint, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return ErrUpstream
}

func (e *APIError) StatusCode() int { return e.Status }

const (
	DefaultRequestsPerSecond = 10
	defaultBurst             = 5
	maxBodyBytes             = 4 << 20
)

type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithRateLimit caps outgoing requests; rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(DefaultRequestsPerSecond, defaultBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Verify(ctx context.Context, programID string) (protocol.VerifyResponse, error) {
	var out protocol.VerifyResponse
	err := c.do(ctx, "verify", http.MethodPost, "/api/deployments/verify", protocol.VerifyRequest{ProgramID: programID}, &out)
	return out, err
}

func (c *Client) CalculateCost(ctx context.Context, programID string) (protocol.CostBreakdown, error) {
	var out protocol.CostBreakdown
	err := c.do(ctx, "calculate-cost", http.MethodPost, "/api/deployments/calculate-cost", protocol.CalculateCostRequest{ProgramID: programID}, &out)
	return out, err
}

func (c *Client) Execute(ctx context.Context, req protocol.ExecuteRequest) (protocol.ExecuteResponse, error) {
	var out protocol.ExecuteResponse
	if err := c.do(ctx, "execute", http.MethodPost, "/api/deployments/execute", req, &out); err != nil {
		return out, err
	}
	if strings.TrimSpace(out.DeploymentID) == "" {
		return out, fmt.Errorf("%w: execute: empty deployment id", ErrUpstream)
	}
	return out, nil
}

func (c *Client) Deployment(ctx context.Context, id string) (protocol.DeploymentJob, error) {
	var out protocol.DeploymentJob
	err := c.do(ctx, "get-deployment", http.MethodGet, "/api/deployments/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) DeploymentLogs(ctx context.Context, id string) ([]protocol.LogFragment, error) {
	var out []protocol.LogFragment
	err := c.do(ctx, "get-logs", http.MethodGet, "/api/deployments/"+url.PathEscape(id)+"/logs", nil, &out)
	return out, err
}

func (c *Client) DeploymentsByUser(ctx context.Context, wallet string) ([]protocol.DeploymentJob, error) {
	var out []protocol.DeploymentJob
	err := c.do(ctx, "get-user-deployments", http.MethodGet, "/api/deployments/user/"+url.PathEscape(wallet), nil, &out)
	return out, err
}

func (c *Client) Close(ctx context.Context, deploymentID, wallet string) (protocol.CloseResponse, error) {
	var out protocol.CloseResponse
	err := c.do(ctx, "close", http.MethodPost, "/api/deployments/close", protocol.CloseRequest{
		DeploymentID:      deploymentID,
		UserWalletAddress: wallet,
	}, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, body any, out any) (err error) {
	if c == nil {
		return errors.New("nil backend client")
	}
	if c.baseURL == "" {
		return ErrMissingBaseURL
	}

	start := time.Now()
	status := "error"
	defer func() {
		metrics.BackendRequestsTotal.WithLabelValues(endpoint, status).Inc()
		metrics.BackendRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Endpoint: endpoint, Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var er protocol.ErrorResponse
	if err := json.Unmarshal(raw, &er); err == nil {
		if er.Message != "" {
			return er.Message
		}
		if er.Error != "" {
			return er.Error
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
