package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"runq/internal/config"
	"runq/internal/services"
)

// Run statuses reported by the engine.
const (
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// ErrCancelled marks a run the engine stopped in response to a cancel
// request. The source is neither a success nor a failure.
var ErrCancelled = errors.New("engine cancelled run")

// Dataset tells the engine where the input data lives: a path on a filesystem
// both sides share, or the bytes themselves for uploaded payloads.
type Dataset struct {
	Type string `json:"type"`
	Path string `json:"path,omitempty"`
	Name string `json:"name,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// PathDataset references data by shared filesystem path.
func PathDataset(path string) Dataset {
	return Dataset{Type: "path", Path: path}
}

// InlineDataset carries the data bytes in the request body.
func InlineDataset(name string, data []byte) Dataset {
	return Dataset{Type: "inline", Name: name, Data: data}
}

func (d Dataset) validate() error {
	switch d.Type {
	case "path":
		if strings.TrimSpace(d.Path) == "" {
			return errors.New("path dataset requires a path")
		}
	case "inline":
		if strings.TrimSpace(d.Name) == "" {
			return errors.New("inline dataset requires a name")
		}
		if len(d.Data) == 0 {
			return errors.New("inline dataset requires data")
		}
	default:
		return fmt.Errorf("unknown dataset type %q", d.Type)
	}
	return nil
}

// SubmitRequest describes one run: what to execute and against which data.
// Config is forwarded verbatim; the engine owns its interpretation.
type SubmitRequest struct {
	Mode     string  `json:"mode"`
	Strategy string  `json:"strategy"`
	Config   string  `json:"config,omitempty"`
	Dataset  Dataset `json:"dataset"`
}

// Result is the engine's verdict on a submitted run.
type Result struct {
	Status  string             `json:"status"`
	Summary string             `json:"summary,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// Client submits runs to the backtest engine over HTTP.
type Client struct {
	baseURL       string
	apiKey        string
	httpClient    *http.Client
	healthTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithHealthTimeout overrides how long Health waits for a response.
func WithHealthTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.healthTimeout = timeout
		}
	}
}

// New creates an engine client. An empty apiKey disables bearer auth.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("engine base url required")
	}
	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		// Submissions run as long as the backtest does, so no default
		// client timeout; cancellation comes from the request context.
		httpClient:    &http.Client{},
		healthTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// NewFromConfig builds a client from the engine section of the config,
// applying the optional submit timeout as the HTTP client timeout.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("engine client requires config")
	}
	client, err := New(cfg.Engine.URL, cfg.Engine.APIKey, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.Engine.SubmitTimeoutMinutes > 0 {
		client.httpClient.Timeout = time.Duration(cfg.Engine.SubmitTimeoutMinutes) * time.Minute
	}
	if cfg.Engine.HealthTimeoutSeconds > 0 {
		client.healthTimeout = time.Duration(cfg.Engine.HealthTimeoutSeconds) * time.Second
	}
	return client, nil
}

// BaseURL returns the engine endpoint the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Submit runs one source synchronously and blocks until the engine reports an
// outcome. A cancelled run returns the partial result alongside ErrCancelled;
// a failed run returns the result alongside an external-service error.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*Result, error) {
	if strings.TrimSpace(req.Mode) == "" {
		return nil, services.Wrap(services.ErrValidation, "engine", "submit", "mode is required", nil)
	}
	if strings.TrimSpace(req.Strategy) == "" {
		return nil, services.Wrap(services.ErrValidation, "engine", "submit", "strategy is required", nil)
	}
	if err := req.Dataset.validate(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "engine", "submit", err.Error(), nil)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "engine", "submit", "encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/runs", bytes.NewReader(body))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "engine", "submit", "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	requestStart := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	latency := time.Since(requestStart)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrExternalService, "engine", "submit", fmt.Sprintf("execute request (latency=%v)", latency), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail := readErrorBody(resp.Body)
		msg := fmt.Sprintf("engine returned %d (latency=%v)", resp.StatusCode, latency)
		if detail != "" {
			msg = fmt.Sprintf("%s: %s", msg, detail)
		}
		return nil, services.Wrap(services.ErrExternalService, "engine", "submit", msg, nil)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, services.Wrap(services.ErrExternalService, "engine", "submit", "decode response", err)
	}

	switch result.Status {
	case StatusCompleted:
		return &result, nil
	case StatusCancelled:
		return &result, ErrCancelled
	case StatusFailed:
		msg := strings.TrimSpace(result.Error)
		if msg == "" {
			msg = "run failed without detail"
		}
		return &result, services.Wrap(services.ErrExternalService, "engine", "run", msg, nil)
	default:
		return nil, services.Wrap(services.ErrExternalService, "engine", "submit", fmt.Sprintf("unknown run status %q", result.Status), nil)
	}
}

// RequestCancel asks the engine to stop the in-flight run. Best effort: the
// engine acknowledges or the caller moves on.
func (c *Client) RequestCancel(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/cancel", nil)
	if err != nil {
		return services.Wrap(services.ErrTransient, "engine", "cancel", "build request", err)
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return services.Wrap(services.ErrExternalService, "engine", "cancel", "execute request", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))

	if resp.StatusCode >= http.StatusMultipleChoices {
		return services.Wrap(services.ErrExternalService, "engine", "cancel", fmt.Sprintf("engine returned %d", resp.StatusCode), nil)
	}
	return nil
}

// Health probes the engine's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(healthCtx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return services.Wrap(services.ErrTransient, "engine", "health", "build request", err)
	}
	c.authorize(httpReq)

	requestStart := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	latency := time.Since(requestStart)
	if err != nil {
		if errors.Is(healthCtx.Err(), context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "engine", "health", fmt.Sprintf("no response within %v", c.healthTimeout), err)
		}
		return services.Wrap(services.ErrExternalService, "engine", "health", fmt.Sprintf("execute request (latency=%v)", latency), err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))

	if resp.StatusCode != http.StatusOK {
		return services.Wrap(services.ErrExternalService, "engine", "health", fmt.Sprintf("engine returned %d (latency=%v)", resp.StatusCode, latency), nil)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
