package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"modelplayground/internal/core"
	"modelplayground/internal/util"

	"github.com/bytedance/sonic"
)

// appNamespaces prefix app ids that carry an extra leading segment.
var appNamespaces = map[string]bool{"workflows": true, "comfy": true}

// AppID is a parsed queue application id: [namespace/]owner/alias[/path].
type AppID struct {
	Namespace string
	Owner     string
	Alias     string
	Path      string
}

// ParseAppID splits a model name into its queue application parts.
func ParseAppID(id string) (AppID, error) {
	parts := strings.Split(strings.Trim(id, "/"), "/")
	var app AppID
	if len(parts) > 0 && appNamespaces[parts[0]] {
		app.Namespace = parts[0]
		parts = parts[1:]
	}
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return AppID{}, fmt.Errorf("%w %q: expected owner/alias", ErrInvalidModel, id)
	}
	app.Owner = parts[0]
	app.Alias = parts[1]
	app.Path = strings.Join(parts[2:], "/")
	return app, nil
}

// Base is the queue path used for status, result and cancel calls.
func (a AppID) Base() string {
	if a.Namespace != "" {
		return a.Namespace + "/" + a.Owner + "/" + a.Alias
	}
	return a.Owner + "/" + a.Alias
}

// Full is the path used for submission, including any sub-path.
func (a AppID) Full() string {
	if a.Path != "" {
		return a.Base() + "/" + a.Path
	}
	return a.Base()
}

// SubmitResponse is the queue's answer to a submission.
type SubmitResponse struct {
	RequestID     string `json:"request_id"`
	ResponseURL   string `json:"response_url"`
	StatusURL     string `json:"status_url"`
	CancelURL     string `json:"cancel_url"`
	QueuePosition *int   `json:"queue_position,omitempty"`
}

// QueueStatus is a polled request state.
type QueueStatus struct {
	Status        string         `json:"status"`
	Logs          []any          `json:"logs"`
	Metrics       map[string]any `json:"metrics"`
	QueuePosition *int           `json:"queue_position"`
	ResponseURL   string         `json:"response_url"`
}

// FalConfig configures a FalClient.
type FalConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     core.Logger
}

// FalClient talks to the asynchronous queue API.
type FalClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     core.Logger
}

// NewFalClient returns a ConfigError when no API key is configured.
func NewFalClient(cfg FalConfig) (*FalClient, error) {
	if cfg.APIKey == "" {
		return nil, &ConfigError{Variable: "FAL_KEY"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = core.FalQueueBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NopLogger{}
	}
	return &FalClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}, nil
}

// RequestURLs returns the response, status and cancel URLs for a request.
func (c *FalClient) RequestURLs(app AppID, requestID string) (responseURL, statusURL, cancelURL string) {
	responseURL = fmt.Sprintf("%s/%s/requests/%s", c.baseURL, app.Base(), url.PathEscape(requestID))
	return responseURL, responseURL + "/status", responseURL + "/cancel"
}

// Submit enqueues input for a model. webhookURL is optional.
func (c *FalClient) Submit(ctx context.Context, model string, input map[string]any, webhookURL string) (*SubmitResponse, error) {
	app, err := ParseAppID(model)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/" + app.Full()
	if webhookURL != "" {
		endpoint += "?" + url.Values{"fal_webhook": {webhookURL}}.Encode()
	}

	var out SubmitResponse
	if err := c.do(ctx, http.MethodPost, endpoint, input, "Queue submit error", &out); err != nil {
		return nil, err
	}
	if out.RequestID == "" {
		return nil, &UpstreamError{StatusCode: http.StatusBadGateway, Message: "queue submit returned no request_id"}
	}

	responseURL, statusURL, cancelURL := c.RequestURLs(app, out.RequestID)
	if out.ResponseURL == "" {
		out.ResponseURL = responseURL
	}
	if out.StatusURL == "" {
		out.StatusURL = statusURL
	}
	if out.CancelURL == "" {
		out.CancelURL = cancelURL
	}
	c.logger.Debug("Submitted %s request %s", model, out.RequestID)
	return &out, nil
}

// Status returns the current state of a request, with logs.
func (c *FalClient) Status(ctx context.Context, model, requestID string) (*QueueStatus, error) {
	app, err := ParseAppID(model)
	if err != nil {
		return nil, err
	}
	_, statusURL, _ := c.RequestURLs(app, requestID)

	var out QueueStatus
	if err := c.do(ctx, http.MethodGet, statusURL+"?logs=1", nil, "Queue status error", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Result fetches the output of a completed request.
func (c *FalClient) Result(ctx context.Context, model, requestID string) (map[string]any, error) {
	app, err := ParseAppID(model)
	if err != nil {
		return nil, err
	}
	responseURL, _, _ := c.RequestURLs(app, requestID)

	var out map[string]any
	if err := c.do(ctx, http.MethodGet, responseURL, nil, "Queue result error", &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// Cancel asks the queue to drop a pending request.
func (c *FalClient) Cancel(ctx context.Context, model, requestID string) (map[string]any, error) {
	app, err := ParseAppID(model)
	if err != nil {
		return nil, err
	}
	_, _, cancelURL := c.RequestURLs(app, requestID)

	var out map[string]any
	if err := c.do(ctx, http.MethodPut, cancelURL, nil, "Queue cancel error", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FalClient) do(ctx context.Context, method, endpoint string, payload any, errPrefix string, out any) error {
	req, err := util.NewJSONRequest(ctx, method, endpoint, payload, core.AuthKeyPrefix+c.apiKey)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("queue request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(resp, errPrefix, c.logger)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, core.MaxResponseBodySize))
	if err != nil {
		return fmt.Errorf("failed to read queue response: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode queue response: %w", err)
	}
	return nil
}
