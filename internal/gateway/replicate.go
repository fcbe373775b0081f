package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"modelplayground/internal/core"
	"modelplayground/internal/util"

	"github.com/bytedance/sonic"
)

// Prediction is a synchronous-provider job.
type Prediction struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output any    `json:"output"`
	Error  any    `json:"error"`
	Logs   string `json:"logs"`
	URLs   struct {
		Get    string `json:"get"`
		Cancel string `json:"cancel"`
	} `json:"urls"`
}

// OutputURLs returns the output as a list of URLs; a single string output becomes a one-item list.
func (p *Prediction) OutputURLs() []string {
	switch out := p.Output.(type) {
	case string:
		if out != "" {
			return []string{out}
		}
	case []any:
		urls := make([]string, 0, len(out))
		for _, item := range out {
			if s, ok := item.(string); ok && s != "" {
				urls = append(urls, s)
			}
		}
		return urls
	}
	return []string{}
}

func (p *Prediction) errorMessage() string {
	switch e := p.Error.(type) {
	case string:
		if e != "" {
			return e
		}
	case nil:
	default:
		if b, err := sonic.Marshal(e); err == nil {
			return string(b)
		}
	}
	if p.Status == core.PredictionCanceled {
		return "Prediction canceled"
	}
	return "Prediction failed"
}

func (p *Prediction) running() bool {
	return p.Status == core.PredictionStarting || p.Status == core.PredictionProcessing
}

func (p *Prediction) failed() bool {
	return p.Status == core.PredictionFailed || p.Status == core.PredictionCanceled
}

// ReplicateConfig configures a ReplicateClient.
type ReplicateConfig struct {
	Token           string
	BaseURL         string
	Model           string
	HTTPClient      *http.Client
	Logger          core.Logger
	PollInterval    time.Duration
	MaxPollAttempts int
}

// ReplicateClient runs predictions against one trained model and waits for the result.
type ReplicateClient struct {
	token        string
	baseURL      string
	model        string
	httpClient   *http.Client
	logger       core.Logger
	pollInterval time.Duration
	maxAttempts  int
}

// NewReplicateClient returns a ConfigError when no API token is configured.
func NewReplicateClient(cfg ReplicateConfig) (*ReplicateClient, error) {
	if cfg.Token == "" {
		return nil, &ConfigError{Variable: "REPLICATE_API_TOKEN"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = core.ReplicateBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = core.DefaultReplicateModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NopLogger{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = core.ReplicatePollInterval
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = core.ReplicateMaxPollAttempts
	}
	return &ReplicateClient{
		token:        cfg.Token,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		model:        cfg.Model,
		httpClient:   cfg.HTTPClient,
		logger:       cfg.Logger,
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxPollAttempts,
	}, nil
}

// Model returns the owner/name the client predicts against.
func (c *ReplicateClient) Model() string {
	return c.model
}

// Predict creates a prediction asking the provider to hold the connection until it finishes.
// A prediction that is still running when the provider answers is polled to completion.
func (c *ReplicateClient) Predict(ctx context.Context, input map[string]any) (*Prediction, error) {
	endpoint := fmt.Sprintf("%s/models/%s/predictions", c.baseURL, c.model)
	req, err := util.NewJSONRequest(ctx, http.MethodPost, endpoint, map[string]any{"input": input}, core.AuthBearerPrefix+c.token)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(core.HeaderPrefer, core.PreferWait)

	prediction, err := c.send(req, "Replicate API error")
	if err != nil {
		return nil, err
	}

	switch {
	case prediction.failed():
		return nil, &ProviderFailedError{Status: prediction.Status, Message: prediction.errorMessage()}
	case prediction.running():
		c.logger.Debug("Prediction %s still %s after wait, polling", prediction.ID, prediction.Status)
		return c.PollPrediction(ctx, prediction.ID)
	}
	return prediction, nil
}

// PollPrediction checks a prediction at a fixed interval until it succeeds, fails, or the
// attempt cap is reached, in which case ErrTimeout is returned.
func (c *ReplicateClient) PollPrediction(ctx context.Context, id string) (*Prediction, error) {
	endpoint := fmt.Sprintf("%s/predictions/%s", c.baseURL, url.PathEscape(id))

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		req, err := util.NewJSONRequest(ctx, http.MethodGet, endpoint, nil, core.AuthBearerPrefix+c.token)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		prediction, err := c.send(req, "Failed to check prediction status")
		if err != nil {
			return nil, err
		}

		switch {
		case prediction.Status == core.PredictionSucceeded:
			return prediction, nil
		case prediction.failed():
			return nil, &ProviderFailedError{Status: prediction.Status, Message: prediction.errorMessage()}
		}

		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}

	return nil, fmt.Errorf("%w after %d attempts", ErrTimeout, c.maxAttempts)
}

func (c *ReplicateClient) send(req *http.Request, errPrefix string) (*Prediction, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replicate request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, responseError(resp, errPrefix, c.logger)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, core.MaxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read replicate response: %w", err)
	}
	var prediction Prediction
	if err := sonic.Unmarshal(data, &prediction); err != nil {
		return nil, fmt.Errorf("failed to decode replicate response: %w", err)
	}
	return &prediction, nil
}

// optionalInputs are copied into the prediction input only when set to a non-empty value.
var optionalInputs = []string{
	"seed", "model", "image", "mask", "prompt_strength", "megapixels", "extra_lora", "extra_lora_scale",
}

// BuildInput applies the playground defaults to a request body. Zero values fall back to the
// default, go_fast stays on unless explicitly false.
func BuildInput(body map[string]any) map[string]any {
	input := map[string]any{
		"prompt":                 body["prompt"],
		"num_outputs":            orDefault(body, "num_outputs", 4),
		"aspect_ratio":           orDefault(body, "aspect_ratio", "4:3"),
		"output_format":          orDefault(body, "output_format", "webp"),
		"output_quality":         orDefault(body, "output_quality", 80),
		"num_inference_steps":    orDefault(body, "num_inference_steps", 28),
		"guidance_scale":         orDefault(body, "guidance_scale", 3.5),
		"lora_scale":             orDefault(body, "lora_scale", 1),
		"go_fast":                body["go_fast"] != false,
		"disable_safety_checker": orDefault(body, "disable_safety_checker", false),
	}
	for _, key := range optionalInputs {
		if isSet(body[key]) {
			input[key] = body[key]
		}
	}
	return input
}

func orDefault(body map[string]any, key string, def any) any {
	if v := body[key]; isSet(v) {
		return v
	}
	return def
}

// isSet treats nil, false, "", and 0 as unset.
func isSet(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return true
}
