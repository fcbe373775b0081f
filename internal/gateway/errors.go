package gateway

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"modelplayground/internal/core"

	"github.com/bytedance/sonic"
)

// ErrTimeout is returned when a prediction is still running after the last poll.
var ErrTimeout = errors.New("prediction timed out")

// ErrInvalidModel is returned for a model id that cannot name a queue app. It is raised locally.
var ErrInvalidModel = errors.New("invalid model id")

// ConfigError reports a missing credential. It is raised before any network call.
type ConfigError struct {
	Variable string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s environment variable is required", e.Variable)
}

// UpstreamError is a non-2xx answer from a provider.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return e.Message
}

// ValidationError is a provider rejecting the input (HTTP 422).
type ValidationError struct {
	Message string
	Detail  any
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ProviderFailedError is an explicit failed or canceled status reported by the provider.
type ProviderFailedError struct {
	Status  string
	Message string
}

func (e *ProviderFailedError) Error() string {
	return e.Message
}

// responseError converts a non-2xx response into a typed error. prefix is prepended to the
// provider's own message when one can be extracted.
func responseError(resp *http.Response, prefix string, logger core.Logger) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, core.MaxResponseBodySize))
	logger.Error("%s: status=%d, body=%s", prefix, resp.StatusCode, truncateBody(string(body)))

	message, detail := extractErrorMessage(body)
	if message == "" {
		message = http.StatusText(resp.StatusCode)
		if message == "" {
			message = fmt.Sprintf("status %d", resp.StatusCode)
		}
	}

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return &ValidationError{Message: message, Detail: detail}
	}
	return &UpstreamError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("%s: %s", prefix, message),
	}
}

// extractErrorMessage understands {"detail": "..."}, {"detail": [{"msg": ...}]} and {"error": "..."}.
func extractErrorMessage(body []byte) (string, any) {
	if len(body) == 0 {
		return "", nil
	}

	var payload map[string]any
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body)), nil
	}

	if detail, ok := payload["detail"]; ok {
		switch d := detail.(type) {
		case string:
			return d, detail
		case []any:
			msgs := make([]string, 0, len(d))
			for _, item := range d {
				if m, ok := item.(map[string]any); ok {
					if msg, ok := m["msg"].(string); ok {
						msgs = append(msgs, msg)
					}
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; "), detail
			}
		}
	}
	for _, key := range []string{"error", "message", "title"} {
		if s, ok := payload[key].(string); ok && s != "" {
			return s, nil
		}
	}
	return "", nil
}

func truncateBody(s string) string {
	const limit = 512
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
