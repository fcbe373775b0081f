package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"modelplayground/internal/gateway"
	"modelplayground/internal/metrics"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
)

var errEmptyBody = errors.New("request body is empty")

// respondError writes the {success:false, error} envelope
func respondError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"success": false, "error": message})
}

// respondGatewayError maps a provider error to a status code. Upstream status codes are only
// passed through when passUpstream is set; the queue endpoints report them as 500.
func respondGatewayError(c *gin.Context, err error, passUpstream bool) {
	var (
		configErr     *gateway.ConfigError
		validationErr *gateway.ValidationError
		upstreamErr   *gateway.UpstreamError
	)

	switch {
	case errors.Is(err, gateway.ErrInvalidModel):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.As(err, &configErr):
		respondError(c, http.StatusInternalServerError, configErr.Error())
	case errors.As(err, &validationErr):
		body := gin.H{"success": false, "error": validationErr.Message}
		if validationErr.Detail != nil {
			body["details"] = validationErr.Detail
		}
		c.JSON(http.StatusUnprocessableEntity, body)
	case errors.As(err, &upstreamErr) && passUpstream:
		respondError(c, upstreamErr.StatusCode, upstreamErr.Message)
	default:
		respondError(c, http.StatusInternalServerError, err.Error())
	}
}

// readJSONObject decodes the request body as a JSON object
func readJSONObject(c *gin.Context) (map[string]any, error) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, errEmptyBody
	}
	var body map[string]any
	if err := sonic.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if body == nil {
		return nil, errEmptyBody
	}
	return body, nil
}

// recordProviderResult records one provider call in the metrics history
func (s *Server) recordProviderResult(success bool, startTime time.Time, model, provider string) {
	if success {
		metrics.RecordSuccessWithMetrics(s.metricsService, startTime, model, provider)
	} else {
		metrics.RecordFailureWithMetrics(s.metricsService, startTime, model, provider)
	}
}

func (s *Server) falClient() (*gateway.FalClient, error) {
	return gateway.NewFalClient(gateway.FalConfig{
		APIKey:     s.config.Providers.FalKey,
		BaseURL:    s.config.Providers.FalBaseURL,
		HTTPClient: s.httpClient,
		Logger:     s.config.Logger,
	})
}

func (s *Server) replicateClient() (*gateway.ReplicateClient, error) {
	return gateway.NewReplicateClient(gateway.ReplicateConfig{
		Token:           s.config.Providers.ReplicateToken,
		BaseURL:         s.config.Providers.ReplicateBaseURL,
		Model:           s.config.Providers.ReplicateModel,
		HTTPClient:      s.httpClient,
		Logger:          s.config.Logger,
		PollInterval:    s.config.Providers.ReplicatePollInterval,
		MaxPollAttempts: s.config.Providers.ReplicateMaxPollAttempts,
	})
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
