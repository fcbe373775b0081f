package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"modelplayground/internal/core"
	"modelplayground/internal/rehost"
	"modelplayground/internal/schema"

	"github.com/gin-gonic/gin"
)

func (s *Server) submitRequest(c *gin.Context) {
	startTime := time.Now()
	model := c.Param("model")

	input, err := readJSONObject(c)
	if err != nil {
		s.config.Logger.Debug("Rejected submit body for %s: %v", model, err)
		respondError(c, http.StatusBadRequest, "Request body is required")
		return
	}

	client, err := s.falClient()
	if err != nil {
		respondGatewayError(c, err, false)
		return
	}

	if problems := s.validateAgainstSchema(model, input); len(problems) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid input: " + strings.Join(problems, "; "),
			"details": problems,
		})
		return
	}

	submitted, err := client.Submit(c.Request.Context(), model, input, s.config.WebhookURL(model))
	s.recordProviderResult(err == nil, startTime, model, core.ProviderFal)
	if err != nil {
		s.config.Logger.Error("Submit to %s failed: %v", model, err)
		respondGatewayError(c, err, false)
		return
	}

	body := gin.H{
		"success":      true,
		"request_id":   submitted.RequestID,
		"status":       core.QueueStatusInQueue,
		"response_url": submitted.ResponseURL,
		"status_url":   submitted.StatusURL,
		"cancel_url":   submitted.CancelURL,
		"model":        model,
		"submitted_at": timestamp(startTime),
	}
	if submitted.QueuePosition != nil {
		body["queue_position"] = *submitted.QueuePosition
	}
	c.JSON(http.StatusOK, body)
}

// validateAgainstSchema checks input against the model's stored schema. Models without a
// schema file are passed through unchecked.
func (s *Server) validateAgainstSchema(model string, input map[string]any) []string {
	doc, err := s.schemas.Load(model)
	if err != nil {
		if !errors.Is(err, schema.ErrNotFound) {
			s.config.Logger.Warn("Skipping input validation for %s: %v", model, err)
		}
		return nil
	}
	return schema.ValidateInput(input, doc.InputSchema)
}

func (s *Server) requestStatus(c *gin.Context) {
	model := c.Param("model")
	requestID := c.Query("request_id")
	if requestID == "" {
		respondError(c, http.StatusBadRequest, "request_id parameter is required")
		return
	}

	client, err := s.falClient()
	if err != nil {
		respondGatewayError(c, err, false)
		return
	}

	status, err := client.Status(c.Request.Context(), model, requestID)
	if err != nil {
		s.config.Logger.Error("Status check for %s/%s failed: %v", model, requestID, err)
		respondGatewayError(c, err, false)
		return
	}

	logs := status.Logs
	if logs == nil {
		logs = []any{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"request_id":     requestID,
		"status":         status.Status,
		"logs":           logs,
		"metrics":        status.Metrics,
		"queue_position": status.QueuePosition,
		"model":          model,
		"response_url":   status.ResponseURL,
	})
}

func (s *Server) cancelRequest(c *gin.Context) {
	model := c.Param("model")
	requestID := c.Query("request_id")
	if requestID == "" {
		respondError(c, http.StatusBadRequest, "request_id parameter is required")
		return
	}

	client, err := s.falClient()
	if err != nil {
		respondGatewayError(c, err, false)
		return
	}

	result, err := client.Cancel(c.Request.Context(), model, requestID)
	if err != nil {
		s.config.Logger.Error("Cancel of %s/%s failed: %v", model, requestID, err)
		respondGatewayError(c, err, false)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"request_id":   requestID,
		"model":        model,
		"result":       result,
		"cancelled_at": timestamp(time.Now()),
	})
}

func (s *Server) requestResult(c *gin.Context) {
	startTime := time.Now()
	model := c.Param("model")
	requestID := c.Param("requestId")

	if cached, ok := s.processor.CachedResult(requestID); ok {
		s.config.Logger.Debug("Serving webhook result for %s", requestID)
		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"request_id":   requestID,
			"model":        model,
			"result":       cached,
			"retrieved_at": timestamp(startTime),
		})
		return
	}

	client, err := s.falClient()
	if err != nil {
		respondGatewayError(c, err, false)
		return
	}

	result, err := client.Result(c.Request.Context(), model, requestID)
	s.recordProviderResult(err == nil, startTime, model, core.ProviderFal)
	if err != nil {
		s.config.Logger.Error("Result fetch for %s/%s failed: %v", model, requestID, err)
		respondGatewayError(c, err, false)
		return
	}

	processed := s.rehoster.Process(c.Request.Context(), result, model, requestID, rehost.Options{})

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"request_id":   requestID,
		"model":        model,
		"result":       processed,
		"retrieved_at": timestamp(time.Now()),
	})
}
