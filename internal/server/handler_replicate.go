package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"modelplayground/internal/core"
	"modelplayground/internal/gateway"

	"github.com/gin-gonic/gin"
)

func (s *Server) replicatePredict(c *gin.Context) {
	startTime := time.Now()

	body, err := readJSONObject(c)
	if err != nil && !errors.Is(err, errEmptyBody) {
		respondError(c, http.StatusBadRequest, "Request body must be a JSON object")
		return
	}
	if body == nil {
		body = map[string]any{}
	}

	client, err := s.replicateClient()
	if err != nil {
		respondGatewayError(c, err, true)
		return
	}
	model := client.Model()

	prediction, err := client.Predict(c.Request.Context(), gateway.BuildInput(body))
	s.recordProviderResult(err == nil, startTime, model, core.ProviderReplicate)
	if err != nil {
		s.config.Logger.Error("Replicate prediction failed: %v", err)
		respondGatewayError(c, err, true)
		return
	}

	requestID := prediction.ID
	if requestID == "" {
		requestID = fmt.Sprintf("replicate-%d", startTime.UnixMilli())
	}

	images := s.rehoster.RehostURLs(c.Request.Context(), prediction.OutputURLs(), model, requestID)

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"request_id":   requestID,
		"images":       images,
		"retrieved_at": timestamp(time.Now()),
	})
}
