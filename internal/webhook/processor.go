package webhook

import (
	"context"
	"fmt"
	"time"

	"modelplayground/internal/cache"
	"modelplayground/internal/core"
	"modelplayground/internal/rehost"

	"github.com/bytedance/sonic"
)

// Delivery is the body the provider posts when a queued request changes state.
type Delivery struct {
	RequestID        string         `json:"request_id"`
	GatewayRequestID string         `json:"gateway_request_id,omitempty"`
	Status           string         `json:"status"`
	Payload          map[string]any `json:"payload"`
	Error            any            `json:"error,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// ParseDelivery decodes a webhook body. A payload that is not an object is kept under
// Error so failed deliveries can still report it.
func ParseDelivery(body []byte) (*Delivery, error) {
	var raw map[string]any
	if err := sonic.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid webhook body: %w", err)
	}

	d := &Delivery{}
	d.RequestID, _ = raw["request_id"].(string)
	d.GatewayRequestID, _ = raw["gateway_request_id"].(string)
	d.Status, _ = raw["status"].(string)
	d.Metadata, _ = raw["metadata"].(map[string]any)
	d.Error = raw["error"]
	switch p := raw["payload"].(type) {
	case map[string]any:
		d.Payload = p
	case nil:
	default:
		if d.Error == nil {
			d.Error = p
		}
	}
	return d, nil
}

// Processor turns deliveries into rehosted results.
type Processor struct {
	rehoster *rehost.Rehoster
	cache    *cache.CacheService
	logger   core.Logger
	now      func() time.Time
}

// NewProcessor wires the shared Rehoster. cacheService may be nil to skip result caching.
func NewProcessor(rehoster *rehost.Rehoster, cacheService *cache.CacheService, logger core.Logger) *Processor {
	if logger == nil {
		logger = &core.NopLogger{}
	}
	return &Processor{
		rehoster: rehoster,
		cache:    cacheService,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle acts on one delivery and returns the acknowledgement sent back to the provider.
// queryModel is the model named in the webhook URL, used when the delivery metadata does not
// carry one. Completed results are cached for CachedResult.
func (p *Processor) Handle(ctx context.Context, d *Delivery, queryModel string) map[string]any {
	switch d.Status {
	case core.QueueStatusCompleted, core.WebhookStatusOK:
		if d.Payload == nil {
			break
		}
		model, requestID := p.identify(d, queryModel)
		processed := p.rehoster.Process(ctx, d.Payload, model, requestID, rehost.Options{Webhook: true})
		processed["webhook_metadata"] = map[string]any{
			"processed_at": p.now().UTC().Format(time.RFC3339Nano),
			"model":        model,
			"request_id":   requestID,
		}
		if p.cache != nil && d.RequestID != "" {
			p.cache.Set(cache.GenerateWebhookResultKey(d.RequestID), processed, core.WebhookResultTTL)
		}
		p.logger.Info("Processed webhook for %s (request %s)", model, requestID)
		return map[string]any{
			"success":    true,
			"request_id": d.RequestID,
			"status":     d.Status,
			"processed":  true,
		}

	case core.QueueStatusFailed, core.WebhookStatusError:
		message := failureMessage(d)
		p.logger.Error("Inference request %s failed: %s", d.RequestID, message)
		// a failure supersedes any earlier delivery for the same request
		if p.cache != nil && d.RequestID != "" {
			p.cache.Delete(cache.GenerateWebhookResultKey(d.RequestID))
		}
		return map[string]any{
			"success":    false,
			"request_id": d.RequestID,
			"status":     d.Status,
			"error":      message,
		}
	}

	p.logger.Debug("Webhook for %s acknowledged with status %s", d.RequestID, d.Status)
	return map[string]any{
		"success":    true,
		"request_id": d.RequestID,
		"status":     d.Status,
	}
}

// CachedResult returns a result previously delivered by webhook.
func (p *Processor) CachedResult(requestID string) (map[string]any, bool) {
	if p.cache == nil || requestID == "" {
		return nil, false
	}
	v, ok := p.cache.Get(cache.GenerateWebhookResultKey(requestID))
	if !ok {
		return nil, false
	}
	result, ok := v.(map[string]any)
	return result, ok
}

func (p *Processor) identify(d *Delivery, queryModel string) (model, requestID string) {
	model, _ = d.Metadata["model"].(string)
	if model == "" {
		model = queryModel
	}
	if model == "" {
		model = core.UnknownValue
	}

	requestID, _ = d.Metadata["request_id"].(string)
	if requestID == "" {
		requestID = d.RequestID
	}
	if requestID == "" {
		requestID = core.UnknownValue
	}
	return model, requestID
}

func failureMessage(d *Delivery) string {
	switch e := d.Error.(type) {
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
	if d.Payload != nil {
		if detail, ok := d.Payload["detail"].(string); ok && detail != "" {
			return detail
		}
		if b, err := sonic.Marshal(d.Payload); err == nil {
			return string(b)
		}
	}
	return "Inference request failed"
}
