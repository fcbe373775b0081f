package core

import "time"

// RequestStats holds aggregated request statistics for monitoring.
type RequestStats struct {
	TotalRequests      int64           `json:"total_requests"`
	SuccessfulRequests int64           `json:"successful_requests"`
	FailedRequests     int64           `json:"failed_requests"`
	TotalResponseTime  int64           `json:"total_response_time"`
	RehostedMedia      int64           `json:"rehosted_media"`
	RehostFailures     int64           `json:"rehost_failures"`
	LastRequestTime    time.Time       `json:"last_request_time"`
	RequestHistory     []RequestRecord `json:"request_history"`
}

// RequestRecord represents a single provider call for history tracking.
type RequestRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Success      bool      `json:"success"`
	ResponseTime int64     `json:"response_time"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
}

// PeriodStats holds computed statistics for a time period.
type PeriodStats struct {
	Requests        int64   `json:"requests"`
	SuccessRate     float64 `json:"successRate"`
	AvgResponseTime int64   `json:"avgResponseTime"`
	QPS             float64 `json:"qps"`
}

// ModelEntry is one selectable model in the playground listing.
type ModelEntry struct {
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	EndpointID *string `json:"endpointId"`
	IsLora     bool    `json:"isLora"`
}

// LoraOption is a predefined LoRA adapter from the reference document.
type LoraOption struct {
	Name             string `json:"name"`
	URL              string `json:"url"`
	IsStyle          bool   `json:"isStyle"`
	PhraseReference  string `json:"phraseReference"`
	SubjectReference string `json:"subjectReference"`
}

// MediaFields lists result keys that carry media items. Plural keys hold lists.
var MediaFields = []string{"images", "image", "video", "audio", "videos", "audios"}

// Media item keys added by rehosting.
const (
	MediaKeyURL              = "url"
	MediaKeyOriginalURL      = "original_url"
	MediaKeyStoredURL        = "stored_url"
	MediaKeyWebhookProcessed = "webhook_processed"
)
