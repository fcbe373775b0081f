package core

// Default config constants
const (
	DefaultPort                = "7860"
	DefaultGinMode             = "release"
	DefaultModelReferencesPath = "ModelReferences.md"
	DefaultSchemasDir          = "fal_schemas"
	DefaultReplicateModel      = "tylerbishopdev/tyler"
	DefaultBlobLocalDir        = "blobs"
	DefaultSupabaseBucket      = "playground-media"
	CORSMaxAge                 = "86400"
	DefaultRateLimit           = 120
)

// Content type and header constants
const (
	ContentTypeJSON        = "application/json"
	ContentTypeOctetStream = "application/octet-stream"
	HeaderContentType      = "Content-Type"
	HeaderAuthorization    = "Authorization"
	HeaderAccept           = "Accept"
	HeaderPrefer           = "Prefer"
	AuthBearerPrefix       = "Bearer "
	AuthKeyPrefix          = "Key "
	PreferWait             = "wait"
)

// Fal webhook headers
const (
	HeaderFalWebhookRequestID = "X-Fal-Webhook-Request-Id"
	HeaderFalWebhookUserID    = "X-Fal-Webhook-User-Id"
	HeaderFalWebhookTimestamp = "X-Fal-Webhook-Timestamp"
	HeaderFalWebhookSignature = "X-Fal-Webhook-Signature"
)

// Provider identifiers
const (
	ProviderFal       = "fal"
	ProviderReplicate = "replicate"
)

// Provider base URLs
const (
	FalQueueBaseURL   = "https://queue.fal.run"
	ReplicateBaseURL  = "https://api.replicate.com/v1"
	VercelBlobBaseURL = "https://blob.vercel-storage.com"
)

// Fal queue statuses as observed by clients
const (
	QueueStatusInQueue    = "IN_QUEUE"
	QueueStatusInProgress = "IN_PROGRESS"
	QueueStatusCompleted  = "COMPLETED"
	QueueStatusFailed     = "FAILED"
)

// Fal webhook delivery statuses
const (
	WebhookStatusOK    = "OK"
	WebhookStatusError = "ERROR"
)

// Replicate prediction statuses
const (
	PredictionStarting   = "starting"
	PredictionProcessing = "processing"
	PredictionSucceeded  = "succeeded"
	PredictionFailed     = "failed"
	PredictionCanceled   = "canceled"
)

// Blob backends
const (
	BlobBackendVercel   = "vercel"
	BlobBackendSupabase = "supabase"
	BlobBackendLocal    = "local"
)

// LorasCategory is the synthetic category under which LoRA names are listed.
const LorasCategory = "LoRAs"

// UnknownValue is used when webhook metadata does not name a model or request.
const UnknownValue = "unknown"
