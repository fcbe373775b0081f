package core

import "time"

// HTTP client config constants
const (
	HTTPMaxIdleConns          = 200
	HTTPMaxIdleConnsPerHost   = 50
	HTTPMaxConnsPerHost       = 100
	HTTPIdleConnTimeout       = 600 * time.Second
	HTTPTLSHandshakeTimeout   = 30 * time.Second
	HTTPResponseHeaderTimeout = 90 * time.Second
	HTTPExpectContinueTimeout = 5 * time.Second
	HTTPRequestTimeout        = 5 * time.Minute
)

// Cache config constants
const (
	CacheDefaultCapacity = 1000
	CacheCleanupInterval = 5 * time.Minute
	JWKSCacheTTL         = 24 * time.Hour
	SchemaCacheTTL       = 10 * time.Minute
	WebhookResultTTL     = 1 * time.Hour
	CacheKeyVersion      = "v1"
)

// Stats and monitoring constants
const (
	StatsFilePath        = "stats.json"
	MinSaveInterval      = 5 * time.Second
	HistoryBufferSize    = 1000
	HistoryBatchSize     = 100
	HistoryFlushInterval = 100 * time.Millisecond
)

// Replicate polling constants
const (
	ReplicatePollInterval    = 1 * time.Second
	ReplicateMaxPollAttempts = 120
)

// Webhook verification constants
const (
	WebhookTimestampTolerance = 5 * time.Minute
	DefaultFalJWKSURL         = "https://rest.alpha.fal.ai/.well-known/jwks.json"
)

// Response body size limits
const (
	MaxResponseBodySize = 10 * 1024 * 1024
	MaxMediaSizeBytes   = 512 * 1024 * 1024
	MaxUploadSizeBytes  = 50 * 1024 * 1024
)

// Logging config constants
const (
	MaxDebugFilePathLength = 260
	DefaultLogMaxSizeMB    = 50
	DefaultLogMaxBackups   = 3
	DefaultLogMaxAgeDays   = 14
)

// File permission constants
const (
	FilePermissionReadWrite = 0644
	DirPermission           = 0755
)

// Time format constants
const (
	TimeFormatDateTime = "2006-01-02 15:04:05"
)
