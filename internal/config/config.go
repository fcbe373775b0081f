package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"modelplayground/internal/core"
	"modelplayground/internal/util"
)

// ServerConfig server configuration
type ServerConfig struct {
	Port                string
	GinMode             string
	PublicBaseURL       string
	ModelReferencesPath string
	SchemasDir          string
	CORSAllowOrigin     string
	RateLimit           int
	StatsFilePath       string
	RedisURL            string
	Providers           ProviderSettings
	Blob                BlobSettings
	Webhook             WebhookSettings
	HTTPClientSettings  HTTPClientSettings
	Storage             core.StorageInterface
	Logger              core.Logger
}

// ProviderSettings holds inference provider credentials. Empty values are reported per request.
// Zero poll settings fall back to the gateway defaults.
type ProviderSettings struct {
	FalKey                   string
	FalBaseURL               string
	ReplicateToken           string
	ReplicateBaseURL         string
	ReplicateModel           string
	ReplicatePollInterval    time.Duration
	ReplicateMaxPollAttempts int
}

// BlobSettings selects and configures the media store.
type BlobSettings struct {
	Backend        string
	VercelToken    string
	VercelBaseURL  string
	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string
	LocalDir       string
}

// WebhookSettings configures inbound webhook verification.
type WebhookSettings struct {
	Verify  bool
	JWKSURL string
}

// HTTPClientSettings HTTP client configuration
type HTTPClientSettings struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
	RequestTimeout      time.Duration
}

// DefaultHTTPClientSettings default HTTP client settings
func DefaultHTTPClientSettings() HTTPClientSettings {
	return HTTPClientSettings{
		MaxIdleConns:        core.HTTPMaxIdleConns,
		MaxIdleConnsPerHost: core.HTTPMaxIdleConnsPerHost,
		MaxConnsPerHost:     core.HTTPMaxConnsPerHost,
		IdleConnTimeout:     core.HTTPIdleConnTimeout,
		TLSHandshakeTimeout: core.HTTPTLSHandshakeTimeout,
		RequestTimeout:      core.HTTPRequestTimeout,
	}
}

// LoadServerConfigFromEnv loads server config from environment variables
func LoadServerConfigFromEnv(logger core.Logger) (ServerConfig, error) {
	rateLimit := util.GetEnvInt("RATE_LIMIT", core.DefaultRateLimit)
	if raw := os.Getenv("RATE_LIMIT"); raw != "" && raw != strconv.Itoa(rateLimit) {
		logger.Warn("Invalid RATE_LIMIT value '%s', using default %d", raw, core.DefaultRateLimit)
	}

	config := ServerConfig{
		Port:                util.GetEnvWithDefault("PORT", core.DefaultPort),
		GinMode:             util.GetEnvWithDefault("GIN_MODE", core.DefaultGinMode),
		PublicBaseURL:       strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		ModelReferencesPath: util.GetEnvWithDefault("MODEL_REFERENCES_PATH", core.DefaultModelReferencesPath),
		SchemasDir:          util.GetEnvWithDefault("SCHEMAS_DIR", core.DefaultSchemasDir),
		CORSAllowOrigin:     util.GetEnvWithDefault("CORS_ALLOW_ORIGIN", "*"),
		RateLimit:           rateLimit,
		StatsFilePath:       util.GetEnvWithDefault("STATS_FILE", core.StatsFilePath),
		RedisURL:            os.Getenv("REDIS_URL"),
		Providers: ProviderSettings{
			FalKey:           os.Getenv("FAL_KEY"),
			FalBaseURL:       util.GetEnvWithDefault("FAL_QUEUE_URL", core.FalQueueBaseURL),
			ReplicateToken:   os.Getenv("REPLICATE_API_TOKEN"),
			ReplicateBaseURL: util.GetEnvWithDefault("REPLICATE_API_URL", core.ReplicateBaseURL),
			ReplicateModel:   util.GetEnvWithDefault("REPLICATE_MODEL", core.DefaultReplicateModel),
		},
		Blob: BlobSettings{
			Backend:        os.Getenv("BLOB_BACKEND"),
			VercelToken:    os.Getenv("BLOB_READ_WRITE_TOKEN"),
			VercelBaseURL:  util.GetEnvWithDefault("BLOB_API_URL", core.VercelBlobBaseURL),
			SupabaseURL:    os.Getenv("SUPABASE_URL"),
			SupabaseKey:    os.Getenv("SUPABASE_KEY"),
			SupabaseBucket: util.GetEnvWithDefault("SUPABASE_BUCKET", core.DefaultSupabaseBucket),
			LocalDir:       util.GetEnvWithDefault("BLOB_LOCAL_DIR", core.DefaultBlobLocalDir),
		},
		Webhook: WebhookSettings{
			Verify:  util.GetEnvBool("FAL_WEBHOOK_VERIFY", true),
			JWKSURL: util.GetEnvWithDefault("FAL_JWKS_URL", core.DefaultFalJWKSURL),
		},
		HTTPClientSettings: DefaultHTTPClientSettings(),
	}

	config.logSummary(logger)
	return config, nil
}

func (c ServerConfig) logSummary(logger core.Logger) {
	if c.Providers.FalKey == "" {
		logger.Warn("FAL_KEY is not set; queue endpoints will return a configuration error")
	} else {
		logger.Info("Fal key loaded (%s)", util.MaskSecret(c.Providers.FalKey))
	}
	if c.Providers.ReplicateToken == "" {
		logger.Warn("REPLICATE_API_TOKEN is not set; the replicate endpoint will return a configuration error")
	} else {
		logger.Info("Replicate token loaded (%s), model %s", util.MaskSecret(c.Providers.ReplicateToken), c.Providers.ReplicateModel)
	}
	if !c.Webhook.Verify {
		logger.Warn("FAL_WEBHOOK_VERIFY=false: inbound webhooks are accepted without signature verification")
	}
	if c.PublicBaseURL == "" {
		logger.Info("PUBLIC_BASE_URL is not set; submissions will not request webhooks")
	}
}

// WebhookURL returns the callback URL for a submitted model, or "" when the server has no public address.
func (c ServerConfig) WebhookURL(model string) string {
	if c.PublicBaseURL == "" {
		return ""
	}
	return c.PublicBaseURL + "/api/webhooks/fal?model=" + url.QueryEscape(model)
}
