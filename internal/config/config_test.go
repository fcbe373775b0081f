package config

import (
	"testing"

	"modelplayground/internal/core"
)

func TestLoadServerConfigFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "GIN_MODE", "PUBLIC_BASE_URL", "MODEL_REFERENCES_PATH", "SCHEMAS_DIR", "RATE_LIMIT",
		"FAL_KEY", "REPLICATE_API_TOKEN", "REPLICATE_MODEL", "BLOB_BACKEND", "FAL_WEBHOOK_VERIFY",
		"FAL_JWKS_URL", "SUPABASE_BUCKET", "BLOB_LOCAL_DIR",
	} {
		t.Setenv(key, "")
	}

	cfg, err := LoadServerConfigFromEnv(&core.NopLogger{})
	if err != nil {
		t.Fatalf("LoadServerConfigFromEnv failed: %v", err)
	}

	if cfg.Port != core.DefaultPort {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.ModelReferencesPath != core.DefaultModelReferencesPath || cfg.SchemasDir != core.DefaultSchemasDir {
		t.Errorf("paths = %q, %q", cfg.ModelReferencesPath, cfg.SchemasDir)
	}
	if cfg.RateLimit != core.DefaultRateLimit {
		t.Errorf("RateLimit = %d", cfg.RateLimit)
	}
	if cfg.Providers.ReplicateModel != core.DefaultReplicateModel {
		t.Errorf("ReplicateModel = %q", cfg.Providers.ReplicateModel)
	}
	if cfg.Providers.FalKey != "" || cfg.Providers.ReplicateToken != "" {
		t.Error("credentials should be empty")
	}
	if !cfg.Webhook.Verify {
		t.Error("webhook verification should default to on")
	}
	if cfg.Webhook.JWKSURL != core.DefaultFalJWKSURL {
		t.Errorf("JWKSURL = %q", cfg.Webhook.JWKSURL)
	}
	if cfg.Blob.LocalDir != core.DefaultBlobLocalDir || cfg.Blob.SupabaseBucket != core.DefaultSupabaseBucket {
		t.Errorf("blob = %+v", cfg.Blob)
	}
}

func TestLoadServerConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("PUBLIC_BASE_URL", "https://play.example.com/")
	t.Setenv("RATE_LIMIT", "30")
	t.Setenv("FAL_KEY", "fal-secret")
	t.Setenv("REPLICATE_API_TOKEN", "r8_secret")
	t.Setenv("FAL_WEBHOOK_VERIFY", "false")
	t.Setenv("BLOB_BACKEND", "supabase")

	cfg, err := LoadServerConfigFromEnv(&core.NopLogger{})
	if err != nil {
		t.Fatalf("LoadServerConfigFromEnv failed: %v", err)
	}

	if cfg.Port != "9000" || cfg.RateLimit != 30 {
		t.Errorf("port=%q rate=%d", cfg.Port, cfg.RateLimit)
	}
	if cfg.PublicBaseURL != "https://play.example.com" {
		t.Errorf("PublicBaseURL should lose trailing slash, got %q", cfg.PublicBaseURL)
	}
	if cfg.Providers.FalKey != "fal-secret" || cfg.Providers.ReplicateToken != "r8_secret" {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if cfg.Webhook.Verify {
		t.Error("FAL_WEBHOOK_VERIFY=false should disable verification")
	}
	if cfg.Blob.Backend != "supabase" {
		t.Errorf("Backend = %q", cfg.Blob.Backend)
	}
}

func TestLoadServerConfigFromEnv_InvalidRateLimit(t *testing.T) {
	t.Setenv("RATE_LIMIT", "-5")

	cfg, err := LoadServerConfigFromEnv(&core.NopLogger{})
	if err != nil {
		t.Fatalf("LoadServerConfigFromEnv failed: %v", err)
	}
	if cfg.RateLimit != core.DefaultRateLimit {
		t.Errorf("RateLimit = %d, want default", cfg.RateLimit)
	}
}

func TestWebhookURL(t *testing.T) {
	cfg := ServerConfig{}
	if got := cfg.WebhookURL("fal-ai/flux"); got != "" {
		t.Errorf("no public url should disable webhooks, got %q", got)
	}

	cfg.PublicBaseURL = "https://play.example.com"
	want := "https://play.example.com/api/webhooks/fal?model=fal-ai%2Fflux"
	if got := cfg.WebhookURL("fal-ai/flux"); got != want {
		t.Errorf("WebhookURL = %q, want %q", got, want)
	}
}

func TestDefaultHTTPClientSettings(t *testing.T) {
	settings := DefaultHTTPClientSettings()
	if settings.MaxIdleConns <= 0 {
		t.Error("MaxIdleConns should be positive")
	}
	if settings.RequestTimeout <= 0 {
		t.Error("RequestTimeout should be positive")
	}
}
