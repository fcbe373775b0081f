package blob

import (
	"fmt"
	"net/http"
	"strings"

	"modelplayground/internal/core"
)

// Config selects and configures a storage backend.
type Config struct {
	Backend        string
	VercelToken    string
	VercelBaseURL  string
	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string
	LocalDir       string
	PublicBaseURL  string
	HTTPClient     *http.Client
	Logger         core.Logger
}

// ResolveBackend returns the configured backend, or infers one from the credentials present.
func (c Config) ResolveBackend() string {
	if b := strings.ToLower(strings.TrimSpace(c.Backend)); b != "" {
		return b
	}
	switch {
	case c.VercelToken != "":
		return core.BlobBackendVercel
	case c.SupabaseURL != "" && c.SupabaseKey != "":
		return core.BlobBackendSupabase
	default:
		return core.BlobBackendLocal
	}
}

// New builds the store for the resolved backend.
func New(cfg Config) (core.BlobStore, error) {
	if cfg.Logger == nil {
		cfg.Logger = &core.NopLogger{}
	}
	backend := cfg.ResolveBackend()

	switch backend {
	case core.BlobBackendVercel:
		return NewVercelStore(cfg.VercelToken, cfg.VercelBaseURL, cfg.HTTPClient, cfg.Logger)
	case core.BlobBackendSupabase:
		return NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseBucket, cfg.Logger)
	case core.BlobBackendLocal:
		return NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL, cfg.Logger)
	default:
		return nil, fmt.Errorf("unknown BLOB_BACKEND %q", cfg.Backend)
	}
}

// objectName rejects names that would escape the store's namespace.
func objectName(name string) (string, error) {
	name = strings.TrimLeft(strings.ReplaceAll(name, "\\", "/"), "/")
	if name == "" {
		return "", fmt.Errorf("empty object name")
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." || segment == "." {
			return "", fmt.Errorf("invalid object name %q", name)
		}
	}
	return name, nil
}
