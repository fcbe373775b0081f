package util

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"modelplayground/internal/core"

	"github.com/bytedance/sonic"
)

// MarshalJSON wraps Sonic for performance
func MarshalJSON(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// NewJSONRequest creates an outbound provider request with a JSON body and an optional auth header value
func NewJSONRequest(ctx context.Context, method, rawURL string, payload any, authorization string) (*http.Request, error) {
	var body io.Reader

	if payload != nil {
		payloadBytes, err := MarshalJSON(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewBuffer(payloadBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}

	if payload != nil {
		req.Header.Set(core.HeaderContentType, core.ContentTypeJSON)
	}
	req.Header.Set(core.HeaderAccept, core.ContentTypeJSON)
	if authorization != "" {
		req.Header.Set(core.HeaderAuthorization, authorization)
	}

	return req, nil
}

// ValidateMediaURL rejects media references that are not absolute http(s) URLs
func ValidateMediaURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("invalid media url: empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid media url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("blocked media url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid media url: missing host")
	}
	return nil
}

// TruncateString truncates string and adds replacement text in the middle
func TruncateString(s string, prefixLen, suffixLen int, replacement string) string {
	if len(s) > prefixLen+suffixLen {
		return s[:prefixLen] + replacement + s[len(s)-suffixLen:]
	}
	return s
}

// GetEnvWithDefault gets env var with default value
func GetEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvBool reads a boolean env var; unset or unparsable values yield the default
func GetEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// GetEnvInt reads a positive integer env var; anything else yields the default
func GetEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}

// MaskSecret shortens a credential for logs
func MaskSecret(secret string) string {
	if secret == "" {
		return "<unset>"
	}
	return TruncateString(secret, 3, 3, "***")
}
