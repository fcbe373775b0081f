package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"modelplayground/internal/core"

	"github.com/bytedance/sonic"
)

const vercelAPIVersion = "7"

type vercelPutResponse struct {
	URL         string `json:"url"`
	DownloadURL string `json:"downloadUrl"`
	Pathname    string `json:"pathname"`
	ContentType string `json:"contentType"`
}

// VercelStore writes public objects to Vercel Blob.
type VercelStore struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     core.Logger
}

// NewVercelStore requires BLOB_READ_WRITE_TOKEN.
func NewVercelStore(token, baseURL string, httpClient *http.Client, logger core.Logger) (*VercelStore, error) {
	if token == "" {
		return nil, fmt.Errorf("BLOB_READ_WRITE_TOKEN environment variable is required for the vercel blob backend")
	}
	if baseURL == "" {
		baseURL = core.VercelBlobBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &VercelStore{
		token:      token,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Put uploads data under name and returns its public URL.
func (s *VercelStore) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	pathname, err := objectName(name)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.baseURL+"/"+pathname, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create blob request: %w", err)
	}
	req.Header.Set(core.HeaderAuthorization, core.AuthBearerPrefix+s.token)
	req.Header.Set("x-api-version", vercelAPIVersion)
	req.Header.Set("x-add-random-suffix", "0")
	if contentType != "" {
		req.Header.Set("x-content-type", contentType)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("blob upload failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, core.MaxResponseBodySize))
	if err != nil {
		return "", fmt.Errorf("failed to read blob response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("blob upload error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out vercelPutResponse
	if err := sonic.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode blob response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("blob response has no url")
	}
	s.logger.Debug("Stored blob %s (%d bytes)", out.Pathname, len(data))
	return out.URL, nil
}
