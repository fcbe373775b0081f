package blob

import (
	"bytes"
	"context"
	"fmt"

	"modelplayground/internal/core"

	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"
)

// SupabaseStore writes objects into a public Supabase Storage bucket.
type SupabaseStore struct {
	client *supabase.Client
	bucket string
	logger core.Logger
}

// NewSupabaseStore requires SUPABASE_URL and SUPABASE_KEY.
func NewSupabaseStore(url, key, bucket string, logger core.Logger) (*SupabaseStore, error) {
	if url == "" || key == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_KEY environment variables are required for the supabase blob backend")
	}
	if bucket == "" {
		bucket = core.DefaultSupabaseBucket
	}
	client, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &SupabaseStore{client: client, bucket: bucket, logger: logger}, nil
}

// Put uploads data and returns the bucket's public URL for it. The storage client has no
// context support, so ctx is only checked before the upload starts.
func (s *SupabaseStore) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	path, err := objectName(name)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	upsert := true
	opts := storage_go.FileOptions{Upsert: &upsert}
	if contentType != "" {
		opts.ContentType = &contentType
	}

	if _, err := s.client.Storage.UploadFile(s.bucket, path, bytes.NewReader(data), opts); err != nil {
		return "", fmt.Errorf("supabase upload failed: %w", err)
	}

	public := s.client.Storage.GetPublicUrl(s.bucket, path)
	if public.SignedURL == "" {
		return "", fmt.Errorf("supabase returned no public url for %s", path)
	}
	s.logger.Debug("Stored %s in bucket %s (%d bytes)", path, s.bucket, len(data))
	return public.SignedURL, nil
}
