package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modelplayground/internal/core"
)

// LocalStorePrefix is the URL path under which the server exposes locally stored objects.
const LocalStorePrefix = "/blobs"

// LocalStore writes objects to a directory served by the playground itself.
type LocalStore struct {
	dir           string
	publicBaseURL string
	logger        core.Logger
}

// NewLocalStore creates dir if it does not exist.
func NewLocalStore(dir, publicBaseURL string, logger core.Logger) (*LocalStore, error) {
	if dir == "" {
		dir = core.DefaultBlobLocalDir
	}
	if err := os.MkdirAll(dir, core.DirPermission); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &LocalStore{
		dir:           dir,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger,
	}, nil
}

// Dir returns the directory objects are written to.
func (s *LocalStore) Dir() string {
	return s.dir
}

// Put writes data atomically and returns the object's URL.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	objName, err := objectName(name)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target := filepath.Join(s.dir, filepath.FromSlash(objName))
	if err := os.MkdirAll(filepath.Dir(target), core.DirPermission); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, core.FilePermissionReadWrite); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize blob: %w", err)
	}

	s.logger.Debug("Stored %s locally (%d bytes, %s)", objName, len(data), contentType)
	return s.publicBaseURL + LocalStorePrefix + "/" + objName, nil
}
