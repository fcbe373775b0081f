package validate

import (
	"fmt"
	"mime"
	"strings"

	"modelplayground/internal/core"

	"github.com/gabriel-vasile/mimetype"
)

// SupportedUploadTypes lists the content types accepted by the upload endpoint.
var SupportedUploadTypes = []string{
	"image/jpeg",
	"image/jpg",
	"image/png",
	"image/gif",
	"image/webp",
	"video/mp4",
	"video/quicktime",
	"video/webm",
	"audio/wav",
	"audio/mpeg",
	"audio/mp3",
	"audio/mp4",
}

// MediaValidator checks user-supplied media before it is stored.
type MediaValidator struct {
	maxSize int64
}

// NewMediaValidator creates a validator with the default upload size cap.
func NewMediaValidator() *MediaValidator {
	return &MediaValidator{maxSize: core.MaxUploadSizeBytes}
}

// ValidateUpload checks the declared content type against the allow-list and the size cap.
func (v *MediaValidator) ValidateUpload(contentType string, size int64) error {
	if !IsSupportedUploadType(contentType) {
		return fmt.Errorf("File type %s is not supported", contentType)
	}
	if size > v.maxSize {
		return fmt.Errorf("file size %d bytes exceeds maximum allowed size %d bytes", size, v.maxSize)
	}
	return nil
}

// IsSupportedUploadType ignores media type parameters and letter case.
func IsSupportedUploadType(contentType string) bool {
	base := BaseMediaType(contentType)
	for _, t := range SupportedUploadTypes {
		if t == base {
			return true
		}
	}
	return false
}

// BaseMediaType strips parameters such as "; charset=utf-8" and lower-cases the result.
func BaseMediaType(contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// DetectContentType returns declared unless it is empty or generic, in which case the
// type is sniffed from data.
func DetectContentType(declared string, data []byte) string {
	base := BaseMediaType(declared)
	if base != "" && base != core.ContentTypeOctetStream {
		return base
	}
	if len(data) == 0 {
		return core.ContentTypeOctetStream
	}
	return BaseMediaType(mimetype.Detect(data).String())
}
