package server

import (
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"modelplayground/internal/core"
	"modelplayground/internal/validate"
	"modelplayground/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const uploadPrefix = "uploads/"

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// uploadName keeps a readable form of the client's file name behind a unique prefix.
func uploadName(original string) string {
	base := filepath.Base(strings.ReplaceAll(original, `\`, "/"))
	base = strings.Trim(unsafeNameChars.ReplaceAllString(base, "-"), "-.")
	if base == "" {
		base = "file"
	}
	return uploadPrefix + uuid.NewString() + "-" + base
}

func (s *Server) uploadFile(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "No file provided")
		return
	}

	// a specific declared type is checked before the body is read; generic ones are sniffed below
	declared := header.Header.Get(core.HeaderContentType)
	if base := validate.BaseMediaType(declared); base != "" && base != core.ContentTypeOctetStream {
		if err := s.media.ValidateUpload(declared, header.Size); err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	file, err := header.Open()
	if err != nil {
		s.config.Logger.Error("Failed to open upload %s: %v", header.Filename, err)
		respondError(c, http.StatusInternalServerError, "Failed to read uploaded file")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, core.MaxUploadSizeBytes+1))
	if err != nil {
		s.config.Logger.Error("Failed to read upload %s: %v", header.Filename, err)
		respondError(c, http.StatusInternalServerError, "Failed to read uploaded file")
		return
	}

	contentType := validate.DetectContentType(declared, data)
	if err := s.media.ValidateUpload(contentType, int64(len(data))); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	url, err := s.store.Put(c.Request.Context(), uploadName(header.Filename), data, contentType)
	if err != nil {
		s.config.Logger.Error("Failed to store upload %s: %v", header.Filename, err)
		respondError(c, http.StatusInternalServerError, "Failed to upload file")
		return
	}

	s.config.Logger.Info("Stored upload %s (%s, %d bytes)", header.Filename, contentType, len(data))
	c.JSON(http.StatusOK, gin.H{"success": true, "url": url})
}

func (s *Server) falWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Failed to read webhook body")
		return
	}

	if s.verifier != nil {
		if err := s.verifier.Verify(c.Request.Context(), c.Request.Header, body); err != nil {
			s.config.Logger.Warn("Rejected webhook from %s: %v", c.ClientIP(), err)
			respondError(c, http.StatusUnauthorized, "Invalid webhook signature")
			return
		}
	}

	delivery, err := webhook.ParseDelivery(body)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	c.JSON(http.StatusOK, s.processor.Handle(c.Request.Context(), delivery, c.Query("model")))
}
