package server

import (
	"errors"
	"net/http"

	"modelplayground/internal/catalog"
	"modelplayground/internal/core"
	"modelplayground/internal/schema"

	"github.com/gin-gonic/gin"
)

// loadCatalog reads the reference document on every call so edits show up without a restart.
// A missing or unreadable document yields an empty catalog.
func (s *Server) loadCatalog() *catalog.Catalog {
	cat, err := catalog.LoadFile(s.config.ModelReferencesPath)
	if err != nil {
		s.config.Logger.Error("Failed to load model references: %v", err)
		return catalog.Parse("")
	}
	return cat
}

func (s *Server) listModels(c *gin.Context) {
	cat := s.loadCatalog()
	entries := cat.Entries()

	categories := cat.Categories
	if categories == nil {
		categories = []string{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"models":     entries,
		"categories": categories,
		"total":      len(entries),
	})
}

func (s *Server) listLoraOptions(c *gin.Context) {
	loras := s.loadCatalog().Loras
	if loras == nil {
		loras = []core.LoraOption{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "loraOptions": loras})
}

func (s *Server) getModelSchema(c *gin.Context) {
	model := c.Param("model")

	doc, err := s.schemas.Load(model)
	if err != nil {
		// an unreadable or malformed file is reported like a missing one
		if !errors.Is(err, schema.ErrNotFound) {
			s.config.Logger.Error("Failed to load schema for %s: %v", model, err)
		}
		respondError(c, http.StatusNotFound, "Schema not found for model: "+model)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"model":            model,
		"endpointId":       doc.EndpointID,
		"category":         doc.Category,
		"documentationUrl": doc.DocumentationURL,
		"playgroundUrl":    doc.PlaygroundURL,
		"inputSchema":      doc.InputSchema,
		"outputSchema":     doc.OutputSchema,
		"fullSchema":       doc.Full,
		"fields":           schema.Fields(doc.InputSchema),
	})
}
