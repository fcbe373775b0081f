package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"modelplayground/internal/cache"
	"modelplayground/internal/core"

	"github.com/bytedance/sonic"
)

// ErrNotFound is returned when no schema file exists for a model.
var ErrNotFound = errors.New("schema not found")

const fileSuffix = "-schema.json"

var whitespaceRun = regexp.MustCompile(`\s+`)

// Metadata is the provider extension block under info["x-fal-metadata"].
type Metadata struct {
	EndpointID       string `json:"endpointId"`
	Category         string `json:"category"`
	DocumentationURL string `json:"documentationUrl"`
	PlaygroundURL    string `json:"playgroundUrl"`
}

// Document is a parsed per-model schema file.
type Document struct {
	Metadata
	InputSchemaName  string
	OutputSchemaName string
	InputSchema      map[string]any
	OutputSchema     map[string]any
	Full             map[string]any
}

type rawDocument struct {
	Info struct {
		Metadata Metadata `json:"x-fal-metadata"`
	} `json:"info"`
	Components struct {
		Schemas map[string]map[string]any `json:"schemas"`
	} `json:"components"`
}

// FileName maps a model name to its schema file name.
func FileName(model string) string {
	name := strings.ReplaceAll(model, "/", "-")
	name = whitespaceRun.ReplaceAllString(name, "-")
	return strings.ToLower(name) + fileSuffix
}

// Parse decodes a schema document and picks its input and output object schemas.
func Parse(data []byte) (*Document, error) {
	var raw rawDocument
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid schema document: %w", err)
	}
	var full map[string]any
	if err := sonic.Unmarshal(data, &full); err != nil {
		return nil, fmt.Errorf("invalid schema document: %w", err)
	}

	doc := &Document{Metadata: raw.Info.Metadata, Full: full}
	doc.InputSchemaName = pickSchema(raw.Components.Schemas, "Input", "Output")
	doc.OutputSchemaName = pickSchema(raw.Components.Schemas, "Output", "Input")
	if doc.InputSchemaName != "" {
		doc.InputSchema = raw.Components.Schemas[doc.InputSchemaName]
	}
	if doc.OutputSchemaName != "" {
		doc.OutputSchema = raw.Components.Schemas[doc.OutputSchemaName]
	}
	return doc, nil
}

// pickSchema returns the first key, in sorted order, containing want but not avoid.
func pickSchema(schemas map[string]map[string]any, want, avoid string) string {
	keys := make([]string, 0, len(schemas))
	for key := range schemas {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if strings.Contains(key, want) && !strings.Contains(key, avoid) {
			return key
		}
	}
	return ""
}

// Loader resolves schema files under a directory. Parsed documents are cached until the file changes.
type Loader struct {
	dir    string
	cache  *cache.CacheService
	logger core.Logger
}

// NewLoader creates a loader rooted at dir. cache may be nil.
func NewLoader(dir string, cacheService *cache.CacheService, logger core.Logger) *Loader {
	return &Loader{dir: dir, cache: cacheService, logger: logger}
}

// Path returns the schema file path for a model.
func (l *Loader) Path(model string) string {
	return filepath.Join(l.dir, FileName(model))
}

// Load returns the schema for a model or ErrNotFound.
func (l *Loader) Load(model string) (*Document, error) {
	path := l.Path(model)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w for model: %s", ErrNotFound, model)
		}
		return nil, fmt.Errorf("failed to stat schema %s: %w", path, err)
	}

	var key string
	if l.cache != nil {
		key = cache.GenerateSchemaCacheKey(path, info.ModTime())
		if cached, ok := l.cache.Get(key); ok {
			if doc, ok := cached.(*Document); ok {
				l.logger.Debug("schema cache hit: %s", cache.TruncateCacheKey(key, 80))
				return doc, nil
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		l.cache.Set(key, doc, core.SchemaCacheTTL)
	}
	return doc, nil
}
