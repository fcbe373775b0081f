package rehost

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"modelplayground/internal/core"
	"modelplayground/internal/util"
	"modelplayground/internal/validate"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/iter"
)

// WebhookPrefix marks objects stored while handling a provider webhook.
const WebhookPrefix = "webhook_"

var extensions = map[string]string{
	"image/jpeg":               "jpg",
	"image/png":                "png",
	"image/gif":                "gif",
	"image/webp":               "webp",
	"video/mp4":                "mp4",
	"video/webm":               "webm",
	"video/quicktime":          "mov",
	"audio/wav":                "wav",
	"audio/mpeg":               "mp3",
	"audio/mp4":                "m4a",
	"application/octet-stream": "bin",
}

// ExtensionFor maps a content type to a file extension, falling back to "bin".
func ExtensionFor(contentType string) string {
	if ext, ok := extensions[validate.BaseMediaType(contentType)]; ok {
		return ext
	}
	return "bin"
}

// FileName builds {model}_{requestID}_{field}_{unixMillis}.{ext}, with slashes in the model
// replaced by dashes. field already carries the array index when there is one.
func FileName(model, requestID, field string, ts time.Time, ext string) string {
	return fmt.Sprintf("%s_%s_%s_%d.%s",
		strings.ReplaceAll(model, "/", "-"), requestID, field, ts.UnixMilli(), ext)
}

// Options changes how a batch is stored and marked.
type Options struct {
	// Webhook prefixes stored names and marks each rehosted item as webhook_processed.
	Webhook bool
}

// Rehoster copies provider-hosted media into the configured blob store.
type Rehoster struct {
	client  *http.Client
	store   core.BlobStore
	now     func() time.Time
	logger  core.Logger
	metrics core.MetricsCollector
}

// New creates a Rehoster. A nil client uses http.DefaultClient.
func New(client *http.Client, store core.BlobStore, logger core.Logger, metrics core.MetricsCollector) *Rehoster {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = &core.NopLogger{}
	}
	if metrics == nil {
		metrics = &core.NopMetrics{}
	}
	return &Rehoster{
		client:  client,
		store:   store,
		now:     time.Now,
		logger:  logger,
		metrics: metrics,
	}
}

// SetClock overrides the timestamp source used for object names.
func (r *Rehoster) SetClock(now func() time.Time) {
	r.now = now
}

type fieldResult struct {
	field string
	value any
}

// Process returns a shallow copy of result whose media items carry original_url and
// stored_url. Failures never surface: a failed item keeps its original URL as stored_url.
// Work continues after ctx is canceled; only ctx values are used.
func (r *Rehoster) Process(ctx context.Context, result map[string]any, model, requestID string, opts Options) map[string]any {
	if result == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	out := make(map[string]any, len(result))
	for k, v := range result {
		out[k] = v
	}

	var present []string
	for _, field := range core.MediaFields {
		if v, ok := result[field]; ok && v != nil {
			present = append(present, field)
		}
	}
	if len(present) == 0 {
		return out
	}

	results := make([]fieldResult, len(present))
	var wg conc.WaitGroup
	for i, field := range present {
		wg.Go(func() {
			results[i] = fieldResult{field: field, value: r.processField(ctx, result[field], model, requestID, field, opts)}
		})
	}
	wg.Wait()

	for _, fr := range results {
		out[fr.field] = fr.value
	}
	return out
}

func (r *Rehoster) processField(ctx context.Context, value any, model, requestID, field string, opts Options) any {
	items, ok := value.([]any)
	if !ok {
		return r.processItem(ctx, value, model, requestID, field, opts)
	}

	type indexed struct {
		index int
		item  any
	}
	input := make([]indexed, len(items))
	for i, item := range items {
		input[i] = indexed{index: i, item: item}
	}
	return iter.Map(input, func(in *indexed) any {
		return r.processItem(ctx, in.item, model, requestID, field+"_"+strconv.Itoa(in.index), opts)
	})
}

func (r *Rehoster) processItem(ctx context.Context, item any, model, requestID, label string, opts Options) any {
	m, ok := item.(map[string]any)
	if !ok {
		return item
	}
	source, _ := m[core.MediaKeyURL].(string)
	if source == "" {
		return item
	}

	out := make(map[string]any, len(m)+3)
	for k, v := range m {
		out[k] = v
	}
	out[core.MediaKeyOriginalURL] = source

	stored, err := r.rehostURL(ctx, source, model, requestID, label, opts)
	if err != nil {
		r.logger.Warn("Failed to rehost %s for %s/%s: %v", label, model, requestID, err)
		r.metrics.RecordRehost(false)
		stored = source
	} else {
		r.metrics.RecordRehost(true)
	}
	out[core.MediaKeyStoredURL] = stored
	if opts.Webhook {
		out[core.MediaKeyWebhookProcessed] = true
	}
	return out
}

// RehostURLs stores bare output URLs and returns them as {url, stored_url} items, in order.
func (r *Rehoster) RehostURLs(ctx context.Context, urls []string, model, requestID string) []map[string]any {
	ctx = context.WithoutCancel(ctx)

	type indexed struct {
		index int
		url   string
	}
	input := make([]indexed, len(urls))
	for i, u := range urls {
		input[i] = indexed{index: i, url: u}
	}

	return iter.Map(input, func(in *indexed) map[string]any {
		stored, err := r.rehostURL(ctx, in.url, model, requestID, "image_"+strconv.Itoa(in.index), Options{})
		if err != nil {
			r.logger.Warn("Failed to rehost output %d for %s/%s: %v", in.index, model, requestID, err)
			r.metrics.RecordRehost(false)
			stored = in.url
		} else {
			r.metrics.RecordRehost(true)
		}
		return map[string]any{core.MediaKeyURL: in.url, core.MediaKeyStoredURL: stored}
	})
}

func (r *Rehoster) rehostURL(ctx context.Context, source, model, requestID, label string, opts Options) (string, error) {
	if r.store == nil {
		return "", fmt.Errorf("no blob store configured")
	}
	if err := util.ValidateMediaURL(source); err != nil {
		return "", err
	}

	data, contentType, err := r.fetch(ctx, source)
	if err != nil {
		return "", err
	}

	name := FileName(model, requestID, label, r.now(), ExtensionFor(contentType))
	if opts.Webhook {
		name = WebhookPrefix + name
	}
	if contentType == "" {
		contentType = core.ContentTypeOctetStream
	}
	stored, err := r.store.Put(ctx, name, data, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to store %s: %w", name, err)
	}
	r.logger.Debug("Rehosted %s -> %s", util.TruncateString(source, 48, 24, "..."), stored)
	return stored, nil
}

func (r *Rehoster) fetch(ctx context.Context, source string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create fetch request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch media: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("failed to fetch media: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, core.MaxMediaSizeBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media: %w", err)
	}
	if int64(len(data)) > core.MaxMediaSizeBytes {
		return nil, "", fmt.Errorf("media exceeds %d bytes", core.MaxMediaSizeBytes)
	}

	return data, resp.Header.Get(core.HeaderContentType), nil
}
