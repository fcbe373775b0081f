package server

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"modelplayground/internal/config"
	"modelplayground/internal/core"
	"modelplayground/internal/schema"
	"modelplayground/internal/storage"

	"github.com/bytedance/sonic"
)

const testReferences = `****Image generation****
- fal-ai/flux/dev
- fal-ai/recraft-v3

****Video models****
- fal-ai/kling-video/v2/master/text-to-video

LoRAs—
- "Tyler": [https://example.com/tyler.safetensors]
  Subject reference name="TYLER"
---
`

const testSchema = `{
  "info": {
    "x-fal-metadata": {
      "endpointId": "fal-ai/flux/dev",
      "category": "text-to-image",
      "documentationUrl": "https://fal.ai/models/fal-ai/flux/dev/api",
      "playgroundUrl": "https://fal.ai/models/fal-ai/flux/dev"
    }
  },
  "components": {
    "schemas": {
      "FluxDevInput": {
        "type": "object",
        "required": ["prompt"],
        "properties": {
          "prompt": {"type": "string"},
          "num_images": {"type": "integer"}
        }
      },
      "FluxDevOutput": {"type": "object", "properties": {"images": {"type": "array"}}}
    }
  }
}`

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func writeTempTestFile(t *testing.T, fileName string, content []byte) string {
	t.Helper()
	filePath := filepath.Join(t.TempDir(), fileName)
	if err := os.WriteFile(filePath, content, core.FilePermissionReadWrite); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return filePath
}

// newMediaOrigin serves a fixed PNG for every path.
func newMediaOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(core.HeaderContentType, "image/png")
		_, _ = w.Write(pngBytes)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type falFake struct {
	mu         sync.Mutex
	calls      []string
	webhookURL string
	mediaURL   string
}

func (f *falFake) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		f.mu.Unlock()

		if got := r.Header.Get(core.HeaderAuthorization); got != core.AuthKeyPrefix+"fal-test" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set(core.HeaderContentType, core.ContentTypeJSON)

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/fal-ai/flux/dev":
			f.mu.Lock()
			f.webhookURL = r.URL.Query().Get("fal_webhook")
			f.mu.Unlock()
			_, _ = io.WriteString(w, `{"request_id":"req-1","queue_position":3}`)
		case r.Method == http.MethodGet && r.URL.Path == "/fal-ai/flux/requests/req-1/status":
			_, _ = io.WriteString(w, `{"status":"IN_PROGRESS","logs":[{"message":"step 1"}],"queue_position":0}`)
		case r.Method == http.MethodGet && r.URL.Path == "/fal-ai/flux/requests/req-1":
			_, _ = io.WriteString(w, `{"images":[{"url":"`+f.mediaURL+`/out.png","content_type":"image/png"}],"seed":42}`)
		case r.Method == http.MethodPut && r.URL.Path == "/fal-ai/flux/requests/req-1/cancel":
			_, _ = io.WriteString(w, `{"status":"CANCELLATION_REQUESTED"}`)
		case r.URL.Path == "/fal-ai/broken/requests/req-1":
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"detail":"Request not found"}`)
		default:
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"detail":[{"msg":"field required"}]}`)
		}
	}
}

func (f *falFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type testEnv struct {
	server   *Server
	fal      *falFake
	media    *httptest.Server
	blobDir  string
	refsPath string
}

func newTestServer(t *testing.T, configure ...func(*config.ServerConfig)) *testEnv {
	t.Helper()

	media := newMediaOrigin(t)
	fal := &falFake{mediaURL: media.URL}
	falSrv := httptest.NewServer(fal.handler(t))
	t.Cleanup(falSrv.Close)

	refsPath := writeTempTestFile(t, "ModelReferences.md", []byte(testReferences))
	schemasDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(schemasDir, schema.FileName("fal-ai/flux/dev")), []byte(testSchema), core.FilePermissionReadWrite); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	blobDir := t.TempDir()

	st := storage.NewFileStorage(filepath.Join(t.TempDir(), "stats.json"))
	cfg := config.ServerConfig{
		Port:                "0",
		GinMode:             "test",
		PublicBaseURL:       "http://play.test",
		ModelReferencesPath: refsPath,
		SchemasDir:          schemasDir,
		RateLimit:           1000,
		Providers: config.ProviderSettings{
			FalKey:                   "fal-test",
			FalBaseURL:               falSrv.URL,
			ReplicateToken:           "r8-test",
			ReplicateModel:           core.DefaultReplicateModel,
			ReplicatePollInterval:    time.Millisecond,
			ReplicateMaxPollAttempts: 3,
		},
		Blob: config.BlobSettings{
			Backend:  core.BlobBackendLocal,
			LocalDir: blobDir,
		},
		Webhook: config.WebhookSettings{Verify: false},
		HTTPClientSettings: config.HTTPClientSettings{
			MaxIdleConns:        1,
			MaxIdleConnsPerHost: 1,
			MaxConnsPerHost:     4,
			IdleConnTimeout:     time.Second,
			TLSHandshakeTimeout: time.Second,
			RequestTimeout:      5 * time.Second,
		},
		Storage: st,
		Logger:  &core.NopLogger{},
	}
	for _, fn := range configure {
		fn(&cfg)
	}

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	t.Cleanup(func() {
		_ = server.Close()
		_ = st.Close()
	})

	return &testEnv{server: server, fal: fal, media: media, blobDir: blobDir, refsPath: refsPath}
}

func (e *testEnv) do(t *testing.T, method, target string, body io.Reader, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get(core.HeaderContentType), core.ContentTypeJSON) {
		if err := sonic.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s response: %v (%s)", method, target, err, w.Body.String())
		}
	}
	return w, out
}

func jsonHeader() http.Header {
	return http.Header{core.HeaderContentType: {core.ContentTypeJSON}}
}

func TestServerRoutes_HealthAndStats(t *testing.T) {
	env := newTestServer(t)

	w, body := env.do(t, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("/health = %d %v", w.Code, body)
	}

	w, body = env.do(t, http.MethodGet, "/api/stats", nil, nil)
	if w.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("/api/stats = %d %v", w.Code, body)
	}
	if _, ok := body["stats24h"]; !ok {
		t.Error("stats should include period stats")
	}
}

func TestServerRoutes_ListModels(t *testing.T) {
	env := newTestServer(t)

	w, body := env.do(t, http.MethodGet, "/api/models", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if total, _ := body["total"].(float64); total != 4 {
		t.Errorf("total = %v, want 3 models + 1 LoRA", body["total"])
	}
	categories, _ := body["categories"].([]any)
	if len(categories) != 3 || categories[0] != "Image generation" || categories[2] != core.LorasCategory {
		t.Errorf("categories = %v", categories)
	}

	models, _ := body["models"].([]any)
	first, _ := models[0].(map[string]any)
	if first["name"] != "fal-ai/flux/dev" || first["endpointId"] != "fal-ai/flux/dev" || first["isLora"] != false {
		t.Errorf("first model = %v", first)
	}
	last, _ := models[len(models)-1].(map[string]any)
	if last["name"] != "Tyler" || last["isLora"] != true || last["endpointId"] != nil {
		t.Errorf("lora entry = %v", last)
	}
}

func TestServerRoutes_ListModelsMissingDocument(t *testing.T) {
	env := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.ModelReferencesPath = filepath.Join(t.TempDir(), "missing.md")
	})

	w, body := env.do(t, http.MethodGet, "/api/models", nil, nil)
	if w.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("missing document should degrade to an empty list, got %d %v", w.Code, body)
	}
	if models, _ := body["models"].([]any); len(models) != 0 {
		t.Errorf("models = %v", models)
	}
	if body["total"] != float64(0) {
		t.Errorf("total = %v", body["total"])
	}
}

func TestServerRoutes_LoraOptions(t *testing.T) {
	env := newTestServer(t)

	w, body := env.do(t, http.MethodGet, "/api/lora-options", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	loras, _ := body["loraOptions"].([]any)
	if len(loras) != 1 {
		t.Fatalf("loraOptions = %v", loras)
	}
	lora, _ := loras[0].(map[string]any)
	if lora["url"] != "https://example.com/tyler.safetensors" || lora["subjectReference"] != "TYLER" {
		t.Errorf("lora = %v", lora)
	}
}

func TestServerRoutes_ModelSchema(t *testing.T) {
	env := newTestServer(t)

	w, body := env.do(t, http.MethodGet, "/api/models/"+url.PathEscape("fal-ai/flux/dev"), nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if body["model"] != "fal-ai/flux/dev" || body["endpointId"] != "fal-ai/flux/dev" || body["category"] != "text-to-image" {
		t.Errorf("schema metadata = %v", body)
	}
	fields, _ := body["fields"].([]any)
	if len(fields) != 2 {
		t.Fatalf("fields = %v", fields)
	}

	w, body = env.do(t, http.MethodGet, "/api/models/"+url.PathEscape("fal-ai/unknown"), nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown model status = %d", w.Code)
	}
	if body["error"] != "Schema not found for model: fal-ai/unknown" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestServerRoutes_MalformedSchemaDegrades(t *testing.T) {
	env := newTestServer(t)
	path := env.server.schemas.Path("fal-ai/garbled")
	if err := os.WriteFile(path, []byte(`{"openapi": "3.0", "components": `), core.FilePermissionReadWrite); err != nil {
		t.Fatal(err)
	}

	w, body := env.do(t, http.MethodGet, "/api/models/"+url.PathEscape("fal-ai/garbled"), nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 (%s)", w.Code, w.Body.String())
	}
	if body["error"] != "Schema not found for model: fal-ai/garbled" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestServerRoutes_SubmitStatusCancel(t *testing.T) {
	env := newTestServer(t)
	model := url.PathEscape("fal-ai/flux/dev")

	w, body := env.do(t, http.MethodPost, "/api/submit/"+model, strings.NewReader(`{"prompt":"a cat"}`), jsonHeader())
	if w.Code != http.StatusOK {
		t.Fatalf("submit status = %d (%s)", w.Code, w.Body.String())
	}
	if body["request_id"] != "req-1" || body["status"] != core.QueueStatusInQueue || body["model"] != "fal-ai/flux/dev" {
		t.Errorf("submit body = %v", body)
	}
	if cancelURL, _ := body["cancel_url"].(string); !strings.HasSuffix(cancelURL, "/fal-ai/flux/requests/req-1/cancel") {
		t.Errorf("cancel_url = %v", body["cancel_url"])
	}
	if _, err := time.Parse(time.RFC3339Nano, body["submitted_at"].(string)); err != nil {
		t.Errorf("submitted_at: %v", err)
	}
	wantHook := "http://play.test/api/webhooks/fal?model=fal-ai%2Fflux%2Fdev"
	if env.fal.webhookURL != wantHook {
		t.Errorf("webhook = %q, want %q", env.fal.webhookURL, wantHook)
	}

	w, body = env.do(t, http.MethodGet, "/api/submit/"+model+"?request_id=req-1", nil, nil)
	if w.Code != http.StatusOK || body["status"] != core.QueueStatusInProgress {
		t.Fatalf("status = %d %v", w.Code, body)
	}
	if logs, _ := body["logs"].([]any); len(logs) != 1 {
		t.Errorf("logs = %v", body["logs"])
	}

	w, body = env.do(t, http.MethodDelete, "/api/submit/"+model+"?request_id=req-1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel = %d %v", w.Code, body)
	}
	result, _ := body["result"].(map[string]any)
	if result["status"] != "CANCELLATION_REQUESTED" {
		t.Errorf("cancel result = %v", body)
	}
}

func TestServerRoutes_SubmitRejections(t *testing.T) {
	env := newTestServer(t)
	model := url.PathEscape("fal-ai/flux/dev")

	tests := []struct {
		name   string
		target string
		body   string
		status int
		errMsg string
	}{
		{"empty body", "/api/submit/" + model, "", http.StatusBadRequest, "Request body is required"},
		{"invalid json", "/api/submit/" + model, "{oops", http.StatusBadRequest, "Request body is required"},
		{"array body", "/api/submit/" + model, "[1,2]", http.StatusBadRequest, "Request body is required"},
		{"schema violation", "/api/submit/" + model, `{"num_images":"many"}`, http.StatusBadRequest, ""},
		{"provider 422", "/api/submit/" + url.PathEscape("fal-ai/other"), `{"prompt":"x"}`, http.StatusUnprocessableEntity, "field required"},
		{"model without owner", "/api/submit/flux", `{"prompt":"x"}`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := env.do(t, http.MethodPost, tt.target, strings.NewReader(tt.body), jsonHeader())
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			if body["success"] != false {
				t.Errorf("success = %v", body["success"])
			}
			if tt.errMsg != "" && body["error"] != tt.errMsg {
				t.Errorf("error = %v, want %q", body["error"], tt.errMsg)
			}
		})
	}
}

func TestServerRoutes_InvalidModelIDIsLocal(t *testing.T) {
	env := newTestServer(t)

	for _, target := range []string{"/api/submit/flux", "/api/results/flux/req-1", "/api/submit/flux?request_id=req-1"} {
		method := http.MethodGet
		var reqBody io.Reader
		if target == "/api/submit/flux" {
			method = http.MethodPost
			reqBody = strings.NewReader(`{"prompt":"x"}`)
		}
		w, body := env.do(t, method, target, reqBody, jsonHeader())
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s %s: status = %d, want 400 (%s)", method, target, w.Code, w.Body.String())
		}
		if msg, _ := body["error"].(string); !strings.Contains(msg, "flux") {
			t.Errorf("%s %s: error = %v", method, target, body["error"])
		}
	}
	if env.fal.callCount() != 0 {
		t.Errorf("provider calls = %d, want 0", env.fal.callCount())
	}
}

func TestServerRoutes_StatusRequiresRequestID(t *testing.T) {
	env := newTestServer(t)

	w, body := env.do(t, http.MethodGet, "/api/submit/"+url.PathEscape("fal-ai/flux/dev"), nil, nil)
	if w.Code != http.StatusBadRequest || body["error"] != "request_id parameter is required" {
		t.Fatalf("got %d %v", w.Code, body)
	}
	if env.fal.callCount() != 0 {
		t.Error("provider should not be called")
	}
}

func TestServerRoutes_MissingFalKey(t *testing.T) {
	env := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.Providers.FalKey = ""
	})

	w, body := env.do(t, http.MethodPost, "/api/submit/"+url.PathEscape("fal-ai/flux/dev"), strings.NewReader(`{"prompt":"a"}`), jsonHeader())
	if w.Code != http.StatusInternalServerError || body["error"] != "FAL_KEY environment variable is required" {
		t.Fatalf("got %d %v", w.Code, body)
	}
	if env.fal.callCount() != 0 {
		t.Error("provider should not be called without credentials")
	}
}

func TestServerRoutes_ResultsAreRehosted(t *testing.T) {
	env := newTestServer(t)

	w, body := env.do(t, http.MethodGet, "/api/results/"+url.PathEscape("fal-ai/flux/dev")+"/req-1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	result, _ := body["result"].(map[string]any)
	if result["seed"] != float64(42) {
		t.Errorf("non-media fields should pass through, got %v", result)
	}
	images, _ := result["images"].([]any)
	if len(images) != 1 {
		t.Fatalf("images = %v", result["images"])
	}
	image, _ := images[0].(map[string]any)
	if image["original_url"] != env.media.URL+"/out.png" {
		t.Errorf("original_url = %v", image["original_url"])
	}
	stored, _ := image["stored_url"].(string)
	if !strings.HasPrefix(stored, "http://play.test/blobs/fal-ai-flux-dev_req-1_images_0_") || !strings.HasSuffix(stored, ".png") {
		t.Fatalf("stored_url = %q", stored)
	}

	// the local backend serves what it stored
	w, _ = env.do(t, http.MethodGet, strings.TrimPrefix(stored, "http://play.test"), nil, nil)
	if w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), pngBytes) {
		t.Errorf("GET stored blob = %d, %d bytes", w.Code, w.Body.Len())
	}
}

func TestServerRoutes_ResultUpstreamError(t *testing.T) {
	env := newTestServer(t)

	w, body := env.do(t, http.MethodGet, "/api/results/"+url.PathEscape("fal-ai/broken")+"/req-1", nil, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "Request not found") {
		t.Errorf("error = %v", body["error"])
	}
}

func newReplicateFake(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestServerRoutes_Replicate(t *testing.T) {
	var mediaURL string
	replicateURL := newReplicateFake(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/"+core.DefaultReplicateModel+"/predictions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get(core.HeaderPrefer) != core.PreferWait {
			t.Error("prediction should ask the provider to wait")
		}
		var payload map[string]map[string]any
		data, _ := io.ReadAll(r.Body)
		_ = sonic.Unmarshal(data, &payload)
		if payload["input"]["prompt"] != "TYLER at the beach" || payload["input"]["num_outputs"] != float64(4) {
			t.Errorf("input = %v", payload["input"])
		}
		w.Header().Set(core.HeaderContentType, core.ContentTypeJSON)
		_, _ = io.WriteString(w, `{"id":"pred-1","status":"succeeded","output":["`+mediaURL+`/a.png","`+mediaURL+`/b.png"]}`)
	})
	env := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.Providers.ReplicateBaseURL = replicateURL
	})
	mediaURL = env.media.URL

	w, body := env.do(t, http.MethodPost, "/api/replicate", strings.NewReader(`{"prompt":"TYLER at the beach"}`), jsonHeader())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if body["request_id"] != "pred-1" {
		t.Errorf("request_id = %v", body["request_id"])
	}
	images, _ := body["images"].([]any)
	if len(images) != 2 {
		t.Fatalf("images = %v", body["images"])
	}
	for i, item := range images {
		image, _ := item.(map[string]any)
		stored, _ := image["stored_url"].(string)
		if !strings.Contains(stored, "tylerbishopdev-tyler_pred-1_image_") {
			t.Errorf("image %d stored_url = %q", i, stored)
		}
	}
}

func TestServerRoutes_ReplicateErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		reply   string
		want    int
		message string
	}{
		{"upstream status passes through", http.StatusUnauthorized, `{"detail":"Invalid token"}`, http.StatusUnauthorized, "Replicate API error: Invalid token"},
		{"failed prediction", http.StatusCreated, `{"id":"p","status":"failed","error":"NSFW content"}`, http.StatusInternalServerError, "NSFW content"},
		{"timeout", http.StatusCreated, `{"id":"p","status":"processing"}`, http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			replicateURL := newReplicateFake(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set(core.HeaderContentType, core.ContentTypeJSON)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.reply)
			})
			env := newTestServer(t, func(cfg *config.ServerConfig) {
				cfg.Providers.ReplicateBaseURL = replicateURL
			})

			w, body := env.do(t, http.MethodPost, "/api/replicate", strings.NewReader(`{"prompt":"x"}`), jsonHeader())
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			if tt.message != "" && body["error"] != tt.message {
				t.Errorf("error = %v, want %q", body["error"], tt.message)
			}
		})
	}
}

func TestServerRoutes_ReplicateMissingToken(t *testing.T) {
	env := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.Providers.ReplicateToken = ""
	})

	w, body := env.do(t, http.MethodPost, "/api/replicate", strings.NewReader(`{"prompt":"x"}`), jsonHeader())
	if w.Code != http.StatusInternalServerError || body["error"] != "REPLICATE_API_TOKEN environment variable is required" {
		t.Fatalf("got %d %v", w.Code, body)
	}
}

func multipartUpload(t *testing.T, field, fileName, contentType string, data []byte) (io.Reader, http.Header) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+fileName+`"`)
		if contentType != "" {
			h.Set(core.HeaderContentType, contentType)
		}
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		_, _ = part.Write(data)
	} else {
		_ = mw.WriteField("note", "no file here")
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, http.Header{core.HeaderContentType: {mw.FormDataContentType()}}
}

func TestServerRoutes_Upload(t *testing.T) {
	env := newTestServer(t)

	body, header := multipartUpload(t, "file", "my cat.png", "image/png", pngBytes)
	w, out := env.do(t, http.MethodPost, "/api/upload", body, header)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	stored, _ := out["url"].(string)
	if !strings.HasPrefix(stored, "http://play.test/blobs/uploads/") || !strings.HasSuffix(stored, "-my-cat.png") {
		t.Fatalf("url = %q", stored)
	}

	w, _ = env.do(t, http.MethodGet, strings.TrimPrefix(stored, "http://play.test"), nil, nil)
	if w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), pngBytes) {
		t.Errorf("GET upload = %d", w.Code)
	}
}

func TestServerRoutes_UploadSniffsGenericType(t *testing.T) {
	env := newTestServer(t)

	body, header := multipartUpload(t, "file", "blob", core.ContentTypeOctetStream, pngBytes)
	w, out := env.do(t, http.MethodPost, "/api/upload", body, header)
	if w.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("sniffed png should be accepted, got %d %v", w.Code, out)
	}
}

func TestServerRoutes_UploadRejections(t *testing.T) {
	env := newTestServer(t)

	body, header := multipartUpload(t, "", "", "", nil)
	w, out := env.do(t, http.MethodPost, "/api/upload", body, header)
	if w.Code != http.StatusBadRequest || out["error"] != "No file provided" {
		t.Errorf("no file: %d %v", w.Code, out)
	}

	body, header = multipartUpload(t, "file", "notes.txt", "text/plain", []byte("hello"))
	w, out = env.do(t, http.MethodPost, "/api/upload", body, header)
	if w.Code != http.StatusBadRequest || out["error"] != "File type text/plain is not supported" {
		t.Errorf("text upload: %d %v", w.Code, out)
	}
}

func TestServerRoutes_WebhookThenResults(t *testing.T) {
	env := newTestServer(t)

	delivery := `{"request_id":"req-hook","status":"OK","payload":{"images":[{"url":"` + env.media.URL + `/hook.png"}]}}`
	w, body := env.do(t, http.MethodPost, "/api/webhooks/fal?model="+url.QueryEscape("fal-ai/flux/dev"), strings.NewReader(delivery), jsonHeader())
	if w.Code != http.StatusOK || body["processed"] != true || body["request_id"] != "req-hook" {
		t.Fatalf("webhook = %d %v", w.Code, body)
	}

	calls := env.fal.callCount()
	w, body = env.do(t, http.MethodGet, "/api/results/"+url.PathEscape("fal-ai/flux/dev")+"/req-hook", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("results = %d", w.Code)
	}
	if env.fal.callCount() != calls {
		t.Error("a webhook-delivered result should be served without calling the provider")
	}
	result, _ := body["result"].(map[string]any)
	meta, _ := result["webhook_metadata"].(map[string]any)
	if meta["model"] != "fal-ai/flux/dev" || meta["request_id"] != "req-hook" {
		t.Errorf("webhook_metadata = %v", meta)
	}
	images, _ := result["images"].([]any)
	image, _ := images[0].(map[string]any)
	if image["webhook_processed"] != true {
		t.Errorf("image = %v", image)
	}
	if stored, _ := image["stored_url"].(string); !strings.Contains(stored, "/blobs/webhook_fal-ai-flux-dev_req-hook_images_0_") {
		t.Errorf("stored_url = %q", stored)
	}
}

func TestServerRoutes_WebhookFailureAndUnknownStatus(t *testing.T) {
	env := newTestServer(t)

	w, body := env.do(t, http.MethodPost, "/api/webhooks/fal", strings.NewReader(`{"request_id":"r","status":"ERROR","error":"boom"}`), jsonHeader())
	if w.Code != http.StatusOK || body["success"] != false || body["error"] != "boom" {
		t.Errorf("failed delivery = %d %v", w.Code, body)
	}

	w, body = env.do(t, http.MethodPost, "/api/webhooks/fal", strings.NewReader(`{"request_id":"r","status":"IN_PROGRESS"}`), jsonHeader())
	if w.Code != http.StatusOK || body["success"] != true || body["status"] != "IN_PROGRESS" {
		t.Errorf("progress delivery = %d %v", w.Code, body)
	}
	if _, ok := body["processed"]; ok {
		t.Error("non-terminal delivery should not be processed")
	}

	w, _ = env.do(t, http.MethodPost, "/api/webhooks/fal", strings.NewReader(`not json`), jsonHeader())
	if w.Code != http.StatusBadRequest {
		t.Errorf("garbage delivery = %d", w.Code)
	}
}

func TestServerRoutes_WebhookRequiresSignature(t *testing.T) {
	env := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.Webhook = config.WebhookSettings{Verify: true, JWKSURL: "http://127.0.0.1:1/jwks"}
	})

	w, body := env.do(t, http.MethodPost, "/api/webhooks/fal", strings.NewReader(`{"request_id":"r","status":"OK","payload":{}}`), jsonHeader())
	if w.Code != http.StatusUnauthorized || body["error"] != "Invalid webhook signature" {
		t.Fatalf("unsigned webhook = %d %v", w.Code, body)
	}
}

func TestServerRoutes_RateLimit(t *testing.T) {
	env := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.RateLimit = 2
	})

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		w, _ := env.do(t, http.MethodGet, "/health", nil, nil)
		if w.Code != want {
			t.Errorf("request %d status = %d, want %d", i, w.Code, want)
		}
	}
}

type spyStorage struct {
	mu       sync.Mutex
	saveCall int
	lastStat core.RequestStats
}

func (s *spyStorage) SaveStats(stats *core.RequestStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saveCall++
	if stats != nil {
		s.lastStat = *stats
		s.lastStat.RequestHistory = append([]core.RequestRecord(nil), stats.RequestHistory...)
	}
	return nil
}

func (s *spyStorage) LoadStats() (*core.RequestStats, error) {
	return &core.RequestStats{}, nil
}

func (s *spyStorage) Close() error {
	return nil
}

func (s *spyStorage) snapshot() (int, core.RequestStats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statsCopy := s.lastStat
	statsCopy.RequestHistory = append([]core.RequestRecord(nil), s.lastStat.RequestHistory...)
	return s.saveCall, statsCopy
}

func TestServerClose_PersistsBufferedMetrics(t *testing.T) {
	st := &spyStorage{}
	env := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.Storage = st
	})
	server := env.server

	server.metricsService.RecordProviderCall(true, 10*time.Millisecond, "fal-ai/flux/dev", core.ProviderFal)
	server.metricsService.RecordProviderCall(false, 20*time.Millisecond, "fal-ai/flux/dev", core.ProviderFal)

	beforeSaves, beforeStats := st.snapshot()
	if beforeStats.TotalRequests != 1 {
		t.Fatalf("only the first call should be persisted before close, got total=%d", beforeStats.TotalRequests)
	}

	if err := server.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	afterSaves, afterStats := st.snapshot()
	if afterSaves <= beforeSaves {
		t.Fatalf("Close should persist final stats, saves %d -> %d", beforeSaves, afterSaves)
	}
	if afterStats.TotalRequests != 2 {
		t.Fatalf("all calls should be persisted, got total=%d", afterStats.TotalRequests)
	}
	if len(afterStats.RequestHistory) != 2 {
		t.Fatalf("full history should be persisted, got history=%d", len(afterStats.RequestHistory))
	}
}

func TestServerClose_Idempotent(t *testing.T) {
	env := newTestServer(t)

	if err := env.server.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := env.server.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
