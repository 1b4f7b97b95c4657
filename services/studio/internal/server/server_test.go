package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"scriptstudio/pkg/ai"
	"scriptstudio/pkg/domain"
	"scriptstudio/pkg/kv"
	"scriptstudio/pkg/storage"
	"scriptstudio/pkg/store"
	"scriptstudio/services/studio/internal/app"
)

type stubGenerator struct {
	reply string
	err   error
}

func (g stubGenerator) GenerateText(context.Context, ai.GenerateRequest) (string, error) {
	return g.reply, g.err
}

func newTestServer(t *testing.T, gen ai.TextGenerator) *httptest.Server {
	t.Helper()
	blobs, err := storage.NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	a, err := app.New(context.Background(), app.Config{
		Store:     store.NewMemory(),
		Settings:  kv.NewMemoryStore(),
		Generator: gen,
		Blobs:     blobs,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(a.Close)
	if _, err := a.SeedPrompts(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	srv := httptest.NewServer(New(Config{App: a}).Router())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return resp, out
}

func TestScriptLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, body := do(t, http.MethodPost, srv.URL+"/scripts", `{"title":"Harbor","characters":[{"name":"An","roleId":"an"}],"acts":[{"act_number":1,"scenes":[{"scene_number":1,"dialogues":[{"roleId":"ghost","line":"hello"}]}]}]}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d body=%v", resp.StatusCode, body)
	}
	warnings, _ := body["warnings"].([]any)
	if len(warnings) == 0 {
		t.Fatalf("expected roleId warning, got %v", body)
	}
	id := int(body["id"].(float64))
	scriptURL := srv.URL + "/scripts/" + itoa(id)

	resp, body = do(t, http.MethodGet, scriptURL, "")
	if resp.StatusCode != http.StatusOK || body["title"] != "Harbor" {
		t.Fatalf("get status = %d body=%v", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodDelete, scriptURL, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, body = do(t, http.MethodGet, scriptURL, "")
	if resp.StatusCode != http.StatusNotFound || body["code"] != "STUDIO_NOT_FOUND" {
		t.Fatalf("get after delete status = %d body=%v", resp.StatusCode, body)
	}
}

func TestCreateScriptValidationError(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, body := do(t, http.MethodPost, srv.URL+"/scripts", `{"title":""}`)
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(body["error"].(string), "title") {
		t.Fatalf("status = %d body=%v", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/scripts", `{`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", resp.StatusCode)
	}
}

func TestPromptEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, body := do(t, http.MethodPost, srv.URL+"/prompts", `{"title":"Mood","prompt":"p","category":"poetry"}`)
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(body["error"].(string), "must be one of") {
		t.Fatalf("invalid category status = %d body=%v", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodPost, srv.URL+"/prompts", `{"title":"Mood","prompt":"p","category":"general"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d body=%v", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodGet, srv.URL+"/prompts?category=general", "")
	if resp.StatusCode != http.StatusOK || body["count"].(float64) < 1 {
		t.Fatalf("list status = %d body=%v", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodPost, srv.URL+"/prompts/import", `[{"title":"X","prompt":"p","category":"general"},{"title":"Y","prompt":"","category":"general"}]`)
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(body["error"].(string), "prompts[1]") {
		t.Fatalf("import status = %d body=%v", resp.StatusCode, body)
	}
}

func TestThemeToggleAndModelSettings(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, body := do(t, http.MethodPost, srv.URL+"/settings/theme/toggle", "")
	if resp.StatusCode != http.StatusOK || body["theme"] != "dark" {
		t.Fatalf("toggle status = %d body=%v", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodGet, srv.URL+"/settings/theme", "")
	if body["theme"] != "dark" {
		t.Fatalf("theme body=%v", body)
	}
	resp, _ = do(t, http.MethodPut, srv.URL+"/settings/theme", `{"theme":"sepia"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid theme status = %d", resp.StatusCode)
	}
	_, body = do(t, http.MethodPut, srv.URL+"/settings/model", `{"model":"gemini-2.5-pro","temperature":3,"topK":500}`)
	if body["model"] != "gemini-2.5-pro" || body["temperature"].(float64) != 2 || body["topK"].(float64) != 100 {
		t.Fatalf("model settings body=%v", body)
	}
	_, body = do(t, http.MethodDelete, srv.URL+"/settings/model", "")
	if body["model"] != "gemini-2.5-flash" {
		t.Fatalf("reset body=%v", body)
	}
}

func TestGenerateScriptMapsUpstreamFailure(t *testing.T) {
	srv := newTestServer(t, stubGenerator{err: &domain.ExternalServiceError{Service: "gemini", Status: 500, Message: "boom"}})
	resp, body := do(t, http.MethodPost, srv.URL+"/generate/script", `{"variables":{"title":"a","topic":"b"}}`)
	if resp.StatusCode != http.StatusBadGateway || body["code"] != "STUDIO_UPSTREAM_FAILED" {
		t.Fatalf("status = %d body=%v", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/generate/script?async=true", `{"variables":{"title":"a","topic":"b"}}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("async without queue status = %d", resp.StatusCode)
	}
}

func TestGenerateScriptCreatesScript(t *testing.T) {
	srv := newTestServer(t, stubGenerator{reply: `{"title":"Dawn","characters":[],"acts":[]}`})
	resp, body := do(t, http.MethodPost, srv.URL+"/generate/script", `{"variables":{"title":"Dawn","topic":"sunrise"}}`)
	if resp.StatusCode != http.StatusCreated || body["scriptId"].(float64) == 0 {
		t.Fatalf("status = %d body=%v", resp.StatusCode, body)
	}
}

func TestMediaMultipartUpload(t *testing.T) {
	srv := newTestServer(t, nil)
	_, created := do(t, http.MethodPost, srv.URL+"/scripts", `{"title":"Studio Tour","alias":"studio-tour"}`)
	scriptID := int(created["id"].(float64))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("meta", `{"scriptId":`+itoa(scriptID)+`,"roleId":"an","mimeType":"audio/mpeg","text":"hello"}`)
	fw, _ := mw.CreateFormFile("file", "line.mp3")
	_, _ = fw.Write([]byte("mp3"))
	_ = mw.Close()
	resp, err := http.Post(srv.URL+"/media/audio", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	var rec map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&rec)
	if resp.StatusCode != http.StatusCreated || !strings.HasPrefix(rec["blobKey"].(string), "studio-tour/audio/") {
		t.Fatalf("upload status = %d body=%v", resp.StatusCode, rec)
	}
	id := int(rec["id"].(float64))

	r2, body := do(t, http.MethodGet, srv.URL+"/media/audios/"+itoa(id), "")
	if r2.StatusCode != http.StatusOK || !strings.HasPrefix(body["url"].(string), "file://") {
		t.Fatalf("get media status = %d body=%v", r2.StatusCode, body)
	}
	r3, _ := do(t, http.MethodGet, srv.URL+"/media/holograms", "")
	if r3.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown kind status = %d", r3.StatusCode)
	}
}

func TestValidateLineEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	_, body := do(t, http.MethodPost, srv.URL+"/validate/line", `{"line":"[beat] Go *now*"}`)
	if body["isValid"] != false || body["stripped"] != "Go" {
		t.Fatalf("body=%v", body)
	}
}

func TestJobsUnavailableWithoutQueue(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, _ := do(t, http.MethodGet, srv.URL+"/jobs/abc", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	srv := newTestServer(t, nil)
	if resp, _ := do(t, http.MethodGet, srv.URL+"/healthz", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), `studio_http_requests_total{method="GET",route="/healthz",service="studio",status="200"}`) {
		t.Fatalf("healthz request not counted")
	}
}

func TestPlayerLoadsScriptAudio(t *testing.T) {
	srv := newTestServer(t, nil)
	_, created := do(t, http.MethodPost, srv.URL+"/scripts", `{"title":"Night Radio","alias":"night-radio"}`)
	scriptID := itoa(int(created["id"].(float64)))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("meta", `{"scriptId":`+scriptID+`,"roleId":"an","mimeType":"audio/mpeg","text":"hello","durationSeconds":2}`)
	fw, _ := mw.CreateFormFile("file", "line.mp3")
	_, _ = fw.Write([]byte("mp3"))
	_ = mw.Close()
	up, err := http.Post(srv.URL+"/media/audio", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	up.Body.Close()

	resp, body := do(t, http.MethodPost, srv.URL+"/player", `{"action":"load","scriptId":`+scriptID+`}`)
	playlist, _ := body["playlist"].([]any)
	if resp.StatusCode != http.StatusOK || len(playlist) != 1 {
		t.Fatalf("load status = %d body=%v", resp.StatusCode, body)
	}
	if _, body = do(t, http.MethodPost, srv.URL+"/player", `{"action":"play"}`); body["playing"] != true {
		t.Fatalf("play body=%v", body)
	}
	if _, body = do(t, http.MethodPost, srv.URL+"/player", `{"action":"volume","volume":3}`); body["volume"] != float64(1) {
		t.Fatalf("volume not clamped: %v", body)
	}
	if resp, _ = do(t, http.MethodPost, srv.URL+"/player", `{"action":"rewind"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown action status = %d", resp.StatusCode)
	}
	if resp, _ = do(t, http.MethodPost, srv.URL+"/player", `{"action":"load","scriptId":999}`); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing script status = %d", resp.StatusCode)
	}
}

func TestVendorTokenAndPageEventsEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, body := do(t, http.MethodGet, srv.URL+"/vendor/token", "")
	if resp.StatusCode != http.StatusOK || body["present"] != false {
		t.Fatalf("vendor token status = %d body=%v", resp.StatusCode, body)
	}
	if _, leaked := body["token"]; leaked {
		t.Fatalf("token field exposed: %v", body)
	}
	if resp, body = do(t, http.MethodGet, srv.URL+"/page/events", ""); resp.StatusCode != http.StatusOK || body["count"] != float64(0) {
		t.Fatalf("page events status = %d body=%v", resp.StatusCode, body)
	}
	if resp, _ = do(t, http.MethodGet, srv.URL+"/page/events?after=-1", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad cursor status = %d", resp.StatusCode)
	}
}

func TestHealthReportsStore(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", "")
	storeInfo, _ := body["store"].(map[string]any)
	if resp.StatusCode != http.StatusOK || storeInfo["seeded"] != true {
		t.Fatalf("healthz status = %d body=%v", resp.StatusCode, body)
	}
}
