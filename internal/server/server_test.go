package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"prism/internal/catalog"
	"prism/internal/history"
	"prism/internal/providers"
	"prism/internal/providers/registry"
	"prism/internal/storage"
	"prism/internal/studio"
)

const testCatalog = `
providers:
  - id: fake
    base_url: https://fake.test/v1
models:
  - id: chat-model
    provider_id: fake
  - id: image-model
    provider_id: fake
    capabilities: {kind: image-generate}
`

type staticEndpoints struct {
	ep  providers.Endpoint
	err error
}

func (s staticEndpoints) Require(ctx context.Context, providerID string) (providers.Endpoint, error) {
	if s.err != nil {
		return providers.Endpoint{}, s.err
	}
	return s.ep, nil
}

// fakeProvider answers chat completions (sync and streamed) and image generations.
func fakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions") && body["stream"] == true:
			w.Header().Set("Content-Type", "text/event-stream")
			for _, part := range []string{"Hel", "lo"} {
				fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
			}
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"pong"}}]}`)
		case strings.HasSuffix(r.URL.Path, "/images/generations"):
			_, _ = io.WriteString(w, `{"data":[{"url":"https://x/img.png"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, endpoints studio.Endpoints) (*httptest.Server, *studio.Studio) {
	t.Helper()
	provider := fakeProvider(t)
	cat, err := catalog.Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	st, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "prism.db"), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if endpoints == nil {
		endpoints = staticEndpoints{ep: providers.Endpoint{ProviderID: "fake", BaseURL: provider.URL + "/v1", APIKey: "k"}}
	}
	s := studio.New(studio.Config{
		Catalog:           cat,
		Endpoints:         endpoints,
		Clients:           registry.New(registry.Options{HTTPClient: provider.Client(), Logger: zerolog.Nop()}),
		History:           history.NewStore(st, history.DefaultLimit, nil),
		RequestTimeout:    5 * time.Second,
		DefaultChatModel:  "chat-model",
		DefaultImageModel: "image-model",
		Logger:            zerolog.Nop(),
	})
	srv := httptest.NewServer(New(Config{Studio: s, Logger: zerolog.Nop()}).Handler())
	t.Cleanup(srv.Close)
	return srv, s
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestChatRelayEmitsEventPerUpdateThenDone(t *testing.T) {
	srv, s := newTestServer(t, nil)
	resp := post(t, srv.URL+"/api/chat", `{"text":"hi","stream":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var events []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if line, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
			events = append(events, line)
		}
	}
	want := []string{`{"text":"Hel"}`, `{"text":"Hello"}`, `[DONE]`}
	if strings.Join(events, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected events %q", events)
	}

	msgs, err := s.History().Chat.List(context.Background())
	if err != nil {
		t.Fatalf("list chat: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Text != "Hello" || msgs[1].Text != "hi" {
		t.Fatalf("unexpected chat log %+v", msgs)
	}
}

func TestChatSyncReturnsResult(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp := post(t, srv.URL+"/api/chat", `{"text":"ping"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var res studio.SendResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Log != history.LogChat || res.Assistant.Text != "pong" || res.User.Text != "ping" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestChatConfigMissingIsPreconditionFailed(t *testing.T) {
	srv, s := newTestServer(t, staticEndpoints{err: providers.ErrConfigMissing})
	resp := post(t, srv.URL+"/api/chat", `{"text":"hi","stream":true}`)
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d", resp.StatusCode)
	}
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != providers.UserMessage(providers.ErrConfigMissing) {
		t.Fatalf("unexpected error text %q", body.Error)
	}
	msgs, _ := s.History().Chat.List(context.Background())
	if len(msgs) != 0 {
		t.Fatalf("nothing may be persisted, got %d", len(msgs))
	}
}

func TestImagesAndHistoryRoutes(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := post(t, srv.URL+"/api/images", `{"prompt":"a red fox in snow","size":"1024x1024"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var rec history.GenerationRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.ImageRef != "https://x/img.png" || rec.ID == "" {
		t.Fatalf("unexpected record %+v", rec)
	}

	get, err := http.Get(srv.URL + "/api/history/images")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	defer get.Body.Close()
	var recs []history.GenerationRecord
	if err := json.NewDecoder(get.Body).Decode(&recs); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != rec.ID {
		t.Fatalf("unexpected history %+v", recs)
	}

	del := func(path string) int {
		req, _ := http.NewRequest(http.MethodDelete, srv.URL+path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("delete %s: %v", path, err)
		}
		_ = resp.Body.Close()
		return resp.StatusCode
	}
	if code := del("/api/history/images/" + rec.ID); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}
	if code := del("/api/history/images/" + rec.ID); code != http.StatusNotFound {
		t.Fatalf("expected 404 for a removed record, got %d", code)
	}
	if code := del("/api/history/bogus"); code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown log, got %d", code)
	}
}

func TestEmptyPromptIsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp := post(t, srv.URL+"/api/images", `{"prompt":"  "}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp = post(t, srv.URL+"/api/chat", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid json, got %d", resp.StatusCode)
	}
}
