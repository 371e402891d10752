package openai_compat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"prism/internal/catalog"
	"prism/internal/providers"
)

func newTestClient(srv *httptest.Server) *Client {
	return New(Config{
		BaseURL:    srv.URL + "/v1",
		APIKey:     "sk-test",
		HTTPClient: srv.Client(),
		Logger:     zerolog.Nop(),
	})
}

func TestGenerateImageRedFox(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer auth")
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[{"url":"https://x/img.png"}]}`)
	}))
	defer srv.Close()

	body := providers.BuildImageGeneration(catalog.ModelDescriptor{ID: "dall-e-3"}, "a red fox in snow", "1024x1024", nil, nil)
	u, err := newTestClient(srv).GenerateImage(context.Background(), body)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if u != "https://x/img.png" {
		t.Fatalf("unexpected url %q", u)
	}
	if got["prompt"] != "a red fox in snow" || got["n"] != float64(1) || got["response_format"] != "url" {
		t.Fatalf("unexpected request body %#v", got)
	}
}

func TestProviderErrorCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"invalid api key"}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Chat(context.Background(), providers.Body{"model": "m"})
	var pe *providers.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Status != http.StatusUnauthorized || pe.Message != "invalid api key" {
		t.Fatalf("unexpected provider error %+v", pe)
	}
}

func TestMalformedImageResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"created":1}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GenerateImage(context.Background(), providers.Body{})
	if !errors.Is(err, providers.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestChatSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"pong"}}]}`)
	}))
	defer srv.Close()

	text, err := newTestClient(srv).Chat(context.Background(), providers.Body{"model": "m"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if text != "pong" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestChatStreamPublishesAccumulator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("expected event-stream accept header")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, part := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
			flusher.Flush()
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	var pushes []string
	text, err := newTestClient(srv).ChatStream(context.Background(), providers.Body{"stream": true}, func(s string) {
		pushes = append(pushes, s)
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if text != "Hello" || len(pushes) != 2 || pushes[1] != "Hello" {
		t.Fatalf("unexpected result text=%q pushes=%q", text, pushes)
	}
}

func TestChatStreamInterruptedKeepsPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Errorf("hijacking unsupported")
			return
		}
		conn, buf, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		defer conn.Close()
		event := "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n"
		fmt.Fprintf(buf, "HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\nContent-Length: %d\r\n\r\n%s", len(event)+100, event)
		_ = buf.Flush()
	}))
	defer srv.Close()

	text, err := newTestClient(srv).ChatStream(context.Background(), providers.Body{"stream": true}, nil)
	var si *providers.StreamInterrupted
	if !errors.As(err, &si) {
		t.Fatalf("expected StreamInterrupted, got %v", err)
	}
	if text != "partial" || si.Partial != "partial" {
		t.Fatalf("partial text must be kept, got %q / %q", text, si.Partial)
	}
}

func TestChatStreamNon2xxFailsBeforeDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"nope\"}}]}\n")
	}))
	defer srv.Close()

	called := false
	_, err := newTestClient(srv).ChatStream(context.Background(), providers.Body{}, func(string) { called = true })
	var pe *providers.ProviderError
	if !errors.As(err, &pe) || pe.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 ProviderError, got %v", err)
	}
	if called {
		t.Fatalf("publish must not run for a failed response")
	}
}

func TestBuildEndpointURL(t *testing.T) {
	got, err := buildEndpointURL("https://api.openai.com/v1/", "/chat/completions")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got != "https://api.openai.com/v1/chat/completions" {
		t.Fatalf("unexpected endpoint %q", got)
	}
}
