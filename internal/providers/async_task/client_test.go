package async_task

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"prism/internal/providers"
)

func taskServer(t *testing.T, statuses ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/images/generations", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Async-Mode") != "true" {
			t.Errorf("missing async header")
		}
		_, _ = io.WriteString(w, `{"task_id":"t-1"}`)
	})
	mux.HandleFunc("GET /v1/tasks/t-1", func(w http.ResponseWriter, r *http.Request) {
		n := int(polls.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		_, _ = io.WriteString(w, statuses[n])
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func newClient(srv *httptest.Server, timeout time.Duration, maxAttempts int) *Client {
	return New(Config{
		BaseURL:     srv.URL,
		APIKey:      "ms-test",
		HTTPClient:  srv.Client(),
		Interval:    5 * time.Millisecond,
		Timeout:     timeout,
		MaxAttempts: maxAttempts,
		Logger:      zerolog.Nop(),
	})
}

func TestEditImageSucceedsAfterRunning(t *testing.T) {
	srv, polls := taskServer(t,
		`{"task_status":"RUNNING"}`,
		`{"task_status":"RUNNING"}`,
		`{"task_status":"SUCCEED","output_images":["https://x/out.png"]}`,
	)

	u, err := newClient(srv, time.Second, 0).EditImage(context.Background(), providers.Body{"model": "m", "prompt": "p", "image_url": "https://x/in.png"})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if u != "https://x/out.png" {
		t.Fatalf("unexpected url %q", u)
	}
	if polls.Load() != 3 {
		t.Fatalf("expected 3 polls, got %d", polls.Load())
	}
}

func TestEditImageFailedCarriesMessage(t *testing.T) {
	srv, _ := taskServer(t, `{"task_status":"FAILED","message":"quota exceeded"}`)

	_, err := newClient(srv, time.Second, 0).EditImage(context.Background(), providers.Body{})
	var tf *providers.TaskFailed
	if !errors.As(err, &tf) {
		t.Fatalf("expected TaskFailed, got %v", err)
	}
	if tf.Message != "quota exceeded" {
		t.Fatalf("unexpected message %q", tf.Message)
	}
}

func TestEditImageMaxAttempts(t *testing.T) {
	srv, polls := taskServer(t, `{"task_status":"RUNNING"}`)

	_, err := newClient(srv, time.Minute, 4).EditImage(context.Background(), providers.Body{})
	var tt *providers.TaskTimeout
	if !errors.As(err, &tt) {
		t.Fatalf("expected TaskTimeout, got %v", err)
	}
	if tt.Attempts != 4 || polls.Load() != 4 {
		t.Fatalf("expected 4 attempts, got %d (%d polls)", tt.Attempts, polls.Load())
	}
}

func TestEditImageWallClockTimeout(t *testing.T) {
	srv, _ := taskServer(t, `{"task_status":"PENDING"}`)

	_, err := newClient(srv, 40*time.Millisecond, 0).EditImage(context.Background(), providers.Body{})
	var tt *providers.TaskTimeout
	if !errors.As(err, &tt) {
		t.Fatalf("expected TaskTimeout, got %v", err)
	}
	if tt.TaskID != "t-1" {
		t.Fatalf("unexpected task id %q", tt.TaskID)
	}
}

func TestEditImageContextCancel(t *testing.T) {
	srv, _ := taskServer(t, `{"task_status":"RUNNING"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := newClient(srv, time.Minute, 0).EditImage(ctx, providers.Body{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}

func TestSubmitWithoutTaskID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"request_id":"x"}`)
	}))
	defer srv.Close()

	_, err := newClient(srv, time.Second, 0).Submit(context.Background(), providers.Body{})
	if !errors.Is(err, providers.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestSucceedWithoutImages(t *testing.T) {
	srv, _ := taskServer(t, `{"task_status":"SUCCEED","output_images":[]}`)

	_, err := newClient(srv, time.Second, 0).EditImage(context.Background(), providers.Body{})
	if !errors.Is(err, providers.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}
