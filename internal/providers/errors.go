package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrConfigMissing     = errors.New("no api key configured for provider")
	ErrMalformedResponse = errors.New("unrecognized provider response")
	ErrEmptyPrompt       = errors.New("prompt is empty")
	ErrInlineImage       = errors.New("reference image must be a public url, not an inline data url")
	ErrBusy              = errors.New("another request is still in flight")
	ErrModelKind         = errors.New("model does not support this operation")
)

// ProviderError is a non-2xx answer from a provider.
type ProviderError struct {
	Status  int
	Body    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("provider status %d", e.Status)
}

// StreamInterrupted reports a stream that broke after Partial had been received.
type StreamInterrupted struct {
	Partial string
	Err     error
}

func (e *StreamInterrupted) Error() string {
	return fmt.Sprintf("stream interrupted after %d bytes: %v", len(e.Partial), e.Err)
}

func (e *StreamInterrupted) Unwrap() error { return e.Err }

type TaskFailed struct {
	TaskID  string
	Message string
}

func (e *TaskFailed) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("task %s failed", e.TaskID)
	}
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Message)
}

type TaskTimeout struct {
	TaskID   string
	Elapsed  time.Duration
	Attempts int
}

func (e *TaskTimeout) Error() string {
	return fmt.Sprintf("task %s did not finish after %s (%d polls)", e.TaskID, e.Elapsed.Round(time.Second), e.Attempts)
}

// Kind names the error class for metrics labels.
func Kind(err error) string {
	var (
		pe *ProviderError
		si *StreamInterrupted
		tf *TaskFailed
		tt *TaskTimeout
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfigMissing):
		return "config_missing"
	case errors.As(err, &pe):
		return "provider"
	case errors.As(err, &si):
		return "stream_interrupted"
	case errors.As(err, &tf):
		return "task_failed"
	case errors.As(err, &tt):
		return "task_timeout"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}

// UserMessage renders err as a single notification line.
func UserMessage(err error) string {
	var (
		pe *ProviderError
		si *StreamInterrupted
		tf *TaskFailed
		tt *TaskTimeout
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfigMissing):
		return "No API key configured for this provider. Set one with `prism key set`."
	case errors.Is(err, ErrEmptyPrompt):
		return "Please enter a prompt first."
	case errors.Is(err, ErrInlineImage):
		return "This model needs a publicly reachable image URL; configure object storage to upload local images."
	case errors.Is(err, ErrBusy):
		return "A request is already running; wait for it to finish."
	case errors.Is(err, ErrModelKind):
		return "The selected model cannot do that."
	case errors.As(err, &pe):
		if pe.Message != "" {
			return fmt.Sprintf("Provider returned %d: %s", pe.Status, pe.Message)
		}
		return fmt.Sprintf("Provider returned %d.", pe.Status)
	case errors.As(err, &si):
		return "The connection dropped mid-answer; the partial reply was kept."
	case errors.As(err, &tf):
		if tf.Message != "" {
			return "Image task failed: " + tf.Message
		}
		return "Image task failed."
	case errors.As(err, &tt):
		return "The image task took too long and was abandoned."
	case errors.Is(err, ErrMalformedResponse):
		return "The provider answered with something unexpected."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	default:
		msg := strings.TrimSpace(err.Error())
		if msg == "" {
			return "Something went wrong."
		}
		return "Request failed: " + msg
	}
}

// ErrorMessage pulls a human-readable message out of a provider error body.
func ErrorMessage(body []byte) string {
	var parsed struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	switch e := parsed.Error.(type) {
	case string:
		if e != "" {
			return e
		}
	case map[string]any:
		if m, ok := e["message"].(string); ok && m != "" {
			return m
		}
	}
	if parsed.Message != "" {
		return parsed.Message
	}
	return parsed.Msg
}
