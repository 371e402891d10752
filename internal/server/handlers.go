package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"prism/internal/catalog"
	"prism/internal/history"
	"prism/internal/providers"
	"prism/internal/studio"
)

const maxRequestBytes = 16 << 20

type chatRequest struct {
	Model  string         `json:"model"`
	Text   string         `json:"text"`
	Images []string       `json:"images"`
	Stream bool           `json:"stream"`
	Extra  map[string]any `json:"extra"`
}

type imageRequest struct {
	Model      string         `json:"model"`
	Prompt     string         `json:"prompt"`
	Size       string         `json:"size"`
	References []string       `json:"references"`
	Extra      map[string]any `json:"extra"`
}

type editRequest struct {
	Model  string         `json:"model"`
	Prompt string         `json:"prompt"`
	Image  string         `json:"image"`
	Extra  map[string]any `json:"extra"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in := studio.SendInput{
		ModelID: req.Model,
		Text:    req.Text,
		Images:  req.Images,
		Stream:  req.Stream,
		Extra:   req.Extra,
	}
	if !req.Stream {
		res, err := s.studio.SendChat(r.Context(), in, nil)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	s.relay(w, r, in)
}

// relay streams the accumulated answer as server-sent events, one event per
// update, terminated by a [DONE] event.
func (s *Server) relay(w http.ResponseWriter, r *http.Request, in studio.SendInput) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}
	event := func(v any) {
		b, _ := json.Marshal(v)
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}

	_, err := s.studio.SendChat(r.Context(), in, func(acc string) {
		start()
		event(map[string]string{"text": acc})
	})
	if err != nil && !started {
		s.writeError(w, err)
		return
	}
	start()
	if err != nil {
		s.logger.Warn().Err(err).Msg("chat stream ended with error")
		event(errorResponse{Error: providers.UserMessage(err)})
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) images(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := s.studio.GenerateImage(r.Context(), studio.GenerateInput{
		ModelID:    req.Model,
		Prompt:     req.Prompt,
		Size:       req.Size,
		References: req.References,
		Extra:      req.Extra,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) edits(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := s.studio.EditImage(r.Context(), studio.EditInput{
		ModelID: req.Model,
		Prompt:  req.Prompt,
		Image:   req.Image,
		Extra:   req.Extra,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) models(w http.ResponseWriter, r *http.Request) {
	kind := catalog.Kind(r.URL.Query().Get("kind"))
	writeJSON(w, http.StatusOK, s.studio.Catalog().Models(kind))
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("log")
	store := s.studio.History()
	var (
		out any
		err error
	)
	switch name {
	case history.LogImages:
		out, err = store.Images.List(r.Context())
	default:
		var log *history.Log[history.ConversationMessage]
		log, err = store.Conversation(name)
		if err == nil {
			out, err = log.List(r.Context())
		}
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("log")
	store := s.studio.History()
	var err error
	switch name {
	case history.LogImages:
		err = store.Images.Clear(r.Context())
	default:
		var log *history.Log[history.ConversationMessage]
		log, err = store.Conversation(name)
		if err == nil {
			err = log.Clear(r.Context())
		}
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeHistory(w http.ResponseWriter, r *http.Request) {
	name, id := r.PathValue("log"), r.PathValue("id")
	store := s.studio.History()
	var err error
	switch name {
	case history.LogImages:
		err = store.Images.Remove(r.Context(), id)
	default:
		var log *history.Log[history.ConversationMessage]
		log, err = store.Conversation(name)
		if err == nil {
			err = log.Remove(r.Context(), id)
		}
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: providers.UserMessage(err)})
}

func statusFor(err error) int {
	var (
		pe *providers.ProviderError
		si *providers.StreamInterrupted
		tf *providers.TaskFailed
		tt *providers.TaskTimeout
	)
	switch {
	case errors.Is(err, providers.ErrEmptyPrompt),
		errors.Is(err, providers.ErrModelKind),
		errors.Is(err, providers.ErrInlineImage),
		errors.Is(err, catalog.ErrUnknownModel),
		errors.Is(err, history.ErrMissingID):
		return http.StatusBadRequest
	case errors.Is(err, history.ErrNotFound), errors.Is(err, history.ErrUnknownLog):
		return http.StatusNotFound
	case errors.Is(err, providers.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, providers.ErrConfigMissing):
		return http.StatusPreconditionFailed
	case errors.As(err, &tt), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &pe), errors.As(err, &si), errors.As(err, &tf), errors.Is(err, providers.ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
