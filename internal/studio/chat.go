package studio

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"prism/internal/catalog"
	"prism/internal/history"
	"prism/internal/providers"
)

type SendInput struct {
	ModelID string
	Text    string
	Images  []string
	Stream  bool
	Extra   map[string]any
}

type SendResult struct {
	Log       string                      `json:"log"`
	User      history.ConversationMessage `json:"user"`
	Assistant history.ConversationMessage `json:"assistant"`
}

// SendChat appends the user turn to the chat log (or the vision log for
// image-capable models), asks the model and persists the answer. With
// Stream set, publish receives the accumulated answer after every delta.
// A broken stream still persists the partial answer, flagged interrupted,
// and returns it alongside the *providers.StreamInterrupted error.
func (s *Studio) SendChat(ctx context.Context, in SendInput, publish providers.Publish) (SendResult, error) {
	model, err := s.model(in.ModelID, s.cfg.DefaultChatModel, catalog.KindChat)
	if err != nil {
		return SendResult{}, err
	}
	text := strings.TrimSpace(in.Text)
	if text == "" && len(in.Images) == 0 {
		return SendResult{}, providers.ErrEmptyPrompt
	}
	vision := model.Capabilities.SupportsImages
	if len(in.Images) > 0 && !vision {
		return SendResult{}, fmt.Errorf("%w: %s does not accept images", providers.ErrModelKind, model.ID)
	}

	if !s.chatBusy.TryLock() {
		return SendResult{}, providers.ErrBusy
	}
	defer s.chatBusy.Unlock()

	ep, err := s.cfg.Endpoints.Require(ctx, model.ProviderID)
	if err != nil {
		return SendResult{}, err
	}

	log := s.cfg.History.Chat
	if vision {
		log = s.cfg.History.Vision
	}
	user := history.ConversationMessage{
		ID:         history.NewID(),
		Role:       history.RoleUser,
		Text:       text,
		Images:     append([]string(nil), in.Images...),
		CreatedAt:  now(),
		ModelID:    model.ID,
		ProviderID: model.ProviderID,
	}
	if err := log.Append(ctx, user); err != nil {
		return SendResult{}, err
	}

	res := SendResult{Log: log.Name(), User: user}
	res.Assistant, err = s.answer(ctx, log, model, ep, user, in.Stream, in.Extra, publish, "")
	return res, err
}

// Regenerate answers the newest user turn of logName again. The newest
// assistant answer is left out of the request and replaced only once a new
// answer (complete or partial) has been stored.
func (s *Studio) Regenerate(ctx context.Context, logName, modelID string, stream bool, publish providers.Publish) (SendResult, error) {
	log, err := s.cfg.History.Conversation(logName)
	if err != nil {
		return SendResult{}, err
	}
	if !s.chatBusy.TryLock() {
		return SendResult{}, providers.ErrBusy
	}
	defer s.chatBusy.Unlock()

	msgs, err := log.List(ctx)
	if err != nil {
		return SendResult{}, err
	}
	var user *history.ConversationMessage
	for i := range msgs {
		if msgs[i].Role == history.RoleUser {
			user = &msgs[i]
			break
		}
	}
	if user == nil {
		return SendResult{}, fmt.Errorf("%w: no user message to answer", history.ErrNotFound)
	}

	if modelID == "" {
		modelID = user.ModelID
	}
	model, err := s.model(modelID, s.cfg.DefaultChatModel, catalog.KindChat)
	if err != nil {
		return SendResult{}, err
	}
	ep, err := s.cfg.Endpoints.Require(ctx, model.ProviderID)
	if err != nil {
		return SendResult{}, err
	}

	stale := ""
	if msgs[0].Role == history.RoleAssistant {
		stale = msgs[0].ID
	}

	res := SendResult{Log: log.Name(), User: *user}
	res.Assistant, err = s.answer(ctx, log, model, ep, *user, stream, nil, publish, stale)
	return res, err
}

func (s *Studio) answer(
	ctx context.Context,
	log *history.Log[history.ConversationMessage],
	model catalog.ModelDescriptor,
	ep providers.Endpoint,
	user history.ConversationMessage,
	stream bool,
	extra map[string]any,
	publish providers.Publish,
	replaces string,
) (history.ConversationMessage, error) {
	var body providers.Body
	if log.Name() == history.LogVision {
		body = providers.BuildVisionChat(model, user.Text, user.Images, stream, extra)
	} else {
		msgs, err := log.List(ctx)
		if err != nil {
			return history.ConversationMessage{}, err
		}
		if replaces != "" {
			msgs = slices.DeleteFunc(msgs, func(m history.ConversationMessage) bool { return m.ID == replaces })
		}
		body = providers.BuildChat(model, toChatMessages(history.Chronological(msgs)), stream, extra)
	}

	assistant := history.ConversationMessage{
		ID:         history.NewID(),
		Role:       history.RoleAssistant,
		CreatedAt:  now(),
		ModelID:    model.ID,
		ProviderID: model.ProviderID,
	}

	client := s.cfg.Clients.Chat(ep)
	var (
		text string
		err  error
	)
	if stream {
		text, err = client.ChatStream(ctx, body, publish)
	} else {
		cctx, cancel := s.withTimeout(ctx)
		text, err = client.Chat(cctx, body)
		cancel()
		if err == nil && publish != nil {
			publish(text)
		}
	}

	if err != nil {
		var si *providers.StreamInterrupted
		if !errors.As(err, &si) || text == "" {
			s.cfg.Logger.Warn().Err(err).Str("model", model.ID).Msg("chat request failed")
			return history.ConversationMessage{}, err
		}
		assistant.Text = text
		assistant.Interrupted = true
		s.cfg.Logger.Warn().Err(err).Str("model", model.ID).Int("partial_bytes", len(text)).Msg("keeping partial answer")
		pctx := context.WithoutCancel(ctx)
		if perr := log.Append(pctx, assistant); perr != nil {
			return assistant, errors.Join(err, perr)
		}
		if perr := s.dropReplaced(pctx, log, replaces); perr != nil {
			return assistant, errors.Join(err, perr)
		}
		return assistant, err
	}
	if text == "" {
		s.cfg.Logger.Warn().Str("model", model.ID).Msg("chat answer is empty")
		return history.ConversationMessage{}, fmt.Errorf("%w: empty answer", providers.ErrMalformedResponse)
	}

	assistant.Text = text
	if err := log.Append(ctx, assistant); err != nil {
		return assistant, err
	}
	if err := s.dropReplaced(ctx, log, replaces); err != nil {
		return assistant, err
	}
	return assistant, nil
}

func (s *Studio) dropReplaced(ctx context.Context, log *history.Log[history.ConversationMessage], id string) error {
	if id == "" {
		return nil
	}
	if err := log.Remove(ctx, id); err != nil && !errors.Is(err, history.ErrNotFound) {
		return err
	}
	return nil
}

func toChatMessages(msgs []history.ConversationMessage) []providers.ChatMessage {
	out := make([]providers.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, providers.ChatMessage{Role: string(m.Role), Text: m.Text, Images: m.Images})
	}
	return out
}
