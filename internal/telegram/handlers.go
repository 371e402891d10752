package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"prism/internal/catalog"
	"prism/internal/history"
	"prism/internal/providers"
	"prism/internal/studio"
)

func (s *Service) help(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.replyWithMarkup(ctx, b, helpText(), s.mainMenuKeyboard())
}

func (s *Service) start(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.help(b, ctx)
}

func (s *Service) chat(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil {
		return nil
	}
	modelID, text := modelOverride(commandRemainder(msg.GetText()))
	if text == "" {
		return s.reply(ctx, b, "Usage: /chat [@model] <text>")
	}
	return s.sendChat(b, ctx, studio.SendInput{ModelID: modelID, Text: text, Stream: true})
}

func (s *Service) regen(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	live := s.newLive(b, ctx)
	_, err := s.studio.Regenerate(context.Background(), history.LogChat, "", true, live.Update)
	return s.finishChat(b, ctx, live, err)
}

func (s *Service) sendChat(b *gotgbot.Bot, ctx *ext.Context, in studio.SendInput) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	live := s.newLive(b, ctx)
	_, err := s.studio.SendChat(context.Background(), in, live.Update)
	return s.finishChat(b, ctx, live, err)
}

func (s *Service) finishChat(b *gotgbot.Bot, ctx *ext.Context, live *liveMessage, err error) error {
	var si *providers.StreamInterrupted
	switch {
	case err == nil:
	case errors.As(err, &si):
		_ = live.Finish(si.Partial + "\n\n[" + providers.UserMessage(err) + "]")
		return nil
	default:
		s.logger.Warn().Err(err).Msg("bot chat failed")
		return s.reply(ctx, b, providers.UserMessage(err))
	}
	if live.shown == "" {
		return s.reply(ctx, b, "The model returned an empty answer.")
	}
	return nil
}

func (s *Service) newLive(b *gotgbot.Bot, ctx *ext.Context) *liveMessage {
	chatID := ctx.EffectiveChat.Id
	var replyTo int64
	if ctx.EffectiveMessage != nil {
		replyTo = ctx.EffectiveMessage.MessageId
	}
	send := func(text string) (int64, error) {
		opts := &gotgbot.SendMessageOpts{}
		if replyTo > 0 {
			opts.ReplyParameters = &gotgbot.ReplyParameters{MessageId: replyTo}
		}
		m, err := b.SendMessage(chatID, text, opts)
		if err != nil {
			return 0, err
		}
		return m.MessageId, nil
	}
	edit := func(id int64, text string) error {
		_, _, err := b.EditMessageText(text, &gotgbot.EditMessageTextOpts{ChatId: chatID, MessageId: id})
		return err
	}
	return newLiveMessage(send, edit, s.editInterval)
}

func (s *Service) image(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil {
		return nil
	}
	modelID, prompt := modelOverride(commandRemainder(msg.GetText()))
	if prompt == "" {
		return s.reply(ctx, b, "Usage: /image [@model] <prompt>")
	}
	_ = s.reply(ctx, b, "Generating…")
	rec, err := s.studio.GenerateImage(context.Background(), studio.GenerateInput{ModelID: modelID, Prompt: prompt})
	if err != nil {
		s.logger.Warn().Err(err).Msg("bot image failed")
		return s.reply(ctx, b, providers.UserMessage(err))
	}
	return s.reply(ctx, b, rec.ImageRef)
}

func (s *Service) edit(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil {
		return nil
	}
	imageURL, prompt := splitFirstWord(commandRemainder(msg.GetText()))
	if imageURL == "" || prompt == "" {
		return s.reply(ctx, b, "Usage: /edit <image_url> <prompt>")
	}
	_ = s.reply(ctx, b, "Edit submitted, waiting for the task…")
	rec, err := s.studio.EditImage(context.Background(), studio.EditInput{Prompt: prompt, Image: imageURL})
	if err != nil {
		s.logger.Warn().Err(err).Msg("bot edit failed")
		return s.reply(ctx, b, providers.UserMessage(err))
	}
	return s.reply(ctx, b, rec.ImageRef)
}

func (s *Service) history(b *gotgbot.Bot, ctx *ext.Context) error {
	name := strings.TrimSpace(commandRemainder(ctx.EffectiveMessage.GetText()))
	if name == "" {
		name = history.LogChat
	}
	return s.replyWithMarkup(ctx, b, s.historyText(context.Background(), name), s.backToMenuKeyboard())
}

func (s *Service) clear(b *gotgbot.Bot, ctx *ext.Context) error {
	name := strings.TrimSpace(commandRemainder(ctx.EffectiveMessage.GetText()))
	if name == "" {
		name = history.LogChat
	}
	return s.reply(ctx, b, s.clearLog(context.Background(), name))
}

func (s *Service) models(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.replyWithMarkup(ctx, b, modelsText(s.studio.Catalog()), s.backToMenuKeyboard())
}

func (s *Service) key(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil || ctx.EffectiveChat.Type != "private" {
		return s.reply(ctx, b, "Send /key in a private chat.")
	}
	providerID, plain := splitFirstWord(commandRemainder(ctx.EffectiveMessage.GetText()))
	if providerID == "" {
		return s.reply(ctx, b, "Usage: /key <provider> [api_key]")
	}
	if _, ok := s.studio.Catalog().Provider(providerID); !ok {
		return s.reply(ctx, b, "Unknown provider. See /models.")
	}
	if plain != "" {
		s.deleteMessage(b, ctx)
		return s.storeKey(b, ctx, providerID, plain)
	}
	if s.wizard == nil {
		return s.reply(ctx, b, "Usage: /key <provider> <api_key>")
	}
	if err := s.wizard.Set(context.Background(), userID(ctx), keyWizardState{ProviderID: providerID, StartedAt: s.now()}); err != nil {
		s.logger.Error().Err(err).Msg("failed to start key wizard")
		return s.reply(ctx, b, "Failed to start key setup right now.")
	}
	return s.reply(ctx, b, fmt.Sprintf("Send the API key for %s as the next message, or /cancel.", providerID))
}

func (s *Service) cancelWizard(b *gotgbot.Bot, ctx *ext.Context) error {
	if s.wizard == nil || ctx.EffectiveUser == nil {
		return nil
	}
	if err := s.wizard.Clear(context.Background(), ctx.EffectiveUser.Id); err != nil {
		return s.reply(ctx, b, "Failed to cancel key setup right now.")
	}
	return s.reply(ctx, b, "Key setup canceled.")
}

// privateText treats a plain private message as the awaited API key when a
// key wizard is running, and as a chat message otherwise.
func (s *Service) privateText(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil {
		return nil
	}
	if s.wizard != nil {
		state, err := s.wizard.Get(context.Background(), userID(ctx))
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to read key wizard")
		}
		if state != nil {
			_ = s.wizard.Clear(context.Background(), userID(ctx))
			s.deleteMessage(b, ctx)
			return s.storeKey(b, ctx, state.ProviderID, msg.GetText())
		}
	}
	text := strings.TrimSpace(msg.GetText())
	if text == "" {
		return nil
	}
	return s.sendChat(b, ctx, studio.SendInput{Text: text, Stream: true})
}

func (s *Service) storeKey(b *gotgbot.Bot, ctx *ext.Context, providerID, plain string) error {
	if s.keys == nil {
		return s.reply(ctx, b, "Key storage is not available.")
	}
	if err := s.keys.SetKey(context.Background(), providerID, plain); err != nil {
		s.logger.Error().Err(err).Str("provider", providerID).Msg("failed to store api key")
		return s.reply(ctx, b, "Failed to store the key.")
	}
	return s.reply(ctx, b, fmt.Sprintf("Key for %s saved.", providerID))
}

func (s *Service) historyText(ctx context.Context, name string) string {
	store := s.studio.History()
	switch name {
	case history.LogChat, history.LogVision:
		log, _ := store.Conversation(name)
		msgs, err := log.List(ctx)
		if err != nil {
			s.logger.Error().Err(err).Str("log", name).Msg("list history failed")
			return "Failed to load history."
		}
		return conversationText(name, msgs)
	case history.LogImages:
		recs, err := store.Images.List(ctx)
		if err != nil {
			s.logger.Error().Err(err).Str("log", name).Msg("list history failed")
			return "Failed to load history."
		}
		return imagesText(recs)
	default:
		return unknownLogText(name)
	}
}

func (s *Service) clearLog(ctx context.Context, name string) string {
	store := s.studio.History()
	var err error
	switch name {
	case history.LogChat:
		err = store.Chat.Clear(ctx)
	case history.LogVision:
		err = store.Vision.Clear(ctx)
	case history.LogImages:
		err = store.Images.Clear(ctx)
	default:
		return unknownLogText(name)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("log", name).Msg("clear history failed")
		return "Failed to clear history."
	}
	return fmt.Sprintf("Cleared %s history.", name)
}

func unknownLogText(name string) string {
	return fmt.Sprintf("Unknown history %q. Use chat, vision or images.", name)
}

func (s *Service) deleteMessage(b *gotgbot.Bot, ctx *ext.Context) {
	if ctx.EffectiveMessage == nil || ctx.EffectiveChat == nil {
		return
	}
	if _, err := b.DeleteMessage(ctx.EffectiveChat.Id, ctx.EffectiveMessage.MessageId, nil); err != nil {
		s.logger.Debug().Err(err).Msg("could not delete key message")
	}
}

func (s *Service) reply(ctx *ext.Context, b *gotgbot.Bot, text string) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	_, err := b.SendMessage(ctx.EffectiveChat.Id, truncateRunes(text, maxMessageRunes), nil)
	return err
}

func modelsText(c *catalog.Catalog) string {
	lines := []string{"Models:"}
	for _, m := range c.Models("") {
		line := fmt.Sprintf("- %s [%s] via %s", m.ID, m.Capabilities.Kind, m.ProviderID)
		if m.Capabilities.SupportsImages {
			line += " (vision)"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func conversationText(name string, msgs []history.ConversationMessage) string {
	if len(msgs) == 0 {
		return fmt.Sprintf("No %s history yet.", name)
	}
	lines := []string{fmt.Sprintf("Last %s messages (newest first):", name)}
	for i, m := range msgs {
		if i == 10 {
			lines = append(lines, fmt.Sprintf("… and %d more", len(msgs)-i))
			break
		}
		text := truncateRunes(strings.ReplaceAll(m.Text, "\n", " "), 80)
		if m.Interrupted {
			text += " [interrupted]"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, text))
	}
	return strings.Join(lines, "\n")
}

func imagesText(recs []history.GenerationRecord) string {
	if len(recs) == 0 {
		return "No images generated yet."
	}
	lines := []string{"Recent images (newest first):"}
	for i, r := range recs {
		if i == 10 {
			lines = append(lines, fmt.Sprintf("… and %d more", len(recs)-i))
			break
		}
		lines = append(lines, fmt.Sprintf("- %s\n  %s", truncateRunes(r.Prompt, 60), r.ImageRef))
	}
	return strings.Join(lines, "\n")
}

// modelOverride splits an optional leading "@model" from the text.
func modelOverride(s string) (modelID, rest string) {
	first, tail := splitFirstWord(s)
	if strings.HasPrefix(first, "@") && len(first) > 1 {
		return first[1:], tail
	}
	return "", strings.TrimSpace(s)
}

func commandRemainder(text string) string {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func splitFirstWord(s string) (first string, rest string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	idx := strings.IndexByte(s, ' ')
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx+1:])
}

func userID(ctx *ext.Context) int64 {
	if ctx.EffectiveUser == nil {
		return 0
	}
	return ctx.EffectiveUser.Id
}
