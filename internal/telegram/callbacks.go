package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"prism/internal/history"
)

func (s *Service) onCallback(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx == nil || ctx.CallbackQuery == nil {
		return nil
	}

	data := strings.TrimSpace(ctx.CallbackQuery.Data)
	s.answerCallback(b, ctx, "", false)

	switch data {
	case cbMenu:
		return s.editOrReplyCallback(ctx, b, helpText(), s.mainMenuKeyboard())

	case cbChatHistory:
		return s.editOrReplyCallback(ctx, b, s.historyText(context.Background(), history.LogChat), s.backToMenuKeyboard())

	case cbVisionHistory:
		return s.editOrReplyCallback(ctx, b, s.historyText(context.Background(), history.LogVision), s.backToMenuKeyboard())

	case cbImageHistory:
		return s.editOrReplyCallback(ctx, b, s.historyText(context.Background(), history.LogImages), s.backToMenuKeyboard())

	case cbModels:
		return s.editOrReplyCallback(ctx, b, modelsText(s.studio.Catalog()), s.backToMenuKeyboard())

	case cbClearChat:
		return s.editOrReplyCallback(ctx, b, s.clearLog(context.Background(), history.LogChat), s.backToMenuKeyboard())

	default:
		s.answerCallback(b, ctx, fmt.Sprintf("Unknown action: %s", data), true)
		return nil
	}
}

func (s *Service) answerCallback(b *gotgbot.Bot, ctx *ext.Context, text string, alert bool) {
	if ctx == nil || ctx.CallbackQuery == nil {
		return
	}
	opts := &gotgbot.AnswerCallbackQueryOpts{ShowAlert: alert}
	if text != "" {
		opts.Text = text
	}
	_, _ = b.AnswerCallbackQuery(ctx.CallbackQuery.Id, opts)
}

func (s *Service) editOrReplyCallback(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx != nil && ctx.CallbackQuery != nil && ctx.CallbackQuery.Message != nil {
		opts := &gotgbot.EditMessageTextOpts{}
		if markup != nil {
			opts.ReplyMarkup = *markup
		}
		_, _, err := ctx.CallbackQuery.Message.EditText(b, truncateRunes(text, maxMessageRunes), opts)
		if err == nil {
			return nil
		}
		if strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
			return nil
		}
	}
	return s.replyWithMarkup(ctx, b, text, markup)
}
