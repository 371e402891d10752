package telegram

import (
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

const (
	cbPrefix = "pr:"

	cbMenu          = cbPrefix + "menu"
	cbChatHistory   = cbPrefix + "hist_chat"
	cbVisionHistory = cbPrefix + "hist_vision"
	cbImageHistory  = cbPrefix + "hist_images"
	cbClearChat     = cbPrefix + "clear_chat"
	cbModels        = cbPrefix + "models"
)

func helpText() string {
	return strings.Join([]string{
		"prism",
		"",
		"/chat [@model] <text> - ask a chat model (plain text in private works too)",
		"/regen - answer the last chat message again",
		"/image [@model] <prompt> - generate an image",
		"/edit <image_url> <prompt> - edit an image",
		"/history [chat|vision|images] - recent history",
		"/clear [chat|vision|images] - clear a history log",
		"/models - configured models",
		"/key <provider> [api_key] - store an API key",
	}, "\n")
}

func (s *Service) mainMenuKeyboard() *gotgbot.InlineKeyboardMarkup {
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		{
			{Text: "Chat history", CallbackData: cbChatHistory},
			{Text: "Vision history", CallbackData: cbVisionHistory},
		},
		{
			{Text: "Image history", CallbackData: cbImageHistory},
			{Text: "Models", CallbackData: cbModels},
		},
		{
			{Text: "Clear chat", CallbackData: cbClearChat},
		},
	}}
}

func (s *Service) backToMenuKeyboard() *gotgbot.InlineKeyboardMarkup {
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		{{Text: "Back to menu", CallbackData: cbMenu}},
	}}
}

func (s *Service) replyWithMarkup(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx == nil || ctx.EffectiveChat == nil {
		return nil
	}
	opts := &gotgbot.SendMessageOpts{}
	if markup != nil {
		opts.ReplyMarkup = *markup
	}
	_, err := b.SendMessage(ctx.EffectiveChat.Id, truncateRunes(text, maxMessageRunes), opts)
	return err
}
