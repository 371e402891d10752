package telegram

import (
	"context"
	"strings"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/callbackquery"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/message"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"prism/internal/metrics"
	"prism/internal/studio"
)

// KeySetter stores a provider API key entered through the bot.
type KeySetter interface {
	SetKey(ctx context.Context, providerID, plain string) error
}

type Service struct {
	studio       *studio.Studio
	keys         KeySetter
	wizard       *wizardStore
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	editInterval time.Duration
}

type Config struct {
	Studio *studio.Studio
	Keys   KeySetter
	// Redis is optional; without it /key only accepts the key inline.
	Redis        *redis.Client
	KeyPrefix    string
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
	EditInterval time.Duration
	WizardTTL    time.Duration
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.EditInterval <= 0 {
		cfg.EditInterval = 1500 * time.Millisecond
	}
	if cfg.WizardTTL <= 0 {
		cfg.WizardTTL = 10 * time.Minute
	}
	s := &Service{
		studio:       cfg.Studio,
		keys:         cfg.Keys,
		logger:       cfg.Logger,
		metrics:      m,
		editInterval: cfg.EditInterval,
	}
	if cfg.Redis != nil {
		s.wizard = newWizardStore(cfg.Redis, cfg.KeyPrefix, cfg.WizardTTL)
	}
	return s
}

func (s *Service) Register(d *ext.Dispatcher) {
	d.AddHandler(handlers.NewCommand("help", s.help))
	d.AddHandler(handlers.NewCommand("start", s.start))
	d.AddHandler(handlers.NewCommand("chat", s.chat))
	d.AddHandler(handlers.NewCommand("regen", s.regen))
	d.AddHandler(handlers.NewCommand("image", s.image))
	d.AddHandler(handlers.NewCommand("edit", s.edit))
	d.AddHandler(handlers.NewCommand("history", s.history))
	d.AddHandler(handlers.NewCommand("clear", s.clear))
	d.AddHandler(handlers.NewCommand("models", s.models))
	d.AddHandler(handlers.NewCommand("key", s.key))
	d.AddHandler(handlers.NewCommand("cancel", s.cancelWizard))
	d.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbPrefix), s.onCallback))
	d.AddHandler(handlers.NewMessage(func(msg *gotgbot.Message) bool {
		return message.Private(msg) && message.Text(msg) && !strings.HasPrefix(msg.Text, "/")
	}, s.privateText))
}

func (s *Service) now() time.Time {
	return time.Now().UTC()
}
