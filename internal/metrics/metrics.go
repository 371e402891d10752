package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ChatRequests     prometheus.Counter
	StreamDeltas     prometheus.Counter
	MalformedEvents  prometheus.Counter
	ImageGenerations prometheus.Counter
	TaskPolls        prometheus.Counter
	ProviderErrors   *prometheus.CounterVec
	HistoryAppends   *prometheus.CounterVec
	BotUpdates       prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			ChatRequests: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "prism",
				Name:      "chat_requests_total",
				Help:      "Total chat completion requests sent to providers",
			}),
			StreamDeltas: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "prism",
				Name:      "stream_deltas_total",
				Help:      "Total text deltas decoded from streamed chat responses",
			}),
			MalformedEvents: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "prism",
				Name:      "stream_malformed_events_total",
				Help:      "Total streamed events skipped because their payload was not valid JSON",
			}),
			ImageGenerations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "prism",
				Name:      "image_generations_total",
				Help:      "Total image generation and edit requests sent to providers",
			}),
			TaskPolls: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "prism",
				Name:      "task_polls_total",
				Help:      "Total async task status polls",
			}),
			ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "prism",
				Name:      "provider_errors_total",
				Help:      "Total failed provider interactions by error kind",
			}, []string{"kind"}),
			HistoryAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "prism",
				Name:      "history_appends_total",
				Help:      "Total records appended to history logs",
			}, []string{"log"}),
			BotUpdates: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "prism",
				Name:      "telegram_updates_total",
				Help:      "Total telegram updates received",
			}),
		}
		prometheus.MustRegister(
			global.ChatRequests,
			global.StreamDeltas,
			global.MalformedEvents,
			global.ImageGenerations,
			global.TaskPolls,
			global.ProviderErrors,
			global.HistoryAppends,
			global.BotUpdates,
		)
	})
	return global
}
