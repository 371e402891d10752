package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"prism/internal/metrics"
)

const DefaultLimit = 50

const (
	LogChat   = "chat"
	LogVision = "vision"
	LogImages = "images"
)

var (
	ErrNotFound   = errors.New("history record not found")
	ErrUnknownLog = errors.New("unknown history log")
	ErrMissingID  = errors.New("history record id is empty")
)

// Backend stores raw JSON payloads per log, newest first.
type Backend interface {
	Prepend(ctx context.Context, log, id string, payload []byte, limit int) error
	Remove(ctx context.Context, log, id string) (bool, error)
	List(ctx context.Context, log string) ([][]byte, error)
	Clear(ctx context.Context, log string) error
}

type Record interface {
	ConversationMessage | GenerationRecord
	RecordID() string
}

// Log is a bounded newest-first list of records stored under one key.
type Log[T Record] struct {
	name    string
	limit   int
	backend Backend
	metrics *metrics.Metrics
}

func New[T Record](backend Backend, name string, limit int, m *metrics.Metrics) *Log[T] {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Log[T]{name: name, limit: limit, backend: backend, metrics: m}
}

func (l *Log[T]) Name() string { return l.name }

// Append prepends rec. A record with the same id is moved to the front and
// the oldest entries beyond the limit are dropped.
func (l *Log[T]) Append(ctx context.Context, rec T) error {
	id := strings.TrimSpace(rec.RecordID())
	if id == "" {
		return ErrMissingID
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", l.name, err)
	}
	if err := l.backend.Prepend(ctx, l.name, id, payload, l.limit); err != nil {
		return fmt.Errorf("append to %s: %w", l.name, err)
	}
	if l.metrics != nil {
		l.metrics.HistoryAppends.WithLabelValues(l.name).Inc()
	}
	return nil
}

func (l *Log[T]) Remove(ctx context.Context, id string) error {
	found, err := l.backend.Remove(ctx, l.name, id)
	if err != nil {
		return fmt.Errorf("remove from %s: %w", l.name, err)
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// List returns records newest first. Payloads that no longer decode are skipped.
func (l *Log[T]) List(ctx context.Context) ([]T, error) {
	raw, err := l.backend.List(ctx, l.name)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", l.name, err)
	}
	out := make([]T, 0, len(raw))
	for _, b := range raw {
		var rec T
		if err := json.Unmarshal(b, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (l *Log[T]) Clear(ctx context.Context) error {
	if err := l.backend.Clear(ctx, l.name); err != nil {
		return fmt.Errorf("clear %s: %w", l.name, err)
	}
	return nil
}

// Chronological returns the log oldest first.
func Chronological[T Record](recs []T) []T {
	out := make([]T, len(recs))
	for i, r := range recs {
		out[len(recs)-1-i] = r
	}
	return out
}

// Store groups the three logs over one backend.
type Store struct {
	Chat   *Log[ConversationMessage]
	Vision *Log[ConversationMessage]
	Images *Log[GenerationRecord]
}

func NewStore(backend Backend, limit int, m *metrics.Metrics) *Store {
	return &Store{
		Chat:   New[ConversationMessage](backend, LogChat, limit, m),
		Vision: New[ConversationMessage](backend, LogVision, limit, m),
		Images: New[GenerationRecord](backend, LogImages, limit, m),
	}
}

// Conversation returns the chat or vision log by name.
func (s *Store) Conversation(name string) (*Log[ConversationMessage], error) {
	switch name {
	case LogChat:
		return s.Chat, nil
	case LogVision:
		return s.Vision, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLog, name)
	}
}

func ValidLog(name string) bool {
	return name == LogChat || name == LogVision || name == LogImages
}
