package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyWizardState remembers that the next private message of a user is the
// API key for ProviderID.
type keyWizardState struct {
	ProviderID string    `json:"provider_id"`
	StartedAt  time.Time `json:"started_at"`
}

type wizardStore struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

func newWizardStore(rdb *redis.Client, prefix string, ttl time.Duration) *wizardStore {
	if prefix == "" {
		prefix = "prism"
	}
	return &wizardStore{redis: rdb, prefix: prefix, ttl: ttl}
}

func (w *wizardStore) key(userID int64) string {
	return fmt.Sprintf("%s:wizard:%d", w.prefix, userID)
}

func (w *wizardStore) Set(ctx context.Context, userID int64, state keyWizardState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return w.redis.Set(ctx, w.key(userID), string(b), w.ttl).Err()
}

func (w *wizardStore) Get(ctx context.Context, userID int64) (*keyWizardState, error) {
	raw, err := w.redis.Get(ctx, w.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state keyWizardState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (w *wizardStore) Clear(ctx context.Context, userID int64) error {
	return w.redis.Del(ctx, w.key(userID)).Err()
}
