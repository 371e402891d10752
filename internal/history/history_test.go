package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"prism/internal/storage"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "prism.db"), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return map[string]Backend{
		"redis": NewRedisBackend(rdb, "test"),
		"sql":   st,
	}
}

func record(i int) GenerationRecord {
	return GenerationRecord{
		ID:         fmt.Sprintf("g%02d", i),
		ImageRef:   fmt.Sprintf("https://x/%d.png", i),
		Prompt:     "a red fox",
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
		ModelID:    "dall-e-3",
		ProviderID: "openai",
	}
}

func TestAppendKeepsNewestFifty(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			log := New[GenerationRecord](backend, LogImages, DefaultLimit, nil)

			for i := 0; i < 51; i++ {
				if err := log.Append(ctx, record(i)); err != nil {
					t.Fatalf("append %d: %v", i, err)
				}
			}

			recs, err := log.List(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(recs) != 50 {
				t.Fatalf("expected 50 records, got %d", len(recs))
			}
			if recs[0].ID != "g50" {
				t.Fatalf("expected newest first, got %s", recs[0].ID)
			}
			for _, r := range recs {
				if r.ID == "g00" {
					t.Fatalf("oldest record must be evicted")
				}
			}
		})
	}
}

func TestAppendExistingIDMovesToFront(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			log := New[GenerationRecord](backend, LogImages, 3, nil)

			for i := 0; i < 3; i++ {
				if err := log.Append(ctx, record(i)); err != nil {
					t.Fatalf("append %d: %v", i, err)
				}
			}
			again := record(0)
			again.Prompt = "a blue fox"
			if err := log.Append(ctx, again); err != nil {
				t.Fatalf("append again: %v", err)
			}

			recs, err := log.List(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(recs) != 3 {
				t.Fatalf("expected 3 records, got %d", len(recs))
			}
			if recs[0].ID != "g00" || recs[0].Prompt != "a blue fox" {
				t.Fatalf("expected updated g00 first, got %+v", recs[0])
			}
		})
	}
}

func TestRemoveAndClear(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := NewStore(backend, DefaultLimit, nil)

			msg := ConversationMessage{ID: "m1", Role: RoleUser, Text: "hi", CreatedAt: time.Now().UTC()}
			if err := store.Chat.Append(ctx, msg); err != nil {
				t.Fatalf("append chat: %v", err)
			}
			if err := store.Vision.Append(ctx, msg); err != nil {
				t.Fatalf("append vision: %v", err)
			}

			if err := store.Chat.Remove(ctx, "m1"); err != nil {
				t.Fatalf("remove: %v", err)
			}
			if err := store.Chat.Remove(ctx, "m1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			vision, err := store.Vision.List(ctx)
			if err != nil {
				t.Fatalf("list vision: %v", err)
			}
			if len(vision) != 1 || vision[0].Text != "hi" {
				t.Fatalf("vision log must keep its record, got %+v", vision)
			}

			if err := store.Vision.Clear(ctx); err != nil {
				t.Fatalf("clear: %v", err)
			}
			vision, err = store.Vision.List(ctx)
			if err != nil {
				t.Fatalf("list after clear: %v", err)
			}
			if len(vision) != 0 {
				t.Fatalf("expected empty log, got %d", len(vision))
			}
		})
	}
}

func TestAppendRejectsEmptyID(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			log := New[ConversationMessage](backend, LogChat, DefaultLimit, nil)
			if err := log.Append(context.Background(), ConversationMessage{Text: "x"}); !errors.Is(err, ErrMissingID) {
				t.Fatalf("expected ErrMissingID, got %v", err)
			}
		})
	}
}

func TestChronological(t *testing.T) {
	recs := []ConversationMessage{{ID: "3"}, {ID: "2"}, {ID: "1"}}
	got := Chronological(recs)
	if got[0].ID != "1" || got[2].ID != "3" {
		t.Fatalf("unexpected order %+v", got)
	}
}
