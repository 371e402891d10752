package storage

import "time"

type ProviderKey struct {
	ProviderID string
	EncAPIKey  string
	UpdatedAt  time.Time
}

type HistoryEntry struct {
	Log       string
	ID        string
	Seq       int64
	Payload   []byte
	CreatedAt time.Time
}
