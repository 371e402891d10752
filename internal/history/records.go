package history

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationMessage is one turn of a chat or vision conversation.
type ConversationMessage struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Text        string    `json:"text"`
	Images      []string  `json:"attached_image_refs,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ModelID     string    `json:"model_id"`
	ProviderID  string    `json:"provider_id"`
	Interrupted bool      `json:"interrupted,omitempty"`
}

func (m ConversationMessage) RecordID() string { return m.ID }

// GenerationRecord is one produced image together with the request that made it.
type GenerationRecord struct {
	ID                 string    `json:"id"`
	ImageRef           string    `json:"image_ref"`
	SourceURL          string    `json:"source_url,omitempty"`
	Prompt             string    `json:"prompt"`
	CreatedAt          time.Time `json:"created_at"`
	ReferenceImageRefs []string  `json:"reference_image_refs,omitempty"`
	SizeSpec           string    `json:"size_spec,omitempty"`
	ModelID            string    `json:"model_id"`
	ProviderID         string    `json:"provider_id"`
}

func (g GenerationRecord) RecordID() string { return g.ID }

func NewID() string {
	return uuid.NewString()
}
