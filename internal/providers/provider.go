package providers

import "context"

// Endpoint is a resolved provider: where to send requests and with which key.
type Endpoint struct {
	ProviderID string
	BaseURL    string
	APIKey     string
}

// ChatMessage is a conversation turn reduced to what a provider needs.
type ChatMessage struct {
	Role   string
	Text   string
	Images []string
}

// Body is a provider-shaped JSON request body.
type Body map[string]any

// Publish receives the accumulated answer after every streamed delta.
type Publish func(accumulated string)

type ChatClient interface {
	Chat(ctx context.Context, body Body) (string, error)
	ChatStream(ctx context.Context, body Body, publish Publish) (string, error)
}

type ImageClient interface {
	GenerateImage(ctx context.Context, body Body) (string, error)
}

type EditClient interface {
	EditImage(ctx context.Context, body Body) (string, error)
}
