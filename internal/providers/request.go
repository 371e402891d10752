package providers

import (
	"maps"
	"strings"

	"prism/internal/catalog"
)

const (
	ChatTemperature = 0.7
	ImageQuality    = "standard"
	ResponseFormat  = "url"
	DefaultSize     = "1024x1024"
)

// BuildChat builds a chat-completions body from prior messages in
// chronological order. Attached images are not sent for non-vision models.
func BuildChat(model catalog.ModelDescriptor, msgs []ChatMessage, stream bool, extra map[string]any) Body {
	messages := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		messages = append(messages, map[string]any{"role": m.Role, "content": m.Text})
	}
	body := Body{
		"model":       model.ID,
		"messages":    messages,
		"temperature": ChatTemperature,
		"max_tokens":  model.OutputTokens(),
		"stream":      stream,
	}
	return merge(body, extra)
}

// BuildVisionChat builds a single user message made of typed content parts:
// the text part, when text is non-empty, followed by one part per image.
func BuildVisionChat(model catalog.ModelDescriptor, text string, images []string, stream bool, extra map[string]any) Body {
	parts := make([]map[string]any, 0, len(images)+1)
	if text != "" {
		parts = append(parts, map[string]any{"type": "text", "text": text})
	}
	for _, ref := range images {
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": ref},
		})
	}
	body := Body{
		"model": model.ID,
		"messages": []map[string]any{
			{"role": "user", "content": parts},
		},
		"temperature": ChatTemperature,
		"max_tokens":  model.OutputTokens(),
		"stream":      stream,
	}
	return merge(body, extra)
}

// BuildImageGeneration uses "image" for exactly one reference and "images"
// for two or more. Providers disagree on the key, so both shapes are kept.
func BuildImageGeneration(model catalog.ModelDescriptor, prompt, size string, refs []string, extra map[string]any) Body {
	body := Body{
		"model":           model.ID,
		"prompt":          prompt,
		"n":               1,
		"size":            size,
		"quality":         ImageQuality,
		"response_format": ResponseFormat,
	}
	switch {
	case len(refs) == 1:
		body["image"] = refs[0]
	case len(refs) > 1:
		body["images"] = append([]string(nil), refs...)
	}
	return merge(body, extra)
}

// BuildImageEdit builds the async edit body. The provider fetches imageURL
// itself, so inline data URLs are rejected.
func BuildImageEdit(model catalog.ModelDescriptor, prompt, imageURL string, extra map[string]any) (Body, error) {
	if IsDataURL(imageURL) {
		return nil, ErrInlineImage
	}
	body := Body{
		"model":     model.ID,
		"prompt":    prompt,
		"image_url": imageURL,
	}
	return merge(body, extra), nil
}

func IsDataURL(ref string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(ref)), "data:")
}

func merge(body Body, extra map[string]any) Body {
	maps.Copy(body, extra)
	return body
}
