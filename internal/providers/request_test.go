package providers

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"prism/internal/catalog"
)

func bodyJSON(t *testing.T, body Body) map[string]any {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	return out
}

func TestBuildImageGenerationRedFox(t *testing.T) {
	model := catalog.ModelDescriptor{ID: "dall-e-3"}
	got := bodyJSON(t, BuildImageGeneration(model, "a red fox in snow", "1024x1024", nil, nil))
	want := map[string]any{
		"model":           "dall-e-3",
		"prompt":          "a red fox in snow",
		"n":               float64(1),
		"size":            "1024x1024",
		"quality":         "standard",
		"response_format": "url",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected body:\n got %#v\nwant %#v", got, want)
	}
}

func TestBuildImageGenerationReferenceKeys(t *testing.T) {
	model := catalog.ModelDescriptor{ID: "kolors"}

	one := BuildImageGeneration(model, "p", "512x512", []string{"https://x/a.png"}, nil)
	if one["image"] != "https://x/a.png" {
		t.Fatalf("expected singular image field, got %#v", one["image"])
	}
	if _, ok := one["images"]; ok {
		t.Fatalf("single reference must not use images field")
	}

	refs := []string{"https://x/a.png", "https://x/b.png", "data:image/png;base64,AAAA"}
	many := BuildImageGeneration(model, "p", "512x512", refs, nil)
	if _, ok := many["image"]; ok {
		t.Fatalf("multiple references must not use image field")
	}
	if !reflect.DeepEqual(many["images"], refs) {
		t.Fatalf("expected all references in order, got %#v", many["images"])
	}
}

func TestBuildChatUsesHistoryAndDefaults(t *testing.T) {
	model := catalog.ModelDescriptor{ID: "gpt-4o-mini"}
	msgs := []ChatMessage{
		{Role: "user", Text: "hi", Images: []string{"https://x/ignored.png"}},
		{Role: "assistant", Text: "hello"},
		{Role: "user", Text: "how are you"},
	}
	got := bodyJSON(t, BuildChat(model, msgs, true, nil))

	if got["temperature"] != 0.7 {
		t.Fatalf("expected temperature 0.7, got %#v", got["temperature"])
	}
	if got["max_tokens"] != float64(catalog.DefaultMaxOutputTokens) {
		t.Fatalf("expected default max tokens, got %#v", got["max_tokens"])
	}
	if got["stream"] != true {
		t.Fatalf("expected stream=true")
	}
	messages := got["messages"].([]any)
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	last := messages[2].(map[string]any)
	if last["role"] != "user" || last["content"] != "how are you" {
		t.Fatalf("unexpected last message %#v", last)
	}
}

func TestBuildVisionChatParts(t *testing.T) {
	model := catalog.ModelDescriptor{ID: "gpt-4o", MaxOutputTokens: 1000}
	got := bodyJSON(t, BuildVisionChat(model, "what is this", []string{"data:image/png;base64,AAAA", "https://x/b.png"}, false, nil))

	messages := got["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("expected single message, got %d", len(messages))
	}
	parts := messages[0].(map[string]any)["content"].([]any)
	if len(parts) != 3 {
		t.Fatalf("expected text part plus two images, got %d", len(parts))
	}
	if parts[0].(map[string]any)["type"] != "text" {
		t.Fatalf("text part must come first")
	}
	img := parts[1].(map[string]any)["image_url"].(map[string]any)
	if img["url"] != "data:image/png;base64,AAAA" {
		t.Fatalf("data url must pass through unchanged, got %#v", img["url"])
	}
	if got["max_tokens"] != float64(1000) {
		t.Fatalf("expected model max tokens, got %#v", got["max_tokens"])
	}

	noText := bodyJSON(t, BuildVisionChat(model, "", []string{"https://x/b.png"}, false, nil))
	parts = noText["messages"].([]any)[0].(map[string]any)["content"].([]any)
	if len(parts) != 1 || parts[0].(map[string]any)["type"] != "image_url" {
		t.Fatalf("expected only the image part, got %#v", parts)
	}
}

func TestBuildImageEdit(t *testing.T) {
	model := catalog.ModelDescriptor{ID: "Qwen/Qwen-Image-Edit"}

	if _, err := BuildImageEdit(model, "make it winter", "data:image/png;base64,AAAA", nil); !errors.Is(err, ErrInlineImage) {
		t.Fatalf("expected ErrInlineImage, got %v", err)
	}

	body, err := BuildImageEdit(model, "make it winter", "https://x/in.png", nil)
	if err != nil {
		t.Fatalf("build edit: %v", err)
	}
	if body["image_url"] != "https://x/in.png" || body["prompt"] != "make it winter" {
		t.Fatalf("unexpected body %#v", body)
	}
}

func TestExtraParamsOverride(t *testing.T) {
	model := catalog.ModelDescriptor{ID: "gpt-4o-mini"}
	body := BuildChat(model, nil, false, map[string]any{"temperature": 0.1, "top_p": 0.9})
	if body["temperature"] != 0.1 || body["top_p"] != 0.9 {
		t.Fatalf("extra params must be merged last, got %#v", body)
	}
}
