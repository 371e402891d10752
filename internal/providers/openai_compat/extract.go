package openai_compat

import (
	"encoding/json"
	"fmt"
	"strings"

	"prism/internal/providers"
)

// URLExtractor looks for an image URL in one known response shape.
type URLExtractor func(doc map[string]json.RawMessage) (string, bool)

// ImageURLExtractors are tried in order; the first match wins.
var ImageURLExtractors = []URLExtractor{
	firstURL("data"),
	firstURL("images"),
	topLevelURL,
}

func ExtractImageURL(body []byte) (string, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("%w: %v", providers.ErrMalformedResponse, err)
	}
	for _, extract := range ImageURLExtractors {
		if u, ok := extract(doc); ok {
			return u, nil
		}
	}
	return "", fmt.Errorf("%w: no image url in response", providers.ErrMalformedResponse)
}

func firstURL(field string) URLExtractor {
	return func(doc map[string]json.RawMessage) (string, bool) {
		raw, ok := doc[field]
		if !ok {
			return "", false
		}
		var items []struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
			return "", false
		}
		u := strings.TrimSpace(items[0].URL)
		return u, u != ""
	}
}

func topLevelURL(doc map[string]json.RawMessage) (string, bool) {
	raw, ok := doc["url"]
	if !ok {
		return "", false
	}
	var u string
	if err := json.Unmarshal(raw, &u); err != nil {
		return "", false
	}
	u = strings.TrimSpace(u)
	return u, u != ""
}

func parseChatCompletions(body []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: decode chat completion: %v", providers.ErrMalformedResponse, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", providers.ErrMalformedResponse)
	}
	if resp.Choices[0].Text != "" {
		return resp.Choices[0].Text, nil
	}
	if content := anyToText(resp.Choices[0].Message.Content); strings.TrimSpace(content) != "" {
		return content, nil
	}
	return "", fmt.Errorf("%w: missing message content", providers.ErrMalformedResponse)
}

func anyToText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				if txt, ok := m["text"].(string); ok {
					parts = append(parts, txt)
				}
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}
