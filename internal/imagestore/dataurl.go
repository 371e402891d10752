package imagestore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

var ErrNotDataURL = errors.New("not a base64 data url")

// ParseDataURL decodes "data:<mime>;base64,<payload>".
func ParseDataURL(ref string) (string, []byte, error) {
	ref = strings.TrimSpace(ref)
	if len(ref) < len("data:") || !strings.EqualFold(ref[:len("data:")], "data:") {
		return "", nil, ErrNotDataURL
	}
	rest := ref[len("data:"):]
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return "", nil, ErrNotDataURL
	}
	mime := strings.TrimSuffix(meta, ";base64")
	if mime == "" {
		mime = "application/octet-stream"
	}
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data url: %w", err)
	}
	return mime, b, nil
}

func EncodeDataURL(mime string, b []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b)
}

// Reference turns a CLI argument into an image reference: URLs pass through,
// local files become data URLs.
func Reference(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	lower := strings.ToLower(arg)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "data:") {
		return arg, nil
	}
	b, err := os.ReadFile(arg)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", arg, err)
	}
	return EncodeDataURL(http.DetectContentType(b), b), nil
}

func extension(mime string) string {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
