package openai_compat

import (
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

const sampleStream = "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"lo, \"}}]}\r\n\r\n" +
	": keep-alive\n" +
	"data:{\"choices\":[{\"delta\":{\"content\":\"wörld\"}}]}\n\n" +
	"data: [DONE]\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n\n"

type recorder struct {
	pushes []string
}

func (r *recorder) publish(s string) { r.pushes = append(r.pushes, s) }

func decodeChunks(t *testing.T, chunks [][]byte) (string, []string) {
	t.Helper()
	rec := &recorder{}
	dec := NewStreamDecoder(rec.publish, zerolog.Nop(), nil)
	for _, c := range chunks {
		if _, err := dec.Write(c); err != nil {
			if errors.Is(err, ErrStreamDone) {
				break
			}
			t.Fatalf("write: %v", err)
		}
	}
	dec.Flush()
	return dec.Text(), rec.pushes
}

func TestDecoderSingleChunk(t *testing.T) {
	text, pushes := decodeChunks(t, [][]byte{[]byte(sampleStream)})
	if text != "Hello, wörld" {
		t.Fatalf("unexpected text %q", text)
	}
	want := []string{"Hel", "Hello, ", "Hello, wörld"}
	if !reflect.DeepEqual(pushes, want) {
		t.Fatalf("unexpected pushes %q", pushes)
	}
}

func TestDecoderChunkingInvariant(t *testing.T) {
	raw := []byte(sampleStream)
	wantText, wantPushes := decodeChunks(t, [][]byte{raw})

	for i := 0; i <= len(raw); i++ {
		for j := i; j <= len(raw); j += 7 {
			chunks := [][]byte{raw[:i], raw[i:j], raw[j:]}
			text, pushes := decodeChunks(t, chunks)
			if text != wantText || !reflect.DeepEqual(pushes, wantPushes) {
				t.Fatalf("split at %d/%d: got %q %q", i, j, text, pushes)
			}
		}
	}

	bytewise := make([][]byte, 0, len(raw))
	for i := range raw {
		bytewise = append(bytewise, raw[i:i+1])
	}
	text, pushes := decodeChunks(t, bytewise)
	if text != wantText || !reflect.DeepEqual(pushes, wantPushes) {
		t.Fatalf("byte-wise: got %q %q", text, pushes)
	}
}

func TestDecoderDoneStopsWrites(t *testing.T) {
	dec := NewStreamDecoder(nil, zerolog.Nop(), nil)
	_, err := dec.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\ndata: [DO"))
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	n, err := dec.Write([]byte("NE]\ndata: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n"))
	if !errors.Is(err, ErrStreamDone) {
		t.Fatalf("expected ErrStreamDone, got %v", err)
	}
	if n == 0 {
		t.Fatalf("write must report the chunk as consumed")
	}
	if dec.Text() != "a" || !dec.Done() {
		t.Fatalf("unexpected state text=%q done=%v", dec.Text(), dec.Done())
	}
}

func TestDecoderSkipsMalformedLine(t *testing.T) {
	stream := "data: {\"choices\":[{\"delta\":{\"content\":\"one \"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"two\"}}]}\n"
	rec := &recorder{}
	dec := NewStreamDecoder(rec.publish, zerolog.Nop(), nil)
	if _, err := dec.Write([]byte(stream)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if dec.Text() != "one two" {
		t.Fatalf("unexpected text %q", dec.Text())
	}
	if dec.Malformed() != 1 || len(rec.pushes) != 2 {
		t.Fatalf("expected 1 malformed and 2 pushes, got %d and %d", dec.Malformed(), len(rec.pushes))
	}
}

func TestDecoderFlushesUnterminatedLine(t *testing.T) {
	dec := NewStreamDecoder(nil, zerolog.Nop(), nil)
	if _, err := dec.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"tail\"}}]}")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if dec.Text() != "" {
		t.Fatalf("incomplete line must be held back")
	}
	dec.Flush()
	if dec.Text() != "tail" {
		t.Fatalf("expected flushed tail, got %q", dec.Text())
	}
}

func TestExtractImageURLOrder(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"data":[{"url":"https://x/img.png"}]}`, "https://x/img.png"},
		{`{"images":[{"url":"https://x/b.png"}]}`, "https://x/b.png"},
		{`{"url":"https://x/c.png"}`, "https://x/c.png"},
		{`{"data":[{"url":"https://x/first.png"}],"url":"https://x/last.png"}`, "https://x/first.png"},
		{`{"data":[],"images":[{"url":"https://x/fallback.png"}]}`, "https://x/fallback.png"},
	}
	for _, tc := range cases {
		got, err := ExtractImageURL([]byte(tc.body))
		if err != nil {
			t.Fatalf("%s: %v", tc.body, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.body, got, tc.want)
		}
	}
}
