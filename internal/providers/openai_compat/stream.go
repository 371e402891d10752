package openai_compat

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"prism/internal/metrics"
	"prism/internal/providers"
)

// ErrStreamDone is returned by StreamDecoder.Write once the [DONE] sentinel
// was seen, which makes io.Copy stop reading.
var ErrStreamDone = errors.New("stream done")

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// StreamDecoder turns a server-sent chat completion stream into a running
// text accumulator. It is an io.Writer so chunks can arrive with any
// boundaries; only complete lines are interpreted.
type StreamDecoder struct {
	publish providers.Publish
	logger  zerolog.Logger
	metrics *metrics.Metrics

	pending   []byte
	acc       strings.Builder
	done      bool
	deltas    int
	malformed int
}

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func NewStreamDecoder(publish providers.Publish, logger zerolog.Logger, m *metrics.Metrics) *StreamDecoder {
	return &StreamDecoder{publish: publish, logger: logger, metrics: m}
}

func (d *StreamDecoder) Write(p []byte) (int, error) {
	if d.done {
		return len(p), ErrStreamDone
	}
	d.pending = append(d.pending, p...)
	for {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		line := d.pending[:i]
		d.pending = d.pending[i+1:]
		d.handleLine(line)
		if d.done {
			d.pending = nil
			return len(p), ErrStreamDone
		}
	}
	return len(p), nil
}

// Flush processes a final line that was not newline-terminated.
func (d *StreamDecoder) Flush() {
	if d.done || len(d.pending) == 0 {
		return
	}
	line := d.pending
	d.pending = nil
	d.handleLine(line)
}

func (d *StreamDecoder) Text() string   { return d.acc.String() }
func (d *StreamDecoder) Done() bool     { return d.done }
func (d *StreamDecoder) Deltas() int    { return d.deltas }
func (d *StreamDecoder) Malformed() int { return d.malformed }

func (d *StreamDecoder) handleLine(line []byte) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return
	}
	payload := line[len(dataPrefix):]
	payload = bytes.TrimPrefix(payload, []byte{' '})
	if len(bytes.TrimSpace(payload)) == 0 {
		return
	}
	if string(bytes.TrimSpace(payload)) == doneSentinel {
		d.done = true
		return
	}

	var ev streamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		d.malformed++
		if d.metrics != nil {
			d.metrics.MalformedEvents.Inc()
		}
		d.logger.Warn().Err(err).Int("bytes", len(payload)).Msg("skipping malformed stream event")
		return
	}
	if len(ev.Choices) == 0 || ev.Choices[0].Delta.Content == "" {
		return
	}

	d.acc.WriteString(ev.Choices[0].Delta.Content)
	d.deltas++
	if d.metrics != nil {
		d.metrics.StreamDeltas.Inc()
	}
	if d.publish != nil {
		d.publish(d.acc.String())
	}
}
