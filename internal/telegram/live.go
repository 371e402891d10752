package telegram

import (
	"strings"
	"time"
)

const maxMessageRunes = 4000

// liveMessage shows a streamed answer by editing one chat message, at most
// once per interval.
type liveMessage struct {
	send     func(text string) (int64, error)
	edit     func(messageID int64, text string) error
	interval time.Duration
	now      func() time.Time

	id    int64
	last  time.Time
	shown string
}

func newLiveMessage(send func(string) (int64, error), edit func(int64, string) error, interval time.Duration) *liveMessage {
	return &liveMessage{send: send, edit: edit, interval: interval, now: time.Now}
}

// Update is used as the stream publish callback. Errors are dropped since a
// later update or Finish will retry with newer text.
func (m *liveMessage) Update(text string) {
	if m.id != 0 && m.now().Sub(m.last) < m.interval {
		return
	}
	_ = m.show(text)
}

// Finish shows the final text regardless of throttling.
func (m *liveMessage) Finish(text string) error {
	return m.show(text)
}

func (m *liveMessage) show(text string) error {
	text = truncateRunes(strings.TrimSpace(text), maxMessageRunes)
	if text == "" {
		text = "…"
	}
	if text == m.shown {
		return nil
	}
	m.last = m.now()
	if m.id == 0 {
		id, err := m.send(text)
		if err != nil {
			return err
		}
		m.id = id
		m.shown = text
		return nil
	}
	if err := m.edit(m.id, text); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
			return nil
		}
		return err
	}
	m.shown = text
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
