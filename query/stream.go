package query

import (
	"context"
	"strings"
	"sync"

	"github.com/shenzihan666/search/llm"
)

// Stream is the engine's llm.Stream. Deltas are handed over on an
// unbuffered channel, so a slow consumer holds back the vendor read loop
// instead of growing a queue.
type Stream struct {
	deltas chan llm.StreamDelta
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once

	// producer side
	next int

	// consumer side
	cur llm.StreamDelta

	mu  sync.Mutex
	err error
}

var _ llm.Stream = (*Stream)(nil)

func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		deltas: make(chan llm.StreamDelta),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Next implements llm.Stream.
func (s *Stream) Next() bool {
	d, ok := <-s.deltas
	if !ok {
		return false
	}
	s.cur = d
	return true
}

// Delta implements llm.Stream.
func (s *Stream) Delta() llm.StreamDelta {
	return s.cur
}

// Err implements llm.Stream.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements llm.Stream.
func (s *Stream) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}

func (s *Stream) send(ctx context.Context, text string, fallback bool) error {
	d := llm.StreamDelta{Text: text, Index: s.next, Fallback: fallback}
	select {
	case s.deltas <- d:
		s.next++
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Stream) finish() {
	s.once.Do(s.cancel)
	close(s.deltas)
	close(s.done)
}

// Collect drains st and returns the concatenated text. It always closes st.
func Collect(st llm.Stream) (string, error) {
	defer st.Close()
	var b strings.Builder
	for st.Next() {
		b.WriteString(st.Delta().Text)
	}
	return b.String(), st.Err()
}
