package progress

import (
	"errors"
	"sync"
)

var (
	ErrSinkFull   = errors.New("progress sink buffer full")
	ErrSinkClosed = errors.New("progress sink closed")
)

// Sink receives the events of one job. Send must not block.
type Sink interface {
	Send(e Event) error
	Close()
}

// StreamSink buffers events for an HTTP stream. The consumer reads Events
// until Done is closed and then drains what is left.
type StreamSink struct {
	mu     sync.Mutex
	events chan Event
	done   chan struct{}
	closed bool
}

func NewStreamSink(buffer int) *StreamSink {
	if buffer < 1 {
		buffer = 64
	}
	return &StreamSink{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

func (s *StreamSink) Send(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.events <- e:
		return nil
	default:
		return ErrSinkFull
	}
}

func (s *StreamSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

func (s *StreamSink) Events() <-chan Event {
	return s.events
}

func (s *StreamSink) Done() <-chan struct{} {
	return s.done
}

// Drain returns the events still buffered without waiting.
func (s *StreamSink) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-s.events:
			out = append(out, e)
		default:
			return out
		}
	}
}
