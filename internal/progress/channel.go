package progress

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultCloseDelay = 2 * time.Second

// Channel routes events to at most one sink per job id. Publishing never
// blocks the caller: a sink that fails a write is dropped.
type Channel struct {
	mu         sync.Mutex
	sinks      map[string]Sink
	closeDelay time.Duration
	afterFunc  func(d time.Duration, f func()) *time.Timer
}

func NewChannel(closeDelay time.Duration) *Channel {
	if closeDelay < 0 {
		closeDelay = DefaultCloseDelay
	}
	return &Channel{
		sinks:      make(map[string]Sink),
		closeDelay: closeDelay,
		afterFunc:  time.AfterFunc,
	}
}

// Subscribe registers s for jobID, closing any sink it replaces. The
// returned func removes s only if it is still the registered sink.
func (c *Channel) Subscribe(jobID string, s Sink) func() {
	c.mu.Lock()
	if old, ok := c.sinks[jobID]; ok && old != s {
		old.Close()
		log.Debug().Str("job_id", jobID).Msg("progress listener replaced")
	}
	c.sinks[jobID] = s
	c.mu.Unlock()

	return func() { c.remove(jobID, s) }
}

func (c *Channel) Unsubscribe(jobID string) {
	c.mu.Lock()
	s, ok := c.sinks[jobID]
	delete(c.sinks, jobID)
	c.mu.Unlock()

	if ok {
		s.Close()
	}
}

// Publish delivers e to the sink registered for jobID, if any. A completed
// event closes the sink after the grace delay, an error event closes it at
// once.
func (c *Channel) Publish(jobID string, e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sinks[jobID]
	if !ok {
		return
	}

	if err := s.Send(e); err != nil {
		log.Debug().Err(err).Str("job_id", jobID).Str("type", string(e.Type)).Msg("dropping progress listener")
		delete(c.sinks, jobID)
		s.Close()
		return
	}

	switch e.Type {
	case TypeCompleted:
		c.afterFunc(c.closeDelay, func() { c.remove(jobID, s) })
	case TypeError:
		delete(c.sinks, jobID)
		s.Close()
	}
}

// Active reports how many job ids currently have a listener.
func (c *Channel) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sinks)
}

func (c *Channel) remove(jobID string, s Sink) {
	c.mu.Lock()
	cur, ok := c.sinks[jobID]
	if ok && cur == s {
		delete(c.sinks, jobID)
	}
	c.mu.Unlock()

	s.Close()
}
