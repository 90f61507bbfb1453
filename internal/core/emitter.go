package core

import (
	"fmt"

	"github.com/audibible/narrator/internal/progress"
)

// Publisher is the sending half of the progress channel.
type Publisher interface {
	Publish(jobID string, e progress.Event)
}

// BookContext places one chapter run inside a full-book job.
type BookContext struct {
	Index int // 1-based chapter number
	Total int
}

// emitter publishes the events of one chapter run. Progress events never go
// backwards, and inside a book they are mapped onto the chapter's share of
// the whole book.
type emitter struct {
	pub   Publisher
	jobID string
	book  *BookContext
	last  int
}

func newEmitter(pub Publisher, jobID string, book *BookContext) *emitter {
	return &emitter{pub: pub, jobID: jobID, book: book}
}

func (e *emitter) progress(step string, pct int, message, details string) {
	e.emit(progress.Event{Type: progress.TypeProgress, Step: step, Progress: pct, Message: message, Details: details})
}

func (e *emitter) warning(step, message, details string) {
	e.emit(progress.Event{Type: progress.TypeWarning, Step: step, Progress: e.last, Message: message, Details: details})
}

func (e *emitter) fail(step string, pct int, message string, err error) {
	e.emit(progress.Event{Type: progress.TypeError, Step: step, Progress: pct, Message: message, Error: err.Error()})
}

func (e *emitter) complete(message, details string, result any) {
	e.emit(progress.Event{Type: progress.TypeCompleted, Step: "completed", Progress: 100, Message: message, Details: details, Result: result})
}

func (e *emitter) emit(ev progress.Event) {
	ev.Progress = clamp(ev.Progress, 0, 100)
	if ev.Type == progress.TypeProgress || ev.Type == progress.TypeCompleted {
		if ev.Progress < e.last {
			ev.Progress = e.last
		}
		e.last = ev.Progress
	}

	if e.book != nil {
		ev = e.inBook(ev)
	}
	e.pub.Publish(e.jobID, ev)
}

// inBook rewrites a chapter event for the enclosing book job. The terminal
// events of a chapter must not end the book's stream.
func (e *emitter) inBook(ev progress.Event) progress.Event {
	ev.Progress = bookProgress(e.book.Index, e.book.Total, ev.Progress)
	ev.Message = fmt.Sprintf("Chapter %d/%d: %s", e.book.Index, e.book.Total, ev.Message)

	switch ev.Type {
	case progress.TypeCompleted:
		ev.Type = progress.TypeProgress
		ev.Step = "chapter_complete"
	case progress.TypeError:
		ev.Type = progress.TypeWarning
		ev.Details = ev.Step
		if ev.Error != "" {
			ev.Details = fmt.Sprintf("%s: %s", ev.Step, ev.Error)
		}
		ev.Step = "chapter_error"
		ev.Error = ""
	}
	return ev
}

// bookProgress maps chapter c's sub-progress p onto the book as
// (c-1)*100/T + p/T, rounding exact halves down.
func bookProgress(c, total, p int) int {
	if total < 1 {
		return p
	}
	num := (c-1)*100*100 + clamp(p, 0, 100)*100
	den := total * 100
	q, r := num/den, num%den
	if 2*r > den {
		q++
	}
	return q
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
