package logx

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LineWriter is an io.Writer that hands every complete line to a callback.
// Partial lines are buffered until the next newline or Flush.
type LineWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
	fn  func(line string)
}

func NewLineWriter(fn func(line string)) *LineWriter {
	return &LineWriter{fn: fn}
}

// NewLogWriter logs each line at level with the given fields.
func NewLogWriter(fields map[string]string, level zerolog.Level) *LineWriter {
	w := log.Logger.With()
	for k, v := range fields {
		w = w.Str(k, v)
	}
	logger := w.Logger()
	return NewLineWriter(func(line string) {
		logger.WithLevel(level).Msg(line)
	})
}

func (lw *LineWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	lw.buf.Write(p)
	for {
		idx := bytes.IndexAny(lw.buf.Bytes(), "\r\n")
		if idx < 0 {
			break
		}
		line := string(lw.buf.Next(idx + 1)[:idx])
		if line != "" {
			lw.fn(line)
		}
	}
	return len(p), nil
}

func (lw *LineWriter) Flush() {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.buf.Len() > 0 {
		lw.fn(lw.buf.String())
		lw.buf.Reset()
	}
}
