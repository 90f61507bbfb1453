// Package media merges narration audio and renders chapter videos with
// ffmpeg.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/audibible/narrator/internal/logx"
)

// ProgressFunc receives sub-progress in percent and a status line. Values
// reported by ffmpeg can exceed 100.
type ProgressFunc func(percent int, message string)

type command struct {
	Name   string
	Args   []string
	OnLine func(line string) // stdout lines, nil to ignore
}

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type commandRunner interface {
	Run(ctx context.Context, cmd command) (commandResult, error)
}

// CommandError carries the failing invocation and its stderr tail.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	tail := lastLines(e.Stderr, 3)
	if tail == "" {
		return fmt.Sprintf("%s exited with code %d: %v", e.Command, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, tail)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, c command) (commandResult, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)

	var stdout, stderr bytes.Buffer
	var lines *logx.LineWriter
	if c.OnLine != nil {
		lines = logx.NewLineWriter(c.OnLine)
		cmd.Stdout = io.MultiWriter(&stdout, lines)
	} else {
		cmd.Stdout = &stdout
	}
	debug := logx.NewLogWriter(map[string]string{"cmd": c.Name}, zerolog.DebugLevel)
	cmd.Stderr = io.MultiWriter(&stderr, debug)

	err := cmd.Run()
	if lines != nil {
		lines.Flush()
	}
	debug.Flush()

	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, &CommandError{Command: c.Name, ExitCode: result.ExitCode, Stderr: result.Stderr, Err: err}
	}
	return result, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}

// progressTracker turns ffmpeg "-progress pipe:1" key=value lines into
// percentages of an expected total duration.
type progressTracker struct {
	totalSeconds float64
	report       func(pct int)
}

func (p *progressTracker) onLine(line string) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok || p.report == nil {
		return
	}

	switch key {
	case "out_time_us", "out_time_ms":
		// Both keys are microseconds in ffmpeg's progress output.
		us, err := strconv.ParseFloat(value, 64)
		if err != nil || p.totalSeconds <= 0 {
			return
		}
		p.report(int(us / 1e6 / p.totalSeconds * 100))
	case "progress":
		if value == "end" {
			p.report(100)
		}
	}
}
