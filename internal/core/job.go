package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/audibible/narrator/internal/tts"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

var (
	ErrNotInQueue  = errors.New("Job not found in queue")
	ErrJobNotFound = errors.New("Job not found")
)

// JobParams is what a client asks for. Chapter is 0 in full-book mode.
type JobParams struct {
	Book                string          `json:"book"`
	Chapter             int             `json:"chapter,omitempty"`
	Version             string          `json:"version"`
	MaxSentences        int             `json:"maxSentences,omitempty"`
	CreateVideo         bool            `json:"createVideo"`
	BackgroundImagePath string          `json:"backgroundImagePath,omitempty"`
	Credentials         tts.Credentials `json:"-"`
	TranscribeFullBook  bool            `json:"transcribeFullBook"`
}

type Job struct {
	ID          string     `json:"id"`
	Params      JobParams  `json:"params"`
	Status      JobStatus  `json:"status"`
	Position    int        `json:"position,omitempty"`
	QueuedAt    time.Time  `json:"queuedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
	Result      any        `json:"result,omitempty"`
}

// Duration is the processing time of a finished job, zero otherwise.
func (j Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// JobSummary is the queue listing view of a pending job.
type JobSummary struct {
	ID       string        `json:"id"`
	Status   JobStatus     `json:"status"`
	QueuedAt time.Time     `json:"queuedAt"`
	Position int           `json:"position"`
	Params   SummaryParams `json:"params"`
}

type SummaryParams struct {
	Book        string `json:"book"`
	Chapter     int    `json:"chapter,omitempty"`
	Version     string `json:"version"`
	CreateVideo bool   `json:"createVideo"`
}

func (j Job) Summary() JobSummary {
	return JobSummary{
		ID:       j.ID,
		Status:   j.Status,
		QueuedAt: j.QueuedAt,
		Position: j.Position,
		Params: SummaryParams{
			Book:        j.Params.Book,
			Chapter:     j.Params.Chapter,
			Version:     j.Params.Version,
			CreateVideo: j.Params.CreateVideo,
		},
	}
}

// NewJobID returns "{book}_{chapter|FullBook}_{epochMillis}".
func NewJobID(p JobParams, t time.Time) string {
	ch := strconv.Itoa(p.Chapter)
	if p.TranscribeFullBook {
		ch = "FullBook"
	}
	return fmt.Sprintf("%s_%s_%d", p.Book, ch, t.UnixMilli())
}

// JobEpoch extracts the submission time encoded in a job id.
func JobEpoch(id string) (time.Time, bool) {
	i := strings.LastIndexByte(id, '_')
	if i < 0 {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(id[i+1:], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// StageError is a pipeline failure attributed to one step.
type StageError struct {
	Step    string
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Step + " failed"
}

func (e *StageError) Unwrap() error {
	return e.Err
}
