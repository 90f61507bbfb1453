package core

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/audibible/narrator/internal/config"
	"github.com/audibible/narrator/internal/logx"
)

// Runner executes one job to completion. A returned error fails the job.
type Runner interface {
	Run(ctx context.Context, job Job) (any, error)
}

// WebhookSender is told about job lifecycle transitions.
type WebhookSender interface {
	SendJobEvent(event string, job Job) error
}

type SubmitResult struct {
	JobID       string `json:"jobId"`
	Position    int    `json:"position"`
	QueueLength int    `json:"queueLength"`
}

type Status struct {
	Processing      bool         `json:"processing"`
	CurrentJob      *Job         `json:"currentJob"`
	QueueLength     int          `json:"queueLength"`
	Queue           []JobSummary `json:"queue"`
	RecentCompleted []Job        `json:"recentCompleted"`
}

// Scheduler runs submitted jobs one at a time in submission order and keeps
// a bounded history of finished ones.
type Scheduler struct {
	runner        Runner
	webhookSender WebhookSender
	config        *config.QueueConfig
	now           func() time.Time

	mu      sync.RWMutex
	queue   []*Job
	current *Job
	history []*Job // newest first

	wakeCh  chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

func NewScheduler(runner Runner, ws WebhookSender, cfg *config.QueueConfig) *Scheduler {
	if cfg == nil {
		cfg = &config.QueueConfig{
			MaxCompletedJobs: 50,
			RecentCompleted:  5,
		}
	}
	if cfg.MaxCompletedJobs < 1 {
		cfg.MaxCompletedJobs = 50
	}
	if cfg.RecentCompleted < 0 {
		cfg.RecentCompleted = 5
	}

	return &Scheduler{
		runner:        runner,
		webhookSender: ws,
		config:        cfg,
		now:           time.Now,
		wakeCh:        make(chan struct{}, 1),
		ctx:           context.Background(),
	}
}

// Start launches the dispatcher. A stopped scheduler can be started again.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.ctx, s.cancel = context.WithCancel(context.Background())
	stopCh, doneCh := s.stopCh, s.doneCh
	pending := len(s.queue) > 0
	s.mu.Unlock()

	go s.dispatcher(stopCh, doneCh)
	if pending {
		s.wake()
	}
}

// Stop ends the dispatcher and cancels the context of a running job, then
// waits for the dispatcher to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh, doneCh, cancel := s.stopCh, s.doneCh, s.cancel
	s.mu.Unlock()

	close(stopCh)
	cancel()
	<-doneCh
}

// Submit appends a job to the queue tail and returns immediately. The
// dispatcher picks it up on its next turn.
func (s *Scheduler) Submit(id string, params JobParams) SubmitResult {
	now := s.now()
	if id == "" {
		id = NewJobID(params, now)
	}

	s.mu.Lock()
	id = s.freeID(id)
	job := &Job{
		ID:       id,
		Params:   params,
		Status:   JobStatusQueued,
		QueuedAt: now,
	}
	s.queue = append(s.queue, job)
	s.renumber()
	res := SubmitResult{JobID: id, Position: job.Position, QueueLength: len(s.queue)}
	snapshot := *job
	s.mu.Unlock()

	log.Info().Str("job_id", id).Int("position", res.Position).Msg("job queued")
	s.notify("job_queued", snapshot)
	s.wake()

	return res
}

// Cancel removes a job that has not started yet.
func (s *Scheduler) Cancel(id string) (*Job, error) {
	s.mu.Lock()
	idx := -1
	for i, j := range s.queue {
		if j.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return nil, ErrNotInQueue
	}

	job := s.queue[idx]
	s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
	s.renumber()

	now := s.now()
	job.Status = JobStatusCancelled
	job.Position = 0
	job.CompletedAt = &now
	s.record(job)
	snapshot := *job
	s.mu.Unlock()

	log.Info().Str("job_id", id).Msg("job cancelled")
	s.notify("job_cancelled", snapshot)

	return &snapshot, nil
}

// ClearHistory forgets finished jobs. Pending and current jobs are kept.
func (s *Scheduler) ClearHistory() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}

func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Processing:      s.current != nil,
		QueueLength:     len(s.queue),
		Queue:           make([]JobSummary, 0, len(s.queue)),
		RecentCompleted: make([]Job, 0, s.config.RecentCompleted),
	}
	if s.current != nil {
		cur := *s.current
		st.CurrentJob = &cur
	}
	for _, j := range s.queue {
		st.Queue = append(st.Queue, j.Summary())
	}
	for i := 0; i < len(s.history) && i < s.config.RecentCompleted; i++ {
		st.RecentCompleted = append(st.RecentCompleted, *s.history[i])
	}
	return st
}

// History returns the retained finished jobs, newest first.
func (s *Scheduler) History() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, len(s.history))
	for i, j := range s.history {
		out[i] = *j
	}
	return out
}

// Get looks a job up in the current slot, the queue and the history.
func (s *Scheduler) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current != nil && s.current.ID == id {
		j := *s.current
		return &j, nil
	}
	for _, j := range s.queue {
		if j.ID == id {
			cp := *j
			return &cp, nil
		}
	}
	for _, j := range s.history {
		if j.ID == id {
			cp := *j
			return &cp, nil
		}
	}
	return nil, ErrJobNotFound
}

// freeID returns id, or the nearest unused variant of it when a job with the
// same id is already known. Ids carrying an epoch suffix get the suffix
// bumped a millisecond at a time so JobEpoch keeps working. Caller holds mu.
func (s *Scheduler) freeID(id string) string {
	if !s.knownLocked(id) {
		return id
	}
	if at, ok := JobEpoch(id); ok {
		prefix := id[:strings.LastIndexByte(id, '_')+1]
		for ms := at.UnixMilli() + 1; ; ms++ {
			candidate := prefix + strconv.FormatInt(ms, 10)
			if !s.knownLocked(candidate) {
				return candidate
			}
		}
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", id, n)
		if !s.knownLocked(candidate) {
			return candidate
		}
	}
}

func (s *Scheduler) knownLocked(id string) bool {
	if s.current != nil && s.current.ID == id {
		return true
	}
	for _, j := range s.queue {
		if j.ID == id {
			return true
		}
	}
	for _, j := range s.history {
		if j.ID == id {
			return true
		}
	}
	return false
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatcher(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case <-s.wakeCh:
		}

		for s.processNext() {
			select {
			case <-stopCh:
				return
			default:
			}
			runtime.Gosched()
		}
	}
}

// processNext runs the queue head if the slot is free. It reports whether a
// job was run.
func (s *Scheduler) processNext() bool {
	s.mu.Lock()
	if s.current != nil || len(s.queue) == 0 {
		s.mu.Unlock()
		return false
	}

	job := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.renumber()

	started := s.now()
	job.Status = JobStatusProcessing
	job.Position = 0
	job.StartedAt = &started
	s.current = job
	snapshot := *job
	base := s.ctx
	s.mu.Unlock()

	logger := log.With().Str("job_id", job.ID).Logger()
	logger.Info().Str("book", job.Params.Book).Int("chapter", job.Params.Chapter).Msg("job started")
	s.notify("job_started", snapshot)

	ctx := logx.WithJob(base, job.ID)
	result, err := s.run(ctx, snapshot)

	s.mu.Lock()
	finished := s.now()
	job.CompletedAt = &finished
	if err != nil {
		job.Status = JobStatusFailed
		job.Error = err.Error()
	} else {
		job.Status = JobStatusCompleted
		job.Result = result
	}
	s.record(job)
	s.current = nil
	snapshot = *job
	s.mu.Unlock()

	if err != nil {
		logger.Error().Err(err).Dur("duration", snapshot.Duration()).Msg("job failed")
		s.notify("job_failed", snapshot)
	} else {
		logger.Info().Dur("duration", snapshot.Duration()).Msg("job completed")
		s.notify("job_completed", snapshot)
	}

	return true
}

func (s *Scheduler) run(ctx context.Context, job Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return s.runner.Run(ctx, job)
}

// record pushes a finished job to the front of the history. Caller holds mu.
func (s *Scheduler) record(job *Job) {
	s.history = append([]*Job{job}, s.history...)
	if len(s.history) > s.config.MaxCompletedJobs {
		for i := s.config.MaxCompletedJobs; i < len(s.history); i++ {
			s.history[i] = nil
		}
		s.history = s.history[:s.config.MaxCompletedJobs]
	}
}

// renumber keeps queued positions contiguous from 1. Caller holds mu.
func (s *Scheduler) renumber() {
	for i, j := range s.queue {
		j.Position = i + 1
	}
}

func (s *Scheduler) notify(event string, job Job) {
	if s.webhookSender == nil {
		return
	}
	if err := s.webhookSender.SendJobEvent(event, job); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Str("event", event).Msg("webhook dispatch failed")
	}
}
