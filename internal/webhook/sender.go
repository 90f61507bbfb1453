package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/audibible/narrator/internal/config"
	"github.com/audibible/narrator/internal/core"
)

const (
	EventJobQueued    = "job_queued"
	EventJobStarted   = "job_started"
	EventJobCompleted = "job_completed"
	EventJobFailed    = "job_failed"
	EventJobCancelled = "job_cancelled"
	EventTest         = "test"
)

var ErrUnknownTarget = errors.New("webhook not found")

type Payload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      JobData   `json:"data"`
	Signature string    `json:"signature,omitempty"`
}

type JobData struct {
	JobID        string `json:"job_id"`
	Book         string `json:"book"`
	Chapter      int    `json:"chapter,omitempty"`
	Version      string `json:"version"`
	FullBook     bool   `json:"full_book,omitempty"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Duration     int64  `json:"duration_ms,omitempty"`
}

type task struct {
	target  config.WebhookTarget
	payload Payload
	attempt int
}

// StatusError is a non-2xx answer from a webhook target.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http error: %d", e.Code)
}

// Sender delivers job lifecycle events to the configured targets from a
// small worker pool. Delivery is best effort: a full queue drops the event.
type Sender struct {
	targets    []config.WebhookTarget
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	workers    int
	now        func() time.Time

	queue  chan *task
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func NewSender(cfg config.WebhooksConfig) *Sender {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}

	return &Sender{
		targets:    cfg.Targets,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		workers:    cfg.Workers,
		now:        time.Now,
		queue:      make(chan *task, 100),
		stopCh:     make(chan struct{}),
	}
}

func (s *Sender) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop abandons pending deliveries and waits for in-flight ones.
func (s *Sender) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// SendJobEvent queues event for every target subscribed to it.
func (s *Sender) SendJobEvent(event string, job core.Job) error {
	payload := Payload{
		Event:     event,
		Timestamp: s.now().UTC(),
		Data:      jobData(job),
	}

	dropped := 0
	for _, target := range s.targets {
		if !subscribed(target, event) {
			continue
		}
		select {
		case s.queue <- &task{target: target, payload: payload}:
		default:
			dropped++
			log.Warn().Str("event", event).Str("url", target.URL).Msg("webhook queue full, dropping event")
		}
	}
	if dropped > 0 {
		return fmt.Errorf("dropped %d webhook deliveries for %s", dropped, event)
	}
	return nil
}

func jobData(job core.Job) JobData {
	d := JobData{
		JobID:    job.ID,
		Book:     job.Params.Book,
		Version:  job.Params.Version,
		FullBook: job.Params.TranscribeFullBook,
		Status:   string(job.Status),
		Duration: job.Duration().Milliseconds(),
	}
	if !job.Params.TranscribeFullBook {
		d.Chapter = job.Params.Chapter
	}
	if job.Status == core.JobStatusFailed {
		d.ErrorMessage = job.Error
	}
	return d
}

func subscribed(t config.WebhookTarget, event string) bool {
	return len(t.Events) == 0 || slices.Contains(t.Events, event)
}

func (s *Sender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case t := <-s.queue:
			if err := s.sendWithRetry(t); err != nil {
				log.Error().Err(err).
					Int("worker", id).
					Str("event", t.payload.Event).
					Str("url", t.target.URL).
					Int("attempts", t.attempt).
					Msg("webhook delivery failed")
			}
		}
	}
}

func (s *Sender) sendWithRetry(t *task) error {
	var lastErr error
	for t.attempt < s.maxRetries {
		t.attempt++

		err := s.send(context.Background(), t.target, t.payload)
		if err == nil {
			return nil
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
			return err
		}

		if t.attempt < s.maxRetries {
			backoff := s.retryDelay * time.Duration(1<<(t.attempt-1))
			log.Debug().Err(err).Int("attempt", t.attempt).Dur("backoff", backoff).Str("url", t.target.URL).Msg("retrying webhook")

			select {
			case <-s.stopCh:
				return errors.New("shutdown requested")
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *Sender) send(ctx context.Context, target config.WebhookTarget, payload Payload) error {
	data, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}
	if target.Secret != "" {
		payload.Signature = Sign(data, target.Secret)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", payload.Event)
	if payload.Signature != "" {
		req.Header.Set("X-Webhook-Signature", payload.Signature)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Targets returns the configured endpoints in config order.
func (s *Sender) Targets() []config.WebhookTarget {
	return slices.Clone(s.targets)
}

// Test delivers a single test event to the target at index, bypassing the
// queue and the retry policy.
func (s *Sender) Test(ctx context.Context, index int) error {
	if index < 0 || index >= len(s.targets) {
		return ErrUnknownTarget
	}
	return s.send(ctx, s.targets[index], Payload{
		Event:     EventTest,
		Timestamp: s.now().UTC(),
		Data: JobData{
			JobID:   "webhook-test",
			Book:    "Genesis",
			Chapter: 1,
			Version: "WEB",
			Status:  EventTest,
		},
	})
}

// Sign is the hex HMAC-SHA256 of the JSON-encoded data object.
func Sign(data []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
