package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audibible/narrator/internal/config"
	"github.com/audibible/narrator/internal/core"
)

type delivery struct {
	header http.Header
	body   []byte
}

type recorder struct {
	mu         sync.Mutex
	deliveries []delivery
	status     func(n int) int
	hits       atomic.Int32
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	n := int(r.hits.Add(1))
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.deliveries = append(r.deliveries, delivery{header: req.Header.Clone(), body: body})
	r.mu.Unlock()

	code := http.StatusOK
	if r.status != nil {
		code = r.status(n)
	}
	w.WriteHeader(code)
}

func (r *recorder) received() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery(nil), r.deliveries...)
}

func newTestSender(t *testing.T, targets ...config.WebhookTarget) *Sender {
	t.Helper()
	s := NewSender(config.WebhooksConfig{
		Workers:    1,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		Timeout:    time.Second,
		Targets:    targets,
	})
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func finishedJob(status core.JobStatus) core.Job {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	done := started.Add(1500 * time.Millisecond)
	return core.Job{
		ID:          "John_3_1714564800000",
		Params:      core.JobParams{Book: "John", Chapter: 3, Version: "WEB"},
		Status:      status,
		StartedAt:   &started,
		CompletedAt: &done,
		Error:       "Audio processing failed",
	}
}

func TestSendJobEventSignsPayload(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	s := newTestSender(t, config.WebhookTarget{URL: srv.URL, Secret: "s3cret"})
	require.NoError(t, s.SendJobEvent(EventJobFailed, finishedJob(core.JobStatusFailed)))

	require.Eventually(t, func() bool { return len(rec.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	d := rec.received()[0]

	var got struct {
		Event     string          `json:"event"`
		Data      json.RawMessage `json:"data"`
		Signature string          `json:"signature"`
	}
	require.NoError(t, json.Unmarshal(d.body, &got))
	assert.Equal(t, EventJobFailed, got.Event)
	assert.Equal(t, EventJobFailed, d.header.Get("X-Webhook-Event"))
	assert.Equal(t, Sign(got.Data, "s3cret"), got.Signature)
	assert.Equal(t, got.Signature, d.header.Get("X-Webhook-Signature"))

	var data JobData
	require.NoError(t, json.Unmarshal(got.Data, &data))
	assert.Equal(t, "John_3_1714564800000", data.JobID)
	assert.Equal(t, 3, data.Chapter)
	assert.Equal(t, "failed", data.Status)
	assert.Equal(t, "Audio processing failed", data.ErrorMessage)
	assert.Equal(t, int64(1500), data.Duration)
}

func TestUnsignedWithoutSecret(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	s := newTestSender(t, config.WebhookTarget{URL: srv.URL})
	require.NoError(t, s.SendJobEvent(EventJobCompleted, finishedJob(core.JobStatusCompleted)))

	require.Eventually(t, func() bool { return len(rec.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	d := rec.received()[0]
	assert.Empty(t, d.header.Get("X-Webhook-Signature"))

	var p Payload
	require.NoError(t, json.Unmarshal(d.body, &p))
	assert.Empty(t, p.Signature)
	assert.Empty(t, p.Data.ErrorMessage, "only failures carry an error")
}

func TestEventFilter(t *testing.T) {
	all := &recorder{}
	allSrv := httptest.NewServer(all)
	defer allSrv.Close()
	failures := &recorder{}
	failSrv := httptest.NewServer(failures)
	defer failSrv.Close()

	s := newTestSender(t,
		config.WebhookTarget{URL: allSrv.URL},
		config.WebhookTarget{URL: failSrv.URL, Events: []string{EventJobFailed}},
	)
	require.NoError(t, s.SendJobEvent(EventJobStarted, finishedJob(core.JobStatusProcessing)))
	require.NoError(t, s.SendJobEvent(EventJobFailed, finishedJob(core.JobStatusFailed)))

	require.Eventually(t, func() bool { return len(all.received()) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(failures.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, EventJobFailed, failures.received()[0].header.Get("X-Webhook-Event"))
}

func TestRetriesServerErrors(t *testing.T) {
	rec := &recorder{status: func(n int) int {
		if n < 3 {
			return http.StatusBadGateway
		}
		return http.StatusOK
	}}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	s := newTestSender(t, config.WebhookTarget{URL: srv.URL})
	require.NoError(t, s.SendJobEvent(EventJobQueued, finishedJob(core.JobStatusQueued)))

	require.Eventually(t, func() bool { return rec.hits.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), rec.hits.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	rec := &recorder{status: func(int) int { return http.StatusUnauthorized }}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	s := newTestSender(t, config.WebhookTarget{URL: srv.URL})
	require.NoError(t, s.SendJobEvent(EventJobCancelled, finishedJob(core.JobStatusCancelled)))

	require.Eventually(t, func() bool { return rec.hits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), rec.hits.Load())
}

func TestFullQueueDropsEvents(t *testing.T) {
	s := NewSender(config.WebhooksConfig{Targets: []config.WebhookTarget{{URL: "http://127.0.0.1:1"}}})

	var err error
	for i := 0; i < cap(s.queue)+1; i++ {
		err = s.SendJobEvent(EventJobQueued, finishedJob(core.JobStatusQueued))
	}
	assert.ErrorContains(t, err, "dropped 1 webhook deliveries")
}

func TestSign(t *testing.T) {
	assert.Equal(t,
		"f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8",
		Sign([]byte("The quick brown fox jumps over the lazy dog"), "key"))
}

func TestTestDelivery(t *testing.T) {
	rec := &recorder{status: func(int) int { return http.StatusTeapot }}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	s := NewSender(config.WebhooksConfig{Targets: []config.WebhookTarget{
		{URL: srv.URL, Secret: "abc"},
	}})

	err := s.Test(context.Background(), 0)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTeapot, se.Code)
	assert.Equal(t, int32(1), rec.hits.Load(), "test deliveries are never retried")

	got := rec.received()[0]
	assert.Equal(t, EventTest, got.header.Get("X-Webhook-Event"))
	assert.NotEmpty(t, got.header.Get("X-Webhook-Signature"))

	assert.ErrorIs(t, s.Test(context.Background(), 1), ErrUnknownTarget)
	assert.Len(t, s.Targets(), 1)
}
