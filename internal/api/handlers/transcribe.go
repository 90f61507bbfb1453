package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audibible/narrator/internal/bible"
	"github.com/audibible/narrator/internal/core"
	"github.com/audibible/narrator/internal/logx"
	"github.com/audibible/narrator/internal/progress"
	"github.com/audibible/narrator/internal/tts"
)

// JobQueue is the scheduler as seen by the HTTP layer.
type JobQueue interface {
	Submit(id string, params core.JobParams) core.SubmitResult
	Cancel(id string) (*core.Job, error)
	ClearHistory()
	Status() core.Status
	Get(id string) (*core.Job, error)
}

type ProgressHub interface {
	Subscribe(jobID string, s progress.Sink) func()
}

// chapterParam accepts a chapter as a JSON number, numeric string or null.
type chapterParam int

func (p *chapterParam) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`""`)) {
		*p = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("chapter must be a number")
	}
	*p = chapterParam(n)
	return nil
}

type TranscribeRequest struct {
	Book                string       `json:"book"`
	Chapter             chapterParam `json:"chapter"`
	Version             string       `json:"version"`
	MaxSentences        int          `json:"maxSentences"`
	FishAPIKey          string       `json:"fishApiKey"`
	VoiceModelID        string       `json:"voiceModelId"`
	CreateVideo         bool         `json:"createVideo"`
	BackgroundImagePath string       `json:"backgroundImagePath"`
	TranscribeFullBook  bool         `json:"transcribeFullBook"`
}

type QueueInfo struct {
	Position      int    `json:"position"`
	Length        int    `json:"length"`
	EstimatedWait string `json:"estimated_wait"`
}

type TranscribeResponse struct {
	Success     bool      `json:"success"`
	JobID       string    `json:"jobId"`
	Message     string    `json:"message"`
	ProgressURL string    `json:"progressUrl"`
	Queue       QueueInfo `json:"queue"`
}

type TranscribeConfig struct {
	DefaultVersion string
	// DefaultCredentials fill in whatever the request leaves empty.
	DefaultCredentials tts.Credentials
	TempDir            string
	MinutesPerJob      int
	StreamBuffer       int
	Heartbeat          time.Duration
}

type TranscribeHandler struct {
	queue    JobQueue
	progress ProgressHub
	cfg      TranscribeConfig
	now      func() time.Time
}

func NewTranscribeHandler(queue JobQueue, hub ProgressHub, cfg TranscribeConfig) *TranscribeHandler {
	if cfg.DefaultVersion == "" {
		cfg.DefaultVersion = "WEB"
	}
	if cfg.MinutesPerJob <= 0 {
		cfg.MinutesPerJob = 3
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = 256
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	return &TranscribeHandler{queue: queue, progress: hub, cfg: cfg, now: time.Now}
}

func (h *TranscribeHandler) Transcribe(c *gin.Context) {
	var req TranscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	params, msg := h.validate(req)
	if msg != "" {
		respondError(c, http.StatusBadRequest, msg)
		return
	}

	jobID := core.NewJobID(params, h.now())
	res := h.queue.Submit(jobID, params)

	logx.FromCtx(c.Request.Context()).Info().
		Str("job_id", res.JobID).
		Str("book", params.Book).
		Int("chapter", params.Chapter).
		Bool("full_book", params.TranscribeFullBook).
		Int("position", res.Position).
		Msg("transcription queued")

	message := "Transcription started"
	wait := "0 minutes"
	if res.Position > 1 {
		message = fmt.Sprintf("Job queued (position %d)", res.Position)
		wait = fmt.Sprintf("~%d minutes", (res.Position-1)*h.cfg.MinutesPerJob)
	}

	c.JSON(http.StatusOK, TranscribeResponse{
		Success:     true,
		JobID:       res.JobID,
		Message:     message,
		ProgressURL: "/api/progress/" + res.JobID,
		Queue: QueueInfo{
			Position:      res.Position,
			Length:        res.QueueLength,
			EstimatedWait: wait,
		},
	})
}

// validate turns a request into job params or returns the client-facing
// rejection message.
func (h *TranscribeHandler) validate(req TranscribeRequest) (core.JobParams, string) {
	book := strings.TrimSpace(req.Book)
	if book == "" {
		return core.JobParams{}, "Missing required parameter: book"
	}
	chapter := int(req.Chapter)
	if !req.TranscribeFullBook && chapter == 0 {
		return core.JobParams{}, "Missing required parameter: chapter (or enable full book transcription)"
	}

	creds := tts.Credentials{APIKey: req.FishAPIKey, VoiceModelID: req.VoiceModelID}
	if creds.APIKey == "" {
		creds.APIKey = h.cfg.DefaultCredentials.APIKey
	}
	if creds.VoiceModelID == "" {
		creds.VoiceModelID = h.cfg.DefaultCredentials.VoiceModelID
	}
	if !creds.Complete() {
		return core.JobParams{}, "Fish.Audio credentials not found. Please configure them in the .env file or via the web interface."
	}

	if req.TranscribeFullBook {
		if _, ok := bible.ChapterCount(book); !ok {
			return core.JobParams{}, "Invalid Bible book: " + book
		}
		chapter = 0
	} else if err := bible.CheckReference(book, chapter); err != nil {
		return core.JobParams{}, fmt.Sprintf("Invalid Bible reference: %s %d", book, chapter)
	}

	if req.BackgroundImagePath != "" && !h.insideTemp(req.BackgroundImagePath) {
		return core.JobParams{}, "Invalid background image path"
	}

	version := strings.ToUpper(strings.TrimSpace(req.Version))
	if version == "" {
		version = h.cfg.DefaultVersion
	}

	return core.JobParams{
		Book:                book,
		Chapter:             chapter,
		Version:             version,
		MaxSentences:        req.MaxSentences,
		CreateVideo:         req.CreateVideo,
		BackgroundImagePath: req.BackgroundImagePath,
		Credentials:         creds,
		TranscribeFullBook:  req.TranscribeFullBook,
	}, ""
}

func (h *TranscribeHandler) insideTemp(path string) bool {
	return withinDir(h.cfg.TempDir, path)
}

// withinDir reports whether path resolves to a location strictly below dir.
func withinDir(dir, path string) bool {
	if dir == "" {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Progress streams the job's events as server-sent events. The stream ends
// when the progress channel closes the sink or the client goes away.
func (h *TranscribeHandler) Progress(c *gin.Context) {
	jobID := c.Param("jobId")
	sink := progress.NewStreamSink(h.cfg.StreamBuffer)
	unsubscribe := h.progress.Subscribe(jobID, sink)
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	w := c.Writer
	if err := progress.Encode(w, progress.Connected()); err != nil {
		return
	}
	w.Flush()

	heartbeat := time.NewTicker(h.cfg.Heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-sink.Events():
			if err := progress.Encode(w, e); err != nil {
				return
			}
			w.Flush()
		case <-sink.Done():
			for _, e := range sink.Drain() {
				if err := progress.Encode(w, e); err != nil {
					return
				}
			}
			w.Flush()
			return
		case <-heartbeat.C:
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				return
			}
			w.Flush()
		}
	}
}

type queueResponse struct {
	Success bool `json:"success"`
	core.Status
}

func (h *TranscribeHandler) Queue(c *gin.Context) {
	c.JSON(http.StatusOK, queueResponse{Success: true, Status: h.queue.Status()})
}

func (h *TranscribeHandler) GetJob(c *gin.Context) {
	job, err := h.queue.Get(c.Param("jobId"))
	if err != nil {
		respondError(c, http.StatusNotFound, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "job": job})
}

func (h *TranscribeHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("jobId")
	job, err := h.queue.Cancel(jobID)
	if err != nil {
		if errors.Is(err, core.ErrNotInQueue) {
			respondError(c, http.StatusNotFound, err.Error())
			return
		}
		respondInternal(c, http.StatusInternalServerError, "Failed to cancel job", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("Job %s cancelled", jobID),
		"job":     job,
	})
}

func (h *TranscribeHandler) ClearCompleted(c *gin.Context) {
	h.queue.ClearHistory()
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Completed jobs history cleared"})
}

// RegisterRoutes mounts the job endpoints. Destructive ones go through admin.
func (h *TranscribeHandler) RegisterRoutes(r *gin.RouterGroup, admin gin.HandlerFunc) {
	r.POST("/transcribe", h.Transcribe)
	r.GET("/progress/:jobId", h.Progress)
	r.GET("/queue", h.Queue)
	r.GET("/queue/:jobId", h.GetJob)
	r.DELETE("/queue/:jobId", admin, h.CancelJob)
	r.POST("/queue/clear-completed", admin, h.ClearCompleted)
}
