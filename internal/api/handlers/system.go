package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audibible/narrator/internal/tts"
)

type CredentialValidator interface {
	ValidateCredentials(ctx context.Context, creds tts.Credentials) error
}

type FFmpegChecker interface {
	CheckFFmpeg(ctx context.Context) (string, error)
}

type SystemConfig struct {
	Port               int
	MaxChunkSize       int
	DefaultCredentials tts.Credentials
	BibleSource        string
}

type SystemHandler struct {
	validator CredentialValidator
	ffmpeg    FFmpegChecker
	cfg       SystemConfig
	now       func() time.Time
}

func NewSystemHandler(validator CredentialValidator, ffmpeg FFmpegChecker, cfg SystemConfig) *SystemHandler {
	return &SystemHandler{validator: validator, ffmpeg: ffmpeg, cfg: cfg, now: time.Now}
}

func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"message":   "Narrator API is running",
		"timestamp": h.now().UTC().Format(time.RFC3339Nano),
		"services": gin.H{
			"bibleSource":     h.cfg.BibleSource,
			"fishAudio":       "available",
			"audioProcessing": "available",
		},
	})
}

// Config summarizes what the server can do. The API key itself is never
// returned.
func (h *SystemHandler) Config(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	var ffmpegErr *string
	ffmpegVersion, err := h.ffmpeg.CheckFFmpeg(ctx)
	if err != nil {
		msg := err.Error()
		ffmpegErr = &msg
	}

	creds := h.cfg.DefaultCredentials
	var voiceModelID *string
	if creds.Complete() {
		voiceModelID = &creds.VoiceModelID
	}

	c.JSON(http.StatusOK, gin.H{
		"fishAudioConfigured":      creds.Complete(),
		"voiceModelId":             voiceModelID,
		"apiKeyConfigured":         creds.APIKey != "",
		"voiceModelConfigured":     creds.VoiceModelID != "",
		"maxChunkSize":             h.cfg.MaxChunkSize,
		"ffmpegAvailable":          err == nil,
		"ffmpegVersion":            ffmpegVersion,
		"ffmpegError":              ffmpegErr,
		"videoProcessingAvailable": err == nil,
		"port":                     h.cfg.Port,
	})
}

type validateCredentialsRequest struct {
	FishAPIKey   string `json:"fishApiKey"`
	VoiceModelID string `json:"voiceModelId"`
}

func (h *SystemHandler) ValidateCredentials(c *gin.Context) {
	var req validateCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FishAPIKey == "" || req.VoiceModelID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": "Both fishApiKey and voiceModelId are required"})
		return
	}

	err := h.validator.ValidateCredentials(c.Request.Context(), tts.Credentials{APIKey: req.FishAPIKey, VoiceModelID: req.VoiceModelID})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "message": "Credentials are valid"})
}

func (h *SystemHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/health", h.Health)
	r.GET("/config", h.Config)
	r.POST("/validate-credentials", h.ValidateCredentials)
}
