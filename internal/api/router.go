// Package api assembles the HTTP surface.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/audibible/narrator/internal/api/handlers"
	"github.com/audibible/narrator/internal/api/middleware"
	"github.com/audibible/narrator/internal/config"
	"github.com/audibible/narrator/internal/tts"
)

type Deps struct {
	Queue     handlers.JobQueue
	Progress  handlers.ProgressHub
	Catalog   handlers.ArtifactCatalog
	Validator handlers.CredentialValidator
	FFmpeg    handlers.FFmpegChecker
	Webhooks  handlers.WebhookTester // optional
}

// NewRouter builds the gin engine with every endpoint mounted under /api.
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.AccessLog())
	r.MaxMultipartMemory = 8 << 20

	defaultCreds := tts.Credentials{APIKey: cfg.TTS.APIKey, VoiceModelID: cfg.TTS.VoiceModelID}
	auth := middleware.NewAuthMiddleware(cfg.Auth)
	admin := auth.RequireAdmin()

	g := r.Group("/api")
	auth.RegisterRoutes(g)

	handlers.NewSystemHandler(deps.Validator, deps.FFmpeg, handlers.SystemConfig{
		Port:               cfg.Server.Port,
		MaxChunkSize:       cfg.Chunking.MaxChars,
		DefaultCredentials: defaultCreds,
		BibleSource:        cfg.Bible.Source,
	}).RegisterRoutes(g)

	handlers.NewBibleHandler().RegisterRoutes(g)

	handlers.NewTranscribeHandler(deps.Queue, deps.Progress, handlers.TranscribeConfig{
		DefaultVersion:     cfg.Bible.DefaultVersion,
		DefaultCredentials: defaultCreds,
		TempDir:            cfg.Paths.TempDir,
		MinutesPerJob:      cfg.Queue.MinutesPerJob,
	}).RegisterRoutes(g, admin)

	handlers.NewFilesHandler(cfg.Paths.OutputDir, deps.Catalog).RegisterRoutes(g, admin)

	handlers.NewMediaHandler(handlers.MediaConfig{
		TempDir:        cfg.Paths.TempDir,
		MaxUploadBytes: cfg.Media.MaxUploadBytes,
	}).RegisterRoutes(g, admin)

	if deps.Webhooks != nil {
		handlers.NewWebhookHandler(deps.Webhooks).RegisterRoutes(g, admin)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, handlers.ErrorResponse{Success: false, Error: "Not found"})
	})

	return r
}
