package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/audibible/narrator/internal/api"
	"github.com/audibible/narrator/internal/bible"
	"github.com/audibible/narrator/internal/config"
	"github.com/audibible/narrator/internal/core"
	"github.com/audibible/narrator/internal/db"
	"github.com/audibible/narrator/internal/logx"
	"github.com/audibible/narrator/internal/media"
	"github.com/audibible/narrator/internal/progress"
	"github.com/audibible/narrator/internal/retention"
	"github.com/audibible/narrator/internal/tts"
	"github.com/audibible/narrator/internal/webhook"
)

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	if err := config.LoadDotEnv(cmd.String("env")); err != nil {
		return nil, err
	}
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logx.Setup(logx.Config{
		Service:        "narrator",
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		FilePath:       cfg.Logging.File,
		FileMaxSizeMB:  cfg.Logging.FileMaxSizeMB,
		FileMaxBackups: cfg.Logging.FileMaxBackups,
		FileMaxAgeDays: cfg.Logging.FileMaxAgeDays,
		FileCompress:   cfg.Logging.FileCompress,
	})
	return cfg, nil
}

func retentionConfig(cfg *config.Config) retention.Config {
	return retention.Config{
		OutputDir:  cfg.Paths.OutputDir,
		TempDir:    cfg.Paths.TempDir,
		MaxAgeDays: cfg.Retention.MaxAgeDays,
		Interval:   cfg.Retention.Interval,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	for _, dir := range []string{cfg.Paths.OutputDir, cfg.Paths.TempDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	conn, err := db.Open(db.Config{Path: cfg.Paths.DBPath})
	if err != nil {
		return err
	}
	defer conn.Close()
	store := db.NewArtifactStore(conn)

	source, err := bible.NewSource(bible.SourceConfig{
		Kind:            cfg.Bible.Source,
		GatewayURL:      cfg.Bible.GatewayURL,
		LocalURL:        cfg.Bible.LocalURL,
		RequestInterval: cfg.Bible.RequestInterval,
		Timeout:         cfg.Bible.Timeout,
	})
	if err != nil {
		return err
	}

	ttsClient := tts.NewClient(tts.Config{
		BaseURL:  cfg.TTS.BaseURL,
		Timeout:  cfg.TTS.Timeout,
		Interval: cfg.TTS.Interval,
		Bitrate:  cfg.TTS.Bitrate,
	})

	mediaCfg := media.Config{
		FFmpegPath:  cfg.Media.FFmpegPath,
		FFprobePath: cfg.Media.FFprobePath,
		OutputDir:   cfg.Paths.OutputDir,
		WorkDir:     filepath.Join(cfg.Paths.TempDir, "video_work"),
	}
	assembler := media.NewAssembler(mediaCfg)
	composer := media.NewComposer(mediaCfg)

	if version, err := assembler.CheckFFmpeg(ctx); err != nil {
		log.Warn().Err(err).Msg("ffmpeg unavailable, audio merging and video will fail")
	} else {
		log.Info().Str("ffmpeg", version).Msg("ffmpeg detected")
	}

	hub := progress.NewChannel(cfg.Queue.ProgressCloseDelay)

	pipeline := core.NewPipeline(core.PipelineDeps{
		Source:      source,
		Synthesizer: tts.NewNarrator(ttsClient),
		Assembler:   assembler,
		Composer:    composer,
		Publisher:   hub,
		Artifacts:   store,
	}, core.PipelineConfig{
		TempDir:             cfg.Paths.TempDir,
		MaxChars:            cfg.Chunking.MaxChars,
		DefaultMaxSentences: cfg.Chunking.DefaultMaxSentences,
		StageTimeout:        cfg.Queue.StageTimeout,
	})

	sender := webhook.NewSender(cfg.Webhooks)
	sender.Start()
	defer sender.Stop()

	scheduler := core.NewScheduler(pipeline, sender, &cfg.Queue)
	scheduler.Start()
	defer scheduler.Stop()

	sweeper := retention.NewSweeper(store, retentionConfig(cfg))
	sweeper.Start()
	defer sweeper.Stop()

	router := api.NewRouter(cfg, api.Deps{
		Queue:     scheduler,
		Progress:  hub,
		Catalog:   store,
		Validator: ttsClient,
		FFmpeg:    assembler,
		Webhooks:  sender,
	})

	srv := newHTTPServer(fmt.Sprintf(":%d", cfg.Server.Port), router, cfg.Server.ReadTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Int("port", cfg.Server.Port).
			Str("bible_source", cfg.Bible.Source).
			Bool("fish_audio_configured", cfg.TTS.APIKey != "" && cfg.TTS.VoiceModelID != "").
			Bool("auth", cfg.Auth.Enabled).
			Msg("narrator listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newHTTPServer has no WriteTimeout because progress streams stay open for
// the whole job. Request contexts are cancelled when Shutdown begins so
// those streams return and their connections can go idle.
func newHTTPServer(addr string, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	base, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(cancel)
	return srv
}

func sweepAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("max-age-days") {
		cfg.Retention.MaxAgeDays = int(cmd.Int("max-age-days"))
	}

	conn, err := db.Open(db.Config{Path: cfg.Paths.DBPath})
	if err != nil {
		return err
	}
	defer conn.Close()

	report, err := retention.NewSweeper(db.NewArtifactStore(conn), retentionConfig(cfg)).RunSweep(ctx)
	if report != nil {
		fmt.Printf("artifacts removed: %d\ntemp entries removed: %d\nbytes freed: %d\n",
			report.ArtifactsRemoved, report.TempRemoved, report.BytesFreed)
	}
	return err
}
