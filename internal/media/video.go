package media

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type VideoMetadata struct {
	Book       string    `json:"book"`
	Chapter    int       `json:"chapter"`
	Version    string    `json:"version"`
	Duration   int       `json:"duration"`
	FileSize   int64     `json:"fileSize"`
	VideoCodec string    `json:"videoCodec"`
	AudioCodec string    `json:"audioCodec"`
	Resolution string    `json:"resolution"`
	CreatedAt  time.Time `json:"createdAt"`
	Type       string    `json:"type"`
}

type VideoResult struct {
	Path     string
	Filename string
	Metadata VideoMetadata
}

// Composer renders a still background image and a chapter's audio into an
// MP4.
type Composer struct {
	ffmpegPath   string
	outputDir    string
	workDir      string
	runner       commandRunner
	probe        *prober
	now          func() time.Time
	prepareImage func(src, dst string) error
	remove       func(name string) error
	stat         func(name string) (os.FileInfo, error)
}

func NewComposer(cfg Config) *Composer {
	cfg = withDefaults(cfg)
	return newComposer(cfg, &execRunner{})
}

func newComposer(cfg Config, runner commandRunner) *Composer {
	return &Composer{
		ffmpegPath:   cfg.FFmpegPath,
		outputDir:    cfg.OutputDir,
		workDir:      cfg.WorkDir,
		runner:       runner,
		probe:        &prober{path: cfg.FFprobePath, runner: runner},
		now:          time.Now,
		prepareImage: PrepareImage,
		remove:       os.Remove,
		stat:         os.Stat,
	}
}

func (c *Composer) CreateChapterVideo(ctx context.Context, imagePath, audioPath, book string, chapter int, version string, onProgress ProgressFunc) (*VideoResult, error) {
	if onProgress == nil {
		onProgress = func(int, string) {}
	}

	filename := OutputName(book, chapter, version, true, c.now())
	output := filepath.Join(c.outputDir, filename)
	if err := os.MkdirAll(c.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	prepared := filepath.Join(c.workDir, fmt.Sprintf("processed_%d.jpg", c.now().UnixNano()))
	if err := c.prepareImage(imagePath, prepared); err != nil {
		return nil, fmt.Errorf("Image processing failed: %w", err)
	}
	defer c.remove(prepared)

	duration := 60
	if info, err := c.probe.Probe(ctx, audioPath); err == nil && info.DurationSeconds > 0 {
		duration = int(math.Ceil(info.DurationSeconds))
	}

	onProgress(10, "Creating video from image and audio...")

	args := []string{
		"-y", "-hide_banner", "-nostats", "-progress", "pipe:1",
		"-loop", "1", "-framerate", "1", "-i", prepared,
		"-i", audioPath,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-t", strconv.Itoa(duration),
		"-pix_fmt", "yuv420p",
		"-shortest",
		"-movflags", "+faststart",
		output,
	}

	onProgress(20, "Starting video generation...")
	tracker := &progressTracker{totalSeconds: float64(duration), report: func(p int) {
		pct := int(math.Round(20 + float64(p)*0.7))
		onProgress(pct, fmt.Sprintf("Creating video: %d%%", pct))
	}}
	if _, err := c.runner.Run(ctx, command{Name: c.ffmpegPath, Args: args, OnLine: tracker.onLine}); err != nil {
		return nil, fmt.Errorf("Video creation failed: %w", err)
	}

	onProgress(95, "Video created, getting metadata...")

	meta := VideoMetadata{
		Book:       book,
		Chapter:    chapter,
		Version:    version,
		VideoCodec: "h264",
		AudioCodec: "aac",
		Resolution: fmt.Sprintf("%dx%d", VideoWidth, VideoHeight),
		CreatedAt:  c.now(),
		Type:       "video",
	}
	if fi, err := c.stat(output); err == nil {
		meta.FileSize = fi.Size()
	}
	if info, err := c.probe.Probe(ctx, output); err == nil {
		meta.Duration = int(info.DurationSeconds + 0.5)
		if info.VideoCodec != "" {
			meta.VideoCodec = info.VideoCodec
		}
		if info.AudioCodec != "" {
			meta.AudioCodec = info.AudioCodec
		}
		if r := info.Resolution(); r != "" {
			meta.Resolution = r
		}
	}

	onProgress(100, "Video creation completed")

	return &VideoResult{Path: output, Filename: filename, Metadata: meta}, nil
}
