// Package retention removes narrated files past their retention period and
// working files abandoned by interrupted jobs.
package retention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/audibible/narrator/internal/db"
)

// TempMaxAge is how long an entry may sit in the temp dir before it is
// considered abandoned.
const TempMaxAge = 24 * time.Hour

type Catalog interface {
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]*db.Artifact, error)
	DeleteByFilename(ctx context.Context, filename string) (bool, error)
}

type Config struct {
	OutputDir string
	TempDir   string
	// PersistentDir is never swept.
	PersistentDir string
	MaxAgeDays    int // 0 keeps artifacts forever
	Interval      time.Duration
}

type Report struct {
	ArtifactsRemoved int   `json:"artifactsRemoved"`
	TempRemoved      int   `json:"tempRemoved"`
	BytesFreed       int64 `json:"bytesFreed"`
}

type Sweeper struct {
	catalog Catalog
	cfg     Config
	now     func() time.Time

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewSweeper(catalog Catalog, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.PersistentDir == "" && cfg.TempDir != "" {
		cfg.PersistentDir = filepath.Join(cfg.TempDir, "persistent_images")
	}
	return &Sweeper{
		catalog: catalog,
		cfg:     cfg,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.loop()
}

func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			if _, err := s.RunSweep(ctx); err != nil {
				log.Error().Err(err).Msg("retention sweep failed")
			}
			cancel()
		}
	}
}

// RunSweep performs one pass. Concurrent calls are serialized.
func (s *Sweeper) RunSweep(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{}
	var errs []error

	if s.cfg.MaxAgeDays > 0 {
		if err := s.sweepArtifacts(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	if s.cfg.TempDir != "" {
		if err := s.sweepTemp(report); err != nil {
			errs = append(errs, err)
		}
	}

	log.Info().
		Int("artifacts", report.ArtifactsRemoved).
		Int("temp", report.TempRemoved).
		Int64("bytes", report.BytesFreed).
		Msg("retention sweep finished")

	return report, errors.Join(errs...)
}

func (s *Sweeper) sweepArtifacts(ctx context.Context, report *Report) error {
	cutoff := s.now().AddDate(0, 0, -s.cfg.MaxAgeDays)
	expired, err := s.catalog.ListOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list expired artifacts: %w", err)
	}

	for _, a := range expired {
		path := filepath.Join(s.cfg.OutputDir, filepath.Base(a.Filename))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", a.Filename).Msg("failed to remove expired artifact")
			continue
		}
		if _, err := s.catalog.DeleteByFilename(ctx, a.Filename); err != nil {
			return fmt.Errorf("delete artifact %s: %w", a.Filename, err)
		}
		report.ArtifactsRemoved++
		report.BytesFreed += a.SizeBytes
	}
	return nil
}

func (s *Sweeper) sweepTemp(report *Report) error {
	entries, err := os.ReadDir(s.cfg.TempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read temp dir: %w", err)
	}

	persistent, _ := filepath.Abs(s.cfg.PersistentDir)
	cutoff := s.now().Add(-TempMaxAge)

	for _, e := range entries {
		path := filepath.Join(s.cfg.TempDir, e.Name())
		if abs, _ := filepath.Abs(path); abs == persistent {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		size := entrySize(path, info)
		if err := os.RemoveAll(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to remove stale temp entry")
			continue
		}
		report.TempRemoved++
		report.BytesFreed += size
	}
	return nil
}

func entrySize(path string, info os.FileInfo) int64 {
	if !info.IsDir() {
		return info.Size()
	}
	var total int64
	filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += fi.Size()
		}
		return nil
	})
	return total
}
