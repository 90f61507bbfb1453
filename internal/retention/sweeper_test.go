package retention

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audibible/narrator/internal/db"
)

func writeAged(t *testing.T, path string, size int, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestRunSweep(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	outDir := filepath.Join(root, "output")
	tempDir := filepath.Join(root, "uploads")
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	conn, err := db.Open(db.Config{Path: filepath.Join(root, "narrator.db")})
	require.NoError(t, err)
	defer conn.Close()
	store := db.NewArtifactStore(conn)

	old := &db.Artifact{JobID: "Ruth_1_1", Filename: "Ruth_1_WEB_old.mp3", Kind: db.KindAudio, Book: "Ruth", Chapter: 1, Version: "WEB", SizeBytes: 10, CreatedAt: now.AddDate(0, 0, -40)}
	fresh := &db.Artifact{JobID: "Ruth_2_1", Filename: "Ruth_2_WEB_new.mp3", Kind: db.KindAudio, Book: "Ruth", Chapter: 2, Version: "WEB", SizeBytes: 20, CreatedAt: now.AddDate(0, 0, -2)}
	require.NoError(t, store.Create(ctx, old))
	require.NoError(t, store.Create(ctx, fresh))
	writeAged(t, filepath.Join(outDir, old.Filename), 10, old.CreatedAt)
	writeAged(t, filepath.Join(outDir, fresh.Filename), 20, fresh.CreatedAt)

	stale := filepath.Join(tempDir, "Ruth_3_1700000000000")
	writeAged(t, filepath.Join(stale, "chunk_1.mp3"), 7, now.Add(-48*time.Hour))
	require.NoError(t, os.Chtimes(stale, now.Add(-48*time.Hour), now.Add(-48*time.Hour)))
	active := filepath.Join(tempDir, "Ruth_4_1717200000000")
	writeAged(t, filepath.Join(active, "chunk_1.mp3"), 7, now)
	require.NoError(t, os.Chtimes(active, now, now))
	kept := filepath.Join(tempDir, "persistent_images", "bg.png")
	writeAged(t, kept, 3, now.AddDate(-1, 0, 0))
	require.NoError(t, os.Chtimes(filepath.Dir(kept), now.AddDate(-1, 0, 0), now.AddDate(-1, 0, 0)))

	s := NewSweeper(store, Config{OutputDir: outDir, TempDir: tempDir, MaxAgeDays: 30})
	s.now = func() time.Time { return now }

	report, err := s.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ArtifactsRemoved)
	assert.Equal(t, 1, report.TempRemoved)
	assert.Equal(t, int64(17), report.BytesFreed)

	_, err = os.Stat(filepath.Join(outDir, old.Filename))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(outDir, fresh.Filename))
	assert.NoError(t, err)
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(active)
	assert.NoError(t, err)
	_, err = os.Stat(kept)
	assert.NoError(t, err)

	_, err = store.GetByFilename(ctx, old.Filename)
	assert.ErrorIs(t, err, db.ErrArtifactNotFound)
}

func TestRunSweepKeepsArtifactsWhenDisabled(t *testing.T) {
	cat := &stubCatalog{}
	s := NewSweeper(cat, Config{OutputDir: t.TempDir()})

	report, err := s.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.ArtifactsRemoved)
	assert.False(t, cat.listed)
}

func TestStartStop(t *testing.T) {
	s := NewSweeper(&stubCatalog{}, Config{Interval: time.Millisecond, MaxAgeDays: 1})
	s.Start()
	time.Sleep(10 * time.Millisecond)
	s.Stop()
}

type stubCatalog struct {
	listed bool
}

func (c *stubCatalog) ListOlderThan(ctx context.Context, cutoff time.Time) ([]*db.Artifact, error) {
	c.listed = true
	return nil, nil
}

func (c *stubCatalog) DeleteByFilename(ctx context.Context, filename string) (bool, error) {
	return false, nil
}
