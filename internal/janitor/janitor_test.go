package janitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/ewaste/internal/logging"
	"github.com/ayusman/ewaste/internal/store"
)

func writeFile(t *testing.T, path string, modTime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
}

func TestRunOnce_RemovesOldFiles(t *testing.T) {
	uploads, processed := t.TempDir(), t.TempDir()
	now := time.Now()
	clk := clock.NewMock()
	clk.Set(now)

	writeFile(t, filepath.Join(uploads, "old.jpg"), now.Add(-2*time.Hour))
	writeFile(t, filepath.Join(processed, "old_processed.jpg"), now.Add(-61*time.Minute))
	writeFile(t, filepath.Join(processed, "fresh_processed.jpg"), now.Add(-5*time.Minute))
	require.NoError(t, os.Mkdir(filepath.Join(processed, "nested"), 0o755))

	j, err := New(Config{
		Dirs:   []string{uploads, processed, filepath.Join(t.TempDir(), "missing")},
		MaxAge: time.Hour,
		Clock:  clk,
	}, nil, logging.NewTestLogger(t))
	require.NoError(t, err)

	removed, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.NoFileExists(t, filepath.Join(uploads, "old.jpg"))
	assert.NoFileExists(t, filepath.Join(processed, "old_processed.jpg"))
	assert.FileExists(t, filepath.Join(processed, "fresh_processed.jpg"))
	assert.DirExists(t, filepath.Join(processed, "nested"))
}

func TestRunOnce_ForgetsOldUploads(t *testing.T) {
	db, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Now()
	repo := db.Uploads()
	for _, u := range []*store.Upload{
		{FileID: "old", CreatedAt: now.Add(-3 * time.Hour)},
		{FileID: "new", CreatedAt: now},
	} {
		u.OriginalName, u.Ext, u.UploadPath, u.ProcessedPath = "a.jpg", ".jpg", "/nonexistent/a", "/nonexistent/b"
		require.NoError(t, repo.Create(u))
	}

	clk := clock.NewMock()
	clk.Set(now)
	j, err := New(Config{MaxAge: time.Hour, Clock: clk}, repo, nil)
	require.NoError(t, err)

	_, err = j.RunOnce(context.Background())
	require.NoError(t, err)

	_, err = repo.GetByID("old")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = repo.GetByID("new")
	assert.NoError(t, err)
}

func TestStartShutdown(t *testing.T) {
	j, err := New(Config{Dirs: []string{t.TempDir()}, Interval: time.Hour}, nil, logging.NewTestLogger(t))
	require.NoError(t, err)

	require.NoError(t, j.Start())
	assert.NoError(t, j.Shutdown())
	assert.NoError(t, j.Shutdown(), "second shutdown is a no-op")
}

func TestNew_Defaults(t *testing.T) {
	j, err := New(Config{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, j.config.Interval)
	assert.Equal(t, DefaultMaxAge, j.config.MaxAge)
	assert.NoError(t, j.Shutdown(), "shutdown before start is a no-op")
}
