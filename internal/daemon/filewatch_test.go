package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForEvent(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("no watcher event arrived")
		return ""
	}
}

func TestWatcherEmitsCreatedFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher([]string{dir})
	require.NoError(t, err)
	defer w.Stop()

	path := filepath.Join(dir, "scan.pdf")
	require.NoError(t, os.WriteFile(path, []byte("pdf"), 0644))

	assert.Equal(t, path, waitForEvent(t, w.Events()))
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher([]string{dir})
	require.NoError(t, err)
	defer w.Stop()

	path := filepath.Join(dir, "doc.txt")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	}

	// One event for the burst; the channel then stays quiet.
	assert.Equal(t, path, waitForEvent(t, w.Events()))
	select {
	case p := <-w.Events():
		t.Fatalf("unexpected second event for %s", p)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w, err := NewWatcher([]string{t.TempDir()})
	require.NoError(t, err)
	w.Stop()
	w.Stop()
}

func TestWatcherToleratesMissingDirs(t *testing.T) {
	w, err := NewWatcher([]string{filepath.Join(t.TempDir(), "gone")})
	require.NoError(t, err)
	w.Stop()
}
