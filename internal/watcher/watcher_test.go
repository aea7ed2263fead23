package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestWatchSettingsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "print-bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0600))

	log := zerolog.Nop()
	events := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WatchSettingsFile(ctx, &log, path, events) }()

	// the watch is registered asynchronously, keep touching the file until it fires
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("log:\n  level: debug\n"), 0600)
		select {
		case <-events:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	// drop events queued by the retries above
	time.Sleep(200 * time.Millisecond)
	select {
	case <-events:
	default:
	}

	t.Run("other files are ignored", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "device-config.json"), []byte("{}"), 0600))
		select {
		case <-events:
			t.Fatal("unexpected event for unrelated file")
		case <-time.After(200 * time.Millisecond):
		}
	})

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchSettingsFile_MissingDirectory(t *testing.T) {
	log := zerolog.Nop()
	err := WatchSettingsFile(context.Background(), &log, filepath.Join(t.TempDir(), "absent", "settings.yaml"), make(chan struct{}, 1))
	require.Error(t, err)
}
