package filewatch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatch_SeesWriteAndRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	writeFile(t, path, "one")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go func() {
		_ = Watch(ctx, path, func() { calls.Add(1) })
	}()

	require.Eventually(t, func() bool {
		writeFile(t, path, "two")
		return calls.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)

	// Replace the file the way editors do, then keep writing to the new inode.
	tmp := filepath.Join(dir, "agent.yaml.swp")
	writeFile(t, tmp, "three")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
	before := calls.Load()
	require.Eventually(t, func() bool {
		writeFile(t, path, "four")
		return calls.Load() > before
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatch_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	writeFile(t, path, "x")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	started := make(chan struct{})
	go func() {
		close(started)
		_ = Watch(ctx, path, func() { calls.Add(1) })
	}()
	<-started
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 5; i++ {
		writeFile(t, filepath.Join(dir, "other.yaml"), "y")
	}
	time.Sleep(200 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("onChange calls for sibling writes: got %d, want 0", got)
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "agent.yaml")
	if err := Watch(context.Background(), path, func() {}); err == nil {
		t.Fatal("expected error for missing directory, got nil")
	}
}

func TestWatch_StopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	writeFile(t, path, "x")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func() {}) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch after cancel: got %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

// --- helpers ---

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
