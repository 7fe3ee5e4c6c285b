package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/zita-photo/zita/pkg/atomicfile"
	"github.com/zita-photo/zita/pkg/codec"
	"github.com/zita-photo/zita/pkg/types"
	"github.com/zita-photo/zita/server/internal/metrics"
)

const quarantineSuffix = ".corrupt"

// readSnapshot loads a persisted tag map. A missing or empty file yields an
// empty map. Parse failures wrap ErrMalformedPersisted; other failures wrap
// ErrStorageIO.
func readSnapshot(path string) (types.TagMap, string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return types.TagMap{}, "", nil
	}
	if err != nil {
		return nil, "", storageErr("read "+path, err)
	}
	if len(data) == 0 {
		return types.TagMap{}, "", nil
	}
	m, err := codec.Decode(data, codec.FormatForPath(path))
	if err != nil {
		return nil, string(data), fmt.Errorf("%w: %s: %w", ErrMalformedPersisted, path, err)
	}
	return m, string(data), nil
}

// loadSnapshot is readSnapshot with malformed content recovered: the bad
// file is moved aside and an empty map is returned. Only I/O errors escape.
func loadSnapshot(path string, rec *metrics.Recorder) (types.TagMap, string, error) {
	m, raw, err := readSnapshot(path)
	if err == nil {
		return m, raw, nil
	}
	if !errors.Is(err, ErrMalformedPersisted) {
		return nil, "", err
	}

	rec.Recovered()
	slog.Warn("store: persisted tags are malformed, starting empty",
		"path", path, "bytes", len(raw), "err", err)
	aside := path + quarantineSuffix
	if rerr := os.Rename(path, aside); rerr != nil {
		slog.Warn("store: could not move malformed file aside", "path", path, "err", rerr)
	} else {
		slog.Info("store: malformed file kept for inspection", "path", aside)
	}
	return types.TagMap{}, "", nil
}

// writeBack remembers the last content committed per target so unchanged
// state is never rewritten.
type writeBack struct {
	mu   sync.Mutex
	last map[string]string
}

func newWriteBack() *writeBack {
	return &writeBack{last: make(map[string]string)}
}

// seed records content already present at target, e.g. a file just loaded.
func (w *writeBack) seed(target, content string) {
	w.mu.Lock()
	w.last[target] = content
	w.mu.Unlock()
}

// changed reports whether content differs from the last commit for target.
func (w *writeBack) changed(target, content string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	prev, ok := w.last[target]
	return !ok || prev != content
}

func (w *writeBack) commit(target, content string) {
	w.seed(target, content)
}

// writeFileIfChanged writes content to path unless it matches the last
// write. It reports whether the file was written.
func (w *writeBack) writeFileIfChanged(path, content string) (bool, error) {
	if !w.changed(path, content) {
		return false, nil
	}
	if err := atomicfile.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, storageErr("write "+path, err)
	}
	w.commit(path, content)
	return true, nil
}
