package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/zita-photo/zita/pkg/codec"
	"github.com/zita-photo/zita/pkg/types"
	"github.com/zita-photo/zita/server/internal/metrics"
	"github.com/zita-photo/zita/server/internal/presence"
	"github.com/zita-photo/zita/server/internal/scheduler"
)

// FileStore holds the tag map in memory and persists it to a single file.
type FileStore struct {
	opts   Options
	format codec.Format
	rec    *metrics.Recorder

	mu     sync.RWMutex
	tagged types.TagMap
	counts map[string]int

	taggers *presence.Tracker
	sync    *scheduler.Debouncer
	wb      *writeBack

	persistMu    sync.Mutex
	shutdownOnce sync.Once
	shutdownErr  error
}

// OpenFile creates a FileStore and loads opts.Output if it exists.
// Malformed content is logged and replaced by an empty map; read failures
// such as permission errors are returned.
func OpenFile(opts Options) (*FileStore, error) {
	opts = opts.withDefaults()
	s := &FileStore{
		opts:    opts,
		format:  codec.FormatForPath(opts.Output),
		rec:     opts.Metrics,
		tagged:  make(types.TagMap),
		counts:  make(map[string]int),
		taggers: presence.New(opts.PresenceTTL).WithClock(opts.Now),
		wb:      newWriteBack(),
	}
	s.sync = scheduler.New("persist "+opts.Output, opts.SyncWait, func(ctx context.Context) error {
		_, err := s.Persist(ctx, true)
		return err
	})

	slog.Info("store: init file backend", "output", opts.Output, "format", s.format)
	m, raw, err := loadSnapshot(opts.Output, s.rec)
	if err != nil {
		return nil, err
	}
	s.wb.seed(opts.Output, raw)
	for id, tags := range m {
		s.tagged[id] = tags
	}
	s.counts = countTagged(s.tagged, opts.Delimiter)
	if len(m) > 0 {
		slog.Info("store: loaded existing tags", "photos", len(m), "albums", len(s.counts))
	}
	s.rec.Photos(len(s.tagged))
	return s, nil
}

// AlbumID derives the album of a photo id.
func (s *FileStore) AlbumID(photoID string) string {
	return types.AlbumID(photoID, s.opts.Delimiter)
}

// Get returns the sorted labels of photoID.
func (s *FileStore) Get(_ context.Context, photoID string) (types.TagSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tagged[photoID].Sorted(), nil
}

// MGet returns the sorted labels of each photo, in request order.
func (s *FileStore) MGet(_ context.Context, photoIDs []string) ([]types.TagSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.TagSet, len(photoIDs))
	for i, id := range photoIDs {
		out[i] = s.tagged[id].Sorted()
	}
	return out, nil
}

// MSet assigns all entries under one lock, applies the net counter change
// per album once, and schedules a single persist.
func (s *FileStore) MSet(_ context.Context, entries []types.Entry) error {
	if err := validateEntries(entries); err != nil {
		return err
	}
	s.mu.Lock()
	deltas := make(map[string]int)
	for _, e := range entries {
		album := s.AlbumID(e.PhotoID)
		deltas[album] += tagDelta(s.tagged[e.PhotoID], e.Tags)
		s.tagged[e.PhotoID] = e.Tags.Clone()
	}
	for album, d := range deltas {
		s.counts[album] += d
	}
	n := len(s.tagged)
	s.mu.Unlock()

	s.rec.Photos(n)
	s.sync.Trigger()
	return nil
}

// Tag replaces the labels of photoID. The read of the previous labels, the
// write and the counter update happen under one lock, so concurrent calls
// for the same photo observe each other's writes.
func (s *FileStore) Tag(ctx context.Context, photoID string, tags types.TagSet, userID string) (TagResult, error) {
	if err := codec.ValidateTags(tags); err != nil {
		return TagResult{}, err
	}
	album := s.AlbumID(photoID)

	s.mu.Lock()
	prev := s.tagged[photoID]
	s.tagged[photoID] = tags.Clone()
	delta := tagDelta(prev, tags)
	if delta != 0 {
		s.counts[album] += delta
	}
	s.mu.Unlock()

	if userID != "" {
		if _, err := s.SetTagger(ctx, album, userID); err != nil {
			return TagResult{}, err
		}
	}
	s.rec.Tag(delta)
	s.sync.Trigger()
	return TagResult{Prev: prev.Sorted(), Delta: delta}, nil
}

// SetTagger records a presence heartbeat.
func (s *FileStore) SetTagger(_ context.Context, albumID, userID string) (bool, error) {
	created := s.taggers.Set(albumID, userID)
	s.rec.Heartbeat(created)
	return created, nil
}

// TaggersCount returns the active taggers of albumID other than excludeUserID.
func (s *FileStore) TaggersCount(_ context.Context, albumID, excludeUserID string) (int, error) {
	return s.taggers.Count(albumID, excludeUserID), nil
}

// TaggedCount returns the album's counter, clamped at zero.
func (s *FileStore) TaggedCount(_ context.Context, albumID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return max(s.counts[albumID], 0), nil
}

// Dump copies the tags of one album, or all of them.
func (s *FileStore) Dump(_ context.Context, albumID string) (types.TagMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(types.TagMap)
	for id, tags := range s.tagged {
		if types.InAlbum(id, albumID, s.opts.Delimiter) {
			out[id] = tags.Clone()
		}
	}
	return out, nil
}

// Export serializes Dump(albumID); the default format follows the output
// file extension.
func (s *FileStore) Export(ctx context.Context, albumID string, format codec.Format) (string, error) {
	if format == "" {
		format = s.format
	}
	m, err := s.Dump(ctx, albumID)
	if err != nil {
		return "", err
	}
	return codec.Encode(m, format)
}

// Persist writes the whole map to the output file when it changed. With
// alsoExport, a changed write also refreshes the CSV export when that is a
// different file.
func (s *FileStore) Persist(ctx context.Context, alsoExport bool) (bool, error) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	content, err := s.Export(ctx, types.AlbumAll, s.format)
	if err != nil {
		return false, err
	}
	changed, err := s.wb.writeFileIfChanged(s.opts.Output, content)
	if err != nil {
		s.rec.Persist(BackendFile, metrics.PersistFailed)
		return false, err
	}
	if !changed {
		s.rec.Persist(BackendFile, metrics.PersistUnchanged)
		return false, nil
	}
	slog.Info("store: tags synced", "path", s.opts.Output, "bytes", len(content))
	s.rec.Persist(BackendFile, metrics.PersistWritten)

	if alsoExport && s.opts.LabelsCSV != "" && s.opts.LabelsCSV != s.opts.Output {
		csv, err := s.Export(ctx, types.AlbumAll, codec.FormatCSV)
		if err != nil {
			return true, err
		}
		if _, err := s.wb.writeFileIfChanged(s.opts.LabelsCSV, csv); err != nil {
			return true, err
		}
		slog.Info("store: tags exported", "path", s.opts.LabelsCSV)
	}
	return true, nil
}

// RecomputeCounts rebuilds the counters from the map.
func (s *FileStore) RecomputeCounts(_ context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := countTagged(s.tagged, s.opts.Delimiter)
	repaired := 0
	for album, n := range fresh {
		if s.counts[album] != n {
			repaired++
		}
	}
	for album := range s.counts {
		if _, ok := fresh[album]; !ok {
			fresh[album] = 0
			if s.counts[album] != 0 {
				repaired++
			}
		}
	}
	s.counts = fresh
	s.rec.Repaired(repaired)

	out := make(map[string]int, len(fresh))
	for k, v := range fresh {
		out[k] = v
	}
	return out, nil
}

// Run sweeps expired presence entries until ctx is cancelled.
func (s *FileStore) Run(ctx context.Context) {
	s.taggers.Run(ctx)
}

// Shutdown cancels the pending persist and writes one final time.
func (s *FileStore) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.sync.Stop()
		_, s.shutdownErr = s.Persist(ctx, true)
		if s.shutdownErr == nil {
			slog.Info("store: final persist done", "backend", BackendFile)
		}
	})
	return s.shutdownErr
}
