package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zita-photo/zita/pkg/codec"
	"github.com/zita-photo/zita/pkg/types"
	"github.com/zita-photo/zita/server/internal/metrics"
	"github.com/zita-photo/zita/server/internal/presence"
	"github.com/zita-photo/zita/server/internal/scheduler"
)

// Backend names, used in logs and metrics.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Defaults applied by Open when the corresponding option is zero.
const (
	DefaultPresenceTTL    = presence.DefaultTTL
	DefaultSyncWait       = scheduler.DefaultDelay
	DefaultRepairInterval = 10 * time.Minute
	DefaultKeyPrefix      = "zt"
)

var (
	// ErrNotFound is returned when an album or its root directory is missing.
	ErrNotFound = errors.New("not found")

	// ErrMalformedPersisted marks persisted content that failed to parse. It
	// is recovered at load time and never returned by Open.
	ErrMalformedPersisted = errors.New("malformed persisted tags")

	// ErrStorageIO wraps failures of the file system or the Redis server.
	ErrStorageIO = errors.New("storage i/o failure")

	// ErrPresenceConflict is returned when the backend reports an impossible
	// status for a presence write.
	ErrPresenceConflict = errors.New("presence conflict")

	// ErrInvalidLabel is returned by Tag and MSet for labels that cannot be
	// stored.
	ErrInvalidLabel = codec.ErrInvalidLabel
)

// TagResult is the outcome of Tag.
type TagResult struct {
	// Prev is the tag set before the call, sorted.
	Prev types.TagSet

	// Delta is the change applied to the album's tagged count: +1 when the
	// photo went from untagged to tagged, -1 for the reverse, else 0.
	Delta int
}

// Store is the tag store contract. Implementations are safe for concurrent
// use.
type Store interface {
	// Get returns the labels of photoID, sorted; empty when absent.
	Get(ctx context.Context, photoID string) (types.TagSet, error)

	// MGet returns the labels of each photo id, in request order.
	MGet(ctx context.Context, photoIDs []string) ([]types.TagSet, error)

	// MSet assigns many tag sets at once and schedules one persist.
	MSet(ctx context.Context, entries []types.Entry) error

	// Tag replaces the labels of photoID, refreshes userID's presence in the
	// photo's album when userID is non-empty, adjusts the album's tagged
	// count and schedules a persist.
	Tag(ctx context.Context, photoID string, tags types.TagSet, userID string) (TagResult, error)

	// SetTagger records a presence heartbeat and reports whether the entry
	// was created rather than refreshed.
	SetTagger(ctx context.Context, albumID, userID string) (bool, error)

	// TaggersCount returns the number of active taggers in albumID other
	// than excludeUserID, evicting expired entries.
	TaggersCount(ctx context.Context, albumID, excludeUserID string) (int, error)

	// TaggedCount returns the album's tagged-photo counter, never negative.
	TaggedCount(ctx context.Context, albumID string) (int, error)

	// Dump returns the tags of one album, or of every album when albumID is
	// empty or types.AlbumAll.
	Dump(ctx context.Context, albumID string) (types.TagMap, error)

	// Export serializes Dump(albumID). An empty format selects the backend
	// default.
	Export(ctx context.Context, albumID string, format codec.Format) (string, error)

	// Persist writes the current state back immediately and reports whether
	// the written content changed. alsoExport additionally refreshes the
	// CSV export used by the training pipeline.
	Persist(ctx context.Context, alsoExport bool) (bool, error)

	// RecomputeCounts rebuilds every album's tagged count from the tag map
	// and returns the new values.
	RecomputeCounts(ctx context.Context) (map[string]int, error)

	// Run performs background maintenance until ctx is cancelled.
	Run(ctx context.Context)

	// Shutdown cancels the pending persist and persists one final time.
	// Later calls return the first call's result without persisting again.
	Shutdown(ctx context.Context) error

	// AlbumID derives the album of a photo id.
	AlbumID(photoID string) string
}

// Options configures both backends.
type Options struct {
	// Output is the persisted file path, or a redis:// URL for RedisStore.
	Output string

	// LabelsCSV is the CSV export path for the training pipeline. RedisStore
	// also imports it at startup.
	LabelsCSV string

	// Delimiter separates album id and file name in photo ids.
	Delimiter string

	PresenceTTL    time.Duration
	SyncWait       time.Duration
	RepairInterval time.Duration

	// KeyPrefix namespaces the Redis keys.
	KeyPrefix string

	// Metrics is optional.
	Metrics *metrics.Recorder

	// Now is the clock used for presence; time.Now when nil.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Delimiter == "" {
		o.Delimiter = types.DefaultDelimiter
	}
	if o.PresenceTTL <= 0 {
		o.PresenceTTL = DefaultPresenceTTL
	}
	if o.SyncWait <= 0 {
		o.SyncWait = DefaultSyncWait
	}
	if o.RepairInterval <= 0 {
		o.RepairInterval = DefaultRepairInterval
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = DefaultKeyPrefix
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// IsRedisURL reports whether output selects the Redis backend.
func IsRedisURL(output string) bool {
	return strings.HasPrefix(output, "redis://") || strings.HasPrefix(output, "rediss://")
}

// Open builds the backend selected by opts.Output and loads its state.
func Open(ctx context.Context, opts Options) (Store, error) {
	if IsRedisURL(opts.Output) {
		return OpenRedis(ctx, opts)
	}
	return OpenFile(opts)
}

// tagDelta is +1 when a photo becomes tagged, -1 when it becomes untagged.
func tagDelta(prev, next types.TagSet) int {
	switch {
	case prev.Empty() && !next.Empty():
		return 1
	case !prev.Empty() && next.Empty():
		return -1
	}
	return 0
}

// countTagged derives per-album tagged counts from a tag map. Albums whose
// photos are all untagged are present with a zero count.
func countTagged(m types.TagMap, delim string) map[string]int {
	counts := make(map[string]int)
	for id, tags := range m {
		album := types.AlbumID(id, delim)
		if tags.Empty() {
			if _, ok := counts[album]; !ok {
				counts[album] = 0
			}
			continue
		}
		counts[album]++
	}
	return counts
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageIO, op, err)
}

func validateEntries(entries []types.Entry) error {
	for _, e := range entries {
		if err := codec.ValidateTags(e.Tags); err != nil {
			return fmt.Errorf("photo %q: %w", e.PhotoID, err)
		}
	}
	return nil
}
