package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zita-photo/zita/pkg/codec"
	"github.com/zita-photo/zita/pkg/types"
	"github.com/zita-photo/zita/server/internal/metrics"
	"github.com/zita-photo/zita/server/internal/presence"
	"github.com/zita-photo/zita/server/internal/scheduler"
)

// scanBatch bounds the number of fields fetched per HSCAN/HMGET round trip.
const scanBatch = 1000

// snapshotTarget is the writeBack key for the Redis-side snapshot.
const snapshotTarget = "redis:snapshot"

// tagScript replaces a photo's labels and adjusts the album counter in one
// atomic step. KEYS: tagged hash, counts hash. ARGV: photo id, joined
// labels, album id. Returns {previous labels, delta}.
var tagScript = redis.NewScript(`
local prev = redis.call('HGET', KEYS[1], ARGV[1]) or ''
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
local delta = 0
if prev == '' and ARGV[2] ~= '' then
  delta = 1
elseif prev ~= '' and ARGV[2] == '' then
  delta = -1
end
if delta ~= 0 then
  redis.call('HINCRBY', KEYS[2], ARGV[3], delta)
end
return {prev, delta}
`)

// msetScript assigns a batch of photos in order and adjusts each album
// counter per photo, so repeated ids and concurrent writers are counted
// exactly once. KEYS: tagged hash, counts hash. ARGV[1]: "1" to keep fields
// that already exist, then (photo id, joined labels, album id) triples.
// Returns the number of fields written.
var msetScript = redis.NewScript(`
local onlyMissing = ARGV[1] == '1'
local written = 0
for i = 2, #ARGV, 3 do
  local id, labels, album = ARGV[i], ARGV[i+1], ARGV[i+2]
  local prev = redis.call('HGET', KEYS[1], id)
  if not (onlyMissing and prev) then
    prev = prev or ''
    redis.call('HSET', KEYS[1], id, labels)
    written = written + 1
    local delta = 0
    if prev == '' and labels ~= '' then
      delta = 1
    elseif prev ~= '' and labels == '' then
      delta = -1
    end
    if delta ~= 0 then
      redis.call('HINCRBY', KEYS[2], album, delta)
    end
  end
end
return written
`)

// recountRetries bounds how often RecomputeCounts restarts after a
// concurrent write invalidated its scan.
const recountRetries = 5

// errRecountContended is returned when every recount attempt raced a write.
var errRecountContended = errors.New("tag map kept changing during recount")

// hashReader is the read side shared by *redis.Client and *redis.Tx.
type hashReader interface {
	HScan(ctx context.Context, key string, cursor uint64, match string, count int64) *redis.ScanCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// RedisStore keeps the tag map, counters and presence in Redis hashes.
type RedisStore struct {
	opts   Options
	client *redis.Client
	rec    *metrics.Recorder

	taggedKey  string
	countsKey  string
	taggersKey string

	sync *scheduler.Debouncer
	wb   *writeBack

	persistMu    sync.Mutex
	shutdownOnce sync.Once
	shutdownErr  error
}

// OpenRedis connects to opts.Output, imports the CSV snapshot at
// opts.LabelsCSV (photos already in Redis are kept) and persists once so
// Redis is authoritative from then on.
func OpenRedis(ctx context.Context, opts Options) (*RedisStore, error) {
	ropts, err := redis.ParseURL(opts.Output)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, storageErr("redis ping", err)
	}
	slog.Info("store: init redis backend", "addr", ropts.Addr, "db", ropts.DB)

	s := NewRedisStore(client, opts)
	if err := s.Import(ctx); err != nil {
		client.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// NewRedisStore wraps an existing client without importing anything.
func NewRedisStore(client *redis.Client, opts Options) *RedisStore {
	opts = opts.withDefaults()
	s := &RedisStore{
		opts:       opts,
		client:     client,
		rec:        opts.Metrics,
		taggedKey:  opts.KeyPrefix + ":tagged",
		countsKey:  opts.KeyPrefix + ":taggedCounts",
		taggersKey: opts.KeyPrefix + ":taggers",
		wb:         newWriteBack(),
	}
	s.sync = scheduler.New("persist redis", opts.SyncWait, func(ctx context.Context) error {
		_, err := s.Persist(ctx, true)
		return err
	})
	return s
}

// Import loads the labels CSV snapshot into Redis and persists.
func (s *RedisStore) Import(ctx context.Context) error {
	if s.opts.LabelsCSV == "" {
		return nil
	}
	slog.Info("store: importing tag snapshot into redis", "path", s.opts.LabelsCSV)
	m, raw, err := loadSnapshot(s.opts.LabelsCSV, s.rec)
	if err != nil {
		return err
	}
	s.wb.seed(s.opts.LabelsCSV, raw)
	if len(m) > 0 {
		added, err := s.mset(ctx, m.Entries(), true)
		if err != nil {
			return err
		}
		slog.Info("store: loaded entries into redis", "entries", len(m), "added", added)
	}
	// Fields already in Redis may predate their counters.
	if _, err := s.RecomputeCounts(ctx); err != nil {
		return err
	}
	_, err = s.Persist(ctx, true)
	return err
}

// AlbumID derives the album of a photo id.
func (s *RedisStore) AlbumID(photoID string) string {
	return types.AlbumID(photoID, s.opts.Delimiter)
}

func (s *RedisStore) taggerKey(albumID string) string {
	return s.taggersKey + "-" + albumID
}

// Get returns the sorted labels of photoID.
func (s *RedisStore) Get(ctx context.Context, photoID string) (types.TagSet, error) {
	v, err := s.client.HGet(ctx, s.taggedKey, photoID).Result()
	if errors.Is(err, redis.Nil) {
		return types.TagSet{}, nil
	}
	if err != nil {
		return nil, storageErr("hget", err)
	}
	return codec.SplitLabels(v).Sorted(), nil
}

// MGet fetches labels in batches, preserving request order.
func (s *RedisStore) MGet(ctx context.Context, photoIDs []string) ([]types.TagSet, error) {
	out := make([]types.TagSet, 0, len(photoIDs))
	if len(photoIDs) == 0 {
		return out, nil
	}
	slog.Debug("store: getting tags", "photos", len(photoIDs))
	for start := 0; start < len(photoIDs); start += scanBatch {
		end := min(start+scanBatch, len(photoIDs))
		vals, err := s.client.HMGet(ctx, s.taggedKey, photoIDs[start:end]...).Result()
		if err != nil {
			return nil, storageErr("hmget", err)
		}
		for _, v := range vals {
			str, _ := v.(string)
			out = append(out, codec.SplitLabels(str).Sorted())
		}
	}
	return out, nil
}

// MSet assigns all entries, applies the net counter changes once and
// schedules a persist.
func (s *RedisStore) MSet(ctx context.Context, entries []types.Entry) error {
	if err := validateEntries(entries); err != nil {
		return err
	}
	if _, err := s.mset(ctx, entries, false); err != nil {
		return err
	}
	s.sync.Trigger()
	return nil
}

// mset writes entries in batches through msetScript. With onlyMissing,
// photos that already have a field in Redis are left alone. It returns the
// number of fields written.
func (s *RedisStore) mset(ctx context.Context, entries []types.Entry, onlyMissing bool) (int, error) {
	flag := "0"
	if onlyMissing {
		flag = "1"
	}
	keys := []string{s.taggedKey, s.countsKey}
	written := 0
	for start := 0; start < len(entries); start += scanBatch {
		batch := entries[start:min(start+scanBatch, len(entries))]
		args := make([]interface{}, 0, 1+3*len(batch))
		args = append(args, flag)
		for _, e := range batch {
			args = append(args, e.PhotoID, codec.JoinLabels(e.Tags), s.AlbumID(e.PhotoID))
		}
		n, err := msetScript.Run(ctx, s.client, keys, args...).Int()
		if err != nil {
			return written, storageErr("mset script", err)
		}
		written += n
	}
	return written, nil
}

// Tag replaces the labels of photoID through a server-side script, so the
// previous value, the write and the counter update are one atomic step for
// every client of the Redis server.
func (s *RedisStore) Tag(ctx context.Context, photoID string, tags types.TagSet, userID string) (TagResult, error) {
	if err := codec.ValidateTags(tags); err != nil {
		return TagResult{}, err
	}
	album := s.AlbumID(photoID)

	res, err := tagScript.Run(ctx, s.client,
		[]string{s.taggedKey, s.countsKey},
		photoID, codec.JoinLabels(tags), album,
	).Slice()
	if err != nil {
		return TagResult{}, storageErr("tag script", err)
	}
	if len(res) != 2 {
		return TagResult{}, storageErr("tag script", fmt.Errorf("unexpected reply %v", res))
	}
	prevRaw, _ := res[0].(string)
	delta, _ := res[1].(int64)

	if userID != "" {
		if _, err := s.SetTagger(ctx, album, userID); err != nil {
			return TagResult{}, err
		}
	}
	s.rec.Tag(int(delta))
	s.sync.Trigger()
	return TagResult{Prev: codec.SplitLabels(prevRaw).Sorted(), Delta: int(delta)}, nil
}

// SetTagger stores the heartbeat as unix milliseconds in the album's
// presence hash and extends the hash's expiry to one TTL.
func (s *RedisStore) SetTagger(ctx context.Context, albumID, userID string) (bool, error) {
	key := s.taggerKey(albumID)
	var hset *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hset = pipe.HSet(ctx, key, userID, s.opts.Now().UnixMilli())
		pipe.PExpire(ctx, key, s.opts.PresenceTTL)
		return nil
	})
	if err != nil {
		return false, storageErr("set tagger", err)
	}
	n := hset.Val()
	if n != 0 && n != 1 {
		return false, fmt.Errorf("%w: hset returned %d for album %q", ErrPresenceConflict, n, albumID)
	}
	s.rec.Heartbeat(n == 1)
	return n == 1, nil
}

// TaggersCount compares stored heartbeats with the clock and deletes the
// expired ones in one HDEL.
func (s *RedisStore) TaggersCount(ctx context.Context, albumID, excludeUserID string) (int, error) {
	key := s.taggerKey(albumID)
	entries, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, storageErr("hgetall", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	now := s.opts.Now()
	var expired []string
	n := 0
	for user, v := range entries {
		ms, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || !presence.Active(time.UnixMilli(ms), now, s.opts.PresenceTTL) {
			expired = append(expired, user)
			continue
		}
		if user != excludeUserID {
			n++
		}
	}
	if len(expired) > 0 {
		if err := s.client.HDel(ctx, key, expired...).Err(); err != nil {
			return 0, storageErr("hdel", err)
		}
	}
	return n, nil
}

// TaggedCount reads the album counter. A negative counter is reset to zero.
func (s *RedisStore) TaggedCount(ctx context.Context, albumID string) (int, error) {
	v, err := s.client.HGet(ctx, s.countsKey, albumID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("hget count", err)
	}
	if v < 0 {
		if err := s.client.HSet(ctx, s.countsKey, albumID, 0).Err(); err != nil {
			return 0, storageErr("hset count", err)
		}
		return 0, nil
	}
	return int(v), nil
}

// Dump streams the tagged hash with HSCAN in batches of scanBatch fields.
func (s *RedisStore) Dump(ctx context.Context, albumID string) (types.TagMap, error) {
	return s.scan(ctx, s.client, albumID)
}

func (s *RedisStore) scan(ctx context.Context, r hashReader, albumID string) (types.TagMap, error) {
	match := "*"
	if albumID != "" && albumID != types.AlbumAll {
		match = escapeGlob(albumID+s.opts.Delimiter) + "*"
	}
	out := make(types.TagMap)
	var cursor uint64
	for {
		kvs, next, err := r.HScan(ctx, s.taggedKey, cursor, match, scanBatch).Result()
		if err != nil {
			return nil, storageErr("hscan", err)
		}
		for i := 0; i+1 < len(kvs); i += 2 {
			out[kvs[i]] = codec.SplitLabels(kvs[i+1])
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return out, nil
}

// Export serializes Dump(albumID); JSON by default.
func (s *RedisStore) Export(ctx context.Context, albumID string, format codec.Format) (string, error) {
	if format == "" {
		format = codec.FormatJSON
	}
	m, err := s.Dump(ctx, albumID)
	if err != nil {
		return "", err
	}
	return codec.Encode(m, format)
}

// Persist compares a full CSV rendering of the map with the last persisted
// one and, when it changed, asks Redis for a background snapshot. With
// alsoExport the CSV export file is refreshed too. Counters are left to the
// atomic increments and the Run repair loop.
func (s *RedisStore) Persist(ctx context.Context, alsoExport bool) (bool, error) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	m, err := s.Dump(ctx, types.AlbumAll)
	if err != nil {
		s.rec.Persist(BackendRedis, metrics.PersistFailed)
		return false, err
	}
	s.rec.Photos(len(m))
	content := codec.EncodeCSV(m)

	if alsoExport && s.opts.LabelsCSV != "" {
		if _, err := s.wb.writeFileIfChanged(s.opts.LabelsCSV, content); err != nil {
			s.rec.Persist(BackendRedis, metrics.PersistFailed)
			return false, err
		}
	}

	if !s.wb.changed(snapshotTarget, content) {
		s.rec.Persist(BackendRedis, metrics.PersistUnchanged)
		return false, nil
	}
	if err := s.client.BgSave(ctx).Err(); err != nil {
		// Redis refuses overlapping saves; the next cycle will snapshot.
		slog.Warn("store: redis bgsave failed", "err", err)
	} else {
		slog.Info("store: tags synced to redis snapshot", "photos", len(m))
	}
	s.wb.commit(snapshotTarget, content)
	s.rec.Persist(BackendRedis, metrics.PersistWritten)
	return true, nil
}

// RecomputeCounts rebuilds every counter from a full scan. The scan and the
// rewrite run under WATCH on the tagged and counts hashes; a Tag or MSet that
// lands in between aborts the rewrite and the recount starts over, so no
// increment is ever overwritten by a stale value.
func (s *RedisStore) RecomputeCounts(ctx context.Context) (map[string]int, error) {
	for attempt := 1; attempt <= recountRetries; attempt++ {
		var fresh map[string]int
		repaired := 0
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			var err error
			fresh, repaired, err = s.recount(ctx, tx)
			return err
		}, s.taggedKey, s.countsKey)
		if errors.Is(err, redis.TxFailedErr) {
			slog.Debug("store: recount raced a write, retrying", "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		if repaired > 0 {
			slog.Info("store: updated tagged photo counts", "albums", len(fresh), "changed", repaired)
		}
		s.rec.Repaired(repaired)
		return fresh, nil
	}
	return nil, storageErr("recompute counts", errRecountContended)
}

// recount derives the counters from a scan through tx and queues the
// rewrite in a MULTI block. Albums that have a counter but no tagged photo
// are reset to zero.
func (s *RedisStore) recount(ctx context.Context, tx *redis.Tx) (map[string]int, int, error) {
	m, err := s.scan(ctx, tx, types.AlbumAll)
	if err != nil {
		return nil, 0, err
	}
	fresh := countTagged(m, s.opts.Delimiter)
	old, err := tx.HGetAll(ctx, s.countsKey).Result()
	if err != nil {
		return nil, 0, storageErr("hgetall counts", err)
	}
	for album := range old {
		if _, ok := fresh[album]; !ok {
			fresh[album] = 0
		}
	}

	repaired := 0
	args := make([]interface{}, 0, 2*len(fresh))
	for album, n := range fresh {
		if old[album] != strconv.Itoa(n) {
			repaired++
			args = append(args, album, n)
		}
	}
	if len(args) == 0 {
		return fresh, 0, nil
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.countsKey, args...)
		return nil
	})
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		return nil, 0, storageErr("hset counts", err)
	}
	return fresh, repaired, err
}

// Run repairs counters every RepairInterval until ctx is cancelled.
func (s *RedisStore) Run(ctx context.Context) {
	t := time.NewTicker(s.opts.RepairInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.RecomputeCounts(ctx); err != nil {
				slog.Warn("store: counter repair failed", "err", err)
			}
		}
	}
}

// Shutdown cancels the pending persist, persists one final time and closes
// the client.
func (s *RedisStore) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.sync.Stop()
		_, s.shutdownErr = s.Persist(ctx, true)
		if s.shutdownErr == nil {
			slog.Info("store: final persist done", "backend", BackendRedis)
		}
		if err := s.client.Close(); err != nil && s.shutdownErr == nil {
			s.shutdownErr = storageErr("close", err)
		}
	})
	return s.shutdownErr
}

// escapeGlob quotes the characters HSCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
