package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is how long a heartbeat keeps a user active.
const DefaultTTL = 10 * time.Minute

// Tracker is a thread-safe in-memory presence table keyed by album id.
type Tracker struct {
	mu     sync.Mutex
	albums map[string]map[string]time.Time
	ttl    time.Duration
	now    func() time.Time // injectable for deterministic tests
}

// New creates a Tracker with the given TTL.
func New(ttl time.Duration) *Tracker {
	return &Tracker{
		albums: make(map[string]map[string]time.Time),
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock replaces the time source. Intended for tests and for stores that
// share one clock between components.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
	return t
}

// TTL returns the configured time-to-live.
func (t *Tracker) TTL() time.Duration { return t.ttl }

// Set records a heartbeat for userID in albumID. It reports whether a new
// entry was created; refreshing an entry that expired but was not yet evicted
// counts as a refresh.
func (t *Tracker) Set(albumID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	users, ok := t.albums[albumID]
	if !ok {
		users = make(map[string]time.Time)
		t.albums[albumID] = users
	}
	_, seen := users[userID]
	users[userID] = now
	return !seen
}

// Count returns the number of active users in albumID, not counting
// excludeUserID. Expired entries for the album are deleted as a side effect.
func (t *Tracker) Count(albumID, excludeUserID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.albums[albumID]
	if !ok {
		return 0
	}
	now := t.now()
	n := 0
	for id, seen := range users {
		if !Active(seen, now, t.ttl) {
			delete(users, id)
			continue
		}
		if id != excludeUserID {
			n++
		}
	}
	if len(users) == 0 {
		delete(t.albums, albumID)
	}
	return n
}

// Evict removes every expired entry and returns how many were removed.
func (t *Tracker) Evict(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for album, users := range t.albums {
		for id, seen := range users {
			if !Active(seen, now, t.ttl) {
				delete(users, id)
				removed++
			}
		}
		if len(users) == 0 {
			delete(t.albums, album)
		}
	}
	return removed
}

// Len returns the number of entries held, including expired ones not yet
// evicted.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, users := range t.albums {
		n += len(users)
	}
	return n
}

// Run evicts expired entries every half TTL (minimum 1 second) until ctx is
// cancelled.
func (t *Tracker) Run(ctx context.Context) {
	interval := t.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if n := t.Evict(t.clock()); n > 0 {
				slog.Debug("presence: evicted expired taggers", "count", n)
			}
		}
	}
}

func (t *Tracker) clock() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now()
}

// Active reports whether a heartbeat at seen is still live at now.
func Active(seen, now time.Time, ttl time.Duration) bool {
	return now.Sub(seen) < ttl
}
