// Package presence tracks which users are actively tagging an album.
//
// Every heartbeat (Set) records the current time for an (album, user) pair.
// A user is active while now - lastSeen < TTL. Expired entries are removed
// lazily by Count and in bulk by Evict, which Run calls on a ticker.
// Entries are advisory: losing them undercounts concurrent taggers but never
// corrupts tag data.
package presence
