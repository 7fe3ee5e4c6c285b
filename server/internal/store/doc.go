// Package store is the authoritative photo → tags map of the labeling
// server, with per-album tagged-photo counters, tagger presence and
// debounced persistence.
//
// Store is the contract shared by the two backends:
//
//   - FileStore keeps everything in memory and writes the whole map to one
//     file (JSON or CSV, chosen by extension) after a quiet period.
//   - RedisStore keeps the map, counters and presence in Redis hashes and
//     offloads durability to Redis snapshots; it also writes a CSV export
//     for the training pipeline.
//
// Open selects the backend from the configured output: a redis:// URL picks
// RedisStore, anything else is a file path.
//
// Get and MGet always return labels sorted. Dump and Export keep the stored
// order. Dump is read-only; counters drifted by crashes or manual edits are
// repaired by RecomputeCounts, which the Redis backend also runs on every
// changed Persist and from Run.
package store
