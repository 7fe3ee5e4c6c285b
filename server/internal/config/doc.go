// Package config loads the labeling server configuration.
//
// Sources, later ones winning:
//   - built-in defaults
//   - config.yaml (optional)
//   - .env files via LoadDotEnv (skipped when GO_ENV=production)
//   - environment variables
//
// Environment variables:
//   - ZT_TAG_OUTPUT, ZT_REDIS_URL, REDIS_URL: store output, first set wins
//   - ZT_LABELS_CSV: CSV export path (default <albums root>/tags.csv)
//   - ZT_ALBUMS_ROOT: photo albums root (default ./example/data)
//   - ZT_ALBUM_DELIM: album/file delimiter in photo ids (default " ~ ")
//   - ZT_TAG_OPTIONS: "||"-separated label vocabulary (default Good||Fair||Bad)
//   - PORT, LOG_LEVEL, GO_ENV
//
// The store output defaults to the labels CSV, so a bare install keeps its
// tags in the same file the training pipeline reads. Watch hot-reloads the
// file; only the label vocabulary is applied live by the server.
package config
