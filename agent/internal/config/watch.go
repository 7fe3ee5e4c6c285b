package config

import (
	"context"
	"log/slog"

	"github.com/zita-photo/zita/pkg/filewatch"
)

// Watch calls onChange with the reloaded Config each time path is saved,
// including saves that rename a new file into place. An invalid reload is
// logged and skipped.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	slog.Info("config: watching for changes", "path", path)
	return filewatch.Watch(ctx, path, func() {
		cfg, err := Load(path)
		if err != nil {
			slog.Error("config: reload failed, keeping previous config", "path", path, "err", err)
			return
		}
		slog.Info("config: reloaded", "path", path, "targets", len(cfg.Agent.Targets))
		onChange(cfg)
	})
}
