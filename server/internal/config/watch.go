package config

import (
	"context"
	"log/slog"

	"github.com/zita-photo/zita/pkg/filewatch"
)

// Watch reloads the config file whenever it changes and hands the result to
// onChange. A reload that fails to parse or validate is logged and the
// previous config stays in effect. Watch returns when ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	slog.Info("config: watching for changes", "path", path)
	return filewatch.Watch(ctx, path, func() {
		cfg, err := Load(path)
		if err != nil {
			slog.Error("config: reload failed, keeping previous config", "path", path, "err", err)
			return
		}
		slog.Info("config: reloaded", "path", path, "labels", len(cfg.Labels.Options))
		onChange(cfg)
	})
}
