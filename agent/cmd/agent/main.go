package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zita-photo/zita/agent/internal/config"
	"github.com/zita-photo/zita/agent/internal/puller"
	"github.com/zita-photo/zita/agent/internal/security"
)

func main() {
	configPath := flag.String("config", "agent.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "optional .env file with auth secrets")
	once := flag.Bool("once", false, "sync every target once and exit")
	flag.Parse()

	slog.SetDefault(newLogger(config.LogConfig{Level: "info", Format: "json"}))

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load env file", "path", *envFile, "err", err)
		os.Exit(1)
	}

	slog.Info("zita-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Log))
	slog.Info("config loaded",
		"server_url", cfg.Agent.ServerURL,
		"targets", len(cfg.Agent.Targets),
		"sync_interval", cfg.Agent.SyncInterval,
	)

	p, err := puller.New(cfg.Agent)
	if err != nil {
		slog.Error("failed to build puller", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	checkCert(ctx, cfg.Agent)

	if *once {
		results, _ := p.Sync(ctx)
		code := 0
		for _, r := range results {
			if r.Err != nil {
				slog.Error("sync failed", "output", r.Target.Output, "err", r.Err)
				code = 1
				continue
			}
			slog.Info("synced", "output", r.Target.Output, "photos", r.Photos, "written", r.Written)
		}
		os.Exit(code)
	}

	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			slog.SetDefault(newLogger(updated.Log))
			if err := p.Update(updated.Agent); err != nil {
				slog.Error("config reload rejected", "err", err)
				return
			}
			slog.Info("config hot-reloaded", "targets", len(updated.Agent.Targets))
			checkCert(ctx, updated.Agent)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	p.Run(ctx)
	slog.Info("zita-agent shutting down")
}

// checkCert logs the state of the server's TLS certificate.
func checkCert(ctx context.Context, cfg config.AgentConfig) {
	cs := security.Check(ctx, cfg, time.Now())
	if cs == nil {
		return
	}
	switch cs.Status {
	case security.StatusValid:
		slog.Info("server certificate ok", "endpoint", cs.Endpoint, "issuer", cs.Issuer, "days_left", cs.DaysLeft)
	case security.StatusUnreachable:
		slog.Warn("server TLS endpoint unreachable", "endpoint", cs.Endpoint)
	default:
		slog.Warn("server certificate "+cs.Status, "endpoint", cs.Endpoint, "not_after", cs.NotAfter, "days_left", cs.DaysLeft)
	}
}

func newLogger(lc config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
