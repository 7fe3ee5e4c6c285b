package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/zita-photo/zita/server/internal/album"
	"github.com/zita-photo/zita/server/internal/api"
	"github.com/zita-photo/zita/server/internal/auth"
	"github.com/zita-photo/zita/server/internal/config"
	"github.com/zita-photo/zita/server/internal/lifecycle"
	"github.com/zita-photo/zita/server/internal/metrics"
	"github.com/zita-photo/zita/server/internal/store"
	"github.com/zita-photo/zita/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file (optional)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the environment is read")
	uiDir := flag.String("ui-dir", "", "serve the tagging UI static files from this directory; leave empty to disable")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(config.NewLogger(cfg.Log, os.Stdout))

	slog.Info("zita-server starting",
		"config", *configPath,
		"http_port", cfg.Server.HTTPPort,
		"output", cfg.Store.Output,
		"labels_csv", cfg.Store.LabelsCSV,
		"albums_root", cfg.Albums.Root,
		"auth_mode", cfg.Server.Auth.Mode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := metrics.New(true)
	st, err := store.Open(ctx, store.Options{
		Output:         cfg.Store.Output,
		LabelsCSV:      cfg.Store.LabelsCSV,
		Delimiter:      cfg.Albums.Delimiter,
		RepairInterval: cfg.Store.RepairInterval,
		KeyPrefix:      cfg.Store.KeyPrefix,
		Metrics:        rec,
	})
	if err != nil {
		slog.Error("failed to open tag store", "output", cfg.Store.Output, "err", err)
		os.Exit(lifecycle.ExitCode(err))
	}
	go st.Run(ctx)

	backend := store.BackendFile
	if store.IsRedisURL(cfg.Store.Output) {
		backend = store.BackendRedis
	}

	catalog := album.NewCatalog(cfg.Albums.Root, cfg.Albums.Delimiter, st)
	hub := ws.New(catalog, cfg.Server.ProgressInterval)
	go hub.Run(ctx)

	handler := api.New(api.Options{
		Store:    st,
		Albums:   catalog,
		Labels:   cfg.Labels.Options,
		Backend:  backend,
		Notifier: hub,
	})

	// Label vocabulary follows config.yaml edits without a restart.
	if _, err := os.Stat(*configPath); err == nil {
		go func() {
			err := config.Watch(ctx, *configPath, func(c *config.Config) {
				handler.SetLabels(c.Labels.Options)
			})
			if err != nil {
				slog.Warn("config watch stopped", "err", err)
			}
		}()
	}

	requireKey := auth.APIKey(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
		"/api/v1/health", "/metrics",
	)

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", handler)
	httpMux.Handle("/ws/progress", hub)
	httpMux.Handle("/metrics", rec.Handler())

	// Optional: serve the pre-built tagging UI; unknown paths fall back to
	// index.html for client-side routing.
	if *uiDir != "" {
		fs := http.FileServer(http.Dir(*uiDir))
		httpMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			path := *uiDir + r.URL.Path
			if _, err := os.Stat(path); os.IsNotExist(err) {
				http.ServeFile(w, r, *uiDir+"/index.html")
				return
			}
			fs.ServeHTTP(w, r)
		})
		slog.Info("serving UI static files", "dir", *uiDir)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           requireKey(httpMux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown := lifecycle.New(func(sctx context.Context) error {
		if err := httpSrv.Shutdown(sctx); err != nil {
			slog.Warn("HTTP server shutdown", "err", err)
		}
		cancel()
		return st.Shutdown(sctx)
	})

	slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort, "backend", backend)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server stopped", "err", err)
		shutdown.Shutdown()
	}
	shutdown.Wait()
}
