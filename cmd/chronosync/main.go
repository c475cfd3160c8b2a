// Command chronosync runs the local sync service: a sqlite-backed time
// tracking store reconciled against a Google Drive folder, with a
// localhost HTTP API and a websocket event stream.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/khuang/chronosync/internal/api"
	"github.com/khuang/chronosync/internal/auth"
	"github.com/khuang/chronosync/internal/config"
	"github.com/khuang/chronosync/internal/device"
	"github.com/khuang/chronosync/internal/logging"
	"github.com/khuang/chronosync/internal/models"
	"github.com/khuang/chronosync/internal/notify"
	"github.com/khuang/chronosync/internal/remote"
	"github.com/khuang/chronosync/internal/store"
	syncpkg "github.com/khuang/chronosync/internal/sync"
	"github.com/khuang/chronosync/internal/sync/scheduler"
	"github.com/khuang/chronosync/internal/timer"
)

func main() {
	dotenvErr := godotenv.Load()

	cfg := config.Load()
	initLogging(cfg)
	if dotenvErr != nil {
		logging.Debug("no .env file found, using environment variables", nil)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		logging.Error("failed to open local store", err, map[string]any{"data_dir": cfg.DataDir})
		os.Exit(1)
	}
	defer st.Close()

	dev, err := device.Ensure(st, cfg.DeviceName)
	if err != nil {
		logging.Error("failed to establish device identity", err, nil)
		os.Exit(1)
	}
	logging.Info("device ready", map[string]any{
		"device_id": dev.ID, "device_name": dev.Name, "platform": dev.Platform,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := notify.NewHub()
	defer hub.Close()

	r := chi.NewRouter()
	r.Get("/ws", hub.ServeWS)

	// Drive access is optional: without credentials the service still
	// tracks time locally, it just cannot sync.
	remoteStore, tokens := connectDrive(ctx, cfg)

	var sched *scheduler.Scheduler
	var coord *timer.Coordinator
	if remoteStore != nil {
		engine := syncpkg.NewEngine(syncpkg.EngineConfig{
			Store:    st,
			Remote:   remoteStore,
			Tokens:   tokens,
			Notifier: hub,
			Device:   dev,
		})

		sched = scheduler.New(engine, &scheduler.Config{
			SyncInterval:   cfg.SyncInterval,
			ThrottleWindow: cfg.ThrottleWindow,
			DebounceWindow: cfg.DebounceWindow,
		})
		st.Subscribe(sched.OnStoreEvent(ctx))
		sched.Start(ctx)
		defer sched.Stop()

		coord = timer.New(timer.Config{
			Registry:     remoteStore,
			Device:       dev,
			Notifier:     hub,
			PollInterval: cfg.PollInterval,
			OnRemoteTimer: func(rec models.ActiveTimerRecord) {
				logging.Info("remote timer visible",
					map[string]any{"category_id": rec.CategoryID, "device": rec.DeviceName})
			},
		})
		coord.Start(ctx)
		defer coord.Stop()
	}

	var trigger api.SyncTrigger
	if sched != nil {
		trigger = sched
	}
	var remoteIface api.RemoteStore
	if remoteStore != nil {
		remoteIface = remoteStore
	}
	handler := api.NewHandler(st, remoteIface, trigger, dev)
	r.Mount("/", handler.Routes())

	srv := &http.Server{
		Addr:    "127.0.0.1:" + cfg.Port,
		Handler: r,
	}

	go func() {
		logging.Info("server starting", map[string]any{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("server error", err, nil)
			stop()
		}
	}()

	<-ctx.Done()
	logging.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("server shutdown failed", err, nil)
	}
}

func initLogging(cfg config.Config) {
	level := logging.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}
	if cfg.LogFile != "" {
		logging.InitFile(cfg.LogFile, level)
		return
	}
	logging.Init(os.Stdout, level)
}

// connectDrive builds the Drive-backed remote store and its token
// provider, or nils when the OAuth credentials are unavailable.
func connectDrive(ctx context.Context, cfg config.Config) (*remote.Store, auth.TokenProvider) {
	provider, err := auth.NewOAuthProvider(ctx, cfg.CredentialsFile, cfg.TokenFile)
	if err != nil {
		logging.Warn("drive credentials unavailable, sync disabled",
			map[string]any{"error": err.Error()})
		return nil, nil
	}
	svc, err := provider.DriveService(ctx)
	if err != nil {
		logging.Warn("drive client unavailable, sync disabled",
			map[string]any{"error": err.Error()})
		return nil, nil
	}
	st := remote.NewStore(remote.NewDriveAPI(svc), cfg.DriveFolder, cfg.TokenFile, remote.NewFolderCache())
	return st, provider
}
