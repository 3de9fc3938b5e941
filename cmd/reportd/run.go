package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/reportkit/reportkit/internal/alerts"
	"github.com/reportkit/reportkit/internal/api"
	"github.com/reportkit/reportkit/internal/auth"
	"github.com/reportkit/reportkit/internal/config"
	"github.com/reportkit/reportkit/internal/job"
	"github.com/reportkit/reportkit/internal/metrics"
	"github.com/reportkit/reportkit/internal/store"
	"github.com/reportkit/reportkit/internal/ws"
)

const (
	streamInterval  = 5 * time.Second
	shutdownTimeout = 30 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every scheduled job and serve the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("reportd starting",
		"config", configPath,
		"driver", cfg.Store.Driver,
		"jobs", len(cfg.Jobs),
		"http_port", cfg.HTTP.Port,
		"auth_mode", cfg.HTTP.Auth.Mode,
	)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.EffectiveDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	history := job.NewHistory(cfg.History.Retention)
	go history.Run(ctx)

	alertEngine := alerts.New(cfg.Alerts)
	exporter := metrics.NewExporter(cfg.Metrics.Textfile)

	// The hub reads snapshots through the API handler, which needs the
	// scheduler, which needs the hub as an observer.
	var apiHandler *api.Handler
	hub := ws.New(func() api.SnapshotResponse { return apiHandler.Snapshot() }, streamInterval)

	runner := job.NewRunner(db, history, exporter, alertEngine, hub)
	sched := job.NewScheduler(runner)
	if err := sched.Reload(cfg.Jobs); err != nil {
		slog.Error("reportd: some jobs were not scheduled", "err", err)
	}
	apiHandler = api.New(history, sched, alertEngine)

	sched.Start(ctx)

	go func() {
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			setLogLevel(next.LogLevel)
			if next.Store != cfg.Store || next.HTTP != cfg.HTTP {
				slog.Warn("reportd: store and http settings change only on restart")
			}
			if err := sched.Reload(next.Jobs); err != nil {
				slog.Error("reportd: some jobs were not scheduled", "err", err)
			}
			alertEngine.Reload(next.Alerts)
		})
		if err != nil {
			slog.Error("reportd: config watch stopped", "err", err)
		}
	}()

	var httpSrv *http.Server
	if cfg.HTTP.Port != 0 {
		go hub.Run(ctx)

		mux := http.NewServeMux()
		mux.Handle("/api/", apiHandler)
		mux.Handle("/ws/stream", hub)
		mux.Handle("/metrics", exporter)

		protect := auth.APIKey(
			cfg.HTTP.Auth.Mode,
			cfg.HTTP.Auth.EffectiveHeader(),
			cfg.HTTP.Auth.Key(),
			"/api/v1/health",
		)
		httpSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
			Handler:           protect(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("reportd: HTTP server listening", "port", cfg.HTTP.Port)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("reportd: HTTP server stopped", "err", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	slog.Info("reportd shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	if httpSrv != nil {
		httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	}
	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		slog.Warn("reportd: runs still in flight at shutdown")
	}
	alertEngine.Wait()
	return nil
}
