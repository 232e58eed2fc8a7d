package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"statusfeed-server/bridge"
	"statusfeed-server/config"
	"statusfeed-server/events"
	"statusfeed-server/hub"
	"statusfeed-server/protocol"
	"statusfeed-server/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broadcaster := hub.New(cfg.HubOptions())
	defer broadcaster.Shutdown()
	go broadcaster.RunHeartbeat(ctx)

	handler := protocol.NewHandler(broadcaster)
	emitter := events.NewEmitter(broadcaster)
	srv := server.New(broadcaster, handler, emitter, cfg.WSPath)

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()

		srv.WithPublisher(bridge.NewPublisher(rdb, cfg.RedisChannel))
		go func() {
			if err := bridge.NewSubscriber(rdb, cfg.RedisChannel, emitter).Run(ctx); err != nil {
				slog.Error("bridge stopped", "error", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: srv.Router(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
		),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port, "path", cfg.WSPath)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("server shutting down")
	broadcaster.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}

func setupLogger(level slog.Level) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}
