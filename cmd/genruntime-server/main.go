// cmd/genruntime-server — HTTP API + 事件流订阅主入口。
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/multi-agent/genruntime/internal/apiserver"
	"github.com/multi-agent/genruntime/internal/config"
	"github.com/multi-agent/genruntime/internal/database"
	"github.com/multi-agent/genruntime/internal/store"
	"github.com/multi-agent/genruntime/internal/stream"
	"github.com/multi-agent/genruntime/internal/turn"
	"github.com/multi-agent/genruntime/pkg/logger"
	"github.com/multi-agent/genruntime/pkg/util"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger.Init(cfg.LogEnv)
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir); err != nil {
			logger.Warn("log file init failed, stdout only", logger.FieldError, err)
		}
		defer logger.ShutdownFileHandler()
	}

	bus := apiserver.NewEventBus()
	turnOpts := turn.Options{
		Publisher:       bus,
		HydrateAttempts: cfg.HydrateAttempts,
		HydrateBackoff:  cfg.HydrateBackoff(),
		FinalizeTimeout: cfg.FinalizeTimeout(),
	}
	srvOpts := apiserver.Options{
		ListLimit:    cfg.MessageListLimit,
		SSEKeepalive: cfg.SSEKeepalive(),
	}

	if cfg.PersistenceEnabled() {
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("database init failed", logger.FieldError, err)
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, cfg.MigrationsDir); err != nil {
			logger.Fatal("migration failed", logger.FieldError, err)
		}
		messages := store.NewAssistantMessageStore(pool)
		turnOpts.Store = messages
		srvOpts.History = messages
	} else {
		logger.Warn("POSTGRES_CONNECTION_STRING not set, finalized messages stay in memory")
	}

	turns := turn.NewManager(turnOpts)

	if cfg.StreamEnabled() {
		streamOpts := stream.Options{
			BaseURL:          cfg.StreamBaseURL,
			HandshakeTimeout: cfg.HandshakeTimeout(),
			ReadIdle:         cfg.ReadIdle(),
			PingInterval:     cfg.PingInterval(),
			ReconnectBase:    cfg.ReconnectBase(),
			ReconnectMax:     cfg.ReconnectMax(),
			MaxAttempts:      cfg.StreamReconnectMaxAttempts,
		}
		srvOpts.Launch = func(t *turn.Turn) {
			sub := stream.NewSubscriber(t.Scope(), turns, streamOpts)
			util.SafeGo(func() {
				if err := sub.Run(t.Context()); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("stream: subscriber stopped",
						logger.FieldGenerationID, t.Scope().GenerationID,
						logger.FieldError, err)
				}
			})
		}
		logger.Info("event stream enabled", logger.FieldURL, cfg.StreamBaseURL)
	}

	srv := apiserver.NewServer(turns, bus, srvOpts)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("genruntime server starting", logger.FieldAddr, cfg.ListenAddr)
	util.SafeGo(func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", logger.FieldError, err)
		}
	})

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", logger.FieldError, err)
	}
}
