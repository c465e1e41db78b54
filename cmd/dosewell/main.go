package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dosewell/dosewell/internal/database"
	"github.com/dosewell/dosewell/internal/dose"
	"github.com/dosewell/dosewell/internal/escalation"
	"github.com/dosewell/dosewell/internal/logging"
	"github.com/dosewell/dosewell/internal/notify"
	"github.com/dosewell/dosewell/internal/server"
	"github.com/dosewell/dosewell/internal/snooze"
	"github.com/dosewell/dosewell/internal/store"
	"github.com/dosewell/dosewell/internal/textgen"
	ws "github.com/dosewell/dosewell/internal/websocket"
)

func main() {
	port := envOr("DOSEWELL_PORT", "8080")
	dbPath := envOr("DOSEWELL_DB_PATH", "dosewell.db")

	logger := logging.Setup(os.Getenv("DOSEWELL_LOG_LEVEL"), os.Getenv("DOSEWELL_LOG_FORMAT"))

	var storage store.Storage
	if os.Getenv("DOSEWELL_EPHEMERAL") != "" {
		logger.Warn("running with in-memory storage; nothing survives a restart")
		storage = store.NewMemoryStorage()
	} else {
		db, err := database.Open(dbPath)
		if err != nil {
			logger.Error("open database", "path", dbPath, "error", err)
			os.Exit(1)
		}
		defer db.Close()
		storage = store.NewSQLStorage(db)
	}

	publicKey := os.Getenv("DOSEWELL_VAPID_PUBLIC")
	privateKey := os.Getenv("DOSEWELL_VAPID_PRIVATE")
	if publicKey == "" || privateKey == "" {
		var err error
		publicKey, privateKey, err = notify.GenerateVAPIDKeys()
		if err != nil {
			logger.Error("generate VAPID keys", "error", err)
			os.Exit(1)
		}
		logger.Warn("DOSEWELL_VAPID_PUBLIC/PRIVATE not set; generated ephemeral keys, existing push subscriptions will stop working on restart")
	}
	pushService := notify.NewService(publicKey, privateKey)

	var gen notify.Generator
	if url := os.Getenv("DOSEWELL_TEXTGEN_URL"); url != "" {
		gen = textgen.NewClient(url, os.Getenv("DOSEWELL_TEXTGEN_TOKEN"))
		logger.Info("text generation enabled", "url", url)
	}
	advisor := snooze.NewAdvisor(gen, logger.With("component", "snooze"))
	notifier := notify.NewPushNotifier(pushService, storage, gen, logger)

	hub := ws.NewHub(logger.With("component", "websocket"))

	engine := escalation.NewEngine(storage, notifier, advisor, escalation.NewClock(), logger,
		func(occ dose.Occurrence, state dose.State, outcome string) {
			hub.Broadcast(occ.UserID, ws.DoseUpdate(occ, state, outcome))
		})
	defer engine.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Catch up on anything that happened while we were down, then track today.
	if err := engine.RecoverAll(ctx, time.Now()); err != nil {
		logger.Error("recovery", "error", err)
	}
	if err := engine.RolloverAll(ctx, time.Now()); err != nil {
		logger.Error("initial rollover", "error", err)
	}
	go midnightRollover(ctx, engine, logger)

	srv := server.New(storage, engine, pushService, hub, logger)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			}
		}
	}()

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("dosewell listening", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	engine.Shutdown()
}

// midnightRollover re-derives every user's occurrences for the new day as
// each local midnight passes.
func midnightRollover(ctx context.Context, engine *escalation.Engine, logger *slog.Logger) {
	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := engine.RolloverAll(ctx, time.Now()); err != nil {
			logger.Error("midnight rollover", "error", err)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
