// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
package main

// @title OSPay Core API
// @version 1.0
// @description P2P fiat/crypto order settlement engine.
// @host localhost:8080
// @BasePath /

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oxzoid/ospay-core/internal/chainverify"
	"github.com/oxzoid/ospay-core/internal/config"
	"github.com/oxzoid/ospay-core/internal/finalize"
	"github.com/oxzoid/ospay-core/internal/httpapi"
	"github.com/oxzoid/ospay-core/internal/obs"
	"github.com/oxzoid/ospay-core/internal/outbox"
	"github.com/oxzoid/ospay-core/internal/realtime"
	"github.com/oxzoid/ospay-core/internal/scheduler"
	"github.com/oxzoid/ospay-core/internal/store"
)

func main() {
	cfg := config.FromEnv()
	log := obs.New(obs.Config{Level: cfg.LogLevel, Prefix: "ospaycore", Output: os.Stderr})

	db, err := store.Open(cfg.DSN)
	if err != nil {
		log.Fatal("db open failed", "err", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatal("db ping failed", "err", err)
	}
	cancel()

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal("schema migration failed", "err", err)
	}

	verifier := chainverify.NewBSCVerifier(log)
	engine := finalize.NewEngine(db, cfg.MockMode, verifier, log)

	hub := realtime.NewHub(log)
	outboxStore := store.NewOutbox(db)
	drainer := outbox.NewDrainer(db, outboxStore, hub, log)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go drainer.Run(runCtx, config.OutboxDrainInterval)

	expiryWorker := scheduler.NewExpiryWorker(store.NewOrders(db), engine, log)
	if err := expiryWorker.Start(runCtx); err != nil {
		log.Fatal("expiry worker failed to start", "err", err)
	}
	defer expiryWorker.Shutdown(context.Background())

	server := httpapi.NewServer(db, cfg, log, engine, drainer, hub)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Routes(),
	}

	go func() {
		<-runCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("http server shutdown error", "err", err)
		}
	}()

	log.Info("ospay core listening", "addr", cfg.ListenAddr, "mock_mode", cfg.MockMode)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("http server failed", "err", err)
	}
}
