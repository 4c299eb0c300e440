package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/bankledger/internal/api"
	"github.com/punchamoorthee/bankledger/internal/auth"
	"github.com/punchamoorthee/bankledger/internal/config"
	"github.com/punchamoorthee/bankledger/internal/logging"
	"github.com/punchamoorthee/bankledger/internal/service"
	"github.com/punchamoorthee/bankledger/internal/store"
	"github.com/punchamoorthee/bankledger/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "bankledger", cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("unable to open store", zap.Error(err))
	}
	defer st.Close()

	// Initialize Layers
	ledger := service.New(st, []byte(cfg.CVVSecret),
		service.WithLogger(logger),
		service.WithCardValidity(cfg.CardValidity),
	)
	tokens := auth.NewTokens([]byte(cfg.JWTSecret), cfg.JWTIssuer)
	handler := api.NewHandler(ledger, st, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, tokens),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown failed", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.Store == config.StoreMemory {
		if cfg.IsProduction() {
			return nil, errors.New("the in-memory store is not allowed in production")
		}
		logger.Warn("using in-memory store; data is lost on exit")
		return store.NewMemory(store.WithLockTimeout(cfg.LockTimeout)), nil
	}
	if err := store.Migrate(cfg.DBSource); err != nil {
		return nil, err
	}
	return store.NewPostgres(ctx, cfg.DBSource, cfg.LockTimeout)
}
