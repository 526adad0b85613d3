package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicware/clinic-scheduling/internal/config"
	"github.com/clinicware/clinic-scheduling/internal/db"
	"github.com/clinicware/clinic-scheduling/internal/queue"
	"github.com/clinicware/clinic-scheduling/internal/scheduling"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.Env == "dev" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	logger.Info().Str("env", cfg.Env).Msg("result-consumer starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolLimits{MaxConns: cfg.PgMaxConns, MinConns: cfg.PgMinConns})
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	store := scheduling.NewPgStore(pgPool)
	ledger := scheduling.NewInvoiceLedger(store, logger)
	bridge := scheduling.NewFeeBridge(store, ledger, logger)

	consumer := queue.NewResultConsumer(cfg.AMQPURL, bridge, cfg.DefaultDiagnosticFee, logger)

	if err := consumer.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("consumer stopped")
	}

	logger.Info().Msg("shutdown signal received, stopping result-consumer")
}
