package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"habitcoin/pkg/config"
	"habitcoin/pkg/db"
	"habitcoin/pkg/gen"
	"habitcoin/pkg/hashistack/secretmanager"
	"habitcoin/pkg/locker"
	"habitcoin/pkg/logger"
	"habitcoin/pkg/otelcol"
	"habitcoin/pkg/profiling"
	"habitcoin/pkg/redis"
	"habitcoin/pkg/sequence"
	"habitcoin/pkg/task"
	"habitcoin/services/ledger"
	"habitcoin/services/notification"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		locker.Module,
		sequence.Module,
		ledger.Module,
		task.Client,
		task.Server,
		task.Scheduler,
		notification.Module,
		notification.Periodic,
		fxLogger,
	}
	if secretmanager.Enabled() {
		opts = append(opts, secretmanager.Module)
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
