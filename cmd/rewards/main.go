package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"habitcoin/pkg/config"
	"habitcoin/pkg/db"
	"habitcoin/pkg/featureflags"
	"habitcoin/pkg/gen"
	"habitcoin/pkg/hashistack/secretmanager"
	"habitcoin/pkg/hashistack/servicediscover"
	"habitcoin/pkg/health"
	"habitcoin/pkg/locker"
	"habitcoin/pkg/logger"
	"habitcoin/pkg/otelcol"
	"habitcoin/pkg/profiling"
	"habitcoin/pkg/redis"
	"habitcoin/pkg/sequence"
	"habitcoin/pkg/server"
	"habitcoin/pkg/task"
	"habitcoin/services/account"
	"habitcoin/services/capguard"
	"habitcoin/services/habit"
	"habitcoin/services/issuer"
	"habitcoin/services/ledger"
	"habitcoin/services/policy"
	"habitcoin/services/rewards"
	"habitcoin/services/schema"
	"habitcoin/services/streak"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		schema.Module,
		redis.Module,
		gen.Module,
		locker.Module,
		sequence.Module,
		task.Client,
		featureflags.Module,
		policy.Module,
		account.Module,
		account.HTTP,
		habit.Module,
		streak.Module,
		capguard.Module,
		ledger.Module,
		ledger.Health,
		issuer.Module,
		rewards.Module,
		health.Module,
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		servicediscover.Module,
		fxLogger,
	}
	if secretmanager.Enabled() {
		opts = append(opts, secretmanager.Module)
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})
