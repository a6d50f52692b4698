// Package schema migrates every table the reward services own.
package schema

import (
	"habitcoin/services/account"
	"habitcoin/services/habit"
	"habitcoin/services/ledger"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("schema", fx.Invoke(Migrate))

func Models() []any {
	models := []any{&account.Account{}}
	models = append(models, habit.Models()...)
	models = append(models, ledger.Models()...)
	return models
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		zap.L().Error("[DB] schema migration failed", zap.Error(err))
		return err
	}
	zap.L().Info("[DB] schema migrated", zap.Int("tables", len(Models())))
	return nil
}
