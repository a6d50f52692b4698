package db

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"

	"habitcoin/pkg/config"
)

func TestDialect(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Type = "postgres"
	cfg.Database.DBNAME = "coins"

	d, err := Dialect(cfg)
	require.NoError(t, err)
	pg, ok := d.(*postgres.Dialector)
	require.True(t, ok)
	require.Equal(t, "coins", getDBNameFromDialector(pg))

	cfg.Database.Type = "mysql"
	d, err = Dialect(cfg)
	require.NoError(t, err)
	my, ok := d.(*mysql.Dialector)
	require.True(t, ok)
	require.Equal(t, "coins", getDBNameFromDialector(my))

	cfg.Database.Type = "sqlite"
	d, err = Dialect(cfg)
	require.NoError(t, err)
	_, ok = d.(*sqlite.Dialector)
	require.True(t, ok)

	cfg.Database.Type = "oracle"
	_, err = Dialect(cfg)
	require.Error(t, err)
}

func TestExtractDBNameFromDSN(t *testing.T) {
	require.Equal(t, "habitcoin", extractDBNameFromDSN("host=db port=5432 dbname=habitcoin sslmode=disable"))
	require.Equal(t, "habitcoin", extractDBNameFromDSN("user:pw@tcp(db:3306)/habitcoin?parseTime=True"))
	require.Equal(t, "unknown", extractDBNameFromDSN(""))
}
