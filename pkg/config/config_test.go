package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, "habitcoin", cfg.AppName)
	require.Equal(t, int64(10), cfg.Reward.DailyCap)
	require.Equal(t, int64(200), cfg.Reward.MonthlyCap)
	require.Equal(t, 7*24*time.Hour, cfg.Reward.MinAccountAge)
	require.Equal(t, 10, cfg.Reward.MaxHabits)
	require.Equal(t, 5, cfg.Reward.MaxActiveHabits)
	require.Equal(t, "UTC", cfg.Reward.Timezone)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	yaml := `
APP_NAME: family-coins
REWARD:
  DAILY_CAP: 15
  TIMEZONE: Asia/Jakarta
  MILESTONES:
    - DAYS: 2
      COINS: 1
    - DAYS: 5
      COINS: 3
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("REWARD_MONTHLY_CAP", "300")

	cfg, err := Load(dir)
	require.NoError(t, err)

	require.Equal(t, "family-coins", cfg.AppName)
	require.Equal(t, int64(15), cfg.Reward.DailyCap)
	require.Equal(t, int64(300), cfg.Reward.MonthlyCap)
	require.Equal(t, "Asia/Jakarta", cfg.Reward.Timezone)
	require.Equal(t, []Milestone{{Days: 2, Coins: 1}, {Days: 5, Coins: 3}}, cfg.Reward.Milestones)
}
