package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"habitcoin/pkg/config"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestFromConfigOverrides(t *testing.T) {
	cfg := &config.Config{}
	cfg.Reward.Timezone = "Asia/Jakarta"
	cfg.Reward.DailyCap = 20
	cfg.Reward.MonthlyCap = 300
	cfg.Reward.GiftDailyCap = 0
	cfg.Reward.TaskDailyCap = 40
	cfg.Reward.Milestones = []config.Milestone{{Days: 2, Coins: 1}}

	p, err := FromConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, "Asia/Jakarta", p.Location.String())
	require.Equal(t, int64(20), p.DailyCap)
	require.Equal(t, int64(300), p.MonthlyCap)
	require.Equal(t, int64(0), p.GiftDailyCap)
	require.Equal(t, int64(40), p.TaskDailyCap)
	require.Equal(t, 10, p.MaxHabits)

	coins, ok := p.Milestones.Lookup(2)
	require.True(t, ok)
	require.Equal(t, int64(1), coins)
	_, ok = p.Milestones.Lookup(3)
	require.False(t, ok)
}

func TestFromConfigRejectsBadTimezone(t *testing.T) {
	cfg := &config.Config{}
	cfg.Reward.Timezone = "Mars/Olympus"

	_, err := FromConfig(cfg)
	require.Error(t, err)
}

func TestValidateRejectsInconsistentCaps(t *testing.T) {
	p := Default()
	p.DailyCap = 500
	require.Error(t, p.Validate())
}

func TestWindowsFollowLocation(t *testing.T) {
	p := Default()
	p.Location = time.FixedZone("UTC+7", 7*3600)

	// 2026-10-14 20:30 UTC is 2026-10-15 03:30 at UTC+7.
	at := time.Date(2026, 10, 14, 20, 30, 0, 0, time.UTC)

	start, end := p.DayWindow(at)
	require.Equal(t, time.Date(2026, 10, 14, 17, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2026, 10, 15, 17, 0, 0, 0, time.UTC), end)
	require.Equal(t, "2026-10-15", p.Day(at))

	mStart, mEnd := p.MonthWindow(at)
	require.Equal(t, time.Date(2026, 9, 30, 17, 0, 0, 0, time.UTC), mStart)
	require.Equal(t, time.Date(2026, 10, 31, 17, 0, 0, 0, time.UTC), mEnd)
}

func TestCheckInWindow(t *testing.T) {
	p := Default()
	p.Location = time.FixedZone("UTC+7", 7*3600)
	at := time.Date(2026, 10, 14, 20, 30, 0, 0, time.UTC)

	first, last := p.CheckInWindow(at)
	require.Equal(t, "2026-10-14", first)
	require.Equal(t, "2026-10-15", last)
}
