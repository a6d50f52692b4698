package rediskey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	require.Equal(t, "lock:wallet:42", BuildWalletLockKey("42"))
	require.Equal(t, "seq:TXN:251015", BuildDailySequenceKey("TXN", "251015"))
	require.Equal(t, "lock:habits:7", BuildHabitQuotaLockKey("7"))
}
