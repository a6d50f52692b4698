package rediskey

import "fmt"

const (
	WalletLockPrefix = "lock:wallet"
	SequencePrefix   = "seq"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildWalletLockKey returns "lock:wallet:{userID}"
func BuildWalletLockKey(userID string) string {
	return NamespaceKey(WalletLockPrefix, userID)
}

// BuildDailySequenceKey returns "seq:{prefix}:{yymmdd}"
func BuildDailySequenceKey(prefix, day string) string {
	return fmt.Sprintf("%s:%s:%s", SequencePrefix, prefix, day)
}

const HabitQuotaLockPrefix = "lock:habits"

// BuildHabitQuotaLockKey returns "lock:habits:{ownerID}"
func BuildHabitQuotaLockKey(ownerID string) string {
	return NamespaceKey(HabitQuotaLockPrefix, ownerID)
}
