package ledger

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// SystemUserID is the sender of minted coins.
const SystemUserID = "system"

const GenesisHash = "GENESIS"

type TransactionType string

const (
	TypeHabitReward    TransactionType = "HABIT_REWARD"
	TypeTaskCompletion TransactionType = "TASK_COMPLETION"
	TypeGift           TransactionType = "GIFT"
	TypeSpend          TransactionType = "SPEND"
)

func ParseTransactionType(s string) (TransactionType, error) {
	switch t := TransactionType(strings.ToUpper(strings.TrimSpace(s))); t {
	case TypeHabitReward, TypeTaskCompletion, TypeGift, TypeSpend:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTransactionType, s)
}

// Scan refuses values outside the known set so a corrupt row fails the read
// instead of decoding into a default.
func (t *TransactionType) Scan(value any) error {
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("%w: unsupported column value %T", ErrUnknownTransactionType, value)
	}

	parsed, err := ParseTransactionType(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t TransactionType) Value() (driver.Value, error) {
	if _, err := ParseTransactionType(string(t)); err != nil {
		return nil, err
	}
	return string(t), nil
}

type Direction string

const (
	DirectionCredit Direction = "CREDIT"
	DirectionDebit  Direction = "DEBIT"
)

type Bucket string

const (
	BucketFamily Bucket = "FAMILY"
	BucketReward Bucket = "REWARD"
)

// BucketFor picks the wallet bucket a credit of type t lands in.
func BucketFor(t TransactionType) Bucket {
	if t == TypeHabitReward {
		return BucketReward
	}
	return BucketFamily
}

type CoinWallet struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	UserID      string    `gorm:"column:user_id;uniqueIndex" json:"user_id"`
	FamilyCoins int64     `gorm:"column:family_coins" json:"family_coins"`
	RewardCoins int64     `gorm:"column:reward_coins" json:"reward_coins"`
	TotalEarned int64     `gorm:"column:total_earned" json:"total_earned"`
	TotalSpent  int64     `gorm:"column:total_spent" json:"total_spent"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (w *CoinWallet) Balance() int64 {
	return w.FamilyCoins + w.RewardCoins
}

func (w *CoinWallet) Consistent() bool {
	return w.FamilyCoins >= 0 && w.RewardCoins >= 0 &&
		w.Balance() == w.TotalEarned-w.TotalSpent
}

func (w *CoinWallet) bucket(b Bucket) int64 {
	if b == BucketReward {
		return w.RewardCoins
	}
	return w.FamilyCoins
}

func (w *CoinWallet) add(b Bucket, amount int64) {
	if b == BucketReward {
		w.RewardCoins += amount
		return
	}
	w.FamilyCoins += amount
}

// CoinTransaction is immutable once written.
type CoinTransaction struct {
	ID             string          `gorm:"column:id;primaryKey" json:"id"`
	Code           string          `gorm:"column:code;index" json:"code"`
	FromUserID     string          `gorm:"column:from_user_id;index" json:"from_user_id"`
	ToUserID       string          `gorm:"column:to_user_id;index:idx_coin_tx_to_type_created,priority:1" json:"to_user_id"`
	Amount         int64           `gorm:"column:amount" json:"amount"`
	Type           TransactionType `gorm:"column:type;type:varchar(32);index:idx_coin_tx_to_type_created,priority:2" json:"type"`
	RelatedHabitID string          `gorm:"column:related_habit_id" json:"related_habit_id,omitempty"`
	RelatedTaskID  string          `gorm:"column:related_task_id" json:"related_task_id,omitempty"`
	ReferenceID    string          `gorm:"column:reference_id;uniqueIndex" json:"reference_id"`
	Message        string          `gorm:"column:message" json:"message,omitempty"`
	Metadata       datatypes.JSON  `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time       `gorm:"column:created_at;index:idx_coin_tx_to_type_created,priority:3" json:"created_at"`
}

// RecordKey identifies one payable milestone occurrence.
type RecordKey struct {
	HabitID    string
	UserID     string
	StreakDays int
	Occurrence string
}

func (k RecordKey) ReferenceID() string {
	return fmt.Sprintf("habit:%s:%s:%d:%s", k.HabitID, k.UserID, k.StreakDays, k.Occurrence)
}

type RewardRecord struct {
	ID            string    `gorm:"column:id;primaryKey" json:"id"`
	HabitID       string    `gorm:"column:habit_id;uniqueIndex:idx_reward_record_key,priority:1" json:"habit_id"`
	UserID        string    `gorm:"column:user_id;uniqueIndex:idx_reward_record_key,priority:2" json:"user_id"`
	StreakDays    int       `gorm:"column:streak_days;uniqueIndex:idx_reward_record_key,priority:3" json:"streak_days"`
	Occurrence    string    `gorm:"column:occurrence;uniqueIndex:idx_reward_record_key,priority:4" json:"occurrence"`
	CoinsAwarded  int64     `gorm:"column:coins_awarded" json:"coins_awarded"`
	TransactionID string    `gorm:"column:transaction_id" json:"transaction_id"`
	AwardedAt     time.Time `gorm:"column:awarded_at" json:"awarded_at"`
}

func (r *RewardRecord) Key() RecordKey {
	return RecordKey{HabitID: r.HabitID, UserID: r.UserID, StreakDays: r.StreakDays, Occurrence: r.Occurrence}
}

// LedgerEntry is one per-user, per-bucket balance movement. Entries form a
// hash chain ordered by Sequence.
type LedgerEntry struct {
	ID            string    `gorm:"column:id;primaryKey" json:"id"`
	UserID        string    `gorm:"column:user_id;uniqueIndex:idx_ledger_user_seq,priority:1" json:"user_id"`
	Sequence      int64     `gorm:"column:sequence;uniqueIndex:idx_ledger_user_seq,priority:2" json:"sequence"`
	TransactionID string    `gorm:"column:transaction_id;index" json:"transaction_id"`
	Direction     Direction `gorm:"column:direction;type:varchar(8)" json:"direction"`
	Bucket        Bucket    `gorm:"column:bucket;type:varchar(8)" json:"bucket"`
	Amount        int64     `gorm:"column:amount" json:"amount"`
	BalanceAfter  int64     `gorm:"column:balance_after" json:"balance_after"`
	PreviousHash  string    `gorm:"column:previous_hash" json:"previous_hash"`
	Hash          string    `gorm:"column:hash" json:"hash"`
	CreatedAt     time.Time `gorm:"column:created_at" json:"created_at"`
}

func (m *LedgerEntry) HashFields() map[string]string {
	return map[string]string{
		"id":             m.ID,
		"user_id":        m.UserID,
		"sequence":       fmt.Sprintf("%d", m.Sequence),
		"transaction_id": m.TransactionID,
		"direction":      string(m.Direction),
		"bucket":         string(m.Bucket),
		"amount":         fmt.Sprintf("%d", m.Amount),
		"balance_after":  fmt.Sprintf("%d", m.BalanceAfter),
		"created_at":     m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":  m.PreviousHash,
	}
}

func (m *LedgerEntry) GenerateHash() string {
	fields := m.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// GenerateTransactionCode is the fallback code format when no sequence
// generator is wired: TXN-YYYYMMDD-XXXXXX.
func GenerateTransactionCode(now time.Time) (string, error) {
	r := make([]byte, 3)
	if _, err := rand.Read(r); err != nil {
		return "", err
	}
	return fmt.Sprintf("TXN-%s-%s", now.UTC().Format("20060102"), strings.ToUpper(hex.EncodeToString(r))), nil
}

// Models lists every table owned by the ledger, for migrations.
func Models() []any {
	return []any{&CoinWallet{}, &CoinTransaction{}, &RewardRecord{}, &LedgerEntry{}}
}
