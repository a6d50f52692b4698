package ledger

import (
	"context"
	"time"
)

// Reader is the read side of the ledger. Inside a unit of work it sees the
// transaction's own writes.
type Reader interface {
	GetWallet(ctx context.Context, userID string) (*CoinWallet, error)
	RecordExists(ctx context.Context, key RecordKey) (bool, error)
	TransactionExists(ctx context.Context, referenceID string) (bool, error)
	SumCredits(ctx context.Context, userID string, txType TransactionType, from, to time.Time) (int64, error)
}

// Tx is the write surface available inside one atomic unit.
type Tx interface {
	Reader

	// LockWallet returns the user's wallet, creating it if needed, and holds
	// it exclusively until the unit ends.
	LockWallet(ctx context.Context, userID string) (*CoinWallet, error)
	SaveWallet(ctx context.Context, wallet *CoinWallet) error
	InsertTransaction(ctx context.Context, txn *CoinTransaction) error
	InsertRewardRecord(ctx context.Context, record *RewardRecord) error
	LastEntry(ctx context.Context, userID string) (*LedgerEntry, error)
	AppendEntry(ctx context.Context, entry *LedgerEntry) error
}

// UnitOfWork runs fn atomically while holding exclusive access to the
// wallets of userIDs. Either everything fn wrote is committed or nothing is.
type UnitOfWork interface {
	Do(ctx context.Context, userIDs []string, fn func(ctx context.Context, tx Tx) error) error
	Reader() Reader
	Entries(ctx context.Context, userID string) ([]*LedgerEntry, error)
	Transactions(ctx context.Context, q TransactionQuery) ([]*CoinTransaction, error)
	// WalletOwners pages through wallet owners in user ID order.
	WalletOwners(ctx context.Context, afterUserID string, limit int) ([]string, error)
}

// TransactionQuery selects a user's transactions newest first, strictly
// older than the (Before, BeforeID) cursor when set.
type TransactionQuery struct {
	UserID   string
	Before   time.Time
	BeforeID string
	Limit    int
}
