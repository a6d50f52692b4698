package ledger

import (
	"context"
	"fmt"
	"time"

	"habitcoin/pkg/db/pagination"
	"habitcoin/pkg/errutil"

	"go.uber.org/zap"
)

type ChainReport struct {
	UserID   string `json:"user_id"`
	Entries  int    `json:"entries"`
	Valid    bool   `json:"valid"`
	BrokenAt string `json:"broken_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// VerifyChain walks the user's journal in sequence order and recomputes
// every hash.
func (l *Ledger) VerifyChain(ctx context.Context, userID string) (*ChainReport, error) {
	entries, err := l.uow.Entries(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &ChainReport{UserID: userID, Entries: len(entries), Valid: true}
	previousHash := GenesisHash
	var expectedSeq int64 = 1

	for _, e := range entries {
		switch {
		case e.Sequence != expectedSeq:
			report.Reason = fmt.Sprintf("sequence gap: expected %d got %d", expectedSeq, e.Sequence)
		case e.PreviousHash != previousHash:
			report.Reason = "previous hash mismatch"
		case e.GenerateHash() != e.Hash:
			report.Reason = "hash mismatch"
		}

		if report.Reason != "" {
			report.Valid = false
			report.BrokenAt = e.ID
			zap.L().Error("ledger chain broken",
				zap.String("user_id", userID),
				zap.String("entry_id", e.ID),
				zap.String("reason", report.Reason),
			)
			return report, nil
		}

		previousHash = e.Hash
		expectedSeq++
	}

	return report, nil
}

type Reconciliation struct {
	UserID      string      `json:"user_id"`
	Wallet      *CoinWallet `json:"wallet"`
	FamilyCoins int64       `json:"family_coins"`
	RewardCoins int64       `json:"reward_coins"`
	TotalEarned int64       `json:"total_earned"`
	TotalSpent  int64       `json:"total_spent"`
	Consistent  bool        `json:"consistent"`
	Mismatches  []string    `json:"mismatches,omitempty"`
}

// Reconcile rebuilds balances from the journal and compares them with the
// stored wallet.
func (l *Ledger) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	entries, err := l.uow.Entries(ctx, userID)
	if err != nil {
		return nil, err
	}
	wallet, err := l.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	r := &Reconciliation{UserID: userID, Wallet: wallet}
	for _, e := range entries {
		signed := e.Amount
		if e.Direction == DirectionDebit {
			signed = -e.Amount
			r.TotalSpent += e.Amount
		} else {
			r.TotalEarned += e.Amount
		}

		if e.Bucket == BucketReward {
			r.RewardCoins += signed
		} else {
			r.FamilyCoins += signed
		}

		after := r.FamilyCoins
		if e.Bucket == BucketReward {
			after = r.RewardCoins
		}
		if after != e.BalanceAfter {
			r.Mismatches = append(r.Mismatches, fmt.Sprintf("entry %s: balance_after %d, derived %d", e.ID, e.BalanceAfter, after))
		}
	}

	check := func(field string, stored, derived int64) {
		if stored != derived {
			r.Mismatches = append(r.Mismatches, fmt.Sprintf("%s: wallet %d, journal %d", field, stored, derived))
		}
	}
	check("family_coins", wallet.FamilyCoins, r.FamilyCoins)
	check("reward_coins", wallet.RewardCoins, r.RewardCoins)
	check("total_earned", wallet.TotalEarned, r.TotalEarned)
	check("total_spent", wallet.TotalSpent, r.TotalSpent)
	if !wallet.Consistent() {
		r.Mismatches = append(r.Mismatches, "wallet balance does not equal earned minus spent")
	}

	r.Consistent = len(r.Mismatches) == 0
	if !r.Consistent {
		zap.L().Error("wallet does not reconcile with journal", zap.String("user_id", userID), zap.Strings("mismatches", r.Mismatches))
	}
	return r, nil
}

type TransactionPage struct {
	Transactions []*CoinTransaction    `json:"transactions"`
	PageInfo     *pagination.PageInfo `json:"page_info"`
}

// ListTransactions returns the user's sent and received transactions, most
// recent first.
func (l *Ledger) ListTransactions(ctx context.Context, userID string, page pagination.Pagination) (*TransactionPage, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	if limit > pagination.MaxLimit {
		limit = pagination.MaxLimit
	}

	q := TransactionQuery{UserID: userID, Limit: limit + 1}
	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, errutil.BadRequest("invalid cursor", err, errutil.Field("cursor", page.Cursor))
		}
		before, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, errutil.BadRequest("invalid cursor", err, errutil.Field("cursor", page.Cursor))
		}
		q.Before = before.UTC()
		q.BeforeID = cursor.ID
	}

	txns, err := l.uow.Transactions(ctx, q)
	if err != nil {
		return nil, err
	}

	info := pagination.BuildCursorPageInfo(txns, limit, func(t *CoinTransaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339Nano), ID: t.ID}
	})
	if len(txns) > limit {
		txns = txns[:limit]
	}

	return &TransactionPage{Transactions: txns, PageInfo: info}, nil
}

// WalletOwners lists users holding a wallet, after afterUserID.
func (l *Ledger) WalletOwners(ctx context.Context, afterUserID string, limit int) ([]string, error) {
	if limit <= 0 || limit > pagination.MaxLimit {
		limit = pagination.MaxLimit
	}
	return l.uow.WalletOwners(ctx, afterUserID, limit)
}
