package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"habitcoin/pkg/db/option"
	"habitcoin/pkg/locker"
	"habitcoin/pkg/rediskey"
	"habitcoin/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormUnitOfWork struct {
	db     *gorm.DB
	node   *snowflake.Node
	locker locker.Locker

	wallet      repository.Repository[CoinWallet]
	transaction repository.Repository[CoinTransaction]
	record      repository.Repository[RewardRecord]
	entry       repository.Repository[LedgerEntry]
}

type UnitOfWorkParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Locker locker.Locker
}

func NewGormUnitOfWork(p UnitOfWorkParams) UnitOfWork {
	return &gormUnitOfWork{
		db:     p.DB,
		node:   p.Node,
		locker: p.Locker,

		wallet:      repository.ProvideStore[CoinWallet](p.DB),
		transaction: repository.ProvideStore[CoinTransaction](p.DB),
		record:      repository.ProvideStore[RewardRecord](p.DB),
		entry:       repository.ProvideStore[LedgerEntry](p.DB),
	}
}

func (u *gormUnitOfWork) Do(ctx context.Context, userIDs []string, fn func(ctx context.Context, tx Tx) error) error {
	// Lock order is fixed so two transfers between the same pair cannot
	// deadlock.
	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)
	ids = compact(ids)

	for _, id := range ids {
		release, err := u.locker.Acquire(ctx, rediskey.BuildWalletLockKey(id))
		if err != nil {
			return fmt.Errorf("%w: wallet lock for %s: %w", ErrStore, id, err)
		}
		defer release()
	}

	var fnErr error
	err := u.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		fnErr = fn(ctx, u.withTx(db))
		return fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil {
		// store calls inside fn are already classified; precondition
		// errors pass through to the caller
		return fnErr
	}
	// begin or commit failed
	return classify(err)
}

func (u *gormUnitOfWork) withTx(db *gorm.DB) *gormTx {
	return &gormTx{
		db:          db,
		node:        u.node,
		wallet:      u.wallet.WithTrx(db),
		transaction: u.transaction.WithTrx(db),
		record:      u.record.WithTrx(db),
		entry:       u.entry.WithTrx(db),
	}
}

func (u *gormUnitOfWork) Reader() Reader {
	return u.withTx(u.db)
}

func (u *gormUnitOfWork) Entries(ctx context.Context, userID string) ([]*LedgerEntry, error) {
	entries, err := u.entry.Find(ctx, &LedgerEntry{UserID: userID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "sequence",
		OrderBy: "asc",
		Allow:   map[string]bool{"sequence": true},
	}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return entries, nil
}

func (u *gormUnitOfWork) Transactions(ctx context.Context, q TransactionQuery) ([]*CoinTransaction, error) {
	involving := func(db *gorm.DB) *gorm.DB {
		return db.Where("(to_user_id = ? OR from_user_id = ?)", q.UserID, q.UserID)
	}
	before := func(db *gorm.DB) *gorm.DB {
		if q.Before.IsZero() {
			return db
		}
		return db.Where("(created_at < ? OR (created_at = ? AND id < ?))", q.Before, q.Before, q.BeforeID)
	}
	newestFirst := func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at DESC").Order("id DESC")
	}

	txns, err := u.transaction.Find(ctx, nil, involving, before, newestFirst, option.WithLimit(q.Limit))
	if err != nil {
		if errors.Is(err, ErrUnknownTransactionType) {
			zap.L().Error("ledger holds a transaction with an unknown type", zap.String("user_id", q.UserID), zap.Error(err))
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return txns, nil
}

func (u *gormUnitOfWork) WalletOwners(ctx context.Context, afterUserID string, limit int) ([]string, error) {
	after := func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id > ?", afterUserID).Order("user_id ASC")
	}

	wallets, err := u.wallet.Find(ctx, nil, after, option.WithLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}

	ids := make([]string, 0, len(wallets))
	for _, w := range wallets {
		ids = append(ids, w.UserID)
	}
	return ids, nil
}

type gormTx struct {
	db   *gorm.DB
	node *snowflake.Node

	wallet      repository.Repository[CoinWallet]
	transaction repository.Repository[CoinTransaction]
	record      repository.Repository[RewardRecord]
	entry       repository.Repository[LedgerEntry]
}

func (t *gormTx) GetWallet(ctx context.Context, userID string) (*CoinWallet, error) {
	w, err := t.wallet.FindOne(ctx, &CoinWallet{UserID: userID})
	if err != nil {
		return nil, wrapStore(err)
	}
	return w, nil
}

func (t *gormTx) RecordExists(ctx context.Context, key RecordKey) (bool, error) {
	n, err := t.record.Count(ctx, &RewardRecord{
		HabitID:    key.HabitID,
		UserID:     key.UserID,
		StreakDays: key.StreakDays,
		Occurrence: key.Occurrence,
	})
	if err != nil {
		return false, wrapStore(err)
	}
	return n > 0, nil
}

func (t *gormTx) TransactionExists(ctx context.Context, referenceID string) (bool, error) {
	n, err := t.transaction.Count(ctx, &CoinTransaction{ReferenceID: referenceID})
	if err != nil {
		return false, wrapStore(err)
	}
	return n > 0, nil
}

func (t *gormTx) SumCredits(ctx context.Context, userID string, txType TransactionType, from, to time.Time) (int64, error) {
	var total int64
	err := t.db.WithContext(ctx).
		Model(&CoinTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where(&CoinTransaction{ToUserID: userID, Type: txType}).
		Scopes(option.ApplyOperator(
			option.Condition{Field: "created_at", Operator: option.GTE, Value: from.UTC()},
			option.Condition{Field: "created_at", Operator: option.LT, Value: to.UTC()},
		)).
		Scan(&total).Error
	if err != nil {
		return 0, wrapStore(err)
	}
	return total, nil
}

func (t *gormTx) LockWallet(ctx context.Context, userID string) (*CoinWallet, error) {
	now := time.Now().UTC()
	fresh := &CoinWallet{
		ID:        t.node.Generate().String(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	upsert := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	})
	if err := t.wallet.WithTrx(upsert).Create(ctx, fresh); err != nil {
		return nil, wrapStore(err)
	}

	var opts []option.QueryOption
	if t.db.Dialector.Name() != "sqlite" {
		opts = append(opts, option.WithLockingUpdate())
	}

	w, err := t.wallet.FindOne(ctx, &CoinWallet{UserID: userID}, opts...)
	if err != nil {
		return nil, wrapStore(err)
	}
	if w == nil {
		return nil, fmt.Errorf("%w: wallet for %s vanished after upsert", ErrStore, userID)
	}
	return w, nil
}

func (t *gormTx) SaveWallet(ctx context.Context, w *CoinWallet) error {
	w.UpdatedAt = time.Now().UTC()
	updates := map[string]any{
		"family_coins": w.FamilyCoins,
		"reward_coins": w.RewardCoins,
		"total_earned": w.TotalEarned,
		"total_spent":  w.TotalSpent,
		"updated_at":   w.UpdatedAt,
	}
	return wrapStore(t.wallet.Update(ctx, w.ID, updates))
}

func (t *gormTx) InsertTransaction(ctx context.Context, txn *CoinTransaction) error {
	return wrapStore(t.transaction.Create(ctx, txn))
}

func (t *gormTx) InsertRewardRecord(ctx context.Context, record *RewardRecord) error {
	return wrapStore(t.record.Create(ctx, record))
}

func (t *gormTx) LastEntry(ctx context.Context, userID string) (*LedgerEntry, error) {
	last, err := t.entry.FindOne(ctx, &LedgerEntry{UserID: userID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "sequence",
		OrderBy: "desc",
		Allow:   map[string]bool{"sequence": true},
	}))
	if err != nil {
		return nil, wrapStore(err)
	}
	return last, nil
}

func (t *gormTx) AppendEntry(ctx context.Context, entry *LedgerEntry) error {
	return wrapStore(t.entry.Create(ctx, entry))
}

func classify(err error) error {
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, ErrUnknownTransactionType):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
}

func wrapStore(err error) error {
	if err == nil {
		return nil
	}
	return classify(err)
}

func compact(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if s == "" || (i > 0 && s == sorted[i-1]) {
			continue
		}
		out = append(out, s)
	}
	return out
}
