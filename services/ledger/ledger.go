package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"habitcoin/pkg/sequence"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

var tracer = otel.Tracer("habitcoin/services/ledger")

// Precondition runs inside the unit of work, after the wallets are locked
// and before anything is written. now is the instant the write will be
// stamped with, so windows derived from it match the stored rows. A non-nil
// error aborts the unit and is returned to the caller unchanged.
type Precondition func(ctx context.Context, r Reader, now time.Time) error

type CreditRequest struct {
	UserID         string
	FromUserID     string
	Amount         int64
	Type           TransactionType
	RelatedHabitID string
	RelatedTaskID  string
	ReferenceID    string
	Message        string
	Metadata       map[string]any

	// Record is set for milestone payouts; its key is re-checked inside the
	// unit before anything is written.
	Record       *RewardRecord
	Precondition Precondition
}

type DebitRequest struct {
	UserID      string
	Amount      int64
	ReferenceID string
	Message     string
	Metadata    map[string]any
}

type TransferRequest struct {
	FromUserID   string
	ToUserID     string
	Amount       int64
	ReferenceID  string
	Message      string
	Metadata     map[string]any
	Precondition Precondition
}

type Ledger struct {
	uow   UnitOfWork
	node  *snowflake.Node
	codes sequence.Generator
	now   func() time.Time
}

type Params struct {
	fx.In
	UoW   UnitOfWork
	Node  *snowflake.Node
	Codes sequence.Generator `optional:"true"`
}

func New(p Params) *Ledger {
	return &Ledger{
		uow:   p.UoW,
		node:  p.Node,
		codes: p.Codes,
		now:   time.Now,
	}
}

// WithClock returns a copy of l that timestamps writes with now.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	cp := *l
	cp.now = now
	return &cp
}

func (l *Ledger) Reader() Reader {
	return l.uow.Reader()
}

func (l *Ledger) RecordExists(ctx context.Context, key RecordKey) (bool, error) {
	return l.uow.Reader().RecordExists(ctx, key)
}

func (l *Ledger) TransactionExists(ctx context.Context, referenceID string) (bool, error) {
	return l.uow.Reader().TransactionExists(ctx, referenceID)
}

func (l *Ledger) SumCredits(ctx context.Context, userID string, txType TransactionType, from, to time.Time) (int64, error) {
	return l.uow.Reader().SumCredits(ctx, userID, txType, from, to)
}

// GetWallet returns an empty, unsaved wallet for users who were never
// credited.
func (l *Ledger) GetWallet(ctx context.Context, userID string) (*CoinWallet, error) {
	w, err := l.uow.Reader().GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return &CoinWallet{UserID: userID}, nil
	}
	return w, nil
}

// CreditAtomically mints coins into the user's wallet. A lost idempotency
// race surfaces as ErrConflict.
func (l *Ledger) CreditAtomically(ctx context.Context, req CreditRequest) (*CoinTransaction, error) {
	ctx, span := tracer.Start(ctx, "ledger.CreditAtomically", trace.WithAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("type", string(req.Type)),
		attribute.Int64("amount", req.Amount),
	))
	defer span.End()

	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := ParseTransactionType(string(req.Type)); err != nil {
		return nil, err
	}
	if req.FromUserID == "" {
		req.FromUserID = SystemUserID
	}
	if req.Record != nil && req.ReferenceID == "" {
		req.ReferenceID = req.Record.Key().ReferenceID()
	}
	if req.ReferenceID == "" {
		return nil, fmt.Errorf("ledger: credit without a reference id")
	}

	var out *CoinTransaction
	err := l.uow.Do(ctx, []string{req.UserID}, func(ctx context.Context, tx Tx) error {
		wallet, err := tx.LockWallet(ctx, req.UserID)
		if err != nil {
			return err
		}

		now := l.timestamp()
		if req.Precondition != nil {
			if err := req.Precondition(ctx, tx, now); err != nil {
				return err
			}
		}

		if req.Record != nil {
			exists, err := tx.RecordExists(ctx, req.Record.Key())
			if err != nil {
				return err
			}
			if exists {
				return ErrConflict
			}
		}

		txn, err := l.newTransaction(ctx, now, req.FromUserID, req.UserID, req.Amount, req.Type, req.ReferenceID, req.Message, req.Metadata)
		if err != nil {
			return err
		}
		txn.RelatedHabitID = req.RelatedHabitID
		txn.RelatedTaskID = req.RelatedTaskID
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}

		if req.Record != nil {
			record := *req.Record
			record.ID = l.node.Generate().String()
			record.CoinsAwarded = req.Amount
			record.TransactionID = txn.ID
			record.AwardedAt = now
			if err := tx.InsertRewardRecord(ctx, &record); err != nil {
				return err
			}
		}

		bucket := BucketFor(req.Type)
		wallet.add(bucket, req.Amount)
		wallet.TotalEarned += req.Amount

		if err := l.appendEntry(ctx, tx, wallet, txn.ID, DirectionCredit, bucket, req.Amount, now); err != nil {
			return err
		}
		if err := tx.SaveWallet(ctx, wallet); err != nil {
			return err
		}

		out = txn
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	zap.L().Info("coins credited",
		zap.String("user_id", req.UserID),
		zap.String("type", string(req.Type)),
		zap.Int64("amount", req.Amount),
		zap.String("transaction_id", out.ID),
		zap.String("trace_id", span.SpanContext().TraceID().String()),
	)
	return out, nil
}

// DebitAtomically spends coins, family coins first.
func (l *Ledger) DebitAtomically(ctx context.Context, req DebitRequest) (*CoinTransaction, error) {
	ctx, span := tracer.Start(ctx, "ledger.DebitAtomically", trace.WithAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Int64("amount", req.Amount),
	))
	defer span.End()

	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.ReferenceID == "" {
		return nil, fmt.Errorf("ledger: debit without a reference id")
	}

	var out *CoinTransaction
	err := l.uow.Do(ctx, []string{req.UserID}, func(ctx context.Context, tx Tx) error {
		wallet, err := tx.LockWallet(ctx, req.UserID)
		if err != nil {
			return err
		}

		now := l.timestamp()
		txn, err := l.newTransaction(ctx, now, req.UserID, SystemUserID, req.Amount, TypeSpend, req.ReferenceID, req.Message, req.Metadata)
		if err != nil {
			return err
		}
		if err := l.debit(ctx, tx, wallet, txn, now); err != nil {
			return err
		}

		out = txn
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

// Transfer moves coins between two users as a GIFT. The receiver's family
// bucket is credited.
func (l *Ledger) Transfer(ctx context.Context, req TransferRequest) (*CoinTransaction, error) {
	ctx, span := tracer.Start(ctx, "ledger.Transfer", trace.WithAttributes(
		attribute.String("from_user_id", req.FromUserID),
		attribute.String("to_user_id", req.ToUserID),
		attribute.Int64("amount", req.Amount),
	))
	defer span.End()

	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.FromUserID == req.ToUserID {
		return nil, ErrSelfTransfer
	}
	if req.ReferenceID == "" {
		return nil, fmt.Errorf("ledger: transfer without a reference id")
	}

	var out *CoinTransaction
	err := l.uow.Do(ctx, []string{req.FromUserID, req.ToUserID}, func(ctx context.Context, tx Tx) error {
		sender, err := tx.LockWallet(ctx, req.FromUserID)
		if err != nil {
			return err
		}
		receiver, err := tx.LockWallet(ctx, req.ToUserID)
		if err != nil {
			return err
		}

		now := l.timestamp()
		if req.Precondition != nil {
			if err := req.Precondition(ctx, tx, now); err != nil {
				return err
			}
		}

		txn, err := l.newTransaction(ctx, now, req.FromUserID, req.ToUserID, req.Amount, TypeGift, req.ReferenceID, req.Message, req.Metadata)
		if err != nil {
			return err
		}
		if err := l.debit(ctx, tx, sender, txn, now); err != nil {
			return err
		}

		receiver.add(BucketFamily, req.Amount)
		receiver.TotalEarned += req.Amount
		if err := l.appendEntry(ctx, tx, receiver, txn.ID, DirectionCredit, BucketFamily, req.Amount, now); err != nil {
			return err
		}
		if err := tx.SaveWallet(ctx, receiver); err != nil {
			return err
		}

		out = txn
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

// debit inserts txn and draws its amount from wallet. It must run inside
// the unit that locked wallet.
func (l *Ledger) debit(ctx context.Context, tx Tx, wallet *CoinWallet, txn *CoinTransaction, now time.Time) error {
	allocations := allocateDebit(wallet, txn.Amount)
	if allocations == nil {
		return fmt.Errorf("%w: need=%d available=%d", ErrInsufficientBalance, txn.Amount, wallet.Balance())
	}

	meta := map[string]any{}
	if len(txn.Metadata) > 0 {
		_ = json.Unmarshal(txn.Metadata, &meta)
	}
	meta["sources"] = allocations
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	txn.Metadata = datatypes.JSON(raw)

	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return err
	}

	for _, a := range allocations {
		wallet.add(a.Bucket, -a.Amount)
		if err := l.appendEntry(ctx, tx, wallet, txn.ID, DirectionDebit, a.Bucket, a.Amount, now); err != nil {
			return err
		}
	}
	wallet.TotalSpent += txn.Amount

	if !wallet.Consistent() {
		return fmt.Errorf("%w: wallet %s would become inconsistent", ErrInsufficientBalance, wallet.UserID)
	}
	return tx.SaveWallet(ctx, wallet)
}

// appendEntry chains one movement onto the user's journal. wallet must
// already reflect the movement.
func (l *Ledger) appendEntry(ctx context.Context, tx Tx, wallet *CoinWallet, transactionID string, dir Direction, bucket Bucket, amount int64, now time.Time) error {
	last, err := tx.LastEntry(ctx, wallet.UserID)
	if err != nil {
		return err
	}

	previousHash := GenesisHash
	var sequence int64 = 1
	if last != nil {
		previousHash = last.Hash
		sequence = last.Sequence + 1
	}

	entry := &LedgerEntry{
		ID:            l.node.Generate().String(),
		UserID:        wallet.UserID,
		Sequence:      sequence,
		TransactionID: transactionID,
		Direction:     dir,
		Bucket:        bucket,
		Amount:        amount,
		BalanceAfter:  wallet.bucket(bucket),
		PreviousHash:  previousHash,
		CreatedAt:     now,
	}
	entry.Hash = entry.GenerateHash()

	return tx.AppendEntry(ctx, entry)
}

func (l *Ledger) newTransaction(ctx context.Context, now time.Time, from, to string, amount int64, txType TransactionType, referenceID, message string, metadata map[string]any) (*CoinTransaction, error) {
	code, err := l.transactionCode(ctx, now)
	if err != nil {
		return nil, err
	}

	var meta datatypes.JSON
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, err
		}
		meta = datatypes.JSON(raw)
	}

	return &CoinTransaction{
		ID:          l.node.Generate().String(),
		Code:        code,
		FromUserID:  from,
		ToUserID:    to,
		Amount:      amount,
		Type:        txType,
		ReferenceID: referenceID,
		Message:     message,
		Metadata:    meta,
		CreatedAt:   now,
	}, nil
}

func (l *Ledger) transactionCode(ctx context.Context, now time.Time) (string, error) {
	if l.codes != nil {
		code, err := l.codes.NextTransactionCode(ctx)
		if err == nil {
			return code, nil
		}
		zap.L().Warn("sequence generator unavailable, falling back to random code", zap.Error(err))
	}
	return GenerateTransactionCode(now)
}

// timestamp is truncated to milliseconds so hashes survive a round trip
// through stores with coarser time columns.
func (l *Ledger) timestamp() time.Time {
	return l.now().UTC().Truncate(time.Millisecond)
}
