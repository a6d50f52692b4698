// Package issuer turns check-ins, completed tasks and gifts into ledger
// writes, within the policy limits.
package issuer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"habitcoin/pkg/errutil"
	"habitcoin/services/capguard"
	"habitcoin/services/habit"
	"habitcoin/services/ledger"
	"habitcoin/services/policy"
	"habitcoin/services/streak"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxGiftMessageLength = 200

var tracer = otel.Tracer("habitcoin/services/issuer")

var Module = fx.Module("issuer",
	fx.Provide(
		New,
		func(s *habit.Store) HabitReader { return s },
		func(t *streak.Tracker) StreakReader { return t },
	),
)

type HabitReader interface {
	GetHabit(ctx context.Context, habitID string) (*habit.Habit, error)
}

type StreakReader interface {
	StreakAt(ctx context.Context, habitID, day string) (streak.Streak, error)
}

type Issuer struct {
	habits  HabitReader
	streaks StreakReader
	guard   *capguard.Guard
	ledger  *ledger.Ledger
	now     func() time.Time
}

type Params struct {
	fx.In
	Habits  HabitReader
	Streaks StreakReader
	Guard   *capguard.Guard
	Ledger  *ledger.Ledger
}

func New(p Params) *Issuer {
	return &Issuer{
		habits:  p.Habits,
		streaks: p.Streaks,
		guard:   p.Guard,
		ledger:  p.Ledger,
		now:     time.Now,
	}
}

// WithClock returns a copy of i that evaluates caps as of now().
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	cp := *i
	cp.now = now
	return &cp
}

func (i *Issuer) policy() policy.Policy {
	return i.guard.Policy()
}

// Evaluate decides the payout for the check-in of habitID on checkInDate,
// which must lie in the check-in window. The occurrence marker is the start
// date of the streak, so retrying the same check-in is a no-op while a
// rebuilt streak pays again. Days before the window are frozen, which keeps
// the start date of a paid run from moving.
func (i *Issuer) Evaluate(ctx context.Context, habitID, userID, checkInDate string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "issuer.Evaluate", trace.WithAttributes(
		attribute.String("habit_id", habitID),
		attribute.String("user_id", userID),
	))
	defer span.End()

	logger := zap.L().With(
		zap.String("habit_id", habitID),
		zap.String("user_id", userID),
		zap.String("trace_id", span.SpanContext().TraceID().String()),
	)

	if err := i.validateCheckIn(ctx, habitID, userID, checkInDate); err != nil {
		return Outcome{}, err
	}

	s, err := i.streaks.StreakAt(ctx, habitID, checkInDate)
	if err != nil {
		logger.Error("failed to compute streak", zap.Error(err))
		return Outcome{}, err
	}

	amount, ok := i.policy().Milestones.Lookup(s.Days)
	if !ok {
		return i.finish("habit", logger, Outcome{Kind: NoPayout, StreakDays: s.Days}), nil
	}

	key := ledger.RecordKey{HabitID: habitID, UserID: userID, StreakDays: s.Days, Occurrence: s.StartDate}
	base := Outcome{StreakDays: s.Days, Occurrence: s.StartDate}

	exists, err := i.ledger.RecordExists(ctx, key)
	if err != nil {
		logger.Error("failed to look up reward record", zap.Error(err))
		return Outcome{}, err
	}
	if exists {
		base.Kind = AlreadyAwarded
		return i.finish("habit", logger, base), nil
	}

	asOf := i.now()
	d, err := i.guard.Authorize(ctx, i.ledger.Reader(), userID, amount, asOf)
	if err != nil {
		return Outcome{}, err
	}
	if !d.Allowed {
		base.Kind, base.Reason = Denied, d.Reason
		return i.finish("habit", logger, base), nil
	}

	txn, err := i.ledger.CreditAtomically(ctx, ledger.CreditRequest{
		UserID:         userID,
		Amount:         amount,
		Type:           ledger.TypeHabitReward,
		RelatedHabitID: habitID,
		ReferenceID:    key.ReferenceID(),
		Message:        fmt.Sprintf("%d-day streak", s.Days),
		Metadata: map[string]any{
			"streak_days": s.Days,
			"start_date":  s.StartDate,
			"end_date":    s.EndDate,
		},
		Record: &ledger.RewardRecord{
			HabitID:    habitID,
			UserID:     userID,
			StreakDays: s.Days,
			Occurrence: s.StartDate,
		},
		Precondition: func(ctx context.Context, r ledger.Reader, now time.Time) error {
			d, err := i.guard.Caps(ctx, r, userID, amount, now)
			if err != nil {
				return err
			}
			return d.Err()
		},
	})

	o, err := i.settle(base, amount, txn, err)
	if err != nil {
		logger.Error("failed to credit habit reward", zap.Error(err), zap.Bool("retryable", ledger.IsRetryable(err)))
		span.RecordError(err)
		return Outcome{}, err
	}
	return i.finish("habit", logger, o), nil
}

// RewardTaskCompletion pays userID for taskID once. fromUserID is recorded
// as the assigner and must share userID's family; the coins are minted, not
// taken from the assigner. An empty fromUserID is the system.
func (i *Issuer) RewardTaskCompletion(ctx context.Context, userID, taskID string, amount int64, fromUserID string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "issuer.RewardTaskCompletion", trace.WithAttributes(
		attribute.String("task_id", taskID),
		attribute.String("user_id", userID),
	))
	defer span.End()

	logger := zap.L().With(zap.String("task_id", taskID), zap.String("user_id", userID))

	if userID == "" || taskID == "" {
		return Outcome{}, errutil.ValidationFailed("user and task are required", nil)
	}
	if amount <= 0 {
		return Outcome{}, errutil.ValidationFailed("amount must be positive", nil, errutil.Field("amount", "must be > 0"))
	}
	if fromUserID == userID {
		return Outcome{}, errutil.ValidationFailed("a task cannot be rewarded by its assignee", nil, errutil.Field("from_user_id", fromUserID))
	}
	if fromUserID == "" {
		fromUserID = ledger.SystemUserID
	}

	reference := fmt.Sprintf("task:%s:%s", taskID, userID)
	exists, err := i.ledger.TransactionExists(ctx, reference)
	if err != nil {
		return Outcome{}, err
	}
	if exists {
		return i.finish("task", logger, Outcome{Kind: AlreadyAwarded}), nil
	}

	asOf := i.now()
	d, err := i.guard.AuthorizeTask(ctx, i.ledger.Reader(), fromUserID, userID, amount, asOf)
	if err != nil {
		return Outcome{}, err
	}
	if !d.Allowed {
		return i.finish("task", logger, Outcome{Kind: Denied, Reason: d.Reason}), nil
	}

	txn, err := i.ledger.CreditAtomically(ctx, ledger.CreditRequest{
		UserID:        userID,
		FromUserID:    fromUserID,
		Amount:        amount,
		Type:          ledger.TypeTaskCompletion,
		RelatedTaskID: taskID,
		ReferenceID:   reference,
		Precondition: func(ctx context.Context, r ledger.Reader, now time.Time) error {
			d, err := i.guard.TaskCap(ctx, r, userID, amount, now)
			if err != nil {
				return err
			}
			return d.Err()
		},
	})

	o, err := i.settle(Outcome{}, amount, txn, err)
	if err != nil {
		logger.Error("failed to credit task reward", zap.Error(err))
		span.RecordError(err)
		return Outcome{}, err
	}
	return i.finish("task", logger, o), nil
}

// GiftCoins moves coins between users. requestID makes the call idempotent;
// without one every call is a new gift.
func (i *Issuer) GiftCoins(ctx context.Context, fromUserID, toUserID string, amount int64, message, requestID string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "issuer.GiftCoins", trace.WithAttributes(
		attribute.String("from_user_id", fromUserID),
		attribute.String("to_user_id", toUserID),
	))
	defer span.End()

	logger := zap.L().With(zap.String("from_user_id", fromUserID), zap.String("to_user_id", toUserID))

	message = strings.TrimSpace(message)
	switch {
	case fromUserID == "" || toUserID == "":
		return Outcome{}, errutil.ValidationFailed("sender and receiver are required", nil)
	case fromUserID == toUserID:
		return Outcome{}, errutil.ValidationFailed("cannot gift coins to yourself", nil, errutil.Field("to_user_id", toUserID))
	case amount <= 0:
		return Outcome{}, errutil.ValidationFailed("amount must be positive", nil, errutil.Field("amount", "must be > 0"))
	case len(message) > maxGiftMessageLength:
		return Outcome{}, errutil.ValidationFailed("message is too long", nil, errutil.Field("message", fmt.Sprintf("max %d characters", maxGiftMessageLength)))
	}

	if requestID == "" {
		requestID = uuid.NewString()
	}
	reference := fmt.Sprintf("gift:%s:%s", fromUserID, requestID)

	exists, err := i.ledger.TransactionExists(ctx, reference)
	if err != nil {
		return Outcome{}, err
	}
	if exists {
		return i.finish("gift", logger, Outcome{Kind: AlreadyAwarded}), nil
	}

	asOf := i.now()
	d, err := i.guard.AuthorizeGift(ctx, i.ledger.Reader(), fromUserID, toUserID, amount, asOf)
	if err != nil {
		return Outcome{}, err
	}
	if !d.Allowed {
		return i.finish("gift", logger, Outcome{Kind: Denied, Reason: d.Reason}), nil
	}

	txn, err := i.ledger.Transfer(ctx, ledger.TransferRequest{
		FromUserID:  fromUserID,
		ToUserID:    toUserID,
		Amount:      amount,
		ReferenceID: reference,
		Message:     message,
		Precondition: func(ctx context.Context, r ledger.Reader, now time.Time) error {
			d, err := i.guard.GiftCap(ctx, r, toUserID, amount, now)
			if err != nil {
				return err
			}
			return d.Err()
		},
	})
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		return i.finish("gift", logger, Outcome{Kind: Denied, Reason: InsufficientBalance}), nil
	}

	o, err := i.settle(Outcome{}, amount, txn, err)
	if err != nil {
		logger.Error("failed to transfer gift", zap.Error(err))
		span.RecordError(err)
		return Outcome{}, err
	}
	return i.finish("gift", logger, o), nil
}

func (i *Issuer) validateCheckIn(ctx context.Context, habitID, userID, checkInDate string) error {
	if _, err := time.Parse(policy.DateLayout, checkInDate); err != nil {
		return errutil.ValidationFailed("check-in date must be YYYY-MM-DD", err, errutil.Field("check_in_date", checkInDate))
	}
	if first, last := i.policy().CheckInWindow(i.now()); checkInDate < first || checkInDate > last {
		return errutil.ValidationFailed("check-in date is outside the check-in window", nil,
			errutil.Field("check_in_date", checkInDate), errutil.Field("earliest", first), errutil.Field("latest", last))
	}

	h, err := i.habits.GetHabit(ctx, habitID)
	if err != nil {
		return err
	}
	if h == nil {
		return errutil.NotFound("habit not found", nil, errutil.Field("habit_id", habitID))
	}
	if h.OwnerID != userID {
		return errutil.Forbidden("habit belongs to another user", nil)
	}
	if !h.Active {
		return errutil.UnprocessableEntity("habit is inactive", nil)
	}
	return nil
}

// settle maps the result of a ledger write onto an outcome. A lost
// idempotency race is a replay and a denial from the in-unit re-check is a
// denial; everything else is a store error.
func (i *Issuer) settle(base Outcome, amount int64, txn *ledger.CoinTransaction, err error) (Outcome, error) {
	var denied *capguard.DeniedError
	switch {
	case err == nil:
		base.Kind = Awarded
		base.Amount = amount
		base.TransactionID = txn.ID
		return base, nil
	case errors.Is(err, ledger.ErrConflict):
		base.Kind = AlreadyAwarded
		return base, nil
	case errors.As(err, &denied):
		base.Kind = Denied
		base.Reason = denied.Decision.Reason
		return base, nil
	default:
		return Outcome{}, err
	}
}

func (i *Issuer) finish(operation string, logger *zap.Logger, o Outcome) Outcome {
	observe(operation, o)
	logger.Info("reward evaluated",
		zap.String("operation", operation),
		zap.String("kind", string(o.Kind)),
		zap.Int64("amount", o.Amount),
		zap.String("reason", string(o.Reason)),
		zap.Int("streak_days", o.StreakDays),
	)
	return o
}
