// Package capguard decides whether a payout or a habit change stays within
// the anti-abuse limits of the reward policy.
package capguard

import (
	"context"
	"fmt"
	"time"

	"habitcoin/services/ledger"
	"habitcoin/services/policy"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("capguard", fx.Provide(New))

type DenyReason string

const (
	AccountTooNew            DenyReason = "AccountTooNew"
	DailyCapExceeded         DenyReason = "DailyCapExceeded"
	MonthlyCapExceeded       DenyReason = "MonthlyCapExceeded"
	TaskDailyCapExceeded     DenyReason = "TaskDailyCapExceeded"
	GiftDailyCapExceeded     DenyReason = "GiftDailyCapExceeded"
	NotInFamily              DenyReason = "NotInFamily"
	HabitCountExceeded       DenyReason = "HabitCountExceeded"
	ActiveHabitCountExceeded DenyReason = "ActiveHabitCountExceeded"
)

type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  DenyReason `json:"reason,omitempty"`
	// Remaining is the budget left after this amount on allow, and the
	// budget that was available on a cap denial.
	Remaining int64 `json:"remaining"`
}

func Allow(remaining int64) Decision {
	return Decision{Allowed: true, Remaining: remaining}
}

func Deny(reason DenyReason, remaining int64) Decision {
	return Decision{Reason: reason, Remaining: remaining}
}

// Err converts a denial into a *DeniedError so it can abort a ledger unit.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Decision: d}
}

type DeniedError struct {
	Decision Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("capguard: denied: %s", e.Decision.Reason)
}

type AccountReader interface {
	GetAccountCreatedAt(ctx context.Context, userID string) (time.Time, error)
	SameFamily(ctx context.Context, userID, otherID string) (bool, error)
}

type HabitCounter interface {
	CountHabits(ctx context.Context, userID string, activeOnly bool) (int64, error)
}

// CreditReader is satisfied by ledger.Reader, inside or outside a unit.
type CreditReader interface {
	SumCredits(ctx context.Context, userID string, txType ledger.TransactionType, from, to time.Time) (int64, error)
}

type Guard struct {
	policy   policy.Policy
	accounts AccountReader
	habits   HabitCounter
}

type Params struct {
	fx.In
	Policy   policy.Policy
	Accounts AccountReader
	Habits   HabitCounter
}

func New(p Params) *Guard {
	return &Guard{
		policy:   p.Policy,
		accounts: p.Accounts,
		habits:   p.Habits,
	}
}

func (g *Guard) Policy() policy.Policy {
	return g.policy
}

// Authorize checks a habit reward: account age, then the daily cap, then the
// monthly cap.
func (g *Guard) Authorize(ctx context.Context, reader CreditReader, userID string, amount int64, asOf time.Time) (Decision, error) {
	if d, err := g.checkAge(ctx, userID, asOf); err != nil || !d.Allowed {
		return d, err
	}
	return g.Caps(ctx, reader, userID, amount, asOf)
}

// Caps re-checks only the habit reward caps. It touches nothing but reader,
// so it is safe to run inside a ledger unit.
func (g *Guard) Caps(ctx context.Context, reader CreditReader, userID string, amount int64, asOf time.Time) (Decision, error) {
	dayStart, dayEnd := g.policy.DayWindow(asOf)
	daily, err := g.remaining(ctx, reader, userID, ledger.TypeHabitReward, g.policy.DailyCap, dayStart, dayEnd)
	if err != nil {
		return Decision{}, err
	}
	if amount > daily {
		return g.deny(userID, DailyCapExceeded, amount, daily), nil
	}

	monthStart, monthEnd := g.policy.MonthWindow(asOf)
	monthly, err := g.remaining(ctx, reader, userID, ledger.TypeHabitReward, g.policy.MonthlyCap, monthStart, monthEnd)
	if err != nil {
		return Decision{}, err
	}
	if amount > monthly {
		return g.deny(userID, MonthlyCapExceeded, amount, monthly), nil
	}

	return Allow(min(daily, monthly) - amount), nil
}

// AuthorizeTask gates a task payout. A user assigner must share the
// recipient's family and pass the age gate; the system assigner skips both.
// Then the recipient is age-gated and the task bucket applies.
func (g *Guard) AuthorizeTask(ctx context.Context, reader CreditReader, fromUserID, userID string, amount int64, asOf time.Time) (Decision, error) {
	if fromUserID != ledger.SystemUserID {
		same, err := g.accounts.SameFamily(ctx, fromUserID, userID)
		if err != nil {
			return Decision{}, err
		}
		if !same {
			return g.deny(userID, NotInFamily, amount, 0), nil
		}
		if d, err := g.checkAge(ctx, fromUserID, asOf); err != nil || !d.Allowed {
			return d, err
		}
	}
	if d, err := g.checkAge(ctx, userID, asOf); err != nil || !d.Allowed {
		return d, err
	}
	return g.TaskCap(ctx, reader, userID, amount, asOf)
}

func (g *Guard) TaskCap(ctx context.Context, reader CreditReader, userID string, amount int64, asOf time.Time) (Decision, error) {
	return g.bucket(ctx, reader, userID, ledger.TypeTaskCompletion, g.policy.TaskDailyCap, TaskDailyCapExceeded, amount, asOf)
}

// AuthorizeGift gates both parties on account age and caps gift coins
// received by toUserID per day.
func (g *Guard) AuthorizeGift(ctx context.Context, reader CreditReader, fromUserID, toUserID string, amount int64, asOf time.Time) (Decision, error) {
	for _, userID := range []string{fromUserID, toUserID} {
		if d, err := g.checkAge(ctx, userID, asOf); err != nil || !d.Allowed {
			return d, err
		}
	}
	return g.GiftCap(ctx, reader, toUserID, amount, asOf)
}

func (g *Guard) GiftCap(ctx context.Context, reader CreditReader, toUserID string, amount int64, asOf time.Time) (Decision, error) {
	return g.bucket(ctx, reader, toUserID, ledger.TypeGift, g.policy.GiftDailyCap, GiftDailyCapExceeded, amount, asOf)
}

// CheckHabitQuota runs before a habit is created or switched on.
// activating is true when the change leaves one more active habit.
func (g *Guard) CheckHabitQuota(ctx context.Context, userID string, creating, activating bool) (Decision, error) {
	if creating {
		total, err := g.habits.CountHabits(ctx, userID, false)
		if err != nil {
			return Decision{}, err
		}
		if total >= int64(g.policy.MaxHabits) {
			return g.deny(userID, HabitCountExceeded, 1, 0), nil
		}
	}

	if activating {
		active, err := g.habits.CountHabits(ctx, userID, true)
		if err != nil {
			return Decision{}, err
		}
		if active >= int64(g.policy.MaxActiveHabits) {
			return g.deny(userID, ActiveHabitCountExceeded, 1, 0), nil
		}
		return Allow(int64(g.policy.MaxActiveHabits) - active - 1), nil
	}

	return Allow(0), nil
}

func (g *Guard) checkAge(ctx context.Context, userID string, asOf time.Time) (Decision, error) {
	createdAt, err := g.accounts.GetAccountCreatedAt(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if asOf.Sub(createdAt) < g.policy.MinAccountAge {
		return g.deny(userID, AccountTooNew, 0, 0), nil
	}
	return Allow(0), nil
}

func (g *Guard) bucket(ctx context.Context, reader CreditReader, userID string, txType ledger.TransactionType, limit int64, reason DenyReason, amount int64, asOf time.Time) (Decision, error) {
	if limit <= 0 {
		return Allow(0), nil
	}

	start, end := g.policy.DayWindow(asOf)
	left, err := g.remaining(ctx, reader, userID, txType, limit, start, end)
	if err != nil {
		return Decision{}, err
	}
	if amount > left {
		return g.deny(userID, reason, amount, left), nil
	}
	return Allow(left - amount), nil
}

func (g *Guard) remaining(ctx context.Context, reader CreditReader, userID string, txType ledger.TransactionType, limit int64, from, to time.Time) (int64, error) {
	used, err := reader.SumCredits(ctx, userID, txType, from, to)
	if err != nil {
		return 0, err
	}
	return max(limit-used, 0), nil
}

func (g *Guard) deny(userID string, reason DenyReason, amount, remaining int64) Decision {
	zap.L().Info("reward denied",
		zap.String("user_id", userID),
		zap.String("reason", string(reason)),
		zap.Int64("amount", amount),
		zap.Int64("remaining", remaining),
	)
	return Deny(reason, remaining)
}
