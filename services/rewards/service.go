// Package rewards is the application layer over the reward engine: it is
// what the HTTP handlers call, and it fans awarded outcomes out to the
// notification queue.
package rewards

import (
	"context"
	"time"

	"habitcoin/pkg/db/pagination"
	"habitcoin/pkg/errutil"
	"habitcoin/pkg/featureflags"
	"habitcoin/pkg/task"
	"habitcoin/services/habit"
	"habitcoin/services/issuer"
	"habitcoin/services/ledger"
	"habitcoin/services/milestone"
	"habitcoin/services/notification"
	"habitcoin/services/policy"
	"habitcoin/services/streak"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Engine interface {
	Evaluate(ctx context.Context, habitID, userID, checkInDate string) (issuer.Outcome, error)
	RewardTaskCompletion(ctx context.Context, userID, taskID string, amount int64, fromUserID string) (issuer.Outcome, error)
	GiftCoins(ctx context.Context, fromUserID, toUserID string, amount int64, message, requestID string) (issuer.Outcome, error)
}

type Ledger interface {
	GetWallet(ctx context.Context, userID string) (*ledger.CoinWallet, error)
	ListTransactions(ctx context.Context, userID string, page pagination.Pagination) (*ledger.TransactionPage, error)
	VerifyChain(ctx context.Context, userID string) (*ledger.ChainReport, error)
	Reconcile(ctx context.Context, userID string) (*ledger.Reconciliation, error)
}

type Habits interface {
	CreateHabit(ctx context.Context, ownerID, name string, active bool) (*habit.Habit, error)
	SetActive(ctx context.Context, ownerID, habitID string, active bool) (*habit.Habit, error)
	RecordCheck(ctx context.Context, ownerID, habitID, date string, completed bool) (*habit.HabitCheck, error)
	ListHabits(ctx context.Context, ownerID string) ([]*habit.Habit, error)
}

type HabitReader interface {
	GetHabit(ctx context.Context, habitID string) (*habit.Habit, error)
}

type StreakReader interface {
	CurrentStreak(ctx context.Context, habitID string) (streak.Streak, error)
}

type Service struct {
	engine   Engine
	ledger   Ledger
	habits   Habits
	lookup   HabitReader
	streaks  StreakReader
	policy   policy.Policy
	enqueuer task.Enqueuer
	flags    featureflags.FeatureFlag
	audits   singleflight.Group
	now      func() time.Time
}

type Params struct {
	fx.In
	Engine   Engine
	Ledger   Ledger
	Habits   Habits
	Lookup   HabitReader
	Streaks  StreakReader
	Policy   policy.Policy
	Enqueuer task.Enqueuer             `optional:"true"`
	Flags    featureflags.FeatureFlag `optional:"true"`
}

func NewService(p Params) *Service {
	return &Service{
		engine:   p.Engine,
		ledger:   p.Ledger,
		habits:   p.Habits,
		lookup:   p.Lookup,
		streaks:  p.Streaks,
		policy:   p.Policy,
		enqueuer: p.Enqueuer,
		flags:    p.Flags,
		now:      time.Now,
	}
}

func (s *Service) EvaluateHabitReward(ctx context.Context, userID, habitID, checkInDate string) (issuer.Outcome, error) {
	if checkInDate == "" {
		checkInDate = s.policy.Day(s.now())
	}

	o, err := s.engine.Evaluate(ctx, habitID, userID, checkInDate)
	if err != nil {
		return o, err
	}
	if o.IsAwarded() {
		s.notify(ctx, notification.RewardAwardedPayload{
			Operation:     "habit",
			UserID:        userID,
			Amount:        o.Amount,
			TransactionID: o.TransactionID,
			HabitID:       habitID,
			StreakDays:    o.StreakDays,
		})
	}
	return o, nil
}

func (s *Service) RewardTaskCompletion(ctx context.Context, fromUserID, userID, taskID string, amount int64) (issuer.Outcome, error) {
	if !s.enabled(ctx, userID, featureflags.TaskRewards) {
		return issuer.Outcome{}, errutil.Forbidden("task rewards are disabled", nil)
	}

	o, err := s.engine.RewardTaskCompletion(ctx, userID, taskID, amount, fromUserID)
	if err != nil {
		return o, err
	}
	if o.IsAwarded() {
		s.notify(ctx, notification.RewardAwardedPayload{
			Operation:     "task",
			UserID:        userID,
			FromUserID:    fromUserID,
			Amount:        o.Amount,
			TransactionID: o.TransactionID,
			TaskID:        taskID,
		})
	}
	return o, nil
}

func (s *Service) GiftCoins(ctx context.Context, fromUserID, toUserID string, amount int64, message, requestID string) (issuer.Outcome, error) {
	if !s.enabled(ctx, fromUserID, featureflags.Gifting) {
		return issuer.Outcome{}, errutil.Forbidden("gifting is disabled", nil)
	}

	o, err := s.engine.GiftCoins(ctx, fromUserID, toUserID, amount, message, requestID)
	if err != nil {
		return o, err
	}
	if o.IsAwarded() {
		s.notify(ctx, notification.RewardAwardedPayload{
			Operation:     "gift",
			UserID:        toUserID,
			FromUserID:    fromUserID,
			Amount:        o.Amount,
			TransactionID: o.TransactionID,
		})
	}
	return o, nil
}

// GetWallet reads the wallet row on every call; balances are never served
// from memory.
func (s *Service) GetWallet(ctx context.Context, userID string) (*ledger.CoinWallet, error) {
	if userID == "" {
		return nil, errutil.ValidationFailed("user is required", nil, errutil.Field("user_id", "required"))
	}
	return s.ledger.GetWallet(ctx, userID)
}

func (s *Service) GetTransactions(ctx context.Context, userID string, page pagination.Pagination) (*ledger.TransactionPage, error) {
	if userID == "" {
		return nil, errutil.ValidationFailed("user is required", nil, errutil.Field("user_id", "required"))
	}
	return s.ledger.ListTransactions(ctx, userID, page)
}

type Audit struct {
	Chain          *ledger.ChainReport    `json:"chain"`
	Reconciliation *ledger.Reconciliation `json:"reconciliation"`
}

// VerifyLedger walks the user's whole chain. Concurrent audits of the same
// user share one walk, which runs detached from any single caller so one
// caller going away does not fail the others.
func (s *Service) VerifyLedger(ctx context.Context, userID string) (*Audit, error) {
	if userID == "" {
		return nil, errutil.ValidationFailed("user is required", nil, errutil.Field("user_id", "required"))
	}

	shared := context.WithoutCancel(ctx)
	ch := s.audits.DoChan(userID, func() (any, error) {
		return s.audit(shared, userID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		a := *res.Val.(*Audit)
		return &a, nil
	}
}

func (s *Service) audit(ctx context.Context, userID string) (*Audit, error) {
	report, err := s.ledger.VerifyChain(ctx, userID)
	if err != nil {
		return nil, err
	}
	rec, err := s.ledger.Reconcile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Audit{Chain: report, Reconciliation: rec}, nil
}

type Progress struct {
	HabitID       string                `json:"habit_id"`
	StreakDays    int                   `json:"streak_days"`
	StartDate     string                `json:"start_date,omitempty"`
	EndDate       string                `json:"end_date,omitempty"`
	NextMilestone *milestone.Definition `json:"next_milestone,omitempty"`
	DaysToNext    int                   `json:"days_to_next,omitempty"`
}

// HabitProgress reports the current streak and the next payable milestone.
func (s *Service) HabitProgress(ctx context.Context, userID, habitID string) (*Progress, error) {
	h, err := s.lookup.GetHabit(ctx, habitID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, errutil.NotFound("habit not found", nil, errutil.Field("habit_id", habitID))
	}
	if h.OwnerID != userID {
		return nil, errutil.Forbidden("habit belongs to another user", nil)
	}

	st, err := s.streaks.CurrentStreak(ctx, habitID)
	if err != nil {
		return nil, err
	}

	p := &Progress{HabitID: habitID, StreakDays: st.Days, StartDate: st.StartDate, EndDate: st.EndDate}
	if next, ok := s.policy.Milestones.Next(st.Days); ok {
		p.NextMilestone = &next
		p.DaysToNext = next.Days - st.Days
	}
	return p, nil
}

func (s *Service) CreateHabit(ctx context.Context, ownerID, name string, active bool) (*habit.Habit, error) {
	return s.habits.CreateHabit(ctx, ownerID, name, active)
}

func (s *Service) SetHabitActive(ctx context.Context, ownerID, habitID string, active bool) (*habit.Habit, error) {
	return s.habits.SetActive(ctx, ownerID, habitID, active)
}

func (s *Service) RecordCheck(ctx context.Context, ownerID, habitID, date string, completed bool) (*habit.HabitCheck, error) {
	return s.habits.RecordCheck(ctx, ownerID, habitID, date, completed)
}

func (s *Service) ListHabits(ctx context.Context, ownerID string) ([]*habit.Habit, error) {
	return s.habits.ListHabits(ctx, ownerID)
}

func (s *Service) enabled(ctx context.Context, userID, feature string) bool {
	return s.flags == nil || s.flags.Enabled(ctx, userID, feature)
}

// notify is best effort: the coins are already committed, so a queue
// failure is logged and the award still stands.
func (s *Service) notify(ctx context.Context, p notification.RewardAwardedPayload) {
	if s.enqueuer == nil {
		return
	}
	p.AwardedAt = s.now().UTC()

	t, err := notification.NewRewardAwardedTask(p)
	if err != nil {
		zap.L().Error("failed to build reward notification", zap.Error(err))
		return
	}
	if _, err := s.enqueuer.Enqueue(ctx, t); err != nil {
		zap.L().Warn("failed to enqueue reward notification",
			zap.String("transaction_id", p.TransactionID),
			zap.Error(err),
		)
	}
}
