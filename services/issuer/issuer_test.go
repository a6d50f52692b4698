package issuer

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"habitcoin/pkg/errutil"
	"habitcoin/pkg/locker"
	"habitcoin/services/account"
	"habitcoin/services/capguard"
	"habitcoin/services/habit"
	"habitcoin/services/ledger"
	"habitcoin/services/policy"
	"habitcoin/services/streak"
	"habitcoin/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var now = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type harness struct {
	t        *testing.T
	issuer   *Issuer
	ledger   *ledger.Ledger
	accounts *account.Store
	habits   *habit.Store
	guard    *capguard.Guard
	service  *habit.Service
}

func newHarness(t *testing.T, p policy.Policy) *harness {
	t.Helper()

	models := append(ledger.Models(), habit.Models()...)
	models = append(models, &account.Account{})
	db := testutil.NewTestDB(t, models...)
	node := testutil.NewTestNode(t)
	locks := locker.NewLocalLocker()

	accounts := account.NewStore(db, node)
	habits := habit.NewStore(db, node)
	guard := capguard.New(capguard.Params{Policy: p, Accounts: accounts, Habits: habits})

	uow := ledger.NewGormUnitOfWork(ledger.UnitOfWorkParams{DB: db, Node: node, Locker: locks})
	l := ledger.New(ledger.Params{UoW: uow, Node: node}).WithClock(func() time.Time { return now })

	svc := habit.NewService(habit.ServiceParams{Store: habits, Quota: guard, Locker: locks, Policy: p})

	h := &harness{t: t, ledger: l, accounts: accounts, habits: habits, guard: guard, service: svc}
	h.issuer = h.issuerAt(now, now)
	return h
}

// issuerAt builds an issuer whose own clock and ledger clock can differ.
func (h *harness) issuerAt(issuerNow, ledgerNow time.Time) *Issuer {
	return New(Params{
		Habits:  h.habits,
		Streaks: streak.NewTracker(h.habits),
		Guard:   h.guard,
		Ledger:  h.ledger.WithClock(func() time.Time { return ledgerNow }),
	}).WithClock(func() time.Time { return issuerNow })
}

// on returns an issuer living at noon of day.
func (h *harness) on(day string) *Issuer {
	at := noon(h.t, day)
	return h.issuerAt(at, at)
}

func noon(t *testing.T, day string) time.Time {
	t.Helper()
	d, err := time.Parse(policy.DateLayout, day)
	require.NoError(t, err)
	return d.Add(12 * time.Hour)
}

// user creates an account of the given age in the default test family.
func (h *harness) user(age time.Duration) string {
	return h.member("family-1", age)
}

func (h *harness) member(family string, age time.Duration) string {
	h.t.Helper()
	a, err := h.accounts.Create(context.Background(), "user", family, now.Add(-age))
	require.NoError(h.t, err)
	return a.ID
}

// check records day as seen from noon of asOf.
func (h *harness) check(userID, habitID, day, asOf string, completed bool) error {
	at := noon(h.t, asOf)
	_, err := h.service.WithClock(func() time.Time { return at }).RecordCheck(context.Background(), userID, habitID, day, completed)
	return err
}

// habitWithChecks creates an active habit completed on every day in days,
// each checked on the day itself.
func (h *harness) habitWithChecks(userID string, days ...string) string {
	h.t.Helper()

	hb, err := h.service.CreateHabit(context.Background(), userID, "habit", true)
	require.NoError(h.t, err)
	for _, d := range days {
		require.NoError(h.t, h.check(userID, hb.ID, d, d, true))
	}
	return hb.ID
}

func (h *harness) wallet(userID string) *ledger.CoinWallet {
	h.t.Helper()
	w, err := h.ledger.GetWallet(context.Background(), userID)
	require.NoError(h.t, err)
	return w
}

func (h *harness) seedHabitCoins(userID string, amount int64, at time.Time) {
	h.t.Helper()
	_, err := h.ledger.WithClock(func() time.Time { return at }).CreditAtomically(context.Background(), ledger.CreditRequest{
		UserID:      userID,
		Amount:      amount,
		Type:        ledger.TypeHabitReward,
		ReferenceID: fmt.Sprintf("seed:%s:%d", userID, at.UnixNano()),
	})
	require.NoError(h.t, err)
}

const month = 30 * 24 * time.Hour

func TestScenarioThreeDayStreakPaysTwo(t *testing.T) {
	h := newHarness(t, policy.Default())
	user := h.user(month)
	habitID := h.habitWithChecks(user, "2026-10-13", "2026-10-14", "2026-10-15")

	o, err := h.issuer.Evaluate(context.Background(), habitID, user, "2026-10-15")
	require.NoError(t, err)
	require.Equal(t, Awarded, o.Kind)
	require.Equal(t, int64(2), o.Amount)
	require.Equal(t, 3, o.StreakDays)
	require.Equal(t, "2026-10-13", o.Occurrence)

	w := h.wallet(user)
	require.Equal(t, int64(2), w.RewardCoins)
	require.True(t, w.Consistent())
}

func TestScenarioDailyCapDenies(t *testing.T) {
	h := newHarness(t, policy.Default())
	user := h.user(month)
	h.seedHabitCoins(user, 9, now.Add(-2*time.Hour))

	habitID := h.habitWithChecks(user,
		"2026-10-09", "2026-10-10", "2026-10-11", "2026-10-12", "2026-10-13", "2026-10-14", "2026-10-15")

	o, err := h.issuer.Evaluate(context.Background(), habitID, user, "2026-10-15")
	require.NoError(t, err)
	require.Equal(t, Denied, o.Kind)
	require.Equal(t, capguard.DailyCapExceeded, o.Reason)

	w := h.wallet(user)
	require.Equal(t, int64(9), w.RewardCoins)
}

func TestScenarioYoungAccountDenied(t *testing.T) {
	h := newHarness(t, policy.Default())
	user := h.user(2 * 24 * time.Hour)
	habitID := h.habitWithChecks(user, "2026-10-13", "2026-10-14", "2026-10-15")

	o, err := h.issuer.Evaluate(context.Background(), habitID, user, "2026-10-15")
	require.NoError(t, err)
	require.Equal(t, Denied, o.Kind)
	require.Equal(t, capguard.AccountTooNew, o.Reason)
	require.Empty(t, h.wallet(user).ID, "no wallet before the gating period")
}

func TestExactlyOncePayout(t *testing.T) {
	h := newHarness(t, policy.Default())
	user := h.user(month)
	habitID := h.habitWithChecks(user, "2026-10-13", "2026-10-14", "2026-10-15")

	first, err := h.issuer.Evaluate(context.Background(), habitID, user, "2026-10-15")
	require.NoError(t, err)
	require.Equal(t, Awarded, first.Kind)

	for i := 0; i < 3; i++ {
		again, err := h.issuer.Evaluate(context.Background(), habitID, user, "2026-10-15")
		require.NoError(t, err)
		require.Equal(t, AlreadyAwarded, again.Kind)
	}

	page, err := h.ledger.ListTransactions(context.Background(), user, paginationOf(10))
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
}

func TestNonMilestoneStreaksPayNothing(t *testing.T) {
	h := newHarness(t, policy.Default())
	user := h.user(month)
	habitID := h.habitWithChecks(user, "2026-10-10", "2026-10-11", "2026-10-12", "2026-10-13")

	for _, day := range []string{"2026-10-10", "2026-10-11", "2026-10-13"} {
		o, err := h.on(day).Evaluate(context.Background(), habitID, user, day)
		require.NoError(t, err)
		require.Equal(t, NoPayout, o.Kind, day)
	}

	o, err := h.on("2026-10-14").Evaluate(context.Background(), habitID, user, "2026-10-14")
	require.NoError(t, err)
	require.Equal(t, NoPayout, o.Kind, "a day without a check has no streak")
}

func TestRebuiltStreakPaysAgain(t *testing.T) {
	h := newHarness(t, policy.Default())
	user := h.user(month)
	habitID := h.habitWithChecks(user,
		"2026-10-01", "2026-10-02", "2026-10-03",
		"2026-10-05", "2026-10-06", "2026-10-07")

	o, err := h.on("2026-10-03").Evaluate(context.Background(), habitID, user, "2026-10-03")
	require.NoError(t, err)
	require.Equal(t, Awarded, o.Kind)

	o, err = h.on("2026-10-07").Evaluate(context.Background(), habitID, user, "2026-10-07")
	require.NoError(t, err)
	require.Equal(t, Awarded, o.Kind)
	require.Equal(t, "2026-10-05", o.Occurrence)

	require.Equal(t, int64(4), h.wallet(user).RewardCoins)
}

func TestBackfillCannotReopenAPaidRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, policy.Default())
	user := h.user(month)
	habitID := h.habitWithChecks(user, "2026-10-13", "2026-10-14", "2026-10-15")

	o, err := h.on("2026-10-15").Evaluate(ctx, habitID, user, "2026-10-15")
	require.NoError(t, err)
	require.Equal(t, Awarded, o.Kind)
	require.Equal(t, "2026-10-13", o.Occurrence)

	for _, day := range []string{"2026-10-12", "2026-10-11", "2026-10-10"} {
		err := h.check(user, habitID, day, "2026-10-15", true)
		require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err), day)

		_, err = h.on("2026-10-15").Evaluate(ctx, habitID, user, day)
		require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err), day)
	}

	// the run keeps growing from the same start
	require.NoError(t, h.check(user, habitID, "2026-10-16", "2026-10-16", true))
	o, err = h.on("2026-10-16").Evaluate(ctx, habitID, user, "2026-10-16")
	require.NoError(t, err)
	require.Equal(t, NoPayout, o.Kind)
	require.Equal(t, 4, o.StreakDays)

	require.Equal(t, int64(2), h.wallet(user).RewardCoins)
}

func TestTogglingCheckInsCannotRepayAMilestone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, policy.Default())
	user := h.user(month)
	habitID := h.habitWithChecks(user, "2026-10-13", "2026-10-14", "2026-10-15")

	o, err := h.on("2026-10-15").Evaluate(ctx, habitID, user, "2026-10-15")
	require.NoError(t, err)
	require.Equal(t, Awarded, o.Kind)

	// the first day of the paid run is already frozen
	err = h.check(user, habitID, "2026-10-13", "2026-10-15", false)
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	// toggling the days still in the window leaves the start where it was
	require.NoError(t, h.check(user, habitID, "2026-10-14", "2026-10-15", false))
	o, err = h.on("2026-10-15").Evaluate(ctx, habitID, user, "2026-10-15")
	require.NoError(t, err)
	require.Equal(t, NoPayout, o.Kind)

	require.NoError(t, h.check(user, habitID, "2026-10-14", "2026-10-15", true))
	o, err = h.on("2026-10-15").Evaluate(ctx, habitID, user, "2026-10-15")
	require.NoError(t, err)
	require.Equal(t, AlreadyAwarded, o.Kind)
	require.Equal(t, "2026-10-13", o.Occurrence)

	require.NoError(t, h.check(user, habitID, "2026-10-16", "2026-10-16", true))
	require.NoError(t, h.check(user, habitID, "2026-10-15", "2026-10-16", false))
	require.NoError(t, h.check(user, habitID, "2026-10-15", "2026-10-16", true))
	o, err = h.on("2026-10-16").Evaluate(ctx, habitID, user, "2026-10-16")
	require.NoError(t, err)
	require.Equal(t, NoPayout, o.Kind)
	require.Equal(t, 4, o.StreakDays)

	require.Equal(t, int64(2), h.wallet(user).RewardCoins)
	page, err := h.ledger.ListTransactions(ctx, user, paginationOf(10))
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
}

func TestDailyCapUsesTheWriteDayAcrossMidnight(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, policy.Default())
	user := h.user(month)
	habitID := h.habitWithChecks(user, "2026-10-13", "2026-10-14", "2026-10-15")

	checked := time.Date(2026, 10, 15, 23, 59, 59, 900_000_000, time.UTC)
	written := time.Date(2026, 10, 16, 0, 0, 0, 100_000_000, time.UTC)
	h.seedHabitCoins(user, 9, time.Date(2026, 10, 16, 0, 0, 0, 50_000_000, time.UTC))

	o, err := h.issuerAt(checked, written).Evaluate(ctx, habitID, user, "2026-10-15")
	require.NoError(t, err)
	require.Equal(t, Denied, o.Kind)
	require.Equal(t, capguard.DailyCapExceeded, o.Reason)

	p := policy.Default()
	from, to := p.DayWindow(written)
	sum, err := h.ledger.SumCredits(ctx, user, ledger.TypeHabitReward, from, to)
	require.NoError(t, err)
	require.Equal(t, int64(9), sum)
}

func TestMonthlyCap(t *testing.T) {
	p := policy.Default()
	p.MonthlyCap = 12
	h := newHarness(t, p)
	user := h.user(3 * month)
	h.seedHabitCoins(user, 10, time.Date(2026, 10, 2, 8, 0, 0, 0, time.UTC))
	// last month's coins do not count
	h.seedHabitCoins(user, 10, time.Date(2026, 9, 30, 23, 0, 0, 0, time.UTC))

	first := h.habitWithChecks(user, "2026-10-13", "2026-10-14", "2026-10-15")
	second := h.habitWithChecks(user, "2026-10-13", "2026-10-14", "2026-10-15")

	o, err := h.issuer.Evaluate(context.Background(), first, user, "2026-10-15")
	require.NoError(t, err)
	require.Equal(t, Awarded, o.Kind)

	o, err = h.issuer.Evaluate(context.Background(), second, user, "2026-10-15")
	require.NoError(t, err)
	require.Equal(t, Denied, o.Kind)
	require.Equal(t, capguard.MonthlyCapExceeded, o.Reason)
}

func TestEvaluateValidation(t *testing.T) {
	h := newHarness(t, policy.Default())
	owner := h.user(month)
	other := h.user(month)
	habitID := h.habitWithChecks(owner, "2026-10-15")

	_, err := h.issuer.Evaluate(context.Background(), "missing", owner, "2026-10-15")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))

	_, err = h.issuer.Evaluate(context.Background(), habitID, other, "2026-10-15")
	require.Equal(t, errutil.StatusForbidden, errutil.StatusOf(err))

	_, err = h.issuer.Evaluate(context.Background(), habitID, owner, "yesterday")
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	for _, day := range []string{"2026-10-13", "2026-10-16"} {
		_, err = h.issuer.Evaluate(context.Background(), habitID, owner, day)
		require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err), day)
	}
}

func TestConcurrentIdenticalEvaluationsAwardOnce(t *testing.T) {
	h := newHarness(t, policy.Default())
	user := h.user(month)
	habitID := h.habitWithChecks(user, "2026-10-13", "2026-10-14", "2026-10-15")

	const n = 8
	var awarded, replayed atomic.Int32
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			o, err := h.issuer.Evaluate(context.Background(), habitID, user, "2026-10-15")
			if err != nil {
				return err
			}
			switch o.Kind {
			case Awarded:
				awarded.Add(1)
			case AlreadyAwarded:
				replayed.Add(1)
			default:
				return fmt.Errorf("unexpected outcome %s", o.Kind)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int32(1), awarded.Load())
	require.Equal(t, int32(n-1), replayed.Load())
	require.Equal(t, int64(2), h.wallet(user).RewardCoins)

	report, err := h.ledger.VerifyChain(context.Background(), user)
	require.NoError(t, err)
	require.Equal(t, 1, report.Entries)
}

func TestConcurrentEvaluationsRespectDailyCap(t *testing.T) {
	p := policy.Default()
	p.DailyCap = 5
	h := newHarness(t, p)
	user := h.user(month)

	habits := make([]string, 5)
	for i := range habits {
		habits[i] = h.habitWithChecks(user, "2026-10-13", "2026-10-14", "2026-10-15")
	}

	var total atomic.Int64
	var g errgroup.Group
	for _, habitID := range habits {
		g.Go(func() error {
			o, err := h.issuer.Evaluate(context.Background(), habitID, user, "2026-10-15")
			if err != nil {
				return err
			}
			if o.Kind == Awarded {
				total.Add(o.Amount)
			} else if o.Kind != Denied || o.Reason != capguard.DailyCapExceeded {
				return fmt.Errorf("unexpected outcome %+v", o)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int64(4), total.Load())
	w := h.wallet(user)
	require.Equal(t, int64(4), w.RewardCoins)
	require.True(t, w.Consistent())
}

func TestRewardTaskCompletion(t *testing.T) {
	h := newHarness(t, policy.Default())
	parent := h.user(month)
	child := h.user(month)

	o, err := h.issuer.RewardTaskCompletion(context.Background(), child, "task-1", 15, parent)
	require.NoError(t, err)
	require.Equal(t, Awarded, o.Kind)

	o, err = h.issuer.RewardTaskCompletion(context.Background(), child, "task-1", 15, parent)
	require.NoError(t, err)
	require.Equal(t, AlreadyAwarded, o.Kind)

	w := h.wallet(child)
	require.Equal(t, int64(15), w.FamilyCoins)
	require.Zero(t, w.RewardCoins)

	// task coins never consume the habit budget
	sum, err := h.ledger.SumCredits(context.Background(), child, ledger.TypeHabitReward, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, sum)

	o, err = h.issuer.RewardTaskCompletion(context.Background(), child, "task-2", 90, parent)
	require.NoError(t, err)
	require.Equal(t, Denied, o.Kind)
	require.Equal(t, capguard.TaskDailyCapExceeded, o.Reason)

	_, err = h.issuer.RewardTaskCompletion(context.Background(), child, "task-3", 0, parent)
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	_, err = h.issuer.RewardTaskCompletion(context.Background(), "ghost", "task-4", 5, parent)
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestRewardTaskCompletionRequiresSharedFamily(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, policy.Default())
	child := h.user(month)
	stranger := h.member("family-2", month)
	newParent := h.user(time.Hour)

	o, err := h.issuer.RewardTaskCompletion(ctx, child, "task-1", 10, stranger)
	require.NoError(t, err)
	require.Equal(t, Denied, o.Kind)
	require.Equal(t, capguard.NotInFamily, o.Reason)

	o, err = h.issuer.RewardTaskCompletion(ctx, stranger, "task-2", 10, child)
	require.NoError(t, err)
	require.Equal(t, capguard.NotInFamily, o.Reason, "the pair cannot feed each other either way")

	o, err = h.issuer.RewardTaskCompletion(ctx, child, "task-3", 10, newParent)
	require.NoError(t, err)
	require.Equal(t, capguard.AccountTooNew, o.Reason)

	require.Zero(t, h.wallet(child).Balance())
	require.Zero(t, h.wallet(stranger).Balance())

	o, err = h.issuer.RewardTaskCompletion(ctx, child, "task-4", 10, "")
	require.NoError(t, err)
	require.Equal(t, Awarded, o.Kind, "system assigned tasks skip the family check")
}

func TestGiftCoins(t *testing.T) {
	h := newHarness(t, policy.Default())
	alice := h.user(month)
	bob := h.user(month)
	newcomer := h.user(time.Hour)
	h.seedHabitCoins(alice, 5, now.Add(-time.Hour))

	o, err := h.issuer.GiftCoins(context.Background(), alice, bob, 3, "well done", "req-1")
	require.NoError(t, err)
	require.Equal(t, Awarded, o.Kind)

	o, err = h.issuer.GiftCoins(context.Background(), alice, bob, 3, "well done", "req-1")
	require.NoError(t, err)
	require.Equal(t, AlreadyAwarded, o.Kind)

	o, err = h.issuer.GiftCoins(context.Background(), alice, bob, 10, "", "req-2")
	require.NoError(t, err)
	require.Equal(t, Denied, o.Kind)
	require.Equal(t, InsufficientBalance, o.Reason)

	o, err = h.issuer.GiftCoins(context.Background(), alice, newcomer, 1, "", "req-3")
	require.NoError(t, err)
	require.Equal(t, capguard.AccountTooNew, o.Reason)

	_, err = h.issuer.GiftCoins(context.Background(), alice, alice, 1, "", "")
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	a, b := h.wallet(alice), h.wallet(bob)
	require.Equal(t, int64(2), a.Balance())
	require.Equal(t, int64(3), b.FamilyCoins)
	require.True(t, a.Consistent())
	require.True(t, b.Consistent())
}
