package rewards

import (
	"context"

	"habitcoin/pkg/db/pagination"
	"habitcoin/services/habit"
	"habitcoin/services/issuer"
	"habitcoin/services/ledger"
	"habitcoin/services/streak"

	"github.com/hibiken/asynq"
)

type engineMock struct {
	evaluateFn func(ctx context.Context, habitID, userID, checkInDate string) (issuer.Outcome, error)
	taskFn     func(ctx context.Context, userID, taskID string, amount int64, fromUserID string) (issuer.Outcome, error)
	giftFn     func(ctx context.Context, fromUserID, toUserID string, amount int64, message, requestID string) (issuer.Outcome, error)
}

func (m *engineMock) Evaluate(ctx context.Context, habitID, userID, checkInDate string) (issuer.Outcome, error) {
	return m.evaluateFn(ctx, habitID, userID, checkInDate)
}

func (m *engineMock) RewardTaskCompletion(ctx context.Context, userID, taskID string, amount int64, fromUserID string) (issuer.Outcome, error) {
	return m.taskFn(ctx, userID, taskID, amount, fromUserID)
}

func (m *engineMock) GiftCoins(ctx context.Context, fromUserID, toUserID string, amount int64, message, requestID string) (issuer.Outcome, error) {
	return m.giftFn(ctx, fromUserID, toUserID, amount, message, requestID)
}

type ledgerMock struct {
	getWalletFn        func(ctx context.Context, userID string) (*ledger.CoinWallet, error)
	listTransactionsFn func(ctx context.Context, userID string, page pagination.Pagination) (*ledger.TransactionPage, error)
	verifyChainFn      func(ctx context.Context, userID string) (*ledger.ChainReport, error)
	reconcileFn        func(ctx context.Context, userID string) (*ledger.Reconciliation, error)
}

func (m *ledgerMock) GetWallet(ctx context.Context, userID string) (*ledger.CoinWallet, error) {
	return m.getWalletFn(ctx, userID)
}

func (m *ledgerMock) ListTransactions(ctx context.Context, userID string, page pagination.Pagination) (*ledger.TransactionPage, error) {
	return m.listTransactionsFn(ctx, userID, page)
}

func (m *ledgerMock) VerifyChain(ctx context.Context, userID string) (*ledger.ChainReport, error) {
	return m.verifyChainFn(ctx, userID)
}

func (m *ledgerMock) Reconcile(ctx context.Context, userID string) (*ledger.Reconciliation, error) {
	return m.reconcileFn(ctx, userID)
}

type habitsMock struct {
	createFn    func(ctx context.Context, ownerID, name string, active bool) (*habit.Habit, error)
	setActiveFn func(ctx context.Context, ownerID, habitID string, active bool) (*habit.Habit, error)
	checkFn     func(ctx context.Context, ownerID, habitID, date string, completed bool) (*habit.HabitCheck, error)
	listFn      func(ctx context.Context, ownerID string) ([]*habit.Habit, error)
	getFn       func(ctx context.Context, habitID string) (*habit.Habit, error)
}

func (m *habitsMock) CreateHabit(ctx context.Context, ownerID, name string, active bool) (*habit.Habit, error) {
	return m.createFn(ctx, ownerID, name, active)
}

func (m *habitsMock) SetActive(ctx context.Context, ownerID, habitID string, active bool) (*habit.Habit, error) {
	return m.setActiveFn(ctx, ownerID, habitID, active)
}

func (m *habitsMock) RecordCheck(ctx context.Context, ownerID, habitID, date string, completed bool) (*habit.HabitCheck, error) {
	return m.checkFn(ctx, ownerID, habitID, date, completed)
}

func (m *habitsMock) ListHabits(ctx context.Context, ownerID string) ([]*habit.Habit, error) {
	return m.listFn(ctx, ownerID)
}

func (m *habitsMock) GetHabit(ctx context.Context, habitID string) (*habit.Habit, error) {
	return m.getFn(ctx, habitID)
}

type streakMock struct {
	currentFn func(ctx context.Context, habitID string) (streak.Streak, error)
}

func (m *streakMock) CurrentStreak(ctx context.Context, habitID string) (streak.Streak, error) {
	return m.currentFn(ctx, habitID)
}

type enqueuerMock struct {
	tasks []*asynq.Task
	err   error
}

func (m *enqueuerMock) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.tasks = append(m.tasks, t)
	return &asynq.TaskInfo{ID: "task-1"}, nil
}

type flagsMock struct {
	off map[string]bool
}

func (m *flagsMock) Enabled(ctx context.Context, identifier, feature string) bool {
	return !m.off[feature]
}
