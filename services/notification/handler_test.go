package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"habitcoin/pkg/taskname"
	"habitcoin/services/ledger"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type notifierMock struct {
	notifyFn func(ctx context.Context, p RewardAwardedPayload) error
}

func (m *notifierMock) Notify(ctx context.Context, p RewardAwardedPayload) error {
	return m.notifyFn(ctx, p)
}

type auditorMock struct {
	verifyChainFn func(ctx context.Context, userID string) (*ledger.ChainReport, error)
	reconcileFn   func(ctx context.Context, userID string) (*ledger.Reconciliation, error)
	ownersFn      func(ctx context.Context, afterUserID string, limit int) ([]string, error)
}

func (m *auditorMock) VerifyChain(ctx context.Context, userID string) (*ledger.ChainReport, error) {
	return m.verifyChainFn(ctx, userID)
}

func (m *auditorMock) Reconcile(ctx context.Context, userID string) (*ledger.Reconciliation, error) {
	return m.reconcileFn(ctx, userID)
}

func (m *auditorMock) WalletOwners(ctx context.Context, afterUserID string, limit int) ([]string, error) {
	return m.ownersFn(ctx, afterUserID, limit)
}

type enqueuerMock struct {
	tasks []*asynq.Task
}

func (m *enqueuerMock) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	m.tasks = append(m.tasks, t)
	return &asynq.TaskInfo{ID: t.Type()}, nil
}

func TestRewardAwardedTaskRoundTrip(t *testing.T) {
	var got RewardAwardedPayload
	h := &Handler{notifier: &notifierMock{
		notifyFn: func(ctx context.Context, p RewardAwardedPayload) error {
			got = p
			return nil
		},
	}}

	task, err := NewRewardAwardedTask(RewardAwardedPayload{Operation: "habit", UserID: "u1", Amount: 5, TransactionID: "tx-1", StreakDays: 7})
	require.NoError(t, err)
	require.Equal(t, taskname.RewardAwarded, task.Type())

	require.NoError(t, h.HandleRewardAwarded(context.Background(), task))
	require.Equal(t, "u1", got.UserID)
	require.Equal(t, 7, got.StreakDays)
}

func TestMalformedPayloadSkipsRetry(t *testing.T) {
	h := &Handler{}

	err := h.HandleRewardAwarded(context.Background(), asynq.NewTask(taskname.RewardAwarded, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = h.HandleReconcile(context.Background(), asynq.NewTask(taskname.LedgerReconcile, []byte(`{}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleReconcile(t *testing.T) {
	boom := errors.New("store down")
	auditor := &auditorMock{
		verifyChainFn: func(ctx context.Context, userID string) (*ledger.ChainReport, error) {
			return &ledger.ChainReport{UserID: userID, Valid: false, BrokenAt: "e1"}, nil
		},
		reconcileFn: func(ctx context.Context, userID string) (*ledger.Reconciliation, error) {
			return &ledger.Reconciliation{UserID: userID, Consistent: true}, nil
		},
	}
	h := &Handler{auditor: auditor}

	task, err := NewReconcileTask("u1")
	require.NoError(t, err)
	require.NoError(t, h.HandleReconcile(context.Background(), task), "audit findings are logged, not retried")

	auditor.verifyChainFn = func(ctx context.Context, userID string) (*ledger.ChainReport, error) {
		return nil, boom
	}
	require.ErrorIs(t, h.HandleReconcile(context.Background(), task), boom)
}

func TestHandleReconcileSweepPagesThroughOwners(t *testing.T) {
	owners := make([]string, sweepPageSize+3)
	for i := range owners {
		owners[i] = fmt.Sprintf("user-%04d", i)
	}

	var cursors []string
	auditor := &auditorMock{
		ownersFn: func(ctx context.Context, after string, limit int) ([]string, error) {
			cursors = append(cursors, after)
			start := sort.SearchStrings(owners, after)
			if after != "" {
				start++
			}
			end := min(start+limit, len(owners))
			return owners[start:end], nil
		},
	}
	enq := &enqueuerMock{}
	h := &Handler{auditor: auditor, enqueuer: enq}

	require.NoError(t, h.HandleReconcileSweep(context.Background(), NewReconcileSweepTask()))
	require.Len(t, enq.tasks, len(owners))
	require.Equal(t, []string{"", owners[sweepPageSize-1]}, cursors)

	var p ReconcilePayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &p))
	require.Equal(t, "user-0000", p.UserID)
}
