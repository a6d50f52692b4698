package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"habitcoin/pkg/task"
	"habitcoin/pkg/taskname"
	"habitcoin/services/ledger"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(NewLogNotifier, NewHandler),
	fx.Invoke(Register),
)

// Periodic needs task.Scheduler in the graph.
var Periodic = fx.Module("notification.periodic", fx.Invoke(Schedule))

const sweepPageSize = 200

// Auditor is the slice of the ledger the reconcile tasks need.
type Auditor interface {
	VerifyChain(ctx context.Context, userID string) (*ledger.ChainReport, error)
	Reconcile(ctx context.Context, userID string) (*ledger.Reconciliation, error)
	WalletOwners(ctx context.Context, afterUserID string, limit int) ([]string, error)
}

type Handler struct {
	notifier Notifier
	auditor  Auditor
	enqueuer task.Enqueuer
}

type HandlerParams struct {
	fx.In
	Notifier Notifier
	Ledger   *ledger.Ledger
	Enqueuer task.Enqueuer
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{notifier: p.Notifier, auditor: p.Ledger, enqueuer: p.Enqueuer}
}

func Register(mux *asynq.ServeMux, h *Handler) {
	mux.HandleFunc(taskname.RewardAwarded, h.HandleRewardAwarded)
	mux.HandleFunc(taskname.LedgerReconcile, h.HandleReconcile)
	mux.HandleFunc(taskname.LedgerReconcileSweep, h.HandleReconcileSweep)
}

// Schedule audits every wallet nightly.
func Schedule(scheduler *asynq.Scheduler) error {
	id, err := scheduler.Register("@daily", NewReconcileSweepTask())
	if err != nil {
		return err
	}
	zap.L().Info("scheduled ledger reconcile sweep", zap.String("entry_id", id))
	return nil
}

func (h *Handler) HandleRewardAwarded(ctx context.Context, t *asynq.Task) error {
	var p RewardAwardedPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return h.notifier.Notify(ctx, p)
}

// HandleReconcile audits one user's journal. A broken chain or a wallet
// mismatch is logged for operators and not retried.
func (h *Handler) HandleReconcile(ctx context.Context, t *asynq.Task) error {
	var p ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.UserID == "" {
		return fmt.Errorf("decode %s payload: %w", t.Type(), asynq.SkipRetry)
	}

	report, err := h.auditor.VerifyChain(ctx, p.UserID)
	if err != nil {
		return err
	}
	rec, err := h.auditor.Reconcile(ctx, p.UserID)
	if err != nil {
		return err
	}

	if !report.Valid || !rec.Consistent {
		zap.L().Error("ledger audit failed",
			zap.String("user_id", p.UserID),
			zap.Bool("chain_valid", report.Valid),
			zap.String("broken_at", report.BrokenAt),
			zap.Strings("mismatches", rec.Mismatches),
		)
		return nil
	}

	zap.L().Debug("ledger audit passed", zap.String("user_id", p.UserID), zap.Int("entries", report.Entries))
	return nil
}

// HandleReconcileSweep fans out one reconcile task per wallet owner.
func (h *Handler) HandleReconcileSweep(ctx context.Context, _ *asynq.Task) error {
	after, queued := "", 0
	for {
		owners, err := h.auditor.WalletOwners(ctx, after, sweepPageSize)
		if err != nil {
			return err
		}
		for _, userID := range owners {
			t, err := NewReconcileTask(userID)
			if err != nil {
				return err
			}
			if _, err := h.enqueuer.Enqueue(ctx, t); err != nil {
				return err
			}
			queued++
		}
		if len(owners) < sweepPageSize {
			break
		}
		after = owners[len(owners)-1]
	}

	zap.L().Info("ledger reconcile sweep queued", zap.Int("wallets", queued))
	return nil
}
