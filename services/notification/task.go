package notification

import (
	"encoding/json"
	"time"

	"habitcoin/pkg/taskname"

	"github.com/hibiken/asynq"
)

type RewardAwardedPayload struct {
	Operation     string    `json:"operation"`
	UserID        string    `json:"user_id"`
	FromUserID    string    `json:"from_user_id,omitempty"`
	Amount        int64     `json:"amount"`
	TransactionID string    `json:"transaction_id"`
	HabitID       string    `json:"habit_id,omitempty"`
	TaskID        string    `json:"task_id,omitempty"`
	StreakDays    int       `json:"streak_days,omitempty"`
	AwardedAt     time.Time `json:"awarded_at"`
}

func NewRewardAwardedTask(p RewardAwardedPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	// one notification per transaction even if the caller enqueues twice
	return asynq.NewTask(taskname.RewardAwarded, b,
		asynq.TaskID("notify:"+p.TransactionID),
		asynq.MaxRetry(5),
		asynq.Queue("default"),
	), nil
}

type ReconcilePayload struct {
	UserID string `json:"user_id"`
}

func NewReconcileTask(userID string) (*asynq.Task, error) {
	b, err := json.Marshal(ReconcilePayload{UserID: userID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.LedgerReconcile, b, asynq.MaxRetry(3), asynq.Queue("low")), nil
}

func NewReconcileSweepTask() *asynq.Task {
	return asynq.NewTask(taskname.LedgerReconcileSweep, nil, asynq.MaxRetry(1), asynq.Queue("low"))
}
