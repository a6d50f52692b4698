package notification

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers award notices to users. Delivery channels live outside
// this service; LogNotifier is the default sink.
type Notifier interface {
	Notify(ctx context.Context, p RewardAwardedPayload) error
}

type LogNotifier struct{}

func NewLogNotifier() Notifier {
	return LogNotifier{}
}

func (LogNotifier) Notify(ctx context.Context, p RewardAwardedPayload) error {
	zap.L().Info("reward notification",
		zap.String("operation", p.Operation),
		zap.String("user_id", p.UserID),
		zap.Int64("amount", p.Amount),
		zap.String("transaction_id", p.TransactionID),
	)
	return nil
}
