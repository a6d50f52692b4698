package issuer

import "habitcoin/services/capguard"

type Kind string

const (
	NoPayout       Kind = "NO_PAYOUT"
	AlreadyAwarded Kind = "ALREADY_AWARDED"
	Denied         Kind = "DENIED"
	Awarded        Kind = "AWARDED"
)

// InsufficientBalance is reported when a gift sender cannot cover the amount.
const InsufficientBalance capguard.DenyReason = "InsufficientBalance"

// Outcome is the terminal result of one evaluation. Policy denials and
// idempotent replays are outcomes, not errors.
type Outcome struct {
	Kind          Kind                `json:"kind"`
	Amount        int64               `json:"amount,omitempty"`
	Reason        capguard.DenyReason `json:"reason,omitempty"`
	StreakDays    int                 `json:"streak_days,omitempty"`
	Occurrence    string              `json:"occurrence,omitempty"`
	TransactionID string              `json:"transaction_id,omitempty"`
}

func (o Outcome) IsAwarded() bool {
	return o.Kind == Awarded
}
