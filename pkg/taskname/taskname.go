package taskname

const (
	// Reward tasks
	RewardAwarded = "reward:awarded"

	// Ledger tasks
	LedgerReconcile      = "ledger:reconcile"
	LedgerReconcileSweep = "ledger:reconcile:sweep"
)
