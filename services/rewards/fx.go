package rewards

import (
	"habitcoin/services/habit"
	"habitcoin/services/issuer"
	"habitcoin/services/ledger"
	"habitcoin/services/streak"

	"go.uber.org/fx"
)

var Module = fx.Module("rewards",
	fx.Provide(
		func(i *issuer.Issuer) Engine { return i },
		func(l *ledger.Ledger) Ledger { return l },
		func(s *habit.Service) Habits { return s },
		func(s *habit.Store) HabitReader { return s },
		func(t *streak.Tracker) StreakReader { return t },
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)
