package habit

import (
	"habitcoin/services/capguard"
	"habitcoin/services/streak"

	"go.uber.org/fx"
)

var Module = fx.Module("habit",
	fx.Provide(
		NewStore,
		NewService,
		func(s *Store) streak.HistoryReader { return s },
		func(s *Store) capguard.HabitCounter { return s },
		func(g *capguard.Guard) QuotaChecker { return g },
	),
)
