package ledger

import (
	"go.uber.org/fx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

var Module = fx.Module("ledger",
	fx.Provide(
		NewGormUnitOfWork,
		New,
	),
)

// Health registers the store-backed gRPC health service.
var Health = fx.Module("ledger.health",
	fx.Provide(NewHealthServer),
	fx.Invoke(registerHealthServer),
)

func registerHealthServer(server *grpc.Server, health *HealthServer) {
	grpc_health_v1.RegisterHealthServer(server, health)
}
