//go:build wireinject
// +build wireinject

package di

import (
	"TradeAlchemist/pkg/config"
	"TradeAlchemist/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application with a cleanup
// that releases backend clients.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Backends
		ProvideStores,
		ProvideHub,
		ProvideTickPublisher,

		// Simulation
		ProvideRegimeMachine,
		ProvideGenerator,

		// Use cases
		ProvideOrchestrator,
		ProvideMarketInitializer,
		ProvideMarketQuery,
		ProvideScheduler,
		ProvideTriggerConsumer,

		// Transport
		ProvideRateLimiter,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}
