//go:build wireinject

package main

import (
	"github.com/google/wire"
	"github.com/primectl/primed/cmd/primed/api"
	"github.com/primectl/primed/lib/providers"
)

// initializeApp is the injector function
func initializeApp() (*application, func(), error) {
	panic(wire.Build(
		providers.ProvideLogger,
		providers.ProvideContext,
		providers.ProvideConfig,
		providers.ProvideResolver,
		providers.ProvideRunner,
		providers.ProvideGPUManager,
		providers.ProvideWatcher,
		api.New,
		wire.Struct(new(application), "*"),
	))
}
