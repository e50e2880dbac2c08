//go:build wireinject
// +build wireinject

package main

import (
	"github.com/openclaw/geminipool/internal/config"
	"github.com/openclaw/geminipool/internal/handler"
	"github.com/openclaw/geminipool/internal/repository"
	"github.com/openclaw/geminipool/internal/server"
	"github.com/openclaw/geminipool/internal/service"

	"github.com/google/wire"
)

func initializeApplication() (*Application, error) {
	wire.Build(
		// Infrastructure layer ProviderSets
		config.ProviderSet,

		// Business layer ProviderSets
		repository.ProviderSet,
		service.ProviderSet,
		handler.ProviderSet,

		// Server layer ProviderSet
		server.ProviderSet,

		// Cleanup function provider
		provideCleanup,

		// Application struct
		wire.Struct(new(Application), "Config", "Server", "Reactivator", "Identity", "Cleanup"),
	)
	return nil, nil
}
