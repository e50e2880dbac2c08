package handler

import (
	"github.com/google/wire"
)

// Handlers 聚合全部 HTTP 处理器，供路由装配。
type Handlers struct {
	Gateway *GatewayHandler
	Health  *HealthHandler
}

// ProvideHandlers creates the Handlers struct
func ProvideHandlers(
	gatewayHandler *GatewayHandler,
	healthHandler *HealthHandler,
) *Handlers {
	return &Handlers{
		Gateway: gatewayHandler,
		Health:  healthHandler,
	}
}

// ProviderSet is the Wire provider set for all handlers
var ProviderSet = wire.NewSet(
	NewGatewayHandler,
	NewHealthHandler,
	ProvideHandlers,
)
