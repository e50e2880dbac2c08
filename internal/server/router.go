// Package server wires the gin engine, middleware chain, and HTTP server.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/openclaw/geminipool/internal/config"
	"github.com/openclaw/geminipool/internal/handler"
	middleware2 "github.com/openclaw/geminipool/internal/server/middleware"
	"github.com/openclaw/geminipool/internal/service"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由器中间件和路由
func SetupRouter(
	handlers *handler.Handlers,
	apiKeyService *service.APIKeyService,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()

	// 应用中间件
	r.Use(gin.Recovery())
	r.Use(middleware2.ClientRequestID())
	r.Use(middleware2.RequestLogger())
	r.Use(middleware2.Logger())
	r.Use(middleware2.CORS(cfg.CORS))
	r.Use(middleware2.SecurityHeaders())

	registerRoutes(r, handlers, apiKeyService)

	return r
}

// registerRoutes 注册所有 HTTP 路由
func registerRoutes(r *gin.Engine, h *handler.Handlers, apiKeyService *service.APIKeyService) {
	// 健康检查不走鉴权
	r.GET("/healthz", h.Health.Healthz)

	auth := middleware2.APIKeyAuthGoogle(apiKeyService)

	// Gemini 原生端点
	v1beta := r.Group("/v1beta", auth)
	v1beta.POST("/models/*modelAction", h.Gateway.GeminiV1BetaModels)

	// 管理端聊天（同一引擎，逐帧透传）
	admin := r.Group("/admin", auth)
	admin.POST("/chat/stream", h.Gateway.AdminChatStream)
}

// NewHTTPServer 构造 http.Server。流式响应要求不设全局写超时。
func NewHTTPServer(r *gin.Engine, cfg *config.Config) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
