package service

import (
	"github.com/google/wire"
	"github.com/openclaw/geminipool/internal/config"
	"github.com/openclaw/geminipool/internal/pkg/codeassist"
)

// ProvideOAuthClient 由配置构造令牌刷新客户端。
func ProvideOAuthClient(cfg *config.Config) *codeassist.OAuthClient {
	return codeassist.NewOAuthClient(
		cfg.OAuth.TokenURL,
		cfg.OAuth.ClientID,
		cfg.OAuth.ClientSecret,
		cfg.Upstream.UnaryTimeout(),
	)
}

// ProvideCooldownRegistry 由配置构造冷却表。
func ProvideCooldownRegistry(cfg *config.Config) *CooldownRegistry {
	return NewCooldownRegistry(cfg.Gateway.ProbeMargin(), cfg.Gateway.MinProbeInterval())
}

// ProvideRateLimiter 由配置构造单账号限流器。
func ProvideRateLimiter(cfg *config.Config) *RateLimiter {
	return NewRateLimiter(cfg.Gateway.RateLimitMax, cfg.Gateway.RateLimitWindow())
}

// ProvideConcurrencyGate 由配置构造出站并发闸门。
func ProvideConcurrencyGate(cfg *config.Config) *ConcurrencyGate {
	return NewConcurrencyGate(cfg.Gateway.ConcurrencyCap)
}

// ProvideBackoffPolicy 由配置构造退避曲线。
func ProvideBackoffPolicy(cfg *config.Config) *BackoffPolicy {
	return NewBackoffPolicy(cfg.Gateway.BaseRetryDelay(), cfg.Gateway.MaxRetryDelay(), cfg.Gateway.JitterFactor)
}

// ProvideIdentityService 由配置构造账号管理服务。
func ProvideIdentityService(accountRepo AccountRepository, oauthClient *codeassist.OAuthClient, cfg *config.Config) *IdentityService {
	return NewIdentityService(accountRepo, oauthClient, cfg.Gateway.IdentityCacheTTL(), cfg.Gateway.TokenRefreshMargin())
}

// ProviderSet is the Wire provider set for all services
var ProviderSet = wire.NewSet(
	ProvideOAuthClient,
	ProvideCooldownRegistry,
	ProvideRateLimiter,
	ProvideConcurrencyGate,
	ProvideBackoffPolicy,
	ProvideIdentityService,
	NewRequestLogService,
	NewGatewayService,
	NewReactivatorService,
	NewAPIKeyService,
)
