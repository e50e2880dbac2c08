package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	mathrand "math/rand"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/openclaw/geminipool/internal/config"
	"golang.org/x/sync/singleflight"
)

// apiKeyVisiblePrefixLen 持久层只保留的明文前缀长度（展示用）
const apiKeyVisiblePrefixLen = 7

// APIKeyRepository 客户端凭证持久化契约。
// 存储侧只有 SHA-256 摘要与七位可见前缀，永远拿不到完整 key。
type APIKeyRepository interface {
	// ValidateKeyDigest 按摘要判断凭证是否存在且启用。
	ValidateKeyDigest(ctx context.Context, digest string) (bool, error)
	// TouchKeyUsage 凭证命中后累加使用计数（尽力而为）。
	TouchKeyUsage(ctx context.Context, digest string) error
}

// APIKeyService 客户端凭证校验，带 ristretto L1 缓存与单飞回源。
type APIKeyService struct {
	repo APIKeyRepository

	authCacheL1 *ristretto.Cache
	authGroup   singleflight.Group

	l1TTL           time.Duration
	negativeTTL     time.Duration
	jitterPercent   int
	useSingleflight bool
}

type apiKeyCacheEntry struct {
	valid bool
}

// NewAPIKeyService 创建凭证校验服务。
func NewAPIKeyService(repo APIKeyRepository, cfg *config.Config) *APIKeyService {
	svc := &APIKeyService{
		repo:            repo,
		l1TTL:           time.Duration(cfg.APIKeyAuth.L1TTLSeconds) * time.Second,
		negativeTTL:     time.Duration(cfg.APIKeyAuth.NegativeTTLSeconds) * time.Second,
		jitterPercent:   cfg.APIKeyAuth.JitterPercent,
		useSingleflight: cfg.APIKeyAuth.Singleflight,
	}

	size := cfg.APIKeyAuth.L1Size
	if size <= 0 {
		size = 2048
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(size) * 10,
		MaxCost:     int64(size),
		BufferItems: 64,
	})
	if err != nil {
		// 缓存创建失败时直接走持久层，不影响正确性
		slog.Warn("api_key_cache_init_failed", "error", err.Error())
	} else {
		svc.authCacheL1 = cache
	}
	return svc
}

// HashKey 计算凭证摘要（hex(sha256)）。
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// KeyVisiblePrefix 返回凭证的七位可见前缀（入库展示用）。
func KeyVisiblePrefix(key string) string {
	if len(key) <= apiKeyVisiblePrefixLen {
		return key
	}
	return key[:apiKeyVisiblePrefixLen]
}

// ValidateKey 校验一条客户端凭证。
// 格式不符（缺 sk- 前缀）直接拒绝，不产生持久层查询。
func (s *APIKeyService) ValidateKey(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if !strings.HasPrefix(key, "sk-") || len(key) < 16 {
		return false, nil
	}
	digest := HashKey(key)

	if s.authCacheL1 != nil {
		if cached, ok := s.authCacheL1.Get(digest); ok {
			if entry, ok := cached.(*apiKeyCacheEntry); ok {
				return entry.valid, nil
			}
		}
	}

	var valid bool
	var err error
	if s.useSingleflight {
		var value any
		value, err, _ = s.authGroup.Do(digest, func() (any, error) {
			return s.lookup(ctx, digest)
		})
		if err == nil {
			valid = value.(bool)
		}
	} else {
		valid, err = s.lookup(ctx, digest)
	}
	if err != nil {
		return false, err
	}

	if valid {
		go func() {
			touchCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := s.repo.TouchKeyUsage(touchCtx, digest); err != nil {
				slog.Debug("api_key_touch_failed", "error", err.Error())
			}
		}()
	}
	return valid, nil
}

func (s *APIKeyService) lookup(ctx context.Context, digest string) (bool, error) {
	valid, err := s.repo.ValidateKeyDigest(ctx, digest)
	if err != nil {
		return false, err
	}
	if s.authCacheL1 != nil {
		ttl := s.l1TTL
		if !valid {
			ttl = s.negativeTTL
		}
		s.authCacheL1.SetWithTTL(digest, &apiKeyCacheEntry{valid: valid}, 1, s.jitterTTL(ttl))
	}
	return valid, nil
}

// jitterTTL 给 TTL 加随机抖动，避免缓存同时失效造成回源尖峰。
func (s *APIKeyService) jitterTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || s.jitterPercent <= 0 {
		return ttl
	}
	delta := float64(ttl) * float64(s.jitterPercent) / 100
	return ttl + time.Duration((2*mathrand.Float64()-1)*delta)
}

// Invalidate 清除单条凭证的缓存（凭证被禁用后调用）。
func (s *APIKeyService) Invalidate(key string) {
	if s.authCacheL1 != nil {
		s.authCacheL1.Del(HashKey(key))
	}
}
