package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openclaw/geminipool/internal/pkg/codeassist"
	"golang.org/x/sync/singleflight"
)

// IdentityService 承担两件事：
//
//  1. 活跃账号缓存：从持久层按 LRU 序加载 active 账号，带 TTL；
//     过期后返回旧快照并在后台异步刷新，刷新失败保留旧列表。
//  2. 单飞令牌刷新：同一账号的并发刷新合并为一次上游 HTTP 调用，
//     新令牌先落库再返回给任何调用方。
type IdentityService struct {
	accountRepo AccountRepository
	oauthClient *codeassist.OAuthClient

	cacheTTL      time.Duration
	refreshMargin time.Duration

	mu         sync.RWMutex
	cached     []*Account
	loadedAt   time.Time
	everLoaded bool

	loadGroup    singleflight.Group
	refreshGroup singleflight.Group

	// backgroundBusy 保证同一时刻只挂一个后台刷新
	backgroundBusy bool

	now func() time.Time
}

// NewIdentityService 创建账号管理服务。
func NewIdentityService(
	accountRepo AccountRepository,
	oauthClient *codeassist.OAuthClient,
	cacheTTL time.Duration,
	refreshMargin time.Duration,
) *IdentityService {
	return &IdentityService{
		accountRepo:   accountRepo,
		oauthClient:   oauthClient,
		cacheTTL:      cacheTTL,
		refreshMargin: refreshMargin,
		now:           time.Now,
	}
}

// GetReadyAccounts 返回当前活跃账号快照（按 last_used_at 升序）。
// 首次调用同步加载；之后若缓存过期，返回旧快照并触发一次后台刷新。
// 返回的切片是快照，调用方不得修改。
func (s *IdentityService) GetReadyAccounts(ctx context.Context) ([]*Account, error) {
	s.mu.RLock()
	loaded := s.everLoaded
	stale := !loaded || s.now().Sub(s.loadedAt) >= s.cacheTTL
	snapshot := s.cached
	s.mu.RUnlock()

	if !loaded {
		return s.loadAccounts(ctx)
	}
	if stale {
		s.fireBackgroundRefresh()
	}
	return snapshot, nil
}

// Warm 启动时预热缓存。
func (s *IdentityService) Warm(ctx context.Context) error {
	_, err := s.loadAccounts(ctx)
	return err
}

// Invalidate 清空缓存，下一次读取会同步加载。
func (s *IdentityService) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	s.everLoaded = false
}

// loadAccounts 同步加载，并发调用合并为一次持久层查询。
func (s *IdentityService) loadAccounts(ctx context.Context) ([]*Account, error) {
	result, err, _ := s.loadGroup.Do("accounts", func() (any, error) {
		accounts, err := s.accountRepo.GetActiveAccounts(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cached = accounts
		s.loadedAt = s.now()
		s.everLoaded = true
		s.mu.Unlock()
		return accounts, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]*Account), nil
}

// fireBackgroundRefresh 异步刷新缓存；已有刷新在跑时直接返回。
// 失败只记日志，旧快照继续服务。
func (s *IdentityService) fireBackgroundRefresh() {
	s.mu.Lock()
	if s.backgroundBusy {
		s.mu.Unlock()
		return
	}
	s.backgroundBusy = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.backgroundBusy = false
			s.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.loadAccounts(ctx); err != nil {
			slog.Warn("identity_cache_refresh_failed", "error", err.Error())
		}
	}()
}

// EnsureFreshToken 返回可用的访问令牌。
// 令牌在安全边际内视为新鲜直接返回；否则对该账号单飞刷新：
// 新 access/refresh token 与过期时间先写入持久层，再更新内存快照并返回。
func (s *IdentityService) EnsureFreshToken(ctx context.Context, account *Account) (string, error) {
	if account == nil {
		return "", fmt.Errorf("nil account")
	}
	if account.TokenFresh(s.refreshMargin, s.now()) {
		return account.AccessToken, nil
	}

	result, err, _ := s.refreshGroup.Do(account.Email, func() (any, error) {
		// 单飞内再查一次内存，赢得竞争的刷新可能已经完成
		if current := s.lookupCached(account.Email); current != nil && current.TokenFresh(s.refreshMargin, s.now()) {
			return current.AccessToken, nil
		}
		return s.refreshToken(ctx, account)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (s *IdentityService) refreshToken(ctx context.Context, account *Account) (string, error) {
	token, err := s.oauthClient.RefreshToken(ctx, account.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("token refresh failed for %s: %w", account.Email, err)
	}

	now := s.now()
	expiresAt := token.ExpiresAt(now)
	refreshToken := token.RefreshToken
	if refreshToken == "" {
		// 上游可省略 refresh_token，沿用旧值
		refreshToken = account.RefreshToken
	}

	// 新令牌必须先持久化，再被任何在途请求使用
	update := &AccountUpdate{
		AccessToken:  &token.AccessToken,
		RefreshToken: &refreshToken,
		ExpiresAt:    &expiresAt,
	}
	if err := s.accountRepo.UpdateAccount(ctx, account.Email, update); err != nil {
		return "", fmt.Errorf("persist refreshed token for %s: %w", account.Email, err)
	}

	// 调用方手里的快照指针不就地修改，新令牌只经返回值与缓存副本发布
	s.updateCachedToken(account.Email, token.AccessToken, refreshToken, expiresAt)

	slog.Info("identity_token_refreshed", "email", account.Email, "expires_at", expiresAt.Format(time.RFC3339))
	return token.AccessToken, nil
}

// TouchLastUsed 更新账号的 last_used_at，驱动 LRU 排序。
func (s *IdentityService) TouchLastUsed(ctx context.Context, email string) {
	now := s.now()
	if err := s.accountRepo.UpdateAccount(ctx, email, &AccountUpdate{LastUsedAt: &now}); err != nil {
		slog.Warn("identity_touch_failed", "email", email, "error", err.Error())
	}
}

func (s *IdentityService) lookupCached(email string) *Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.cached {
		if a.Email == email {
			return a
		}
	}
	return nil
}

// updateCachedToken 用更新后的副本替换缓存元素，避免就地修改共享指针。
func (s *IdentityService) updateCachedToken(email, accessToken, refreshToken string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.cached {
		if a.Email == email {
			updated := *a
			updated.AccessToken = accessToken
			updated.RefreshToken = refreshToken
			updated.ExpiresAt = expiresAt
			s.cached[i] = &updated
			return
		}
	}
}
