// Package service provides business logic and domain services for the application.
package service

import (
	"context"
	"time"
)

// Account status constants
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// Account 表示一个已接入的 Gemini OAuth 账号。
// Email 为主键；AccessToken/RefreshToken 仅存在于内存与持久层，禁止写入日志。
type Account struct {
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	ProjectID    string
	// PaidTier 仅作展示提示，引擎不依据它调度。
	PaidTier bool

	Active      bool
	LastUsedAt  *time.Time
	ExhaustedAt *time.Time

	SuccessfulCalls int64
	FailedCalls     int64
	TokensConsumed  int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TotalCalls 总调用次数，由成功与失败计数推导，不单独落库。
func (a *Account) TotalCalls() int64 {
	return a.SuccessfulCalls + a.FailedCalls
}

// TokenFresh 判断访问令牌在给定安全边际内是否仍然有效。
func (a *Account) TokenFresh(margin time.Duration, now time.Time) bool {
	if a == nil || a.AccessToken == "" {
		return false
	}
	return now.Before(a.ExpiresAt.Add(-margin))
}

func (a *Account) IsActive() bool {
	return a != nil && a.Active
}

// AccountUpdate 表示对账号的部分更新，nil 字段不触碰对应列。
type AccountUpdate struct {
	AccessToken  *string
	RefreshToken *string
	ExpiresAt    *time.Time
	ProjectID    *string
	Active       *bool
	LastUsedAt   *time.Time
	ExhaustedAt  *time.Time
	// ClearExhaustedAt 为 true 时将 exhausted_at 置空（与 ExhaustedAt 互斥）。
	ClearExhaustedAt bool
}

// AccountStatsDelta 账号计数器增量，由持久层原子累加。
type AccountStatsDelta struct {
	Successful int64
	Failed     int64
	Tokens     int64
}

// AccountRepository 定义账号持久化契约。
type AccountRepository interface {
	// GetActiveAccounts 返回 active=true 的账号，按 last_used_at 升序（LRU 优先）。
	GetActiveAccounts(ctx context.Context) ([]*Account, error)
	// UpdateAccount 按 email 应用部分更新。
	UpdateAccount(ctx context.Context, email string, update *AccountUpdate) error
	// IncrementAccountStats 原子累加成功/失败/token 计数。
	IncrementAccountStats(ctx context.Context, email string, delta AccountStatsDelta) error
	// ReactivateExhaustedAccounts 将 exhausted_at 早于 cutoff 的账号重新置为 active，
	// 返回受影响行数。
	ReactivateExhaustedAccounts(ctx context.Context, cooldown time.Duration) (int64, error)
}
