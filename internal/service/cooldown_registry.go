package service

import (
	"log/slog"
	"sync"
	"time"
)

// 冷却时长常量
const (
	cooldownRateLimitBase = 15 * time.Second
	cooldownRateLimitMax  = 120 * time.Second
	cooldownQuota         = 60 * time.Minute
	cooldownTimeout       = 5 * time.Second
	cooldownDefault       = 15 * time.Second
	// auth/billing 需要人工处理，冷却时间给到"实际上永远不会自动恢复"的量级。
	cooldownManualOnly = 100 * 365 * 24 * time.Hour
)

// CooldownState 单个账号的运行期冷却状态。
// 仅存在于进程内存；持久层的 active/exhausted_at 是重启后的兜底备份。
type CooldownState struct {
	CooldownUntil time.Time
	Reason        ErrorCategory
	FailureCount  int
	LastProbeAt   *time.Time
}

// CooldownRegistry 维护账号邮箱到冷却状态的映射。
// 所有操作在内部互斥锁下进行，读取路径上过期条目会被顺手删除。
type CooldownRegistry struct {
	mu      sync.Mutex
	entries map[string]*CooldownState

	probeMargin      time.Duration
	minProbeInterval time.Duration

	// now 可替换，便于测试控制时钟。
	now func() time.Time
}

// NewCooldownRegistry 创建空的冷却表。
func NewCooldownRegistry(probeMargin, minProbeInterval time.Duration) *CooldownRegistry {
	return &CooldownRegistry{
		entries:          make(map[string]*CooldownState),
		probeMargin:      probeMargin,
		minProbeInterval: minProbeInterval,
		now:              time.Now,
	}
}

// durationFor 按错误类别计算冷却时长。
// rate_limit/overloaded 按失败次数指数升级并封顶；quota 固定 60 分钟；
// timeout 5 秒；auth/billing 仅人工恢复。
func durationFor(category ErrorCategory, failureCount int) time.Duration {
	switch category {
	case CategoryRateLimit, CategoryOverloaded:
		d := cooldownRateLimitBase
		for i := 1; i < failureCount; i++ {
			d *= 2
			if d >= cooldownRateLimitMax {
				return cooldownRateLimitMax
			}
		}
		return d
	case CategoryQuota:
		return cooldownQuota
	case CategoryAuth, CategoryBilling:
		return cooldownManualOnly
	case CategoryTimeout:
		return cooldownTimeout
	default:
		return cooldownDefault
	}
}

// MarkCooldown 记录一次失败：失败计数 +1，按新计数计算冷却时长。
func (r *CooldownRegistry) MarkCooldown(email string, category ErrorCategory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	state := r.entries[email]
	failureCount := 1
	if state != nil {
		failureCount = state.FailureCount + 1
	}
	duration := durationFor(category, failureCount)
	r.entries[email] = &CooldownState{
		CooldownUntil: now.Add(duration),
		Reason:        category,
		FailureCount:  failureCount,
	}
	slog.Info("identity_cooldown",
		"email", email,
		"category", string(category),
		"failure_count", failureCount,
		"duration", duration.String())
}

// InCooldown 判断账号是否处于冷却中。
// 冷却已过期的条目在此处删除并返回 false（读取即清理）。
func (r *CooldownRegistry) InCooldown(email string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.entries[email]
	if !ok {
		return false
	}
	if !r.now().Before(state.CooldownUntil) {
		delete(r.entries, email)
		return false
	}
	return true
}

// ShouldProbe 判断冷却中的账号是否可以做一次试探请求。
// 条件：类别可自动恢复、距上次试探 ≥ 最小间隔，且
// (类别为 rate_limit/overloaded，或已进入冷却到期前的试探窗口)。
func (r *CooldownRegistry) ShouldProbe(email string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.entries[email]
	if !ok {
		return false
	}
	if !state.Reason.IsRecoverable() {
		return false
	}
	now := r.now()
	if state.LastProbeAt != nil && now.Sub(*state.LastProbeAt) < r.minProbeInterval {
		return false
	}
	if state.Reason == CategoryRateLimit || state.Reason == CategoryOverloaded {
		return true
	}
	return !now.Before(state.CooldownUntil.Add(-r.probeMargin))
}

// RecordProbe 记录一次试探的时间戳。
func (r *CooldownRegistry) RecordProbe(email string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.entries[email]; ok {
		now := r.now()
		state.LastProbeAt = &now
	}
}

// MarkSuccess 删除冷却条目，这是唯一的"治愈"转移，失败计数随之归零。
func (r *CooldownRegistry) MarkSuccess(email string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[email]; ok {
		delete(r.entries, email)
		slog.Info("identity_cooldown_cleared", "email", email)
	}
}

// Clear 手动清除指定账号的冷却（管理操作）。
func (r *CooldownRegistry) Clear(email string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, email)
}

// ClearExpired 全表扫描删除已过期条目，返回删除数量。
func (r *CooldownRegistry) ClearExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for email, state := range r.entries {
		if !now.Before(state.CooldownUntil) {
			delete(r.entries, email)
			removed++
		}
	}
	return removed
}

// Snapshot 返回当前冷却表的浅拷贝，用于状态页展示。
func (r *CooldownRegistry) Snapshot() map[string]CooldownState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]CooldownState, len(r.entries))
	for email, state := range r.entries {
		out[email] = *state
	}
	return out
}
