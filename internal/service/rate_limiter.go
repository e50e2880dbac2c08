package service

import (
	"sync"
	"time"
)

// RateBudget 固定窗口内的消费结果。
type RateBudget struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type rateWindow struct {
	count         int
	windowStartAt time.Time
}

// RateLimiter 按账号维度的客户端固定窗口限流。
// 这是自我保护用的粗粒度节流，不追求跨请求的严格公平；
// 并发消费最多放行到窗口上限，超量由出站并发闸门兜底。
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow

	max    int
	window time.Duration

	now func() time.Time
}

// NewRateLimiter 创建限流器，max 为窗口内最大请求数，window 为窗口长度。
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*rateWindow),
		max:     max,
		window:  window,
		now:     time.Now,
	}
}

// Consume 尝试消费一次预算。窗口过期先重置再判定。
func (l *RateLimiter) Consume(email string) RateBudget {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[email]
	if !ok || now.Sub(w.windowStartAt) >= l.window {
		w = &rateWindow{windowStartAt: now}
		l.windows[email] = w
	}

	if w.count >= l.max {
		return RateBudget{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: w.windowStartAt.Add(l.window).Sub(now),
		}
	}
	w.count++
	return RateBudget{Allowed: true, Remaining: l.max - w.count}
}

// Reset 清除单个账号的窗口（幂等）。
func (l *RateLimiter) Reset(email string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, email)
}

// ResetAll 清除全部窗口。
func (l *RateLimiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string]*rateWindow)
}
