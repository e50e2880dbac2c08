package service

import (
	mathrand "math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// BackoffPolicy 轮换间隔的指数退避曲线。
// delay = min(base · 2^attempt, max) · (1 ± jitter)，jitter 均匀采样。
type BackoffPolicy struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// NewBackoffPolicy 创建退避策略。
func NewBackoffPolicy(base, max time.Duration, jitter float64) *BackoffPolicy {
	if base <= 0 {
		base = 2 * time.Second
	}
	if max < base {
		max = base
	}
	return &BackoffPolicy{Base: base, Max: max, Jitter: jitter}
}

// Compute 计算第 attempt 轮（从 0 起）结束后的等待时长。
func (p *BackoffPolicy) Compute(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			d = p.Max
			break
		}
	}
	return p.applyJitter(d)
}

// ComputeWithRetryAfter 以上游 Retry-After 提示为基数计算等待时长。
// 提示缺失或无法解析时退回指数曲线；提示值仍会被抖动并封顶，下限为 Base。
func (p *BackoffPolicy) ComputeWithRetryAfter(attempt int, header http.Header) time.Duration {
	hint, ok := parseRetryAfter(header.Get("Retry-After"))
	if !ok {
		return p.Compute(attempt)
	}
	if hint < p.Base {
		hint = p.Base
	}
	if hint > p.Max {
		hint = p.Max
	}
	return p.applyJitter(hint)
}

func (p *BackoffPolicy) applyJitter(d time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	// 因子在 [1-jitter, 1+jitter] 内均匀分布
	factor := 1 + p.Jitter*(2*mathrand.Float64()-1)
	return time.Duration(float64(d) * factor)
}

// parseRetryAfter 解析 Retry-After 头，支持秒数与 HTTP-date 两种形式。
func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := time.Until(at)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
