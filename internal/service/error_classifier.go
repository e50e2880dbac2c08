package service

import (
	"regexp"
	"strconv"
)

// ErrorCategory 上游错误分类结果
type ErrorCategory string

const (
	CategoryRateLimit     ErrorCategory = "rate_limit"
	CategoryQuota         ErrorCategory = "quota"
	CategoryAuth          ErrorCategory = "auth"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryOverloaded    ErrorCategory = "overloaded"
	CategoryBilling       ErrorCategory = "billing"
	CategoryModelNotFound ErrorCategory = "model_not_found"
	CategoryFormat        ErrorCategory = "format"
	CategoryUnknown       ErrorCategory = "unknown"
)

// 预编译匹配库（避免每次调用重新编译）。
// 匹配顺序固定：model_not_found → quota → rate_limit → overloaded → auth → format → billing → timeout，
// 命中即返回，后续库不再参与。
var (
	leadingStatusRegex = regexp.MustCompile(`^\s*(\d{3})\s`)

	modelNotFoundRegex = regexp.MustCompile(`(?i)(unknown model|models/\S+ is not found)`)
	quotaRegex         = regexp.MustCompile(`(?i)(resource has been exhausted|resource_exhausted|quota exceeded|insufficient_quota)`)
	rateLimitRegex     = regexp.MustCompile(`(?i)(rate[_ ]limit|too many requests|exceeded your current quota|usage limit)`)
	overloadedRegex    = regexp.MustCompile(`(?i)(overloaded_error|overloaded|service unavailable|high demand)`)
	authRegex          = regexp.MustCompile(`(?i)(invalid[_ ]api[_ ]key|invalid_grant|token refresh failed|unauthorized|forbidden|re-authenticate|401|403)`)
	formatRegex        = regexp.MustCompile(`(?i)(invalid request format|string should match pattern)`)
	billingRegex       = regexp.MustCompile(`(?i)(status[:=]\s*402|payment required|insufficient credits)`)
	timeoutRegex       = regexp.MustCompile(`(?i)(timeout|timed out|deadline exceeded|without sending (any )?chunks?|stop reason:\s*abort)`)
)

// timeoutStatusCodes 直接按超时处理的上游状态码（含 Cloudflare 52x）
var timeoutStatusCodes = map[int]struct{}{
	500: {}, 502: {}, 503: {}, 504: {},
	521: {}, 522: {}, 523: {}, 524: {}, 529: {},
}

// ClassifyError 将上游错误文本归入九类之一。
// 入参为 HTTP 状态码（作为前导 "NNN " token，可缺省）与响应体文本的拼接。
func ClassifyError(text string) ErrorCategory {
	if m := leadingStatusRegex.FindStringSubmatch(text); m != nil {
		status, _ := strconv.Atoi(m[1])
		switch {
		case status == 429:
			if quotaRegex.MatchString(text) {
				return CategoryQuota
			}
			return CategoryRateLimit
		case status == 401 || status == 403:
			return CategoryAuth
		case status == 402:
			return CategoryBilling
		case status == 404:
			return CategoryModelNotFound
		case status == 408:
			return CategoryTimeout
		default:
			if _, ok := timeoutStatusCodes[status]; ok {
				return CategoryTimeout
			}
		}
	}

	switch {
	case modelNotFoundRegex.MatchString(text):
		return CategoryModelNotFound
	case quotaRegex.MatchString(text):
		return CategoryQuota
	case rateLimitRegex.MatchString(text):
		return CategoryRateLimit
	case overloadedRegex.MatchString(text):
		return CategoryOverloaded
	case authRegex.MatchString(text):
		return CategoryAuth
	case formatRegex.MatchString(text):
		return CategoryFormat
	case billingRegex.MatchString(text):
		return CategoryBilling
	case timeoutRegex.MatchString(text):
		return CategoryTimeout
	default:
		return CategoryUnknown
	}
}

// ClassifyStatusError 拼接状态码与响应体后分类，是 ClassifyError 的便捷入口。
func ClassifyStatusError(status int, body string) ErrorCategory {
	if status > 0 {
		return ClassifyError(strconv.Itoa(status) + " " + body)
	}
	return ClassifyError(body)
}

// RetryStrategy 描述某一错误类别下引擎的后续动作。
type RetryStrategy struct {
	ShouldRetry            bool // 是否继续轮换重试
	ShouldRotateIdentity   bool // 是否切换到下一个账号
	ShouldTryFallbackModel bool // 是否先尝试模型回退链
}

// StrategyFor 返回类别对应的重试策略。
// auth/billing 会轮换账号并给原账号挂长冷却；
// format/model_not_found 是请求本身的问题，换账号也无济于事。
func StrategyFor(category ErrorCategory) RetryStrategy {
	switch category {
	case CategoryRateLimit, CategoryQuota:
		return RetryStrategy{ShouldRetry: true, ShouldRotateIdentity: true, ShouldTryFallbackModel: true}
	case CategoryOverloaded, CategoryTimeout, CategoryAuth, CategoryBilling:
		return RetryStrategy{ShouldRetry: true, ShouldRotateIdentity: true}
	case CategoryFormat, CategoryModelNotFound:
		return RetryStrategy{}
	default:
		return RetryStrategy{ShouldRetry: true, ShouldRotateIdentity: true}
	}
}

// IsRecoverable 表示该类别冷却到期后可自动恢复（auth/billing 需人工处理）。
func (c ErrorCategory) IsRecoverable() bool {
	return c != CategoryAuth && c != CategoryBilling
}
