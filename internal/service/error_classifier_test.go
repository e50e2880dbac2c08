package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyErrorTextPatterns(t *testing.T) {
	tests := []struct {
		name string
		text string
		want ErrorCategory
	}{
		{"rate limit phrase", "Rate limit reached for requests", CategoryRateLimit},
		{"too many requests", "Too Many Requests", CategoryRateLimit},
		{"usage limit", "You have hit your usage limit", CategoryRateLimit},
		{"quota resource exhausted", "Resource has been exhausted (e.g. check quota).", CategoryQuota},
		{"quota grpc style", "RESOURCE_EXHAUSTED: per-minute limit", CategoryQuota},
		{"quota exceeded", "Quota exceeded for quota metric", CategoryQuota},
		{"insufficient quota", "insufficient_quota", CategoryQuota},
		{"auth invalid key", "Invalid API key provided", CategoryAuth},
		{"auth invalid grant", "invalid_grant: Token has been expired or revoked", CategoryAuth},
		{"auth refresh failed", "token refresh failed: oauth token endpoint status 400", CategoryAuth},
		{"auth unauthorized", "Request unauthorized", CategoryAuth},
		{"timeout plain", "context deadline exceeded", CategoryTimeout},
		{"timeout no chunks", "stream closed without sending any chunks", CategoryTimeout},
		{"overloaded", "overloaded_error: try again later", CategoryOverloaded},
		{"service unavailable text", "Service Unavailable", CategoryOverloaded},
		{"high demand", "Our systems are experiencing high demand", CategoryOverloaded},
		{"billing payment required", "Payment Required", CategoryBilling},
		{"billing credits", "insufficient credits to complete request", CategoryBilling},
		{"model not found", "unknown model: gemini-9000", CategoryModelNotFound},
		{"model path not found", "models/gemini-nope is not found for API version v1internal", CategoryModelNotFound},
		{"format invalid", "Invalid request format: missing contents", CategoryFormat},
		{"format pattern", "string should match pattern '^projects/'", CategoryFormat},
		{"empty text", "", CategoryUnknown},
		{"garbage", "something inexplicable happened", CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ClassifyError(tt.text))
		})
	}
}

// 前导状态码优先于正文匹配。
func TestClassifyErrorLeadingStatus(t *testing.T) {
	tests := []struct {
		name string
		text string
		want ErrorCategory
	}{
		{"429 plain", "429 upstream said no", CategoryRateLimit},
		{"429 quota body wins quota", "429 Resource has been exhausted (e.g. check quota).", CategoryQuota},
		{"401", "401 some upstream text", CategoryAuth},
		{"403", "403 permission denied by upstream", CategoryAuth},
		{"402", "402 anything", CategoryBilling},
		{"404", "404 not found", CategoryModelNotFound},
		{"408", "408 request timeout", CategoryTimeout},
		{"500", "500 internal error", CategoryTimeout},
		{"503", "503 unavailable", CategoryTimeout},
		{"529", "529 site overloaded", CategoryTimeout},
		{"521 cloudflare", "521 web server is down", CategoryTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ClassifyError(tt.text))
		})
	}
}

func TestClassifyStatusError(t *testing.T) {
	require.Equal(t, CategoryRateLimit, ClassifyStatusError(429, "slow down"))
	require.Equal(t, CategoryQuota, ClassifyStatusError(429, "quota exceeded"))
	require.Equal(t, CategoryAuth, ClassifyStatusError(403, ""))
	// status 0 退化为纯文本分类
	require.Equal(t, CategoryOverloaded, ClassifyStatusError(0, "overloaded"))
}

// 分类全覆盖：任何输入都落在九类之一。
func TestClassifyErrorTotality(t *testing.T) {
	known := map[ErrorCategory]struct{}{
		CategoryRateLimit: {}, CategoryQuota: {}, CategoryAuth: {},
		CategoryTimeout: {}, CategoryOverloaded: {}, CategoryBilling: {},
		CategoryModelNotFound: {}, CategoryFormat: {}, CategoryUnknown: {},
	}
	inputs := []string{
		"", "429", "429 ", "999 weird", "连接被重置", "\x00\x01\x02",
		"Rate limit AND quota exceeded AND unauthorized",
	}
	for _, in := range inputs {
		_, ok := known[ClassifyError(in)]
		require.True(t, ok, "input %q produced unknown category", in)
	}
}

// 匹配顺序固定：混合文本按 model_not_found → quota → rate_limit → … 命中。
func TestClassifyErrorPriority(t *testing.T) {
	require.Equal(t, CategoryModelNotFound, ClassifyError("unknown model and rate limit"))
	require.Equal(t, CategoryQuota, ClassifyError("quota exceeded while rate limited"))
	require.Equal(t, CategoryRateLimit, ClassifyError("rate limit and overloaded"))
	require.Equal(t, CategoryOverloaded, ClassifyError("overloaded and unauthorized"))
}

func TestStrategyFor(t *testing.T) {
	for _, c := range []ErrorCategory{CategoryRateLimit, CategoryQuota} {
		s := StrategyFor(c)
		require.True(t, s.ShouldRetry)
		require.True(t, s.ShouldRotateIdentity)
		require.True(t, s.ShouldTryFallbackModel)
	}
	for _, c := range []ErrorCategory{CategoryOverloaded, CategoryTimeout, CategoryAuth, CategoryBilling, CategoryUnknown} {
		s := StrategyFor(c)
		require.True(t, s.ShouldRetry, "category %s", c)
		require.False(t, s.ShouldTryFallbackModel, "category %s", c)
	}
	for _, c := range []ErrorCategory{CategoryFormat, CategoryModelNotFound} {
		s := StrategyFor(c)
		require.False(t, s.ShouldRetry, "category %s", c)
	}
}

func TestIsRecoverable(t *testing.T) {
	require.False(t, CategoryAuth.IsRecoverable())
	require.False(t, CategoryBilling.IsRecoverable())
	for _, c := range []ErrorCategory{CategoryRateLimit, CategoryQuota, CategoryTimeout, CategoryOverloaded, CategoryFormat, CategoryModelNotFound, CategoryUnknown} {
		require.True(t, c.IsRecoverable(), "category %s", c)
	}
}
