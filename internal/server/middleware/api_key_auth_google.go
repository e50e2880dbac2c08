package middleware

import (
	"strings"

	"github.com/openclaw/geminipool/internal/pkg/googleapi"
	"github.com/openclaw/geminipool/internal/service"

	"github.com/gin-gonic/gin"
)

// ContextKeyAPIKey gin 上下文里保存已验证凭证摘要的 key
const ContextKeyAPIKey = "api_key_digest"

// APIKeyAuthGoogle 校验客户端凭证，失败时返回 Google 风格错误体：
// {"error":{"code":401,"message":"...","status":"UNAUTHENTICATED"}}
//
// 用于 Gemini 原生端点（/v1beta），与 Gemini SDK 的预期一致。
func APIKeyAuthGoogle(apiKeyService *service.APIKeyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := extractAPIKeyForGoogle(c)
		if key == "" {
			abortWithGoogleError(c, 401, "API key is required")
			return
		}

		valid, err := apiKeyService.ValidateKey(c.Request.Context(), key)
		if err != nil {
			abortWithGoogleError(c, 500, "Failed to validate API key")
			return
		}
		if !valid {
			abortWithGoogleError(c, 401, "Invalid API key")
			return
		}

		c.Set(ContextKeyAPIKey, service.HashKey(key))
		c.Next()
	}
}

// extractAPIKeyForGoogle extracts API key for Google/Gemini endpoints.
// Priority: x-goog-api-key > Authorization: Bearer > x-api-key > query key
// This allows OpenClaw and other clients using Bearer auth to work with Gemini endpoints.
func extractAPIKeyForGoogle(c *gin.Context) string {
	// 1) preferred: Gemini native header
	if k := strings.TrimSpace(c.GetHeader("x-goog-api-key")); k != "" {
		return k
	}

	// 2) fallback: Authorization: Bearer <key>
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if k := strings.TrimSpace(parts[1]); k != "" {
				return k
			}
		}
	}

	// 3) x-api-key header (backward compatibility)
	if k := strings.TrimSpace(c.GetHeader("x-api-key")); k != "" {
		return k
	}

	// 4) query parameter key (for specific paths)
	if allowGoogleQueryKey(c.Request.URL.Path) {
		if v := strings.TrimSpace(c.Query("key")); v != "" {
			return v
		}
	}

	return ""
}

func allowGoogleQueryKey(path string) bool {
	return strings.HasPrefix(path, "/v1beta")
}

func abortWithGoogleError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    status,
			"message": message,
			"status":  googleapi.HTTPStatusToGoogleStatus(status),
		},
	})
	c.Abort()
}
