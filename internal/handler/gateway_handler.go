// Package handler exposes the HTTP surface of the gateway.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openclaw/geminipool/internal/config"
	"github.com/openclaw/geminipool/internal/pkg/ctxkey"
	infraerrors "github.com/openclaw/geminipool/internal/pkg/errors"
	"github.com/openclaw/geminipool/internal/pkg/googleapi"
	"github.com/openclaw/geminipool/internal/service"
	"github.com/tidwall/gjson"

	"github.com/gin-gonic/gin"
)

// GatewayHandler Gemini v1beta 反代入口。
type GatewayHandler struct {
	gatewayService *service.GatewayService
	cfg            *config.Config
}

// NewGatewayHandler 创建网关处理器。
func NewGatewayHandler(gatewayService *service.GatewayService, cfg *config.Config) *GatewayHandler {
	return &GatewayHandler{
		gatewayService: gatewayService,
		cfg:            cfg,
	}
}

// GeminiV1BetaModels proxies Gemini native REST endpoints like:
// POST /v1beta/models/{model}:generateContent
// POST /v1beta/models/{model}:streamGenerateContent?alt=sse
func (h *GatewayHandler) GeminiV1BetaModels(c *gin.Context) {
	modelName, action, err := parseGeminiModelAction(strings.TrimPrefix(c.Param("modelAction"), "/"))
	if err != nil {
		googleError(c, http.StatusNotFound, err.Error())
		return
	}

	var stream bool
	switch action {
	case "generateContent":
		stream = false
	case "streamGenerateContent":
		stream = true
	default:
		googleError(c, http.StatusNotFound, "Unsupported action: "+action)
		return
	}

	body, ok := h.readBody(c)
	if !ok {
		return
	}
	if !validateContents(c, body) {
		return
	}

	// 供访问日志中间件读取
	ctx := context.WithValue(c.Request.Context(), ctxkey.Model, modelName)
	c.Request = c.Request.WithContext(ctx)

	if stream {
		h.serveStream(c, modelName, body, true)
		return
	}
	h.serveUnary(c, modelName, body)
}

// AdminChatStream 管理端聊天：同一引擎，逐帧透传（不拆信封）。
// POST /admin/chat/stream
func (h *GatewayHandler) AdminChatStream(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}
	if !validateContents(c, body) {
		return
	}

	modelName := strings.TrimSpace(gjson.GetBytes(body, "model").String())
	ctx := context.WithValue(c.Request.Context(), ctxkey.Model, modelName)
	c.Request = c.Request.WithContext(ctx)

	h.serveStream(c, modelName, body, false)
}

func (h *GatewayHandler) serveUnary(c *gin.Context, modelName string, body []byte) {
	result, err := h.gatewayService.Generate(c.Request.Context(), modelName, body)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}

	ctx := context.WithValue(c.Request.Context(), ctxkey.AccountEmail, result.AccountEmail)
	c.Request = c.Request.WithContext(ctx)
	c.Data(http.StatusOK, "application/json", result.Body)
}

func (h *GatewayHandler) serveStream(c *gin.Context, modelName string, body []byte, unwrap bool) {
	if err := h.gatewayService.StreamGenerate(c, modelName, body, unwrap); err != nil {
		// 响应头已提交时引擎不返回错误，这里一定还能写状态码
		h.writeEngineError(c, err)
	}
}

// writeEngineError 把调度引擎错误映射为对外响应。
// 轮换耗尽使用固定 503 文案；内部细节只进服务端日志。
func (h *GatewayHandler) writeEngineError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrAccountsExhausted) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "All Gemini accounts exhausted or failed."})
		return
	}

	var appErr *infraerrors.ApplicationError
	if errors.As(err, &appErr) {
		switch infraerrors.HTTPStatus(appErr) {
		case http.StatusBadRequest:
			googleError(c, http.StatusBadRequest, appErr.Message)
			return
		case http.StatusNotFound:
			googleError(c, http.StatusNotFound, appErr.Message)
			return
		case http.StatusServiceUnavailable:
			googleError(c, http.StatusServiceUnavailable, appErr.Message)
			return
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// 客户端已断开，写响应也无人收
		c.Abort()
		return
	}
	googleError(c, http.StatusInternalServerError, "Internal server error")
}

// readBody 读取请求体，空体和超限分别报 400/413。
func (h *GatewayHandler) readBody(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.Gateway.MaxBodyBytes())
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			googleError(c, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds %d bytes limit", maxErr.Limit))
			return nil, false
		}
		googleError(c, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}
	if len(body) == 0 {
		googleError(c, http.StatusBadRequest, "Request body is empty")
		return nil, false
	}
	return body, true
}

// validateContents 要求 contents 存在且为非空数组。
func validateContents(c *gin.Context, body []byte) bool {
	contents := gjson.GetBytes(body, "contents")
	if !contents.Exists() {
		googleError(c, http.StatusBadRequest, "Request must include contents")
		return false
	}
	if !contents.IsArray() || len(contents.Array()) == 0 {
		googleError(c, http.StatusBadRequest, "contents must be a non-empty array")
		return false
	}
	return true
}

func parseGeminiModelAction(rest string) (model string, action string, err error) {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", "", &pathParseError{"missing path"}
	}

	// Standard: {model}:{action}
	if i := strings.Index(rest, ":"); i > 0 && i < len(rest)-1 {
		return rest[:i], rest[i+1:], nil
	}

	// Fallback: {model}/{action}
	if i := strings.Index(rest, "/"); i > 0 && i < len(rest)-1 {
		return rest[:i], rest[i+1:], nil
	}

	return "", "", &pathParseError{"invalid model action path"}
}

type pathParseError struct{ msg string }

func (e *pathParseError) Error() string { return e.msg }

func googleError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    status,
			"message": message,
			"status":  googleapi.HTTPStatusToGoogleStatus(status),
		},
	})
}
