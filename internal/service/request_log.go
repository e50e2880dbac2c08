package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/openclaw/geminipool/internal/util/logredact"
	"github.com/tidwall/gjson"
)

// 请求日志截断上限（按 rune 计）
const (
	requestLogPromptLimit   = 500
	requestLogResponseLimit = 1000
)

// RequestLogEntry 审计用请求记录，仅供展示，控制面不读取。
type RequestLogEntry struct {
	ID                string
	AccountEmail      string
	Model             string
	Prompt            string
	Response          string
	SystemInstruction string
	TotalTokens       int64
	Success           bool
	CreatedAt         time.Time
}

// RequestLogRepository 请求日志持久化契约，写入为尽力而为。
type RequestLogRepository interface {
	AddRequestLog(ctx context.Context, entry *RequestLogEntry) error
}

// RequestLogService 负责请求日志的脱敏、截断与异步写入。
type RequestLogService struct {
	repo RequestLogRepository
}

// NewRequestLogService 创建请求日志服务。
func NewRequestLogService(repo RequestLogRepository) *RequestLogService {
	return &RequestLogService{repo: repo}
}

// RecordInput 一次请求日志的原始素材。
type RecordInput struct {
	Account      *Account
	Model        string
	InboundBody  []byte
	ResponseText string
	TotalTokens  int64
	Success      bool
}

// Record 写一条请求日志。脱敏规则：
// 账号的 access/refresh token 即使被用户写进 prompt 也会被替换掉。
// 写入失败只记日志，绝不影响请求本身。
func (s *RequestLogService) Record(ctx context.Context, in RecordInput) {
	if s == nil || s.repo == nil || in.Account == nil {
		return
	}

	secrets := []string{in.Account.AccessToken, in.Account.RefreshToken}
	entry := &RequestLogEntry{
		ID:                uuid.NewString(),
		AccountEmail:      in.Account.Email,
		Model:             in.Model,
		Prompt:            truncateRunes(logredact.RedactSubstrings(extractPromptText(in.InboundBody), secrets), requestLogPromptLimit),
		Response:          truncateRunes(logredact.RedactSubstrings(in.ResponseText, secrets), requestLogResponseLimit),
		SystemInstruction: truncateRunes(logredact.RedactSubstrings(extractSystemInstruction(in.InboundBody), secrets), requestLogPromptLimit),
		TotalTokens:       in.TotalTokens,
		Success:           in.Success,
		CreatedAt:         time.Now(),
	}

	// 请求路径上不等待日志落库；原请求的 ctx 可能已取消，这里用独立超时
	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.AddRequestLog(writeCtx, entry); err != nil {
			slog.Warn("request_log_write_failed", "email", entry.AccountEmail, "error", err.Error())
		}
	}()
}

// extractPromptText 拼接 contents[*].parts[*].text 作为 prompt 摘要。
func extractPromptText(body []byte) string {
	var text string
	for _, content := range gjson.GetBytes(body, "contents").Array() {
		for _, part := range content.Get("parts").Array() {
			if t := part.Get("text"); t.Exists() {
				if text != "" {
					text += "\n"
				}
				text += t.String()
			}
		}
	}
	return text
}

// extractSystemInstruction 取 systemInstruction 的文本部分。
func extractSystemInstruction(body []byte) string {
	var text string
	for _, part := range gjson.GetBytes(body, "systemInstruction.parts").Array() {
		if t := part.Get("text"); t.Exists() {
			if text != "" {
				text += "\n"
			}
			text += t.String()
		}
	}
	return text
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
