package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openclaw/geminipool/internal/config"
	"github.com/openclaw/geminipool/internal/pkg/codeassist"
	infraerrors "github.com/openclaw/geminipool/internal/pkg/errors"
)

// ErrAccountsExhausted 轮换循环在所有账号与所有轮次后仍未成功。
// 错误文案对客户端保持稳定。
var ErrAccountsExhausted = infraerrors.ServiceUnavailable(
	"ACCOUNTS_EXHAUSTED", "All Gemini accounts exhausted or failed.")

// upstreamBodyLimit 读取上游一元/错误响应体的上限
const upstreamBodyLimit = 8 << 20

// legacyProModel 请求中常见但上游不原生支持的型号，进入引擎前改写为回退模型。
const legacyProModel = "gemini-3.1-pro-preview"

// GenerateResult 一元请求的成功结果。
type GenerateResult struct {
	Body         []byte
	Model        string
	AccountEmail string
	TotalTokens  int64
}

// GatewayService 请求调度引擎（轮换循环）。
// 一元与流式共用同一套骨架：选账号 → 冷却/限流检查 → 刷新令牌 →
// 并发闸门内调用上游 → 分类失败并记冷却 → 轮次间退避。
type GatewayService struct {
	identity    *IdentityService
	cooldowns   *CooldownRegistry
	rateLimiter *RateLimiter
	gate        *ConcurrencyGate
	backoff     *BackoffPolicy
	accountRepo AccountRepository
	requestLogs *RequestLogService
	upstream    HTTPUpstream
	cfg         *config.Config

	// sleep 可替换，测试里免等待
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewGatewayService 创建调度引擎。
func NewGatewayService(
	identity *IdentityService,
	cooldowns *CooldownRegistry,
	rateLimiter *RateLimiter,
	gate *ConcurrencyGate,
	backoff *BackoffPolicy,
	accountRepo AccountRepository,
	requestLogs *RequestLogService,
	upstream HTTPUpstream,
	cfg *config.Config,
) *GatewayService {
	return &GatewayService{
		identity:    identity,
		cooldowns:   cooldowns,
		rateLimiter: rateLimiter,
		gate:        gate,
		backoff:     backoff,
		accountRepo: accountRepo,
		requestLogs: requestLogs,
		upstream:    upstream,
		cfg:         cfg,
		sleep:       sleepWithContext,
	}
}

// Cooldowns 暴露冷却表，供状态页与管理操作使用。
func (s *GatewayService) Cooldowns() *CooldownRegistry {
	return s.cooldowns
}

// resolveModel 决定真正发往上游的模型名。
func (s *GatewayService) resolveModel(requested string) string {
	requested = strings.TrimSpace(requested)
	switch requested {
	case "":
		return s.cfg.Gateway.DefaultModel
	case legacyProModel:
		return s.cfg.Gateway.FallbackModel
	default:
		return requested
	}
}

// nextFallbackModel 返回 429 后尝试的下一个模型；链条尽头返回空串。
func (s *GatewayService) nextFallbackModel(model string) string {
	switch model {
	case s.cfg.Gateway.DefaultModel:
		return s.cfg.Gateway.FallbackModel
	case s.cfg.Gateway.FallbackModel:
		return s.cfg.Gateway.FallbackModelV2
	default:
		return ""
	}
}

// Generate 一元生成。返回拆封后的 response 对象。
func (s *GatewayService) Generate(ctx context.Context, requestedModel string, inbound []byte) (*GenerateResult, error) {
	model := s.resolveModel(requestedModel)

	for attempt := 0; attempt < s.cfg.Gateway.MaxAttempts; attempt++ {
		accounts, err := s.identity.GetReadyAccounts(ctx)
		if err != nil {
			return nil, infraerrors.ServiceUnavailable("ACCOUNTS_UNAVAILABLE", "failed to load accounts").WithCause(err)
		}
		if len(accounts) == 0 {
			return nil, ErrAccountsExhausted
		}

		var lastHeader http.Header
		for i, account := range accounts {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !s.admit(ctx, account, i) {
				continue
			}

			token, err := s.identity.EnsureFreshToken(ctx, account)
			if err != nil {
				s.handleCallError(ctx, account, err)
				continue
			}

			result, header, fatal := s.tryUnary(ctx, account, token, model, inbound)
			if result != nil {
				return result, nil
			}
			if header != nil {
				lastHeader = header
			}
			if fatal != nil {
				// 当前请求无法通过换账号解决（格式错误、模型不存在），提前终止
				return nil, fatal
			}
		}

		if attempt < s.cfg.Gateway.MaxAttempts-1 {
			delay := s.backoff.Compute(attempt)
			if lastHeader != nil {
				delay = s.backoff.ComputeWithRetryAfter(attempt, lastHeader)
			}
			if !s.sleep(ctx, delay) {
				return nil, ctx.Err()
			}
		}
	}
	return nil, ErrAccountsExhausted
}

// admit 冷却与限流前置检查；i>0 时加入账号间错峰延迟。
// 错峰等待可被 ctx 取消，取消时放弃该账号。
func (s *GatewayService) admit(ctx context.Context, account *Account, i int) bool {
	if s.cooldowns.InCooldown(account.Email) {
		if !s.cooldowns.ShouldProbe(account.Email) {
			return false
		}
		s.cooldowns.RecordProbe(account.Email)
		slog.Info("identity_probe", "email", account.Email)
	}
	if budget := s.rateLimiter.Consume(account.Email); !budget.Allowed {
		slog.Debug("identity_rate_limited", "email", account.Email, "retry_after", budget.RetryAfter.String())
		return false
	}
	if i > 0 && !s.sleep(ctx, s.cfg.Gateway.StaggerDelay()) {
		return false
	}
	return true
}

// tryUnary 对单个账号执行一次一元调用（含 429 模型回退）。
// 返回值：result 非空表示成功；fatal 非空表示请求本身无效，
// 轮换无济于事，应立即以该错误失败；两者皆空则继续下一个账号。
func (s *GatewayService) tryUnary(ctx context.Context, account *Account, token, model string, inbound []byte) (*GenerateResult, http.Header, error) {
	status, header, body, err := s.callUnary(ctx, account, token, model, inbound)
	if err != nil {
		s.handleCallError(ctx, account, err)
		return nil, nil, nil
	}

	if status == http.StatusOK && codeassist.HasContent(body) {
		return s.finishUnarySuccess(ctx, account, model, inbound, body), header, nil
	}

	if status == http.StatusTooManyRequests {
		// 模型回退链只走一步；回退成功时原 429 刻意不计冷却
		if fallback := s.nextFallbackModel(model); fallback != "" {
			fbStatus, _, fbBody, fbErr := s.callUnary(ctx, account, token, fallback, inbound)
			if fbErr == nil && fbStatus == http.StatusOK && codeassist.HasContent(fbBody) {
				slog.Info("model_fallback_hit", "email", account.Email, "from", model, "to", fallback)
				return s.finishUnarySuccess(ctx, account, fallback, inbound, fbBody), header, nil
			}
		}
		category := ClassifyStatusError(status, string(body))
		s.markCooldown(ctx, account.Email, category)
		s.recordFailure(ctx, account, model, inbound, body)
		return nil, header, nil
	}

	// 其他非 2xx：计失败但不冷却，后续轮次仍可尝试该账号
	slog.Warn("upstream_call_failed",
		"email", account.Email, "model", model, "status", status,
		"body", truncateRunes(string(body), 200))
	s.recordFailure(ctx, account, model, inbound, body)

	category := ClassifyStatusError(status, string(body))
	if strategy := StrategyFor(category); !strategy.ShouldRetry {
		return nil, header, requestRejectedError(category)
	}
	return nil, header, nil
}

// requestRejectedError 把请求自身的问题映射为对外错误：
// 模型不存在报 404，其余按格式错误报 400。
func requestRejectedError(category ErrorCategory) error {
	if category == CategoryModelNotFound {
		return infraerrors.NotFound("MODEL_NOT_FOUND", "Requested model is not found")
	}
	return infraerrors.BadRequest("INVALID_REQUEST", "upstream rejected request format")
}

// callUnary 在并发闸门内完成一次上游调用并读回响应体。
func (s *GatewayService) callUnary(ctx context.Context, account *Account, token, model string, inbound []byte) (int, http.Header, []byte, error) {
	payload, err := codeassist.WrapGenerateRequest(model, account.ProjectID, inbound)
	if err != nil {
		return 0, nil, nil, err
	}

	var status int
	var header http.Header
	var body []byte
	err = s.gate.Run(ctx, func() error {
		req, err := codeassist.NewAPIRequest(ctx, s.cfg.Upstream.BaseURL, codeassist.ActionGenerate, token, payload)
		if err != nil {
			return err
		}
		resp, err := s.upstream.DoUnary(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		status = resp.StatusCode
		header = resp.Header
		body, err = io.ReadAll(io.LimitReader(resp.Body, upstreamBodyLimit))
		return err
	})
	if err != nil {
		return 0, nil, nil, err
	}
	return status, header, body, nil
}

// finishUnarySuccess 成功收尾：清冷却、计数、记日志、拆信封。
func (s *GatewayService) finishUnarySuccess(ctx context.Context, account *Account, model string, inbound, body []byte) *GenerateResult {
	unwrapped := codeassist.UnwrapResponse(body)
	tokens, _ := codeassist.ExtractTotalTokenCount(body)

	s.cooldowns.MarkSuccess(account.Email)
	s.identity.TouchLastUsed(ctx, account.Email)
	if err := s.accountRepo.IncrementAccountStats(ctx, account.Email, AccountStatsDelta{Successful: 1, Tokens: tokens}); err != nil {
		slog.Warn("account_stats_update_failed", "email", account.Email, "error", err.Error())
	}
	s.requestLogs.Record(ctx, RecordInput{
		Account:      account,
		Model:        model,
		InboundBody:  inbound,
		ResponseText: codeassist.ExtractText(unwrapped),
		TotalTokens:  tokens,
		Success:      true,
	})

	return &GenerateResult{
		Body:         unwrapped,
		Model:        model,
		AccountEmail: account.Email,
		TotalTokens:  tokens,
	}
}

// markCooldown 记内存冷却。quota/auth/billing 属于持久耗尽：
// 同步落库 active=false 与 exhausted_at 并失效账号缓存，
// 恢复统一走后台重激活任务。
func (s *GatewayService) markCooldown(ctx context.Context, email string, category ErrorCategory) {
	s.cooldowns.MarkCooldown(email, category)

	switch category {
	case CategoryQuota, CategoryAuth, CategoryBilling:
	default:
		return
	}

	now := time.Now()
	inactive := false
	update := &AccountUpdate{Active: &inactive, ExhaustedAt: &now}
	if err := s.accountRepo.UpdateAccount(ctx, email, update); err != nil {
		slog.Warn("account_exhaustion_persist_failed", "email", email, "error", err.Error())
		return
	}
	s.identity.Invalidate()
	slog.Info("account_exhausted", "email", email, "category", string(category))
}

// handleCallError 传输层异常：按错误文本分类并记冷却。
func (s *GatewayService) handleCallError(ctx context.Context, account *Account, err error) {
	category := ClassifyError(err.Error())
	s.markCooldown(ctx, account.Email, category)
	if statErr := s.accountRepo.IncrementAccountStats(ctx, account.Email, AccountStatsDelta{Failed: 1}); statErr != nil {
		slog.Warn("account_stats_update_failed", "email", account.Email, "error", statErr.Error())
	}
	slog.Warn("upstream_call_error",
		"email", account.Email, "category", string(category), "error", err.Error())
}

func (s *GatewayService) recordFailure(ctx context.Context, account *Account, model string, inbound, body []byte) {
	if err := s.accountRepo.IncrementAccountStats(ctx, account.Email, AccountStatsDelta{Failed: 1}); err != nil {
		slog.Warn("account_stats_update_failed", "email", account.Email, "error", err.Error())
	}
	s.requestLogs.Record(ctx, RecordInput{
		Account:      account,
		Model:        model,
		InboundBody:  inbound,
		ResponseText: truncateRunes(string(body), requestLogResponseLimit),
		Success:      false,
	})
}

// ---------------------------------------------------------------------------
// 流式路径
// ---------------------------------------------------------------------------

// streamPipeResult C8 转发一条上游 SSE 流的结果。
type streamPipeResult struct {
	headersSent bool
	totalTokens int64
	frames      int
}

// StreamGenerate 流式生成。unwrap=true 时每帧拆信封（公开端点），
// false 时逐帧透传（管理端聊天）。响应头在收到首帧前才提交，
// 提交之后的任何失败只能干净地结束响应，不再轮换。
func (s *GatewayService) StreamGenerate(c *gin.Context, requestedModel string, inbound []byte, unwrap bool) error {
	ctx := c.Request.Context()
	model := s.resolveModel(requestedModel)

	for attempt := 0; attempt < s.cfg.Gateway.MaxAttempts; attempt++ {
		accounts, err := s.identity.GetReadyAccounts(ctx)
		if err != nil {
			return infraerrors.ServiceUnavailable("ACCOUNTS_UNAVAILABLE", "failed to load accounts").WithCause(err)
		}
		if len(accounts) == 0 {
			return ErrAccountsExhausted
		}

		var lastHeader http.Header
		for i, account := range accounts {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !s.admit(ctx, account, i) {
				continue
			}

			token, err := s.identity.EnsureFreshToken(ctx, account)
			if err != nil {
				s.handleCallError(ctx, account, err)
				continue
			}

			done, header := s.tryStream(c, account, token, model, inbound, unwrap)
			if done {
				return nil
			}
			if header != nil {
				lastHeader = header
			}
		}

		if attempt < s.cfg.Gateway.MaxAttempts-1 {
			delay := s.backoff.Compute(attempt)
			if lastHeader != nil {
				delay = s.backoff.ComputeWithRetryAfter(attempt, lastHeader)
			}
			if !s.sleep(ctx, delay) {
				return ctx.Err()
			}
		}
	}
	return ErrAccountsExhausted
}

// tryStream 对单个账号执行一次流式调用。done=true 表示请求已终结
// （成功完成，或响应头已提交后失败只能收尾）。
func (s *GatewayService) tryStream(c *gin.Context, account *Account, token, model string, inbound []byte, unwrap bool) (bool, http.Header) {
	ctx := c.Request.Context()
	streamCtx, cancel := context.WithTimeout(ctx, s.cfg.Upstream.StreamTimeout())
	defer cancel()

	resp, err := s.openStream(streamCtx, account, token, model, inbound)
	if err != nil {
		s.handleCallError(ctx, account, err)
		return false, nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		body429 := drainBody(resp)
		header := resp.Header

		// 头未提交前还有机会在同一账号上走模型回退
		if fallback := s.nextFallbackModel(model); fallback != "" {
			fbResp, fbErr := s.openStream(streamCtx, account, token, fallback, inbound)
			if fbErr == nil && fbResp.StatusCode == http.StatusOK {
				slog.Info("model_fallback_hit", "email", account.Email, "from", model, "to", fallback)
				return s.consumeStream(c, account, fallback, inbound, fbResp, unwrap), header
			}
			if fbResp != nil {
				drainBodyDiscard(fbResp)
			}
		}

		category := ClassifyStatusError(resp.StatusCode, body429)
		s.markCooldown(ctx, account.Email, category)
		s.recordFailure(ctx, account, model, inbound, []byte(body429))
		return false, header
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := drainBody(resp)
		slog.Warn("upstream_stream_failed",
			"email", account.Email, "model", model, "status", resp.StatusCode,
			"body", truncateRunes(body, 200))
		s.recordFailure(ctx, account, model, inbound, []byte(body))
		return false, resp.Header
	}

	return s.consumeStream(c, account, model, inbound, resp, unwrap), resp.Header
}

// openStream 在并发闸门内建立流式连接；闸门只覆盖建连阶段。
func (s *GatewayService) openStream(ctx context.Context, account *Account, token, model string, inbound []byte) (*http.Response, error) {
	payload, err := codeassist.WrapGenerateRequest(model, account.ProjectID, inbound)
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	err = s.gate.Run(ctx, func() error {
		req, err := codeassist.NewAPIRequest(ctx, s.cfg.Upstream.BaseURL, codeassist.ActionStreamGenerate, token, payload)
		if err != nil {
			return err
		}
		resp, err = s.upstream.DoStream(req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// consumeStream 把上游 2xx 流转发给客户端并收尾。
// 返回 true 表示请求已终结（不允许再轮换）。
func (s *GatewayService) consumeStream(c *gin.Context, account *Account, model string, inbound []byte, resp *http.Response, unwrap bool) bool {
	ctx := c.Request.Context()
	result, pipeErr := s.pipeStream(c, resp, unwrap)

	if pipeErr != nil && !result.headersSent {
		// 首帧前失败：丢弃残流，照常回退到下一个账号
		s.handleCallError(ctx, account, pipeErr)
		return false
	}

	if pipeErr != nil {
		// 头已提交：只能干净结束，不发 [DONE]，不再尝试
		slog.Warn("stream_aborted_after_commit",
			"email", account.Email, "model", model, "frames", result.frames, "error", pipeErr.Error())
		if result.totalTokens > 0 {
			if err := s.accountRepo.IncrementAccountStats(ctx, account.Email, AccountStatsDelta{Tokens: result.totalTokens}); err != nil {
				slog.Warn("account_stats_update_failed", "email", account.Email, "error", err.Error())
			}
		}
		s.requestLogs.Record(ctx, RecordInput{
			Account:     account,
			Model:       model,
			InboundBody: inbound,
			TotalTokens: result.totalTokens,
			Success:     false,
		})
		return true
	}

	s.cooldowns.MarkSuccess(account.Email)
	s.identity.TouchLastUsed(ctx, account.Email)
	if err := s.accountRepo.IncrementAccountStats(ctx, account.Email, AccountStatsDelta{Successful: 1, Tokens: result.totalTokens}); err != nil {
		slog.Warn("account_stats_update_failed", "email", account.Email, "error", err.Error())
	}
	s.requestLogs.Record(ctx, RecordInput{
		Account:     account,
		Model:       model,
		InboundBody: inbound,
		TotalTokens: result.totalTokens,
		Success:     true,
	})
	return true
}

// pipeStream C8：解析上游 SSE、按需拆信封、向下游转发。
// 响应头在写首帧前才提交；流正常结束时补一帧 data: [DONE]。
func (s *GatewayService) pipeStream(c *gin.Context, resp *http.Response, unwrap bool) (*streamPipeResult, error) {
	defer func() { _ = resp.Body.Close() }()

	result := &streamPipeResult{}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return result, fmt.Errorf("streaming not supported by writer")
	}

	commitHeaders := func() {
		if result.headersSent {
			return
		}
		c.Status(http.StatusOK)
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		result.headersSent = true
	}

	buf := getSSEScannerBuf64K()
	defer putSSEScannerBuf64K(buf)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(buf[:], upstreamBodyLimit)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data:") {
			// SSE 事件边界空行与注释行不转发，统一按帧重组
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		frame := []byte(payload)
		if tokens, ok := codeassist.ExtractTotalTokenCount(frame); ok {
			// 最后一个携带 totalTokenCount 的帧胜出
			result.totalTokens = tokens
		}
		if unwrap {
			frame = codeassist.UnwrapStreamFrame(frame)
		}

		commitHeaders()
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", frame); err != nil {
			return result, err
		}
		flusher.Flush()
		result.frames++
	}

	if err := scanner.Err(); err != nil {
		return result, err
	}

	commitHeaders()
	if _, err := io.WriteString(c.Writer, "data: [DONE]\n\n"); err != nil {
		return result, err
	}
	flusher.Flush()
	return result, nil
}

// drainBody 读出并关闭响应体（限长），返回文本。
func drainBody(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, upstreamBodyLimit))
	_ = resp.Body.Close()
	return string(body)
}

// drainBodyDiscard 丢弃残留流并关闭。
func drainBodyDiscard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, upstreamBodyLimit))
	_ = resp.Body.Close()
}

// sleepWithContext 可被 ctx 中断的 sleep；返回 false 表示被取消。
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
