package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openclaw/geminipool/internal/config"
	"github.com/openclaw/geminipool/internal/pkg/codeassist"
	infraerrors "github.com/openclaw/geminipool/internal/pkg/errors"
	"github.com/openclaw/geminipool/internal/service"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// emptyAccountRepo 空账号池，让引擎立刻耗尽。
type emptyAccountRepo struct{}

func (emptyAccountRepo) GetActiveAccounts(ctx context.Context) ([]*service.Account, error) {
	return nil, nil
}
func (emptyAccountRepo) UpdateAccount(ctx context.Context, email string, update *service.AccountUpdate) error {
	return nil
}
func (emptyAccountRepo) IncrementAccountStats(ctx context.Context, email string, delta service.AccountStatsDelta) error {
	return nil
}
func (emptyAccountRepo) ReactivateExhaustedAccounts(ctx context.Context, cooldown time.Duration) (int64, error) {
	return 0, nil
}

type noopLogRepo struct{}

func (noopLogRepo) AddRequestLog(ctx context.Context, entry *service.RequestLogEntry) error {
	return nil
}

func testHandlerConfig() *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{
			MaxAttempts:               1,
			BaseRetryDelaySeconds:     1,
			MaxRetryDelaySeconds:      1,
			RateLimitMax:              60,
			RateLimitWindowSeconds:    60,
			ConcurrencyCap:            3,
			IdentityCacheTTLSeconds:   5,
			TokenRefreshMarginSeconds: 300,
			ProbeMarginSeconds:        120,
			MinProbeIntervalSeconds:   30,
			DefaultModel:              "gemini-2.5-flash",
			FallbackModel:             "gemini-2.5-pro",
			MaxBodySizeMB:             1,
		},
		Upstream: config.UpstreamConfig{
			BaseURL:              "https://cloudcode-pa.googleapis.com",
			UnaryTimeoutSeconds:  5,
			StreamTimeoutSeconds: 5,
		},
	}
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	cfg := testHandlerConfig()
	repo := emptyAccountRepo{}
	oauth := codeassist.NewOAuthClient("http://unused", "cid", "secret", time.Second)
	identity := service.NewIdentityService(repo, oauth, 5*time.Second, 5*time.Minute)
	gateway := service.NewGatewayService(
		identity,
		service.ProvideCooldownRegistry(cfg),
		service.ProvideRateLimiter(cfg),
		service.ProvideConcurrencyGate(cfg),
		service.ProvideBackoffPolicy(cfg),
		repo,
		service.NewRequestLogService(noopLogRepo{}),
		nil, // 空池下引擎不会触达上游
		cfg,
	)

	h := NewGatewayHandler(gateway, cfg)
	r := gin.New()
	r.POST("/v1beta/models/*modelAction", h.GeminiV1BetaModels)
	r.POST("/admin/chat/stream", h.AdminChatStream)
	return r
}

func doPost(t *testing.T, r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	r.ServeHTTP(w, req)
	return w
}

const validBody = `{"contents":[{"parts":[{"text":"hi"}]}]}`

func TestGeminiV1BetaModelsInvalidPath(t *testing.T) {
	r := newTestRouter(t)

	w := doPost(t, r, "/v1beta/models/gemini-2.5-flash", validBody)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NOT_FOUND", gjson.Get(w.Body.String(), "error.status").String())
}

func TestGeminiV1BetaModelsUnsupportedAction(t *testing.T) {
	r := newTestRouter(t)

	w := doPost(t, r, "/v1beta/models/gemini-2.5-flash:countTokens", validBody)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, gjson.Get(w.Body.String(), "error.message").String(), "countTokens")
}

func TestGeminiV1BetaModelsEmptyBody(t *testing.T) {
	r := newTestRouter(t)

	w := doPost(t, r, "/v1beta/models/gemini-2.5-flash:generateContent", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, gjson.Get(w.Body.String(), "error.message").String(), "empty")
}

func TestGeminiV1BetaModelsMissingContents(t *testing.T) {
	r := newTestRouter(t)

	w := doPost(t, r, "/v1beta/models/gemini-2.5-flash:generateContent", `{"model":"x"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "Request must include contents",
		gjson.Get(w.Body.String(), "error.message").String())
	require.Equal(t, "INVALID_ARGUMENT", gjson.Get(w.Body.String(), "error.status").String())
}

func TestGeminiV1BetaModelsContentsNotArray(t *testing.T) {
	r := newTestRouter(t)

	for _, body := range []string{`{"contents":{}}`, `{"contents":[]}`, `{"contents":"hi"}`} {
		w := doPost(t, r, "/v1beta/models/gemini-2.5-flash:generateContent", body)
		require.Equal(t, http.StatusBadRequest, w.Code, body)
		require.Equal(t, "contents must be a non-empty array",
			gjson.Get(w.Body.String(), "error.message").String())
	}
}

func TestGeminiV1BetaModelsBodyTooLarge(t *testing.T) {
	r := newTestRouter(t)

	big := `{"contents":[{"parts":[{"text":"` + strings.Repeat("a", 2<<20) + `"}]}]}`
	w := doPost(t, r, "/v1beta/models/gemini-2.5-flash:generateContent", big)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

// 空池：稳定的 503 文案。
func TestGeminiV1BetaModelsExhaustedPool(t *testing.T) {
	r := newTestRouter(t)

	w := doPost(t, r, "/v1beta/models/gemini-2.5-flash:generateContent", validBody)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.JSONEq(t, `{"error":"All Gemini accounts exhausted or failed."}`, w.Body.String())
}

// {model}/{action} 形式同样被接受（不是 404）。
func TestGeminiV1BetaModelsSlashForm(t *testing.T) {
	r := newTestRouter(t)

	w := doPost(t, r, "/v1beta/models/gemini-2.5-flash/generateContent", validBody)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminChatStreamValidation(t *testing.T) {
	r := newTestRouter(t)

	w := doPost(t, r, "/admin/chat/stream", `{"model":"gemini-2.5-flash"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doPost(t, r, "/admin/chat/stream", `{"model":"gemini-2.5-flash","contents":[{"parts":[{"text":"hi"}]}]}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// 引擎报模型不存在时对外是 Google 风格的 404。
func TestWriteEngineErrorModelNotFound(t *testing.T) {
	h := NewGatewayHandler(nil, testHandlerConfig())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	h.writeEngineError(c, infraerrors.NotFound("MODEL_NOT_FOUND", "Requested model is not found"))

	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NOT_FOUND", gjson.Get(w.Body.String(), "error.status").String())
	require.Equal(t, "Requested model is not found", gjson.Get(w.Body.String(), "error.message").String())
}

func TestParseGeminiModelAction(t *testing.T) {
	model, action, err := parseGeminiModelAction("gemini-2.5-flash:generateContent")
	require.NoError(t, err)
	require.Equal(t, "gemini-2.5-flash", model)
	require.Equal(t, "generateContent", action)

	model, action, err = parseGeminiModelAction("gemini-2.5-flash/streamGenerateContent")
	require.NoError(t, err)
	require.Equal(t, "gemini-2.5-flash", model)
	require.Equal(t, "streamGenerateContent", action)

	for _, bad := range []string{"", ":generateContent", "model:", "model"} {
		_, _, err := parseGeminiModelAction(bad)
		require.Error(t, err, bad)
	}
}
