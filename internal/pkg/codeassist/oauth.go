package codeassist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/openclaw/geminipool/internal/pkg/httpclient"
)

// TokenResponse OAuth token 端点的刷新响应。
// refresh_token 可能缺省，调用方需回退沿用旧值。
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ExpiresAt 将相对过期秒数换算为绝对时刻。
func (t *TokenResponse) ExpiresAt(now time.Time) time.Time {
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// OAuthClient 负责访问令牌的刷新。
// 走 form-urlencoded 并显式携带 Content-Length（Google OAuth 端点对
// chunked transfer 不友好，见 httpclient 包注释）。
type OAuthClient struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewOAuthClient 创建 OAuth 客户端。
func NewOAuthClient(tokenURL, clientID, clientSecret string, timeout time.Duration) *OAuthClient {
	return &OAuthClient{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpclient.GetClient(httpclient.Options{Timeout: timeout}),
	}
}

// RefreshToken 用 refresh token 换取新的访问令牌。
func (c *OAuthClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")

	req, err := httpclient.NewFormRequest(ctx, c.tokenURL, form)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token refresh request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		// 注意：body 可能含敏感内容，只透出状态码与截断后的错误描述
		return nil, fmt.Errorf("token refresh failed: status=%d body=%s", resp.StatusCode, truncate(string(body), 200))
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("decode token response failed: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token refresh failed: empty access_token in response")
	}
	return &token, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
