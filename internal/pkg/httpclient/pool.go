// Package httpclient 提供共享 HTTP 客户端池
//
// 相同配置复用同一 http.Client 实例，复用 Transport 连接池，
// 减少 TCP/TLS 握手开销。
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"sync"
	"time"
)

// Transport 连接池默认配置
const (
	defaultMaxIdleConns        = 100              // 最大空闲连接数
	defaultMaxIdleConnsPerHost = 10               // 每个主机最大空闲连接数
	defaultIdleConnTimeout     = 90 * time.Second // 空闲连接超时时间（建议小于上游 LB 超时）
)

// Options 定义共享 HTTP 客户端的构建参数
type Options struct {
	Timeout               time.Duration // 请求总超时时间（0 表示不限制，流式请求用 context 控制）
	ResponseHeaderTimeout time.Duration // 等待响应头超时时间

	// 可选的连接池参数（不设置则使用默认值）
	MaxIdleConns        int // 最大空闲连接总数（默认 100）
	MaxIdleConnsPerHost int // 每主机最大空闲连接（默认 10）
	MaxConnsPerHost     int // 每主机最大连接数（默认 0 无限制）
}

// sharedClients 存储按配置参数缓存的 http.Client 实例
var sharedClients sync.Map

// GetClient 返回共享的 HTTP 客户端实例
// 相同配置复用同一客户端，避免重复创建 Transport
func GetClient(opts Options) *http.Client {
	key := buildClientKey(opts)
	if cached, ok := sharedClients.Load(key); ok {
		if client, ok := cached.(*http.Client); ok {
			return client
		}
	}

	client := buildClient(opts)
	actual, _ := sharedClients.LoadOrStore(key, client)
	if c, ok := actual.(*http.Client); ok {
		return c
	}
	return client
}

func buildClient(opts Options) *http.Client {
	maxIdleConns := opts.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = defaultMaxIdleConns
	}
	maxIdleConnsPerHost := opts.MaxIdleConnsPerHost
	if maxIdleConnsPerHost <= 0 {
		maxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	}

	transport := &http.Transport{
		MaxIdleConns:          maxIdleConns,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		MaxConnsPerHost:       opts.MaxConnsPerHost, // 0 表示无限制
		IdleConnTimeout:       defaultIdleConnTimeout,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
	}
}

func buildClientKey(opts Options) string {
	return fmt.Sprintf("%s|%s|%d|%d|%d",
		opts.Timeout.String(),
		opts.ResponseHeaderTimeout.String(),
		opts.MaxIdleConns,
		opts.MaxIdleConnsPerHost,
		opts.MaxConnsPerHost,
	)
}

// NewJSONRequest 构造 JSON POST 请求并显式设置 Content-Length。
// Google OAuth 端点不接受 chunked transfer encoding，缺失 Content-Length
// 会导致请求被上游挂起，所以统一在这里填充。
func NewJSONRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// NewFormRequest 构造 form-urlencoded POST 请求，同样显式设置 Content-Length。
func NewFormRequest(ctx context.Context, url string, form neturl.Values) (*http.Request, error) {
	encoded := form.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.ContentLength = int64(len(encoded))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}
