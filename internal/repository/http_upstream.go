package repository

import (
	"net/http"
	"time"

	"github.com/openclaw/geminipool/internal/config"
	"github.com/openclaw/geminipool/internal/pkg/httpclient"
	"github.com/openclaw/geminipool/internal/service"
)

// httpUpstreamService 基于共享连接池的上游调用实现。
// unaryClient 带整体超时；streamClient 不设整体超时（流可以很长），
// 只限制响应头等待时间。
type httpUpstreamService struct {
	unaryClient  *http.Client
	streamClient *http.Client
}

// NewHTTPUpstream 创建上游 HTTP 执行器。
func NewHTTPUpstream(cfg *config.Config) service.HTTPUpstream {
	unaryTimeout := cfg.Upstream.UnaryTimeout()
	if unaryTimeout <= 0 {
		unaryTimeout = 30 * time.Second
	}
	return &httpUpstreamService{
		unaryClient: httpclient.GetClient(httpclient.Options{
			Timeout: unaryTimeout,
		}),
		streamClient: httpclient.GetClient(httpclient.Options{
			ResponseHeaderTimeout: unaryTimeout,
		}),
	}
}

func (s *httpUpstreamService) DoUnary(req *http.Request) (*http.Response, error) {
	return s.unaryClient.Do(req)
}

func (s *httpUpstreamService) DoStream(req *http.Request) (*http.Response, error) {
	return s.streamClient.Do(req)
}
