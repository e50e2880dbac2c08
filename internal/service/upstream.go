package service

import "net/http"

// HTTPUpstream 执行上游 HTTP 调用。
// 一元调用带整体超时；流式调用只限制响应头等待时间，
// 读超时由调用方的 context 控制。测试中以 stub 实现替换。
type HTTPUpstream interface {
	DoUnary(req *http.Request) (*http.Response, error)
	DoStream(req *http.Request) (*http.Response, error)
}
