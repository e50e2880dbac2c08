// Package codeassist 封装 Code Assist 上游的线上契约：
// 请求包装信封、响应拆封、以及上游强制要求的固定请求头。
package codeassist

import (
	"context"
	"net/http"
	"strconv"

	"github.com/openclaw/geminipool/internal/pkg/httpclient"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// DefaultBaseURL Code Assist 生产端点
	DefaultBaseURL = "https://cloudcode-pa.googleapis.com"

	// 上游校验 UA 与 api client 标识，缺失或不符会被拒绝，必须逐字发送。
	userAgent       = "GeminiCLI/0.26.0 (darwin; arm64)"
	apiClientHeader = "gl-node/openclaw"

	// user_prompt_id 上游要求的固定占位值
	defaultPromptID = "default-prompt"

	// 上游动作名
	ActionGenerate       = "generateContent"
	ActionStreamGenerate = "streamGenerateContent"
)

// 转发进信封的可选字段，按入站出现与否决定是否携带。
var optionalRequestFields = []string{"generationConfig", "systemInstruction", "tools", "toolConfig"}

// NewAPIRequest 构造上游调用请求。
// 恰好设置四个请求头：Authorization、Content-Type、X-Goog-Api-Client、User-Agent。
func NewAPIRequest(ctx context.Context, baseURL, action, accessToken string, body []byte) (*http.Request, error) {
	url := baseURL + "/v1internal:" + action
	if action == ActionStreamGenerate {
		url += "?alt=sse"
	}
	req, err := httpclient.NewJSONRequest(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Goog-Api-Client", apiClientHeader)
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

// WrapGenerateRequest 把入站 Gemini v1beta 请求体包进上游信封：
//
//	{model, project, user_prompt_id, request:{contents, generationConfig?, systemInstruction?, tools?, toolConfig?}}
//
// tool_config 作为 toolConfig 的历史别名在此合并；contents 中缺 role 的条目补为 "user"。
func WrapGenerateRequest(model, projectID string, inbound []byte) ([]byte, error) {
	request := []byte(`{}`)

	contents := gjson.GetBytes(inbound, "contents")
	if contents.Exists() {
		var err error
		request, err = sjson.SetRawBytes(request, "contents", []byte(contents.Raw))
		if err != nil {
			return nil, err
		}
		for i, entry := range contents.Array() {
			if !entry.Get("role").Exists() {
				request, err = sjson.SetBytes(request, "contents."+strconv.Itoa(i)+".role", "user")
				if err != nil {
					return nil, err
				}
			}
		}
	}

	for _, field := range optionalRequestFields {
		value := gjson.GetBytes(inbound, field)
		if field == "toolConfig" && !value.Exists() {
			value = gjson.GetBytes(inbound, "tool_config")
		}
		if value.Exists() {
			var err error
			request, err = sjson.SetRawBytes(request, field, []byte(value.Raw))
			if err != nil {
				return nil, err
			}
		}
	}

	envelope := []byte(`{}`)
	var err error
	if envelope, err = sjson.SetBytes(envelope, "model", model); err != nil {
		return nil, err
	}
	if envelope, err = sjson.SetBytes(envelope, "project", projectID); err != nil {
		return nil, err
	}
	if envelope, err = sjson.SetBytes(envelope, "user_prompt_id", defaultPromptID); err != nil {
		return nil, err
	}
	if envelope, err = sjson.SetRawBytes(envelope, "request", request); err != nil {
		return nil, err
	}
	return envelope, nil
}

// UnwrapResponse 提取一元响应的 response 对象；没有信封时原样返回。
func UnwrapResponse(body []byte) []byte {
	inner := gjson.GetBytes(body, "response")
	if inner.Exists() && inner.IsObject() {
		return []byte(inner.Raw)
	}
	return body
}

// UnwrapStreamFrame 把单个 SSE 帧的 JSON 负载改写为非信封形态。
// 外层 usageMetadata 合并进内层对象（内层已有时外层优先，上游以最新值为准）。
// 解析失败时原样返回，保证帧不丢失。
func UnwrapStreamFrame(payload []byte) []byte {
	if !gjson.ValidBytes(payload) {
		return payload
	}
	inner := gjson.GetBytes(payload, "response")
	if !inner.Exists() || !inner.IsObject() {
		return payload
	}
	out := []byte(inner.Raw)
	if outerUsage := gjson.GetBytes(payload, "usageMetadata"); outerUsage.Exists() {
		merged, err := sjson.SetRawBytes(out, "usageMetadata", []byte(outerUsage.Raw))
		if err == nil {
			out = merged
		}
	}
	return out
}

// ExtractTotalTokenCount 取帧内 usageMetadata.totalTokenCount（信封或裸帧均可）。
func ExtractTotalTokenCount(payload []byte) (int64, bool) {
	if v := gjson.GetBytes(payload, "response.usageMetadata.totalTokenCount"); v.Exists() {
		return v.Int(), true
	}
	if v := gjson.GetBytes(payload, "usageMetadata.totalTokenCount"); v.Exists() {
		return v.Int(), true
	}
	return 0, false
}

// ExtractText 拼接 candidates[0].content.parts[*].text，用于请求日志摘要。
func ExtractText(payload []byte) string {
	parts := gjson.GetBytes(payload, "candidates.0.content.parts")
	if !parts.Exists() {
		parts = gjson.GetBytes(payload, "response.candidates.0.content.parts")
	}
	var text string
	for _, part := range parts.Array() {
		if t := part.Get("text"); t.Exists() {
			text += t.String()
		}
	}
	return text
}

// HasContent 判断一元响应是否带有非空 candidates。
func HasContent(body []byte) bool {
	candidates := gjson.GetBytes(body, "response.candidates")
	if !candidates.Exists() {
		candidates = gjson.GetBytes(body, "candidates")
	}
	return candidates.IsArray() && len(candidates.Array()) > 0
}
