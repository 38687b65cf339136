package clientv2

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	internal_io "github.com/daytonaio/sdk-go/internal/io"
)

const maxErrorBodySize = 64 << 10

// ResponseError 表示服务端返回了非 2xx 的响应。
type ResponseError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Message    string
}

// NewResponseError 读取并关闭 resp.Body，从中提取错误信息。
func NewResponseError(resp *http.Response) *ResponseError {
	e := &ResponseError{StatusCode: resp.StatusCode, Header: resp.Header}
	if resp.Body != nil {
		e.Body, _ = internal_io.ReadLimited(resp.Body, maxErrorBodySize)
		resp.Body.Close()
	}
	e.Message = extractMessage(e.Body)
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("status code %d: %s", e.StatusCode, e.Message)
}

// extractMessage 优先使用 JSON 中的 message 字段（字符串或字符串数组），其次 error 字段，
// 都不存在时返回原始文本。
func extractMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}
	var payload struct {
		Message json.RawMessage `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return trimmed
	}
	for _, raw := range []json.RawMessage{payload.Message, payload.Error} {
		if len(raw) == 0 {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
		var list []string
		if json.Unmarshal(raw, &list) == nil && len(list) > 0 {
			return strings.Join(list, "; ")
		}
	}
	return trimmed
}
