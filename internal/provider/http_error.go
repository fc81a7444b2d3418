package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotFound 表示站点明确告知该 ID 不存在。
var ErrNotFound = errors.New("not found")

// HTTPStatusError 表示站点返回了非 2xx 的 HTTP 状态码。
// provider.Fetch 可以返回该错误，让上层生成更可操作的 error_msg。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Location   string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	loc := strings.TrimSpace(e.Location)
	if loc == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d location=%s", e.StatusCode, loc)
}

// Is 让 404/410 可以被 errors.Is(err, ErrNotFound) 识别。
func (e *HTTPStatusError) Is(target error) bool {
	if e == nil || target != ErrNotFound {
		return false
	}
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

// BlockedError 表示请求被站点引导到了“验证/拦截”页面（例如 WAF captcha）。
// 产品约束：不尝试绕过，直接视为 fetch_failed。
type BlockedError struct {
	URL    string
	Reason string // 例如 "captcha"
}

func (e *BlockedError) Error() string {
	if e == nil {
		return "blocked"
	}
	if strings.TrimSpace(e.Reason) == "" {
		return "blocked"
	}
	return "blocked: " + strings.TrimSpace(e.Reason)
}

// IsNotFound 判断 err 是否表示“ID 不存在”。
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
