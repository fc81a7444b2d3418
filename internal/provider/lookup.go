package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/John-Robertt/imdbcsv/internal/domain"
)

// Error 是 provider 阶段的可追溯错误。
// 上层可以据此把失败归类为 not_found / fetch_failed / parse_failed，并写入 report。
type Error struct {
	Provider string // provider name（小写）
	Stage    string // "fetch" 或 "parse"
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider=%s stage=%s: %v", e.Provider, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Lookup 对单个 ID 执行一次 fetch + parse（单次阻塞调用，不重试）。
func Lookup(ctx context.Context, p Provider, id domain.Identifier, c *http.Client) (domain.MovieRecord, error) {
	if p == nil {
		return domain.MovieRecord{}, errors.New("provider 不能为空")
	}
	if strings.TrimSpace(string(id)) == "" {
		return domain.MovieRecord{}, errors.New("id 不能为空")
	}
	name := strings.ToLower(strings.TrimSpace(p.Name()))

	html, pageURL, err := p.Fetch(ctx, id, c)
	if err != nil {
		return domain.MovieRecord{}, &Error{Provider: name, Stage: "fetch", Err: err}
	}

	rec, err := p.Parse(id, html, pageURL)
	if err != nil {
		return domain.MovieRecord{}, &Error{Provider: name, Stage: "parse", Err: err}
	}
	rec.ID = id
	if rec.PageURL == "" {
		rec.PageURL = pageURL
	}
	return rec, nil
}

// Classify 把 Lookup 的错误映射为报告用的 error_code。
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if IsNotFound(err) {
		return domain.ErrCodeNotFound
	}
	var pe *Error
	if errors.As(err, &pe) && pe.Stage == "parse" {
		return domain.ErrCodeParseFailed
	}
	return domain.ErrCodeFetchFailed
}

// Humanize 生成面向用户的 error_msg（尽量给出可操作提示）。
func Humanize(err error) string {
	if err == nil {
		return ""
	}
	name := "provider"
	var pe *Error
	if errors.As(err, &pe) {
		name = pe.Provider
		err = pe.Err
	}

	if IsNotFound(err) {
		return fmt.Sprintf("%s 中不存在该 ID。", name)
	}

	var be *BlockedError
	if errors.As(err, &be) {
		return fmt.Sprintf("%s 被站点拦截（%s）。建议降低 rate_limit/并发或配置 proxy.url。", name, be.Reason)
	}

	var hs *HTTPStatusError
	if errors.As(err, &hs) {
		switch hs.StatusCode {
		case 403, 429:
			return fmt.Sprintf("%s 返回 HTTP %d（可能触发反爬/限流）。建议降低并发或配置 proxy.url。", name, hs.StatusCode)
		default:
			return fmt.Sprintf("%s 返回 HTTP %d。", name, hs.StatusCode)
		}
	}

	low := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(low, "timeout") {
		return fmt.Sprintf("%s 抓取超时。建议检查网络/代理，或调大 timeout_seconds。", name)
	}
	if pe != nil && pe.Stage == "parse" {
		return fmt.Sprintf("%s 解析失败（站点结构可能变化或返回了非详情页内容）：%v", name, err)
	}
	return fmt.Sprintf("%s 抓取失败：%v", name, err)
}
