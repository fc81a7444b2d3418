package domain

import (
	"regexp"
	"strings"
)

// Identifier 是一条待抓取记录的主键（例如 IMDb 的数字部分 0133093）。
//
// 约束：对核心流程不透明；唯一性由集合语义保证（重复静默合并）。
type Identifier string

var imdbDigitsRE = regexp.MustCompile(`^[0-9]{1,10}$`)

// IMDbTitleID 返回带 tt 前缀的 IMDb 形态（tt0133093）。
// 已带前缀的输入原样返回。
func (id Identifier) IMDbTitleID() string {
	s := strings.TrimSpace(string(id))
	if strings.HasPrefix(strings.ToLower(s), "tt") {
		return "tt" + s[2:]
	}
	return "tt" + s
}

// IsIMDbDigits 判断 id 是否是 provider 可直接拼接 URL 的纯数字形态。
func (id Identifier) IsIMDbDigits() bool {
	return imdbDigitsRE.MatchString(strings.TrimPrefix(strings.ToLower(string(id)), "tt"))
}
