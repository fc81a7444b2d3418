package logx

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultLevel 只输出告警及以上；进度展示走 Observer，不依赖日志。
const DefaultLevel = "warn"

// New 构造 zerolog.Logger。
//
// - console=true：人类可读（交互终端）
// - console=false：JSON 行（便于重定向后再处理）
//
// 日志只写 w（通常是 stderr），保证 stdout 只输出一个 RunReport JSON。
func New(w io.Writer, level string, console bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// ParseLevel 解析日志级别；空串或无法识别时回退 DefaultLevel。
func ParseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		s = DefaultLevel
	}
	lv, err := zerolog.ParseLevel(s)
	if err != nil {
		lv, _ = zerolog.ParseLevel(DefaultLevel)
	}
	return lv
}

// ValidLevel 判断 s 是否是可识别的日志级别（配置校验用）。
func ValidLevel(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return true
	}
	_, err := zerolog.ParseLevel(s)
	return err == nil
}
