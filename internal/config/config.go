package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/John-Robertt/imdbcsv/internal/infra/logx"
)

const (
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
)

const (
	// FileName 是 cwd 下的可选配置文件名。
	FileName = "imdbcsv.json"

	// DefaultConcurrency 是并发的内置默认值（当配置未指定时）。
	DefaultConcurrency = 4
	// DefaultTimeout 是单次请求的默认超时。
	DefaultTimeout = 20 * time.Second

	maxConcurrency = 32
)

// 环境变量（.env 由 cmd 层 best-effort 加载后同样生效）。
const (
	EnvProxyURL    = "IMDBCSV_PROXY_URL"
	EnvConcurrency = "IMDBCSV_CONCURRENCY"
	EnvLogLevel    = "IMDBCSV_LOG_LEVEL"
)

// 测试可替换。
var lookupEnv = os.LookupEnv

// CLIArgs 是 CLI 暴露的覆盖项，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --fields= 必须能覆盖配置文件里的 fields。
type CLIArgs struct {
	Fields    []string
	FieldsSet bool

	// Limits 与配置文件按 key 合并，CLI 优先。
	Limits map[string]int

	Out string

	Concurrency    int
	ConcurrencySet bool
}

// FileConfig 对应 imdbcsv.json 的解析结构。
type FileConfig struct {
	Fields         []string       `json:"fields"`
	Limits         map[string]int `json:"limits"`
	Out            string         `json:"out"`
	Concurrency    int            `json:"concurrency"`
	Proxy          *ProxyConfig   `json:"proxy"`
	RateLimit      float64        `json:"rate_limit"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	Pattern        string         `json:"pattern"`
	IMDbBaseURL    string         `json:"imdb_base_url"`
	LogLevel       string         `json:"log_level"`
}

type ProxyConfig struct {
	URL string `json:"url"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	// Fields 为空表示“未指定”，由调用方决定默认选择。
	Fields []string
	Limits map[string]int
	// Out 为空表示未指定保存路径（交给交互层询问）；非空时已是绝对路径。
	Out string

	Concurrency int
	ProxyURL    string
	// RateLimit 是每秒请求数上限；0 表示不限速。
	RateLimit float64
	Timeout   time.Duration

	// Pattern 为空表示使用默认的 tt\d+ 规则。
	Pattern string
	// IMDbBaseURL 允许切换到镜像/测试站点（可选），仅通过配置文件设置。
	IMDbBaseURL string
	LogLevel    string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s：配置 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置 %q 无效", e.Code, e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s：%v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 读取 <cwd>/imdbcsv.json（可选），与环境变量、CLI 参数合并为最终配置。
//
// 覆盖优先级（固定）：
// - fields / out / concurrency：CLI > config（concurrency 另受环境变量影响：CLI > env > config > 默认 4）
// - limits：按 key 合并，CLI > config
// - proxy.url / log_level：env > config
// - 其他字段：仅由 config 控制（CLI 不暴露）
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	cfgPath := filepath.Join(cwdAbs, FileName)
	fc, _, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	return merge(cwdAbs, cli, fc, cfgPath)
}

func merge(cwdAbs string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(err error) (EffectiveConfig, error) {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	// fields：CLI > config
	fields := cleanList(fc.Fields)
	if cli.FieldsSet {
		fields = cleanList(cli.Fields)
	}

	limits := make(map[string]int, len(fc.Limits)+len(cli.Limits))
	for k, v := range fc.Limits {
		limits[strings.TrimSpace(k)] = v
	}
	for k, v := range cli.Limits {
		limits[strings.TrimSpace(k)] = v
	}

	// out：CLI > config；相对路径以 cwd 为基准。
	out := strings.TrimSpace(fc.Out)
	if s := strings.TrimSpace(cli.Out); s != "" {
		out = s
	}
	out = absCleanFrom(cwdAbs, out)

	// concurrency：CLI > env > config > 默认
	// 只有配置文件的 0 表示“未指定”；env/CLI 显式给出的 0 按越界截断。
	concurrency := fc.Concurrency
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	if v, ok := lookupEnv(EnvConcurrency); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return invalid(fmt.Errorf("%s 必须是整数：%q", EnvConcurrency, v))
		}
		concurrency = n
	}
	if cli.ConcurrencySet {
		concurrency = cli.Concurrency
	}
	// 范围 [1, 32]；超出截断。
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > maxConcurrency {
		concurrency = maxConcurrency
	}

	proxyURL := ""
	if fc.Proxy != nil {
		proxyURL = strings.TrimSpace(fc.Proxy.URL)
	}
	if v, ok := lookupEnv(EnvProxyURL); ok && strings.TrimSpace(v) != "" {
		proxyURL = strings.TrimSpace(v)
	}
	if proxyURL != "" {
		if _, err := url.Parse(proxyURL); err != nil {
			return invalid(fmt.Errorf("proxy.url 无效：%w", err))
		}
	}

	if fc.RateLimit < 0 {
		return invalid(fmt.Errorf("rate_limit 不能为负数：%v", fc.RateLimit))
	}

	timeout := DefaultTimeout
	if fc.TimeoutSeconds < 0 {
		return invalid(fmt.Errorf("timeout_seconds 不能为负数：%d", fc.TimeoutSeconds))
	}
	if fc.TimeoutSeconds > 0 {
		timeout = time.Duration(fc.TimeoutSeconds) * time.Second
	}

	pattern := strings.TrimSpace(fc.Pattern)
	if pattern != "" {
		if _, err := regexp.Compile(pattern); err != nil {
			return invalid(fmt.Errorf("pattern 无效：%w", err))
		}
	}

	baseURL := strings.TrimSpace(fc.IMDbBaseURL)
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return invalid(fmt.Errorf("imdb_base_url 无效：%q", baseURL))
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return invalid(fmt.Errorf("imdb_base_url 必须是 http/https：%q", baseURL))
		}
	}

	logLevel := strings.TrimSpace(fc.LogLevel)
	if v, ok := lookupEnv(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		logLevel = strings.TrimSpace(v)
	}
	if !logx.ValidLevel(logLevel) {
		return invalid(fmt.Errorf("log_level 无效：%q", logLevel))
	}

	return EffectiveConfig{
		Fields:      fields,
		Limits:      limits,
		Out:         out,
		Concurrency: concurrency,
		ProxyURL:    proxyURL,
		RateLimit:   fc.RateLimit,
		Timeout:     timeout,
		Pattern:     pattern,
		IMDbBaseURL: baseURL,
		LogLevel:    logLevel,
	}, nil
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute；空串保持为空。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 JSON 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
