package fields

import (
	"fmt"
	"strings"
	"sync"

	"github.com/John-Robertt/imdbcsv/internal/domain"
)

// NotAvailable 是字段缺失时写入的占位值。
const NotAvailable = "n/a"

// LimitConfig 描述列表字段的可配置上限（例如“最多包含几位演员”）。
//
// 约束：Min <= Default <= Max；Label 为空或 Max < 1 视为配置不完整。
type LimitConfig struct {
	Label   string `json:"label"`
	Min     int    `json:"min"`
	Max     int    `json:"max"`
	Default int    `json:"default"`
}

// Clamp 把 v 截断到 [Min, Max]。
func (c LimitConfig) Clamp(v int) int {
	if v < c.Min {
		return c.Min
	}
	if v > c.Max {
		return c.Max
	}
	return v
}

// Field 是可导出字段的标签联合：
// - 文本字段：Text != nil，无配置
// - 列表字段：List != nil，必须带 Config；渲染时截断到当前上限并用 Sep 连接
type Field struct {
	Name string

	Text func(domain.MovieRecord) string

	List   func(domain.MovieRecord) []string
	Sep    string
	Config *LimitConfig
}

// TextField 构造文本字段。
func TextField(name string, fn func(domain.MovieRecord) string) Field {
	return Field{Name: name, Text: fn}
}

// ListField 构造带上限配置的列表字段。
func ListField(name string, fn func(domain.MovieRecord) []string, sep string, cfg LimitConfig) Field {
	c := cfg
	return Field{Name: name, List: fn, Sep: sep, Config: &c}
}

// ConfigurationError 表示字段注册时的编程错误（启动即失败，不是运行期条件）。
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("字段 %q 配置无效：%s", e.Field, e.Reason)
}

// Registry 持有全部可提取字段与列表字段的当前上限。
//
// 约束：
// - 显式构造并传递，不存在包级全局状态
// - 运行中不修改：Select 得到的 Chosen 是快照，后续 ApplyLimits 不影响已开始的 run
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]Field
	limits map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		byName: map[string]Field{},
		limits: map[string]int{},
	}
}

// Register 注册一个字段；配置不完整或越界时返回 *ConfigurationError。
func (r *Registry) Register(f Field) error {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return &ConfigurationError{Field: f.Name, Reason: "name 不能为空"}
	}
	if err := validate(name, f); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return &ConfigurationError{Field: name, Reason: "重复注册"}
	}
	f.Name = name
	if f.Config != nil {
		c := *f.Config
		f.Config = &c
		r.limits[name] = c.Default
	}
	r.byName[name] = f
	r.order = append(r.order, name)
	return nil
}

func validate(name string, f Field) error {
	switch {
	case f.Text == nil && f.List == nil:
		return &ConfigurationError{Field: name, Reason: "缺少提取函数"}
	case f.Text != nil && f.List != nil:
		return &ConfigurationError{Field: name, Reason: "不能同时是文本字段和列表字段"}
	case f.Text != nil && f.Config != nil:
		return &ConfigurationError{Field: name, Reason: "文本字段不接受上限配置"}
	case f.List != nil && f.Config == nil:
		return &ConfigurationError{Field: name, Reason: "列表字段必须提供 label/min/max/default"}
	}
	if f.Config == nil {
		return nil
	}

	c := *f.Config
	if strings.TrimSpace(c.Label) == "" {
		return &ConfigurationError{Field: name, Reason: "缺少 label"}
	}
	if c.Max < 1 {
		return &ConfigurationError{Field: name, Reason: "缺少 max（必须 >= 1）"}
	}
	if c.Min > c.Default || c.Default > c.Max {
		return &ConfigurationError{Field: name, Reason: fmt.Sprintf("必须满足 min <= default <= max，实际 min=%d default=%d max=%d", c.Min, c.Default, c.Max)}
	}
	return nil
}

// Names 按注册顺序返回字段名。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Configs 返回字段名 -> 上限配置（文本字段为 nil）。
func (r *Registry) Configs() map[string]*LimitConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*LimitConfig, len(r.byName))
	for name, f := range r.byName {
		if f.Config == nil {
			out[name] = nil
			continue
		}
		c := *f.Config
		out[name] = &c
	}
	return out
}

// ApplyLimits 更新列表字段的当前上限；越界值截断到 [min, max]。
// 未注册或文本字段静默忽略。
func (r *Registry) ApplyLimits(limits map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, v := range limits {
		f, ok := r.byName[strings.TrimSpace(name)]
		if !ok || f.Config == nil {
			continue
		}
		r.limits[f.Name] = f.Config.Clamp(v)
	}
}

// Limit 返回列表字段的当前上限；文本字段或未知字段返回 0。
func (r *Registry) Limit(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limits[name]
}

// Select 按调用方的选择顺序过滤出已注册字段，并冻结当前上限。
// 未知字段名静默丢弃（选择总是来自封闭的候选集合）。
func (r *Registry) Select(names []string) Chosen {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch := Chosen{limits: map[string]int{}}
	seen := map[string]struct{}{}
	for _, n := range names {
		n = strings.TrimSpace(n)
		f, ok := r.byName[n]
		if !ok {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		ch.fields = append(ch.fields, f)
		if f.Config != nil {
			ch.limits[n] = r.limits[n]
		}
	}
	return ch
}
