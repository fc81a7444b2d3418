package fields

import (
	"strings"

	"github.com/John-Robertt/imdbcsv/internal/domain"
)

// Chosen 是一次 run 选定的字段（按选择顺序），创建后不可变。
type Chosen struct {
	fields []Field
	limits map[string]int
}

// Names 返回选择顺序的字段名，也就是导出 CSV 的表头顺序。
func (c Chosen) Names() []string {
	out := make([]string, 0, len(c.fields))
	for _, f := range c.fields {
		out = append(out, f.Name)
	}
	return out
}

func (c Chosen) Len() int { return len(c.fields) }

// Limit 返回快照中的列表上限。
func (c Chosen) Limit(name string) int { return c.limits[name] }

// Render 对记录逐个应用选定字段。
func (c Chosen) Render(rec domain.MovieRecord) domain.Row {
	row := make(domain.Row, len(c.fields))
	for _, f := range c.fields {
		row[f.Name] = c.renderOne(f, rec)
	}
	return row
}

func (c Chosen) renderOne(f Field, rec domain.MovieRecord) string {
	if f.Text != nil {
		return orNA(f.Text(rec))
	}

	items := make([]string, 0, 8)
	for _, s := range f.List(rec) {
		s = strings.TrimSpace(s)
		if s != "" {
			items = append(items, s)
		}
	}
	if k := c.limits[f.Name]; k > 0 && len(items) > k {
		items = items[:k]
	}
	return orNA(strings.Join(items, f.Sep))
}

func orNA(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return NotAvailable
	}
	return s
}
