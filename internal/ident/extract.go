package ident

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/John-Robertt/imdbcsv/internal/domain"
)

// DefaultPattern 匹配 IMDb 片目 ID（tt0133093），捕获组为纯数字部分。
const DefaultPattern = `tt(\d+)`

// Set 是去重后的 Identifier 集合；重复静默合并。
type Set map[domain.Identifier]struct{}

func (s Set) Add(id domain.Identifier) { s[id] = struct{}{} }

func (s Set) Len() int { return len(s) }

// Sorted 返回字典序排列的 ID（保证派发顺序稳定，便于复现问题）。
func (s Set) Sorted() []domain.Identifier {
	out := make([]domain.Identifier, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Extractor 从任意文本中按正则提取候选 ID。
//
// 约束：
// - 正则含捕获组时取第 1 组，否则取整段匹配
// - 找不到不是错误：返回空集合
type Extractor struct {
	re *regexp.Regexp
}

// New 编译 pattern；pattern 为空时使用 DefaultPattern。
func New(pattern string) (*Extractor, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("pattern 无效：%w", err)
	}
	return &Extractor{re: re}, nil
}

// Extract 提取 text 中所有不重叠的匹配。
func (e *Extractor) Extract(text string) Set {
	out := Set{}
	e.addMatches(out, text)
	return out
}

// ExtractFromTable 对每一行的单元格拼接后提取，并对所有行取并集。
// 空行/畸形行不会报错，只是没有贡献。
func (e *Extractor) ExtractFromTable(rows [][]string) Set {
	out := Set{}
	for _, row := range rows {
		e.addMatches(out, strings.Join(row, ""))
	}
	return out
}

// ExtractFromCSV 逐行读取 CSV 并提取 ID。
// 单行解析失败时跳过该行；只有底层读取失败才返回错误。
func (e *Extractor) ExtractFromCSV(r io.Reader) (Set, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	out := Set{}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				continue
			}
			return out, err
		}
		e.addMatches(out, strings.Join(row, ""))
	}
}

// ExtractFromFile 打开 path 并按 CSV 提取。
func (e *Extractor) ExtractFromFile(path string) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return e.ExtractFromCSV(f)
}

func (e *Extractor) addMatches(dst Set, s string) {
	if s == "" {
		return
	}
	for _, m := range e.re.FindAllStringSubmatch(s, -1) {
		v := m[0]
		if len(m) > 1 {
			v = m[1]
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		dst.Add(domain.Identifier(v))
	}
}
