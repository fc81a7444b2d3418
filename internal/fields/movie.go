package fields

import (
	"strconv"

	"github.com/John-Robertt/imdbcsv/internal/domain"
)

// TitleBaseURL 是 URL 字段使用的规范详情页前缀（与实际抓取域名无关，保证输出稳定）。
const TitleBaseURL = "http://www.imdb.com/title/"

const listSep = ", "

// NewMovieRegistry 注册电影字段全集（顺序即 `imdbcsv fields` 的展示顺序）。
func NewMovieRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, f := range movieFields() {
		if err := r.Register(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func movieFields() []Field {
	return []Field{
		TextField("Title", func(m domain.MovieRecord) string { return m.Title }),
		// 导演不设上限：全部列出。
		TextField("Director", func(m domain.MovieRecord) string { return joinAll(m.Directors) }),
		ListField("Genres", func(m domain.MovieRecord) []string { return m.Genres }, listSep,
			LimitConfig{Label: "Max genres", Min: 1, Max: 9, Default: 3}),
		TextField("Synopsis (short)", shortSynopsis),
		TextField("Synopsis (long)", func(m domain.MovieRecord) string { return m.Synopsis }),
		TextField("Year", func(m domain.MovieRecord) string { return positiveInt(m.Year) }),
		ListField("Countries", func(m domain.MovieRecord) []string { return m.Countries }, listSep,
			LimitConfig{Label: "Max countries", Min: 1, Max: 9, Default: 3}),
		ListField("Cast", func(m domain.MovieRecord) []string { return m.Cast }, listSep,
			LimitConfig{Label: "Max cast", Min: 1, Max: 9, Default: 3}),
		TextField("Runtime", func(m domain.MovieRecord) string { return first(m.Runtimes) }),
		ListField("Language", func(m domain.MovieRecord) []string { return m.Languages }, listSep,
			LimitConfig{Label: "Max languages", Min: 1, Max: 9, Default: 2}),
		TextField("IMDb rating", func(m domain.MovieRecord) string { return rating(m.Rating) }),
		TextField("IMDb ID", imdbID),
		TextField("URL", func(m domain.MovieRecord) string {
			id := imdbID(m)
			if id == "" {
				return ""
			}
			return TitleBaseURL + id
		}),
	}
}

// shortSynopsis 优先 plot outline，缺失时回退到第一条 plot。
func shortSynopsis(m domain.MovieRecord) string {
	if m.PlotOutline != "" {
		return m.PlotOutline
	}
	return first(m.Plots)
}

func imdbID(m domain.MovieRecord) string {
	if m.ID == "" {
		return ""
	}
	return m.ID.IMDbTitleID()
}

func joinAll(xs []string) string {
	out := ""
	for _, s := range xs {
		if s == "" {
			continue
		}
		if out != "" {
			out += listSep
		}
		out += s
	}
	return out
}

func first(xs []string) string {
	if len(xs) == 0 {
		return ""
	}
	return xs[0]
}

func positiveInt(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func rating(r float64) string {
	if r <= 0 {
		return ""
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}
