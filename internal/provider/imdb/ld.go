package imdb

import (
	"encoding/json"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// movieLD 是 JSON-LD 中我们关心的最小子集（已规范化）。
type movieLD struct {
	Name          string
	Description   string
	Genres        []string
	Directors     []string
	Actors        []string
	DatePublished string
	Duration      string
	Rating        float64
}

// rawLD 对应 schema.org/Movie；genre/director/actor 可能是单值也可能是数组。
type rawLD struct {
	Type            json.RawMessage `json:"@type"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Genre           json.RawMessage `json:"genre"`
	Director        json.RawMessage `json:"director"`
	Actor           json.RawMessage `json:"actor"`
	DatePublished   string          `json:"datePublished"`
	Duration        string          `json:"duration"`
	AggregateRating *struct {
		RatingValue json.Number `json:"ratingValue"`
	} `json:"aggregateRating"`
}

type person struct {
	Name string `json:"name"`
}

var ldTypes = map[string]bool{
	"Movie":        true,
	"TVSeries":     true,
	"TVEpisode":    true,
	"TVMovie":      true,
	"VideoGame":    true,
	"CreativeWork": true,
}

func findMovieLD(doc *goquery.Document) movieLD {
	var out movieLD
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var r rawLD
		if err := json.Unmarshal([]byte(s.Text()), &r); err != nil {
			return true
		}
		if !isMovieType(r.Type) {
			return true
		}
		out = normalizeLD(r)
		return false
	})
	return out
}

func isMovieType(raw json.RawMessage) bool {
	for _, t := range stringOrList(raw) {
		if ldTypes[t] {
			return true
		}
	}
	return false
}

func normalizeLD(r rawLD) movieLD {
	m := movieLD{
		Name:          unescape(r.Name),
		Description:   unescape(r.Description),
		Genres:        normList(stringOrList(r.Genre)),
		Directors:     normList(personNames(r.Director)),
		Actors:        normList(personNames(r.Actor)),
		DatePublished: strings.TrimSpace(r.DatePublished),
		Duration:      strings.TrimSpace(r.Duration),
	}
	if r.AggregateRating != nil {
		if f, err := r.AggregateRating.RatingValue.Float64(); err == nil {
			m.Rating = f
		}
	}
	return m
}

func stringOrList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{unescape(one)}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for i := range many {
			many[i] = unescape(many[i])
		}
		return many
	}
	return nil
}

func personNames(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one person
	if err := json.Unmarshal(raw, &one); err == nil && one.Name != "" {
		return []string{unescape(one.Name)}
	}
	var many []person
	if err := json.Unmarshal(raw, &many); err == nil {
		out := make([]string, 0, len(many))
		for _, p := range many {
			out = append(out, unescape(p.Name))
		}
		return out
	}
	return nil
}

// IMDb 的 JSON-LD 会把 ' & 等字符写成 HTML 实体。
func unescape(s string) string { return normSpace(html.UnescapeString(s)) }

var isoDurationRE = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// minutesFromISODuration 把 PT2H16M 转为 136；无法识别返回 0。
func minutesFromISODuration(d string) int {
	m := isoDurationRE.FindStringSubmatch(strings.TrimSpace(d))
	if m == nil {
		return 0
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	return h*60 + mm
}

func yearFromDate(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Year()
		}
	}
	return 0
}

var yearRE = regexp.MustCompile(`\b(18|19|20)\d{2}\b`)

func firstYear(s string) int {
	y, _ := strconv.Atoi(yearRE.FindString(s))
	return y
}

func itoa(n int) string { return strconv.Itoa(n) }

func normSpace(s string) string { return strings.Join(strings.Fields(s), " ") }

func normList(in []string) []string {
	m := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = normSpace(s)
		if s == "" {
			continue
		}
		if _, ok := m[s]; ok {
			continue
		}
		m[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
