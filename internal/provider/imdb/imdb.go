package imdb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/imdbcsv/internal/domain"
	providerx "github.com/John-Robertt/imdbcsv/internal/provider"
)

// DefaultBaseURL 是 IMDb 的默认站点根地址。
const DefaultBaseURL = "https://www.imdb.com"

// maxBody 限制单个详情页的读取量（IMDb 详情页通常 1~2 MB）。
const maxBody = 8 << 20

// Provider 实现 IMDb 详情页的抓取与 HTML 解析。
//
// 约束：
// - 详情页 URL 可直接拼接：<base>/title/tt<digits>/
// - Fetch/Parse 不做缓存/重试（限速/超时由 httpx 统一控制）
// - Parse 必须是纯函数（依赖输入 html + pageURL）
type Provider struct {
	// BaseURL 允许指向镜像或测试服务器；为空时使用 https://www.imdb.com。
	BaseURL string
}

func (Provider) Name() string { return "imdb" }

func (p Provider) baseURL() string {
	u := strings.TrimSpace(p.BaseURL)
	if u == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(u, "/")
}

// TitleURL 返回 id 对应的详情页 URL。
func (p Provider) TitleURL(id domain.Identifier) string {
	return p.baseURL() + "/title/" + url.PathEscape(id.IMDbTitleID()) + "/"
}

// Fetch 直接进入详情页：https://www.imdb.com/title/tt0133093/
func (p Provider) Fetch(ctx context.Context, id domain.Identifier, c *http.Client) ([]byte, string, error) {
	if c == nil {
		return nil, "", errors.New("http client 不能为空")
	}
	if id == "" {
		return nil, "", errors.New("id 不能为空")
	}
	if !id.IsIMDbDigits() {
		// 形态都不对的 ID 不值得打一次网络。
		return nil, "", providerx.ErrNotFound
	}

	pageURL := p.TitleURL(id)
	b, status, err := fetchURL(ctx, c, pageURL)
	if err != nil {
		return nil, "", err
	}
	if status == http.StatusAccepted || isChallengePage(b) {
		return nil, "", &providerx.BlockedError{URL: pageURL, Reason: "captcha"}
	}
	return b, pageURL, nil
}

// Parse 把 IMDb 详情页 HTML 解析为 MovieRecord。
//
// 数据来源优先级：JSON-LD（结构稳定）> 页面 data-testid 区块（补充 JSON-LD 没有的字段）。
func (Provider) Parse(id domain.Identifier, html []byte, pageURL string) (domain.MovieRecord, error) {
	if id == "" {
		return domain.MovieRecord{}, errors.New("id 不能为空")
	}
	if len(html) == 0 {
		return domain.MovieRecord{}, errors.New("html 为空")
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return domain.MovieRecord{}, err
	}

	ld := findMovieLD(doc)

	title := ld.Name
	if title == "" {
		title = normSpace(doc.Find(`h1[data-testid="hero__pageTitle"]`).First().Text())
	}
	if title == "" {
		return domain.MovieRecord{}, errors.New("详情页中未找到标题（可能不是片目详情页）")
	}

	rec := domain.MovieRecord{
		ID:        id,
		Title:     title,
		Directors: ld.Directors,
		Genres:    ld.Genres,
		Year:      yearFromDate(ld.DatePublished),
		Rating:    ld.Rating,
		PageURL:   strings.TrimSpace(pageURL),
	}
	if m := minutesFromISODuration(ld.Duration); m > 0 {
		rec.Runtimes = []string{itoa(m)}
	}

	rec.PlotOutline = firstText(doc,
		`[data-testid="plot"] [data-testid="plot-xl"]`,
		`[data-testid="plot"] [data-testid="plot-l"]`,
		`[data-testid="plot"] [data-testid="plot-xs_to_m"]`,
		`span[data-testid="plot-xl"]`,
	)
	if ld.Description != "" {
		rec.Plots = []string{ld.Description}
	}
	rec.Synopsis = firstText(doc, `[data-testid="storyline-plot-summary"]`)

	// JSON-LD 的 actor 只给头部几位；页面演员表更完整，优先使用。
	rec.Cast = listText(doc, `[data-testid="title-cast-item__actor"]`)
	if len(rec.Cast) == 0 {
		rec.Cast = ld.Actors
	}
	if len(rec.Directors) == 0 {
		rec.Directors = principalCredits(doc, "Director", "Directors")
	}

	rec.Countries = listText(doc, `li[data-testid="title-details-origin"] a`)
	rec.Languages = listText(doc, `li[data-testid="title-details-languages"] a`)

	if rec.Year == 0 {
		rec.Year = firstYear(doc.Find(`[data-testid="hero__pageTitle"] ~ ul a[href*="releaseinfo"]`).First().Text())
	}

	return rec, nil
}

func fetchURL(ctx context.Context, c *http.Client, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, &providerx.HTTPStatusError{URL: u, StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	return b, resp.StatusCode, err
}

// isChallengePage 识别 WAF 验证页：没有任何片目结构，只有验证脚本。
func isChallengePage(b []byte) bool {
	low := bytes.ToLower(b)
	if bytes.Contains(low, []byte(`application/ld+json`)) {
		return false
	}
	return bytes.Contains(low, []byte("awswafintegration")) ||
		bytes.Contains(low, []byte("captcha-container")) ||
		bytes.Contains(low, []byte("challenge-container"))
}

func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if s := normSpace(doc.Find(sel).First().Text()); s != "" {
			return s
		}
	}
	return ""
}

func listText(doc *goquery.Document, sel string) []string {
	var out []string
	doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
		out = append(out, s.Text())
	})
	return normList(out)
}

// principalCredits 从 hero 区的 credits 列表中按标题取人名（JSON-LD 缺 director 时兜底）。
func principalCredits(doc *goquery.Document, labels ...string) []string {
	var out []string
	doc.Find(`li[data-testid="title-pc-principal-credit"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		h := normSpace(s.Children().First().Text())
		for _, l := range labels {
			if h == l {
				s.Find("ul a").Each(func(_ int, a *goquery.Selection) {
					out = append(out, a.Text())
				})
				return false
			}
		}
		return true
	})
	return normList(out)
}
