package domain

// MovieRecord 是 provider 解析得到的结构化记录（原始数据，不做截断）。
//
// 约束：
// - 字段缺失允许为空（空串 / nil / 0），由字段提取层统一替换为 "n/a"
// - 列表字段保持站点顺序，截断只发生在字段渲染阶段
type MovieRecord struct {
	ID Identifier

	Title       string
	Directors   []string
	Genres      []string
	PlotOutline string
	Plots       []string
	Synopsis    string
	Year        int
	Countries   []string
	Cast        []string
	Runtimes    []string // 分钟数，例如 "136"
	Languages   []string
	Rating      float64 // 0 表示无评分

	PageURL string
}

// Row 是一条导出行：字段名 -> 渲染后的值。
type Row map[string]string

// Outcome 是单个 Identifier 的抓取结果：要么 Found（带 Row），要么 NotFound。
//
// 约束：每个提交的 Identifier 恰好产生一个 Outcome；不会既成功又失败，也不会被静默丢弃。
type Outcome struct {
	ID    Identifier
	Found bool

	// Row 仅在 Found 时有效。
	Row Row
	// Label 是进度通知用的展示文本：成功时为标题，失败时为 ID。
	Label string

	// NotFound 时记录原因（not_found / fetch_failed / parse_failed），仅用于报告与日志。
	ErrorCode string
	ErrorMsg  string
}

// Success 构造成功结果。
func Success(id Identifier, row Row, title string) Outcome {
	label := title
	if label == "" {
		label = string(id)
	}
	return Outcome{ID: id, Found: true, Row: row, Label: label}
}

// NotFound 构造未命中结果（无效 ID 与 provider 故障使用同一信号）。
func NotFound(id Identifier, code, msg string) Outcome {
	return Outcome{ID: id, Found: false, Label: string(id), ErrorCode: code, ErrorMsg: msg}
}
