package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

const (
	ItemStatusFound    = "found"
	ItemStatusNotFound = "not_found"
)

const (
	ErrCodeNotFound         = "not_found"
	ErrCodeFetchFailed      = "fetch_failed"
	ErrCodeParseFailed      = "parse_failed"
	ErrCodeIOFailed         = "io_failed"
	ErrCodeConfigInvalid    = "config_invalid"
	ErrCodeValidationFailed = "validation_failed"
)

// RunReport 是对外稳定输出（stdout JSON）的结构。
type RunReport struct {
	RunID  string   `json:"run_id"`
	Out    string   `json:"out"`
	Fields []string `json:"fields"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	Summary ReportSummary `json:"summary"`
	Items   []ItemResult  `json:"items"`
}

type ReportSummary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Found     int `json:"found"`
	NotFound  int `json:"not_found"`
	Exported  int `json:"exported"`
}

type ItemResult struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Title     string `json:"title"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// ItemFromOutcome 把一次抓取结果映射为报告条目。
func ItemFromOutcome(o Outcome) ItemResult {
	if o.Found {
		return ItemResult{ID: string(o.ID), Status: ItemStatusFound, Title: o.Label}
	}
	return ItemResult{
		ID:        string(o.ID),
		Status:    ItemStatusNotFound,
		ErrorCode: o.ErrorCode,
		ErrorMsg:  o.ErrorMsg,
	}
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) items 稳定排序：按 id 字典序
// 3) found/not_found 由 items 计算得出（total/completed/exported 由调用方填写）
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	if r.Fields == nil {
		r.Fields = []string{}
	}
	if r.Items == nil {
		r.Items = []ItemResult{}
	}

	sort.SliceStable(r.Items, func(i, j int) bool {
		return r.Items[i].ID < r.Items[j].ID
	})

	r.Summary.Found = 0
	r.Summary.NotFound = 0
	for _, it := range r.Items {
		switch it.Status {
		case ItemStatusFound:
			r.Summary.Found++
		case ItemStatusNotFound:
			r.Summary.NotFound++
		}
	}
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
// 当前只是透传 encoding/json 的默认行为。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
