package run

import "time"

// StartInfo 是 run 开始时交给 Observer 的概要信息。
type StartInfo struct {
	RunID   string
	Out     string
	Fields  []string
	Workers int
}

// Observer 用于把“运行进度/条目结果/保存路径询问”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - SetMaximum 每次 run 恰好一次；OnItemDone 每个被消费的结果恰好一次。
// - 事件只来自收集 goroutine，但 Observer 仍可能被其他 goroutine（例如 ticker）并发访问。
type Observer interface {
	// OnStart 在 run 进入 Running 后立刻调用。
	OnStart(info StartInfo)
	// SetMaximum 通知本次 run 的总数（进度条最大值）。
	SetMaximum(total int)
	// OnItemDone 在某个 ID 的结果被消费时调用：valid=true 时 label 是标题，否则是 ID。
	OnItemDone(idx, total int, label string, valid bool, dur time.Duration)
	// OnNeedSavePath 在请求未给出保存路径时调用；ok=false 表示用户放弃。
	OnNeedSavePath() (path string, ok bool)
}

type nopObserver struct{}

func (nopObserver) OnStart(StartInfo) {}
func (nopObserver) SetMaximum(int) {}
func (nopObserver) OnItemDone(int, int, string, bool, time.Duration) {}
func (nopObserver) OnNeedSavePath() (string, bool) { return "", false }
