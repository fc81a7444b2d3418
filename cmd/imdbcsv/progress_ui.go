package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/imdbcsv/internal/app/run"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是一个“简洁版”的交互终端进度输出。
//
// 设计目标：
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：长时间无条目完成时也会定期输出一行，降低等待焦虑
type progressUI struct {
	w io.Writer

	// in 非 nil 时，缺少保存路径会在终端提示输入；否则直接使用 defaultOut。
	in         *bufio.Reader
	defaultOut string

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	workers  int
	total    int
	done     int
	found    int
	notFound int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer, in io.Reader, defaultOut string) *progressUI {
	p := &progressUI{
		w:                  w,
		defaultOut:         defaultOut,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
	if in != nil {
		p.in = bufio.NewReader(in)
	}
	return p
}

func (p *progressUI) OnStart(info run.StartInfo) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.startedAt.IsZero() {
		p.startedAt = now
	}
	p.workers = info.Workers

	fmt.Fprintf(p.w, "[%s] imdbcsv run %s\n", now.Format("15:04:05"), info.RunID)
	fmt.Fprintf(p.w, "  fields: %s\n", strings.Join(info.Fields, ", "))
	fmt.Fprintf(p.w, "  workers: %d\n", info.Workers)
	fmt.Fprintf(p.w, "  out: %s\n", info.Out)
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) SetMaximum(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.done, p.found, p.notFound = 0, 0, 0
	fmt.Fprintf(p.w, "执行: total=%d\n\n", total)
	if total > 0 && !p.tickerStarted {
		p.startTickerLocked()
	}
	p.lastPrinted = time.Now()
}

func (p *progressUI) OnItemDone(idx, total int, label string, valid bool, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = idx
	p.total = total

	if valid {
		p.found++
		fmt.Fprintf(p.w, "[%d/%d] OK %s (%s)\n", idx, total, truncate(label, 120), formatShortDuration(dur))
	} else {
		p.notFound++
		fmt.Fprintf(p.w, "[%d/%d] MISS %s (%s)\n", idx, total, label, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()

	// 最后一条完成：停止 ticker，避免在结束打印后又冒出 keepalive。
	if p.done >= p.total {
		p.stopTickerLocked()
	}
}

func (p *progressUI) OnNeedSavePath() (string, bool) {
	if p.in == nil {
		return p.defaultOut, p.defaultOut != ""
	}

	p.mu.Lock()
	fmt.Fprintf(p.w, "保存路径 [%s]: ", p.defaultOut)
	p.mu.Unlock()

	line, err := p.in.ReadString('\n')
	line = strings.TrimSpace(line)
	if err != nil && line == "" {
		// EOF（例如 Ctrl-D）：视为放弃。
		fmt.Fprintln(p.w)
		return "", false
	}
	if line == "" {
		line = p.defaultOut
	}
	return line, line != ""
}

// Close 停止 keepalive（取消/导出失败时 OnItemDone 不会走到最后一条）。
func (p *progressUI) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTickerLocked()
}

func (p *progressUI) stopTickerLocked() {
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stopCh := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && p.done >= p.total {
					p.mu.Unlock()
					return
				}

				if p.total > 0 && time.Since(p.lastPrinted) > threshold {
					active := p.workers
					remain := p.total - p.done
					if remain < active {
						active = remain
					}
					fmt.Fprintf(p.w, "进度: done=%d/%d found=%d not_found=%d active=%d elapsed=%s\n",
						p.done, p.total, p.found, p.notFound, active, formatElapsed(time.Since(p.startedAt)),
					)
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stopCh:
				return
			}
		}
	}()
}

// truncate 按字符（rune）截断，保证输出仍是合法 UTF-8。
func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
