package run

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/imdbcsv/internal/domain"
	"github.com/John-Robertt/imdbcsv/internal/fields"
)

// Phase 是协调器的运行阶段。
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseCompleted
	PhaseCancelled
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseCompleted:
		return domain.StatusCompleted
	case PhaseCancelled:
		return domain.StatusCancelled
	case PhaseFailed:
		return domain.StatusFailed
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// RunState 是一次 run 的计数状态；只有收集 goroutine 修改它。
type RunState struct {
	Total     int
	Completed int
	Cancelled bool
}

// Fetcher 对单个 ID 做一次查询；失败必须表现为 NotFound，而不是 panic/错误。
type Fetcher interface {
	Fetch(ctx context.Context, id domain.Identifier, chosen fields.Chosen) domain.Outcome
}

// Exporter 把收集到的记录写到 path；表头为 order。
type Exporter interface {
	Export(rows []domain.Row, order []string, path string) error
}

// ErrBusy 表示已有 run 处于 Running。
var ErrBusy = errors.New("已有任务在运行，请等待完成或先取消")

const (
	ReasonNoFields      = "no_fields"
	ReasonNoIdentifiers = "no_identifiers"
	ReasonNoSavePath    = "no_save_path"
)

// ValidationError 表示 run 的前置条件不满足；run 不会开始，阶段保持 Idle。
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonNoFields:
		return "未选择任何有效字段"
	case ReasonNoIdentifiers:
		return "输入中未找到任何 ID"
	case ReasonNoSavePath:
		return "未提供保存路径"
	default:
		return "参数校验失败：" + e.Reason
	}
}

// IsValidation 判断 err 是否为 *ValidationError。
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// Options 是协调器的构造参数。
type Options struct {
	// Workers 是 worker pool 上限；实际数量为 min(Workers, |ids|)，<1 视为 1。
	Workers  int
	Observer Observer
	Logger   zerolog.Logger
}

// Request 描述一次 run 的输入。
type Request struct {
	Identifiers []domain.Identifier
	// Fields 按选择顺序给出字段名，也就是导出表头顺序；未知名字会被丢弃。
	Fields []string
	// Limits 是列表字段上限（字段名 -> 值），会被截断到各自区间。
	Limits map[string]int
	// OutPath 为空时向 Observer 询问。
	OutPath string
}

// Result 是一次 run 的终态。
type Result struct {
	Phase  Phase
	Report domain.RunReport
	// Err 仅在导出失败时非 nil（*export.IOError 等）。
	Err error
}

// Coordinator 负责：并发抓取 + 收集 + 导出，并支持协作式取消。
//
// 同一个 Coordinator 同时只允许一个 run；重复 Start 返回 ErrBusy。
type Coordinator struct {
	reg      *fields.Registry
	fetcher  Fetcher
	exporter Exporter
	workers  int
	obs      Observer
	log      zerolog.Logger

	mu         sync.Mutex
	phase      Phase
	last       Phase
	state      RunState
	cancelCh   chan struct{}
	cancelOnce *sync.Once
}

func New(reg *fields.Registry, fetcher Fetcher, exporter Exporter, opts Options) *Coordinator {
	w := opts.Workers
	if w < 1 {
		w = 1
	}
	obs := opts.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Coordinator{
		reg:      reg,
		fetcher:  fetcher,
		exporter: exporter,
		workers:  w,
		obs:      obs,
		log:      opts.Logger,
		phase:    PhaseIdle,
		last:     PhaseIdle,
	}
}

// Phase 返回当前阶段（Idle 或 Running）。
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// LastPhase 返回最近一次 run 的终态；从未运行过时为 Idle。
func (c *Coordinator) LastPhase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// State 返回当前（或最近一次）run 的计数快照。
func (c *Coordinator) State() RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cancel 请求停止当前 run：不再派发新任务，收集循环在下一次消费前退出，
// 已收集的结果照常导出。幂等；不在 Running 时无操作。
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	if c.phase != PhaseRunning || c.cancelOnce == nil {
		c.mu.Unlock()
		return
	}
	ch, once := c.cancelCh, c.cancelOnce
	c.mu.Unlock()

	once.Do(func() { close(ch) })
}

// Process 与 Start 相同，但阻塞直到 run 结束。
func (c *Coordinator) Process(ctx context.Context, req Request) (domain.RunReport, error) {
	ch, err := c.Start(ctx, req)
	if err != nil {
		return domain.RunReport{}, err
	}
	res := <-ch
	return res.Report, res.Err
}

// Start 同步校验并进入 Running，随后在独立 goroutine 中抓取与导出。
// 返回的 channel 恰好产出一个 Result 后关闭。
//
// ctx 取消等同于 Cancel（同时会中断仍在进行的 HTTP 请求）。
func (c *Coordinator) Start(ctx context.Context, req Request) (<-chan Result, error) {
	if c.Phase() == PhaseRunning {
		return nil, ErrBusy
	}

	if c.reg.Select(req.Fields).Len() == 0 {
		return nil, &ValidationError{Reason: ReasonNoFields}
	}
	ids := dedupe(req.Identifiers)
	if len(ids) == 0 {
		return nil, &ValidationError{Reason: ReasonNoIdentifiers}
	}
	out := strings.TrimSpace(req.OutPath)
	if out == "" {
		if p, ok := c.obs.OnNeedSavePath(); ok {
			out = strings.TrimSpace(p)
		}
	}
	if out == "" {
		return nil, &ValidationError{Reason: ReasonNoSavePath}
	}

	c.mu.Lock()
	if c.phase == PhaseRunning {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.reg.ApplyLimits(req.Limits)
	chosen := c.reg.Select(req.Fields)

	cancelCh := make(chan struct{})
	c.phase = PhaseRunning
	c.state = RunState{Total: len(ids)}
	c.cancelCh = cancelCh
	c.cancelOnce = &sync.Once{}
	c.mu.Unlock()

	info := StartInfo{
		RunID:   uuid.NewString(),
		Out:     out,
		Fields:  chosen.Names(),
		Workers: min(c.workers, len(ids)),
	}
	c.obs.OnStart(info)
	c.obs.SetMaximum(len(ids))

	results := make(chan Result, 1)
	go func() {
		defer close(results)
		results <- c.run(ctx, info, ids, chosen, cancelCh)
	}()
	return results, nil
}

type timedOutcome struct {
	o   domain.Outcome
	dur time.Duration
}

func (c *Coordinator) run(ctx context.Context, info StartInfo, ids []domain.Identifier, chosen fields.Chosen, cancelCh <-chan struct{}) Result {
	started := time.Now()
	total := len(ids)
	log := c.log.With().Str("run_id", info.RunID).Logger()
	log.Info().
		Int("total", total).
		Int("workers", info.Workers).
		Strs("fields", info.Fields).
		Str("out", info.Out).
		Msg("run 开始")

	// results 缓冲到 total：收集循环提前退出后，仍在进行的任务也不会阻塞。
	jobs := make(chan domain.Identifier)
	results := make(chan timedOutcome, total)
	stop := make(chan struct{})

	for i := 0; i < info.Workers; i++ {
		go func() {
			for id := range jobs {
				oneStarted := time.Now()
				o := c.fetcher.Fetch(ctx, id, chosen)
				results <- timedOutcome{o: o, dur: time.Since(oneStarted)}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, id := range ids {
			select {
			case <-stop:
				return
			case <-cancelCh:
				return
			case <-ctx.Done():
				return
			case jobs <- id:
			}
		}
	}()

	rows := make([]domain.Row, 0, total)
	items := make([]domain.ItemResult, 0, total)
	done := 0
	cancelled := false

collect:
	for done < total {
		// 每次消费前先检查取消：观察到取消后不再消费、不再通知。
		select {
		case <-cancelCh:
			cancelled = true
			break collect
		case <-ctx.Done():
			cancelled = true
			break collect
		default:
		}

		var it timedOutcome
		select {
		case it = <-results:
		case <-cancelCh:
			cancelled = true
			break collect
		case <-ctx.Done():
			cancelled = true
			break collect
		}

		done++
		items = append(items, domain.ItemFromOutcome(it.o))
		if it.o.Found {
			rows = append(rows, it.o.Row)
		}
		c.mu.Lock()
		c.state.Completed = done
		c.mu.Unlock()

		c.obs.OnItemDone(done, total, it.o.Label, it.o.Found, it.dur)
	}
	close(stop)

	if cancelled {
		c.mu.Lock()
		c.state.Cancelled = true
		c.mu.Unlock()
	}

	rr := domain.RunReport{
		RunID:     info.RunID,
		Out:       info.Out,
		Fields:    info.Fields,
		StartedAt: started,
		Items:     items,
		Summary: domain.ReportSummary{
			Total:     total,
			Completed: done,
		},
	}

	phase := PhaseCompleted
	rr.Status = domain.StatusCompleted
	if cancelled {
		phase = PhaseCancelled
		rr.Status = domain.StatusCancelled
	}

	// 取消后仍然导出已收集的部分。
	err := c.exporter.Export(rows, info.Fields, info.Out)
	if err != nil {
		phase = PhaseFailed
		rr.Status = domain.StatusFailed
		rr.ErrorCode = domain.ErrCodeIOFailed
		rr.ErrorMsg = err.Error()
	} else {
		rr.Summary.Exported = len(rows)
	}

	rr.FinishedAt = time.Now()
	rr.Finalize()

	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Str("status", rr.Status).
		Int("completed", done).
		Int("found", rr.Summary.Found).
		Int("exported", rr.Summary.Exported).
		Dur("dur", time.Since(started)).
		Msg("run 结束")

	c.mu.Lock()
	c.phase = PhaseIdle
	c.last = phase
	c.mu.Unlock()

	return Result{Phase: phase, Report: rr, Err: err}
}

// dedupe 去掉空白与重复 ID，保持首次出现顺序。
func dedupe(in []domain.Identifier) []domain.Identifier {
	seen := make(map[domain.Identifier]struct{}, len(in))
	out := make([]domain.Identifier, 0, len(in))
	for _, id := range in {
		id = domain.Identifier(strings.TrimSpace(string(id)))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
