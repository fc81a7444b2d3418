package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/imdbcsv/internal/domain"
	"github.com/John-Robertt/imdbcsv/internal/export"
	"github.com/John-Robertt/imdbcsv/internal/fields"
)

// stubFetcher：ID 在 titles 中则命中（标题为对应值），否则未命中。
type stubFetcher struct {
	titles map[domain.Identifier]string
	delay  func(id domain.Identifier) time.Duration

	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
}

func (f *stubFetcher) Fetch(ctx context.Context, id domain.Identifier, chosen fields.Chosen) domain.Outcome {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay != nil {
		time.Sleep(f.delay(id))
	}

	title, ok := f.titles[id]
	if !ok {
		return domain.NotFound(id, domain.ErrCodeNotFound, "missing")
	}
	return domain.Success(id, chosen.Render(domain.MovieRecord{ID: id, Title: title}), title)
}

type recordObserver struct {
	mu sync.Mutex

	starts   int
	maximums []int
	labels   []string
	valid    []bool
	idx      []int

	savePath string
	askedFor int

	onItem func(idx int)
}

func (o *recordObserver) OnStart(info StartInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts++
}

func (o *recordObserver) SetMaximum(total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.maximums = append(o.maximums, total)
}

func (o *recordObserver) OnItemDone(idx, total int, label string, valid bool, dur time.Duration) {
	o.mu.Lock()
	o.idx = append(o.idx, idx)
	o.labels = append(o.labels, label)
	o.valid = append(o.valid, valid)
	cb := o.onItem
	o.mu.Unlock()

	if cb != nil {
		cb(idx)
	}
}

func (o *recordObserver) OnNeedSavePath() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.askedFor++
	return o.savePath, o.savePath != ""
}

type failingExporter struct{}

func (failingExporter) Export(rows []domain.Row, order []string, path string) error {
	return &export.IOError{Path: path, Err: errors.New("disk full")}
}

func newRegistry(t *testing.T) *fields.Registry {
	t.Helper()
	reg, err := fields.NewMovieRegistry()
	if err != nil {
		t.Fatalf("构造字段注册表失败：%v", err)
	}
	return reg
}

func readOut(t *testing.T, path string) ([]string, []domain.Row) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("打开导出文件失败：%v", err)
	}
	defer f.Close()
	header, rows, err := export.ReadCSV(f)
	if err != nil {
		t.Fatalf("读取导出文件失败：%v", err)
	}
	return header, rows
}

func TestProcess_MixedOutcomes(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.csv")
	fetcher := &stubFetcher{titles: map[domain.Identifier]string{"0000001": "A"}}
	obs := &recordObserver{}
	c := New(newRegistry(t), fetcher, export.CSV{}, Options{Workers: 4, Observer: obs, Logger: zerolog.Nop()})

	rr, err := c.Process(context.Background(), Request{
		Identifiers: []domain.Identifier{"0000001", "0000002"},
		Fields:      []string{"Title"},
		OutPath:     out,
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	if rr.Status != domain.StatusCompleted || c.LastPhase() != PhaseCompleted || c.Phase() != PhaseIdle {
		t.Fatalf("阶段不符合预期：status=%s last=%s now=%s", rr.Status, c.LastPhase(), c.Phase())
	}
	if rr.Summary.Total != 2 || rr.Summary.Completed != 2 || rr.Summary.Found != 1 || rr.Summary.NotFound != 1 || rr.Summary.Exported != 1 {
		t.Fatalf("summary 不符合预期：%+v", rr.Summary)
	}
	if rr.RunID == "" {
		t.Fatalf("期望生成 run_id")
	}

	got := append([]string(nil), obs.labels...)
	sort.Strings(got)
	if !reflect.DeepEqual(got, []string{"0000002", "A"}) {
		t.Fatalf("通知 label 不符合预期：%v", obs.labels)
	}
	if !reflect.DeepEqual(obs.maximums, []int{2}) || obs.starts != 1 {
		t.Fatalf("SetMaximum/OnStart 次数不符合预期：%v %d", obs.maximums, obs.starts)
	}
	for i, l := range obs.labels {
		if (l == "A") != obs.valid[i] {
			t.Fatalf("label=%q valid=%v 不一致", l, obs.valid[i])
		}
	}

	header, rows := readOut(t, out)
	if !reflect.DeepEqual(header, []string{"Title"}) || len(rows) != 1 || rows[0]["Title"] != "A" {
		t.Fatalf("导出内容不符合预期：%v %v", header, rows)
	}
}

func TestProcess_ExactlyOneNotificationPerID(t *testing.T) {
	const n = 50
	titles := map[domain.Identifier]string{}
	ids := make([]domain.Identifier, 0, n)
	for i := 0; i < n; i++ {
		id := domain.Identifier(fmt.Sprintf("%07d", i))
		ids = append(ids, id)
		if i%3 != 0 {
			titles[id] = "T" + string(id)
		}
	}
	fetcher := &stubFetcher{
		titles: titles,
		delay:  func(id domain.Identifier) time.Duration { return time.Duration(len(id)%3) * time.Millisecond },
	}
	obs := &recordObserver{}
	out := filepath.Join(t.TempDir(), "out.csv")
	c := New(newRegistry(t), fetcher, export.CSV{}, Options{Workers: 5, Observer: obs, Logger: zerolog.Nop()})

	rr, err := c.Process(context.Background(), Request{Identifiers: ids, Fields: []string{"Title", "IMDb ID"}, OutPath: out})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	if len(obs.labels) != n {
		t.Fatalf("期望 %d 次通知，实际 %d", n, len(obs.labels))
	}
	for i, idx := range obs.idx {
		if idx != i+1 {
			t.Fatalf("idx 应单调递增：%v", obs.idx)
		}
	}
	if got := fetcher.calls.Load(); got != n {
		t.Fatalf("每个 ID 应只查询一次，实际 %d 次", got)
	}
	if m := fetcher.maxSeen.Load(); m > 5 {
		t.Fatalf("并发超过 worker 上限：%d", m)
	}
	if rr.Summary.Found+rr.Summary.NotFound != n || c.State().Completed != n {
		t.Fatalf("结果数量不符合预期：%+v state=%+v", rr.Summary, c.State())
	}

	_, rows := readOut(t, out)
	if len(rows) != len(titles) {
		t.Fatalf("只应导出命中的记录：期望 %d，实际 %d", len(titles), len(rows))
	}
}

func TestProcess_CompletionOrder(t *testing.T) {
	// 第一个 ID 最慢：结果按完成顺序收集，而不是提交顺序。
	fetcher := &stubFetcher{
		titles: map[domain.Identifier]string{"0000001": "slow", "0000002": "fast"},
		delay: func(id domain.Identifier) time.Duration {
			if id == "0000001" {
				return 50 * time.Millisecond
			}
			return 0
		},
	}
	obs := &recordObserver{}
	out := filepath.Join(t.TempDir(), "out.csv")
	c := New(newRegistry(t), fetcher, export.CSV{}, Options{Workers: 2, Observer: obs, Logger: zerolog.Nop()})

	if _, err := c.Process(context.Background(), Request{
		Identifiers: []domain.Identifier{"0000001", "0000002"},
		Fields:      []string{"Title"},
		OutPath:     out,
	}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	if !reflect.DeepEqual(obs.labels, []string{"fast", "slow"}) {
		t.Fatalf("通知应按完成顺序：%v", obs.labels)
	}
	_, rows := readOut(t, out)
	if rows[0]["Title"] != "fast" || rows[1]["Title"] != "slow" {
		t.Fatalf("导出应按完成顺序：%v", rows)
	}
}

func TestProcess_CancelStopsConsumingAndExportsCollected(t *testing.T) {
	titles := map[domain.Identifier]string{}
	ids := make([]domain.Identifier, 0, 20)
	for i := 0; i < 20; i++ {
		id := domain.Identifier(fmt.Sprintf("%07d", i))
		ids = append(ids, id)
		titles[id] = "T" + string(id)
	}
	fetcher := &stubFetcher{titles: titles}
	obs := &recordObserver{}
	out := filepath.Join(t.TempDir(), "out.csv")
	c := New(newRegistry(t), fetcher, export.CSV{}, Options{Workers: 3, Observer: obs, Logger: zerolog.Nop()})

	obs.onItem = func(idx int) {
		if idx == 2 {
			c.Cancel()
			c.Cancel() // 幂等
		}
	}

	rr, err := c.Process(context.Background(), Request{Identifiers: ids, Fields: []string{"Title"}, OutPath: out})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	if rr.Status != domain.StatusCancelled || c.LastPhase() != PhaseCancelled {
		t.Fatalf("期望 cancelled，实际 %s", rr.Status)
	}
	st := c.State()
	if st.Completed != 2 || !st.Cancelled || st.Total != 20 {
		t.Fatalf("state 不符合预期：%+v", st)
	}
	if len(obs.labels) != 2 {
		t.Fatalf("观察到取消后不应再通知：%v", obs.labels)
	}
	_, rows := readOut(t, out)
	if len(rows) != 2 || rr.Summary.Exported != 2 {
		t.Fatalf("应导出已收集的 2 条：rows=%d exported=%d", len(rows), rr.Summary.Exported)
	}

	// 结束后 Cancel 无操作。
	c.Cancel()
	if c.Phase() != PhaseIdle {
		t.Fatalf("结束后应回到 Idle")
	}
}

func TestProcess_ContextCancelIsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &stubFetcher{titles: map[domain.Identifier]string{"0000001": "A", "0000002": "B", "0000003": "C"}}
	obs := &recordObserver{onItem: func(idx int) {
		if idx == 1 {
			cancel()
		}
	}}
	out := filepath.Join(t.TempDir(), "out.csv")
	c := New(newRegistry(t), fetcher, export.CSV{}, Options{Workers: 1, Observer: obs, Logger: zerolog.Nop()})

	rr, err := c.Process(ctx, Request{
		Identifiers: []domain.Identifier{"0000001", "0000002", "0000003"},
		Fields:      []string{"Title"},
		OutPath:     out,
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if rr.Status != domain.StatusCancelled || rr.Summary.Completed != 1 {
		t.Fatalf("期望在 1 条后取消：%+v", rr.Summary)
	}
}

func TestStart_ValidationKeepsIdle(t *testing.T) {
	reg := newRegistry(t)
	obs := &recordObserver{}
	c := New(reg, &stubFetcher{}, export.CSV{}, Options{Observer: obs, Logger: zerolog.Nop()})

	cases := []struct {
		name   string
		req    Request
		reason string
	}{
		{"no fields", Request{Identifiers: []domain.Identifier{"1"}, OutPath: "x.csv"}, ReasonNoFields},
		{"unknown fields", Request{Identifiers: []domain.Identifier{"1"}, Fields: []string{"Nope"}, OutPath: "x.csv"}, ReasonNoFields},
		{"no ids", Request{Fields: []string{"Title"}, OutPath: "x.csv"}, ReasonNoIdentifiers},
		{"blank ids", Request{Identifiers: []domain.Identifier{" "}, Fields: []string{"Title"}, OutPath: "x.csv"}, ReasonNoIdentifiers},
		{"no path", Request{Identifiers: []domain.Identifier{"1"}, Fields: []string{"Title"}}, ReasonNoSavePath},
	}
	for _, tc := range cases {
		_, err := c.Start(context.Background(), tc.req)
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Reason != tc.reason {
			t.Fatalf("%s：期望 ValidationError(%s)，实际 %v", tc.name, tc.reason, err)
		}
		if !IsValidation(err) {
			t.Fatalf("%s：IsValidation 应识别 %v", tc.name, err)
		}
		if c.Phase() != PhaseIdle {
			t.Fatalf("%s：校验失败后应保持 Idle", tc.name)
		}
	}
	if len(obs.maximums) != 0 || obs.starts != 0 {
		t.Fatalf("校验失败不应发出进度事件")
	}
	if obs.askedFor != 1 {
		t.Fatalf("只有缺少保存路径时才询问，实际询问 %d 次", obs.askedFor)
	}
}

func TestStart_AsksObserverForSavePath(t *testing.T) {
	out := filepath.Join(t.TempDir(), "picked.csv")
	obs := &recordObserver{savePath: out}
	c := New(newRegistry(t), &stubFetcher{titles: map[domain.Identifier]string{"1": "A"}}, export.CSV{}, Options{Observer: obs, Logger: zerolog.Nop()})

	rr, err := c.Process(context.Background(), Request{Identifiers: []domain.Identifier{"1"}, Fields: []string{"Title"}})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if rr.Out != out {
		t.Fatalf("应使用 Observer 返回的路径：%q", rr.Out)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("导出文件不存在：%v", err)
	}
}

func TestStart_BusyWhileRunning(t *testing.T) {
	gate := make(chan struct{})
	fetcher := &stubFetcher{
		titles: map[domain.Identifier]string{"1": "A"},
		delay: func(domain.Identifier) time.Duration {
			<-gate
			return 0
		},
	}
	out := filepath.Join(t.TempDir(), "out.csv")
	c := New(newRegistry(t), fetcher, export.CSV{}, Options{Logger: zerolog.Nop()})
	req := Request{Identifiers: []domain.Identifier{"1"}, Fields: []string{"Title"}, OutPath: out}

	ch, err := c.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if c.Phase() != PhaseRunning {
		t.Fatalf("期望 Running，实际 %s", c.Phase())
	}
	_, err = c.Start(context.Background(), req)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("期望 ErrBusy，实际 %v", err)
	}
	if IsValidation(err) {
		t.Fatalf("ErrBusy 不应被当作参数校验失败")
	}

	close(gate)
	res := <-ch
	if res.Phase != PhaseCompleted || res.Err != nil {
		t.Fatalf("run 结果不符合预期：%+v", res)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("结果 channel 应在产出后关闭")
	}
}

func TestProcess_ExportFailure(t *testing.T) {
	c := New(newRegistry(t), &stubFetcher{titles: map[domain.Identifier]string{"1": "A"}}, failingExporter{}, Options{Logger: zerolog.Nop()})

	rr, err := c.Process(context.Background(), Request{Identifiers: []domain.Identifier{"1"}, Fields: []string{"Title"}, OutPath: "x.csv"})
	if !export.IsIOError(err) {
		t.Fatalf("期望 IOError，实际 %v", err)
	}
	if rr.Status != domain.StatusFailed || rr.ErrorCode != domain.ErrCodeIOFailed || rr.Summary.Exported != 0 {
		t.Fatalf("报告不符合预期：%+v", rr)
	}
	if c.LastPhase() != PhaseFailed || c.Phase() != PhaseIdle {
		t.Fatalf("阶段不符合预期：last=%s now=%s", c.LastPhase(), c.Phase())
	}
}

func TestProcess_LimitsAppliedBeforeRun(t *testing.T) {
	reg := newRegistry(t)
	c := New(reg, &stubFetcher{}, export.CSV{}, Options{Logger: zerolog.Nop()})

	_, _ = c.Process(context.Background(), Request{
		Identifiers: []domain.Identifier{"1"},
		Fields:      []string{"Cast"},
		Limits:      map[string]int{"Cast": 99},
		OutPath:     filepath.Join(t.TempDir(), "out.csv"),
	})
	if got := reg.Limit("Cast"); got != 9 {
		t.Fatalf("上限应被截断到 9，实际 %d", got)
	}
}
