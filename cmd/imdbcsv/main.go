package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/imdbcsv/internal/app/run"
	"github.com/John-Robertt/imdbcsv/internal/config"
	"github.com/John-Robertt/imdbcsv/internal/domain"
	"github.com/John-Robertt/imdbcsv/internal/export"
	"github.com/John-Robertt/imdbcsv/internal/fields"
	"github.com/John-Robertt/imdbcsv/internal/ident"
	"github.com/John-Robertt/imdbcsv/internal/infra/httpx"
	"github.com/John-Robertt/imdbcsv/internal/infra/logx"
	"github.com/John-Robertt/imdbcsv/internal/provider/imdb"
	"github.com/John-Robertt/imdbcsv/internal/record"
)

// DefaultOut 是未指定保存路径时的默认文件名（相对 cwd）。
const DefaultOut = "output.csv"

// 测试可替换。
var exitFunc = os.Exit

// cliEnv 收拢进程级依赖，便于在测试中替换为缓冲区。
type cliEnv struct {
	cwd    string
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	stdinTTY  bool
	stdoutTTY bool
	stderrTTY bool

	// signals 非 nil 时：第一次信号取消 run，第二次直接退出（130）。
	signals <-chan os.Signal
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage(os.Stdout)
		return
	}

	// .env 可选：不存在不报错，且不覆盖已有环境变量。
	_ = godotenv.Load()

	switch args[0] {
	case "run":
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
			os.Exit(1)
		}
		sig := make(chan os.Signal, 2)
		signal.Notify(sig, os.Interrupt)

		env := cliEnv{
			cwd:       cwd,
			stdin:     os.Stdin,
			stdout:    os.Stdout,
			stderr:    os.Stderr,
			stdinTTY:  isTTY(os.Stdin),
			stdoutTTY: isTTY(os.Stdout),
			stderrTTY: isTTY(os.Stderr),
			signals:   sig,
		}
		if code := runCmd(env, args[1:]); code != 0 {
			os.Exit(code)
		}
	case "fields":
		if code := fieldsCmd(os.Stdout, os.Stderr); code != 0 {
			os.Exit(code)
		}
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage(os.Stderr)
		os.Exit(2)
	}
}

func runCmd(env cliEnv, args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printRunUsage(env.stdout)
			return 0
		}
	}

	ra, err := parseRunArgs(args)
	if err != nil {
		fmt.Fprintf(env.stderr, "参数错误：%v\n\n", err)
		printRunUsage(env.stderr)
		return 2
	}

	eff, err := config.LoadEffective(env.cwd, config.CLIArgs{
		Fields:         ra.Fields,
		FieldsSet:      ra.FieldsSet,
		Limits:         ra.Limits,
		Out:            ra.Out,
		Concurrency:    ra.Concurrency,
		ConcurrencySet: ra.ConcurrencySet,
	})
	if err != nil {
		emitReport(env, reportForError("", domain.ErrCodeConfigInvalid, err))
		return 1
	}

	log := logx.New(env.stderr, eff.LogLevel, env.stderrTTY)

	reg, err := fields.NewMovieRegistry()
	if err != nil {
		// 字段注册错误是编程错误：启动即失败。
		log.Error().Err(err).Msg("初始化字段失败")
		return 1
	}

	ids, err := readIdentifiers(env, ra, eff.Pattern)
	if err != nil {
		emitReport(env, reportForError(eff.Out, domain.ErrCodeIOFailed, err))
		return 1
	}

	client, err := httpx.NewClient(httpx.Options{
		ProxyURL:   eff.ProxyURL,
		Timeout:    eff.Timeout,
		RatePerSec: eff.RateLimit,
	})
	if err != nil {
		emitReport(env, reportForError(eff.Out, domain.ErrCodeConfigInvalid, fmt.Errorf("proxy.url 无效：%w", err)))
		return 1
	}

	fetcher := record.Fetcher{
		Provider: imdb.Provider{BaseURL: eff.IMDbBaseURL},
		Client:   client,
		Log:      log,
	}

	names := eff.Fields
	if !ra.FieldsSet && len(names) == 0 {
		names = reg.Names()
	}

	defaultOut := filepath.Join(env.cwd, DefaultOut)
	progressW, interactive := pickProgressWriter(env)

	var (
		obs run.Observer
		ui  *progressUI
	)
	out := eff.Out
	if interactive {
		// 只有 stdin 是终端且未被用作输入时，才在终端询问保存路径。
		var prompt io.Reader
		if env.stdinTTY && ra.inputFromFlag() {
			prompt = env.stdin
		}
		ui = newProgressUI(progressW, prompt, defaultOut)
		obs = ui
	} else if out == "" {
		out = defaultOut
	}

	coord := run.New(reg, fetcher, export.CSV{}, run.Options{
		Workers:  eff.Concurrency,
		Observer: obs,
		Logger:   log,
	})

	ch, err := coord.Start(context.Background(), run.Request{
		Identifiers: ids,
		Fields:      names,
		Limits:      eff.Limits,
		OutPath:     out,
	})
	if err != nil {
		fmt.Fprintf(env.stderr, "%v\n", err)
		if run.IsValidation(err) {
			// 未选择字段 / 未找到 ID / 未给出保存路径：run 不会开始。
			emitReport(env, reportForError(out, domain.ErrCodeValidationFailed, err))
			return 2
		}
		emitReport(env, reportForError(out, domain.ErrCodeIOFailed, err))
		return 1
	}

	res := waitWithSignals(env, coord, ch, log)
	if ui != nil {
		ui.Close()
	}

	emitReport(env, res.Report)
	if res.Err != nil {
		fmt.Fprintf(env.stderr, "%v\n", res.Err)
		return 1
	}
	if interactive {
		fmt.Fprintf(progressW, "out: %s\n", res.Report.Out)
	}
	return 0
}

// waitWithSignals 等待 run 结束；第一次中断信号请求取消，第二次直接退出。
func waitWithSignals(env cliEnv, coord *run.Coordinator, ch <-chan run.Result, log zerolog.Logger) run.Result {
	interrupts := 0
	for {
		select {
		case res := <-ch:
			return res
		case <-env.signals:
			interrupts++
			if interrupts > 1 {
				log.Warn().Msg("再次中断：直接退出（不导出）")
				exitFunc(130)
				continue
			}
			fmt.Fprintln(env.stderr, "收到中断：停止派发，导出已完成的结果（再按一次直接退出）")
			coord.Cancel()
		}
	}
}

func readIdentifiers(env cliEnv, ra runArgs, pattern string) ([]domain.Identifier, error) {
	ex, err := ident.New(pattern)
	if err != nil {
		return nil, err
	}

	switch {
	case ra.Input != "":
		p := ra.Input
		if !filepath.IsAbs(p) {
			p = filepath.Join(env.cwd, p)
		}
		set, err := ex.ExtractFromFile(p)
		if err != nil {
			return nil, fmt.Errorf("读取输入文件失败：%w", err)
		}
		return set.Sorted(), nil
	case ra.TextSet:
		return ex.Extract(ra.Text).Sorted(), nil
	default:
		if env.stdinTTY {
			fmt.Fprintln(env.stderr, "从标准输入读取文本（Ctrl-D 结束）：")
		}
		b, err := io.ReadAll(env.stdin)
		if err != nil {
			return nil, fmt.Errorf("读取标准输入失败：%w", err)
		}
		return ex.Extract(string(b)).Sorted(), nil
	}
}

type runArgs struct {
	Input string

	Text    string
	TextSet bool

	Fields    []string
	FieldsSet bool

	Limits map[string]int
	Out    string

	Concurrency    int
	ConcurrencySet bool
}

func (ra runArgs) inputFromFlag() bool { return ra.Input != "" || ra.TextSet }

func parseRunArgs(args []string) (runArgs, error) {
	ra := runArgs{}

	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "--") {
			return runArgs{}, fmt.Errorf("未知参数 %q", a)
		}

		name, val, hasVal := strings.Cut(strings.TrimPrefix(a, "--"), "=")
		if !hasVal {
			if i+1 >= len(args) {
				return runArgs{}, fmt.Errorf("--%s 需要一个值", name)
			}
			i++
			val = args[i]
		}

		switch name {
		case "input":
			ra.Input = strings.TrimSpace(val)
			if ra.Input == "" {
				return runArgs{}, fmt.Errorf("--input 不能为空")
			}
		case "text":
			ra.Text = val
			ra.TextSet = true
		case "fields":
			ra.Fields = splitList(val)
			ra.FieldsSet = true
		case "limit":
			k, v, ok := strings.Cut(val, "=")
			k = strings.TrimSpace(k)
			if !ok || k == "" {
				return runArgs{}, fmt.Errorf("--limit 格式应为 字段名=数量，实际是 %q", val)
			}
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return runArgs{}, fmt.Errorf("--limit %s 的数量必须是整数：%q", k, v)
			}
			if ra.Limits == nil {
				ra.Limits = map[string]int{}
			}
			ra.Limits[k] = n
		case "out":
			ra.Out = val
		case "concurrency":
			n, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				return runArgs{}, fmt.Errorf("--concurrency 必须是整数：%q", val)
			}
			ra.Concurrency = n
			ra.ConcurrencySet = true
		default:
			return runArgs{}, fmt.Errorf("未知参数 %q", a)
		}
	}

	if ra.Input != "" && ra.TextSet {
		return runArgs{}, fmt.Errorf("--input 与 --text 只能二选一")
	}
	return ra, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fieldsCmd(stdout, stderr io.Writer) int {
	reg, err := fields.NewMovieRegistry()
	if err != nil {
		fmt.Fprintf(stderr, "初始化字段失败：%v\n", err)
		return 1
	}
	cfgs := reg.Configs()
	for _, name := range reg.Names() {
		c, ok := cfgs[name]
		if !ok || c == nil {
			fmt.Fprintln(stdout, name)
			continue
		}
		fmt.Fprintf(stdout, "%s\t%s [%d..%d] 默认 %d\n", name, c.Label, c.Min, c.Max, c.Default)
	}
	return 0
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `用法：
  imdbcsv run [--input file.csv | --text "..."] [--fields a,b] [--limit 字段=N]... [--out path] [--concurrency N]
  imdbcsv fields

命令：
  run     提取 IMDb ID，抓取详情并导出 CSV
  fields  列出可导出字段及列表上限

使用 "imdbcsv run --help" 查看详细说明。
`)
}

func printRunUsage(w io.Writer) {
	fmt.Fprint(w, `用法：
  imdbcsv run [--input file.csv | --text "..."] [--fields a,b] [--limit 字段=N]... [--out path] [--concurrency N]

参数：
  --input        CSV 文件（每行所有单元格拼接后提取 ID）
  --text         直接给出文本；两者都未指定时读取标准输入
  --fields       逗号分隔的字段名，决定导出列及顺序（默认全部字段）
  --limit        列表字段上限，例如 --limit Cast=5（可重复）
  --out          导出路径（未指定则读配置文件；交互终端会询问，默认 output.csv）
  --concurrency  并发数 [1, 32]（默认 4）
  -h, --help     显示帮助

中断：第一次 Ctrl-C 停止并导出已完成的结果，第二次直接退出。
`)
}

func emitReport(env cliEnv, rr domain.RunReport) {
	summary := fmt.Sprintf("完成：status=%s found=%d not_found=%d exported=%d",
		rr.Status, rr.Summary.Found, rr.Summary.NotFound, rr.Summary.Exported,
	)

	if env.stdoutTTY {
		fmt.Fprintln(env.stdout, summary)
		if rr.ErrorCode != "" {
			fmt.Fprintf(env.stderr, "%s: %s\n", rr.ErrorCode, rr.ErrorMsg)
		}
		for _, it := range rr.Items {
			if it.Status != domain.ItemStatusNotFound {
				continue
			}
			fmt.Fprintf(env.stderr, "%s %s: %s\n", it.ID, it.ErrorCode, it.ErrorMsg)
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	enc := json.NewEncoder(env.stdout)
	_ = enc.Encode(rr)
	fmt.Fprintln(env.stderr, summary)
}

// reportForError 为“run 未开始”的失败合成一份报告，保持 stdout JSON 契约。
func reportForError(out, code string, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		Out:        out,
		StartedAt:  now,
		FinishedAt: now,
		Status:     domain.StatusFailed,
		ErrorCode:  code,
		ErrorMsg:   err.Error(),
	}
	rr.Finalize()
	return rr
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter(env cliEnv) (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if env.stderrTTY {
		return env.stderr, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是 TTY：退化输出到 stdout。
	if env.stdoutTTY {
		return env.stdout, true
	}
	return nil, false
}
