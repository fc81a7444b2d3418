package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/John-Robertt/imdbcsv/internal/domain"
	"github.com/John-Robertt/imdbcsv/internal/export"
)

func newIMDbServer(t *testing.T) *httptest.Server {
	t.Helper()
	page, err := os.ReadFile(filepath.Join("..", "..", "internal", "provider", "imdb", "testdata", "tt0133093.html"))
	if err != nil {
		t.Fatalf("读取 fixture 失败：%v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/title/tt0133093/" {
			_, _ = w.Write(page)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEnv(t *testing.T, baseURL string) (cliEnv, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	cwd := t.TempDir()
	cfg := `{"imdb_base_url":"` + baseURL + `","concurrency":2}`
	if err := os.WriteFile(filepath.Join(cwd, "imdbcsv.json"), []byte(cfg), 0o644); err != nil {
		t.Fatalf("写入配置失败：%v", err)
	}
	var stdout, stderr bytes.Buffer
	return cliEnv{
		cwd:    cwd,
		stdin:  strings.NewReader(""),
		stdout: &stdout,
		stderr: &stderr,
	}, &stdout, &stderr
}

func TestRunCmd_NoTTY_StdoutOnlyRunReportJSON(t *testing.T) {
	// 锁定对外契约：stdout 非 TTY 时只能输出一个 RunReport JSON。
	srv := newIMDbServer(t)
	env, stdout, stderr := newTestEnv(t, srv.URL)

	code := runCmd(env, []string{"--text", "see tt0133093 and tt9999999", "--fields", "Title,URL"})
	if code != 0 {
		t.Fatalf("期望退出码 0，实际 %d\nstderr=%s", code, stderr.String())
	}

	var rr domain.RunReport
	if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
		t.Fatalf("stdout 不是合法的 RunReport JSON：%v\nstdout=%q", err, stdout.String())
	}
	if rr.Status != domain.StatusCompleted || rr.Summary.Found != 1 || rr.Summary.NotFound != 1 || rr.Summary.Exported != 1 {
		t.Fatalf("报告不符合预期：%+v", rr)
	}
	if !strings.Contains(stderr.String(), "完成：status=completed") {
		t.Fatalf("stderr 缺少完成摘要：%q", stderr.String())
	}

	// 未指定保存路径：非交互时使用 cwd 下的默认文件。
	f, err := os.Open(filepath.Join(env.cwd, DefaultOut))
	if err != nil {
		t.Fatalf("导出文件不存在：%v", err)
	}
	defer f.Close()
	header, rows, err := export.ReadCSV(f)
	if err != nil {
		t.Fatalf("读取导出文件失败：%v", err)
	}
	if !reflect.DeepEqual(header, []string{"Title", "URL"}) || len(rows) != 1 {
		t.Fatalf("导出内容不符合预期：%v %v", header, rows)
	}
	if rows[0]["URL"] != "http://www.imdb.com/title/tt0133093" {
		t.Fatalf("URL 不符合预期：%q", rows[0]["URL"])
	}
}

func TestRunCmd_StdinInputAndOutFlag(t *testing.T) {
	srv := newIMDbServer(t)
	env, _, stderr := newTestEnv(t, srv.URL)
	env.stdin = strings.NewReader("id\ntt0133093\n")

	code := runCmd(env, []string{"--fields=Title", "--out", "res/movies.csv"})
	if code != 0 {
		t.Fatalf("期望退出码 0，实际 %d\nstderr=%s", code, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(env.cwd, "res", "movies.csv")); err != nil {
		t.Fatalf("--out 指定的文件不存在：%v", err)
	}
}

func TestRunCmd_ValidationFailures(t *testing.T) {
	srv := newIMDbServer(t)

	env, stdout, _ := newTestEnv(t, srv.URL)
	if code := runCmd(env, []string{"--text", "no ids here"}); code != 2 {
		t.Fatalf("未找到 ID 应返回 2，实际 %d", code)
	}
	var rr domain.RunReport
	if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
		t.Fatalf("stdout 不是合法 JSON：%v", err)
	}
	if rr.ErrorCode != domain.ErrCodeValidationFailed {
		t.Fatalf("期望 validation_failed，实际 %q", rr.ErrorCode)
	}

	env, _, _ = newTestEnv(t, srv.URL)
	if code := runCmd(env, []string{"--text", "tt0133093", "--fields="}); code != 2 {
		t.Fatalf("未选择字段应返回 2，实际 %d", code)
	}
	if _, err := os.Stat(filepath.Join(env.cwd, DefaultOut)); !os.IsNotExist(err) {
		t.Fatalf("校验失败不应写入文件：%v", err)
	}
}

func TestRunCmd_ConfigInvalid(t *testing.T) {
	env, stdout, _ := newTestEnv(t, "ftp://nope")

	if code := runCmd(env, []string{"--text", "tt0133093"}); code != 1 {
		t.Fatalf("配置无效应返回 1，实际 %d", code)
	}
	var rr domain.RunReport
	if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
		t.Fatalf("stdout 不是合法 JSON：%v", err)
	}
	if rr.ErrorCode != domain.ErrCodeConfigInvalid || rr.Status != domain.StatusFailed {
		t.Fatalf("报告不符合预期：%+v", rr)
	}
}

func TestParseRunArgs(t *testing.T) {
	ra, err := parseRunArgs([]string{
		"--input", "in.csv",
		"--fields=Title, Cast ,",
		"--limit", "Cast=5",
		"--limit=Genres=2",
		"--out", "o.csv",
		"--concurrency", "8",
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if ra.Input != "in.csv" || ra.Out != "o.csv" || ra.Concurrency != 8 || !ra.ConcurrencySet {
		t.Fatalf("解析结果不符合预期：%+v", ra)
	}
	if !reflect.DeepEqual(ra.Fields, []string{"Title", "Cast"}) || !ra.FieldsSet {
		t.Fatalf("fields 不符合预期：%v", ra.Fields)
	}
	if !reflect.DeepEqual(ra.Limits, map[string]int{"Cast": 5, "Genres": 2}) {
		t.Fatalf("limits 不符合预期：%v", ra.Limits)
	}
}

func TestParseRunArgs_Errors(t *testing.T) {
	cases := [][]string{
		{"positional"},
		{"--unknown", "x"},
		{"--limit", "Cast"},
		{"--limit", "Cast=many"},
		{"--concurrency", "x"},
		{"--input", "a.csv", "--text", "tt1"},
		{"--out"},
	}
	for _, args := range cases {
		if _, err := parseRunArgs(args); err == nil {
			t.Fatalf("期望错误：%v", args)
		}
	}
}

func TestFieldsCmd_ListsAllFields(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := fieldsCmd(&stdout, &stderr); code != 0 {
		t.Fatalf("期望退出码 0，实际 %d：%s", code, stderr.String())
	}
	out := stdout.String()
	if !strings.HasPrefix(out, "Title\n") {
		t.Fatalf("应按注册顺序输出，首行为 Title：%q", out)
	}
	if !strings.Contains(out, "Cast\tMax cast [1..9] 默认 3") {
		t.Fatalf("列表字段应输出上限配置：%q", out)
	}
}
