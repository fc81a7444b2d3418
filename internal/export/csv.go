package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/John-Robertt/imdbcsv/internal/domain"
	"github.com/John-Robertt/imdbcsv/internal/fields"
	"github.com/John-Robertt/imdbcsv/internal/infra/fsx"
)

// IOError 表示导出阶段的写入失败（run 的终态之一，不重试）。
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("导出失败：%q：%v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsIOError 判断 err 是否为导出写入失败。
func IsIOError(err error) bool {
	var e *IOError
	return errors.As(err, &e)
}

// WriteCSV 写表头（order）+ 每条记录一行；记录缺少的字段写 "n/a"。
func WriteCSV(w io.Writer, rows []domain.Row, order []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(order); err != nil {
		return err
	}
	line := make([]string, len(order))
	for _, r := range rows {
		for i, name := range order {
			v, ok := r[name]
			if !ok || v == "" {
				v = fields.NotAvailable
			}
			line[i] = v
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile 把 rows 原子写入 path（同目录临时文件 + rename），已存在则覆盖。
//
// 任何失败都包装为 *IOError；失败时旧文件保持不变。
func WriteFile(path string, rows []domain.Row, order []string) error {
	if path == "" {
		return &IOError{Path: path, Err: errors.New("保存路径为空")}
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows, order); err != nil {
		return &IOError{Path: path, Err: err}
	}
	dir, name := filepath.Split(filepath.Clean(path))
	if dir == "" {
		dir = "."
	}
	if err := fsx.WriteFileAtomicReplace(dir, name, buf.Bytes()); err != nil {
		return &IOError{Path: path, Err: err}
	}
	return nil
}

// ReadCSV 读回导出的文件：第一行为表头，其余为记录。
func ReadCSV(r io.Reader) ([]string, []domain.Row, error) {
	cr := csv.NewReader(r)
	all, err := cr.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(all) == 0 {
		return nil, nil, errors.New("空文件：缺少表头")
	}
	header := all[0]
	rows := make([]domain.Row, 0, len(all)-1)
	for _, rec := range all[1:] {
		row := make(domain.Row, len(header))
		for i, name := range header {
			if i < len(rec) {
				row[name] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

// CSV 是基于文件的导出器。
type CSV struct{}

func (CSV) Export(rows []domain.Row, order []string, path string) error {
	return WriteFile(path, rows, order)
}
