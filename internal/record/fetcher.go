package record

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/imdbcsv/internal/domain"
	"github.com/John-Robertt/imdbcsv/internal/fields"
	"github.com/John-Robertt/imdbcsv/internal/provider"
)

// Fetcher 对单个 ID 执行一次 provider 查询，并用选定字段渲染结果。
//
// 约束：
// - 单次阻塞调用，不重试
// - 不返回 error：任何失败都变成 NotFound（原因只进入报告与日志）
// - 并发安全：多个 worker 共享同一个 Fetcher
type Fetcher struct {
	Provider provider.Provider
	Client   *http.Client
	Log      zerolog.Logger
}

func (f Fetcher) Fetch(ctx context.Context, id domain.Identifier, chosen fields.Chosen) domain.Outcome {
	started := time.Now()

	rec, err := provider.Lookup(ctx, f.Provider, id, f.Client)
	if err != nil {
		code := provider.Classify(err)
		msg := provider.Humanize(err)
		f.Log.Debug().
			Str("id", string(id)).
			Str("error_code", code).
			Dur("dur", time.Since(started)).
			Err(err).
			Msg("查询未命中")
		return domain.NotFound(id, code, msg)
	}

	f.Log.Debug().
		Str("id", string(id)).
		Str("title", rec.Title).
		Dur("dur", time.Since(started)).
		Msg("查询成功")
	return domain.Success(id, chosen.Render(rec), rec.Title)
}
