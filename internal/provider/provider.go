package provider

import (
	"context"
	"net/http"

	"github.com/John-Robertt/imdbcsv/internal/domain"
)

// Provider 把“站点变化”限制在 provider 包内部；核心流程只依赖统一接口与稳定的 MovieRecord。
//
// 约束：
// - Fetch 不做缓存、不做重试（限速/超时由 httpx 层统一实现）
// - Parse 必须是纯函数：相同输入 => 相同输出
// - 不存在的 ID 必须让 Fetch 返回可被 IsNotFound 识别的错误
type Provider interface {
	Name() string
	Fetch(ctx context.Context, id domain.Identifier, c *http.Client) (html []byte, pageURL string, err error)
	Parse(id domain.Identifier, html []byte, pageURL string) (domain.MovieRecord, error)
}
