package knowledge

import (
	"context"
	"fmt"
	"math"

	arkemb "github.com/cloudwego/eino-ext/components/embedding/ark"
	openaiemb "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"github.com/finlearnhub/supportdesk/internal/config"
)

const defaultEmbedBatch = 16

// NewEmbedder 按配置初始化向量化模型；未配置 provider 时返回 nil，检索退回词项匹配
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case config.ProviderArk:
		e, err := arkemb.NewEmbedder(ctx, &arkemb.EmbeddingConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.ModelID,
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init ark embedder: %w", err)
		}
		return e, nil
	case config.ProviderOpenAI:
		e, err := openaiemb.NewEmbedder(ctx, &openaiemb.EmbeddingConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.ModelID,
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init openai embedder: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
}

// embedAll 分批向量化，返回的向量与 texts 一一对应
func embedAll(ctx context.Context, e embedding.Embedder, texts []string, batch int) ([][]float64, error) {
	if batch <= 0 {
		batch = defaultEmbedBatch
	}
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += batch {
		end := min(start+batch, len(texts))
		vecs, err := e.EmbedStrings(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// cosine 余弦相似度；维度不一致或任一为零向量时返回 0
func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
