package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/finlearnhub/supportdesk/internal/storage"
)

const defaultTopK = 4

// ChunkSource 提供全部知识片段，*storage.Storage 实现了它
type ChunkSource interface {
	ListKnowledgeChunks(ctx context.Context) ([]storage.KnowledgeChunk, error)
}

// Retriever 在知识片段中检索，实现 eino retriever.Retriever。
// 配置了向量化模型时按余弦相似度排序，只考虑带向量的片段；
// 未配置时退回离线的词项重叠打分。
type Retriever struct {
	source   ChunkSource
	topK     int
	embedder embedding.Embedder
	logger   *zap.Logger
	cache    *expirable.LRU[string, []*schema.Document]
}

var _ retriever.Retriever = (*Retriever)(nil)

type RetrieverOption func(*Retriever)

// WithCache 缓存同一查询的结果，ttl 内重新索引的内容不可见；size <= 0 时不缓存
func WithCache(size int, ttl time.Duration) RetrieverOption {
	return func(r *Retriever) {
		if size <= 0 {
			return
		}
		r.cache = expirable.NewLRU[string, []*schema.Document](size, nil, ttl)
	}
}

// WithEmbedder 用向量相似度检索，e 须与索引时使用的模型一致
func WithEmbedder(e embedding.Embedder) RetrieverOption {
	return func(r *Retriever) {
		r.embedder = e
	}
}

func NewRetriever(source ChunkSource, topK int, logger *zap.Logger, opts ...RetrieverOption) *Retriever {
	if topK <= 0 {
		topK = defaultTopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retriever{source: source, topK: topK, logger: logger.With(zap.String("component", "knowledge"))}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Purge 清空查询缓存
func (r *Retriever) Purge() {
	if r.cache != nil {
		r.cache.Purge()
	}
}

type scored struct {
	chunk storage.KnowledgeChunk
	score float64
}

func (r *Retriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := r.topK
	o := retriever.GetCommonOptions(&retriever.Options{TopK: &topK}, opts...)
	if o.TopK != nil && *o.TopK > 0 {
		topK = *o.TopK
	}

	// 向量检索以整句为键，词项检索以去重后的查询词为键
	terms := uniqueTerms(query)
	if r.embedder != nil {
		terms = strings.Fields(strings.ToLower(query))
	}
	if len(terms) == 0 {
		return nil, nil
	}

	var key string
	if r.cache != nil {
		key = cacheKey(r.mode(), terms, topK, o.ScoreThreshold)
		if docs, ok := r.cache.Get(key); ok {
			r.logger.Debug("knowledge cache hit", zap.String("query", query))
			return append([]*schema.Document(nil), docs...), nil
		}
	}

	chunks, err := r.source.ListKnowledgeChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load knowledge chunks: %w", err)
	}

	var hits []scored
	if r.embedder != nil {
		hits, err = r.rankByVector(ctx, query, chunks)
		if err != nil {
			return nil, err
		}
	} else {
		hits = rankByTerms(terms, chunks)
	}
	if o.ScoreThreshold != nil {
		kept := hits[:0]
		for _, h := range hits {
			if h.score >= *o.ScoreThreshold {
				kept = append(kept, h)
			}
		}
		hits = kept
	}

	// 分数相同按来源与序号，保证结果稳定
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if hits[i].chunk.Source != hits[j].chunk.Source {
			return hits[i].chunk.Source < hits[j].chunk.Source
		}
		return hits[i].chunk.Seq < hits[j].chunk.Seq
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	docs := make([]*schema.Document, 0, len(hits))
	for _, h := range hits {
		doc := &schema.Document{
			ID:      fmt.Sprintf("%s#%d", h.chunk.Source, h.chunk.Seq),
			Content: h.chunk.Content,
			MetaData: map[string]any{
				metaSource: h.chunk.Source,
				metaSeq:    h.chunk.Seq,
			},
		}
		docs = append(docs, doc.WithScore(h.score))
	}

	r.logger.Debug("knowledge retrieved",
		zap.String("query", query),
		zap.String("mode", r.mode()),
		zap.Int("candidates", len(chunks)),
		zap.Int("returned", len(docs)),
	)
	if r.cache != nil {
		r.cache.Add(key, append([]*schema.Document(nil), docs...))
	}
	return docs, nil
}

func (r *Retriever) mode() string {
	if r.embedder != nil {
		return "vector"
	}
	return "terms"
}

// rankByVector 向量化查询后与每个片段的向量比较；没有向量的片段需要重新索引才能被检索到
func (r *Retriever) rankByVector(ctx context.Context, query string, chunks []storage.KnowledgeChunk) ([]scored, error) {
	vecs, err := r.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 query", len(vecs))
	}

	hits := make([]scored, 0, len(chunks))
	missing := 0
	for _, c := range chunks {
		if len(c.Vector) == 0 {
			missing++
			continue
		}
		if s := cosine(vecs[0], c.Vector); s > 0 {
			hits = append(hits, scored{chunk: c, score: s})
		}
	}
	if missing > 0 {
		r.logger.Warn("knowledge chunks without vectors skipped, reindex to include them", zap.Int("chunks", missing))
	}
	return hits, nil
}

func rankByTerms(terms []string, chunks []storage.KnowledgeChunk) []scored {
	hits := make([]scored, 0, len(chunks))
	for _, c := range chunks {
		if s := score(terms, c.Content); s > 0 {
			hits = append(hits, scored{chunk: c, score: s})
		}
	}
	return hits
}

// cacheKey 词项模式下排序后拼接，词序不同的同义查询共用结果
func cacheKey(mode string, terms []string, topK int, threshold *float64) string {
	sorted := append([]string(nil), terms...)
	if mode == "terms" {
		sort.Strings(sorted)
	}
	th := "-"
	if threshold != nil {
		th = fmt.Sprintf("%g", *threshold)
	}
	return fmt.Sprintf("%s|%d|%s|%s", mode, topK, th, strings.Join(sorted, " "))
}

// score 命中的查询词数为主，词频取对数作为次要权重
func score(terms []string, content string) float64 {
	tf := make(map[string]int)
	for _, t := range tokenize(content) {
		tf[t]++
	}
	var s float64
	for _, t := range terms {
		if n := tf[t]; n > 0 {
			s += 1 + math.Log(float64(n))/10
		}
	}
	return s
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "of": true, "to": true,
	"in": true, "on": true, "for": true, "and": true, "or": true, "what": true, "which": true,
	"do": true, "does": true, "how": true, "i": true, "me": true, "my": true, "you": true,
	"your": true, "about": true, "can": true, "with": true, "it": true, "be": true,
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func uniqueTerms(query string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range tokenize(query) {
		if stopwords[t] || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
