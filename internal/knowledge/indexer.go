package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/finlearnhub/supportdesk/internal/storage"
)

// ChunkSink 保存某个来源的全部片段，*storage.Storage 实现了它
type ChunkSink interface {
	ReplaceKnowledgeChunks(ctx context.Context, source string, chunks []storage.KnowledgeChunk) error
}

// Indexer 把文档解析、切分（可选向量化）后写入知识库；同一来源重复索引时整体替换
type Indexer struct {
	sink     ChunkSink
	parser   parser.Parser
	splitter Splitter
	embedder embedding.Embedder
	batch    int
	logger   *zap.Logger
}

type IndexerOption func(*Indexer)

// WithIndexEmbedder 入库前为每个片段生成向量，batch 为单次请求的片段数
func WithIndexEmbedder(e embedding.Embedder, batch int) IndexerOption {
	return func(ix *Indexer) {
		ix.embedder = e
		ix.batch = batch
	}
}

func NewIndexer(ctx context.Context, sink ChunkSink, splitter Splitter, logger *zap.Logger, opts ...IndexerOption) (*Indexer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p, err := newDocumentParser(ctx)
	if err != nil {
		return nil, fmt.Errorf("init document parser: %w", err)
	}
	ix := &Indexer{
		sink:     sink,
		parser:   p,
		splitter: splitter,
		logger:   logger.With(zap.String("component", "indexer")),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// IndexFile 索引文本、Markdown 或 PDF 文件，返回片段数
func (ix *Indexer) IndexFile(ctx context.Context, path string) (int, error) {
	if !Supported(path) {
		return 0, fmt.Errorf("unsupported document type %q (supported: .txt, .md, .pdf)", filepath.Ext(path))
	}
	path = filepath.Clean(path)
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("read document: %w", err)
	}
	defer f.Close()

	docs, err := ix.parser.Parse(ctx, f,
		parser.WithURI(lowerExt(path)),
		parser.WithExtraMeta(map[string]any{metaSource: path}),
	)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return ix.index(ctx, path, docs)
}

func (ix *Indexer) IndexText(ctx context.Context, source, text string) (int, error) {
	return ix.index(ctx, source, []*schema.Document{{
		Content:  text,
		MetaData: map[string]any{metaSource: source},
	}})
}

func (ix *Indexer) index(ctx context.Context, source string, docs []*schema.Document) (int, error) {
	for _, d := range docs {
		if d.ID == "" {
			d.ID = source
		}
		d.Content = strings.ReplaceAll(d.Content, "\r\n", "\n")
	}
	pieces, err := ix.splitter.Transform(ctx, docs)
	if err != nil {
		return 0, err
	}

	chunks := make([]storage.KnowledgeChunk, 0, len(pieces))
	for i, p := range pieces {
		chunks = append(chunks, storage.KnowledgeChunk{Seq: i, Content: p.Content})
	}
	if ix.embedder != nil && len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i := range chunks {
			texts[i] = chunks[i].Content
		}
		vecs, err := embedAll(ctx, ix.embedder, texts, ix.batch)
		if err != nil {
			return 0, fmt.Errorf("embed %s: %w", source, err)
		}
		for i := range chunks {
			chunks[i].Vector = vecs[i]
		}
	}
	if err := ix.sink.ReplaceKnowledgeChunks(ctx, source, chunks); err != nil {
		return 0, err
	}

	ix.logger.Info("document indexed",
		zap.String("source", source),
		zap.Int("chunks", len(chunks)),
		zap.Int("chunk_size", ix.splitter.ChunkSize),
		zap.Int("overlap", ix.splitter.ChunkOverlap),
		zap.Bool("embedded", ix.embedder != nil),
	)
	return len(chunks), nil
}

// Remove 删除某个来源的全部片段
func (ix *Indexer) Remove(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	if err := ix.sink.ReplaceKnowledgeChunks(ctx, path, nil); err != nil {
		return err
	}
	ix.logger.Info("document removed", zap.String("source", path))
	return nil
}

// lowerExt 扩展名转小写，解析器按小写扩展名注册
func lowerExt(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + strings.ToLower(ext)
}

// Supported 判断文件类型能否索引
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown", ".pdf", "":
		return true
	}
	return false
}
