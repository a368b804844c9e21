// Package knowledge 负责学习资料的解析、切分、向量化、入库与检索。
package knowledge

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 100
)

// DefaultSeparators 分隔符优先级：段落 > 行 > 单词 > 字符
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter 递归字符切分器，长度按字符（rune）计算。
// 实现 eino document.Transformer，可直接接在解析器之后。
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
	inner        textsplitter.RecursiveCharacter
}

var _ document.Transformer = Splitter{}

func NewSplitter(chunkSize, chunkOverlap int) Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	return Splitter{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		inner: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(DefaultSeparators),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
	}
}

// Split 切分文本；每个片段不超过 ChunkSize，相邻片段最多重叠 ChunkOverlap
func (s Splitter) Split(text string) ([]string, error) {
	chunks, err := s.inner.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	return chunks, nil
}

// Transform 把每个文档切成片段，片段继承原文档的元数据并以 "<id>#<seq>" 编号
func (s Splitter) Transform(ctx context.Context, src []*schema.Document, opts ...document.TransformerOption) ([]*schema.Document, error) {
	var out []*schema.Document
	for _, doc := range src {
		if doc == nil {
			continue
		}
		chunks, err := s.Split(doc.Content)
		if err != nil {
			return nil, err
		}
		for i, c := range chunks {
			meta := make(map[string]any, len(doc.MetaData)+1)
			for k, v := range doc.MetaData {
				meta[k] = v
			}
			meta[metaSeq] = i
			out = append(out, &schema.Document{
				ID:       fmt.Sprintf("%s#%d", doc.ID, i),
				Content:  c,
				MetaData: meta,
			})
		}
	}
	return out, nil
}
