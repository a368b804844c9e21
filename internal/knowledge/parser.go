package knowledge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/ledongthuc/pdf"
)

const (
	metaSource = "source"
	metaSeq    = "seq"
	metaPage   = "page"
)

// PDFParser 抽取 PDF 的纯文本，每页一个文档；没有文字的页跳过
type PDFParser struct{}

var _ parser.Parser = PDFParser{}

func (PDFParser) Parse(ctx context.Context, r io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	o := parser.GetCommonOptions(&parser.Options{}, opts...)

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	var docs []*schema.Document
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := p.Font(name)
				fonts[name] = &f
			}
		}
		text, err := p.GetPlainText(fonts)
		if err != nil {
			return nil, fmt.Errorf("extract pdf page %d: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		meta := map[string]any{metaPage: i}
		for k, v := range o.ExtraMeta {
			meta[k] = v
		}
		docs = append(docs, &schema.Document{
			ID:       fmt.Sprintf("%s@%d", o.URI, i),
			Content:  text,
			MetaData: meta,
		})
	}
	return docs, nil
}

// newDocumentParser 按扩展名选择解析器，文本类文件走 eino 的 TextParser
func newDocumentParser(ctx context.Context) (parser.Parser, error) {
	return parser.NewExtParser(ctx, &parser.ExtParserConfig{
		Parsers: map[string]parser.Parser{
			".pdf": PDFParser{},
		},
		FallbackParser: parser.TextParser{},
	})
}
