package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/finlearnhub/supportdesk/internal/knowledge"
)

var (
	indexWatch    bool
	indexDebounce time.Duration
)

var indexCmd = &cobra.Command{
	Use:   "index PATH...",
	Short: "把学习资料写入知识库",
	Long: `解析并切分文档（.txt/.md/.pdf）后写入知识库，供学习支持团队检索。
配置了 knowledge.embedding 时同时为每个片段生成向量。
PATH 可以是文件或目录（只处理目录第一层）。同一文件重新索引时替换原有片段。
使用 --watch 持续监听改动并自动重新索引，删除的文件会从知识库移除。`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := openStorage(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		embedder, err := knowledge.NewEmbedder(ctx, cfg.Knowledge.Embedding)
		if err != nil {
			return err
		}
		var opts []knowledge.IndexerOption
		if embedder != nil {
			opts = append(opts, knowledge.WithIndexEmbedder(embedder, cfg.Knowledge.Embedding.BatchSize))
		}
		splitter := knowledge.NewSplitter(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)
		ix, err := knowledge.NewIndexer(ctx, store, splitter, logger, opts...)
		if err != nil {
			return err
		}

		files, err := expandDocuments(args)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		total := 0
		for _, path := range files {
			n, err := ix.IndexFile(ctx, path)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %d chunks\n", path, n)
			total += n
		}

		count, err := store.CountKnowledgeChunks(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Indexed %d chunks from %d files. Knowledge base now holds %d chunks.\n", total, len(files), count)

		if !indexWatch {
			return nil
		}

		w := knowledge.NewWatcher(ix, indexDebounce, logger)
		w.OnIndexed = func(path string, chunks int, removed bool, err error) {
			switch {
			case err != nil:
				fmt.Fprintf(out, "%s: error: %v\n", path, err)
			case removed:
				fmt.Fprintf(out, "%s: removed\n", path)
			default:
				fmt.Fprintf(out, "%s: %d chunks\n", path, chunks)
			}
		}
		fmt.Fprintln(out, "Watching for changes, press Ctrl+C to stop...")
		return w.Watch(ctx, args...)
	},
}

// expandDocuments 把目录展开为其中可索引的文件
func expandDocuments(args []string) ([]string, error) {
	var files []string
	for _, p := range args {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			name := filepath.Join(p, e.Name())
			if e.IsDir() || e.Name()[0] == '.' || !knowledge.Supported(name) {
				continue
			}
			files = append(files, name)
		}
	}
	return files, nil
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolVar(&indexWatch, "watch", false, "持续监听文件改动并重新索引")
	indexCmd.Flags().DurationVar(&indexDebounce, "debounce", 500*time.Millisecond, "改动静默多久后重新索引")
}
