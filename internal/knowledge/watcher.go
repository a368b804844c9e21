package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher 监听文档变化，静默 debounce 之后重新索引改动过的文件
type Watcher struct {
	ix       *Indexer
	debounce time.Duration
	logger   *zap.Logger
	ready    chan struct{}

	// OnIndexed 每处理完一个文件调用一次，removed 表示该来源已被删除
	OnIndexed func(path string, chunks int, removed bool, err error)
}

func NewWatcher(ix *Indexer, debounce time.Duration, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		ix:       ix,
		debounce: debounce,
		logger:   logger.With(zap.String("component", "knowledge_watcher")),
		ready:    make(chan struct{}),
	}
}

// Ready 在所有路径都注册完成后关闭
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Watch 阻塞直到 ctx 取消。目录只监听第一层；单个文件通过其所在目录监听，兼容原子替换写入
func (w *Watcher) Watch(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return errors.New("no paths to watch")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	dirs := make(map[string]bool)
	files := make(map[string]bool)
	for _, p := range paths {
		p = filepath.Clean(p)
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		dir := p
		if !info.IsDir() {
			files[p] = true
			dir = filepath.Dir(p)
		} else {
			dirs[p] = true
		}
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	close(w.ready)
	w.logger.Info("watching knowledge documents", zap.Strings("paths", paths), zap.Duration("debounce", w.debounce))

	wanted := func(name string) bool {
		if files[name] {
			return true
		}
		return dirs[filepath.Dir(name)] && Supported(name) && !isHidden(name)
	}

	dirty := make(map[string]bool)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("file watcher closed")
			}
			name := filepath.Clean(ev.Name)
			if !wanted(name) || ev.Op == fsnotify.Chmod {
				continue
			}
			dirty[name] = true
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("file watcher closed")
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		case <-timer.C:
			for name := range dirty {
				w.sync(ctx, name)
			}
			clear(dirty)
		}
	}
}

// sync 文件仍存在则重新索引，否则删除其片段
func (w *Watcher) sync(ctx context.Context, path string) {
	var (
		n       int
		removed bool
		err     error
	)
	info, statErr := os.Stat(path)
	switch {
	case errors.Is(statErr, os.ErrNotExist):
		removed = true
		err = w.ix.Remove(ctx, path)
	case statErr != nil:
		err = statErr
	case info.IsDir():
		return
	default:
		n, err = w.ix.IndexFile(ctx, path)
	}
	if err != nil {
		w.logger.Warn("reindex failed", zap.String("path", path), zap.Error(err))
	}
	if w.OnIndexed != nil {
		w.OnIndexed(path, n, removed, err)
	}
}

// isHidden 跳过编辑器临时文件
func isHidden(path string) bool {
	base := filepath.Base(path)
	return len(base) > 0 && (base[0] == '.' || base[len(base)-1] == '~')
}
