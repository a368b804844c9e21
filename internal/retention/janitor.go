package retention

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store 由 storage.Storage 实现
type Store interface {
	DeleteSessionCheckpointsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error)
	DeleteAuditRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error)
}

// Janitor 周期性地按批删除过期数据
type Janitor struct {
	cfg    Config
	store  Store
	logger *zap.Logger

	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	runErrMu sync.Mutex
	runErr   error
}

func NewJanitor(store Store, cfg Config, logger *zap.Logger) (*Janitor, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		cfg:    cfg.withDefaults(),
		store:  store,
		logger: logger.With(zap.String("component", "retention")),
	}, nil
}

// Start 在后台运行清理循环，直到 ctx 取消或调用 Stop
func (j *Janitor) Start(ctx context.Context) error {
	if j == nil {
		return errors.New("janitor is nil")
	}
	if !j.started.CompareAndSwap(false, true) {
		return errors.New("janitor already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		if err := j.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			j.runErrMu.Lock()
			if j.runErr == nil {
				j.runErr = err
			}
			j.runErrMu.Unlock()
		}
	}()
	return nil
}

func (j *Janitor) Stop() {
	if j == nil || j.cancel == nil {
		return
	}
	j.cancel()
}

func (j *Janitor) Wait() error {
	if j == nil {
		return nil
	}
	j.wg.Wait()
	j.runErrMu.Lock()
	defer j.runErrMu.Unlock()
	return j.runErr
}

func (j *Janitor) Run(ctx context.Context) error {
	if err := j.RunOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := j.RunOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
	}
}

// RunOnce 以 now 为基准执行一轮清理
func (j *Janitor) RunOnce(ctx context.Context, now time.Time) error {
	type task struct {
		name string
		del  func(context.Context, time.Time, int) (int64, error)
		ttl  time.Duration
	}
	var tasks []task
	if j.cfg.SessionTTL > 0 {
		tasks = append(tasks, task{"session_checkpoints", j.store.DeleteSessionCheckpointsBeforeLimited, j.cfg.SessionTTL})
	}
	if j.cfg.AuditTTL > 0 {
		tasks = append(tasks, task{"audit_records", j.store.DeleteAuditRecordsBeforeLimited, j.cfg.AuditTTL})
	}
	if len(tasks) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(j.cfg.Workers, len(tasks)))
	for _, t := range tasks {
		g.Go(func() error {
			deleted, err := j.deleteBefore(gctx, t.del, now.Add(-t.ttl))
			if err != nil {
				return err
			}
			if deleted > 0 {
				j.logger.Info("pruned expired rows", zap.String("table", t.name), zap.Int64("deleted", deleted))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// 取消后的驱动错误不上报
		if ctx.Err() != nil {
			return ctx.Err()
		}
		j.cfg.OnError(err)
		return err
	}
	return nil
}

// deleteBefore 分批删除直到没有早于 before 的行
func (j *Janitor) deleteBefore(ctx context.Context, del func(context.Context, time.Time, int) (int64, error), before time.Time) (int64, error) {
	var total int64
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		affected, err := del(ctx, before, j.cfg.BatchRows)
		if err != nil {
			return total, err
		}
		total += affected
		if affected == 0 {
			return total, nil
		}
		if err := j.sleepIdle(ctx); err != nil {
			return total, err
		}
	}
}

func (j *Janitor) sleepIdle(ctx context.Context) error {
	if j.cfg.IdleSleep <= 0 {
		return nil
	}
	timer := time.NewTimer(j.cfg.IdleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
