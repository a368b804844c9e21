package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/finlearnhub/supportdesk/internal/agent"
	"github.com/finlearnhub/supportdesk/internal/knowledge"
	"github.com/finlearnhub/supportdesk/internal/metrics"
	"github.com/finlearnhub/supportdesk/internal/retention"
	"github.com/finlearnhub/supportdesk/internal/tracing"
	"github.com/finlearnhub/supportdesk/internal/tui"
	"github.com/finlearnhub/supportdesk/internal/ui"
)

var (
	chatUI      string
	chatSession string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "进入交互式客服对话",
	Long: `进入对话模式，由前台分流到各专家团队。
退款处理前会显示待执行的调用并等待运维人员批准或拒绝。
使用 --session 可继续之前的会话（包括等待审批的会话）。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		go func() {
			select {
			case <-sigChan:
				cancel()
			case <-ctx.Done():
			}
		}()

		var uiImpl ui.ChatUI
		switch chatUI {
		case "console", "":
			uiImpl = &ui.ConsoleChatUI{In: os.Stdin, Out: os.Stdout}
		case "tui":
			if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
				return fmt.Errorf("tui requires an interactive terminal, use --ui console instead")
			}
			uiImpl = &tui.ChatUI{}
		default:
			return fmt.Errorf("unknown ui %q (supported: console, tui)", chatUI)
		}

		if err := cfg.ValidateModel(); err != nil {
			return err
		}

		store, err := openStorage(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		checkpoints, closeCheckpoints, err := openCheckpoints(ctx, cfg.Checkpoint, store)
		if err != nil {
			return err
		}
		defer closeCheckpoints()

		if cfg.Retention.Enabled {
			janitor, err := retention.NewJanitor(store, cfg.Retention, logger)
			if err != nil {
				return err
			}
			if err := janitor.Start(ctx); err != nil {
				return err
			}
			defer func() {
				janitor.Stop()
				if err := janitor.Wait(); err != nil {
					logger.Warn("retention stopped with error", zap.Error(err))
				}
			}()
		}

		tp, err := tracing.Init(ctx, cfg.Tracing, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("tracing shutdown failed", zap.Error(err))
			}
		}()

		cm, err := agent.NewChatModel(ctx, cfg.Model)
		if err != nil {
			return err
		}
		cm = agent.WithRateLimit(cm, cfg.Model.RateLimit, cfg.Model.Burst)

		classifier, err := agent.NewClassifierModel(ctx, cfg.Model)
		if err != nil {
			return err
		}
		classifier = agent.SharingRateLimit(classifier, cm)

		collector := metrics.NewCollector()
		if cfg.Metrics.Addr != "" {
			go func() {
				if err := collector.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
					logger.Warn("metrics endpoint stopped", zap.Error(err))
				}
			}()
		}

		embedder, err := knowledge.NewEmbedder(ctx, cfg.Knowledge.Embedding)
		if err != nil {
			return err
		}
		retrieverOpts := []knowledge.RetrieverOption{knowledge.WithCache(cfg.Knowledge.CacheSize, cfg.Knowledge.CacheTTL)}
		if embedder != nil {
			retrieverOpts = append(retrieverOpts, knowledge.WithEmbedder(embedder))
		}

		desk, err := agent.NewDesk(ctx, agent.Options{
			Model:          cm,
			Classifier:     classifier,
			Retriever:      knowledge.NewRetriever(store, cfg.Knowledge.TopK, logger, retrieverOpts...),
			TopK:           cfg.Knowledge.TopK,
			Refunds:        agent.NewStorageRefundRecorder(store),
			Audit:          store,
			Checkpoints:    checkpoints,
			SensitiveTools: cfg.Agent.SensitiveTools,
			MaxToolRounds:  cfg.Agent.MaxToolRounds,
			MaxRunSteps:    cfg.Agent.MaxRunSteps,
			Logger:         logger,
			Metrics:        collector,
		})
		if err != nil {
			return fmt.Errorf("build support desk: %w", err)
		}

		logger.Debug("chat session starting",
			zap.String("ui", chatUI),
			zap.String("session_id", chatSession),
			zap.String("checkpoint_backend", cfg.Checkpoint.Backend),
			zap.String("provider", cfg.Model.Provider),
			zap.Bool("vector_search", embedder != nil),
		)
		return uiImpl.Run(ctx, desk, ui.ChatOptions{
			SessionID:   chatSession,
			TurnTimeout: cfg.Agent.TurnTimeout,
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatUI, "ui", "console", "交互界面类型: console/tui")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "会话 ID，为空时生成新的会话")
}
