package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/finlearnhub/supportdesk/internal/retention"
	"github.com/finlearnhub/supportdesk/internal/storage"
)

// storageCmd represents the storage command
var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "管理存储和数据库",
	Long:  `查看数据库概况、会话与退款记录，清理审计记录和过期会话。`,
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "显示数据库统计概况",
	RunE:  runInfo,
}

// pruneAuditCmd represents the prune-audit command
var pruneAuditCmd = &cobra.Command{
	Use:   "prune-audit",
	Short: "清理审计记录",
	Long:  `根据用户指定的保留条数或天数，清理旧的审计记录。`,
	RunE:  runPruneAudit,
}

var pruneSessionsCmd = &cobra.Command{
	Use:   "prune-sessions",
	Short: "清理长时间未更新的会话快照（等待审批的会话保留）",
	RunE:  runPruneSessions,
}

var pruneExpiredCmd = &cobra.Command{
	Use:   "prune-expired",
	Short: "按 retention 配置立即清理一次过期会话与审计记录",
	RunE:  runPruneExpired,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "列出会话快照（可按状态过滤，例如 suspended）",
	RunE:  runSessions,
}

var refundsCmd = &cobra.Command{
	Use:   "refunds",
	Short: "列出已处理的退款",
	RunE:  runRefunds,
}

var (
	keepAuditCount   int
	keepAuditDays    int
	keepSessionDays  int
	sessionStatus    string
	refundSession    string
	storageListLimit int
)

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(infoCmd, pruneAuditCmd, pruneSessionsCmd, pruneExpiredCmd, sessionsCmd, refundsCmd)

	pruneAuditCmd.Flags().IntVar(&keepAuditCount, "keep", 0, "保留最近的 N 条记录")
	pruneAuditCmd.Flags().IntVar(&keepAuditDays, "days", 0, "保留最近 N 天的记录")
	pruneSessionsCmd.Flags().IntVar(&keepSessionDays, "days", 30, "保留最近 N 天内更新过的会话")
	sessionsCmd.Flags().StringVar(&sessionStatus, "status", "", "按运行状态过滤: running/suspended/completed/rejected")
	sessionsCmd.Flags().IntVar(&storageListLimit, "limit", 50, "最多显示的条数")
	refundsCmd.Flags().StringVar(&refundSession, "session", "", "只显示该会话的退款")
	refundsCmd.Flags().IntVar(&storageListLimit, "limit", 50, "最多显示的条数")
}

func runPruneAudit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if keepAuditCount <= 0 && keepAuditDays <= 0 {
		return fmt.Errorf("must specify either --keep or --days")
	}

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	var deletedCount int64

	if keepAuditCount > 0 {
		fmt.Fprintf(out, "Pruning audit records, keeping latest %d records...\n", keepAuditCount)
		count, err := store.DeleteAuditRecordsKeepLatest(ctx, keepAuditCount)
		if err != nil {
			return fmt.Errorf("prune by count: %w", err)
		}
		deletedCount += count
	}

	if keepAuditDays > 0 {
		before := time.Now().UTC().AddDate(0, 0, -keepAuditDays)
		fmt.Fprintf(out, "Pruning audit records older than %d days (before %s)...\n", keepAuditDays, before.Format(time.RFC3339))
		count, err := store.DeleteAuditRecordsBefore(ctx, before)
		if err != nil {
			return fmt.Errorf("prune by days: %w", err)
		}
		deletedCount += count
	}

	fmt.Fprintf(out, "Prune completed. Deleted %d records.\n", deletedCount)
	if count, err := store.CountAuditRecords(ctx); err == nil {
		fmt.Fprintf(out, "Remaining Audit Records: %d\n", count)
	}
	return nil
}

func runPruneSessions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if keepSessionDays <= 0 {
		return fmt.Errorf("--days must be positive")
	}

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	before := time.Now().UTC().AddDate(0, 0, -keepSessionDays)
	count, err := store.DeleteSessionCheckpointsBefore(ctx, before)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d finished sessions not updated since %s; sessions awaiting approval are kept.\n", count, before.Format(time.RFC3339))
	return nil
}

func runPruneExpired(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	janitor, err := retention.NewJanitor(store, cfg.Retention, logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Policy: sessions %s, audit %s\n", cfg.Retention.SessionTTL, cfg.Retention.AuditTTL)
	if err := janitor.RunOnce(ctx, time.Now().UTC()); err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}

	sessions, _ := store.CountSessionCheckpoints(ctx)
	audits, _ := store.CountAuditRecords(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "Prune completed. Remaining sessions: %d, audit records: %d\n", sessions, audits)
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	rows, err := store.ListSessionCheckpoints(ctx, storage.CheckpointQuery{Status: sessionStatus, Limit: storageListLimit})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Session\tStatus\tNode\tUpdated")
	fmt.Fprintln(w, "-------\t------\t----\t-------")
	for _, r := range rows {
		node := r.Node
		if node == "" {
			node = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.SessionID, r.Status, node, r.UpdatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runRefunds(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	rows, err := store.QueryRefundRecords(ctx, storage.RefundQuery{SessionID: refundSession, Limit: storageListLimit})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Email\tSession\tStatus\tTrace\tCreated")
	fmt.Fprintln(w, "-----\t-------\t------\t-----\t-------")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.EmailID, r.SessionID, r.Status, r.TraceID, r.CreatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	// 1. 数据库文件信息
	dbPath := cfg.Storage.Path
	if !filepath.IsAbs(dbPath) {
		if absPath, err := filepath.Abs(dbPath); err == nil {
			dbPath = absPath
		}
	}

	var dbSizeStr string
	switch info, err := os.Stat(dbPath); {
	case cfg.Storage.Driver != storage.DriverSQLite:
		dbSizeStr = fmt.Sprintf("External (%s)", cfg.Storage.Driver)
	case cfg.Storage.InMemory:
		dbSizeStr = "In-memory"
	case os.IsNotExist(err):
		dbSizeStr = "Not Found (Will be created on first run)"
	case err != nil:
		dbSizeStr = fmt.Sprintf("Error: %v", err)
	default:
		sizeMB := float64(info.Size()) / 1024 / 1024
		dbSizeStr = fmt.Sprintf("%.2f MB (%s)", sizeMB, dbPath)
	}

	// 2. 连接数据库
	store, err := openStorage(ctx)
	if err != nil {
		fmt.Fprintf(out, "Database File: %s\n", dbSizeStr)
		return err
	}
	defer store.Close()

	// 3. 统计
	counters := []struct {
		name  string
		count func(context.Context) (int64, error)
	}{
		{"SessionCheckpoints", store.CountSessionCheckpoints},
		{"AuditRecords", store.CountAuditRecords},
		{"RefundRecords", store.CountRefundRecords},
		{"KnowledgeChunks", store.CountKnowledgeChunks},
	}

	fmt.Fprintf(out, "Database File: %s\n", dbSizeStr)
	fmt.Fprintf(out, "Checkpoint Backend: %s\n\n", cfg.Checkpoint.Backend)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Table\tCount")
	fmt.Fprintln(w, "-----\t-----")
	for _, c := range counters {
		n, err := c.count(ctx)
		if err != nil {
			fmt.Fprintf(w, "%s\terror: %v\n", c.name, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\n", c.name, n)
	}
	return w.Flush()
}
