package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "supportdesk.db")
	s, err := Open(ctx, Config{
		Path:      dbPath,
		EnableWAL: true,
	})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionCheckpointUpsert(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	if _, ok, err := s.GetSessionCheckpoint(ctx, "s-1"); err != nil || ok {
		t.Fatalf("expected missing checkpoint, ok=%v err=%v", ok, err)
	}

	first := SessionCheckpoint{SessionID: "s-1", Status: "suspended", Node: "refundTools", Payload: `{"v":1}`}
	if err := s.UpsertSessionCheckpoint(ctx, &first); err != nil {
		t.Fatalf("upsert first: %v", err)
	}
	second := SessionCheckpoint{SessionID: "s-1", Status: "completed", Payload: `{"v":2}`}
	if err := s.UpsertSessionCheckpoint(ctx, &second); err != nil {
		t.Fatalf("upsert second: %v", err)
	}

	got, ok, err := s.GetSessionCheckpoint(ctx, "s-1")
	if err != nil || !ok {
		t.Fatalf("get checkpoint: ok=%v err=%v", ok, err)
	}
	if got.Status != "completed" || got.Payload != `{"v":2}` || got.Node != "" {
		t.Fatalf("checkpoint not overwritten: %+v", got)
	}

	n, err := s.CountSessionCheckpoints(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 checkpoint row, got %d", n)
	}

	if err := s.DeleteSessionCheckpoint(ctx, "s-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.GetSessionCheckpoint(ctx, "s-1"); ok {
		t.Fatalf("checkpoint should be gone")
	}
}

func TestListSessionCheckpointsByStatus(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	for _, cp := range []SessionCheckpoint{
		{SessionID: "a", Status: "completed", Payload: "{}"},
		{SessionID: "b", Status: "suspended", Node: "refundTools", Payload: "{}"},
		{SessionID: "c", Status: "suspended", Node: "refundTools", Payload: "{}"},
	} {
		cp := cp
		if err := s.UpsertSessionCheckpoint(ctx, &cp); err != nil {
			t.Fatalf("upsert %s: %v", cp.SessionID, err)
		}
	}

	got, err := s.ListSessionCheckpoints(ctx, CheckpointQuery{Status: "suspended"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 suspended sessions, got %d", len(got))
	}
}

func TestAuditInsertQueryUpdate(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	rec := AuditRecord{
		TraceID:    "trace-1",
		SessionID:  "s-1",
		Action:     "refund_processing_tool",
		ParamsJSON: `{"emails":["18c3f21b5d6e789"]}`,
		Status:     "running",
		StartedAt:  time.Now().UTC(),
	}
	if err := s.InsertAuditRecord(ctx, &rec); err != nil {
		t.Fatalf("insert audit: %v", err)
	}
	if rec.ID == 0 {
		t.Fatalf("expected audit id to be assigned")
	}

	status := "success"
	result := `{"processed":1}`
	finished := time.Now().UTC()
	if err := s.UpdateAuditRecord(ctx, rec.ID, AuditUpdate{
		Status:     &status,
		ResultJSON: &result,
		FinishedAt: &finished,
	}); err != nil {
		t.Fatalf("update audit: %v", err)
	}

	got, err := s.QueryAuditRecords(ctx, AuditQuery{SessionID: "s-1", Limit: 10})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(got))
	}
	if got[0].Status != "success" || got[0].ResultJSON != result {
		t.Fatalf("unexpected audit record: %+v", got[0])
	}

	if err := s.UpdateAuditRecord(ctx, 9999, AuditUpdate{Status: &status}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
	if err := s.UpdateAuditRecord(ctx, rec.ID, AuditUpdate{}); err != nil {
		t.Fatalf("empty update should be a no-op: %v", err)
	}
}

func TestDeleteAuditRecordsKeepLatest(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		rec := AuditRecord{Action: "offers_query_tool", Status: "success"}
		if err := s.InsertAuditRecord(ctx, &rec); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	deleted, err := s.DeleteAuditRecordsKeepLatest(ctx, 3)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if deleted != 4 {
		t.Fatalf("expected 4 deleted, got %d", deleted)
	}
	n, err := s.CountAuditRecords(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 remaining, got %d", n)
	}
}

func TestRefundRecordsAllowDuplicates(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	recs := []RefundRecord{
		{EmailID: "18c3f21b5d6e789", SessionID: "s-1", Status: "processed"},
		{EmailID: "18c3f21b5d6e789", SessionID: "s-1", Status: "processed"},
	}
	if err := s.InsertRefundRecords(ctx, recs); err != nil {
		t.Fatalf("insert refunds: %v", err)
	}
	got, err := s.QueryRefundRecords(ctx, RefundQuery{EmailID: "18c3f21b5d6e789"})
	if err != nil {
		t.Fatalf("query refunds: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected duplicate refunds to be kept, got %d", len(got))
	}
}

func TestReplaceKnowledgeChunks(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	if err := s.ReplaceKnowledgeChunks(ctx, "docs/a.txt", []KnowledgeChunk{
		{Seq: 0, Content: "old one"},
		{Seq: 1, Content: "old two"},
	}); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	if err := s.ReplaceKnowledgeChunks(ctx, "docs/a.txt", []KnowledgeChunk{
		{Seq: 0, Content: "new"},
	}); err != nil {
		t.Fatalf("second replace: %v", err)
	}
	if err := s.ReplaceKnowledgeChunks(ctx, "docs/b.txt", []KnowledgeChunk{
		{Seq: 0, Content: "other"},
	}); err != nil {
		t.Fatalf("replace b: %v", err)
	}

	got, err := s.ListKnowledgeChunks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if got[0].Source != "docs/a.txt" || got[0].Content != "new" {
		t.Fatalf("unexpected first chunk: %+v", got[0])
	}
}

func TestKnowledgeChunkVectorColumn(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	if err := s.ReplaceKnowledgeChunks(ctx, "docs/v.md", []KnowledgeChunk{
		{Seq: 0, Content: "with vector", Vector: []float64{0.25, -1, 3.5}},
		{Seq: 1, Content: "without vector"},
	}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := s.ListKnowledgeChunks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if v := got[0].Vector; len(v) != 3 || v[0] != 0.25 || v[1] != -1 || v[2] != 3.5 {
		t.Fatalf("vector not restored: %v", v)
	}
	if len(got[1].Vector) != 0 {
		t.Fatalf("expected empty vector, got %v", got[1].Vector)
	}
}

func TestDeleteBeforeLimited(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	for i := 0; i < 3; i++ {
		rec := AuditRecord{Action: "get_emails_tool", Status: "success", CreatedAt: old}
		if err := s.InsertAuditRecord(ctx, &rec); err != nil {
			t.Fatalf("insert old audit: %v", err)
		}
	}
	fresh := AuditRecord{Action: "get_emails_tool", Status: "success"}
	if err := s.InsertAuditRecord(ctx, &fresh); err != nil {
		t.Fatalf("insert fresh audit: %v", err)
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	n, err := s.DeleteAuditRecordsBeforeLimited(ctx, cutoff, 2)
	if err != nil || n != 2 {
		t.Fatalf("first batch: n=%d err=%v", n, err)
	}
	n, err = s.DeleteAuditRecordsBeforeLimited(ctx, cutoff, 2)
	if err != nil || n != 1 {
		t.Fatalf("second batch: n=%d err=%v", n, err)
	}
	if left, _ := s.CountAuditRecords(ctx); left != 1 {
		t.Fatalf("expected fresh audit to remain, got %d", left)
	}

	for _, id := range []string{"stale", "live"} {
		if err := s.UpsertSessionCheckpoint(ctx, &SessionCheckpoint{SessionID: id, Status: "completed", Payload: "{}"}); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	// UpdateColumn 不触发自动更新时间
	if err := s.DB().Model(&SessionCheckpoint{}).Where("session_id = ?", "stale").UpdateColumn("updated_at", old).Error; err != nil {
		t.Fatalf("age checkpoint: %v", err)
	}
	n, err = s.DeleteSessionCheckpointsBeforeLimited(ctx, cutoff, 10)
	if err != nil || n != 1 {
		t.Fatalf("delete sessions: n=%d err=%v", n, err)
	}
	if _, ok, _ := s.GetSessionCheckpoint(ctx, "live"); !ok {
		t.Fatalf("live session should remain")
	}
}

func TestDeleteSessionCheckpointsKeepsSuspended(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)
	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	seed := func() {
		for id, status := range map[string]string{"done": "completed", "waiting": StatusSuspended} {
			if err := s.UpsertSessionCheckpoint(ctx, &SessionCheckpoint{SessionID: id, Status: status, Payload: "{}"}); err != nil {
				t.Fatalf("upsert %s: %v", id, err)
			}
		}
		if err := s.DB().Model(&SessionCheckpoint{}).Where("1 = 1").UpdateColumn("updated_at", old).Error; err != nil {
			t.Fatalf("age checkpoints: %v", err)
		}
	}

	// 两种清理方式都只删已结束的会话
	seed()
	n, err := s.DeleteSessionCheckpointsBefore(ctx, cutoff)
	if err != nil || n != 1 {
		t.Fatalf("delete before: n=%d err=%v", n, err)
	}
	if _, ok, _ := s.GetSessionCheckpoint(ctx, "waiting"); !ok {
		t.Fatalf("suspended session should survive DeleteSessionCheckpointsBefore")
	}

	seed()
	n, err = s.DeleteSessionCheckpointsBeforeLimited(ctx, cutoff, 10)
	if err != nil || n != 1 {
		t.Fatalf("delete limited: n=%d err=%v", n, err)
	}
	if _, ok, _ := s.GetSessionCheckpoint(ctx, "waiting"); !ok {
		t.Fatalf("suspended session should survive DeleteSessionCheckpointsBeforeLimited")
	}
	if _, ok, _ := s.GetSessionCheckpoint(ctx, "done"); ok {
		t.Fatalf("completed session should be pruned")
	}
}

func TestDialectorFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{"default sqlite", Config{Path: "x.db"}, DriverSQLite, false},
		{"sqlite in memory", Config{Driver: DriverSQLite, InMemory: true}, DriverSQLite, false},
		{"sqlite without path", Config{Driver: DriverSQLite}, "", true},
		{"postgres", Config{Driver: DriverPostgres, DSN: "host=localhost user=desk dbname=desk sslmode=disable"}, DriverPostgres, false},
		{"postgres without dsn", Config{Driver: DriverPostgres}, "", true},
		{"mysql", Config{Driver: DriverMySQL, DSN: "desk:secret@tcp(localhost:3306)/desk?parseTime=true"}, DriverMySQL, false},
		{"unknown", Config{Driver: "oracle", DSN: "x"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := dialectorFromConfig(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Name() != tt.want {
				t.Fatalf("dialect = %q, want %q", d.Name(), tt.want)
			}
		})
	}
}

func TestOpenReportsDriver(t *testing.T) {
	s := openTestStorage(t)
	if s.Driver() != DriverSQLite {
		t.Fatalf("driver = %q", s.Driver())
	}
}
