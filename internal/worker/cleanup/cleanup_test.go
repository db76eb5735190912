package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/recipebox/internal/model"
	"github.com/hitoshi/recipebox/internal/repository/memory"
)

type mockDeleter struct {
	called bool
	before time.Time
	n      int64
	err    error
}

func (m *mockDeleter) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	m.called = true
	m.before = before
	return m.n, m.err
}

type mockRecorder struct {
	purged []int64
}

func (m *mockRecorder) RecordSessionsPurged(n int64) {
	m.purged = append(m.purged, n)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestNewCleanupJob_Defaults(t *testing.T) {
	job := NewCleanupJob(&mockDeleter{}, nil, newTestLogger(&bytes.Buffer{}))
	if job.Interval != time.Hour {
		t.Errorf("Interval = %v, want 1h", job.Interval)
	}
}

func TestCleanupJob_Run_DeletesBeforeNow(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deleter := &mockDeleter{n: 5}
	rec := &mockRecorder{}
	job := NewCleanupJob(deleter, rec, newTestLogger(&buf))
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if !deleter.called || !deleter.before.Equal(now) {
		t.Errorf("DeleteExpired(before=%v), want %v", deleter.before, now)
	}
	if len(rec.purged) != 1 || rec.purged[0] != 5 {
		t.Errorf("recorded = %v, want [5]", rec.purged)
	}
}

func TestCleanupJob_Run_LogsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockDeleter{n: 42}, nil, newTestLogger(&buf))

	_ = job.Run(context.Background())

	found := false
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry["deleted_count"] == float64(42) {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("ログに deleted_count=42 が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_ReturnsErrorOnStoreFailure(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{}
	job := NewCleanupJob(&mockDeleter{err: sql.ErrConnDone}, rec, newTestLogger(&buf))

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("ストアエラー時に Run() はエラーを返すべき")
	}
	if !errors.Is(err, sql.ErrConnDone) {
		t.Errorf("err = %v, want to wrap sql.ErrConnDone", err)
	}
	if len(rec.purged) != 0 {
		t.Error("失敗時は削除件数を記録しない")
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("エラーログが出力されていない: %s", buf.String())
	}
}

func TestCleanupJob_Run_WithMemoryStore(t *testing.T) {
	ctx := context.Background()
	sessions := memory.NewSessionRepo()
	now := time.Now()

	for id, exp := range map[string]time.Time{
		"expired": now.Add(-time.Minute),
		"active":  now.Add(time.Hour),
	} {
		if err := sessions.Create(ctx, &model.Session{ID: id, UserEmail: "cook@example.com", ExpiresAt: exp}); err != nil {
			t.Fatal(err)
		}
	}

	job := NewCleanupJob(sessions, nil, newTestLogger(&bytes.Buffer{}))
	if err := job.Run(ctx); err != nil {
		t.Fatal(err)
	}

	if s, _ := sessions.FindByID(ctx, "active"); s == nil {
		t.Error("有効なセッションは残るべき")
	}
	// 2回目は削除対象なし（冪等）
	if err := job.Run(ctx); err != nil {
		t.Fatalf("2回目の Run() がエラーを返した: %v", err)
	}
}

func TestCleanupJob_Start_StopsOnCancel(t *testing.T) {
	deleter := &mockDeleter{}
	job := NewCleanupJob(deleter, nil, newTestLogger(&bytes.Buffer{}))
	job.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not stop after cancel")
	}
}
