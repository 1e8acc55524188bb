package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printdispatch/internal/core"
	"github.com/orrn/printdispatch/internal/document"
)

var day0 = time.Date(2026, time.March, 7, 10, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "", ":memory:")
	require.NoError(t, err)
	require.Equal(t, DriverSQLite, s.Driver())
	t.Cleanup(func() { s.Close() })
	return s
}

func finishedJob(id, printer string, status core.JobStatus, at time.Time) core.Job {
	created := at.Add(-5 * time.Second)
	return core.Job{
		ID:          id,
		PrinterID:   printer,
		Kind:        document.KindKOT,
		OrderNumber: "ORD-" + id,
		Status:      status,
		Attempts:    1,
		MaxAttempts: 3,
		CreatedAt:   created,
		CompletedAt: &at,
		Transport:   "network",
	}
}

func TestOpenAppliesMigrationsOnce(t *testing.T) {
	s := openTestStore(t)

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 1, n)

	require.NoError(t, s.migrate(context.Background(), migrationsFS))
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	assert.Error(t, err)
}

func TestRecordAndRecentJobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordJob(ctx, finishedJob("a", "kitchen-1", core.JobStatusCompleted, day0)))
	failed := finishedJob("b", "kitchen-1", core.JobStatusFailed, day0.Add(time.Minute))
	failed.Attempts = 3
	failed.LastError = "all transports failed: network: refused"
	failed.Transport = ""
	require.NoError(t, s.RecordJob(ctx, failed))
	require.NoError(t, s.RecordJob(ctx, finishedJob("c", "counter-1", core.JobStatusCompleted, day0)))

	// Recording the same job twice is a no-op.
	require.NoError(t, s.RecordJob(ctx, finishedJob("a", "kitchen-1", core.JobStatusCompleted, day0)))

	entries, err := s.RecentJobs(ctx, "kitchen-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "b", entries[0].ID)
	assert.Equal(t, "failed", entries[0].Status)
	assert.Equal(t, 3, entries[0].Attempts)
	assert.Equal(t, "all transports failed: network: refused", entries[0].LastError)

	assert.Equal(t, "a", entries[1].ID)
	assert.Equal(t, "kot", entries[1].Kind)
	assert.Equal(t, "ORD-a", entries[1].OrderNumber)
	assert.Equal(t, "network", entries[1].Transport)
	require.NotNil(t, entries[1].CompletedAt)
	assert.True(t, day0.Equal(*entries[1].CompletedAt))
	assert.True(t, day0.Add(-5*time.Second).Equal(entries[1].CreatedAt))

	entries, err = s.RecentJobs(ctx, "kitchen-1", 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPrintCounters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordJob(ctx, finishedJob("a", "kitchen-1", core.JobStatusCompleted, day0)))
	require.NoError(t, s.RecordJob(ctx, finishedJob("b", "kitchen-1", core.JobStatusCompleted, day0.Add(time.Hour))))
	require.NoError(t, s.RecordJob(ctx, finishedJob("c", "kitchen-1", core.JobStatusFailed, day0)))
	require.NoError(t, s.RecordJob(ctx, finishedJob("d", "kitchen-1", core.JobStatusCompleted, day0.AddDate(0, 0, 1))))
	require.NoError(t, s.RecordJob(ctx, finishedJob("a", "kitchen-1", core.JobStatusCompleted, day0)))

	n, err := s.PrintCount(ctx, "kitchen-1", day0, day0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "failed jobs and duplicates are not counted")

	n, err = s.PrintCount(ctx, "kitchen-1", day0, day0.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	daily, err := s.DailyCounts(ctx, "kitchen-1", day0.AddDate(0, 0, -1), day0.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, []DailyCount{{Day: "2026-03-07", Prints: 2}, {Day: "2026-03-08", Prints: 1}}, daily)
}

func TestRetentionPrunes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := day0.AddDate(0, 0, -40)
	require.NoError(t, s.RecordJob(ctx, finishedJob("old", "kitchen-1", core.JobStatusCompleted, old)))
	require.NoError(t, s.RecordJob(ctx, finishedJob("new", "kitchen-1", core.JobStatusCompleted, day0)))

	r := NewRetention(s, 30, nil)
	r.now = func() time.Time { return day0 }

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := s.RecentJobs(ctx, "kitchen-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].ID)

	count, err := s.PrintCount(ctx, "kitchen-1", old, day0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", pg.rebind("SELECT a FROM t WHERE b = ? AND c = ?"))

	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "SELECT ?", lite.rebind("SELECT ?"))
}
