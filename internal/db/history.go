package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/orrn/printdispatch/internal/core"
)

const (
	dayLayout = "2006-01-02"

	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// HistoryEntry is one finished job as stored.
type HistoryEntry struct {
	ID          string     `json:"id"`
	PrinterID   string     `json:"printerId"`
	Kind        string     `json:"kind"`
	OrderNumber string     `json:"orderNumber"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"error,omitempty"`
	Transport   string     `json:"transport,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// DailyCount is the number of completed prints on one UTC day.
type DailyCount struct {
	Day    string `json:"day"`
	Prints int64  `json:"prints"`
}

// RecordJob stores a finished job. Completed jobs also bump the printer's
// counter for the day they completed.
func (s *Store) RecordJob(ctx context.Context, job core.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var completed sql.NullTime
	if job.CompletedAt != nil {
		completed = sql.NullTime{Time: job.CompletedAt.UTC(), Valid: true}
	}

	res, err := tx.ExecContext(ctx, s.rebind(insertHistory),
		job.ID, job.PrinterID, string(job.Kind), job.OrderNumber, string(job.Status),
		job.Attempts, job.LastError, job.Transport, job.CreatedAt.UTC(), completed)
	if err != nil {
		return fmt.Errorf("failed to insert history: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 && job.Status == core.JobStatusCompleted && completed.Valid {
		if _, err := tx.ExecContext(ctx, s.rebind(incrementCounter), job.PrinterID, completed.Time.Format(dayLayout)); err != nil {
			return fmt.Errorf("failed to increment daily counter: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history: %w", err)
	}
	return nil
}

// RecentJobs returns the newest entries for a printer.
func (s *Store) RecentJobs(ctx context.Context, printerID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(recentHistory), printerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var (
			e         HistoryEntry
			completed sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.PrinterID, &e.Kind, &e.OrderNumber, &e.Status,
			&e.Attempts, &e.LastError, &e.Transport, &e.CreatedAt, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		if completed.Valid {
			t := completed.Time.UTC()
			e.CompletedAt = &t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return entries, nil
}

// PrintCount sums completed prints between two days, inclusive.
func (s *Store) PrintCount(ctx context.Context, printerID string, from, to time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, s.rebind(sumCounters),
		printerID, from.UTC().Format(dayLayout), to.UTC().Format(dayLayout)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to sum print counters: %w", err)
	}
	return n, nil
}

func (s *Store) DailyCounts(ctx context.Context, printerID string, from, to time.Time) ([]DailyCount, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(dailyCounters),
		printerID, from.UTC().Format(dayLayout), to.UTC().Format(dayLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query print counters: %w", err)
	}
	defer rows.Close()

	var out []DailyCount
	for rows.Next() {
		var dc DailyCount
		if err := rows.Scan(&dc.Day, &dc.Prints); err != nil {
			return nil, fmt.Errorf("failed to scan print counter: %w", err)
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

// Prune deletes history finished before cutoff and counters for days before
// it. It returns the number of history rows removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()

	res, err := s.db.ExecContext(ctx, s.rebind(pruneHistory), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(pruneCounters), cutoff.Format(dayLayout)); err != nil {
		return 0, fmt.Errorf("failed to prune print counters: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
