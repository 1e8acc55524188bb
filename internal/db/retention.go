package db

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const DefaultRetentionDays = 30

// Retention prunes the history store once a day.
type Retention struct {
	store    *Store
	days     int
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewRetention(store *Store, days int, logger *slog.Logger) *Retention {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retention{
		store:    store,
		days:     days,
		interval: 24 * time.Hour,
		now:      time.Now,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start prunes once immediately and then on every tick.
func (r *Retention) Start() {
	r.wg.Add(1)
	go r.run()
}

func (r *Retention) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Retention) run() {
	defer r.wg.Done()

	r.RunOnce(context.Background())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.RunOnce(context.Background())
		}
	}
}

// RunOnce removes entries older than the retention period.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().AddDate(0, 0, -r.days)
	n, err := r.store.Prune(ctx, cutoff)
	if err != nil {
		r.logger.Error("history pruning failed", "error", err)
		return 0, err
	}
	if n > 0 {
		r.logger.Info("history pruned", "removed", n, "cutoff", cutoff.Format(dayLayout))
	}
	return n, nil
}
