package core

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orrn/printdispatch/internal/transport"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetainJobs  = 500
)

type QueueOptions struct {
	MaxAttempts int
	// SettleDelay separates consecutive jobs so the print head can settle.
	// It is not slept after the last job.
	SettleDelay time.Duration
	// RetainJobs caps how many finished jobs stay visible in memory.
	RetainJobs int

	Now      func() time.Time
	Events   EventSink
	Recorder Recorder
	Metrics  Metrics
	Logger   *slog.Logger
}

func (o *QueueOptions) withDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.RetainJobs <= 0 {
		o.RetainJobs = DefaultRetainJobs
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Outcome is the result of the most recent delivery attempt.
type Outcome struct {
	At        time.Time
	Transport string
	Err       error
}

// QueueSnapshot is a consistent copy of a queue's state.
type QueueSnapshot struct {
	PrinterID  string
	Pending    int
	Processing bool
	Jobs       []Job
}

// QueueManager owns the jobs of one printer. A single worker goroutine
// drains the queue, one job at a time; it is started on demand and exits
// when the queue is empty.
type QueueManager struct {
	printerID  string
	dispatcher Dispatcher
	opts       QueueOptions
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup

	// line is held while a payload is on the wire.
	line sync.Mutex

	mu         sync.Mutex
	pending    []*Job
	current    *Job
	finished   []*Job
	processing bool
	stopped    bool
	seq        uint64
	last       *Outcome
	settled    time.Time
}

func NewQueueManager(printerID string, d Dispatcher, opts QueueOptions) *QueueManager {
	opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &QueueManager{
		printerID:  printerID,
		dispatcher: d,
		opts:       opts,
		logger:     opts.Logger.With("printer", printerID),
		ctx:        ctx,
		cancel:     cancel,
		stopCh:     make(chan struct{}),
	}
}

// Enqueue appends job to the tail and starts the worker if it is idle. It
// returns the job's 1-based position among pending jobs.
func (q *QueueManager) Enqueue(job *Job) (int, error) {
	if len(job.Content) == 0 {
		return 0, ErrEmptyPayload
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return 0, ErrQueueStopped
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.PrinterID = q.printerID
	job.Status = JobStatusQueued
	job.Attempts = 0
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.opts.MaxAttempts
	}
	job.CreatedAt = q.opts.Now()
	q.seq++
	job.seq = q.seq

	q.pending = append(q.pending, job)
	position := len(q.pending)
	ev := q.eventLocked(EventJobQueued, job)

	if !q.processing {
		q.processing = true
		q.wg.Add(1)
		go q.run()
	}
	q.mu.Unlock()

	q.publish(ev)
	if q.opts.Metrics != nil {
		q.opts.Metrics.JobSubmitted(q.printerID)
		q.opts.Metrics.QueueDepth(q.printerID, position)
	}
	q.logger.Info("job queued", "job", job.ID, "order", job.OrderNumber, "kind", job.Kind, "position", position)

	return position, nil
}

func (q *QueueManager) run() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if q.stopped || len(q.pending) == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}
		if wait := time.Until(q.settled); wait > 0 {
			q.mu.Unlock()
			select {
			case <-time.After(wait):
			case <-q.stopCh:
			}
			continue
		}

		job := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]

		started := q.opts.Now()
		job.Status = JobStatusPrinting
		job.Attempts++
		job.StartedAt = &started
		q.current = job

		payload := transport.Payload{
			PrinterID: q.printerID,
			JobID:     job.ID,
			Document:  string(job.Kind),
			Title:     title(job),
			Content:   job.Content,
		}
		attempt := job.Attempts
		ev := q.eventLocked(EventJobStarted, job)
		q.mu.Unlock()

		q.publish(ev)
		q.logger.Debug("printing", "job", job.ID, "attempt", attempt)

		q.line.Lock()
		kind, err := q.dispatcher.Deliver(q.ctx, payload)
		q.line.Unlock()
		q.applyOutcome(job, kind, err, started)
	}
}

// TryLine runs fn while holding the printer connection. It returns false
// without calling fn when a delivery holds the connection.
func (q *QueueManager) TryLine(fn func()) bool {
	if !q.line.TryLock() {
		return false
	}
	defer q.line.Unlock()
	fn()
	return true
}

// applyOutcome moves job to its next state after one attempt.
func (q *QueueManager) applyOutcome(job *Job, kind transport.Kind, err error, started time.Time) {
	now := q.opts.Now()

	q.mu.Lock()
	q.current = nil
	q.last = &Outcome{At: now, Transport: string(kind), Err: err}
	q.settled = time.Now().Add(q.opts.SettleDelay)

	var ev Event
	switch {
	case err == nil:
		job.Status = JobStatusCompleted
		job.CompletedAt = &now
		job.Transport = string(kind)
		job.LastError = ""
		q.retainLocked(job)
		ev = q.eventLocked(EventJobCompleted, job)
	case job.Attempts < job.MaxAttempts:
		job.Status = JobStatusQueued
		job.LastError = err.Error()
		// Retries go to the tail so one bad document cannot starve the rest.
		q.pending = append(q.pending, job)
		ev = q.eventLocked(EventJobRetry, job)
	default:
		job.Status = JobStatusFailed
		job.CompletedAt = &now
		job.LastError = err.Error()
		q.retainLocked(job)
		ev = q.eventLocked(EventJobFailed, job)
	}
	depth := len(q.pending)
	final := *job
	q.mu.Unlock()

	q.publish(ev)

	switch final.Status {
	case JobStatusCompleted:
		q.logger.Info("job completed", "job", final.ID, "transport", final.Transport, "attempts", final.Attempts)
	case JobStatusQueued:
		q.logger.Warn("job requeued", "job", final.ID, "attempt", final.Attempts, "max_attempts", final.MaxAttempts, "error", err)
	case JobStatusFailed:
		q.logger.Error("job failed", "job", final.ID, "attempts", final.Attempts, "error", ErrQueueExhausted, "last_error", final.LastError)
	}

	if m := q.opts.Metrics; m != nil {
		switch final.Status {
		case JobStatusCompleted:
			m.JobCompleted(q.printerID, now.Sub(started))
		case JobStatusQueued:
			m.JobRetried(q.printerID)
		case JobStatusFailed:
			m.JobFailed(q.printerID)
		}
		m.QueueDepth(q.printerID, depth)
	}

	if final.Finished() && q.opts.Recorder != nil {
		final.Content = nil
		if err := q.opts.Recorder.RecordJob(context.Background(), final); err != nil {
			q.logger.Warn("failed to record job history", "job", final.ID, "error", err)
		}
	}
}

func (q *QueueManager) retainLocked(job *Job) {
	q.finished = append(q.finished, job)
	if over := len(q.finished) - q.opts.RetainJobs; over > 0 {
		clear(q.finished[:over])
		q.finished = q.finished[over:]
	}
}

// Clear drops every queued job. The job being printed, if any, is left to
// finish.
func (q *QueueManager) Clear() int {
	q.mu.Lock()
	n := len(q.pending)
	q.pending = nil
	ev := Event{Type: EventQueueCleared, PrinterID: q.printerID, Cleared: n, Timestamp: q.opts.Now()}
	q.mu.Unlock()

	q.publish(ev)
	if q.opts.Metrics != nil {
		q.opts.Metrics.QueueDepth(q.printerID, 0)
	}
	q.logger.Info("queue cleared", "cleared", n)
	return n
}

// Snapshot returns pending, in-flight and retained finished jobs in
// submission order.
func (q *QueueManager) Snapshot() QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]Job, 0, len(q.finished)+len(q.pending)+1)
	for _, j := range q.finished {
		jobs = append(jobs, *j)
	}
	if q.current != nil {
		jobs = append(jobs, *q.current)
	}
	for _, j := range q.pending {
		jobs = append(jobs, *j)
	}
	slices.SortFunc(jobs, func(a, b Job) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	return QueueSnapshot{
		PrinterID:  q.printerID,
		Pending:    len(q.pending),
		Processing: q.processing,
		Jobs:       jobs,
	}
}

func (q *QueueManager) Job(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current != nil && q.current.ID == id {
		return *q.current, true
	}
	for _, group := range [][]*Job{q.pending, q.finished} {
		for _, j := range group {
			if j.ID == id {
				return *j, true
			}
		}
	}
	return Job{}, false
}

func (q *QueueManager) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Busy reports whether a job is on the wire right now.
func (q *QueueManager) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current != nil
}

func (q *QueueManager) LastOutcome() (Outcome, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.last == nil {
		return Outcome{}, false
	}
	return *q.last, true
}

// Stop refuses new jobs and waits for the worker. The in-flight attempt is
// allowed to finish; if ctx expires first it is cancelled.
func (q *QueueManager) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	close(q.stopCh)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *QueueManager) eventLocked(t EventType, job *Job) Event {
	return Event{
		Type:        t,
		PrinterID:   q.printerID,
		JobID:       job.ID,
		OrderNumber: job.OrderNumber,
		Status:      job.Status,
		Attempts:    job.Attempts,
		Transport:   job.Transport,
		Error:       job.LastError,
		Timestamp:   q.opts.Now(),
	}
}

func (q *QueueManager) publish(ev Event) {
	if q.opts.Events != nil {
		q.opts.Events.Publish(ev)
	}
}

func title(job *Job) string {
	if job.OrderNumber == "" {
		return string(job.Kind)
	}
	return string(job.Kind) + " " + job.OrderNumber
}
