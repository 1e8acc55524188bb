package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printdispatch/internal/transport"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	calls    []string
	at       []time.Time
	deliver  func(p transport.Payload) error
	inflight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeDispatcher) Deliver(ctx context.Context, p transport.Payload) (transport.Kind, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		old := f.peak.Load()
		if n <= old || f.peak.CompareAndSwap(old, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, p.JobID)
	f.at = append(f.at, time.Now())
	deliver := f.deliver
	f.mu.Unlock()

	if deliver != nil {
		if err := deliver(p); err != nil {
			return "", err
		}
	}
	return transport.KindNetwork, nil
}

func (f *fakeDispatcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Publish(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) Types(jobID string) []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []EventType
	for _, ev := range l.events {
		if jobID == "" || ev.JobID == jobID {
			out = append(out, ev.Type)
		}
	}
	return out
}

type memRecorder struct {
	mu   sync.Mutex
	jobs []Job
}

func (m *memRecorder) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *memRecorder) RecordJob(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return nil
}

var errOffline = &transport.Error{Kind: transport.KindNetwork, Reason: transport.ReasonRefused, Err: errors.New("connection refused")}

func newJob(order string) *Job {
	return &Job{Kind: "kot", OrderNumber: order, Content: []byte("doc " + order)}
}

func waitIdle(t *testing.T, q *QueueManager) QueueSnapshot {
	t.Helper()
	var snap QueueSnapshot
	require.Eventually(t, func() bool {
		snap = q.Snapshot()
		if snap.Processing || snap.Pending > 0 {
			return false
		}
		for _, j := range snap.Jobs {
			if !j.Finished() {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)
	return snap
}

func TestQueueFIFO(t *testing.T) {
	d := &fakeDispatcher{}
	q := NewQueueManager("kitchen-1", d, QueueOptions{})
	defer q.Stop(context.Background())

	var ids []string
	for i, order := range []string{"A1", "A2", "A3", "A4", "A5"} {
		job := newJob(order)
		pos, err := q.Enqueue(job)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, pos, 1)
		assert.LessOrEqual(t, pos, i+1)
		ids = append(ids, job.ID)
	}

	snap := waitIdle(t, q)
	assert.Equal(t, ids, d.Calls())
	require.Len(t, snap.Jobs, 5)
	for i, j := range snap.Jobs {
		assert.Equal(t, ids[i], j.ID)
		assert.Equal(t, JobStatusCompleted, j.Status)
		assert.Equal(t, 1, j.Attempts)
		assert.Equal(t, "network", j.Transport)
		assert.NotNil(t, j.CompletedAt)
	}
}

func TestQueueRetryGoesToTail(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDispatcher{deliver: func(p transport.Payload) error {
		<-gate
		if p.JobID == "job-a" {
			return errOffline
		}
		return nil
	}}
	q := NewQueueManager("kitchen-1", d, QueueOptions{MaxAttempts: 3})
	defer q.Stop(context.Background())

	a, b := newJob("A"), newJob("B")
	a.ID = "job-a"
	_, err := q.Enqueue(a)
	require.NoError(t, err)
	_, err = q.Enqueue(b)
	require.NoError(t, err)
	close(gate)

	snap := waitIdle(t, q)
	assert.Equal(t, []string{"job-a", b.ID, "job-a", "job-a"}, d.Calls())

	got, ok := q.Job("job-a")
	require.True(t, ok)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Contains(t, got.LastError, "refused")
	assert.Len(t, snap.Jobs, 2)
}

func TestQueueFailsAfterExactlyMaxAttempts(t *testing.T) {
	for _, limit := range []int{1, 2, 4} {
		d := &fakeDispatcher{deliver: func(transport.Payload) error { return errOffline }}
		events := &eventLog{}
		rec := &memRecorder{}
		q := NewQueueManager("bar", d, QueueOptions{MaxAttempts: limit, Events: events, Recorder: rec})

		job := newJob("X")
		_, err := q.Enqueue(job)
		require.NoError(t, err)
		waitIdle(t, q)

		assert.Len(t, d.Calls(), limit)
		got, _ := q.Job(job.ID)
		assert.Equal(t, JobStatusFailed, got.Status)
		assert.Equal(t, limit, got.Attempts)

		require.Eventually(t, func() bool { return rec.Len() == 1 }, time.Second, time.Millisecond)
		types := events.Types(job.ID)
		assert.Equal(t, EventJobQueued, types[0])
		assert.Equal(t, EventJobFailed, types[len(types)-1])
		retries := 0
		for _, ty := range types {
			if ty == EventJobRetry {
				retries++
			}
		}
		assert.Equal(t, limit-1, retries)

		assert.Equal(t, JobStatusFailed, rec.jobs[0].Status)
		assert.Nil(t, rec.jobs[0].Content)
		require.NoError(t, q.Stop(context.Background()))
	}
}

func TestQueueSingleFlight(t *testing.T) {
	d := &fakeDispatcher{deliver: func(transport.Payload) error {
		time.Sleep(2 * time.Millisecond)
		return nil
	}}
	q := NewQueueManager("kitchen-1", d, QueueOptions{})
	defer q.Stop(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(newJob("C"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap := waitIdle(t, q)
	assert.Len(t, snap.Jobs, 40)
	assert.Equal(t, int32(1), d.peak.Load(), "never more than one job on the wire")
}

func TestQueueClearLeavesInFlightJob(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDispatcher{deliver: func(transport.Payload) error {
		<-gate
		return nil
	}}
	events := &eventLog{}
	q := NewQueueManager("kitchen-1", d, QueueOptions{Events: events})
	defer q.Stop(context.Background())

	first := newJob("1")
	_, err := q.Enqueue(first)
	require.NoError(t, err)
	require.Eventually(t, q.Busy, time.Second, time.Millisecond)

	for i := 0; i < 3; i++ {
		pos, err := q.Enqueue(newJob("n"))
		require.NoError(t, err)
		assert.Equal(t, i+1, pos)
	}

	assert.Equal(t, 3, q.Clear())
	assert.Equal(t, 0, q.Pending())
	assert.Contains(t, events.Types(""), EventQueueCleared)
	close(gate)

	snap := waitIdle(t, q)
	require.Len(t, snap.Jobs, 1)
	assert.Equal(t, first.ID, snap.Jobs[0].ID)
	assert.Equal(t, JobStatusCompleted, snap.Jobs[0].Status)
}

func TestQueueSettleDelay(t *testing.T) {
	d := &fakeDispatcher{}
	q := NewQueueManager("kitchen-1", d, QueueOptions{SettleDelay: 60 * time.Millisecond})
	defer q.Stop(context.Background())

	_, err := q.Enqueue(newJob("1"))
	require.NoError(t, err)
	_, err = q.Enqueue(newJob("2"))
	require.NoError(t, err)
	waitIdle(t, q)

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.at, 2)
	assert.GreaterOrEqual(t, d.at[1].Sub(d.at[0]), 60*time.Millisecond)
}

func TestQueueIdlesWithoutSettlingAfterLastJob(t *testing.T) {
	d := &fakeDispatcher{}
	q := NewQueueManager("kitchen-1", d, QueueOptions{SettleDelay: 400 * time.Millisecond})
	defer q.Stop(context.Background())

	_, err := q.Enqueue(newJob("1"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s := q.Snapshot()
		return !s.Processing && len(s.Jobs) == 1 && s.Jobs[0].Finished()
	}, 200*time.Millisecond, 2*time.Millisecond)

	// A job arriving inside the settle window still waits it out.
	_, err = q.Enqueue(newJob("2"))
	require.NoError(t, err)
	assert.True(t, q.Snapshot().Processing)
	waitIdle(t, q)

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.at, 2)
	assert.GreaterOrEqual(t, d.at[1].Sub(d.at[0]), 400*time.Millisecond)
}

func TestQueueTryLine(t *testing.T) {
	release := make(chan struct{})
	d := &fakeDispatcher{deliver: func(transport.Payload) error {
		<-release
		return nil
	}}
	q := NewQueueManager("kitchen-1", d, QueueOptions{})
	defer q.Stop(context.Background())

	ran := false
	assert.True(t, q.TryLine(func() { ran = true }))
	assert.True(t, ran)

	_, err := q.Enqueue(newJob("1"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(d.Calls()) == 1 }, time.Second, time.Millisecond)

	assert.False(t, q.TryLine(func() { t.Error("ran during delivery") }))

	close(release)
	waitIdle(t, q)
	assert.True(t, q.TryLine(func() {}))
}

func TestQueueRetainLimit(t *testing.T) {
	q := NewQueueManager("kitchen-1", &fakeDispatcher{}, QueueOptions{RetainJobs: 2})
	defer q.Stop(context.Background())

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(newJob("r"))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		s := q.Snapshot()
		return !s.Processing && len(s.Jobs) == 2
	}, 5*time.Second, 5*time.Millisecond)
}

func TestQueueRejects(t *testing.T) {
	q := NewQueueManager("kitchen-1", &fakeDispatcher{}, QueueOptions{})

	_, err := q.Enqueue(&Job{})
	assert.ErrorIs(t, err, ErrEmptyPayload)

	require.NoError(t, q.Stop(context.Background()))
	require.NoError(t, q.Stop(context.Background()), "stop is idempotent")

	_, err = q.Enqueue(newJob("late"))
	assert.ErrorIs(t, err, ErrQueueStopped)
}

func TestQueueStopCancelsStuckAttempt(t *testing.T) {
	stuck := dispatcherFunc(func(ctx context.Context, p transport.Payload) (transport.Kind, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	q := NewQueueManager("kitchen-1", stuck, QueueOptions{})
	_, err := q.Enqueue(newJob("1"))
	require.NoError(t, err)
	require.Eventually(t, q.Busy, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Stop(ctx), context.DeadlineExceeded)
	assert.False(t, q.Busy())
}

type dispatcherFunc func(ctx context.Context, p transport.Payload) (transport.Kind, error)

func (f dispatcherFunc) Deliver(ctx context.Context, p transport.Payload) (transport.Kind, error) {
	return f(ctx, p)
}
