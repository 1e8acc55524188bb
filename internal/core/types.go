package core

import (
	"context"
	"errors"
	"time"

	"github.com/orrn/printdispatch/internal/document"
	"github.com/orrn/printdispatch/internal/transport"
)

var (
	ErrPrinterNotFound = errors.New("printer not found")
	ErrPrinterExists   = errors.New("printer already exists")
	ErrQueueExhausted  = errors.New("job failed after max attempts")
	ErrEmptyPayload    = errors.New("print payload is empty")
	ErrQueueStopped    = errors.New("queue is stopped")
	ErrInvalidDocument = errors.New("invalid document")
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusPrinting  JobStatus = "printing"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one document bound for one printer. Only the owning queue's worker
// mutates a Job after it is enqueued; everything else sees copies.
type Job struct {
	ID          string
	PrinterID   string
	Kind        document.Kind
	OrderNumber string
	Content     []byte
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	LastError   string
	// Transport is the kind that delivered the job.
	Transport string

	seq uint64
}

func (j *Job) Finished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Dispatcher delivers a payload through some set of transports.
type Dispatcher interface {
	Deliver(ctx context.Context, p transport.Payload) (transport.Kind, error)
}

type EventType string

const (
	EventJobQueued    EventType = "job_queued"
	EventJobStarted   EventType = "job_started"
	EventJobRetry     EventType = "job_retry"
	EventJobCompleted EventType = "job_completed"
	EventJobFailed    EventType = "job_failed"
	EventQueueCleared EventType = "queue_cleared"
)

// Event is a job lifecycle notification.
type Event struct {
	Type        EventType `json:"event"`
	PrinterID   string    `json:"printer_id"`
	JobID       string    `json:"job_id,omitempty"`
	OrderNumber string    `json:"order_number,omitempty"`
	Status      JobStatus `json:"status,omitempty"`
	Attempts    int       `json:"attempts,omitempty"`
	Transport   string    `json:"transport,omitempty"`
	Error       string    `json:"error,omitempty"`
	Cleared     int       `json:"cleared,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventSink receives lifecycle events. Publish must not block the worker.
type EventSink interface {
	Publish(ev Event)
}

// Recorder persists finished jobs.
type Recorder interface {
	RecordJob(ctx context.Context, job Job) error
}

// Metrics observes queue activity.
type Metrics interface {
	JobSubmitted(printerID string)
	JobRetried(printerID string)
	JobCompleted(printerID string, elapsed time.Duration)
	JobFailed(printerID string)
	QueueDepth(printerID string, depth int)
}

type PrinterInfo struct {
	ID         string   `json:"id"`
	Tenant     string   `json:"tenant"`
	Type       string   `json:"type,omitempty"`
	CodePage   string   `json:"codePage"`
	Width      int      `json:"width"`
	Transports []string `json:"transports"`
}

// PrinterStatus is the snapshot served by GET /status/:printerId.
type PrinterStatus struct {
	IsConnected  bool      `json:"isConnected"`
	IsReady      bool      `json:"isReady"`
	PaperStatus  string    `json:"paperStatus"`
	ErrorMessage string    `json:"errorMessage"`
	QueueLength  int       `json:"queueLength"`
	CheckedAt    time.Time `json:"checkedAt"`
}
