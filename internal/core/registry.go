package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/orrn/printdispatch/internal/document"
	"github.com/orrn/printdispatch/internal/transport"
)

const DefaultStatusTimeout = 2 * time.Second

// Target is everything the registry needs to serve one printer.
type Target struct {
	Info       PrinterInfo
	Tenant     document.Tenant
	Formatter  *document.Formatter
	Encoder    *document.Encoder
	Dispatcher Dispatcher
	// Prober may be nil; status then comes from the last delivery outcome.
	Prober transport.Prober
}

// Submission is a request to print one document.
type Submission struct {
	PrinterID string
	Kind      document.Kind
	Order     *document.Order
	// Raw is pre-formatted text, used when Kind is document.KindRaw.
	Raw string
}

type Receipt struct {
	JobID         string
	QueuePosition int
}

type entry struct {
	target Target
	queue  *QueueManager
}

// Registry holds one queue per configured printer and is the entry point
// for submissions and status queries.
type Registry struct {
	statusTimeout time.Duration
	now           func() time.Time
	logger        *slog.Logger

	mu       sync.RWMutex
	order    []string
	printers map[string]*entry
}

func NewRegistry(statusTimeout time.Duration, now func() time.Time, logger *slog.Logger) *Registry {
	if statusTimeout <= 0 {
		statusTimeout = DefaultStatusTimeout
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		statusTimeout: statusTimeout,
		now:           now,
		logger:        logger,
		printers:      make(map[string]*entry),
	}
}

// Add registers a printer and creates its queue.
func (r *Registry) Add(t Target, opts QueueOptions) error {
	id := t.Info.ID
	if id == "" {
		return fmt.Errorf("printer id is required")
	}
	if t.Formatter == nil || t.Encoder == nil || t.Dispatcher == nil {
		return fmt.Errorf("printer %s: formatter, encoder and dispatcher are required", id)
	}
	if opts.Now == nil {
		opts.Now = r.now
	}
	if opts.Logger == nil {
		opts.Logger = r.logger
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.printers[id]; exists {
		return fmt.Errorf("%w: %s", ErrPrinterExists, id)
	}
	r.printers[id] = &entry{target: t, queue: NewQueueManager(id, t.Dispatcher, opts)}
	r.order = append(r.order, id)
	return nil
}

func (r *Registry) lookup(printerID string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.printers[printerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPrinterNotFound, printerID)
	}
	return e, nil
}

// Submit formats (unless raw), encodes and enqueues a document. Delivery
// happens later; the receipt only says the job was accepted.
func (r *Registry) Submit(s Submission) (*Receipt, error) {
	e, err := r.lookup(s.PrinterID)
	if err != nil {
		return nil, err
	}

	kind := s.Kind
	if kind == "" {
		kind = document.KindKOT
	}

	var text, orderNumber string
	if kind == document.KindRaw {
		if strings.TrimSpace(s.Raw) == "" {
			return nil, ErrEmptyPayload
		}
		text = s.Raw
		if s.Order != nil {
			orderNumber = s.Order.Number
		}
	} else {
		if s.Order == nil {
			return nil, ErrEmptyPayload
		}
		order := *s.Order
		if order.Time.IsZero() {
			order.Time = r.now()
		}
		text, err = e.target.Formatter.Format(kind, &order, e.target.Tenant)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		orderNumber = order.Number
		r.checkTotal(s.PrinterID, kind, e.target.Formatter, &order)
	}

	content, err := e.target.Encoder.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	job := &Job{Kind: kind, OrderNumber: orderNumber, Content: content}
	position, err := e.queue.Enqueue(job)
	if err != nil {
		return nil, err
	}
	return &Receipt{JobID: job.ID, QueuePosition: position}, nil
}

// SubmitTest enqueues the fixed sample order as a test page. An empty
// printerID selects the first configured printer.
func (r *Registry) SubmitTest(printerID string) (*Receipt, error) {
	if printerID == "" {
		printerID = r.DefaultPrinter()
	}
	return r.Submit(Submission{
		PrinterID: printerID,
		Kind:      document.KindTest,
		Order:     document.SampleOrder(r.now()),
	})
}

// checkTotal logs when the caller's total disagrees with the one printed.
func (r *Registry) checkTotal(printerID string, kind document.Kind, f *document.Formatter, o *document.Order) {
	if kind != document.KindReceipt || o.TotalAmount == 0 {
		return
	}
	if computed := f.Totals(o).Total; computed != o.TotalAmount {
		r.logger.Warn("caller total differs from computed total",
			"printer", printerID, "order", o.Number,
			"caller_total", o.TotalAmount.String(), "computed_total", computed.String())
	}
}

func (r *Registry) Queue(printerID string) (*QueueManager, error) {
	e, err := r.lookup(printerID)
	if err != nil {
		return nil, err
	}
	return e.queue, nil
}

func (r *Registry) Clear(printerID string) (int, error) {
	q, err := r.Queue(printerID)
	if err != nil {
		return 0, err
	}
	return q.Clear(), nil
}

// Status builds the printer snapshot. The printer is only probed while no
// delivery holds its connection: most printers accept one at a time.
func (r *Registry) Status(ctx context.Context, printerID string) (*PrinterStatus, error) {
	e, err := r.lookup(printerID)
	if err != nil {
		return nil, err
	}

	st := &PrinterStatus{
		PaperStatus: string(transport.PaperUnknown),
		QueueLength: e.queue.Pending(),
		CheckedAt:   r.now(),
	}

	if e.queue.Busy() {
		st.IsConnected = true
		return st, nil
	}

	if e.target.Prober == nil {
		r.fromOutcome(e.queue, st)
		return st, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.statusTimeout)
	defer cancel()

	var (
		probed *transport.Status
		perr   error
	)
	// A delivery that starts meanwhile waits for the held connection.
	if !e.queue.TryLine(func() { probed, perr = e.target.Prober.Probe(ctx) }) {
		st.IsConnected = true
		return st, nil
	}
	if probed != nil {
		st.IsConnected = probed.Connected
		st.IsReady = probed.Ready
		st.PaperStatus = string(probed.Paper)
		st.ErrorMessage = probed.Error
		st.CheckedAt = probed.CheckedAt
	}
	if perr != nil && st.ErrorMessage == "" {
		st.ErrorMessage = perr.Error()
	}
	return st, nil
}

func (r *Registry) fromOutcome(q *QueueManager, st *PrinterStatus) {
	last, ok := q.LastOutcome()
	if !ok {
		st.ErrorMessage = "no delivery attempted yet"
		return
	}
	st.CheckedAt = last.At
	if last.Err != nil {
		st.ErrorMessage = last.Err.Error()
		return
	}
	st.IsConnected = true
	st.IsReady = true
}

// Printers lists configured printers in configuration order.
func (r *Registry) Printers() []PrinterInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PrinterInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.printers[id].target.Info)
	}
	return out
}

func (r *Registry) DefaultPrinter() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return ""
	}
	return r.order[0]
}

// Stop stops every queue, letting in-flight attempts finish until ctx
// expires.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.RLock()
	queues := make([]*QueueManager, 0, len(r.printers))
	for _, id := range r.order {
		queues = append(queues, r.printers[id].queue)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	errs := make([]error, len(queues))
	for i, q := range queues {
		i, q := i, q
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = q.Stop(ctx)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
