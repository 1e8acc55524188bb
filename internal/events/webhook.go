package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/orrn/printdispatch/internal/core"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	EventHeader     = "X-Webhook-Event"
)

type Webhook struct {
	URL    string
	Secret string
	// Events limits delivery to these event types; empty means all.
	Events     []string
	MaxRetries int
}

type WebhookOptions struct {
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type Payload struct {
	Event     string     `json:"event"`
	Timestamp time.Time  `json:"timestamp"`
	Data      core.Event `json:"data"`
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http error: %d", e.code)
}

type webhookTask struct {
	hook    *Webhook
	payload Payload
}

// WebhookSender posts events to webhooks from a fixed worker pool. Publish
// never blocks: when the queue is full the event is dropped and logged.
type WebhookSender struct {
	hooks      []Webhook
	httpClient *http.Client
	retryDelay time.Duration
	logger     *slog.Logger

	queue  chan webhookTask
	abort  chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewWebhookSender(hooks []Webhook, opts WebhookOptions, logger *slog.Logger) *WebhookSender {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	for i := range hooks {
		if hooks[i].MaxRetries <= 0 {
			hooks[i].MaxRetries = 3
		}
	}

	s := &WebhookSender{
		hooks: hooks,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		retryDelay: opts.RetryDelay,
		logger:     logger.With("component", "webhook"),
		queue:      make(chan webhookTask, opts.QueueSize),
		abort:      make(chan struct{}),
	}
	for i := 0; i < opts.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *WebhookSender) Publish(ev core.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	for i := range s.hooks {
		hook := &s.hooks[i]
		if !wants(hook.Events, ev.Type) {
			continue
		}
		task := webhookTask{
			hook:    hook,
			payload: Payload{Event: string(ev.Type), Timestamp: ev.Timestamp, Data: ev},
		}
		select {
		case s.queue <- task:
		default:
			s.logger.Warn("queue full, dropping event", "url", hook.URL, "event", ev.Type, "job", ev.JobID)
		}
	}
}

// Close stops accepting events and waits for queued deliveries. Retries
// still pending when ctx expires are abandoned.
func (s *WebhookSender) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		close(s.abort)
		<-done
		return ctx.Err()
	}
}

func (s *WebhookSender) worker() {
	defer s.wg.Done()

	for task := range s.queue {
		if err := s.sendWithRetry(task); err != nil {
			s.logger.Warn("webhook delivery failed", "url", task.hook.URL, "event", task.payload.Event, "error", err)
		}
	}
}

func (s *WebhookSender) sendWithRetry(task webhookTask) error {
	body, err := json.Marshal(task.payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= task.hook.MaxRetries; attempt++ {
		err := s.sendRequest(task.hook, task.payload.Event, body)
		if err == nil {
			return nil
		}
		lastErr = err

		var se *statusError
		if errors.As(err, &se) && se.code < 500 && se.code != http.StatusTooManyRequests {
			return err
		}

		if attempt < task.hook.MaxRetries {
			backoff := s.retryDelay * time.Duration(1<<(attempt-1))
			s.logger.Debug("retrying webhook", "url", task.hook.URL, "attempt", attempt, "backoff", backoff, "error", err)
			select {
			case <-s.abort:
				return fmt.Errorf("shutdown requested: %w", lastErr)
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *WebhookSender) sendRequest(hook *Webhook, event string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, event)
	if hook.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, hook.Secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body, as sent in SignatureHeader.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
