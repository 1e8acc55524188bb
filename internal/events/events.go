// Package events delivers job lifecycle notifications to webhooks and NATS.
package events

import (
	"context"
	"errors"

	"github.com/orrn/printdispatch/internal/core"
)

// Sink is a core.EventSink that can be flushed on shutdown.
type Sink interface {
	core.EventSink
	Close(ctx context.Context) error
}

// Fanout publishes every event to each of its sinks.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Add(s Sink) {
	f.sinks = append(f.sinks, s)
}

func (f *Fanout) Len() int {
	return len(f.sinks)
}

func (f *Fanout) Publish(ev core.Event) {
	for _, s := range f.sinks {
		s.Publish(ev)
	}
}

// Close closes every sink and joins their errors.
func (f *Fanout) Close(ctx context.Context) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func wants(filter []string, t core.EventType) bool {
	if len(filter) == 0 {
		return true
	}
	for _, e := range filter {
		if e == string(t) || e == "*" {
			return true
		}
	}
	return false
}
