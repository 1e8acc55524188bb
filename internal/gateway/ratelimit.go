package gateway

import (
	"errors"
	"sync"
	"time"
)

var ErrRateLimited = errors.New("rate limited")

type window struct {
	start time.Time
	count int
}

// FixedWindow allows Limit requests per key within Window, counted from the
// key's first request in that window.
type FixedWindow struct {
	Limit  int
	Window time.Duration

	now     func() time.Time
	mu      sync.Mutex
	windows map[string]*window
}

func NewFixedWindow(limit int, w time.Duration) *FixedWindow {
	if limit < 1 {
		limit = 60
	}
	if w <= 0 {
		w = time.Minute
	}
	return &FixedWindow{
		Limit:   limit,
		Window:  w,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow counts one request for key. When the key is over its limit it
// returns false and the time left until the window resets.
func (f *FixedWindow) Allow(key string) (bool, time.Duration) {
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.windows[key]
	if !ok || now.Sub(w.start) >= f.Window {
		f.windows[key] = &window{start: now, count: 1}
		return true, 0
	}
	if w.count >= f.Limit {
		return false, w.start.Add(f.Window).Sub(now)
	}
	w.count++
	return true, 0
}

// Sweep forgets expired windows and returns how many were removed.
func (f *FixedWindow) Sweep() int {
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for k, w := range f.windows {
		if now.Sub(w.start) >= f.Window {
			delete(f.windows, k)
			n++
		}
	}
	return n
}

// RetryAfterSeconds rounds a wait up to whole seconds, at least one.
func RetryAfterSeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
