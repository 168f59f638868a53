package events

import "sync"

// DefaultHistorySize is the number of events a Recorder keeps by default.
const DefaultHistorySize = 100

// Recorder keeps the newest N events in a ring buffer. Older entries are evicted.
type Recorder struct {
	mu    sync.RWMutex
	buf   []Event
	next  int
	count int
	total uint64
}

// NewRecorder creates a recorder holding up to size events. size <= 0 uses DefaultHistorySize.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &Recorder{buf: make([]Event, size)}
}

// Record stores a copy of ev.
func (r *Recorder) Record(ev *Event) {
	if ev == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = *ev
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	r.total++
}

// Handler adapts the recorder to an EventBus subscription.
func (r *Recorder) Handler() EventHandler {
	return r.Record
}

// Recent returns up to n events, newest first. n <= 0 returns everything held.
func (r *Recorder) Recent(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// Len returns the number of events held.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the maximum number of events held.
func (r *Recorder) Cap() int {
	return len(r.buf)
}

// Total returns the number of events ever recorded, including evicted ones.
func (r *Recorder) Total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Reset drops all held events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.buf)
	r.next, r.count = 0, 0
}
