// Package logsink carries human-readable progress lines from the
// orchestration core to whatever surface is watching it.
package logsink

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// TimeLayout is the timestamp prefix used by Stamped
const TimeLayout = "2006-01-02 15:04:05"

// Sink receives one progress line at a time. Implementations must be safe
// for concurrent use and must not block for long.
type Sink interface {
	Line(text string)
}

// Func adapts a function to a Sink
type Func func(text string)

// Line calls f(text)
func (f Func) Line(text string) {
	f(text)
}

// Discard drops every line
var Discard Sink = Func(func(string) {})

// Multi fans a line out to several sinks in order
type Multi []Sink

// Line forwards text to every non-nil sink
func (m Multi) Line(text string) {
	for _, s := range m {
		if s != nil {
			s.Line(text)
		}
	}
}

// Stamped prefixes each line with "YYYY-MM-DD HH:MM:SS - "
type Stamped struct {
	Sink Sink
	Now  func() time.Time
}

// Line writes the timestamped line to the wrapped sink
func (s Stamped) Line(text string) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	s.Sink.Line(now().Format(TimeLayout) + " - " + text)
}

// ZapSink mirrors progress lines into a structured logger
type ZapSink struct {
	Logger *zap.Logger
}

// Line logs text at info level
func (z ZapSink) Line(text string) {
	z.Logger.Info(text, zap.String("source", "progress"))
}

// Ring keeps the most recent lines in memory for UIs
type Ring struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
	subs  map[chan string]struct{}
}

// NewRing creates a ring holding up to size lines
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 500
	}
	return &Ring{
		lines: make([]string, size),
		subs:  make(map[chan string]struct{}),
	}
}

// Line appends text, evicting the oldest line when full, and notifies subscribers
func (r *Ring) Line(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines[r.next] = text
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}

	for ch := range r.subs {
		select {
		case ch <- text:
		default:
			// slow subscriber, drop
		}
	}
}

// Lines returns a snapshot of buffered lines, oldest first
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]string, r.next)
		copy(out, r.lines[:r.next])
		return out
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	out = append(out, r.lines[:r.next]...)
	return out
}

// Subscribe returns a channel receiving new lines and a cancel func
func (r *Ring) Subscribe(buffer int) (<-chan string, func()) {
	ch := make(chan string, buffer)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, ch)
			r.mu.Unlock()
			close(ch)
		})
	}
}
