package chat

import (
	"sync"
	"time"
)

// Default spam-guard policy: five attempts inside thirty seconds.
const (
	DefaultBurstLimit  = 5
	DefaultBurstWindow = 30 * time.Second
)

// BurstDetector keeps a fixed-size FIFO window of recent send attempts for
// one session and flags the rate as abusive when a full window spans less
// than the configured duration. It never touches the store; flagging is
// advisory to the pipeline.
//
// The window is per in-process session. A user with several open sessions
// holds one window per session, so the abuse signal is incomplete across
// clients. That matches the deployed behavior and is left as is.
type BurstDetector struct {
	mu     sync.Mutex
	window []time.Time // ring buffer, capacity == limit
	head   int
	size   int
	limit  int
	span   time.Duration
}

// NewBurstDetector creates a detector flagging limit attempts within span.
func NewBurstDetector(limit int, span time.Duration) *BurstDetector {
	if limit < 2 {
		limit = DefaultBurstLimit
	}
	if span <= 0 {
		span = DefaultBurstWindow
	}
	return &BurstDetector{
		window: make([]time.Time, limit),
		limit:  limit,
		span:   span,
	}
}

// RecordAttempt appends a send attempt and re-evaluates the window. The
// span is reported only once the window is full; the check keeps sliding,
// so every admitted attempt after the limit-th is evaluated again.
func (d *BurstDetector) RecordAttempt(now time.Time) (flagged bool, windowSpan time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.size < d.limit {
		d.window[(d.head+d.size)%d.limit] = now
		d.size++
	} else {
		d.window[d.head] = now
		d.head = (d.head + 1) % d.limit
	}

	if d.size < d.limit {
		return false, 0
	}

	oldest := d.window[d.head]
	windowSpan = now.Sub(oldest)
	return windowSpan < d.span, windowSpan
}

// Reset clears the window. Called when a ban is applied so the session
// starts from a clean slate once the ban expires.
func (d *BurstDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.head = 0
	d.size = 0
}
