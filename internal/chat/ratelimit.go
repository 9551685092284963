package chat

import (
	"sync"
	"time"
)

// Per-socket message limits: a minimum gap between messages and a
// sliding window cap. One limiter per connection, so no reaper needed;
// it dies with the socket.
const (
	minMessageGap  = 200 * time.Millisecond
	messageWindow  = 60 * time.Second
	messagesPerMin = 30
)

type socketLimiter struct {
	mu     sync.Mutex
	last   time.Time
	stamps []time.Time
	now    func() time.Time
}

func newSocketLimiter() *socketLimiter {
	return &socketLimiter{now: time.Now}
}

// AllowMessage reports whether a message may pass now, recording it if
// so. Denied attempts are not recorded.
func (l *socketLimiter) AllowMessage() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.last.IsZero() && now.Sub(l.last) < minMessageGap {
		return false
	}

	cutoff := now.Add(-messageWindow)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	l.stamps = l.stamps[i:]

	if len(l.stamps) >= messagesPerMin {
		return false
	}
	l.stamps = append(l.stamps, now)
	l.last = now
	return true
}

// windowLimiter is a bare sliding-window counter, used for the
// per-room message cap.
type windowLimiter struct {
	mu     sync.Mutex
	stamps []time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

func newWindowLimiter(limit int, window time.Duration) *windowLimiter {
	return &windowLimiter{limit: limit, window: window, now: time.Now}
}

func (l *windowLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	l.stamps = l.stamps[i:]

	if len(l.stamps) >= l.limit {
		return false
	}
	l.stamps = append(l.stamps, now)
	return true
}

// throttle gates an event type to one emission per interval.
type throttle struct {
	mu   sync.Mutex
	last time.Time
	gap  time.Duration
	now  func() time.Time
}

func newThrottle(gap time.Duration) *throttle {
	return &throttle{gap: gap, now: time.Now}
}

func (t *throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) < t.gap {
		return false
	}
	t.last = now
	return true
}
