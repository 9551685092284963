package chat

import (
	"sync"
	"time"
)

// Room breaker parameters. A two-party message storm (agent loops,
// adversarial ping-pong) pauses the room; organic multi-party traffic
// at the same volume does not.
const (
	breakerWindow     = 60 * time.Second
	breakerThreshold  = 20
	breakerMaxSenders = 2
	breakerCeiling    = 5 * time.Minute
)

type roomEvent struct {
	sender string
	at     time.Time
}

// roomBreaker is the per-room storm detector. Not safe for concurrent
// use; the owning room serializes access under its lock.
type roomBreaker struct {
	mu       sync.Mutex
	events   []roomEvent
	pausedAt time.Time
	noticed  bool // one system notice per pause
	now      func() time.Time
}

func newRoomBreaker() *roomBreaker {
	return &roomBreaker{now: time.Now}
}

// Record adds a message event and reports whether the room is paused
// after it. The bool notice return is true exactly once per pause, when
// the caller should insert the system message.
func (b *roomBreaker) Record(sender string) (paused, notice bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.events = append(b.events, roomEvent{sender: sender, at: now})
	b.prune(now)

	if !b.pausedAt.IsZero() {
		if b.unpause(now) {
			return false, false
		}
		return true, false
	}

	if len(b.events) >= breakerThreshold && b.senderCount() <= breakerMaxSenders {
		b.pausedAt = now
		b.noticed = true
		return true, true
	}
	return false, false
}

// Paused reports the current pause state, honoring drain and ceiling.
func (b *roomBreaker) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pausedAt.IsZero() {
		return false
	}
	now := b.now()
	b.prune(now)
	return !b.unpause(now)
}

// unpause clears the pause if the window drained or the ceiling passed.
// Caller holds the lock.
func (b *roomBreaker) unpause(now time.Time) bool {
	if len(b.events) < breakerThreshold || now.Sub(b.pausedAt) >= breakerCeiling {
		b.pausedAt = time.Time{}
		b.noticed = false
		return true
	}
	return false
}

func (b *roomBreaker) prune(now time.Time) {
	cutoff := now.Add(-breakerWindow)
	i := 0
	for i < len(b.events) && !b.events[i].at.After(cutoff) {
		i++
	}
	b.events = b.events[i:]
}

func (b *roomBreaker) senderCount() int {
	seen := make(map[string]struct{}, 4)
	for _, e := range b.events {
		seen[e.sender] = struct{}{}
	}
	return len(seen)
}
