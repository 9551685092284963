package chat

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestBreaker(start time.Time) (*roomBreaker, *time.Time) {
	now := start
	b := newRoomBreaker()
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerTwoSenderStormPauses(t *testing.T) {
	b, now := newTestBreaker(time.Unix(1700000000, 0))

	var paused, notice bool
	for i := 0; i < 20; i++ {
		*now = now.Add(time.Second)
		sender := "a"
		if i%2 == 0 {
			sender = "b"
		}
		paused, notice = b.Record(sender)
	}
	assert.True(t, paused)
	assert.True(t, notice)

	// Continued traffic stays paused but never re-notices.
	*now = now.Add(time.Second)
	paused, notice = b.Record("a")
	assert.True(t, paused)
	assert.False(t, notice)
}

func TestBreakerManySendersNoPause(t *testing.T) {
	b, now := newTestBreaker(time.Unix(1700000000, 0))

	for i := 0; i < 25; i++ {
		*now = now.Add(time.Second)
		paused, _ := b.Record(fmt.Sprintf("sender-%d", i%3))
		assert.False(t, paused, "three senders should never trip the breaker")
	}
}

func TestBreakerUnpausesWhenWindowDrains(t *testing.T) {
	b, now := newTestBreaker(time.Unix(1700000000, 0))

	for i := 0; i < 20; i++ {
		b.Record("a")
	}
	assert.True(t, b.Paused())

	// After the window passes the old events drop out.
	*now = now.Add(61 * time.Second)
	assert.False(t, b.Paused())
}

func TestBreakerAbsoluteCeiling(t *testing.T) {
	b, now := newTestBreaker(time.Unix(1700000000, 0))

	for i := 0; i < 20; i++ {
		b.Record("a")
	}
	assert.True(t, b.Paused())

	// Keep the window hot, but pass the 5 minute ceiling.
	for i := 0; i < 300; i++ {
		*now = now.Add(time.Second)
		b.Record("a")
	}
	*now = now.Add(time.Second)
	assert.False(t, b.Paused())
}

func TestBreakerNoticeResetsAfterUnpause(t *testing.T) {
	b, now := newTestBreaker(time.Unix(1700000000, 0))

	for i := 0; i < 20; i++ {
		b.Record("a")
	}
	*now = now.Add(61 * time.Second)
	assert.False(t, b.Paused())

	// A fresh storm notices again.
	var notice bool
	for i := 0; i < 20; i++ {
		_, n := b.Record("a")
		notice = notice || n
	}
	assert.True(t, notice)
}
