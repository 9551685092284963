package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSocketLimiterMinGap(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := newSocketLimiter()
	l.now = func() time.Time { return now }

	assert.True(t, l.AllowMessage())
	now = now.Add(100 * time.Millisecond)
	assert.False(t, l.AllowMessage())
	now = now.Add(150 * time.Millisecond)
	assert.True(t, l.AllowMessage())
}

func TestSocketLimiterWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := newSocketLimiter()
	l.now = func() time.Time { return now }

	for i := 0; i < messagesPerMin; i++ {
		now = now.Add(time.Second)
		assert.True(t, l.AllowMessage(), "message %d", i)
	}
	now = now.Add(time.Second)
	assert.False(t, l.AllowMessage())

	// The window slides; a minute later capacity returns.
	now = now.Add(messageWindow)
	assert.True(t, l.AllowMessage())
}

func TestWindowLimiter(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := newWindowLimiter(3, time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	now = now.Add(61 * time.Second)
	assert.True(t, l.Allow())
}

func TestThrottle(t *testing.T) {
	now := time.Unix(1700000000, 0)
	th := newThrottle(500 * time.Millisecond)
	th.now = func() time.Time { return now }

	assert.True(t, th.Allow())
	assert.False(t, th.Allow())
	now = now.Add(501 * time.Millisecond)
	assert.True(t, th.Allow())
}
