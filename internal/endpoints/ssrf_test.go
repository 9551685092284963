package endpoints

import (
	"context"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestCheckURLSchemes(t *testing.T) {
	c := NewSafeClient(false, false)

	assert.NoError(t, c.checkURL(mustURL(t, "https://agent.example.com/x")))
	assert.NoError(t, c.checkURL(mustURL(t, "http://agent.example.com")))
	assert.Error(t, c.checkURL(mustURL(t, "ftp://agent.example.com")))
	assert.Error(t, c.checkURL(mustURL(t, "file:///etc/passwd")))
	assert.Error(t, c.checkURL(mustURL(t, "gopher://agent.example.com")))
}

func TestCheckURLPorts(t *testing.T) {
	c := NewSafeClient(false, false)

	assert.NoError(t, c.checkURL(mustURL(t, "https://x.example.com:443/")))
	assert.NoError(t, c.checkURL(mustURL(t, "https://x.example.com:8443/")))
	assert.Error(t, c.checkURL(mustURL(t, "http://x.example.com:6379/")))
	assert.Error(t, c.checkURL(mustURL(t, "http://x.example.com:5432/")))

	relaxed := NewSafeClient(false, true)
	assert.NoError(t, relaxed.checkURL(mustURL(t, "http://x.example.com:6379/")))
}

func TestBlockedIPRanges(t *testing.T) {
	c := NewSafeClient(false, false)

	blocked := []string{
		"127.0.0.1",
		"::1",
		"10.0.0.5",
		"172.16.3.4",
		"192.168.1.1",
		"169.254.169.254", // cloud metadata
		"224.0.0.1",
		"0.0.0.0",
		"fe80::1",
		"fd00::1",
	}
	for _, s := range blocked {
		assert.True(t, c.blockedIP(net.ParseIP(s)), s)
	}

	allowed := []string{"1.1.1.1", "93.184.216.34", "2606:4700::1111"}
	for _, s := range allowed {
		assert.False(t, c.blockedIP(net.ParseIP(s)), s)
	}
}

func TestLoopbackAllowFlag(t *testing.T) {
	c := NewSafeClient(true, false)
	assert.False(t, c.blockedIP(net.ParseIP("127.0.0.1")))
	// Only loopback is relaxed, private ranges stay blocked.
	assert.True(t, c.blockedIP(net.ParseIP("10.0.0.5")))
}

func TestResolveAndCheckLiteralIP(t *testing.T) {
	c := NewSafeClient(false, false)
	ctx := context.Background()

	assert.ErrorIs(t, c.resolveAndCheck(ctx, "192.168.0.10"), ErrBlockedHost)
	assert.ErrorIs(t, c.resolveAndCheck(ctx, "127.0.0.1"), ErrBlockedHost)
	assert.NoError(t, c.resolveAndCheck(ctx, "1.1.1.1"))
}
