package endpoints

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChallengeEntropy(t *testing.T) {
	a, err := newChallenge()
	require.NoError(t, err)
	b, err := newChallenge()
	require.NoError(t, err)

	assert.Len(t, a, 64) // 256 bits hex
	assert.NotEqual(t, a, b)
}

func TestWellKnownURL(t *testing.T) {
	assert.Equal(t, "https://a.example.com/.well-known/verus-agent",
		wellKnownURL("https://a.example.com"))
	assert.Equal(t, "https://a.example.com/.well-known/verus-agent",
		wellKnownURL("https://a.example.com/"))
}

func TestRetryLadder(t *testing.T) {
	assert.Equal(t, 3, maxRetries)
	require.Len(t, retryDelays, 3)
	assert.Equal(t, "1m0s", retryDelays[0].String())
	assert.Equal(t, "5m0s", retryDelays[1].String())
	assert.Equal(t, "30m0s", retryDelays[2].String())
}
