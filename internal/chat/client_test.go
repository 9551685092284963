package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpireSessionSendsTerminalFrame(t *testing.T) {
	c := &client{
		principal: &Principal{Identity: "iBuyer"},
		send:      make(chan []byte, 1),
		joined:    make(map[string]*membership),
	}

	expiresAt := time.Now()
	c.expireSession("job-1", expiresAt)

	var f Frame
	select {
	case raw := <-c.send:
		require.NoError(t, json.Unmarshal(raw, &f))
	default:
		t.Fatal("no frame enqueued")
	}
	assert.Equal(t, EvSessionExpired, f.Type)
	assert.Equal(t, "job-1", f.JobID)

	var out expiryOut
	require.NoError(t, json.Unmarshal(f.Payload, &out))
	assert.WithinDuration(t, expiresAt, out.ExpiresAt, time.Second)
}
