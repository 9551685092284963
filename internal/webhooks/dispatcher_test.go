package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vap/backend/internal/store"
)

type fakeSubs struct {
	mu    sync.Mutex
	subs  []*store.WebhookSubscription
	calls []bool // success values passed to RecordWebhookDelivery
}

func (f *fakeSubs) ListWebhookSubscriptions(_ context.Context, _ string) ([]*store.WebhookSubscription, error) {
	return f.subs, nil
}

func (f *fakeSubs) RecordWebhookDelivery(_ context.Context, _ string, success bool, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, success)
	return nil
}

func (f *fakeSubs) recorded() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.calls...)
}

func TestSecretRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	secret, err := NewSecret()
	require.NoError(t, err)
	assert.Len(t, secret, 64)

	sealed, err := EncryptSecret(key, secret)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), secret)

	plain, err := DecryptSecret(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, secret, plain)
}

func TestDecryptSecretRejectsTampered(t *testing.T) {
	key := make([]byte, 32)
	sealed, err := EncryptSecret(key, "topsecret")
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0x01
	_, err = DecryptSecret(key, sealed)
	assert.ErrorIs(t, err, ErrSecretCorrupt)
}

func TestSecretPlaintextWithoutKey(t *testing.T) {
	sealed, err := EncryptSecret(nil, "devsecret")
	require.NoError(t, err)
	plain, err := DecryptSecret(nil, sealed)
	require.NoError(t, err)
	assert.Equal(t, "devsecret", plain)
}

func TestDispatchDeliversSignedEvent(t *testing.T) {
	var mu sync.Mutex
	var gotBody []byte
	var gotSig, gotEvent string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody = body
		gotSig = r.Header.Get(SignatureHeader)
		gotEvent = r.Header.Get(EventHeader)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	subs := &fakeSubs{subs: []*store.WebhookSubscription{{
		ID:              "sub-1",
		AgentAddress:    "iAgent",
		URL:             srv.URL,
		EventTypes:      []string{"job.completed"},
		EncryptedSecret: []byte("devsecret"),
		Active:          true,
	}}}

	d := NewDispatcher(subs, nil, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	d.Dispatch(ctx, "iAgent", Event{Type: "job.completed", JobID: "job-1"})

	require.Eventually(t, func() bool {
		return len(subs.recorded()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []bool{true}, subs.recorded())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "job.completed", gotEvent)
	assert.Equal(t, Sign("devsecret", gotBody), gotSig)
	assert.Contains(t, string(gotBody), `"jobId":"job-1"`)
}

func TestDeliverEncryptedPayload(t *testing.T) {
	secret, err := NewSecret()
	require.NoError(t, err)

	var mu sync.Mutex
	var gotBody []byte
	var gotSig, gotType, gotEnc string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody = body
		gotSig = r.Header.Get(SignatureHeader)
		gotType = r.Header.Get("Content-Type")
		gotEnc = r.Header.Get(EncryptedHeader)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	subs := &fakeSubs{}
	d := NewDispatcher(subs, nil, 1)
	d.deliver(context.Background(), delivery{
		sub: &store.WebhookSubscription{
			ID:              "sub-enc",
			URL:             srv.URL,
			EncryptedSecret: []byte(secret),
			Encrypted:       true,
		},
		body: []byte(`{"type":"job.completed"}`),
		ev:   "job.completed",
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "application/octet-stream", gotType)
	assert.Equal(t, "1", gotEnc)
	assert.NotContains(t, string(gotBody), "job.completed", "wire body must be ciphertext")

	// The signature covers the sealed bytes, and the secret opens them.
	assert.Equal(t, Sign(secret, gotBody), gotSig)
	plain, err := OpenPayload(secret, gotBody)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"job.completed"}`, string(plain))
}

func TestSealPayloadFreshNonce(t *testing.T) {
	secret, err := NewSecret()
	require.NoError(t, err)

	a, err := SealPayload(secret, []byte("payload"))
	require.NoError(t, err)
	b, err := SealPayload(secret, []byte("payload"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "every delivery gets its own nonce")

	_, err = SealPayload("not-hex", []byte("payload"))
	assert.Error(t, err)
}

func TestOpenPayloadRejectsTampered(t *testing.T) {
	secret, err := NewSecret()
	require.NoError(t, err)

	sealed, err := SealPayload(secret, []byte("payload"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0x01
	_, err = OpenPayload(secret, sealed)
	assert.ErrorIs(t, err, ErrPayloadCorrupt)
}

func TestDispatchFiltersEventTypes(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	subs := &fakeSubs{subs: []*store.WebhookSubscription{{
		ID:              "sub-1",
		URL:             srv.URL,
		EventTypes:      []string{"job.completed"},
		EncryptedSecret: []byte("s"),
	}}}

	d := NewDispatcher(subs, nil, 1)
	d.Dispatch(context.Background(), "iAgent", Event{Type: "message.new"})

	assert.Empty(t, d.queue, "non-matching events never enqueue")
	assert.Zero(t, hits)
}

func TestDispatchWildcardMatches(t *testing.T) {
	assert.True(t, matches([]string{"*"}, "anything.at.all"))
	assert.True(t, matches([]string{"job.completed", "message.new"}, "message.new"))
	assert.False(t, matches([]string{"job.completed"}, "job.accepted"))
	assert.False(t, matches(nil, "job.completed"))
}

func TestDeliveryFailureRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	subs := &fakeSubs{subs: []*store.WebhookSubscription{{
		ID:              "sub-1",
		URL:             srv.URL,
		EventTypes:      []string{"*"},
		EncryptedSecret: []byte("s"),
	}}}

	// Collapse the retry ladder so the test stays fast.
	saved := retryBackoff
	retryBackoff = []time.Duration{0, 0}
	defer func() { retryBackoff = saved }()

	d := NewDispatcher(subs, nil, 1)
	d.deliver(context.Background(), delivery{
		sub:  subs.subs[0],
		body: []byte(`{}`),
		ev:   "job.completed",
	})

	require.Len(t, subs.recorded(), 1)
	assert.False(t, subs.recorded()[0])
}
