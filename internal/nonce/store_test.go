package nonce

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vap/backend/internal/store"
)

type fakeDB struct {
	mu     sync.Mutex
	rows   map[string]time.Time
	claims int
}

func (f *fakeDB) ClaimNonce(_ context.Context, nonce string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	if _, ok := f.rows[nonce]; ok {
		return store.ErrConflict
	}
	if f.rows == nil {
		f.rows = make(map[string]time.Time)
	}
	f.rows[nonce] = expiresAt
	return nil
}

func (f *fakeDB) ReapNonces(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for nonce, exp := range f.rows {
		if exp.Before(now) {
			delete(f.rows, nonce)
			n++
		}
	}
	return n, nil
}

func TestClaimFirstWinsConcurrently(t *testing.T) {
	s, err := New(&fakeDB{}, "")
	require.NoError(t, err)

	const workers = 32
	results := make(chan error, workers)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < workers; i++ {
		go func() {
			start.Wait()
			results <- s.Claim(context.Background(), "nonce-1")
		}()
	}
	start.Done()

	wins := 0
	for i := 0; i < workers; i++ {
		if err := <-results; err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrReplay)
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent claimer may win")
}

func TestClaimReplayShortCircuitsInMemory(t *testing.T) {
	db := &fakeDB{}
	s, err := New(db, "")
	require.NoError(t, err)

	require.NoError(t, s.Claim(context.Background(), "nonce-1"))
	claimsAfterFirst := db.claims

	assert.ErrorIs(t, s.Claim(context.Background(), "nonce-1"), ErrReplay)
	assert.Equal(t, claimsAfterFirst, db.claims, "a memory hit never reaches the durable store")
}

func TestClaimDistinctNonces(t *testing.T) {
	s, err := New(&fakeDB{}, "")
	require.NoError(t, err)

	assert.NoError(t, s.Claim(context.Background(), "nonce-1"))
	assert.NoError(t, s.Claim(context.Background(), "nonce-2"))
}

func TestClaimSurvivesMemoryLoss(t *testing.T) {
	db := &fakeDB{}
	s, err := New(db, "")
	require.NoError(t, err)
	require.NoError(t, s.Claim(context.Background(), "nonce-1"))

	// A second process with a cold cache still loses to the durable row.
	fresh, err := New(db, "")
	require.NoError(t, err)
	assert.ErrorIs(t, fresh.Claim(context.Background(), "nonce-1"), ErrReplay)
}
