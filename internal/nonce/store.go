// Package nonce provides atomic claim-or-reject of request nonces.
// Correctness lives in the durable store's insert-or-fail; the
// in-process set (and optional Redis SETNX) only short-circuits
// obvious replays before touching Postgres.
package nonce

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vap/backend/internal/store"
)

// TTL is how long a claimed nonce stays claimed.
const TTL = 10 * time.Minute

// ErrReplay is returned when a nonce was already claimed.
var ErrReplay = errors.New("nonce replay")

// DB is the durable insert-or-fail surface behind the accelerators;
// *store.Store satisfies it.
type DB interface {
	ClaimNonce(ctx context.Context, nonce string, expiresAt time.Time) error
	ReapNonces(ctx context.Context, now time.Time) (int64, error)
}

// Store claims nonces exactly once across concurrent verifiers.
type Store struct {
	db     DB
	rdb    *redis.Client // optional fast path, nil when unset
	logger *log.Logger

	mu   sync.Mutex
	seen map[string]time.Time // nonce -> expiry
}

// New builds a nonce store. redisURL may be empty.
func New(db DB, redisURL string) (*Store, error) {
	s := &Store{
		db:     db,
		logger: log.New(log.Writer(), "[NONCE] ", log.LstdFlags),
		seen:   make(map[string]time.Time),
	}
	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, err
		}
		s.rdb = redis.NewClient(opts)
		s.logger.Printf("redis fast path enabled")
	}
	return s, nil
}

// Claim atomically claims the nonce. The first caller wins; every
// later caller gets ErrReplay, including after process restarts while
// the durable row lives.
func (s *Store) Claim(ctx context.Context, nonce string) error {
	now := time.Now()

	// Memory accelerator: a hit here is a definite replay.
	s.mu.Lock()
	if exp, ok := s.seen[nonce]; ok && now.Before(exp) {
		s.mu.Unlock()
		return ErrReplay
	}
	s.mu.Unlock()

	// Redis accelerator when configured. SETNX losing means replay;
	// errors fall through to the durable path.
	if s.rdb != nil {
		ok, err := s.rdb.SetNX(ctx, "nonce:"+nonce, 1, TTL).Result()
		if err == nil && !ok {
			return ErrReplay
		}
	}

	if err := s.db.ClaimNonce(ctx, nonce, now.Add(TTL)); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrReplay
		}
		return err
	}

	s.mu.Lock()
	s.seen[nonce] = now.Add(TTL)
	s.mu.Unlock()
	return nil
}

// RunReaper prunes expired nonces every interval until ctx is done.
// Never called from request handlers.
func (s *Store) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if n, err := s.db.ReapNonces(ctx, now); err != nil {
				s.logger.Printf("reap failed: %v", err)
			} else if n > 0 {
				s.logger.Printf("reaped %d expired nonces", n)
			}

			s.mu.Lock()
			for nonce, exp := range s.seen {
				if now.After(exp) {
					delete(s.seen, nonce)
				}
			}
			s.mu.Unlock()
		}
	}
}
