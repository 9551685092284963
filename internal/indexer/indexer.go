// Package indexer mirrors on-chain identity content into the store.
// It polls chain height, re-reads identities whose content moved past
// the per-agent watermark, and upserts the decoded snapshot. Decoding
// is idempotent: replaying a block produces the same rows.
package indexer

import (
	"context"
	"log"
	"time"

	"github.com/vap/backend/internal/chain"
	"github.com/vap/backend/internal/metrics"
	"github.com/vap/backend/internal/sigverify"
	"github.com/vap/backend/internal/store"
)

const (
	// defaultReorgMargin re-reads this many blocks behind the watermark
	// so a shallow reorg cannot leave stale content behind.
	defaultReorgMargin = 3
	maxBackoff         = 60 * time.Second
	pageSize           = 100
)

// ChainReader is the node surface the indexer needs.
type ChainReader interface {
	GetBlockCount(ctx context.Context) (int64, error)
	GetIdentity(ctx context.Context, verusID string) (*chain.IdentityResult, error)
	ResolveIdentityAddress(ctx context.Context, verusID string) (string, error)
	VerifyMessage(ctx context.Context, identityAddress, message, signature string) (bool, error)
	InvalidateIdentity(verusID string)
}

// PaymentReverifier lets the indexer piggyback payment re-checks on
// its poll cycle. Implemented by the job machine.
type PaymentReverifier interface {
	ReverifyPayments(ctx context.Context, job *store.Job) error
}

// Indexer is the chain-to-store sync loop.
type Indexer struct {
	store       *store.Store
	chain       ChainReader
	payments    PaymentReverifier
	chainName   string
	reorgMargin int64
	logger      *log.Logger
	now         func() time.Time
}

// New builds the indexer. payments may be nil; a non-positive
// reorgMargin falls back to the default.
func New(st *store.Store, c ChainReader, payments PaymentReverifier, chainName string, reorgMargin int) *Indexer {
	if reorgMargin <= 0 {
		reorgMargin = defaultReorgMargin
	}
	return &Indexer{
		store:       st,
		chain:       c,
		payments:    payments,
		chainName:   chainName,
		reorgMargin: int64(reorgMargin),
		logger:      log.New(log.Writer(), "[INDEXER] ", log.LstdFlags),
		now:         time.Now,
	}
}

// Run polls until ctx is done. RPC failures back off exponentially,
// capped at one minute; the watermark only moves forward.
func (ix *Indexer) Run(ctx context.Context, interval time.Duration) {
	backoff := interval
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if err := ix.tick(ctx); err != nil {
			ix.logger.Printf("tick: %v", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = interval
	}
}

// tick runs one poll cycle.
func (ix *Indexer) tick(ctx context.Context) error {
	height, err := ix.chain.GetBlockCount(ctx)
	if err != nil {
		return err
	}
	watermark, err := ix.store.GetWatermark(ctx, ix.chainName)
	if err != nil {
		return err
	}
	if height <= watermark {
		return nil
	}

	// Everything at or above the re-read floor is considered possibly
	// changed; shallow reorgs re-decode the same identities.
	floor := watermark - ix.reorgMargin
	if floor < 0 {
		floor = 0
	}

	for offset := 0; ; offset += pageSize {
		agents, err := ix.store.ListAgents(ctx, "", pageSize, offset)
		if err != nil {
			return err
		}
		if len(agents) == 0 {
			break
		}
		for _, a := range agents {
			if err := ix.syncAgent(ctx, a, floor); err != nil {
				ix.logger.Printf("sync %s: %v", a.IdentityAddress, err)
			}
		}
		if len(agents) < pageSize {
			break
		}
	}

	if ix.payments != nil {
		ix.reverifyPayments(ctx)
	}
	if err := ix.store.SetWatermark(ctx, ix.chainName, height); err != nil {
		return err
	}
	metrics.IndexerHeight.Set(float64(height))
	return nil
}

// syncAgent re-reads one identity and upserts the decoded snapshot if
// its on-chain content moved past the floor.
func (ix *Indexer) syncAgent(ctx context.Context, a *store.Agent, floor int64) error {
	ix.chain.InvalidateIdentity(a.IdentityAddress)
	res, err := ix.chain.GetIdentity(ctx, a.IdentityAddress)
	if err != nil {
		return err
	}
	if res.BlockHeight <= a.LastIndexedAt && res.BlockHeight < floor {
		return nil
	}

	decoded := decodeAgent(res)
	if err := ix.store.UpsertAgent(ctx, decoded); err != nil {
		return err
	}
	if len(decoded.Capabilities) > 0 {
		if err := ix.store.ReplaceCapabilities(ctx, decoded.IdentityAddress, decoded.Capabilities); err != nil {
			return err
		}
	}

	for _, svc := range decodeServices(&res.Identity, decoded.IdentityAddress) {
		s := svc
		if _, err := ix.store.UpsertService(ctx, &s); err != nil {
			ix.logger.Printf("service %s/%s: %v", decoded.IdentityAddress, svc.Name, err)
		}
	}

	for _, review := range decodeReviews(&res.Identity, decoded.IdentityAddress) {
		review.Verified = ix.verifyReview(ctx, review)
		if err := ix.store.UpsertReview(ctx, review); err != nil {
			ix.logger.Printf("review %s by %s: %v", decoded.IdentityAddress, review.Buyer, err)
		}
	}
	return nil
}

// verifyReview checks the buyer's signature over the canonical review
// message. Unverifiable reviews are stored but carry no boost.
func (ix *Indexer) verifyReview(ctx context.Context, r *store.Review) bool {
	if r.Signature == "" || r.Buyer == "" {
		return false
	}
	rating := 0
	if r.Rating != nil {
		rating = *r.Rating
	}
	msg := sigverify.ReviewMessage(r.AgentAddress, r.JobHash, rating, r.Message, r.ReviewedAt.Unix())

	addr, err := ix.chain.ResolveIdentityAddress(ctx, r.Buyer)
	if err != nil {
		return false
	}
	ok, err := ix.chain.VerifyMessage(ctx, addr, msg, r.Signature)
	return err == nil && ok
}

// reverifyPayments re-checks unverified payment legs on accepted jobs.
func (ix *Indexer) reverifyPayments(ctx context.Context) {
	jobs, err := ix.store.ListJobsByStatus(ctx, store.JobAccepted, pageSize)
	if err != nil {
		ix.logger.Printf("list accepted jobs: %v", err)
		return
	}
	for _, job := range jobs {
		if job.PaymentTxid == "" && job.PlatformFeeTxid == "" {
			continue
		}
		if err := ix.payments.ReverifyPayments(ctx, job); err != nil {
			ix.logger.Printf("reverify %s: %v", job.ID, err)
		}
	}
}
