package store

import (
	"context"
	"time"
)

// UpsertReview stores a review, keyed by (agent, buyer, jobHash) so the
// indexer can replay block ranges idempotently.
func (s *Store) UpsertReview(ctx context.Context, r *Review) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (agent_address, buyer, job_hash, rating, message, signature, verified, reviewed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (agent_address, buyer, job_hash) DO UPDATE SET
			rating = EXCLUDED.rating,
			message = EXCLUDED.message,
			signature = EXCLUDED.signature,
			verified = EXCLUDED.verified,
			reviewed_at = EXCLUDED.reviewed_at`,
		r.AgentAddress, r.Buyer, r.JobHash, r.Rating, r.Message, r.Signature, r.Verified, r.ReviewedAt)
	return err
}

// ListReviews returns all reviews for an agent, newest first.
func (s *Store) ListReviews(ctx context.Context, agentAddress string) ([]*Review, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_address, buyer, job_hash, rating, message, signature, verified, reviewed_at
		FROM reviews WHERE agent_address = $1 ORDER BY reviewed_at DESC`, agentAddress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []*Review
	for rows.Next() {
		r := &Review{}
		if err := rows.Scan(&r.ID, &r.AgentAddress, &r.Buyer, &r.JobHash, &r.Rating,
			&r.Message, &r.Signature, &r.Verified, &r.ReviewedAt); err != nil {
			return nil, err
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

// CountReviewsByBuyer returns how many reviews a buyer has left, split
// into reviews for the given agent and for anyone else. Feeds the
// single-target-reviewer Sybil check.
func (s *Store) CountReviewsByBuyer(ctx context.Context, buyer, agentAddress string) (forAgent, forOthers int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE agent_address = $2),
		       COUNT(*) FILTER (WHERE agent_address <> $2)
		FROM reviews WHERE buyer = $1`, buyer, agentAddress).
		Scan(&forAgent, &forOthers)
	return forAgent, forOthers, err
}

// AvgRating returns the mean rating of an agent's rated reviews, or 0
// when none exist.
func (s *Store) AvgRating(ctx context.Context, agentAddress string) (float64, int, error) {
	var avg float64
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(rating), 0), COUNT(rating)
		FROM reviews WHERE agent_address = $1 AND rating IS NOT NULL`, agentAddress).
		Scan(&avg, &n)
	return avg, n, err
}

// CountVerifiedReviews returns the number of signature-verified reviews.
func (s *Store) CountVerifiedReviews(ctx context.Context, agentAddress string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reviews WHERE agent_address = $1 AND verified`, agentAddress).Scan(&n)
	return n, err
}

// InsertInboxItem stores a pending signed artifact for the recipient.
func (s *Store) InsertInboxItem(ctx context.Context, it *InboxItem) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO inbox_items (recipient, sender, item_type, rating, message, job_hash, signature, payload, status, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id`,
		it.Recipient, it.Sender, it.ItemType, it.Rating, it.Message, it.JobHash,
		it.Signature, it.Payload, InboxPending, it.ExpiresAt).Scan(&id)
	return id, err
}

// ListInbox pages through a recipient's inbox.
func (s *Store) ListInbox(ctx context.Context, recipient, status string, limit, offset int) ([]*InboxItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient, sender, item_type, rating, message, job_hash, signature, payload, status, expires_at, created_at
		FROM inbox_items
		WHERE recipient = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, recipient, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*InboxItem
	for rows.Next() {
		it := &InboxItem{}
		if err := rows.Scan(&it.ID, &it.Recipient, &it.Sender, &it.ItemType, &it.Rating,
			&it.Message, &it.JobHash, &it.Signature, &it.Payload, &it.Status,
			&it.ExpiresAt, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// SetInboxStatus moves a pending item to accepted/rejected; only the
// recipient's pending items transition.
func (s *Store) SetInboxStatus(ctx context.Context, id int64, recipient, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inbox_items SET status = $3
		WHERE id = $1 AND recipient = $2 AND status = 'pending'`, id, recipient, status)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// ExpireInboxItems marks pending items past their expiry. Returns the
// number expired.
func (s *Store) ExpireInboxItems(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inbox_items SET status = 'expired'
		WHERE status = 'pending' AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
