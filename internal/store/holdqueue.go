package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// InsertHeldMessage stores an outbound message withheld by SafeChat.
func (s *Store) InsertHeldMessage(ctx context.Context, h *HeldMessage) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO hold_queue (job_id, sender, content, score, flags, status)
		VALUES ($1,$2,$3,$4,$5,'held') RETURNING id`,
		h.JobID, h.Sender, h.Content, h.Score, h.Flags).Scan(&id)
	return id, err
}

// GetHeldMessage loads one hold queue entry.
func (s *Store) GetHeldMessage(ctx context.Context, id int64) (*HeldMessage, error) {
	h := &HeldMessage{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, sender, content, score, flags, status, appeal_reason, held_at, reviewed_at
		FROM hold_queue WHERE id = $1`, id).
		Scan(&h.ID, &h.JobID, &h.Sender, &h.Content, &h.Score, &h.Flags, &h.Status,
			&h.AppealReason, &h.HeldAt, &h.ReviewedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return h, err
}

// ListHeldMessages returns held entries for a job.
func (s *Store) ListHeldMessages(ctx context.Context, jobID, status string, limit, offset int) ([]*HeldMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, sender, content, score, flags, status, appeal_reason, held_at, reviewed_at
		FROM hold_queue
		WHERE job_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY held_at
		LIMIT $3 OFFSET $4`, jobID, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*HeldMessage
	for rows.Next() {
		h := &HeldMessage{}
		if err := rows.Scan(&h.ID, &h.JobID, &h.Sender, &h.Content, &h.Score, &h.Flags,
			&h.Status, &h.AppealReason, &h.HeldAt, &h.ReviewedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ResolveHeldMessage moves a held entry to released or rejected. Only
// entries still in held status transition; ErrConflict otherwise.
func (s *Store) ResolveHeldMessage(ctx context.Context, id int64, status string) (*HeldMessage, error) {
	h := &HeldMessage{}
	err := s.db.QueryRowContext(ctx, `
		UPDATE hold_queue SET status = $2, reviewed_at = now()
		WHERE id = $1 AND status = 'held'
		RETURNING id, job_id, sender, content, score, flags, status, appeal_reason, held_at, reviewed_at`,
		id, status).
		Scan(&h.ID, &h.JobID, &h.Sender, &h.Content, &h.Score, &h.Flags, &h.Status,
			&h.AppealReason, &h.HeldAt, &h.ReviewedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Either missing or already resolved.
		if _, getErr := s.GetHeldMessage(ctx, id); getErr != nil {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	return h, err
}

// SetHoldAppeal records the sender's appeal reason on a held entry.
func (s *Store) SetHoldAppeal(ctx context.Context, id int64, sender, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE hold_queue SET appeal_reason = $3
		WHERE id = $1 AND sender = $2 AND status = 'held'`, id, sender, reason)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// ListOverdueHeld returns entries held longer than the SLA, for the
// auto-release sweeper.
func (s *Store) ListOverdueHeld(ctx context.Context, olderThan time.Duration) ([]*HeldMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, sender, content, score, flags, status, appeal_reason, held_at, reviewed_at
		FROM hold_queue
		WHERE status = 'held' AND held_at < now() - ($1 * interval '1 second')`,
		olderThan.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*HeldMessage
	for rows.Next() {
		h := &HeldMessage{}
		if err := rows.Scan(&h.ID, &h.JobID, &h.Sender, &h.Content, &h.Score, &h.Flags,
			&h.Status, &h.AppealReason, &h.HeldAt, &h.ReviewedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
