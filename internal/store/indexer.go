package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// GetWatermark returns the last indexed block for a chain, 0 when the
// indexer has never run.
func (s *Store) GetWatermark(ctx context.Context, chain string) (int64, error) {
	var h int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_indexed_block FROM indexer_state WHERE chain = $1`, chain).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return h, err
}

// SetWatermark advances the watermark; it never moves backwards.
func (s *Store) SetWatermark(ctx context.Context, chain string, height int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexer_state (chain, last_indexed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (chain) DO UPDATE SET
			last_indexed_block = GREATEST(indexer_state.last_indexed_block, EXCLUDED.last_indexed_block),
			updated_at = now()`, chain, height)
	return err
}

// CreateEndpointVerification opens a prove-control attempt.
func (s *Store) CreateEndpointVerification(ctx context.Context, v *EndpointVerification) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO endpoint_verifications (endpoint_id, agent_address, url, challenge, status, next_attempt, expires_at)
		VALUES ($1,$2,$3,$4,'pending',$5,$6) RETURNING id`,
		v.EndpointID, v.AgentAddress, v.URL, v.Challenge, v.NextAttempt, v.ExpiresAt).Scan(&id)
	return id, err
}

// DueEndpointVerifications returns pending attempts whose next_attempt
// has passed.
func (s *Store) DueEndpointVerifications(ctx context.Context, now time.Time, limit int) ([]*EndpointVerification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, endpoint_id, agent_address, url, challenge, status, retries, missed_checks, next_attempt, expires_at, created_at
		FROM endpoint_verifications
		WHERE status = 'pending' AND next_attempt <= $1
		ORDER BY next_attempt
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*EndpointVerification
	for rows.Next() {
		v := &EndpointVerification{}
		if err := rows.Scan(&v.ID, &v.EndpointID, &v.AgentAddress, &v.URL, &v.Challenge,
			&v.Status, &v.Retries, &v.MissedChecks, &v.NextAttempt, &v.ExpiresAt, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpdateEndpointVerification saves the worker's progress on an attempt.
func (s *Store) UpdateEndpointVerification(ctx context.Context, v *EndpointVerification) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE endpoint_verifications
		SET status = $2, retries = $3, missed_checks = $4, next_attempt = $5
		WHERE id = $1`, v.ID, v.Status, v.Retries, v.MissedChecks, v.NextAttempt)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// DueReverifications returns verified endpoints whose 24h re-check is
// due.
func (s *Store) DueReverifications(ctx context.Context, now time.Time, limit int) ([]Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_address, url, protocol, public, verified, last_verified_at, next_verify_at
		FROM agent_endpoints
		WHERE verified AND next_verify_at IS NOT NULL AND next_verify_at <= $1
		ORDER BY next_verify_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		var e Endpoint
		if err := rows.Scan(&e.ID, &e.AgentAddress, &e.URL, &e.Protocol, &e.Public,
			&e.Verified, &e.LastVerifiedAt, &e.NextVerifyAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
