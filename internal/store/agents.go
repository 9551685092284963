package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// UpsertAgent inserts or updates an agent row. Used by both the signed
// registration API and the indexer; idempotent per identity address.
func (s *Store) UpsertAgent(ctx context.Context, a *Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (identity_address, name, agent_type, status, description, owner_identity, last_indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (identity_address) DO UPDATE SET
			name = EXCLUDED.name,
			agent_type = EXCLUDED.agent_type,
			status = EXCLUDED.status,
			description = EXCLUDED.description,
			owner_identity = EXCLUDED.owner_identity,
			last_indexed_at = GREATEST(agents.last_indexed_at, EXCLUDED.last_indexed_at),
			updated_at = now()`,
		a.IdentityAddress, a.Name, a.AgentType, a.Status, a.Description, a.OwnerIdentity, a.LastIndexedAt)
	return err
}

// GetAgent loads an agent with capabilities, endpoints, and services.
func (s *Store) GetAgent(ctx context.Context, address string) (*Agent, error) {
	a := &Agent{}
	err := s.db.QueryRowContext(ctx, `
		SELECT identity_address, name, agent_type, status, description, owner_identity, last_indexed_at, created_at, updated_at
		FROM agents WHERE identity_address = $1`, address).
		Scan(&a.IdentityAddress, &a.Name, &a.AgentType, &a.Status, &a.Description,
			&a.OwnerIdentity, &a.LastIndexedAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT capability FROM agent_capabilities WHERE agent_address = $1 ORDER BY capability`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var cap string
		if err := rows.Scan(&cap); err != nil {
			return nil, err
		}
		a.Capabilities = append(a.Capabilities, cap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if a.Endpoints, err = s.ListEndpoints(ctx, address); err != nil {
		return nil, err
	}
	if a.Services, err = s.ListServices(ctx, address); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAgents pages through agents, optionally filtered by status.
func (s *Store) ListAgents(ctx context.Context, status string, limit, offset int) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity_address, name, agent_type, status, description, owner_identity, last_indexed_at, created_at, updated_at
		FROM agents
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a := &Agent{}
		if err := rows.Scan(&a.IdentityAddress, &a.Name, &a.AgentType, &a.Status, &a.Description,
			&a.OwnerIdentity, &a.LastIndexedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// SetAgentStatus updates only the status field.
func (s *Store) SetAgentStatus(ctx context.Context, address, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = $2, updated_at = now() WHERE identity_address = $1`, address, status)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// ReplaceCapabilities swaps the capability set for an agent.
func (s *Store) ReplaceCapabilities(ctx context.Context, address string, caps []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM agent_capabilities WHERE agent_address = $1`, address); err != nil {
			return err
		}
		for _, cap := range caps {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO agent_capabilities (agent_address, capability) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				address, cap); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertEndpoint records an agent-claimed endpoint. New endpoints start
// unverified.
func (s *Store) UpsertEndpoint(ctx context.Context, e *Endpoint) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO agent_endpoints (agent_address, url, protocol, public)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (agent_address, url) DO UPDATE SET
			protocol = EXCLUDED.protocol,
			public = EXCLUDED.public
		RETURNING id`,
		e.AgentAddress, e.URL, e.Protocol, e.Public).Scan(&id)
	return id, err
}

// ListEndpoints returns an agent's endpoints.
func (s *Store) ListEndpoints(ctx context.Context, address string) ([]Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_address, url, protocol, public, verified, last_verified_at, next_verify_at
		FROM agent_endpoints WHERE agent_address = $1 ORDER BY id`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []Endpoint
	for rows.Next() {
		var e Endpoint
		if err := rows.Scan(&e.ID, &e.AgentAddress, &e.URL, &e.Protocol, &e.Public,
			&e.Verified, &e.LastVerifiedAt, &e.NextVerifyAt); err != nil {
			return nil, err
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}

// MarkEndpointVerified flips the verified flag and schedules the next
// re-verification.
func (s *Store) MarkEndpointVerified(ctx context.Context, endpointID int64, next time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_endpoints
		SET verified = true, last_verified_at = now(), next_verify_at = $2, missed_checks = 0
		WHERE id = $1`, endpointID, next)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// MarkEndpointUnverified clears the verified flag (stale endpoints).
func (s *Store) MarkEndpointUnverified(ctx context.Context, endpointID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agent_endpoints SET verified = false WHERE id = $1`, endpointID)
	return err
}

// MarkEndpointMissed counts a failed re-verification. At staleAfter
// consecutive misses the endpoint loses its verified flag; otherwise
// the next check is rescheduled.
func (s *Store) MarkEndpointMissed(ctx context.Context, endpointID int64, staleAfter int, next time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_endpoints
		SET missed_checks = missed_checks + 1,
		    verified = (missed_checks + 1 < $2),
		    next_verify_at = CASE WHEN missed_checks + 1 < $2 THEN $3 ELSE NULL END
		WHERE id = $1`, endpointID, staleAfter, next)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// UpsertService stores a service offering, keyed by (agent, name) so
// indexer replays are idempotent.
func (s *Store) UpsertService(ctx context.Context, svc *Service) (int64, error) {
	var params []byte
	if svc.SessionParams != nil {
		var err error
		if params, err = json.Marshal(svc.SessionParams); err != nil {
			return 0, err
		}
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO services (agent_address, name, price, currency, category, turnaround, session_params)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (agent_address, name) DO UPDATE SET
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			category = EXCLUDED.category,
			turnaround = EXCLUDED.turnaround,
			session_params = COALESCE(EXCLUDED.session_params, services.session_params)
		RETURNING id`,
		svc.AgentAddress, svc.Name, svc.Price, svc.Currency, svc.Category, svc.Turnaround, nullBytes(params)).Scan(&id)
	return id, err
}

// ListServices returns an agent's service offerings.
func (s *Store) ListServices(ctx context.Context, address string) ([]Service, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_address, name, price, currency, category, turnaround, session_params
		FROM services WHERE agent_address = $1 ORDER BY id`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []Service
	for rows.Next() {
		var svc Service
		var params []byte
		if err := rows.Scan(&svc.ID, &svc.AgentAddress, &svc.Name, &svc.Price, &svc.Currency,
			&svc.Category, &svc.Turnaround, &params); err != nil {
			return nil, err
		}
		if len(params) > 0 {
			svc.SessionParams = &SessionParams{}
			if err := json.Unmarshal(params, svc.SessionParams); err != nil {
				return nil, fmt.Errorf("service %d session params: %w", svc.ID, err)
			}
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

// GetService loads one service by id.
func (s *Store) GetService(ctx context.Context, id int64) (*Service, error) {
	var svc Service
	var params []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_address, name, price, currency, category, turnaround, session_params
		FROM services WHERE id = $1`, id).
		Scan(&svc.ID, &svc.AgentAddress, &svc.Name, &svc.Price, &svc.Currency,
			&svc.Category, &svc.Turnaround, &params)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		svc.SessionParams = &SessionParams{}
		if err := json.Unmarshal(params, svc.SessionParams); err != nil {
			return nil, err
		}
	}
	return &svc, nil
}

// AddCanary registers a leak tripwire for an agent.
func (s *Store) AddCanary(ctx context.Context, address, token string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_canaries (agent_address, token) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		address, token)
	return err
}

// ListCanaries returns the tripwire tokens registered by an agent.
func (s *Store) ListCanaries(ctx context.Context, address string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token FROM agent_canaries WHERE agent_address = $1`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
