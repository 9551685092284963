package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are forward-only. Never edit an applied entry; append a
// new one.
var migrations = []string{
	// 1: identity-scoped agent registry
	`CREATE TABLE IF NOT EXISTS agents (
		identity_address TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		agent_type       TEXT NOT NULL DEFAULT 'autonomous',
		status           TEXT NOT NULL DEFAULT 'active',
		description      TEXT NOT NULL DEFAULT '',
		owner_identity   TEXT NOT NULL DEFAULT '',
		last_indexed_at  BIGINT NOT NULL DEFAULT 0,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS agent_capabilities (
		agent_address TEXT NOT NULL REFERENCES agents(identity_address) ON DELETE CASCADE,
		capability    TEXT NOT NULL,
		PRIMARY KEY (agent_address, capability)
	);
	CREATE TABLE IF NOT EXISTS agent_endpoints (
		id               BIGSERIAL PRIMARY KEY,
		agent_address    TEXT NOT NULL REFERENCES agents(identity_address) ON DELETE CASCADE,
		url              TEXT NOT NULL,
		protocol         TEXT NOT NULL DEFAULT 'https',
		public           BOOLEAN NOT NULL DEFAULT false,
		verified         BOOLEAN NOT NULL DEFAULT false,
		last_verified_at TIMESTAMPTZ,
		next_verify_at   TIMESTAMPTZ,
		missed_checks    INTEGER NOT NULL DEFAULT 0,
		UNIQUE (agent_address, url)
	);
	CREATE TABLE IF NOT EXISTS services (
		id             BIGSERIAL PRIMARY KEY,
		agent_address  TEXT NOT NULL REFERENCES agents(identity_address) ON DELETE CASCADE,
		name           TEXT NOT NULL,
		price          DOUBLE PRECISION NOT NULL DEFAULT 0,
		currency       TEXT NOT NULL DEFAULT 'VRSC',
		category       TEXT NOT NULL DEFAULT '',
		turnaround     TEXT NOT NULL DEFAULT '',
		session_params JSONB,
		UNIQUE (agent_address, name)
	);`,

	// 2: jobs and per-job satellites
	`CREATE TABLE IF NOT EXISTS jobs (
		id                    TEXT PRIMARY KEY,
		job_hash              TEXT NOT NULL UNIQUE,
		buyer                 TEXT NOT NULL,
		seller                TEXT NOT NULL,
		service_id            BIGINT REFERENCES services(id),
		description           TEXT NOT NULL,
		amount                DOUBLE PRECISION NOT NULL,
		currency              TEXT NOT NULL,
		fee_amount            DOUBLE PRECISION NOT NULL DEFAULT 0,
		deadline              TEXT NOT NULL DEFAULT '',
		payment_terms         TEXT NOT NULL DEFAULT 'postpay',
		status                TEXT NOT NULL DEFAULT 'requested',
		payment_txid          TEXT NOT NULL DEFAULT '',
		payment_verified      BOOLEAN NOT NULL DEFAULT false,
		payment_note          TEXT NOT NULL DEFAULT '',
		platform_fee_txid     TEXT NOT NULL DEFAULT '',
		platform_fee_verified BOOLEAN NOT NULL DEFAULT false,
		platform_fee_note     TEXT NOT NULL DEFAULT '',
		request_signature     TEXT NOT NULL DEFAULT '',
		acceptance_signature  TEXT NOT NULL DEFAULT '',
		delivery_signature    TEXT NOT NULL DEFAULT '',
		completion_signature  TEXT NOT NULL DEFAULT '',
		delivery_hash         TEXT NOT NULL DEFAULT '',
		delivery_message      TEXT NOT NULL DEFAULT '',
		dispute_reason        TEXT NOT NULL DEFAULT '',
		disputed_by           TEXT NOT NULL DEFAULT '',
		safechat_enabled      BOOLEAN NOT NULL DEFAULT false,
		requested_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		accepted_at           TIMESTAMPTZ,
		started_at            TIMESTAMPTZ,
		delivered_at          TIMESTAMPTZ,
		completed_at          TIMESTAMPTZ,
		closed_at             TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS jobs_buyer_idx ON jobs(buyer);
	CREATE INDEX IF NOT EXISTS jobs_seller_idx ON jobs(seller);
	CREATE TABLE IF NOT EXISTS job_data_terms (
		job_id                       TEXT PRIMARY KEY REFERENCES jobs(id),
		retention                    TEXT NOT NULL DEFAULT 'none',
		allow_training               BOOLEAN NOT NULL DEFAULT false,
		allow_third_party            BOOLEAN NOT NULL DEFAULT false,
		require_deletion_attestation BOOLEAN NOT NULL DEFAULT true,
		accepted_by_seller           BOOLEAN NOT NULL DEFAULT false
	);
	CREATE TABLE IF NOT EXISTS deletion_attestations (
		job_id             TEXT PRIMARY KEY REFERENCES jobs(id),
		seller             TEXT NOT NULL,
		signature          TEXT NOT NULL,
		signature_verified BOOLEAN NOT NULL DEFAULT false,
		attested_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,

	// 3: chat plane
	`CREATE TABLE IF NOT EXISTS job_messages (
		id           BIGSERIAL PRIMARY KEY,
		job_id       TEXT NOT NULL REFERENCES jobs(id),
		sender       TEXT NOT NULL,
		content      TEXT NOT NULL,
		signed       BOOLEAN NOT NULL DEFAULT false,
		signature    TEXT NOT NULL DEFAULT '',
		safety_score DOUBLE PRECISION,
		flags        TEXT NOT NULL DEFAULT '',
		from_hold    BOOLEAN NOT NULL DEFAULT false,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS job_messages_job_idx ON job_messages(job_id, id);
	CREATE TABLE IF NOT EXISTS hold_queue (
		id            BIGSERIAL PRIMARY KEY,
		job_id        TEXT NOT NULL REFERENCES jobs(id),
		sender        TEXT NOT NULL,
		content       TEXT NOT NULL,
		score         DOUBLE PRECISION NOT NULL,
		flags         TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL DEFAULT 'held',
		appeal_reason TEXT NOT NULL DEFAULT '',
		held_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		reviewed_at   TIMESTAMPTZ
	);
	CREATE TABLE IF NOT EXISTS read_receipts (
		job_id   TEXT NOT NULL REFERENCES jobs(id),
		identity TEXT NOT NULL,
		read_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (job_id, identity)
	);
	CREATE TABLE IF NOT EXISTS job_files (
		id           TEXT PRIMARY KEY,
		job_id       TEXT NOT NULL REFERENCES jobs(id),
		message_id   BIGINT REFERENCES job_messages(id),
		uploader     TEXT NOT NULL,
		filename     TEXT NOT NULL,
		mime_type    TEXT NOT NULL,
		size_bytes   BIGINT NOT NULL,
		sha256       TEXT NOT NULL,
		storage_path TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,

	// 4: reviews and inbox
	`CREATE TABLE IF NOT EXISTS reviews (
		id            BIGSERIAL PRIMARY KEY,
		agent_address TEXT NOT NULL,
		buyer         TEXT NOT NULL,
		job_hash      TEXT NOT NULL DEFAULT '',
		rating        INTEGER,
		message       TEXT NOT NULL DEFAULT '',
		signature     TEXT NOT NULL DEFAULT '',
		verified      BOOLEAN NOT NULL DEFAULT false,
		reviewed_at   TIMESTAMPTZ NOT NULL,
		UNIQUE (agent_address, buyer, job_hash)
	);
	CREATE INDEX IF NOT EXISTS reviews_agent_idx ON reviews(agent_address);
	CREATE INDEX IF NOT EXISTS reviews_buyer_idx ON reviews(buyer);
	CREATE TABLE IF NOT EXISTS inbox_items (
		id         BIGSERIAL PRIMARY KEY,
		recipient  TEXT NOT NULL,
		sender     TEXT NOT NULL,
		item_type  TEXT NOT NULL,
		rating     INTEGER,
		message    TEXT NOT NULL DEFAULT '',
		job_hash   TEXT NOT NULL DEFAULT '',
		signature  TEXT NOT NULL DEFAULT '',
		payload    TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL DEFAULT 'pending',
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS inbox_recipient_idx ON inbox_items(recipient, status);`,

	// 5: notifications and webhooks
	`CREATE TABLE IF NOT EXISTS notifications (
		id         BIGSERIAL PRIMARY KEY,
		recipient  TEXT NOT NULL,
		notif_type TEXT NOT NULL,
		title      TEXT NOT NULL,
		body       TEXT NOT NULL DEFAULT '',
		job_id     TEXT NOT NULL DEFAULT '',
		read       BOOLEAN NOT NULL DEFAULT false,
		read_at    TIMESTAMPTZ,
		data       TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS notifications_recipient_idx ON notifications(recipient, read);
	CREATE TABLE IF NOT EXISTS webhook_subscriptions (
		id               TEXT PRIMARY KEY,
		agent_address    TEXT NOT NULL,
		url              TEXT NOT NULL,
		event_types      TEXT[] NOT NULL,
		encrypted_secret BYTEA,
		active           BOOLEAN NOT NULL DEFAULT true,
		failure_count    INTEGER NOT NULL DEFAULT 0,
		last_delivery_at TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,

	// 6: auth plane. Nonces are insert-or-fail, sessions cookie-bound.
	`CREATE TABLE IF NOT EXISTS nonces (
		nonce      TEXT PRIMARY KEY,
		expires_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		identity   TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS chat_tokens (
		id         TEXT PRIMARY KEY,
		identity   TEXT NOT NULL,
		used       BOOLEAN NOT NULL DEFAULT false,
		expires_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS agent_canaries (
		agent_address TEXT NOT NULL,
		token         TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (agent_address, token)
	);`,

	// 7: endpoint verification and indexer watermark
	`CREATE TABLE IF NOT EXISTS endpoint_verifications (
		id            BIGSERIAL PRIMARY KEY,
		endpoint_id   BIGINT NOT NULL REFERENCES agent_endpoints(id) ON DELETE CASCADE,
		agent_address TEXT NOT NULL,
		url           TEXT NOT NULL,
		challenge     TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'pending',
		retries       INTEGER NOT NULL DEFAULT 0,
		missed_checks INTEGER NOT NULL DEFAULT 0,
		next_attempt  TIMESTAMPTZ NOT NULL,
		expires_at    TIMESTAMPTZ NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS indexer_state (
		chain              TEXT PRIMARY KEY,
		last_indexed_block BIGINT NOT NULL DEFAULT 0,
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,

	// 8: opt-in payload encryption for webhook deliveries
	`ALTER TABLE webhook_subscriptions ADD COLUMN IF NOT EXISTS encrypted BOOLEAN NOT NULL DEFAULT false;`,
}

// migrate applies pending migrations in order, tracked by version.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("migration version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d: %w", version, err)
		}
		s.logger.Printf("applied migration %d", version)
	}
	return nil
}
