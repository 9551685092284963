package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// InsertNotification stores an in-app notification.
func (s *Store) InsertNotification(ctx context.Context, n *Notification) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO notifications (recipient, notif_type, title, body, job_id, data)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		n.Recipient, n.NotifType, n.Title, n.Body, n.JobID, n.Data).Scan(&id)
	return id, err
}

// ListNotifications pages through a recipient's notifications, unread
// first then newest.
func (s *Store) ListNotifications(ctx context.Context, recipient string, unreadOnly bool, limit, offset int) ([]*Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient, notif_type, title, body, job_id, read, read_at, data, created_at
		FROM notifications
		WHERE recipient = $1 AND (NOT $2 OR NOT read)
		ORDER BY read, created_at DESC
		LIMIT $3 OFFSET $4`, recipient, unreadOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n := &Notification{}
		if err := rows.Scan(&n.ID, &n.Recipient, &n.NotifType, &n.Title, &n.Body, &n.JobID,
			&n.Read, &n.ReadAt, &n.Data, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead acks a notification for its recipient.
func (s *Store) MarkNotificationRead(ctx context.Context, id int64, recipient string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = true, read_at = now()
		WHERE id = $1 AND recipient = $2`, id, recipient)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// PruneNotifications applies the retention policy: read notifications
// older than readAfter, and everything older than absoluteAfter.
func (s *Store) PruneNotifications(ctx context.Context, readAfter, absoluteAfter time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE (read AND read_at < now() - ($1 * interval '1 second'))
		   OR created_at < now() - ($2 * interval '1 second')`,
		readAfter.Seconds(), absoluteAfter.Seconds())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateWebhookSubscription stores an agent's delivery target.
func (s *Store) CreateWebhookSubscription(ctx context.Context, w *WebhookSubscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (id, agent_address, url, event_types, encrypted_secret, encrypted, active)
		VALUES ($1,$2,$3,$4,$5,$6,true)`,
		w.ID, w.AgentAddress, w.URL, pq.Array(w.EventTypes), w.EncryptedSecret, w.Encrypted)
	return err
}

// ListWebhookSubscriptions returns active subscriptions for an agent,
// or all active ones when agentAddress is empty.
func (s *Store) ListWebhookSubscriptions(ctx context.Context, agentAddress string) ([]*WebhookSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_address, url, event_types, encrypted_secret, encrypted, active, failure_count, last_delivery_at, created_at
		FROM webhook_subscriptions
		WHERE active AND ($1 = '' OR agent_address = $1)`, agentAddress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*WebhookSubscription
	for rows.Next() {
		w := &WebhookSubscription{}
		if err := rows.Scan(&w.ID, &w.AgentAddress, &w.URL, pq.Array(&w.EventTypes),
			&w.EncryptedSecret, &w.Encrypted, &w.Active, &w.FailureCount, &w.LastDeliveryAt, &w.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, w)
	}
	return subs, rows.Err()
}

// DeleteWebhookSubscription removes a subscription owned by the agent.
func (s *Store) DeleteWebhookSubscription(ctx context.Context, id, agentAddress string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM webhook_subscriptions WHERE id = $1 AND agent_address = $2`, id, agentAddress)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// RecordWebhookDelivery updates delivery state; subscriptions that fail
// too often are deactivated.
func (s *Store) RecordWebhookDelivery(ctx context.Context, id string, success bool, maxFailures int) error {
	if success {
		_, err := s.db.ExecContext(ctx, `
			UPDATE webhook_subscriptions SET failure_count = 0, last_delivery_at = now()
			WHERE id = $1`, id)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions
		SET failure_count = failure_count + 1,
		    active = (failure_count + 1 < $2)
		WHERE id = $1`, id, maxFailures)
	return err
}

// GetWebhookSubscription loads one subscription.
func (s *Store) GetWebhookSubscription(ctx context.Context, id string) (*WebhookSubscription, error) {
	w := &WebhookSubscription{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_address, url, event_types, encrypted_secret, encrypted, active, failure_count, last_delivery_at, created_at
		FROM webhook_subscriptions WHERE id = $1`, id).
		Scan(&w.ID, &w.AgentAddress, &w.URL, pq.Array(&w.EventTypes),
			&w.EncryptedSecret, &w.Encrypted, &w.Active, &w.FailureCount, &w.LastDeliveryAt, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}
