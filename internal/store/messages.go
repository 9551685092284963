package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// InsertMessage appends a chat message. Messages are append-only; there
// is no update or delete path.
func (s *Store) InsertMessage(ctx context.Context, m *Message) (int64, error) {
	var id int64
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO job_messages (job_id, sender, content, signed, signature, safety_score, flags, from_hold)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id, created_at`,
		m.JobID, m.Sender, m.Content, m.Signed, m.Signature, m.SafetyScore, m.Flags, m.FromHold).
		Scan(&id, &createdAt)
	if err != nil {
		return 0, err
	}
	m.ID = id
	m.CreatedAt = createdAt
	return id, nil
}

// ListMessages pages through a job's messages in insertion order.
func (s *Store) ListMessages(ctx context.Context, jobID string, limit, offset int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, sender, content, signed, signature, safety_score, flags, from_hold, created_at
		FROM job_messages WHERE job_id = $1
		ORDER BY id
		LIMIT $2 OFFSET $3`, jobID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.JobID, &m.Sender, &m.Content, &m.Signed, &m.Signature,
			&m.SafetyScore, &m.Flags, &m.FromHold, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// UpsertReadReceipt records the latest read time per (job, identity).
func (s *Store) UpsertReadReceipt(ctx context.Context, jobID, identity string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO read_receipts (job_id, identity, read_at) VALUES ($1,$2,$3)
		ON CONFLICT (job_id, identity) DO UPDATE SET read_at = EXCLUDED.read_at`,
		jobID, identity, at)
	return err
}

// InsertFile records an uploaded file's metadata.
func (s *Store) InsertFile(ctx context.Context, f *File) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_files (id, job_id, message_id, uploader, filename, mime_type, size_bytes, sha256, storage_path)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		f.ID, f.JobID, f.MessageID, f.Uploader, f.Filename, f.MIMEType, f.SizeBytes, f.SHA256, f.StoragePath)
	return err
}

// GetFile loads file metadata by id.
func (s *Store) GetFile(ctx context.Context, id string) (*File, error) {
	f := &File{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, message_id, uploader, filename, mime_type, size_bytes, sha256, storage_path, created_at
		FROM job_files WHERE id = $1`, id).
		Scan(&f.ID, &f.JobID, &f.MessageID, &f.Uploader, &f.Filename, &f.MIMEType,
			&f.SizeBytes, &f.SHA256, &f.StoragePath, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

// ListFiles returns a job's files.
func (s *Store) ListFiles(ctx context.Context, jobID string) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, message_id, uploader, filename, mime_type, size_bytes, sha256, storage_path, created_at
		FROM job_files WHERE job_id = $1 ORDER BY created_at`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f := &File{}
		if err := rows.Scan(&f.ID, &f.JobID, &f.MessageID, &f.Uploader, &f.Filename, &f.MIMEType,
			&f.SizeBytes, &f.SHA256, &f.StoragePath, &f.CreatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFile removes file metadata; the caller removes the blob.
func (s *Store) DeleteFile(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_files WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// ListExpiredFiles returns files of jobs completed more than the
// retention window ago, for the cleanup sweeper.
func (s *Store) ListExpiredFiles(ctx context.Context, olderThan time.Duration) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.job_id, f.message_id, f.uploader, f.filename, f.mime_type, f.size_bytes, f.sha256, f.storage_path, f.created_at
		FROM job_files f
		JOIN jobs j ON j.id = f.job_id
		WHERE j.status = 'completed' AND j.completed_at < now() - ($1 * interval '1 second')`,
		olderThan.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f := &File{}
		if err := rows.Scan(&f.ID, &f.JobID, &f.MessageID, &f.Uploader, &f.Filename, &f.MIMEType,
			&f.SizeBytes, &f.SHA256, &f.StoragePath, &f.CreatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
