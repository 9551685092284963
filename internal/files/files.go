// Package files stores job artifacts on the local filesystem with
// metadata in the database. Every path is derived server-side from
// generated IDs plus a sanitized filename, and re-checked against the
// storage root before any open.
package files

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vap/backend/internal/store"
)

const (
	// DefaultMaxBytes caps uploads when the service sets no limit.
	DefaultMaxBytes = 10 << 20

	// retention keeps completed-job files for 30 days.
	retention = 30 * 24 * time.Hour

	maxFilenameLen = 128
)

var (
	ErrTooLarge        = errors.New("file exceeds size limit")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrForbidden       = errors.New("only the uploader may delete a file")
	ErrBadPath         = errors.New("file path escapes storage root")
)

// magic prefixes per accepted MIME type. Types without a magic entry
// (plain text, JSON, markdown) are accepted on declaration alone.
var magicByMIME = map[string][][]byte{
	"image/png":       {[]byte("\x89PNG\r\n\x1a\n")},
	"image/jpeg":      {[]byte("\xff\xd8\xff")},
	"image/gif":       {[]byte("GIF87a"), []byte("GIF89a")},
	"image/webp":      {[]byte("RIFF")},
	"application/pdf": {[]byte("%PDF")},
	"application/zip": {[]byte("PK\x03\x04")},
	"text/plain":      nil,
	"text/markdown":   nil,
	"application/json": nil,
}

// FileStore is the metadata surface the service needs.
type FileStore interface {
	InsertFile(ctx context.Context, f *store.File) error
	GetFile(ctx context.Context, id string) (*store.File, error)
	DeleteFile(ctx context.Context, id string) error
	ListExpiredFiles(ctx context.Context, olderThan time.Duration) ([]*store.File, error)
}

// Service manages file blobs under a single storage root.
type Service struct {
	db     FileStore
	base   string
	logger *log.Logger
}

// New builds the file service rooted at dir (created if missing).
func New(db FileStore, dir string) (*Service, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	return &Service{
		db:     db,
		base:   abs,
		logger: log.New(log.Writer(), "[FILES] ", log.LstdFlags),
	}, nil
}

// Save stores one upload for a job. limit <= 0 applies the default cap.
func (s *Service) Save(ctx context.Context, jobID, uploader, filename, mimeType string, r io.Reader, limit int64) (*store.File, error) {
	if limit <= 0 {
		limit = DefaultMaxBytes
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	if err := checkMagic(mimeType, data); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	safe := sanitizeFilename(filename)
	rel := filepath.Join(jobID, id+"-"+safe)
	abs, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	f := &store.File{
		ID:          id,
		JobID:       jobID,
		Uploader:    uploader,
		Filename:    safe,
		MIMEType:    mimeType,
		SizeBytes:   int64(len(data)),
		SHA256:      hex.EncodeToString(sum[:]),
		StoragePath: rel,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.db.InsertFile(ctx, f); err != nil {
		if rmErr := os.Remove(abs); rmErr != nil {
			s.logger.Printf("orphan blob %s: %v", rel, rmErr)
		}
		return nil, err
	}
	return f, nil
}

// Open returns metadata and the blob for download.
func (s *Service) Open(ctx context.Context, id string) (*store.File, io.ReadCloser, error) {
	f, err := s.db.GetFile(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	abs, err := s.resolve(f.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	rc, err := os.Open(abs)
	if err != nil {
		return nil, nil, err
	}
	return f, rc, nil
}

// Delete removes a file; only its uploader may.
func (s *Service) Delete(ctx context.Context, id, caller string) error {
	f, err := s.db.GetFile(ctx, id)
	if err != nil {
		return err
	}
	if f.Uploader != caller {
		return ErrForbidden
	}
	if err := s.db.DeleteFile(ctx, id); err != nil {
		return err
	}
	s.removeBlob(f.StoragePath)
	return nil
}

// RunRetention sweeps expired files of completed jobs on a timer.
func (s *Service) RunRetention(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := s.db.ListExpiredFiles(ctx, retention)
			if err != nil {
				s.logger.Printf("list expired: %v", err)
				continue
			}
			for _, f := range expired {
				if err := s.db.DeleteFile(ctx, f.ID); err != nil {
					s.logger.Printf("expire %s: %v", f.ID, err)
					continue
				}
				s.removeBlob(f.StoragePath)
			}
			if len(expired) > 0 {
				s.logger.Printf("removed %d expired files", len(expired))
			}
		}
	}
}

func (s *Service) removeBlob(rel string) {
	abs, err := s.resolve(rel)
	if err != nil {
		s.logger.Printf("blob path %s: %v", rel, err)
		return
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Printf("remove blob %s: %v", rel, err)
	}
}

// resolve joins rel onto the storage root and rejects anything that
// cleans to a path outside it.
func (s *Service) resolve(rel string) (string, error) {
	abs := filepath.Clean(filepath.Join(s.base, rel))
	if abs != s.base && !strings.HasPrefix(abs, s.base+string(filepath.Separator)) {
		return "", ErrBadPath
	}
	return abs, nil
}

// sanitizeFilename strips directories and unsafe characters, keeping
// the extension intact.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		out = "file"
	}
	if len(out) > maxFilenameLen {
		out = out[len(out)-maxFilenameLen:]
	}
	return out
}

// checkMagic validates declared MIME against leading bytes.
func checkMagic(mimeType string, data []byte) error {
	base := mimeType
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	prefixes, ok := magicByMIME[base]
	if !ok {
		return ErrUnsupportedType
	}
	if prefixes == nil {
		return nil
	}
	for _, p := range prefixes {
		if bytes.HasPrefix(data, p) {
			return nil
		}
	}
	return ErrUnsupportedType
}
