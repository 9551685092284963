// Package holdqueue manages outbound messages withheld by content
// scanning: buyer review, seller appeals, and the auto-release sweep.
// Held content is never implicitly deleted; every entry ends released,
// rejected, or auto-released after the review SLA.
package holdqueue

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/vap/backend/internal/store"
)

// ReviewSLA is how long an entry may sit unreviewed before the sweeper
// releases it.
const ReviewSLA = 24 * time.Hour

// ErrNotBuyer rejects review actions from anyone but the job's buyer.
var ErrNotBuyer = errors.New("only the job buyer may review held messages")

// ErrNotSender rejects appeals from anyone but the held message sender.
var ErrNotSender = errors.New("only the sender may appeal a held message")

// Broadcaster delivers a released message into the live chat room, if
// one is open. Implemented by the chat hub.
type Broadcaster interface {
	BroadcastMessage(jobID string, msg *store.Message)
}

// Notifier fans out hold lifecycle notifications. Implemented by the
// notification service.
type Notifier interface {
	Notify(ctx context.Context, recipient, eventType, jobID string, payload any)
}

// Service coordinates the hold queue.
type Service struct {
	store     *store.Store
	broadcast Broadcaster
	notifier  Notifier
	logger    *log.Logger
}

// New builds the service.
func New(st *store.Store, b Broadcaster, n Notifier) *Service {
	return &Service{
		store:     st,
		broadcast: b,
		notifier:  n,
		logger:    log.New(log.Writer(), "[HOLD] ", log.LstdFlags),
	}
}

// Hold persists a withheld outbound message and alerts the buyer. The
// sender learns only that the message was held, never why.
func (s *Service) Hold(ctx context.Context, h *store.HeldMessage) (int64, error) {
	id, err := s.store.InsertHeldMessage(ctx, h)
	if err != nil {
		return 0, err
	}
	s.notifier.Notify(ctx, s.buyerOf(ctx, h.JobID), "message.held", h.JobID,
		map[string]any{"holdId": id, "score": h.Score})
	return id, nil
}

// List returns a job's hold queue entries for the buyer's review. The
// sender sees their own entries with score and flags redacted.
func (s *Service) List(ctx context.Context, jobID, caller string, limit, offset int) ([]*store.HeldMessage, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListHeldMessages(ctx, jobID, "", limit, offset)
	if err != nil {
		return nil, err
	}
	if caller == job.Buyer {
		return entries, nil
	}

	var own []*store.HeldMessage
	for _, e := range entries {
		if e.Sender != caller {
			continue
		}
		redacted := *e
		redacted.Score = 0
		redacted.Flags = ""
		own = append(own, &redacted)
	}
	return own, nil
}

// Release delivers a held message: buyer-only. The message lands in the
// job transcript under a system-authored timestamp and is broadcast
// with its from-hold marker so clients can render the provenance.
func (s *Service) Release(ctx context.Context, id int64, caller string) (*store.Message, error) {
	entry, err := s.requireBuyer(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	return s.release(ctx, entry)
}

// Reject discards a held message: buyer-only. The row stays for audit.
func (s *Service) Reject(ctx context.Context, id int64, caller string) error {
	entry, err := s.requireBuyer(ctx, id, caller)
	if err != nil {
		return err
	}
	if _, err := s.store.ResolveHeldMessage(ctx, entry.ID, store.HoldRejected); err != nil {
		return err
	}
	s.notifier.Notify(ctx, entry.Sender, "message.rejected", entry.JobID,
		map[string]any{"holdId": entry.ID})
	return nil
}

// Appeal records the sender's appeal reason on a still-held entry.
func (s *Service) Appeal(ctx context.Context, id int64, caller, reason string) error {
	entry, err := s.store.GetHeldMessage(ctx, id)
	if err != nil {
		return err
	}
	if entry.Sender != caller {
		return ErrNotSender
	}
	if err := s.store.SetHoldAppeal(ctx, id, caller, reason); err != nil {
		return err
	}
	job, err := s.store.GetJob(ctx, entry.JobID)
	if err != nil {
		return err
	}
	s.notifier.Notify(ctx, job.Buyer, "message.appeal", entry.JobID,
		map[string]any{"holdId": id, "reason": reason})
	return nil
}

// RunSweeper auto-releases entries held past the SLA. Runs until ctx
// is done; fired on a timer, never from request handlers.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	overdue, err := s.store.ListOverdueHeld(ctx, ReviewSLA)
	if err != nil {
		s.logger.Printf("sweep: list overdue: %v", err)
		return
	}
	for _, entry := range overdue {
		if _, err := s.release(ctx, entry); err != nil {
			// Likely a concurrent buyer review; skip, not fatal.
			s.logger.Printf("sweep: release %d: %v", entry.ID, err)
		}
	}
	if len(overdue) > 0 {
		s.logger.Printf("sweep: auto-released %d overdue entries", len(overdue))
	}
}

func (s *Service) release(ctx context.Context, entry *store.HeldMessage) (*store.Message, error) {
	if _, err := s.store.ResolveHeldMessage(ctx, entry.ID, store.HoldReleased); err != nil {
		return nil, err
	}

	score := entry.Score
	msg := &store.Message{
		JobID:       entry.JobID,
		Sender:      entry.Sender,
		Content:     entry.Content,
		SafetyScore: &score,
		Flags:       entry.Flags,
		FromHold:    true,
	}
	if _, err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.broadcast.BroadcastMessage(entry.JobID, msg)
	s.notifier.Notify(ctx, entry.Sender, "message.released", entry.JobID,
		map[string]any{"holdId": entry.ID, "messageId": msg.ID})
	return msg, nil
}

func (s *Service) requireBuyer(ctx context.Context, id int64, caller string) (*store.HeldMessage, error) {
	entry, err := s.store.GetHeldMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	job, err := s.store.GetJob(ctx, entry.JobID)
	if err != nil {
		return nil, err
	}
	if caller != job.Buyer {
		return nil, ErrNotBuyer
	}
	return entry, nil
}

func (s *Service) buyerOf(ctx context.Context, jobID string) string {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return ""
	}
	return job.Buyer
}
