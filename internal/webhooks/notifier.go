package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/vap/backend/internal/store"
)

// Notification retention: read notifications go after a week, anything
// lingers at most 90 days.
const (
	readRetention     = 7 * 24 * time.Hour
	absoluteRetention = 90 * 24 * time.Hour
)

// inboxExpiry is how long a pending inbox item waits for action.
const inboxExpiry = 7 * 24 * time.Hour

// NotificationStore is the persistence surface the notifier needs.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n *store.Notification) (int64, error)
	InsertInboxItem(ctx context.Context, it *store.InboxItem) (int64, error)
	PruneNotifications(ctx context.Context, readAfter, absoluteAfter time.Duration) (int64, error)
}

// Notifier turns domain events into in-app notifications and webhook
// deliveries. It satisfies the emitter interfaces of the job machine,
// the chat hub, and the hold queue.
type Notifier struct {
	store      NotificationStore
	dispatcher *Dispatcher
	logger     *log.Logger
}

// NewNotifier wires the event fan-out.
func NewNotifier(st NotificationStore, d *Dispatcher) *Notifier {
	return &Notifier{
		store:      st,
		dispatcher: d,
		logger:     log.New(log.Writer(), "[NOTIFY] ", log.LstdFlags),
	}
}

// jobEventRecipients maps a lifecycle event to who gets told. The actor
// already knows what they did; the counterparty gets the notification.
func jobEventRecipients(eventType string, job *store.Job) []string {
	switch eventType {
	case "job.requested", "job.payment", "job.completed", "job.cancelled":
		return []string{job.Seller}
	case "job.accepted", "job.delivered", "job.attestation":
		return []string{job.Buyer}
	case "job.started":
		return []string{job.Buyer, job.Seller}
	case "job.disputed":
		if job.DisputedBy == job.Buyer {
			return []string{job.Seller}
		}
		return []string{job.Buyer}
	default:
		return nil
	}
}

var jobEventTitles = map[string]string{
	"job.requested":   "New job request",
	"job.accepted":    "Job accepted",
	"job.payment":     "Payment recorded",
	"job.started":     "Job started",
	"job.delivered":   "Work delivered",
	"job.completed":   "Job completed",
	"job.disputed":    "Job disputed",
	"job.cancelled":   "Job cancelled",
	"job.attestation": "Deletion attested",
}

// jobEventInboxTypes maps lifecycle events to the inbox item type the
// counterparty can act on.
var jobEventInboxTypes = map[string]string{
	"job.requested": "job_request",
	"job.accepted":  "job_accepted",
	"job.delivered": "job_delivered",
	"job.completed": "job_completed",
}

// JobEvent fans a lifecycle transition out to notifications, inbox
// items, and webhooks. Never blocks the transition; failures are
// logged.
func (n *Notifier) JobEvent(ctx context.Context, eventType string, job *store.Job) {
	title := jobEventTitles[eventType]
	if title == "" {
		title = eventType
	}
	for _, recipient := range jobEventRecipients(eventType, job) {
		n.insert(ctx, &store.Notification{
			Recipient: recipient,
			NotifType: eventType,
			Title:     title,
			Body:      fmt.Sprintf("%s: %s", title, job.Description),
			JobID:     job.ID,
		})
		if itemType, ok := jobEventInboxTypes[eventType]; ok {
			sender := job.Buyer
			if recipient == job.Buyer {
				sender = job.Seller
			}
			it := &store.InboxItem{
				Recipient: recipient,
				Sender:    sender,
				ItemType:  itemType,
				Message:   job.Description,
				JobHash:   job.JobHash,
				ExpiresAt: time.Now().Add(inboxExpiry),
			}
			if _, err := n.store.InsertInboxItem(ctx, it); err != nil {
				n.logger.Printf("insert inbox %s for %s: %v", itemType, recipient, err)
			}
		}
	}
	// Webhooks go to both sides; subscriptions filter by event type.
	n.dispatch(ctx, job.Buyer, Event{Type: eventType, JobID: job.ID, Data: job})
	n.dispatch(ctx, job.Seller, Event{Type: eventType, JobID: job.ID, Data: job})
}

// MessageEvent covers realtime traffic. Chat messages are webhook-only;
// a per-message in-app notification would drown the feed.
func (n *Notifier) MessageEvent(ctx context.Context, eventType string, job *store.Job, payload any) {
	n.dispatch(ctx, job.Buyer, Event{Type: eventType, JobID: job.ID, Data: payload})
	n.dispatch(ctx, job.Seller, Event{Type: eventType, JobID: job.ID, Data: payload})
}

// Notify delivers a directed event to one identity (hold queue
// decisions, appeals).
func (n *Notifier) Notify(ctx context.Context, recipient, eventType, jobID string, payload any) {
	body := ""
	if raw, err := json.Marshal(payload); err == nil {
		body = string(raw)
	}
	n.insert(ctx, &store.Notification{
		Recipient: recipient,
		NotifType: eventType,
		Title:     eventType,
		Body:      eventType,
		JobID:     jobID,
		Data:      body,
	})
	n.dispatch(ctx, recipient, Event{Type: eventType, JobID: jobID, Data: payload})
}

func (n *Notifier) insert(ctx context.Context, notif *store.Notification) {
	if _, err := n.store.InsertNotification(ctx, notif); err != nil {
		n.logger.Printf("insert notification %s for %s: %v", notif.NotifType, notif.Recipient, err)
	}
}

func (n *Notifier) dispatch(ctx context.Context, agentAddress string, ev Event) {
	if n.dispatcher != nil {
		n.dispatcher.Dispatch(ctx, agentAddress, ev)
	}
}

// RunPruner applies the notification retention policy on a timer.
func (n *Notifier) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pruned, err := n.store.PruneNotifications(ctx, readRetention, absoluteRetention); err != nil {
				n.logger.Printf("prune: %v", err)
			} else if pruned > 0 {
				n.logger.Printf("pruned %d notifications", pruned)
			}
		}
	}
}
