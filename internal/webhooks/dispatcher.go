package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vap/backend/internal/metrics"
	"github.com/vap/backend/internal/store"
)

const (
	// SignatureHeader carries the HMAC of the request body.
	SignatureHeader = "X-Vap-Signature"
	// EventHeader names the event type for cheap routing on the
	// receiver side.
	EventHeader = "X-Vap-Event"
	// EncryptedHeader marks deliveries whose body is sealed under the
	// subscription secret.
	EncryptedHeader = "X-Vap-Encrypted"

	// MaxFailures is the consecutive-failure count at which a
	// subscription is deactivated.
	MaxFailures = 10

	deliveryTimeout  = 10 * time.Second
	deliveryAttempts = 3
	queueSize        = 256
)

// retryBackoff spaces the in-process delivery attempts.
var retryBackoff = []time.Duration{time.Second, 5 * time.Second, 25 * time.Second}

// Event is one delivered platform event.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	JobID      string    `json:"jobId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data,omitempty"`
}

// SubscriptionStore is the persistence surface the dispatcher needs.
type SubscriptionStore interface {
	ListWebhookSubscriptions(ctx context.Context, agentAddress string) ([]*store.WebhookSubscription, error)
	RecordWebhookDelivery(ctx context.Context, id string, success bool, maxFailures int) error
}

type delivery struct {
	sub  *store.WebhookSubscription
	body []byte
	ev   string
}

// Dispatcher fans events out to subscriptions through a bounded queue
// and a fixed worker pool. Enqueueing never blocks a request path; a
// full queue drops the delivery and logs it.
type Dispatcher struct {
	subs    SubscriptionStore
	key     []byte // secret encryption key, nil in development
	queue   chan delivery
	workers int
	client  *http.Client
	logger  *log.Logger
	wg      sync.WaitGroup
}

// NewDispatcher builds a dispatcher with the given worker count.
func NewDispatcher(subs SubscriptionStore, key []byte, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	return &Dispatcher{
		subs:    subs,
		key:     key,
		queue:   make(chan delivery, queueSize),
		workers: workers,
		client:  &http.Client{Timeout: deliveryTimeout},
		logger:  log.New(log.Writer(), "[WEBHOOK] ", log.LstdFlags),
	}
}

// Run starts the worker pool and blocks until ctx is done, then drains
// in-flight deliveries.
func (d *Dispatcher) Run(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	<-ctx.Done()
	close(d.queue)
	d.wg.Wait()
}

// Dispatch queues ev for every active subscription of agentAddress
// whose event filter matches.
func (d *Dispatcher) Dispatch(ctx context.Context, agentAddress string, ev Event) {
	if agentAddress == "" {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	subs, err := d.subs.ListWebhookSubscriptions(ctx, agentAddress)
	if err != nil {
		d.logger.Printf("list subscriptions for %s: %v", agentAddress, err)
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		d.logger.Printf("marshal event %s: %v", ev.Type, err)
		return
	}

	for _, sub := range subs {
		if !matches(sub.EventTypes, ev.Type) {
			continue
		}
		select {
		case d.queue <- delivery{sub: sub, body: body, ev: ev.Type}:
		default:
			d.logger.Printf("queue full, dropping %s for %s", ev.Type, sub.ID)
			metrics.WebhookDeliveries.WithLabelValues("dropped").Inc()
		}
	}
}

func matches(filter []string, eventType string) bool {
	for _, t := range filter {
		if t == "*" || t == eventType {
			return true
		}
	}
	return false
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for del := range d.queue {
		d.deliver(ctx, del)
	}
}

// deliver posts one event with bounded retries, then records the final
// outcome so repeat offenders get deactivated.
func (d *Dispatcher) deliver(ctx context.Context, del delivery) {
	secret, err := DecryptSecret(d.key, del.sub.EncryptedSecret)
	if err != nil {
		d.logger.Printf("subscription %s: %v", del.sub.ID, err)
		return
	}

	// Opted-in subscriptions get the body sealed under the shared
	// secret; the signature always covers the bytes on the wire.
	body := del.body
	if del.sub.Encrypted {
		if body, err = SealPayload(secret, del.body); err != nil {
			d.logger.Printf("subscription %s: seal payload: %v", del.sub.ID, err)
			return
		}
	}
	sig := Sign(secret, body)

	var lastErr error
	for attempt := 0; attempt < deliveryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryBackoff[attempt-1]):
			}
		}
		if lastErr = d.post(ctx, del, body, sig); lastErr == nil {
			break
		}
	}

	success := lastErr == nil
	if success {
		metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
	} else {
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		d.logger.Printf("deliver %s to %s: %v", del.ev, del.sub.URL, lastErr)
	}
	// Record against background context; delivery state must persist
	// even during shutdown.
	rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.subs.RecordWebhookDelivery(rctx, del.sub.ID, success, MaxFailures); err != nil {
		d.logger.Printf("record delivery %s: %v", del.sub.ID, err)
	}
}

func (d *Dispatcher) post(ctx context.Context, del delivery, body []byte, sig string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, del.sub.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if del.sub.Encrypted {
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set(EncryptedHeader, "1")
	} else {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(SignatureHeader, sig)
	req.Header.Set(EventHeader, del.ev)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
