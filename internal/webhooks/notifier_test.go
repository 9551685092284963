package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vap/backend/internal/store"
)

type fakeNotifs struct {
	inserted []*store.Notification
	inbox    []*store.InboxItem
}

func (f *fakeNotifs) InsertNotification(_ context.Context, n *store.Notification) (int64, error) {
	f.inserted = append(f.inserted, n)
	return int64(len(f.inserted)), nil
}

func (f *fakeNotifs) InsertInboxItem(_ context.Context, it *store.InboxItem) (int64, error) {
	f.inbox = append(f.inbox, it)
	return int64(len(f.inbox)), nil
}

func (f *fakeNotifs) PruneNotifications(_ context.Context, _, _ time.Duration) (int64, error) {
	return 0, nil
}

func testJob() *store.Job {
	return &store.Job{
		ID:          "job-1",
		Buyer:       "iBuyer",
		Seller:      "iSeller",
		Description: "translate a document",
	}
}

func TestJobEventRecipients(t *testing.T) {
	job := testJob()

	cases := map[string][]string{
		"job.requested":   {"iSeller"},
		"job.accepted":    {"iBuyer"},
		"job.payment":     {"iSeller"},
		"job.started":     {"iBuyer", "iSeller"},
		"job.delivered":   {"iBuyer"},
		"job.completed":   {"iSeller"},
		"job.cancelled":   {"iSeller"},
		"job.attestation": {"iBuyer"},
	}
	for eventType, want := range cases {
		assert.Equal(t, want, jobEventRecipients(eventType, job), eventType)
	}
}

func TestDisputeNotifiesCounterparty(t *testing.T) {
	job := testJob()
	job.DisputedBy = "iBuyer"
	assert.Equal(t, []string{"iSeller"}, jobEventRecipients("job.disputed", job))

	job.DisputedBy = "iSeller"
	assert.Equal(t, []string{"iBuyer"}, jobEventRecipients("job.disputed", job))
}

func TestJobEventInsertsNotification(t *testing.T) {
	notifs := &fakeNotifs{}
	n := NewNotifier(notifs, nil)

	n.JobEvent(context.Background(), "job.delivered", testJob())

	require.Len(t, notifs.inserted, 1)
	got := notifs.inserted[0]
	assert.Equal(t, "iBuyer", got.Recipient)
	assert.Equal(t, "job.delivered", got.NotifType)
	assert.Equal(t, "Work delivered", got.Title)
	assert.Equal(t, "job-1", got.JobID)

	require.Len(t, notifs.inbox, 1)
	assert.Equal(t, "job_delivered", notifs.inbox[0].ItemType)
	assert.Equal(t, "iBuyer", notifs.inbox[0].Recipient)
	assert.Equal(t, "iSeller", notifs.inbox[0].Sender)
	assert.WithinDuration(t, time.Now().Add(inboxExpiry), notifs.inbox[0].ExpiresAt, time.Minute)
}

func TestJobEventWithoutInboxType(t *testing.T) {
	notifs := &fakeNotifs{}
	n := NewNotifier(notifs, nil)

	n.JobEvent(context.Background(), "job.payment", testJob())

	require.Len(t, notifs.inserted, 1)
	assert.Empty(t, notifs.inbox, "payment events are notification-only")
}

func TestNotifyInsertsDirectedNotification(t *testing.T) {
	notifs := &fakeNotifs{}
	n := NewNotifier(notifs, nil)

	n.Notify(context.Background(), "iBuyer", "message.held", "job-1", map[string]any{"holdId": 7})

	require.Len(t, notifs.inserted, 1)
	assert.Equal(t, "iBuyer", notifs.inserted[0].Recipient)
	assert.Contains(t, notifs.inserted[0].Data, `"holdId":7`)
}

func TestMessageEventSkipsNotifications(t *testing.T) {
	notifs := &fakeNotifs{}
	n := NewNotifier(notifs, nil)

	n.MessageEvent(context.Background(), "message.new", testJob(), &store.Message{Content: "hi"})

	assert.Empty(t, notifs.inserted, "chat traffic is webhook-only")
}
