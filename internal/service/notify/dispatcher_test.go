package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devbazaar/escrow-engine/internal/domain"
)

type fakeOutbox struct {
	pending  []domain.Notification
	statuses map[uuid.UUID]domain.NotificationStatus
}

func newFakeOutbox(pending ...domain.Notification) *fakeOutbox {
	return &fakeOutbox{
		pending:  pending,
		statuses: make(map[uuid.UUID]domain.NotificationStatus),
	}
}

func (f *fakeOutbox) GetPending(_ context.Context, limit int) ([]domain.Notification, error) {
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeOutbox) UpdateStatus(_ context.Context, id uuid.UUID, status domain.NotificationStatus) error {
	f.statuses[id] = status
	return nil
}

type fakeSender struct {
	sent    []domain.Notification
	failFor map[uuid.UUID]error
}

func (f *fakeSender) Send(_ context.Context, n domain.Notification) error {
	if err, ok := f.failFor[n.ID]; ok {
		return err
	}
	f.sent = append(f.sent, n)
	return nil
}

func pendingNotification(title string) domain.Notification {
	return domain.Notification{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Channel:   domain.ChannelInApp,
		Title:     title,
		Body:      "body",
		Status:    domain.NotificationStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func TestDispatcher_Poll(t *testing.T) {
	first := pendingNotification("Deposit verified")
	second := pendingNotification("Milestone released")
	outbox := newFakeOutbox(first, second)
	sender := &fakeSender{}

	d := NewDispatcher(outbox, sender, slog.Default(), time.Second, 10)
	d.poll(context.Background())

	require.Len(t, sender.sent, 2)
	assert.Equal(t, domain.NotificationStatusDispatched, outbox.statuses[first.ID])
	assert.Equal(t, domain.NotificationStatusDispatched, outbox.statuses[second.ID])
}

func TestDispatcher_SendFailureMarksFailed(t *testing.T) {
	ok := pendingNotification("Dispute opened")
	bad := pendingNotification("Dispute resolved")
	outbox := newFakeOutbox(ok, bad)
	sender := &fakeSender{failFor: map[uuid.UUID]error{bad.ID: errors.New("channel down")}}

	d := NewDispatcher(outbox, sender, slog.Default(), time.Second, 10)
	d.poll(context.Background())

	require.Len(t, sender.sent, 1)
	assert.Equal(t, domain.NotificationStatusDispatched, outbox.statuses[ok.ID])
	assert.Equal(t, domain.NotificationStatusFailed, outbox.statuses[bad.ID])
}

func TestDispatcher_RespectsBatchSize(t *testing.T) {
	outbox := newFakeOutbox(
		pendingNotification("a"),
		pendingNotification("b"),
		pendingNotification("c"),
	)
	sender := &fakeSender{}

	d := NewDispatcher(outbox, sender, slog.Default(), time.Second, 2)
	d.poll(context.Background())

	assert.Len(t, sender.sent, 2)
}
