package webhook

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/piquet/courier/internal/store"
)

type reconcilerFixture struct {
	db         *store.DB
	deliveries *store.DeliveryRepository
	campaigns  *store.CampaignRepository
	reconciler *Reconciler
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()

	db, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &reconcilerFixture{
		db:         db,
		deliveries: store.NewDeliveryRepository(db),
		campaigns:  store.NewCampaignRepository(db),
		reconciler: NewReconciler(db, newTestDedupStore(t), nil, logger),
	}
}

// sentCampaignMessage seeds a sent delivery bound to a campaign recipient
// and returns the recipient.
func (f *reconcilerFixture) sentCampaignMessage(t *testing.T, messageID string) *store.CampaignRecipient {
	t.Helper()
	ctx := context.Background()

	rec, err := f.campaigns.CreateRecipient(ctx, "camp-1", "a@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.campaigns.MarkSent(ctx, "camp-1", rec.ID, messageID); err != nil {
		t.Fatal(err)
	}
	err = f.deliveries.Upsert(ctx, &store.SendOutcome{
		MessageID:  messageID,
		ToEmail:    "a@example.com",
		Subject:    "hello",
		Status:     store.StatusSent,
		CampaignID: "camp-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func deliveredEvent(messageID string) *Event {
	ev := &Event{Type: "email.delivered", CreatedAt: time.Now().UTC()}
	ev.Data.EmailID = messageID
	return ev
}

func TestHandleDeliveredEvent(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	rec := f.sentCampaignMessage(t, "msg-1")

	if err := f.reconciler.Handle(ctx, "evt_1", deliveredEvent("msg-1")); err != nil {
		t.Fatal(err)
	}

	delivery, err := f.deliveries.Get(ctx, "msg-1")
	if err != nil {
		t.Fatal(err)
	}
	if delivery.Status != store.StatusDelivered {
		t.Errorf("delivery status = %s", delivery.Status)
	}
	if delivery.DeliveredAt == nil {
		t.Error("delivered_at not stamped")
	}

	updated, _ := f.campaigns.GetRecipient(ctx, "camp-1", rec.ID)
	if updated.Status != store.StatusDelivered {
		t.Errorf("recipient status = %s", updated.Status)
	}

	stats, _ := f.campaigns.GetStats(ctx, "camp-1")
	if stats.TotalDelivered != 1 {
		t.Errorf("total_delivered = %d, want 1", stats.TotalDelivered)
	}
}

func TestHandleDuplicateEventID(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.sentCampaignMessage(t, "msg-1")

	for i := 0; i < 3; i++ {
		if err := f.reconciler.Handle(ctx, "evt_1", deliveredEvent("msg-1")); err != nil {
			t.Fatal(err)
		}
	}

	stats, _ := f.campaigns.GetStats(ctx, "camp-1")
	if stats.TotalDelivered != 1 {
		t.Errorf("total_delivered = %d after redeliveries, want 1", stats.TotalDelivered)
	}
}

func TestHandleRepeatedOpens(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	rec := f.sentCampaignMessage(t, "msg-1")

	for i, id := range []string{"evt_1", "evt_2"} {
		ev := &Event{Type: "email.opened", CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second)}
		ev.Data.EmailID = "msg-1"
		if err := f.reconciler.Handle(ctx, id, ev); err != nil {
			t.Fatal(err)
		}
	}

	updated, _ := f.campaigns.GetRecipient(ctx, "camp-1", rec.ID)
	if updated.OpenCount != 2 {
		t.Errorf("open_count = %d, want 2", updated.OpenCount)
	}

	// Each distinct open is counted, even though the status only moved once.
	stats, _ := f.campaigns.GetStats(ctx, "camp-1")
	if stats.TotalOpened != 2 {
		t.Errorf("total_opened = %d, want 2", stats.TotalOpened)
	}
}

func TestHandleOutOfOrderDelivered(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	rec := f.sentCampaignMessage(t, "msg-1")

	opened := &Event{Type: "email.opened", CreatedAt: time.Now().UTC()}
	opened.Data.EmailID = "msg-1"
	if err := f.reconciler.Handle(ctx, "evt_1", opened); err != nil {
		t.Fatal(err)
	}
	if err := f.reconciler.Handle(ctx, "evt_2", deliveredEvent("msg-1")); err != nil {
		t.Fatal(err)
	}

	delivery, _ := f.deliveries.Get(ctx, "msg-1")
	if delivery.Status != store.StatusOpened {
		t.Errorf("status regressed to %s", delivery.Status)
	}

	// The late delivered event cannot regress the status but is still the
	// message's one delivery, so it counts exactly once.
	updated, _ := f.campaigns.GetRecipient(ctx, "camp-1", rec.ID)
	if updated.DeliveredAt == nil {
		t.Error("delivered_at not stamped by late delivered event")
	}
	stats, _ := f.campaigns.GetStats(ctx, "camp-1")
	if stats.TotalDelivered != 1 {
		t.Errorf("total_delivered = %d, want 1", stats.TotalDelivered)
	}
	if stats.TotalOpened != 1 {
		t.Errorf("total_opened = %d, want 1", stats.TotalOpened)
	}

	// A second delivered event under a fresh id changes nothing.
	if err := f.reconciler.Handle(ctx, "evt_3", deliveredEvent("msg-1")); err != nil {
		t.Fatal(err)
	}
	stats, _ = f.campaigns.GetStats(ctx, "camp-1")
	if stats.TotalDelivered != 1 {
		t.Errorf("total_delivered = %d after repeat event, want 1", stats.TotalDelivered)
	}
}

func TestHandleBouncedEvent(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	rec := f.sentCampaignMessage(t, "msg-1")

	ev := &Event{Type: "email.bounced", CreatedAt: time.Now().UTC()}
	ev.Data.EmailID = "msg-1"
	ev.Data.Bounce.Type = "hard"
	ev.Data.Bounce.Message = "mailbox does not exist"
	if err := f.reconciler.Handle(ctx, "evt_1", ev); err != nil {
		t.Fatal(err)
	}

	delivery, _ := f.deliveries.Get(ctx, "msg-1")
	if delivery.Status != store.StatusBounced {
		t.Errorf("delivery status = %s", delivery.Status)
	}
	if delivery.Error != "mailbox does not exist" {
		t.Errorf("error = %q", delivery.Error)
	}
	if delivery.Metadata["bounce_type"] != "hard" {
		t.Errorf("metadata = %v", delivery.Metadata)
	}

	updated, _ := f.campaigns.GetRecipient(ctx, "camp-1", rec.ID)
	if updated.Status != store.StatusBounced || updated.BounceType != "hard" {
		t.Errorf("recipient = %+v", updated)
	}

	stats, _ := f.campaigns.GetStats(ctx, "camp-1")
	if stats.TotalBounced != 1 {
		t.Errorf("total_bounced = %d, want 1", stats.TotalBounced)
	}
}

func TestHandleClickRecordsLink(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.sentCampaignMessage(t, "msg-1")

	ev := &Event{Type: "email.clicked", CreatedAt: time.Now().UTC()}
	ev.Data.EmailID = "msg-1"
	ev.Data.Click.Link = "https://example.com/offer"
	if err := f.reconciler.Handle(ctx, "evt_1", ev); err != nil {
		t.Fatal(err)
	}

	delivery, _ := f.deliveries.Get(ctx, "msg-1")
	if delivery.Status != store.StatusClicked {
		t.Errorf("delivery status = %s", delivery.Status)
	}
	if delivery.Metadata["last_click_link"] != "https://example.com/offer" {
		t.Errorf("metadata = %v", delivery.Metadata)
	}
}

func TestHandleTransactionalMessageHasNoCampaignSideEffects(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	err := f.deliveries.Upsert(ctx, &store.SendOutcome{
		MessageID: "msg-tx", ToEmail: "a@example.com", Subject: "hi", Status: store.StatusSent,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.reconciler.Handle(ctx, "evt_1", deliveredEvent("msg-tx")); err != nil {
		t.Fatal(err)
	}

	delivery, _ := f.deliveries.Get(ctx, "msg-tx")
	if delivery.Status != store.StatusDelivered {
		t.Errorf("delivery status = %s", delivery.Status)
	}
}

func TestHandleUnknownEventType(t *testing.T) {
	f := newReconcilerFixture(t)

	ev := &Event{Type: "email.scheduled"}
	ev.Data.EmailID = "msg-1"
	if err := f.reconciler.Handle(context.Background(), "evt_1", ev); err != nil {
		t.Fatalf("unknown type should be acknowledged, got %v", err)
	}
}

func TestHandleMissingEmailID(t *testing.T) {
	f := newReconcilerFixture(t)

	ev := &Event{Type: "email.delivered"}
	if err := f.reconciler.Handle(context.Background(), "evt_1", ev); err != nil {
		t.Fatalf("event without email id should be acknowledged, got %v", err)
	}
}

func TestHandleFailureReleasesEventID(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dedup := newTestDedupStore(t)

	// A store failure mid-handle must not leave the event id marked, or the
	// provider's redelivery would be dropped and the event lost.
	broken, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	if err := broken.Migrate(); err != nil {
		t.Fatal(err)
	}
	broken.Close()

	if err := NewReconciler(broken, dedup, nil, logger).Handle(ctx, "evt_1", deliveredEvent("msg-1")); err == nil {
		t.Fatal("expected error from closed store")
	}

	db, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	// The redelivery carries the same event id and must be applied.
	if err := NewReconciler(db, dedup, nil, logger).Handle(ctx, "evt_1", deliveredEvent("msg-1")); err != nil {
		t.Fatal(err)
	}

	delivery, err := store.NewDeliveryRepository(db).Get(ctx, "msg-1")
	if err != nil {
		t.Fatal(err)
	}
	if delivery == nil || delivery.Status != store.StatusDelivered {
		t.Fatalf("redelivered event not applied: %+v", delivery)
	}
}

func TestHandleEventForUnknownMessageCreatesRow(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	if err := f.reconciler.Handle(ctx, "evt_1", deliveredEvent("msg-unknown")); err != nil {
		t.Fatal(err)
	}

	delivery, err := f.deliveries.Get(ctx, "msg-unknown")
	if err != nil {
		t.Fatal(err)
	}
	if delivery == nil || delivery.Status != store.StatusDelivered {
		t.Fatalf("delivery = %+v", delivery)
	}
}
