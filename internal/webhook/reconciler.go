package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/piquet/courier/internal/metrics"
	"github.com/piquet/courier/internal/store"
)

// statColumn maps a lifecycle status to the campaign counter it bumps.
// Sent counters are incremented by the dispatcher, not here.
var statColumn = map[store.Status]string{
	store.StatusDelivered:  "total_delivered",
	store.StatusOpened:     "total_opened",
	store.StatusClicked:    "total_clicked",
	store.StatusBounced:    "total_bounced",
	store.StatusComplained: "total_complained",
}

// Reconciler applies provider lifecycle events to delivery records and
// campaign recipients. Handling is idempotent: duplicate event ids are
// dropped up front, and status writes are guarded in the store so replays
// and out-of-order arrivals cannot regress state.
type Reconciler struct {
	deliveries *store.DeliveryRepository
	campaigns  *store.CampaignRepository
	dedup      *DedupStore
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewReconciler(db *store.DB, dedup *DedupStore, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		deliveries: store.NewDeliveryRepository(db),
		campaigns:  store.NewCampaignRepository(db),
		dedup:      dedup,
		metrics:    m,
		logger:     logger.With("component", "webhook"),
	}
}

// Handle processes one webhook event. Unknown event types and events for
// unknown messages are acknowledged and dropped; only infrastructure
// failures return an error, so the provider retries exactly the events that
// did not land.
func (r *Reconciler) Handle(ctx context.Context, eventID string, ev *Event) error {
	if r.metrics != nil {
		r.metrics.WebhookEventsTotal.WithLabelValues(ev.Type).Inc()
	}

	status, ok := eventStatus[ev.Type]
	if !ok {
		r.logger.Debug("ignoring unhandled webhook event", "type", ev.Type)
		return nil
	}

	if ev.Data.EmailID == "" {
		r.logger.Warn("webhook event without email id", "type", ev.Type)
		return nil
	}

	marked := false
	if r.dedup != nil && eventID != "" {
		seen, err := r.dedup.CheckAndMark(eventID)
		if err != nil {
			return err
		}
		if seen {
			if r.metrics != nil {
				r.metrics.WebhookDuplicatesTotal.Inc()
			}
			r.logger.Debug("dropping duplicate webhook event", "event_id", eventID, "type", ev.Type)
			return nil
		}
		marked = true
	}

	applied, err := r.deliveries.ApplyEvent(ctx, &store.DeliveryEvent{
		MessageID:  ev.Data.EmailID,
		Status:     status,
		OccurredAt: ev.OccurredAt(),
		Error:      eventError(ev),
		Metadata:   eventMetadata(ev),
	})
	if err != nil {
		r.release(eventID, marked)
		return err
	}

	r.logger.Info("webhook event processed",
		"type", ev.Type, "message_id", ev.Data.EmailID, "status_applied", applied)

	if err := r.reconcileCampaign(ctx, ev, status); err != nil {
		r.release(eventID, marked)
		return err
	}
	return nil
}

// release drops a recorded event id after a processing failure. The provider
// redelivers events we errored on, and that redelivery must not be dropped
// as a duplicate.
func (r *Reconciler) release(eventID string, marked bool) {
	if !marked {
		return
	}
	if err := r.dedup.Unmark(eventID); err != nil {
		r.logger.Error("failed to release event id", "event_id", eventID, "error", err)
	}
}

// reconcileCampaign advances the campaign recipient tied to the message, if
// any, and bumps the matching aggregate counter. Open and click counters
// move on every distinct event; states that are reached once count on the
// recipient's first transition into them, regardless of the order events
// arrived in.
func (r *Reconciler) reconcileCampaign(ctx context.Context, ev *Event, status store.Status) error {
	rec, err := r.campaigns.GetRecipientByMessageID(ctx, ev.Data.EmailID)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	counted, err := r.campaigns.ApplyRecipientEvent(ctx, &store.RecipientEvent{
		RecipientID: rec.ID,
		Status:      status,
		OccurredAt:  ev.OccurredAt(),
		BounceType:  ev.Data.Bounce.Type,
		Error:       eventError(ev),
	})
	if err != nil {
		return err
	}

	column, ok := statColumn[status]
	if !ok || !counted {
		return nil
	}
	if err := r.campaigns.IncrementStat(ctx, rec.CampaignID, column, 1); err != nil {
		// Counters are best-effort; recipient state is already correct.
		r.logger.Error("failed to increment campaign stat",
			"campaign_id", rec.CampaignID, "column", column, "error", err)
	}
	return nil
}

// CleanupLoop periodically drops old event ids from the dedup store until
// the context is cancelled.
func (r *Reconciler) CleanupLoop(ctx context.Context, interval, maxAge time.Duration) {
	if r.dedup == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := r.dedup.Cleanup(maxAge)
			if err != nil {
				r.logger.Error("event id cleanup failed", "error", err)
			} else if removed > 0 {
				r.logger.Debug("cleaned up event ids", "removed", removed)
			}
		}
	}
}

func eventError(ev *Event) string {
	switch {
	case ev.Data.Bounce.Message != "":
		return ev.Data.Bounce.Message
	case ev.Data.Failed.Reason != "":
		return ev.Data.Failed.Reason
	}
	return ""
}

func eventMetadata(ev *Event) map[string]any {
	switch ev.Type {
	case "email.clicked":
		if ev.Data.Click.Link != "" {
			return map[string]any{"last_click_link": ev.Data.Click.Link}
		}
	case "email.bounced":
		if ev.Data.Bounce.Type != "" {
			return map[string]any{"bounce_type": ev.Data.Bounce.Type}
		}
	}
	return nil
}
