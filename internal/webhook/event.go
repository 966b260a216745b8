// Package webhook ingests provider lifecycle events and reconciles them
// into delivery records and campaign state.
package webhook

import (
	"time"

	"github.com/piquet/courier/internal/store"
)

// Event is the provider webhook envelope.
type Event struct {
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Data      EventData `json:"data"`
}

// EventData is the payload common to all lifecycle event types. Fields
// absent for a given type simply unmarshal to their zero values.
type EventData struct {
	EmailID   string    `json:"email_id"`
	From      string    `json:"from"`
	To        []string  `json:"to"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"created_at"`

	Click struct {
		Link      string    `json:"link"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"click"`

	Bounce struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"bounce"`

	Failed struct {
		Reason string `json:"reason"`
	} `json:"failed"`
}

// eventStatus maps provider event types to delivery lifecycle statuses.
// Unknown types are acknowledged and dropped.
var eventStatus = map[string]store.Status{
	"email.sent":       store.StatusSent,
	"email.delivered":  store.StatusDelivered,
	"email.opened":     store.StatusOpened,
	"email.clicked":    store.StatusClicked,
	"email.bounced":    store.StatusBounced,
	"email.complained": store.StatusComplained,
	"email.failed":     store.StatusFailed,
}

// OccurredAt returns the best available event timestamp.
func (e *Event) OccurredAt() time.Time {
	if !e.Data.CreatedAt.IsZero() {
		return e.Data.CreatedAt
	}
	if !e.CreatedAt.IsZero() {
		return e.CreatedAt
	}
	return time.Now().UTC()
}
