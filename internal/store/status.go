package store

// Status is the delivery lifecycle state of a message or campaign recipient.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusPending    Status = "pending" // campaign recipient before first send
	StatusSending    Status = "sending"
	StatusSent       Status = "sent"
	StatusDelivered  Status = "delivered"
	StatusOpened     Status = "opened"
	StatusClicked    Status = "clicked"
	StatusBounced    Status = "bounced"
	StatusComplained Status = "complained"
	StatusFailed     Status = "failed"
)

// statusRank orders lifecycle states so a later event can never regress the
// status to an earlier one. Terminal states rank above everything and above
// each other's lower-ranked peers; once reached they are immutable.
func statusRank(s Status) int {
	switch s {
	case StatusQueued, StatusPending:
		return 0
	case StatusSending:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusOpened:
		return 4
	case StatusClicked:
		return 5
	case StatusBounced, StatusComplained, StatusFailed:
		return 6
	default:
		return 0
	}
}

// IsTerminal reports whether s permits no further status transitions.
func IsTerminal(s Status) bool {
	switch s {
	case StatusBounced, StatusComplained, StatusFailed:
		return true
	}
	return false
}

// statusRankSQL is the SQL rendering of statusRank, used inside guarded
// UPDATE statements so the regression check and the write are one atomic
// statement.
const statusRankSQL = `CASE status
	WHEN 'queued' THEN 0
	WHEN 'pending' THEN 0
	WHEN 'sending' THEN 1
	WHEN 'sent' THEN 2
	WHEN 'delivered' THEN 3
	WHEN 'opened' THEN 4
	WHEN 'clicked' THEN 5
	WHEN 'bounced' THEN 6
	WHEN 'complained' THEN 6
	WHEN 'failed' THEN 6
	ELSE 0 END`
