package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CampaignRecipient is one (campaign, recipient) pair. Rows are created
// before sending by the campaign owner; the dispatcher stamps them on send
// and the webhook reconciler advances them through the delivery lifecycle.
type CampaignRecipient struct {
	ID         string
	CampaignID string
	Email      string
	Status     Status
	MessageID  string

	SentAt      *time.Time
	DeliveredAt *time.Time
	OpenedAt    *time.Time
	ClickedAt   *time.Time

	OpenCount  int
	ClickCount int

	BounceType   string
	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CampaignStats is the aggregate counter row for one campaign. Counters are
// only ever mutated by atomic increments.
type CampaignStats struct {
	CampaignID      string
	TotalSent       int64
	TotalDelivered  int64
	TotalOpened     int64
	TotalClicked    int64
	TotalBounced    int64
	TotalComplained int64
	UpdatedAt       time.Time
}

type CampaignRepository struct {
	db *DB
}

func NewCampaignRepository(db *DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// CreateRecipient inserts a pending recipient row for a campaign. Callers
// create these before handing recipients to the bulk coordinator.
func (r *CampaignRepository) CreateRecipient(ctx context.Context, campaignID, email string) (*CampaignRecipient, error) {
	rec := &CampaignRecipient{
		ID:         uuid.New().String(),
		CampaignID: campaignID,
		Email:      email,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	rec.UpdatedAt = rec.CreatedAt

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_campaign_recipients (id, campaign_id, email, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CampaignID, rec.Email, string(rec.Status), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create campaign recipient: %w", err)
	}
	return rec, nil
}

// MarkSent stamps a recipient with the provider message id on successful send.
func (r *CampaignRepository) MarkSent(ctx context.Context, campaignID, recipientID, messageID string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE email_campaign_recipients
		SET message_id = ?, sent_at = ?, updated_at = ?,
			status = CASE WHEN status IN ('bounced','complained','failed') THEN status ELSE 'sent' END
		WHERE campaign_id = ? AND id = ?`,
		messageID, now, now, campaignID, recipientID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark recipient sent: %w", err)
	}
	return nil
}

// GetRecipientByMessageID looks up the recipient a provider message id was
// assigned to. Returns nil when the message was transactional, not part of
// any campaign.
func (r *CampaignRepository) GetRecipientByMessageID(ctx context.Context, messageID string) (*CampaignRecipient, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, email, status, message_id,
			sent_at, delivered_at, opened_at, clicked_at,
			open_count, click_count, bounce_type, error_message,
			created_at, updated_at
		FROM email_campaign_recipients WHERE message_id = ?`, messageID)

	rec, err := scanRecipient(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetRecipient returns a recipient row by campaign and id, or nil.
func (r *CampaignRepository) GetRecipient(ctx context.Context, campaignID, id string) (*CampaignRecipient, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, email, status, message_id,
			sent_at, delivered_at, opened_at, clicked_at,
			open_count, click_count, bounce_type, error_message,
			created_at, updated_at
		FROM email_campaign_recipients WHERE campaign_id = ? AND id = ?`, campaignID, id)

	rec, err := scanRecipient(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// RecipientEvent is a lifecycle change applied to a campaign recipient by
// the webhook reconciler.
type RecipientEvent struct {
	RecipientID string
	Status      Status
	OccurredAt  time.Time
	BounceType  string
	Error       string
}

// ApplyRecipientEvent advances a recipient row for one lifecycle event in a
// single statement. The status is guarded against regression and terminal
// overwrite; open/click counters increment on every matching event receipt
// because a recipient may open or click more than once. The first return
// value reports whether the event landed for aggregate counting: true on
// every open and click, and true for delivered, bounced and complained only
// the first time the recipient reaches that state, even when the event
// arrives after a later lifecycle stage already has.
func (r *CampaignRepository) ApplyRecipientEvent(ctx context.Context, ev *RecipientEvent) (bool, error) {
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	set := `status = CASE
			WHEN status IN ('bounced','complained','failed') THEN status
			WHEN (` + statusRankSQL + `) < ? THEN ?
			ELSE status END,
		updated_at = ?`
	args := []any{statusRank(ev.Status), string(ev.Status), occurred}
	where := ` WHERE id = ?`

	switch ev.Status {
	case StatusDelivered:
		set += `, delivered_at = ?`
		args = append(args, occurred)
		where = ` WHERE id = ? AND delivered_at IS NULL`
	case StatusOpened:
		set += `, opened_at = ?, open_count = open_count + 1`
		args = append(args, occurred)
	case StatusClicked:
		set += `, clicked_at = ?, click_count = click_count + 1`
		args = append(args, occurred)
	case StatusBounced:
		set += `, bounce_type = ?, error_message = ?`
		args = append(args, nullString(ev.BounceType), nullString(ev.Error))
		where = ` WHERE id = ? AND status NOT IN ('bounced','complained','failed')`
	case StatusComplained:
		set += `, error_message = ?`
		args = append(args, nullString(ev.Error))
		where = ` WHERE id = ? AND status NOT IN ('bounced','complained','failed')`
	case StatusFailed:
		set += `, error_message = ?`
		args = append(args, nullString(ev.Error))
	}

	args = append(args, ev.RecipientID)
	res, err := r.db.ExecContext(ctx, `UPDATE email_campaign_recipients SET `+set+where, args...)
	if err != nil {
		return false, fmt.Errorf("failed to apply recipient event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to apply recipient event: %w", err)
	}
	return n > 0, nil
}

// statColumns is the closed set of campaign counters; IncrementStat refuses
// anything outside it so the column name can be spliced into SQL safely.
var statColumns = map[string]bool{
	"total_sent":       true,
	"total_delivered":  true,
	"total_opened":     true,
	"total_clicked":    true,
	"total_bounced":    true,
	"total_complained": true,
}

// IncrementStat atomically bumps one aggregate counter for a campaign,
// creating the stats row if it does not exist yet. The increment happens in
// SQL (counter = counter + delta), never read-modify-write, so concurrent
// webhook deliveries cannot lose updates.
func (r *CampaignRepository) IncrementStat(ctx context.Context, campaignID, column string, delta int64) error {
	if !statColumns[column] {
		return fmt.Errorf("unknown campaign stat column: %s", column)
	}

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO email_campaign_stats (campaign_id, %s, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(campaign_id) DO UPDATE SET
			%s = %s + excluded.%s,
			updated_at = excluded.updated_at`,
		column, column, column, column),
		campaignID, delta, now,
	)
	if err != nil {
		return fmt.Errorf("failed to increment campaign stat: %w", err)
	}
	return nil
}

// GetStats returns the aggregate counters for a campaign. A campaign with no
// recorded events yet gets a zero-valued row.
func (r *CampaignRepository) GetStats(ctx context.Context, campaignID string) (*CampaignStats, error) {
	stats := &CampaignStats{CampaignID: campaignID}

	err := r.db.QueryRowContext(ctx, `
		SELECT total_sent, total_delivered, total_opened, total_clicked,
			total_bounced, total_complained, updated_at
		FROM email_campaign_stats WHERE campaign_id = ?`, campaignID,
	).Scan(&stats.TotalSent, &stats.TotalDelivered, &stats.TotalOpened,
		&stats.TotalClicked, &stats.TotalBounced, &stats.TotalComplained, &stats.UpdatedAt)

	if err == sql.ErrNoRows {
		return stats, nil
	}
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func scanRecipient(row rowScanner) (*CampaignRecipient, error) {
	rec := &CampaignRecipient{}
	var status string
	var messageID, bounceType, errorMessage sql.NullString
	var sentAt, deliveredAt, openedAt, clickedAt sql.NullTime

	err := row.Scan(&rec.ID, &rec.CampaignID, &rec.Email, &status, &messageID,
		&sentAt, &deliveredAt, &openedAt, &clickedAt,
		&rec.OpenCount, &rec.ClickCount, &bounceType, &errorMessage,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	rec.MessageID = messageID.String
	rec.BounceType = bounceType.String
	rec.ErrorMessage = errorMessage.String
	rec.SentAt = timePtr(sentAt)
	rec.DeliveredAt = timePtr(deliveredAt)
	rec.OpenedAt = timePtr(openedAt)
	rec.ClickedAt = timePtr(clickedAt)

	return rec, nil
}
