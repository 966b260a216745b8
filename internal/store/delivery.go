package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DeliveryRecord is the durable per-message audit row. Exactly one row exists
// per provider message id; every write is an upsert so out-of-order and
// duplicate webhook events never create duplicates. Rows are never deleted.
type DeliveryRecord struct {
	MessageID  string
	ToEmail    string
	Subject    string
	Status     Status
	RetryCount int
	MaxRetries int
	Error      string

	BuilderID  string
	LeadID     string
	CampaignID string
	TemplateID string

	Metadata map[string]any

	LastAttemptAt *time.Time
	NextRetryAt   *time.Time
	DeliveredAt   *time.Time
	OpenedAt      *time.Time
	ClickedAt     *time.Time
	BouncedAt     *time.Time
	ComplaintAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SendOutcome is the delivery-record image of one send attempt, written by
// the dispatcher on both success and failure paths.
type SendOutcome struct {
	MessageID  string
	ToEmail    string
	Subject    string
	Status     Status // sent, sending or failed
	RetryCount int
	MaxRetries int
	Error      string

	BuilderID  string
	LeadID     string
	CampaignID string
	TemplateID string

	Metadata    map[string]any
	NextRetryAt *time.Time
}

// DeliveryEvent is a lifecycle change applied by the webhook reconciler.
type DeliveryEvent struct {
	MessageID  string
	Status     Status
	OccurredAt time.Time
	Error      string
	Metadata   map[string]any
}

type DeliveryRepository struct {
	db *DB
}

func NewDeliveryRepository(db *DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// Upsert records a send attempt outcome keyed by message id. The status of a
// row already in a terminal state is preserved; metadata patches are merged
// either way.
func (r *DeliveryRepository) Upsert(ctx context.Context, o *SendOutcome) error {
	metadata, err := marshalMetadata(o.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO email_deliveries (
			message_id, to_email, subject, status, retry_count, max_retries, error,
			builder_id, lead_id, campaign_id, template_id, metadata,
			last_attempt_at, next_retry_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			to_email = excluded.to_email,
			subject = excluded.subject,
			status = CASE WHEN email_deliveries.status IN ('bounced','complained','failed')
				THEN email_deliveries.status ELSE excluded.status END,
			retry_count = excluded.retry_count,
			max_retries = excluded.max_retries,
			error = excluded.error,
			builder_id = excluded.builder_id,
			lead_id = excluded.lead_id,
			campaign_id = excluded.campaign_id,
			template_id = excluded.template_id,
			metadata = json_patch(email_deliveries.metadata, excluded.metadata),
			last_attempt_at = excluded.last_attempt_at,
			next_retry_at = excluded.next_retry_at,
			updated_at = excluded.updated_at`,
		o.MessageID, o.ToEmail, o.Subject, string(o.Status), o.RetryCount, o.MaxRetries,
		nullString(o.Error),
		nullString(o.BuilderID), nullString(o.LeadID), nullString(o.CampaignID), nullString(o.TemplateID),
		metadata, now, nullTime(o.NextRetryAt), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert delivery: %w", err)
	}
	return nil
}

// eventTimestampColumn maps a lifecycle status to the column stamped when
// that status is first reached. Keys are fixed strings, never user input.
var eventTimestampColumn = map[Status]string{
	StatusSent:       "last_attempt_at",
	StatusDelivered:  "delivered_at",
	StatusOpened:     "opened_at",
	StatusClicked:    "clicked_at",
	StatusBounced:    "bounced_at",
	StatusComplained: "complaint_at",
	StatusFailed:     "last_attempt_at",
}

// ApplyEvent advances the delivery status for a webhook lifecycle event.
// The status write is a single guarded UPDATE: it only lands when the new
// status ranks strictly above the current one and the current one is not
// terminal. Metadata is merged regardless, so late events arriving after a
// terminal state still leave an audit trace without reverting the status.
// Returns whether the status transition was applied.
func (r *DeliveryRepository) ApplyEvent(ctx context.Context, ev *DeliveryEvent) (bool, error) {
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	// Webhooks can race the send path, so make sure the row exists first.
	if _, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO email_deliveries (message_id, status, created_at, updated_at)
		VALUES (?, 'queued', ?, ?)`,
		ev.MessageID, occurred, occurred,
	); err != nil {
		return false, fmt.Errorf("failed to ensure delivery row: %w", err)
	}

	tsColumn, ok := eventTimestampColumn[ev.Status]
	if !ok {
		return false, fmt.Errorf("unsupported delivery event status: %s", ev.Status)
	}

	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE email_deliveries
		SET status = ?, %s = ?, error = COALESCE(NULLIF(?, ''), error), updated_at = ?
		WHERE message_id = ?
		  AND status NOT IN ('bounced','complained','failed')
		  AND (%s) < ?`, tsColumn, statusRankSQL),
		string(ev.Status), occurred, ev.Error, occurred,
		ev.MessageID, statusRank(ev.Status),
	)
	if err != nil {
		return false, fmt.Errorf("failed to apply delivery event: %w", err)
	}

	if ev.Metadata != nil {
		patch, err := marshalMetadata(ev.Metadata)
		if err != nil {
			return false, err
		}
		if _, err := r.db.ExecContext(ctx, `
			UPDATE email_deliveries SET metadata = json_patch(metadata, ?), updated_at = ?
			WHERE message_id = ?`,
			patch, occurred, ev.MessageID,
		); err != nil {
			return false, fmt.Errorf("failed to merge delivery metadata: %w", err)
		}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get returns a delivery record by provider message id, or nil if absent.
func (r *DeliveryRepository) Get(ctx context.Context, messageID string) (*DeliveryRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT message_id, to_email, subject, status, retry_count, max_retries, error,
			builder_id, lead_id, campaign_id, template_id, metadata,
			last_attempt_at, next_retry_at, delivered_at, opened_at, clicked_at,
			bounced_at, complaint_at, created_at, updated_at
		FROM email_deliveries WHERE message_id = ?`, messageID)

	rec, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DeliveryListFilter selects deliveries for listing.
type DeliveryListFilter struct {
	Status     Status
	CampaignID string
	Limit      int
	Offset     int
}

// List returns deliveries newest first with optional filtering.
func (r *DeliveryRepository) List(ctx context.Context, filter DeliveryListFilter) ([]*DeliveryRecord, error) {
	query := `
		SELECT message_id, to_email, subject, status, retry_count, max_retries, error,
			builder_id, lead_id, campaign_id, template_id, metadata,
			last_attempt_at, next_retry_at, delivered_at, opened_at, clicked_at,
			bounced_at, complaint_at, created_at, updated_at
		FROM email_deliveries WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.CampaignID != "" {
		query += " AND campaign_id = ?"
		args = append(args, filter.CampaignID)
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*DeliveryRecord{}
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row rowScanner) (*DeliveryRecord, error) {
	rec := &DeliveryRecord{}
	var status string
	var errMsg, builderID, leadID, campaignID, templateID sql.NullString
	var metadata string
	var lastAttemptAt, nextRetryAt, deliveredAt, openedAt, clickedAt, bouncedAt, complaintAt sql.NullTime

	err := row.Scan(&rec.MessageID, &rec.ToEmail, &rec.Subject, &status,
		&rec.RetryCount, &rec.MaxRetries, &errMsg,
		&builderID, &leadID, &campaignID, &templateID, &metadata,
		&lastAttemptAt, &nextRetryAt, &deliveredAt, &openedAt, &clickedAt,
		&bouncedAt, &complaintAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	rec.Error = errMsg.String
	rec.BuilderID = builderID.String
	rec.LeadID = leadID.String
	rec.CampaignID = campaignID.String
	rec.TemplateID = templateID.String

	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
			rec.Metadata = map[string]any{}
		}
	}

	rec.LastAttemptAt = timePtr(lastAttemptAt)
	rec.NextRetryAt = timePtr(nextRetryAt)
	rec.DeliveredAt = timePtr(deliveredAt)
	rec.OpenedAt = timePtr(openedAt)
	rec.ClickedAt = timePtr(clickedAt)
	rec.BouncedAt = timePtr(bouncedAt)
	rec.ComplaintAt = timePtr(complaintAt)

	return rec, nil
}

func marshalMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
