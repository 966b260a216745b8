package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Template is a stored message template. Subject, HTMLBody and Body carry
// {{key}} placeholders substituted at send time.
type Template struct {
	ID        string
	Name      string
	Subject   string
	HTMLBody  string
	Body      string
	IsActive  bool
	TimesUsed int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type TemplateRepository struct {
	db *DB
}

func NewTemplateRepository(db *DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// Create stores a new template.
func (r *TemplateRepository) Create(ctx context.Context, t *Template) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_templates (id, name, subject, html_body, body, is_active, times_used, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		t.ID, t.Name, t.Subject, nullString(t.HTMLBody), nullString(t.Body), t.IsActive, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// GetActive returns a template by id only if it is active; nil otherwise.
func (r *TemplateRepository) GetActive(ctx context.Context, id string) (*Template, error) {
	t := &Template{}
	var htmlBody, body sql.NullString

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, subject, html_body, body, is_active, times_used, created_at, updated_at
		FROM message_templates WHERE id = ? AND is_active = 1`, id,
	).Scan(&t.ID, &t.Name, &t.Subject, &htmlBody, &body, &t.IsActive, &t.TimesUsed, &t.CreatedAt, &t.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	t.HTMLBody = htmlBody.String
	t.Body = body.String
	return t, nil
}

// IncrementUsage bumps the template usage counter after a successful send.
func (r *TemplateRepository) IncrementUsage(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE message_templates SET times_used = times_used + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to increment template usage: %w", err)
	}
	return nil
}
