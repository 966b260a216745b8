package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type InteractionRepository struct {
	db *DB
}

func NewInteractionRepository(db *DB) *InteractionRepository {
	return &InteractionRepository{db: db}
}

// RecordEmail writes an audit interaction row tying a sent email to a lead.
func (r *InteractionRepository) RecordEmail(ctx context.Context, leadID, builderID, messageID, subject string) error {
	metadata, err := marshalMetadata(map[string]any{
		"message_id": messageID,
		"subject":    subject,
	})
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO lead_interactions (id, lead_id, builder_id, interaction_type, status, metadata, created_at)
		VALUES (?, ?, ?, 'email', 'completed', ?, ?)`,
		uuid.New().String(), leadID, builderID, metadata, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record lead interaction: %w", err)
	}
	return nil
}
