package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/piquet/courier/internal/provider"
)

// Sender captures messages instead of handing them to the real provider.
// It returns synthetic message ids so the rest of the pipeline behaves as
// in production, and can simulate provider errors for testing the retry
// path end to end.
type Sender struct {
	storage *Storage
	logger  *slog.Logger

	simulateErrors   bool
	errorProbability float64
}

// NewSender creates a capture-mode sender.
func NewSender(storage *Storage, logger *slog.Logger) *Sender {
	return &Sender{
		storage:          storage,
		logger:           logger.With("component", "sandbox"),
		errorProbability: 0.1,
	}
}

// SetErrorSimulation enables/disables error simulation
func (s *Sender) SetErrorSimulation(enabled bool, probability float64) {
	s.simulateErrors = enabled
	if probability > 0 && probability <= 1 {
		s.errorProbability = probability
	}
}

// Send captures the payload and returns a synthetic message id.
func (s *Sender) Send(ctx context.Context, p *provider.Payload) (string, error) {
	msg := &Message{
		ID:         "sandbox-" + uuid.New().String(),
		From:       p.From,
		To:         p.To,
		Subject:    p.Subject,
		Payload:    p,
		CapturedAt: time.Now().UTC(),
	}

	if s.simulateErrors && rand.Float64() < s.errorProbability {
		simulated := []*provider.Error{
			{StatusCode: 429, Message: "Too many requests"},
			{StatusCode: 500, Message: "Internal server error"},
			{StatusCode: 422, Message: "Invalid recipient"},
		}
		perr := simulated[rand.Intn(len(simulated))]
		msg.SimulatedErr = perr.Message

		if err := s.storage.Save(ctx, msg); err != nil {
			s.logger.Error("failed to save captured message", "error", err)
		}
		return "", perr
	}

	if err := s.storage.Save(ctx, msg); err != nil {
		return "", fmt.Errorf("failed to capture message: %w", err)
	}

	s.logger.Info("message captured", "id", msg.ID, "to", p.To, "subject", p.Subject)
	return msg.ID, nil
}
