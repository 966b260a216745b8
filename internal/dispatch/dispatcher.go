// Package dispatch orchestrates logical sends: payload construction, the
// immediate provider attempt, outcome recording and deferral of retries.
package dispatch

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/piquet/courier/internal/mail"
	"github.com/piquet/courier/internal/metrics"
	"github.com/piquet/courier/internal/provider"
	"github.com/piquet/courier/internal/scheduler"
	"github.com/piquet/courier/internal/store"
	"github.com/piquet/courier/internal/template"
)

// ErrTemplateUnavailable is the caller-visible failure text for a missing or
// deactivated template.
const errTemplateUnavailable = "Template not found or inactive"

// AttemptsExhaustedMessage is the caller-visible failure text when a
// message's whole attempt budget has been spent.
const AttemptsExhaustedMessage = "Email send attempts exhausted"

// Dispatcher performs logical sends against the provider and records every
// outcome. It never throws for expected failure modes; those come back in
// the SendResult. Only malformed input (bad recipient syntax) returns an
// error, before any attempt is made.
type Dispatcher struct {
	provider     provider.Sender
	deliveries   *store.DeliveryRepository
	campaigns    *store.CampaignRepository
	templates    *store.TemplateRepository
	interactions *store.InteractionRepository
	scheduler    *scheduler.Scheduler
	metrics      *metrics.Metrics
	logger       *slog.Logger

	defaultFrom mail.Address
	bulkDelay   time.Duration
	now         func() time.Time
}

// Config carries dispatcher construction parameters.
type Config struct {
	DefaultFromEmail string
	DefaultFromName  string
	BulkDelay        time.Duration
}

func New(
	sender provider.Sender,
	db *store.DB,
	sched *scheduler.Scheduler,
	m *metrics.Metrics,
	cfg Config,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.BulkDelay <= 0 {
		cfg.BulkDelay = DefaultBulkDelay
	}
	return &Dispatcher{
		provider:     sender,
		deliveries:   store.NewDeliveryRepository(db),
		campaigns:    store.NewCampaignRepository(db),
		templates:    store.NewTemplateRepository(db),
		interactions: store.NewInteractionRepository(db),
		scheduler:    sched,
		metrics:      m,
		logger:       logger.With("component", "dispatcher"),
		defaultFrom: mail.Address{
			Name:  cfg.DefaultFromName,
			Email: cfg.DefaultFromEmail,
		},
		bulkDelay: cfg.BulkDelay,
		now:       time.Now,
	}
}

// Send performs one logical send. It makes at most one immediate provider
// attempt; on a transient failure with budget remaining the rest of the
// attempt chain is deferred to the retry queue, so the total number of
// provider calls across the initial send and all retry jobs never exceeds
// the message's attempt budget.
func (d *Dispatcher) Send(ctx context.Context, msg *mail.Message) (*mail.SendResult, error) {
	budget := msg.AttemptBudget()
	msg.MaxAttempts = budget

	msg.To = mail.NormalizeAddresses(msg.To)
	if err := mail.ValidateAddresses(msg.To); err != nil {
		return nil, err
	}

	payload := d.buildPayload(msg)

	for attempt := 1; attempt <= budget; attempt++ {
		result, transient := d.trySend(ctx, payload, msg, attempt, budget)
		if result.Success {
			return result, nil
		}

		if attempt >= budget || !transient {
			return result, nil
		}

		// Defer the remaining budget to the retry queue; the loop never
		// makes a second in-process attempt.
		if err := d.scheduler.Schedule(ctx, msg, attempt+1); err != nil {
			d.logger.Error("failed to schedule retry", "to", msg.FirstRecipient(), "error", err)
		} else if d.metrics != nil {
			d.metrics.RetriesScheduledTotal.Inc()
		}
		return result, nil
	}

	return &mail.SendResult{Success: false, Error: AttemptsExhaustedMessage}, nil
}

// Attempt makes a single provider attempt for a previously deferred
// message, recording the outcome. It never schedules follow-up work; the
// retry worker decides what happens to the job afterwards. The second
// return value reports whether a failure is worth retrying.
func (d *Dispatcher) Attempt(ctx context.Context, msg *mail.Message, attempt int) (*mail.SendResult, bool) {
	msg.To = mail.NormalizeAddresses(msg.To)
	if err := mail.ValidateAddresses(msg.To); err != nil {
		return &mail.SendResult{Success: false, Error: err.Error()}, false
	}

	payload := d.buildPayload(msg)
	return d.trySend(ctx, payload, msg, attempt, msg.AttemptBudget())
}

// TemplateParams is the input for a template-rendered send.
type TemplateParams struct {
	TemplateID string
	To         []string
	Variables  map[string]string
	From       *mail.Address

	BuilderID           string
	LeadID              string
	CampaignID          string
	CampaignRecipientID string
	Metadata            map[string]any
	MaxAttempts         int
}

// SendTemplate renders a stored template with the supplied variables and
// sends the result. A missing or inactive template aborts before any
// provider call and is reported in the result, not as an error.
func (d *Dispatcher) SendTemplate(ctx context.Context, p TemplateParams) (*mail.SendResult, error) {
	tmpl, err := d.templates.GetActive(ctx, p.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	if tmpl == nil {
		return &mail.SendResult{Success: false, Error: errTemplateUnavailable}, nil
	}

	rendered := template.Render(tmpl, p.Variables)

	name := tmpl.Name
	if name == "" {
		name = "unnamed"
	}

	result, err := d.Send(ctx, &mail.Message{
		To:      p.To,
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
		From:    p.From,
		Tags: map[string]string{
			"template_id":   p.TemplateID,
			"template_name": name,
		},
		BuilderID:           p.BuilderID,
		LeadID:              p.LeadID,
		CampaignID:          p.CampaignID,
		CampaignRecipientID: p.CampaignRecipientID,
		TemplateID:          p.TemplateID,
		Metadata:            p.Metadata,
		MaxAttempts:         p.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	if result.Success {
		if err := d.templates.IncrementUsage(ctx, p.TemplateID); err != nil {
			d.logger.Error("failed to increment template usage", "template_id", p.TemplateID, "error", err)
		}
	}

	return result, nil
}

// trySend makes a single provider attempt and records the outcome. The
// second return value reports whether a failure is worth retrying.
func (d *Dispatcher) trySend(ctx context.Context, payload *provider.Payload, msg *mail.Message, attempt, budget int) (*mail.SendResult, bool) {
	messageID, err := d.provider.Send(ctx, payload)
	if err != nil {
		transient := provider.IsTransient(err)
		d.recordFailure(ctx, msg, attempt, budget, transient, err.Error())

		kind := "transient"
		if !transient {
			kind = "permanent"
		}
		if d.metrics != nil {
			d.metrics.EmailsFailedTotal.WithLabelValues(kind).Inc()
		}
		d.logger.Warn("send attempt failed",
			"to", msg.FirstRecipient(),
			"domain", mail.ExtractDomain(msg.FirstRecipient()),
			"attempt", attempt,
			"max_attempts", budget,
			"transient", transient,
			"error", err,
		)
		return &mail.SendResult{Success: false, Error: err.Error()}, transient
	}

	outcome := &store.SendOutcome{
		MessageID:  messageID,
		ToEmail:    msg.FirstRecipient(),
		Subject:    msg.Subject,
		Status:     store.StatusSent,
		RetryCount: attempt - 1,
		MaxRetries: budget,
		BuilderID:  msg.BuilderID,
		LeadID:     msg.LeadID,
		CampaignID: msg.CampaignID,
		TemplateID: msg.TemplateID,
		Metadata:   msg.Metadata,
	}
	if err := d.deliveries.Upsert(ctx, outcome); err != nil {
		d.logger.Error("failed to record delivery", "message_id", messageID, "error", err)
	}

	if msg.CampaignID != "" && msg.CampaignRecipientID != "" {
		if err := d.campaigns.MarkSent(ctx, msg.CampaignID, msg.CampaignRecipientID, messageID); err != nil {
			d.logger.Error("failed to mark campaign recipient sent",
				"campaign_id", msg.CampaignID, "recipient_id", msg.CampaignRecipientID, "error", err)
		}
		// Stat increments are best-effort telemetry; a failure here never
		// fails the send.
		if err := d.campaigns.IncrementStat(ctx, msg.CampaignID, "total_sent", 1); err != nil {
			d.logger.Error("failed to increment campaign stat", "campaign_id", msg.CampaignID, "error", err)
		}
	}

	if msg.BuilderID != "" && msg.LeadID != "" {
		if err := d.interactions.RecordEmail(ctx, msg.LeadID, msg.BuilderID, messageID, msg.Subject); err != nil {
			d.logger.Error("failed to record lead interaction", "lead_id", msg.LeadID, "error", err)
		}
	}

	if d.metrics != nil {
		d.metrics.EmailsSentTotal.Inc()
	}
	d.logger.Info("email sent",
		"message_id", messageID,
		"to", msg.FirstRecipient(),
		"domain", mail.ExtractDomain(msg.FirstRecipient()),
		"attempt", attempt,
	)

	return &mail.SendResult{
		Success:        true,
		MessageID:      messageID,
		DeliveryStatus: string(store.StatusSent),
	}, false
}

// recordFailure upserts the delivery record for a failed attempt. No
// provider message id exists yet, so the row is keyed by a synthetic
// failed-<timestamp> id.
func (d *Dispatcher) recordFailure(ctx context.Context, msg *mail.Message, attempt, budget int, transient bool, errMsg string) {
	status := store.StatusFailed
	var nextRetry *time.Time
	if transient && attempt < budget {
		status = store.StatusSending
		t := d.now().UTC().Add(scheduler.Delay(attempt + 1))
		nextRetry = &t
	}

	metadata := map[string]any{"last_error": errMsg}
	for k, v := range msg.Metadata {
		metadata[k] = v
	}

	outcome := &store.SendOutcome{
		MessageID:   fmt.Sprintf("failed-%d", d.now().UnixMilli()),
		ToEmail:     msg.FirstRecipient(),
		Subject:     msg.Subject,
		Status:      status,
		RetryCount:  attempt,
		MaxRetries:  budget,
		Error:       errMsg,
		BuilderID:   msg.BuilderID,
		LeadID:      msg.LeadID,
		CampaignID:  msg.CampaignID,
		TemplateID:  msg.TemplateID,
		Metadata:    metadata,
		NextRetryAt: nextRetry,
	}
	if err := d.deliveries.Upsert(ctx, outcome); err != nil {
		d.logger.Error("failed to record delivery failure", "to", msg.FirstRecipient(), "error", err)
	}
}

// buildPayload assembles the provider payload once per logical send.
func (d *Dispatcher) buildPayload(msg *mail.Message) *provider.Payload {
	from := msg.From
	if from == nil {
		from = &d.defaultFrom
	}

	p := &provider.Payload{
		From:    mail.FormatFrom(from),
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		ReplyTo: msg.ReplyTo,
		CC:      msg.CC,
		BCC:     msg.BCC,
		Headers: msg.Headers,
	}

	for _, a := range msg.Attachments {
		p.Attachments = append(p.Attachments, provider.PayloadAttachment{
			Filename: a.Filename,
			Content:  base64.StdEncoding.EncodeToString(a.Content),
			Type:     a.MimeType,
		})
	}

	for name, value := range msg.Tags {
		p.Tags = append(p.Tags, provider.Tag{Name: name, Value: value})
	}

	return p
}
