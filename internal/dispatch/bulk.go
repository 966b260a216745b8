package dispatch

import (
	"context"
	"time"

	"github.com/piquet/courier/internal/mail"
)

// DefaultBulkDelay is the pause between consecutive recipients of a bulk
// send, keeping the provider well under its rate limit.
const DefaultBulkDelay = 120 * time.Millisecond

// BulkParams describes a campaign-style send to a list of recipients.
// Either TemplateID or a literal Subject plus body must be set; each
// recipient is rendered and sent independently.
type BulkParams struct {
	CampaignID string
	BuilderID  string

	TemplateID string
	Subject    string
	HTML       string
	Text       string
	From       *mail.Address

	Recipients []mail.BulkRecipient
	Variables  map[string]string
}

// SendBulk sends to each recipient in order, isolating per-recipient
// failures: one bad address or provider rejection never aborts the batch.
// Results are reported in input order. A cancelled context stops the batch
// between recipients and returns the partial summary with the context error.
func (d *Dispatcher) SendBulk(ctx context.Context, p BulkParams) (*mail.BulkSummary, error) {
	summary := &mail.BulkSummary{
		Total:     len(p.Recipients),
		StartedAt: d.now().UTC(),
		Results:   make([]mail.SendResult, 0, len(p.Recipients)),
	}

	delay := time.NewTimer(d.bulkDelay)
	if !delay.Stop() {
		<-delay.C
	}
	defer delay.Stop()

	for i, recipient := range p.Recipients {
		if i > 0 {
			delay.Reset(d.bulkDelay)
			select {
			case <-ctx.Done():
				summary.FinishedAt = d.now().UTC()
				return summary, ctx.Err()
			case <-delay.C:
			}
		}

		result := d.sendOne(ctx, p, recipient)
		summary.Results = append(summary.Results, *result)
		if result.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}

	summary.FinishedAt = d.now().UTC()
	d.logger.Info("bulk send finished",
		"campaign_id", p.CampaignID,
		"total", summary.Total,
		"successful", summary.Successful,
		"failed", summary.Failed,
	)
	return summary, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, p BulkParams, r mail.BulkRecipient) *mail.SendResult {
	var (
		result *mail.SendResult
		err    error
	)

	switch {
	case p.TemplateID != "":
		result, err = d.SendTemplate(ctx, TemplateParams{
			TemplateID:          p.TemplateID,
			To:                  []string{r.Email},
			Variables:           mergeVariables(p.Variables, r.Variables),
			From:                p.From,
			BuilderID:           p.BuilderID,
			LeadID:              r.LeadID,
			CampaignID:          p.CampaignID,
			CampaignRecipientID: r.CampaignRecipientID,
			Metadata:            r.Metadata,
		})
	case p.Subject != "":
		result, err = d.Send(ctx, &mail.Message{
			To:                  []string{r.Email},
			Subject:             p.Subject,
			HTML:                p.HTML,
			Text:                p.Text,
			From:                p.From,
			BuilderID:           p.BuilderID,
			LeadID:              r.LeadID,
			CampaignID:          p.CampaignID,
			CampaignRecipientID: r.CampaignRecipientID,
			Metadata:            r.Metadata,
		})
	default:
		return &mail.SendResult{Success: false, Error: "either template_id or subject is required"}
	}

	if err != nil {
		return &mail.SendResult{Success: false, Error: err.Error()}
	}
	return result
}

func mergeVariables(base, override map[string]string) map[string]string {
	if len(base) == 0 {
		return override
	}
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
