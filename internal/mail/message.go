package mail

import (
	"time"
)

// DefaultMaxAttempts is used when a message does not specify an attempt budget.
const DefaultMaxAttempts = 3

// MaxAttemptsCeiling bounds the attempt budget of any single message.
const MaxAttemptsCeiling = 5

// Address is a display name plus email address pair.
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Attachment is a file attached to an outbound message. Content holds the
// raw bytes; binary content is base64-encoded when handed to the provider.
type Attachment struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
	MimeType string `json:"mime_type,omitempty"`
}

// Message is a single logical send: one or more recipients, a body, and the
// correlation identifiers that tie the delivery back to a tenant, lead,
// campaign or template. It is not persisted directly; it is the input to a
// send attempt and the payload of a deferred retry job.
type Message struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`

	From        *Address     `json:"from,omitempty"`
	ReplyTo     string       `json:"reply_to,omitempty"`
	CC          []string     `json:"cc,omitempty"`
	BCC         []string     `json:"bcc,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	Tags    map[string]string `json:"tags,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	BuilderID           string `json:"builder_id,omitempty"`
	LeadID              string `json:"lead_id,omitempty"`
	CampaignID          string `json:"campaign_id,omitempty"`
	CampaignRecipientID string `json:"campaign_recipient_id,omitempty"`
	TemplateID          string `json:"template_id,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	MaxAttempts int `json:"max_attempts,omitempty"`
}

// AttemptBudget returns the message's attempt budget clamped to
// [1, MaxAttemptsCeiling], defaulting to DefaultMaxAttempts when unset.
func (m *Message) AttemptBudget() int {
	n := m.MaxAttempts
	if n <= 0 {
		n = DefaultMaxAttempts
	}
	if n < 1 {
		n = 1
	}
	if n > MaxAttemptsCeiling {
		n = MaxAttemptsCeiling
	}
	return n
}

// FirstRecipient returns the primary recipient address, or empty string if
// the message has none.
func (m *Message) FirstRecipient() string {
	if len(m.To) == 0 {
		return ""
	}
	return m.To[0]
}

// SendResult is the outcome of a logical send reported to the caller.
// Expected failures (provider errors, exhausted budgets) are carried here
// rather than as Go errors.
type SendResult struct {
	Success        bool   `json:"success"`
	MessageID      string `json:"message_id,omitempty"`
	Error          string `json:"error,omitempty"`
	DeliveryStatus string `json:"delivery_status,omitempty"`
}

// BulkRecipient is one target of a bulk send, with optional per-recipient
// template variables and correlation ids.
type BulkRecipient struct {
	Email               string            `json:"email"`
	LeadID              string            `json:"lead_id,omitempty"`
	CampaignRecipientID string            `json:"campaign_recipient_id,omitempty"`
	Variables           map[string]string `json:"variables,omitempty"`
	Metadata            map[string]any    `json:"metadata,omitempty"`
}

// BulkSummary aggregates the per-recipient outcomes of a bulk send.
// Results are appended in input order.
type BulkSummary struct {
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Results    []SendResult `json:"results"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}
