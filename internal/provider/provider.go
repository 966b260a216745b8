// Package provider abstracts the outbound email service. The pipeline treats
// it as a black box that accepts a payload and returns a provider-assigned
// message id or an error.
package provider

import (
	"context"
	"errors"
)

// Payload is the wire-level message handed to the provider. Exactly one of
// HTML/Text should normally be set for the body; both may be present.
type Payload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`

	ReplyTo string   `json:"reply_to,omitempty"`
	CC      []string `json:"cc,omitempty"`
	BCC     []string `json:"bcc,omitempty"`

	Attachments []PayloadAttachment `json:"attachments,omitempty"`
	Tags        []Tag               `json:"tags,omitempty"`
	Headers     map[string]string   `json:"headers,omitempty"`
}

// PayloadAttachment carries a base64-encoded attachment body.
type PayloadAttachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Type     string `json:"type,omitempty"`
}

// Tag is a provider-side name/value label attached to a message.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Sender sends a single payload and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, p *Payload) (string, error)
}

// Error is a provider failure carrying enough detail to decide whether a
// retry is worthwhile.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

// IsTransient reports whether a send failure is worth retrying. Network
// failures and anything without a definite HTTP status are treated as
// transient; so are provider 5xx responses and rate limiting. Definite 4xx
// responses are the caller's bug and retrying them wastes sends.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		if pe.StatusCode == 429 {
			return true
		}
		if pe.StatusCode >= 400 && pe.StatusCode < 500 {
			return false
		}
		return true
	}
	return true
}
