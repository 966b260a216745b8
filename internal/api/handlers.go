package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/piquet/courier/internal/dispatch"
	"github.com/piquet/courier/internal/mail"
	"github.com/piquet/courier/internal/store"
)

// SendRequest is the request body for POST /api/v1/send
type SendRequest struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`

	From        *mail.Address       `json:"from,omitempty"`
	ReplyTo     string              `json:"reply_to,omitempty"`
	CC          []string            `json:"cc,omitempty"`
	BCC         []string            `json:"bcc,omitempty"`
	Attachments []AttachmentRequest `json:"attachments,omitempty"`

	Tags    map[string]string `json:"tags,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	BuilderID           string         `json:"builder_id,omitempty"`
	LeadID              string         `json:"lead_id,omitempty"`
	CampaignID          string         `json:"campaign_id,omitempty"`
	CampaignRecipientID string         `json:"campaign_recipient_id,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	MaxAttempts         int            `json:"max_attempts,omitempty"`
}

// AttachmentRequest carries one base64-encoded attachment.
type AttachmentRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	MimeType string `json:"mime_type,omitempty"`
}

// TemplateSendRequest is the request body for POST /api/v1/send/template
type TemplateSendRequest struct {
	TemplateID string            `json:"template_id"`
	To         []string          `json:"to"`
	Variables  map[string]string `json:"variables,omitempty"`
	From       *mail.Address     `json:"from,omitempty"`

	BuilderID           string         `json:"builder_id,omitempty"`
	LeadID              string         `json:"lead_id,omitempty"`
	CampaignID          string         `json:"campaign_id,omitempty"`
	CampaignRecipientID string         `json:"campaign_recipient_id,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	MaxAttempts         int            `json:"max_attempts,omitempty"`
}

// BulkSendRequest is the request body for POST /api/v1/send/bulk
type BulkSendRequest struct {
	CampaignID string        `json:"campaign_id"`
	BuilderID  string        `json:"builder_id,omitempty"`
	TemplateID string        `json:"template_id,omitempty"`
	Subject    string        `json:"subject,omitempty"`
	HTML       string        `json:"html,omitempty"`
	Text       string        `json:"text,omitempty"`
	From       *mail.Address `json:"from,omitempty"`

	Variables  map[string]string    `json:"variables,omitempty"`
	Recipients []mail.BulkRecipient `json:"recipients"`
}

// TemplateCreateRequest is the request body for POST /api/v1/templates
type TemplateCreateRequest struct {
	Name     string `json:"name"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body,omitempty"`
	Body     string `json:"body,omitempty"`
	IsActive bool   `json:"is_active"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleSend handles POST /api/v1/send
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if len(req.To) == 0 {
		s.sendError(w, http.StatusBadRequest, "to is required")
		return
	}
	if req.Subject == "" {
		s.sendError(w, http.StatusBadRequest, "subject is required")
		return
	}
	if req.HTML == "" && req.Text == "" {
		s.sendError(w, http.StatusBadRequest, "html or text is required")
		return
	}

	msg := &mail.Message{
		To:                  req.To,
		Subject:             req.Subject,
		HTML:                req.HTML,
		Text:                req.Text,
		From:                req.From,
		ReplyTo:             req.ReplyTo,
		CC:                  req.CC,
		BCC:                 req.BCC,
		Tags:                req.Tags,
		Headers:             req.Headers,
		BuilderID:           req.BuilderID,
		LeadID:              req.LeadID,
		CampaignID:          req.CampaignID,
		CampaignRecipientID: req.CampaignRecipientID,
		Metadata:            req.Metadata,
		MaxAttempts:         req.MaxAttempts,
	}

	for _, a := range req.Attachments {
		content, err := base64.StdEncoding.DecodeString(a.Content)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "attachment content must be base64")
			return
		}
		msg.Attachments = append(msg.Attachments, mail.Attachment{
			Filename: a.Filename,
			Content:  content,
			MimeType: a.MimeType,
		})
	}

	result, err := s.dispatcher.Send(r.Context(), msg)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.sendJSON(w, http.StatusOK, result)
}

// handleSendTemplate handles POST /api/v1/send/template
func (s *Server) handleSendTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.TemplateID == "" {
		s.sendError(w, http.StatusBadRequest, "template_id is required")
		return
	}
	if len(req.To) == 0 {
		s.sendError(w, http.StatusBadRequest, "to is required")
		return
	}

	result, err := s.dispatcher.SendTemplate(r.Context(), dispatch.TemplateParams{
		TemplateID:          req.TemplateID,
		To:                  req.To,
		Variables:           req.Variables,
		From:                req.From,
		BuilderID:           req.BuilderID,
		LeadID:              req.LeadID,
		CampaignID:          req.CampaignID,
		CampaignRecipientID: req.CampaignRecipientID,
		Metadata:            req.Metadata,
		MaxAttempts:         req.MaxAttempts,
	})
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.sendJSON(w, http.StatusOK, result)
}

// handleSendBulk handles POST /api/v1/send/bulk
func (s *Server) handleSendBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if len(req.Recipients) == 0 {
		s.sendError(w, http.StatusBadRequest, "recipients is required")
		return
	}
	if req.TemplateID == "" && req.Subject == "" {
		s.sendError(w, http.StatusBadRequest, "template_id or subject is required")
		return
	}

	summary, err := s.dispatcher.SendBulk(r.Context(), dispatch.BulkParams{
		CampaignID: req.CampaignID,
		BuilderID:  req.BuilderID,
		TemplateID: req.TemplateID,
		Subject:    req.Subject,
		HTML:       req.HTML,
		Text:       req.Text,
		From:       req.From,
		Variables:  req.Variables,
		Recipients: req.Recipients,
	})
	if err != nil {
		// Context cancellation mid-batch still produced partial results.
		s.logger.Warn("bulk send interrupted", "campaign_id", req.CampaignID, "error", err)
	}

	s.sendJSON(w, http.StatusOK, summary)
}

// handleListDeliveries handles GET /api/v1/deliveries
func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	filter := store.DeliveryListFilter{
		Status:     store.Status(r.URL.Query().Get("status")),
		CampaignID: r.URL.Query().Get("campaign_id"),
		Limit:      100,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Offset = n
		}
	}

	records, err := s.deliveries.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list deliveries", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list deliveries")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]any{"deliveries": records})
}

// handleGetDelivery handles GET /api/v1/deliveries/{id}
func (s *Server) handleGetDelivery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.deliveries.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get delivery", "message_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get delivery")
		return
	}
	if rec == nil {
		s.sendError(w, http.StatusNotFound, "Delivery not found")
		return
	}

	s.sendJSON(w, http.StatusOK, rec)
}

// handleCreateTemplate handles POST /api/v1/templates
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" || req.Subject == "" {
		s.sendError(w, http.StatusBadRequest, "name and subject are required")
		return
	}
	if req.HTMLBody == "" && req.Body == "" {
		s.sendError(w, http.StatusBadRequest, "html_body or body is required")
		return
	}

	tmpl := &store.Template{
		Name:     req.Name,
		Subject:  req.Subject,
		HTMLBody: req.HTMLBody,
		Body:     req.Body,
		IsActive: req.IsActive,
	}
	if err := s.templates.Create(r.Context(), tmpl); err != nil {
		s.logger.Error("failed to create template", "name", req.Name, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create template")
		return
	}

	s.sendJSON(w, http.StatusCreated, tmpl)
}

// handleCreateRecipient handles POST /api/v1/campaigns/{id}/recipients
func (s *Server) handleCreateRecipient(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")

	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := mail.ValidateAddress(req.Email); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.campaigns.CreateRecipient(r.Context(), campaignID, req.Email)
	if err != nil {
		s.logger.Error("failed to create recipient", "campaign_id", campaignID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create recipient")
		return
	}

	s.sendJSON(w, http.StatusCreated, rec)
}

// handleCampaignStats handles GET /api/v1/campaigns/{id}/stats
func (s *Server) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")

	stats, err := s.campaigns.GetStats(r.Context(), campaignID)
	if err != nil {
		s.logger.Error("failed to get campaign stats", "campaign_id", campaignID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign stats")
		return
	}

	s.sendJSON(w, http.StatusOK, stats)
}

// handleRunRetryQueue handles POST /api/v1/retry-queue/run
func (s *Server) handleRunRetryQueue(w http.ResponseWriter, r *http.Request) {
	summary, err := s.worker.RunOnce(r.Context())
	if err != nil {
		s.logger.Error("retry queue run failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to run retry queue")
		return
	}

	s.sendJSON(w, http.StatusOK, summary)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: "0.1.0",
		Uptime:  time.Since(s.startTime).String(),
	})
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
