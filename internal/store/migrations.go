package store

const migrationDeliveries = `
CREATE TABLE IF NOT EXISTS email_deliveries (
	message_id TEXT PRIMARY KEY,
	to_email TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'queued',
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	builder_id TEXT,
	lead_id TEXT,
	campaign_id TEXT,
	template_id TEXT,
	metadata JSON NOT NULL DEFAULT '{}',
	last_attempt_at TIMESTAMP,
	next_retry_at TIMESTAMP,
	delivered_at TIMESTAMP,
	opened_at TIMESTAMP,
	clicked_at TIMESTAMP,
	bounced_at TIMESTAMP,
	complaint_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

const migrationDeliveriesIndexes = `
CREATE INDEX IF NOT EXISTS idx_deliveries_status ON email_deliveries(status);
CREATE INDEX IF NOT EXISTS idx_deliveries_campaign ON email_deliveries(campaign_id)`

const migrationCampaignRecipients = `
CREATE TABLE IF NOT EXISTS email_campaign_recipients (
	id TEXT PRIMARY KEY,
	campaign_id TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	message_id TEXT,
	sent_at TIMESTAMP,
	delivered_at TIMESTAMP,
	opened_at TIMESTAMP,
	clicked_at TIMESTAMP,
	open_count INTEGER NOT NULL DEFAULT 0,
	click_count INTEGER NOT NULL DEFAULT 0,
	bounce_type TEXT,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

const migrationCampaignRecipientsIndexes = `
CREATE INDEX IF NOT EXISTS idx_campaign_recipients_campaign ON email_campaign_recipients(campaign_id);
CREATE INDEX IF NOT EXISTS idx_campaign_recipients_message ON email_campaign_recipients(message_id)`

const migrationCampaignStats = `
CREATE TABLE IF NOT EXISTS email_campaign_stats (
	campaign_id TEXT PRIMARY KEY,
	total_sent INTEGER NOT NULL DEFAULT 0,
	total_delivered INTEGER NOT NULL DEFAULT 0,
	total_opened INTEGER NOT NULL DEFAULT 0,
	total_clicked INTEGER NOT NULL DEFAULT 0,
	total_bounced INTEGER NOT NULL DEFAULT 0,
	total_complained INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

const migrationTemplates = `
CREATE TABLE IF NOT EXISTS message_templates (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL,
	html_body TEXT,
	body TEXT,
	is_active INTEGER NOT NULL DEFAULT 1,
	times_used INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

const migrationLeadInteractions = `
CREATE TABLE IF NOT EXISTS lead_interactions (
	id TEXT PRIMARY KEY,
	lead_id TEXT NOT NULL,
	builder_id TEXT NOT NULL,
	interaction_type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT '',
	metadata JSON NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

const migrationJobQueue = `
CREATE TABLE IF NOT EXISTS job_queue (
	id TEXT PRIMARY KEY,
	job_type TEXT NOT NULL,
	payload JSON NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INTEGER NOT NULL DEFAULT 0,
	priority INTEGER NOT NULL DEFAULT 5,
	scheduled_for TIMESTAMP NOT NULL,
	error_message TEXT,
	result JSON,
	started_at TIMESTAMP,
	completed_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

const migrationJobQueueIndexes = `
CREATE INDEX IF NOT EXISTS idx_job_queue_due ON job_queue(status, scheduled_for)`
