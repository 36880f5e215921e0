package campaign

import (
	"time"
)

// Status is the lifecycle state of a campaign.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusSending   Status = "sending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Role describes how a recipient relates to the outgoing message.
// An empty role means a regular recipient (normal To: delivery).
type Role string

const (
	RoleRegular Role = ""
	RoleTo      Role = "to"
	RoleCC      Role = "cc"
	RoleBCC     Role = "bcc"
)

// Attachment references blob bytes stored outside the campaign record.
// Inline attachments are referenced from the HTML body by content-id.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	BlobKey     string `json:"blob_key"`
	Inline      bool   `json:"inline"`
	ContentID   string `json:"content_id,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Campaign is a single authored message plus its recipient set.
// Created once by intake; mutated only through conditional counter
// updates by the dispatch workers.
type Campaign struct {
	CampaignID   string   `json:"campaign_id"`
	CampaignName string   `json:"campaign_name"`
	Subject      string   `json:"subject"`
	BodyHTML     string   `json:"body_html"`
	FromAddress  string   `json:"from_address"`
	LaunchedBy   string   `json:"launched_by"`
	To           []string `json:"to"`
	CC           []string `json:"cc"`
	BCC          []string `json:"bcc"`
	TargetEmails []string `json:"target_emails"`

	Attachments []Attachment `json:"attachments"`

	Total       int    `json:"total"`
	SentCount   int    `json:"sent_count"`
	FailedCount int    `json:"failed_count"`
	Status      Status `json:"status"`

	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`

	// ProcessedTokens is the store-side idempotency ledger. It never
	// leaves the store layer and is not part of the API response.
	ProcessedTokens []string `json:"-"`
}

// Done reports whether every recipient attempt has been accounted for.
func (c *Campaign) Done() bool {
	return c.Total > 0 && c.SentCount+c.FailedCount >= c.Total
}

// InlineAttachments returns the attachments delivered as cid-referenced
// MIME parts.
func (c *Campaign) InlineAttachments() []Attachment {
	var out []Attachment
	for _, a := range c.Attachments {
		if a.Inline {
			out = append(out, a)
		}
	}
	return out
}

// WorkItem is one unit of "send this campaign to this address in this
// role". It is a pointer into the campaign record: no content is copied
// onto the queue.
type WorkItem struct {
	CampaignID       string `json:"campaign_id"`
	RecipientAddress string `json:"recipient_address"`
	Role             Role   `json:"role,omitempty"`
	IdempotencyToken string `json:"idempotency_token"`
}
