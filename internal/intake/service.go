// Package intake accepts campaign submissions, validates them, persists
// the campaign record and fans recipients out onto the work queue.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/blob"
	"github.com/ignite/campaign-engine/internal/campaign"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/queue"
	"github.com/ignite/campaign-engine/internal/store"
)

// Validation error kinds surfaced to the API layer.
const (
	KindMissingField    = "missing_field"
	KindBadAddress      = "bad_address"
	KindNoRecipients    = "no_recipients"
	KindMissingBlob     = "missing_blob"
	KindMessageTooLarge = "message_too_large"
)

// ValidationError rejects a submission before any state is created.
type ValidationError struct {
	Kind    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Submission is the JSON-shaped campaign request.
type Submission struct {
	CampaignName string                `json:"campaign_name"`
	Subject      string                `json:"subject"`
	BodyHTML     string                `json:"body_html"`
	FromAddress  string                `json:"from_address"`
	LaunchedBy   string                `json:"launched_by"`
	TargetEmails []string              `json:"target_emails"`
	To           []string              `json:"to"`
	CC           []string              `json:"cc"`
	BCC          []string              `json:"bcc"`
	Attachments  []campaign.Attachment `json:"attachments"`
}

// Service validates submissions and launches campaigns.
type Service struct {
	store store.Store
	blobs blob.Store
	queue queue.Queue

	maxMessageBytes int64

	now func() time.Time
}

// NewService wires an intake service.
func NewService(st store.Store, blobs blob.Store, q queue.Queue, maxMessageBytes int64) *Service {
	return &Service{
		store:           st,
		blobs:           blobs,
		queue:           q,
		maxMessageBytes: maxMessageBytes,
		now:             time.Now,
	}
}

// SubmitCampaign validates the submission, persists the campaign and
// enqueues one work item per recipient. Addresses explicitly placed on
// to/cc/bcc are subtracted from the regular set so nobody gets a second
// copy. On enqueue failure the campaign record is rolled back; the call
// is not idempotent, so the caller owns dedup on retry.
func (s *Service) SubmitCampaign(ctx context.Context, sub *Submission) (string, error) {
	if strings.TrimSpace(sub.Subject) == "" {
		return "", &ValidationError{Kind: KindMissingField, Message: "subject is required"}
	}
	if !validAddress(strings.ToLower(strings.TrimSpace(sub.FromAddress))) {
		return "", &ValidationError{Kind: KindBadAddress, Message: "from_address is not a valid email address"}
	}

	target := normalize(sub.TargetEmails)
	to := normalize(sub.To)
	cc := normalize(sub.CC)
	bcc := normalize(sub.BCC)

	if len(target)+len(to)+len(cc)+len(bcc) == 0 {
		return "", &ValidationError{Kind: KindNoRecipients, Message: "at least one recipient is required"}
	}
	for _, addr := range flatten(target, to, cc, bcc) {
		if !validAddress(addr) {
			return "", &ValidationError{Kind: KindBadAddress, Message: fmt.Sprintf("invalid email address %q", addr)}
		}
	}

	attachments, err := s.checkAttachments(ctx, sub)
	if err != nil {
		return "", err
	}

	// Addresses with an explicit role keep it; the regular set is what
	// remains of target_emails.
	explicit := make(map[string]bool)
	for _, addr := range flatten(to, cc, bcc) {
		explicit[addr] = true
	}
	var regular []string
	for _, addr := range target {
		if !explicit[addr] {
			regular = append(regular, addr)
		}
	}

	total := len(regular) + len(to) + len(cc) + len(bcc)
	c := &campaign.Campaign{
		CampaignID:   uuid.New().String(),
		CampaignName: sub.CampaignName,
		Subject:      sub.Subject,
		BodyHTML:     sub.BodyHTML,
		FromAddress:  strings.ToLower(strings.TrimSpace(sub.FromAddress)),
		LaunchedBy:   sub.LaunchedBy,
		To:           to,
		CC:           cc,
		BCC:          bcc,
		TargetEmails: target,
		Attachments:  attachments,
		Total:        total,
		Status:       campaign.StatusQueued,
		CreatedAt:    s.now().UTC(),
	}
	if total == 0 {
		c.Status = campaign.StatusCompleted
	}

	if err := s.store.Create(ctx, c); err != nil {
		return "", fmt.Errorf("persisting campaign: %w", err)
	}
	if total == 0 {
		return c.CampaignID, nil
	}

	items := make([]campaign.WorkItem, 0, total)
	for _, addr := range regular {
		items = append(items, workItem(c.CampaignID, addr, campaign.RoleRegular))
	}
	for _, addr := range to {
		items = append(items, workItem(c.CampaignID, addr, campaign.RoleTo))
	}
	for _, addr := range cc {
		items = append(items, workItem(c.CampaignID, addr, campaign.RoleCC))
	}
	for _, addr := range bcc {
		items = append(items, workItem(c.CampaignID, addr, campaign.RoleBCC))
	}

	if err := s.queue.Enqueue(ctx, items); err != nil {
		if derr := s.store.Delete(ctx, c.CampaignID); derr != nil {
			log.Printf("[Intake] Rollback of %s failed: %v", c.CampaignID, derr)
		}
		return "", fmt.Errorf("enqueueing campaign %s: %w", c.CampaignID, err)
	}

	logger.Info("campaign launched",
		"campaign_id", c.CampaignID,
		"total", total,
		"regular", len(regular),
		"to", len(to),
		"cc", len(cc),
		"bcc", len(bcc),
		"launched_by", c.LaunchedBy)
	return c.CampaignID, nil
}

// GetCampaign reads a campaign's live state.
func (s *Service) GetCampaign(ctx context.Context, campaignID string) (*campaign.Campaign, error) {
	return s.store.Get(ctx, campaignID)
}

// checkAttachments verifies every referenced blob exists and the
// composed message fits the provider limit. Blob sizes come from the
// store, not the caller.
func (s *Service) checkAttachments(ctx context.Context, sub *Submission) ([]campaign.Attachment, error) {
	total := int64(len(sub.BodyHTML) + len(sub.Subject))

	attachments := make([]campaign.Attachment, len(sub.Attachments))
	for i, att := range sub.Attachments {
		size, contentType, err := s.blobs.Head(ctx, att.BlobKey)
		if errors.Is(err, blob.ErrNotFound) {
			return nil, &ValidationError{Kind: KindMissingBlob, Message: fmt.Sprintf("attachment blob %q does not exist", att.BlobKey)}
		}
		if err != nil {
			return nil, fmt.Errorf("checking attachment %s: %w", att.BlobKey, err)
		}

		att.Size = size
		if att.ContentType == "" {
			att.ContentType = contentType
		}
		attachments[i] = att

		// Attachments travel base64-encoded, a third larger than the
		// stored bytes.
		total += size * 4 / 3
	}

	if total > s.maxMessageBytes {
		return nil, &ValidationError{
			Kind:    KindMessageTooLarge,
			Message: fmt.Sprintf("composed message is %d bytes, limit %d", total, s.maxMessageBytes),
		}
	}
	return attachments, nil
}

func workItem(campaignID, addr string, role campaign.Role) campaign.WorkItem {
	return campaign.WorkItem{
		CampaignID:       campaignID,
		RecipientAddress: addr,
		Role:             role,
		IdempotencyToken: uuid.New().String(),
	}
}

// normalize lowercases, trims and dedups a list, keeping first-seen
// order.
func normalize(addrs []string) []string {
	seen := make(map[string]bool, len(addrs))
	var out []string
	for _, addr := range addrs {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}

func flatten(lists ...[]string) []string {
	var out []string
	for _, list := range lists {
		out = append(out, list...)
	}
	return out
}

// validAddress is the syntactic check: something@something, both halves
// non-empty, exactly one @.
func validAddress(addr string) bool {
	at := strings.Index(addr, "@")
	if at <= 0 || at != strings.LastIndex(addr, "@") {
		return false
	}
	domain := addr[at+1:]
	return domain != "" && !strings.ContainsAny(addr, " \t")
}
