package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ignite/campaign-engine/internal/blob"
	"github.com/ignite/campaign-engine/internal/campaign"
	"github.com/ignite/campaign-engine/internal/contacts"
	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/queue"
	"github.com/ignite/campaign-engine/internal/sanitize"
	"github.com/ignite/campaign-engine/internal/store"
)

// ItemResult is the outcome of one work item within a batch.
type ItemResult struct {
	Item      campaign.WorkItem
	Handle    string
	Attempted bool
	Sent      bool
	Throttled bool
	MessageID string
	Err       error
}

// BatchReport is the per-item accounting for one ProcessBatch call.
// The batch itself never fails once per-item work has begun; attempted
// items are acked regardless of outcome and unattempted ones are left
// for redelivery.
type BatchReport struct {
	Results []ItemResult
}

// Attempted counts the items the batch actually worked on.
func (r *BatchReport) Attempted() int {
	n := 0
	for _, res := range r.Results {
		if res.Attempted {
			n++
		}
	}
	return n
}

// Sent counts the successful sends in the batch.
func (r *BatchReport) Sent() int {
	n := 0
	for _, res := range r.Results {
		if res.Sent {
			n++
		}
	}
	return n
}

// Dispatcher drains work items: personalize, sanitize, compose, pace,
// send, and record the outcome on the campaign.
type Dispatcher struct {
	store     store.Store
	blobs     blob.Store
	provider  MailProvider
	contacts  *contacts.Directory
	governor  *RateGovernor
	metrics   *metrics.Sink
	templates *TemplateEngine

	// reserve is how much budget must remain to start another item.
	reserve time.Duration

	sleep func(time.Duration)
}

// NewDispatcher wires a dispatcher. contacts and sink may be nil.
func NewDispatcher(st store.Store, blobs blob.Store, provider MailProvider, dir *contacts.Directory, gov *RateGovernor, sink *metrics.Sink, reserve time.Duration) *Dispatcher {
	return &Dispatcher{
		store:     st,
		blobs:     blobs,
		provider:  provider,
		contacts:  dir,
		governor:  gov,
		metrics:   sink,
		templates: NewTemplateEngine(),
		reserve:   reserve,
		sleep:     time.Sleep,
	}
}

// ProcessBatch works through the received items sequentially. An error
// return means nothing in the batch was attempted and the whole batch
// should redeliver; otherwise consult the report.
func (d *Dispatcher) ProcessBatch(ctx context.Context, items []queue.ReceivedItem) (*BatchReport, error) {
	started := time.Now()
	report := &BatchReport{Results: make([]ItemResult, 0, len(items))}

	// Batches often carry many items of one campaign; load each record
	// once.
	loaded := make(map[string]*campaign.Campaign)

	for i, received := range items {
		if !d.budgetAllows(ctx) {
			log.Printf("[Dispatcher] Budget reserve reached, leaving %d items for redelivery", len(items)-i)
			break
		}

		item := received.Item
		result := ItemResult{Item: item, Handle: received.Handle, Attempted: true}

		c, ok := loaded[item.CampaignID]
		if !ok {
			var err error
			c, err = d.store.Get(ctx, item.CampaignID)
			if err != nil && !errors.Is(err, store.ErrCampaignNotFound) {
				if i == 0 {
					// Store down before any work: fail the batch whole.
					return nil, fmt.Errorf("loading campaign %s: %w", item.CampaignID, err)
				}
				result.Err = err
				report.Results = append(report.Results, result)
				continue
			}
			loaded[item.CampaignID] = c
		}
		if c == nil {
			result.Err = store.ErrCampaignNotFound
			report.Results = append(report.Results, result)
			continue
		}

		messageID, err := d.sendItem(ctx, c, item)
		if err == nil {
			result.Sent = true
			result.MessageID = messageID
			if _, uerr := d.store.UpdateOnSend(ctx, item.CampaignID, item.IdempotencyToken); uerr != nil {
				log.Printf("[Dispatcher] Recording send for %s failed: %v", item.CampaignID, uerr)
			}
			d.governor.NoteSuccess()
			d.metrics.Incr(ctx, metrics.MessagesSent, 1)
		} else {
			result.Err = err
			if IsThrottle(err) {
				result.Throttled = true
				d.governor.NoteThrottle()
				d.metrics.Incr(ctx, metrics.ThrottleEvents, 1)
			}
			if _, uerr := d.store.UpdateOnFail(ctx, item.CampaignID, item.IdempotencyToken); uerr != nil {
				log.Printf("[Dispatcher] Recording failure for %s failed: %v", item.CampaignID, uerr)
			}
			d.metrics.Incr(ctx, metrics.MessagesFailed, 1)
			log.Printf("[Dispatcher] Send to %s failed: %v", logger.RedactEmail(item.RecipientAddress), err)
		}
		report.Results = append(report.Results, result)
	}

	d.metrics.BatchDuration(ctx, time.Since(started))
	return report, nil
}

// budgetAllows reports whether enough of the invocation budget remains
// to start another item.
func (d *Dispatcher) budgetAllows(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}
	return time.Until(deadline) >= d.reserve
}

// sendItem builds and sends one message. The returned error is terminal
// for this attempt; retries only happen through queue redelivery.
func (d *Dispatcher) sendItem(ctx context.Context, c *campaign.Campaign, item campaign.WorkItem) (string, error) {
	contact, err := d.contacts.Lookup(ctx, item.RecipientAddress)
	if err != nil {
		// Personalization degrades rather than blocking the send.
		log.Printf("[Dispatcher] Contact lookup failed for %s: %v", logger.RedactEmail(item.RecipientAddress), err)
		contact = &contacts.Contact{Email: item.RecipientAddress}
	}
	fields := contact.Fields()

	subject := d.templates.Render(c.Subject, fields)
	body := d.templates.Render(c.BodyHTML, fields)

	images := make([]sanitize.InlineImage, 0)
	for _, att := range c.InlineAttachments() {
		images = append(images, sanitize.InlineImage{
			BlobKey:   att.BlobKey,
			ContentID: contentIDFor(att),
		})
	}
	body = sanitize.Sanitize(body, images)

	delay := d.governor.DelayFor(c.Attachments)
	if attachmentSurcharge(c.Attachments) {
		d.metrics.Incr(ctx, metrics.AttachmentDelayApplied, 1)
	}
	if delay > 0 {
		d.sleep(delay)
	}

	// Simple content cannot separate headers from the envelope, so it
	// only serves sends whose headers are just the recipient: to-role
	// sends always, regular sends when the campaign has no Cc/Bcc
	// lists.
	if len(c.Attachments) == 0 &&
		(item.Role == campaign.RoleTo ||
			(item.Role == campaign.RoleRegular && len(c.CC) == 0 && len(c.BCC) == 0)) {
		return d.provider.SendSimple(ctx, &SimpleMessage{
			From:     c.FromAddress,
			To:       []string{item.RecipientAddress},
			Subject:  subject,
			HTMLBody: body,
			TextBody: stripHTML(body),
		})
	}

	atts, err := d.fetchAttachments(ctx, c.Attachments)
	if err != nil {
		return "", err
	}

	raw, envelope, err := composeMIME(&outgoingMessage{
		From:        c.FromAddress,
		Recipient:   item.RecipientAddress,
		Role:        item.Role,
		CampaignID:  c.CampaignID,
		Subject:     subject,
		HTMLBody:    body,
		HeaderCC:    c.CC,
		HeaderBCC:   c.BCC,
		Attachments: atts,
	})
	if err != nil {
		return "", err
	}
	return d.provider.SendRaw(ctx, c.FromAddress, envelope, raw)
}

func (d *Dispatcher) fetchAttachments(ctx context.Context, atts []campaign.Attachment) ([]mimeAttachment, error) {
	out := make([]mimeAttachment, 0, len(atts))
	for _, att := range atts {
		data, contentType, err := d.blobs.Get(ctx, att.BlobKey)
		if err != nil {
			return nil, fmt.Errorf("fetching attachment %s: %w", att.BlobKey, err)
		}
		if att.ContentType != "" {
			contentType = att.ContentType
		}
		out = append(out, mimeAttachment{
			Filename:    att.Filename,
			ContentType: contentType,
			ContentID:   contentIDFor(att),
			Inline:      att.Inline,
			Data:        data,
		})
	}
	return out, nil
}

// contentIDFor gives an inline attachment a content-id that is stable
// across redeliveries, so a replayed item references the same cid.
func contentIDFor(att campaign.Attachment) string {
	if att.ContentID != "" {
		return att.ContentID
	}
	sum := sha256.Sum256([]byte(att.BlobKey))
	return hex.EncodeToString(sum[:6]) + "@campaign-engine"
}

// attachmentSurcharge reports whether the payload is heavy enough that
// DelayFor scales the pause up.
func attachmentSurcharge(atts []campaign.Attachment) bool {
	var total int64
	for _, att := range atts {
		total += att.Size
	}
	return total > sizeBucketSmall
}
