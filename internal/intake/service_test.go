package intake

import (
	"context"
	"errors"
	"testing"

	"github.com/ignite/campaign-engine/internal/blob"
	"github.com/ignite/campaign-engine/internal/campaign"
	"github.com/ignite/campaign-engine/internal/queue"
	"github.com/ignite/campaign-engine/internal/store"
)

type fixture struct {
	store *store.MemoryStore
	blobs *blob.MemoryStore
	queue *queue.MemoryQueue
	svc   *Service
}

func newFixture() *fixture {
	f := &fixture{
		store: store.NewMemoryStore(),
		blobs: blob.NewMemoryStore(),
		queue: queue.NewMemoryQueue(),
	}
	f.svc = NewService(f.store, f.blobs, f.queue, 40<<20)
	return f
}

func validSubmission() *Submission {
	return &Submission{
		CampaignName: "Launch",
		Subject:      "Hello",
		BodyHTML:     "<p>Body</p>",
		FromAddress:  "news@sender.com",
		TargetEmails: []string{"a@x.com", "b@x.com", "c@x.com"},
	}
}

func itemsByRole(items []campaign.WorkItem) map[campaign.Role][]string {
	out := make(map[campaign.Role][]string)
	for _, item := range items {
		out[item.Role] = append(out[item.Role], item.RecipientAddress)
	}
	return out
}

func TestSubmitCampaignSimpleFanout(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	id, err := f.svc.SubmitCampaign(ctx, validSubmission())
	if err != nil {
		t.Fatalf("SubmitCampaign() error: %v", err)
	}

	c, err := f.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if c.Total != 3 || c.SentCount != 0 || c.Status != campaign.StatusQueued || c.SentAt != nil {
		t.Errorf("campaign = total %d sent %d status %s, want 3/0/queued", c.Total, c.SentCount, c.Status)
	}

	items := f.queue.Items()
	if len(items) != 3 {
		t.Fatalf("enqueued %d items, want 3", len(items))
	}
	tokens := make(map[string]bool)
	for _, item := range items {
		if item.Role != campaign.RoleRegular {
			t.Errorf("item for %s has role %q, want regular", item.RecipientAddress, item.Role)
		}
		if item.IdempotencyToken == "" || tokens[item.IdempotencyToken] {
			t.Errorf("item for %s has missing or duplicate idempotency token", item.RecipientAddress)
		}
		tokens[item.IdempotencyToken] = true
	}
}

func TestSubmitCampaignDedupsAgainstCC(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	sub := validSubmission()
	sub.TargetEmails = []string{"a@x.com", "b@x.com"}
	sub.CC = []string{"b@x.com", "ops@y.com"}

	id, err := f.svc.SubmitCampaign(ctx, sub)
	if err != nil {
		t.Fatalf("SubmitCampaign() error: %v", err)
	}

	c, _ := f.store.Get(ctx, id)
	if c.Total != 3 {
		t.Errorf("total = %d, want 3", c.Total)
	}

	byRole := itemsByRole(f.queue.Items())
	if got := byRole[campaign.RoleRegular]; len(got) != 1 || got[0] != "a@x.com" {
		t.Errorf("regular items = %v, want [a@x.com]", got)
	}
	if got := byRole[campaign.RoleCC]; len(got) != 2 {
		t.Errorf("cc items = %v, want b@x.com and ops@y.com", got)
	}
}

func TestSubmitCampaignCCOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	sub := validSubmission()
	sub.TargetEmails = nil
	sub.CC = []string{"exec@y.com"}

	id, err := f.svc.SubmitCampaign(ctx, sub)
	if err != nil {
		t.Fatalf("SubmitCampaign() error: %v", err)
	}

	c, _ := f.store.Get(ctx, id)
	if c.Total != 1 {
		t.Errorf("total = %d, want 1", c.Total)
	}

	items := f.queue.Items()
	if len(items) != 1 || items[0].Role != campaign.RoleCC || items[0].RecipientAddress != "exec@y.com" {
		t.Errorf("items = %v, want one cc item for exec@y.com", items)
	}
}

func TestSubmitCampaignNormalizesAddresses(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	sub := validSubmission()
	sub.TargetEmails = []string{"  A@X.com ", "a@x.com", "B@x.COM"}

	id, err := f.svc.SubmitCampaign(ctx, sub)
	if err != nil {
		t.Fatalf("SubmitCampaign() error: %v", err)
	}

	c, _ := f.store.Get(ctx, id)
	if c.Total != 2 {
		t.Errorf("total = %d after case-folding dedup, want 2", c.Total)
	}
	for _, item := range f.queue.Items() {
		if item.RecipientAddress != "a@x.com" && item.RecipientAddress != "b@x.com" {
			t.Errorf("unnormalized address enqueued: %q", item.RecipientAddress)
		}
	}
}

func TestSubmitCampaignValidation(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*Submission)
		kind   string
	}{
		{"missing subject", func(s *Submission) { s.Subject = "  " }, KindMissingField},
		{"bad from", func(s *Submission) { s.FromAddress = "not-an-address" }, KindBadAddress},
		{"no recipients", func(s *Submission) { s.TargetEmails = nil }, KindNoRecipients},
		{"bad recipient", func(s *Submission) { s.TargetEmails = []string{"a@x.com", "@nodomain"} }, KindBadAddress},
		{"double at", func(s *Submission) { s.TargetEmails = []string{"a@b@c"} }, KindBadAddress},
		{"missing blob", func(s *Submission) {
			s.Attachments = []campaign.Attachment{{Filename: "x.pdf", BlobKey: "ghost"}}
		}, KindMissingBlob},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			sub := validSubmission()
			tc.mutate(sub)

			_, err := f.svc.SubmitCampaign(ctx, sub)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("SubmitCampaign() error = %v, want ValidationError", err)
			}
			if verr.Kind != tc.kind {
				t.Errorf("kind = %q, want %q", verr.Kind, tc.kind)
			}
			if f.queue.Len() != 0 {
				t.Errorf("rejected submission still enqueued items")
			}
		})
	}
}

func TestSubmitCampaignSizeLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.svc = NewService(f.store, f.blobs, f.queue, 1000)

	f.blobs.Put(ctx, "big", make([]byte, 900), "application/pdf")

	sub := validSubmission()
	sub.Attachments = []campaign.Attachment{{Filename: "big.pdf", BlobKey: "big"}}

	_, err := f.svc.SubmitCampaign(ctx, sub)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Kind != KindMessageTooLarge {
		t.Fatalf("SubmitCampaign() error = %v, want %s", err, KindMessageTooLarge)
	}
}

func TestSubmitCampaignStampsAttachmentSizes(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.blobs.Put(ctx, "blob-1", make([]byte, 2048), "image/png")

	sub := validSubmission()
	sub.Attachments = []campaign.Attachment{{Filename: "logo.png", BlobKey: "blob-1", Inline: true}}

	id, err := f.svc.SubmitCampaign(ctx, sub)
	if err != nil {
		t.Fatalf("SubmitCampaign() error: %v", err)
	}

	c, _ := f.store.Get(ctx, id)
	att := c.Attachments[0]
	if att.Size != 2048 {
		t.Errorf("attachment size = %d, want store-reported 2048", att.Size)
	}
	if att.ContentType != "image/png" {
		t.Errorf("attachment content type = %q, want store-reported image/png", att.ContentType)
	}
}

func TestSubmitCampaignEnqueueFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.queue.FailEnqueue = errors.New("queue unavailable")

	id, err := f.svc.SubmitCampaign(ctx, validSubmission())
	if err == nil {
		t.Fatalf("SubmitCampaign() succeeded despite enqueue failure (id %s)", id)
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		t.Errorf("transient enqueue failure misreported as validation error")
	}

	// No orphaned campaign survives the rollback.
	if f.store.Len() != 0 {
		t.Errorf("campaign record survived the rollback")
	}
	if f.queue.Len() != 0 {
		t.Errorf("queue not empty after rollback")
	}
}
