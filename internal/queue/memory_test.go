package queue

import (
	"context"
	"testing"
	"time"

	"github.com/ignite/campaign-engine/internal/campaign"
)

func TestMemoryQueueReceiveHidesMessages(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	base := time.Now()
	q.now = func() time.Time { return base }

	q.Enqueue(ctx, []campaign.WorkItem{
		{CampaignID: "c1", RecipientAddress: "a@x.com", IdempotencyToken: "t1"},
		{CampaignID: "c1", RecipientAddress: "b@x.com", IdempotencyToken: "t2"},
	})

	got, err := q.Receive(ctx, 10, 30*time.Second)
	if err != nil {
		t.Fatalf("Receive() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Receive() returned %d items, want 2", len(got))
	}

	// In-flight messages are invisible to a second receiver.
	again, _ := q.Receive(ctx, 10, 30*time.Second)
	if len(again) != 0 {
		t.Errorf("second Receive() returned %d items, want 0", len(again))
	}

	// After the visibility timeout they come back.
	base = base.Add(31 * time.Second)
	redelivered, _ := q.Receive(ctx, 10, 30*time.Second)
	if len(redelivered) != 2 {
		t.Errorf("post-timeout Receive() returned %d items, want 2", len(redelivered))
	}
}

func TestMemoryQueueAckRemoves(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	q.Enqueue(ctx, []campaign.WorkItem{
		{CampaignID: "c1", RecipientAddress: "a@x.com", IdempotencyToken: "t1"},
	})

	got, _ := q.Receive(ctx, 10, time.Minute)
	if err := q.Ack(ctx, got[0].Handle); err != nil {
		t.Fatalf("Ack() error: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("queue has %d messages after ack, want 0", q.Len())
	}
}

func TestMemoryQueueDelayPushesVisibility(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	base := time.Now()
	q.now = func() time.Time { return base }

	q.Enqueue(ctx, []campaign.WorkItem{
		{CampaignID: "c1", RecipientAddress: "a@x.com", IdempotencyToken: "t1"},
	})

	got, _ := q.Receive(ctx, 10, 10*time.Second)
	q.Delay(ctx, got[0].Handle, 5*time.Minute)

	base = base.Add(time.Minute)
	if items, _ := q.Receive(ctx, 10, 10*time.Second); len(items) != 0 {
		t.Errorf("delayed message became visible too early")
	}

	base = base.Add(5 * time.Minute)
	if items, _ := q.Receive(ctx, 10, 10*time.Second); len(items) != 1 {
		t.Errorf("delayed message never came back")
	}
}
