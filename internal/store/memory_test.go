package store

import (
	"context"
	"testing"
	"time"

	"github.com/ignite/campaign-engine/internal/campaign"
)

func newTestCampaign(id string, total int) *campaign.Campaign {
	return &campaign.Campaign{
		CampaignID: id,
		Subject:    "hello",
		Total:      total,
		Status:     campaign.StatusQueued,
		CreatedAt:  time.Now(),
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Create(ctx, newTestCampaign("c1", 3)); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := s.Create(ctx, newTestCampaign("c1", 3)); err != ErrCampaignExists {
		t.Errorf("duplicate Create() = %v, want ErrCampaignExists", err)
	}

	c, err := s.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if c.Status != campaign.StatusQueued || c.Total != 3 {
		t.Errorf("Get() = status %s total %d, want queued/3", c.Status, c.Total)
	}

	if _, err := s.Get(ctx, "nope"); err != ErrCampaignNotFound {
		t.Errorf("Get(missing) = %v, want ErrCampaignNotFound", err)
	}
}

func TestMemoryStoreSendTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Create(ctx, newTestCampaign("c1", 2))

	counters, err := s.UpdateOnSend(ctx, "c1", "tok-1")
	if err != nil {
		t.Fatalf("UpdateOnSend() error: %v", err)
	}
	if counters.SentCount != 1 {
		t.Errorf("SentCount = %d, want 1", counters.SentCount)
	}
	if counters.Status != campaign.StatusSending {
		t.Errorf("Status = %s, want sending after first success", counters.Status)
	}
	if counters.SentAt == nil {
		t.Fatal("SentAt not set on first success")
	}
	firstSentAt := *counters.SentAt

	// sent_at is written exactly once.
	counters, _ = s.UpdateOnSend(ctx, "c1", "tok-2")
	if !counters.SentAt.Equal(firstSentAt) {
		t.Errorf("SentAt changed on second success: %v != %v", counters.SentAt, firstSentAt)
	}
	if counters.Status != campaign.StatusCompleted {
		t.Errorf("Status = %s, want completed when sent+failed == total", counters.Status)
	}
}

func TestMemoryStoreAllFailedIsFailed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Create(ctx, newTestCampaign("c1", 2))

	s.UpdateOnFail(ctx, "c1", "tok-1")
	counters, err := s.UpdateOnFail(ctx, "c1", "tok-2")
	if err != nil {
		t.Fatalf("UpdateOnFail() error: %v", err)
	}
	if counters.Status != campaign.StatusFailed {
		t.Errorf("Status = %s, want failed when every attempt failed", counters.Status)
	}
	if counters.SentAt != nil {
		t.Error("SentAt set on a campaign that never sent")
	}
}

func TestMemoryStoreMixedOutcomeCompletes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Create(ctx, newTestCampaign("c1", 2))

	s.UpdateOnFail(ctx, "c1", "tok-1")
	counters, _ := s.UpdateOnSend(ctx, "c1", "tok-2")
	if counters.Status != campaign.StatusCompleted {
		t.Errorf("Status = %s, want completed with at least one success", counters.Status)
	}
}

func TestMemoryStoreTokenReplayIsNoop(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Create(ctx, newTestCampaign("c1", 5))

	first, _ := s.UpdateOnSend(ctx, "c1", "tok-1")
	replayed, err := s.UpdateOnSend(ctx, "c1", "tok-1")
	if err != nil {
		t.Fatalf("replayed UpdateOnSend() error: %v", err)
	}
	if replayed.SentCount != first.SentCount {
		t.Errorf("replay changed SentCount: %d -> %d", first.SentCount, replayed.SentCount)
	}

	// Replaying a send token as a failure must not double-count either.
	afterFail, _ := s.UpdateOnFail(ctx, "c1", "tok-1")
	if afterFail.FailedCount != 0 {
		t.Errorf("replayed token advanced FailedCount to %d", afterFail.FailedCount)
	}
}

func TestMemoryStoreCounterLaw(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Create(ctx, newTestCampaign("c1", 4))

	tokens := []string{"a", "b", "c", "d"}
	for i, tok := range tokens {
		var counters *Counters
		if i%2 == 0 {
			counters, _ = s.UpdateOnSend(ctx, "c1", tok)
		} else {
			counters, _ = s.UpdateOnFail(ctx, "c1", tok)
		}
		if counters.SentCount+counters.FailedCount > counters.Total {
			t.Fatalf("counter law violated after %d updates: %d+%d > %d",
				i+1, counters.SentCount, counters.FailedCount, counters.Total)
		}
	}

	c, _ := s.Get(ctx, "c1")
	if c.SentCount+c.FailedCount != c.Total {
		t.Errorf("final state %d+%d != %d", c.SentCount, c.FailedCount, c.Total)
	}
	if c.Status != campaign.StatusCompleted {
		t.Errorf("final status = %s, want completed", c.Status)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Create(ctx, newTestCampaign("c1", 1))

	if err := s.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := s.Get(ctx, "c1"); err != ErrCampaignNotFound {
		t.Errorf("Get(deleted) = %v, want ErrCampaignNotFound", err)
	}
	if _, err := s.UpdateOnSend(ctx, "c1", "tok"); err != ErrCampaignNotFound {
		t.Errorf("UpdateOnSend(deleted) = %v, want ErrCampaignNotFound", err)
	}
}
