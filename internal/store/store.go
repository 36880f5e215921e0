package store

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/campaign-engine/internal/campaign"
)

var (
	// ErrCampaignExists is returned by Create when the campaign ID is taken.
	ErrCampaignExists = errors.New("campaign already exists")
	// ErrCampaignNotFound is returned when a campaign ID resolves to nothing.
	ErrCampaignNotFound = errors.New("campaign not found")
)

// Counters is the observable progress of a campaign after a conditional
// update.
type Counters struct {
	Total       int
	SentCount   int
	FailedCount int
	Status      campaign.Status
	SentAt      *time.Time
}

// Store persists campaigns and their live counters. UpdateOnSend and
// UpdateOnFail are conditional on the idempotency token: a replayed token
// is a no-op that returns the current counters unchanged. Both are atomic
// per campaign, which is what lets many workers update the same campaign
// without locks.
type Store interface {
	Create(ctx context.Context, c *campaign.Campaign) error
	Get(ctx context.Context, campaignID string) (*campaign.Campaign, error)
	UpdateOnSend(ctx context.Context, campaignID, token string) (*Counters, error)
	UpdateOnFail(ctx context.Context, campaignID, token string) (*Counters, error)
	Delete(ctx context.Context, campaignID string) error
}

// countersOf extracts the counter view of a campaign record.
func countersOf(c *campaign.Campaign) *Counters {
	return &Counters{
		Total:       c.Total,
		SentCount:   c.SentCount,
		FailedCount: c.FailedCount,
		Status:      c.Status,
		SentAt:      c.SentAt,
	}
}

// finalStatus computes the terminal status transition once every attempt
// is accounted for. Completed requires at least one success; failed means
// every attempt failed.
func finalStatus(c *campaign.Campaign) campaign.Status {
	if !c.Done() {
		return c.Status
	}
	if c.SentCount > 0 {
		return campaign.StatusCompleted
	}
	return campaign.StatusFailed
}
