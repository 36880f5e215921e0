package store

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/campaign-engine/internal/campaign"
)

// MemoryStore is an in-process Store used by tests and local runs. It
// applies the same conditional-update semantics as the DynamoDB store.
type MemoryStore struct {
	mu        sync.Mutex
	campaigns map[string]*campaign.Campaign
	tokens    map[string]map[string]bool

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory campaign store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns: make(map[string]*campaign.Campaign),
		tokens:    make(map[string]map[string]bool),
		now:       time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, c *campaign.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.campaigns[c.CampaignID]; ok {
		return ErrCampaignExists
	}
	clone := *c
	s.campaigns[c.CampaignID] = &clone
	s.tokens[c.CampaignID] = make(map[string]bool)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, campaignID string) (*campaign.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	clone := *c
	return &clone, nil
}

func (s *MemoryStore) UpdateOnSend(ctx context.Context, campaignID, token string) (*Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	if s.tokens[campaignID][token] {
		return countersOf(c), nil
	}
	s.tokens[campaignID][token] = true

	c.SentCount++
	if c.SentAt == nil {
		now := s.now()
		c.SentAt = &now
	}
	if c.Status == campaign.StatusQueued {
		c.Status = campaign.StatusSending
	}
	c.Status = finalStatus(c)
	return countersOf(c), nil
}

func (s *MemoryStore) UpdateOnFail(ctx context.Context, campaignID, token string) (*Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	if s.tokens[campaignID][token] {
		return countersOf(c), nil
	}
	s.tokens[campaignID][token] = true

	c.FailedCount++
	c.Status = finalStatus(c)
	return countersOf(c), nil
}

func (s *MemoryStore) Delete(ctx context.Context, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.campaigns[campaignID]; !ok {
		return ErrCampaignNotFound
	}
	delete(s.campaigns, campaignID)
	delete(s.tokens, campaignID)
	return nil
}

// Len reports how many campaigns the store holds, for test assertions
// about rollback.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.campaigns)
}
