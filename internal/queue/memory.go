package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/campaign"
)

type memoryMessage struct {
	item      campaign.WorkItem
	handle    string
	visibleAt time.Time
	inflight  bool
}

// MemoryQueue is an in-process Queue with visibility-timeout semantics,
// used by tests and local runs.
type MemoryQueue struct {
	mu       sync.Mutex
	messages []*memoryMessage
	now      func() time.Time

	// FailEnqueue makes the next Enqueue call fail; tests use it to
	// exercise intake rollback.
	FailEnqueue error
}

// NewMemoryQueue creates an empty in-memory work queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{now: time.Now}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, items []campaign.WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.FailEnqueue != nil {
		err := q.FailEnqueue
		q.FailEnqueue = nil
		return err
	}

	for _, item := range items {
		q.messages = append(q.messages, &memoryMessage{
			item:      item,
			visibleAt: q.now(),
		})
	}
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, max int, visibility time.Duration) ([]ReceivedItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []ReceivedItem
	for _, msg := range q.messages {
		if len(out) >= max {
			break
		}
		if msg.visibleAt.After(now) {
			continue
		}
		msg.handle = uuid.New().String()
		msg.visibleAt = now.Add(visibility)
		msg.inflight = true
		out = append(out, ReceivedItem{Item: msg.item, Handle: msg.handle})
	}
	return out, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, msg := range q.messages {
		if msg.handle == handle && msg.inflight {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return nil
		}
	}
	return nil
}

func (q *MemoryQueue) Delay(ctx context.Context, handle string, visibility time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, msg := range q.messages {
		if msg.handle == handle && msg.inflight {
			msg.visibleAt = q.now().Add(visibility)
			return nil
		}
	}
	return nil
}

// Len reports how many messages remain on the queue, visible or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Items returns a snapshot of every queued work item, for test
// assertions about fan-out.
func (q *MemoryQueue) Items() []campaign.WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]campaign.WorkItem, 0, len(q.messages))
	for _, msg := range q.messages {
		out = append(out, msg.item)
	}
	return out
}
