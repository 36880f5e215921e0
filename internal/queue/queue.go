package queue

import (
	"context"
	"time"

	"github.com/ignite/campaign-engine/internal/campaign"
)

// ReceivedItem is a work item plus the ack handle the queue issued for
// this delivery. The item stays invisible to other receivers until the
// visibility timeout passes or it is acked.
type ReceivedItem struct {
	Item   campaign.WorkItem
	Handle string
}

// Queue is an at-least-once work item queue. Enqueue batches internally;
// Ack removes a delivered item; Delay pushes its next visibility out.
type Queue interface {
	Enqueue(ctx context.Context, items []campaign.WorkItem) error
	Receive(ctx context.Context, max int, visibility time.Duration) ([]ReceivedItem, error)
	Ack(ctx context.Context, handle string) error
	Delay(ctx context.Context, handle string, visibility time.Duration) error
}
