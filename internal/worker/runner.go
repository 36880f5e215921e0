package worker

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/queue"
)

// Runner drives the dispatcher from the work queue: receive a batch,
// process it under the invocation budget, ack what was attempted.
type Runner struct {
	queue      queue.Queue
	dispatcher *Dispatcher

	batchSize  int
	visibility time.Duration
	budget     time.Duration

	processed atomic.Int64
	sent      atomic.Int64
}

// NewRunner wires a runner with the queue and worker settings.
func NewRunner(q queue.Queue, d *Dispatcher, queueCfg config.QueueConfig, workerCfg config.WorkerConfig) *Runner {
	return &Runner{
		queue:      q,
		dispatcher: d,
		batchSize:  queueCfg.BatchSize,
		visibility: queueCfg.VisibilityTimeout(),
		budget:     workerCfg.Budget(),
	}
}

// Run polls until the context is canceled. Each batch gets its own
// deadline so the dispatcher can stop starting items before the queue
// makes them visible again.
func (r *Runner) Run(ctx context.Context) {
	log.Printf("[Runner] Starting (batch %d, visibility %s, budget %s)", r.batchSize, r.visibility, r.budget)

	for {
		if ctx.Err() != nil {
			log.Printf("[Runner] Stopping: processed %d, sent %d", r.processed.Load(), r.sent.Load())
			return
		}

		items, err := r.queue.Receive(ctx, r.batchSize, r.visibility)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error("queue receive failed", "error", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if len(items) == 0 {
			continue
		}

		r.runBatch(ctx, items)
	}
}

func (r *Runner) runBatch(ctx context.Context, items []queue.ReceivedItem) {
	batchCtx, cancel := context.WithTimeout(ctx, r.budget)
	defer cancel()

	report, err := r.dispatcher.ProcessBatch(batchCtx, items)
	if err != nil {
		// Nothing was attempted; the whole batch redelivers on
		// visibility expiry.
		log.Printf("[Runner] Batch failed before work began: %v", err)
		return
	}

	for _, result := range report.Results {
		if !result.Attempted {
			continue
		}
		if err := r.queue.Ack(ctx, result.Handle); err != nil {
			log.Printf("[Runner] Ack failed for %s: %v", result.Item.CampaignID, err)
		}
	}

	r.processed.Add(int64(report.Attempted()))
	r.sent.Add(int64(report.Sent()))
	logger.Info("batch done",
		"attempted", report.Attempted(),
		"sent", report.Sent(),
		"lifetime_sent", r.sent.Load(),
		"lifetime_processed", r.processed.Load())
}
