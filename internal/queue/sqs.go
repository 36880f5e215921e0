package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/campaign"
)

// sqsMaxBatch is the SendMessageBatch entry limit.
const sqsMaxBatch = 10

// SQSQueue is the production work queue.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
	// WaitTime is the long-poll duration for Receive.
	WaitTime time.Duration
}

// NewSQSQueue creates a work queue on the given SQS queue URL.
func NewSQSQueue(cfg aws.Config, queueURL string) *SQSQueue {
	return &SQSQueue{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
		WaitTime: 20 * time.Second,
	}
}

// Enqueue sends the work items in batches of ten. Any rejected entry
// fails the whole call so intake can roll the campaign back.
func (q *SQSQueue) Enqueue(ctx context.Context, items []campaign.WorkItem) error {
	for start := 0; start < len(items); start += sqsMaxBatch {
		end := start + sqsMaxBatch
		if end > len(items) {
			end = len(items)
		}

		entries := make([]types.SendMessageBatchRequestEntry, 0, end-start)
		for _, item := range items[start:end] {
			body, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("marshaling work item: %w", err)
			}
			entries = append(entries, types.SendMessageBatchRequestEntry{
				Id:          aws.String(uuid.New().String()),
				MessageBody: aws.String(string(body)),
			})
		}

		out, err := q.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(q.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return fmt.Errorf("enqueueing work items: %w", err)
		}
		if len(out.Failed) > 0 {
			first := out.Failed[0]
			return fmt.Errorf("enqueueing work items: %d entries rejected (%s: %s)",
				len(out.Failed), aws.ToString(first.Code), aws.ToString(first.Message))
		}
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, max int, visibility time.Duration) ([]ReceivedItem, error) {
	if max > sqsMaxBatch {
		max = sqsMaxBatch
	}

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(max),
		VisibilityTimeout:   int32(visibility / time.Second),
		WaitTimeSeconds:     int32(q.WaitTime / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("receiving work items: %w", err)
	}

	items := make([]ReceivedItem, 0, len(out.Messages))
	for _, msg := range out.Messages {
		var item campaign.WorkItem
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &item); err != nil {
			// A message that never parses will never parse; drop it
			// rather than let it cycle through redelivery forever.
			log.Printf("[Queue] Dropping malformed message: %v", err)
			q.Ack(ctx, aws.ToString(msg.ReceiptHandle))
			continue
		}
		items = append(items, ReceivedItem{
			Item:   item,
			Handle: aws.ToString(msg.ReceiptHandle),
		})
	}
	return items, nil
}

func (q *SQSQueue) Ack(ctx context.Context, handle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		return fmt.Errorf("acking work item: %w", err)
	}
	return nil
}

func (q *SQSQueue) Delay(ctx context.Context, handle string, visibility time.Duration) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(handle),
		VisibilityTimeout: int32(visibility / time.Second),
	})
	if err != nil {
		return fmt.Errorf("delaying work item: %w", err)
	}
	return nil
}
