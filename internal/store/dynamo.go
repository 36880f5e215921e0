package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/campaign-engine/internal/campaign"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

const timeFormat = time.RFC3339Nano

// DynamoStore is the production campaign store. Campaign content is kept
// as a JSON document in the Data attribute; the live counters, status,
// sent_at and the processed-token set are top-level attributes so they
// can be updated atomically with conditional expressions.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
	timeout   time.Duration
}

// dynamoItem is the wire shape of a campaign record.
type dynamoItem struct {
	PK              string   `dynamodbav:"PK"`
	SK              string   `dynamodbav:"SK"`
	Data            string   `dynamodbav:"Data"`
	Total           int      `dynamodbav:"total"`
	SentCount       int      `dynamodbav:"sent_count"`
	FailedCount     int      `dynamodbav:"failed_count"`
	CampaignStatus  string   `dynamodbav:"campaign_status"`
	SentAt          string   `dynamodbav:"sent_at,omitempty"`
	Timestamp       string   `dynamodbav:"Timestamp"`
	ProcessedTokens []string `dynamodbav:"processed_tokens,stringset,omitempty"`
}

// NewDynamoStore creates a campaign store backed by the given table.
// A zero timeout leaves the caller's context in charge.
func NewDynamoStore(cfg aws.Config, tableName string, timeout time.Duration) *DynamoStore {
	return &DynamoStore{
		client:    dynamodb.NewFromConfig(cfg),
		tableName: tableName,
		timeout:   timeout,
	}
}

func (s *DynamoStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func campaignPK(campaignID string) string {
	return fmt.Sprintf("CAMPAIGN#%s", campaignID)
}

func (s *DynamoStore) key(campaignID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: campaignPK(campaignID)},
		"SK": &types.AttributeValueMemberS{Value: "META"},
	}
}

func (s *DynamoStore) Create(ctx context.Context, c *campaign.Campaign) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling campaign: %w", err)
	}

	item := dynamoItem{
		PK:             campaignPK(c.CampaignID),
		SK:             "META",
		Data:           string(data),
		Total:          c.Total,
		SentCount:      c.SentCount,
		FailedCount:    c.FailedCount,
		CampaignStatus: string(c.Status),
		Timestamp:      c.CreatedAt.UTC().Format(timeFormat),
	}
	if c.SentAt != nil {
		item.SentAt = c.SentAt.UTC().Format(timeFormat)
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrCampaignExists
		}
		return fmt.Errorf("putting campaign to DynamoDB: %w", err)
	}
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, campaignID string) (*campaign.Campaign, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(campaignID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting campaign from DynamoDB: %w", err)
	}
	if out.Item == nil {
		return nil, ErrCampaignNotFound
	}
	return s.toCampaign(out.Item)
}

func (s *DynamoStore) toCampaign(attrs map[string]types.AttributeValue) (*campaign.Campaign, error) {
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(attrs, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling item: %w", err)
	}

	var c campaign.Campaign
	if err := json.Unmarshal([]byte(item.Data), &c); err != nil {
		return nil, fmt.Errorf("unmarshaling campaign data: %w", err)
	}

	// The counter attributes are authoritative; the Data document is the
	// content as written at intake.
	c.Total = item.Total
	c.SentCount = item.SentCount
	c.FailedCount = item.FailedCount
	c.Status = campaign.Status(item.CampaignStatus)
	c.ProcessedTokens = item.ProcessedTokens
	if item.SentAt != "" {
		t, err := time.Parse(timeFormat, item.SentAt)
		if err != nil {
			logger.Warn("malformed sent_at attribute",
				"campaign_id", c.CampaignID,
				"value", item.SentAt)
		} else {
			c.SentAt = &t
		}
	}
	return &c, nil
}

// UpdateOnSend atomically records one successful send. The token guard
// rejects replays; sent_at is set only on first success; queued flips to
// sending; the terminal transition runs once all attempts are in.
func (s *DynamoStore) UpdateOnSend(ctx context.Context, campaignID, token string) (*Counters, error) {
	return s.updateCounter(ctx, campaignID, token, "sent_count", true)
}

// UpdateOnFail atomically records one failed send attempt.
func (s *DynamoStore) UpdateOnFail(ctx context.Context, campaignID, token string) (*Counters, error) {
	return s.updateCounter(ctx, campaignID, token, "failed_count", false)
}

func (s *DynamoStore) updateCounter(ctx context.Context, campaignID, token, counterAttr string, success bool) (*Counters, error) {
	update := fmt.Sprintf("ADD %s :one, processed_tokens :token_set", counterAttr)
	values := map[string]types.AttributeValue{
		":one":       &types.AttributeValueMemberN{Value: "1"},
		":token":     &types.AttributeValueMemberS{Value: token},
		":token_set": &types.AttributeValueMemberSS{Value: []string{token}},
	}
	if success {
		update += " SET sent_at = if_not_exists(sent_at, :now)"
		values[":now"] = &types.AttributeValueMemberS{Value: time.Now().UTC().Format(timeFormat)}
	}

	updCtx, cancel := s.opCtx(ctx)
	defer cancel()
	out, err := s.client.UpdateItem(updCtx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(campaignID),
		ConditionExpression: aws.String(
			"attribute_exists(PK) AND (attribute_not_exists(processed_tokens) OR NOT contains(processed_tokens, :token))"),
		UpdateExpression:          aws.String(update),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			// Either the campaign is gone or the token was replayed.
			// A replay is a no-op: return the counters as they stand.
			c, getErr := s.Get(ctx, campaignID)
			if getErr != nil {
				return nil, getErr
			}
			return countersOf(c), nil
		}
		return nil, fmt.Errorf("updating campaign counters: %w", err)
	}

	c, err := s.toCampaign(out.Attributes)
	if err != nil {
		return nil, err
	}
	return s.transitionStatus(ctx, c)
}

// transitionStatus applies the status edges that follow a counter change.
// Each edge is its own conditional write; losing the condition race to a
// concurrent worker is fine, someone applied the same transition.
func (s *DynamoStore) transitionStatus(ctx context.Context, c *campaign.Campaign) (*Counters, error) {
	if c.Status == campaign.StatusQueued && c.SentCount > 0 {
		if err := s.setStatus(ctx, c.CampaignID, campaign.StatusQueued, campaign.StatusSending); err == nil {
			c.Status = campaign.StatusSending
		}
	}
	if final := finalStatus(c); final != c.Status {
		if err := s.setStatus(ctx, c.CampaignID, c.Status, final); err == nil {
			c.Status = final
		}
	}
	return countersOf(c), nil
}

func (s *DynamoStore) setStatus(ctx context.Context, campaignID string, from, to campaign.Status) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(campaignID),
		ConditionExpression: aws.String("campaign_status = :from"),
		UpdateExpression:    aws.String("SET campaign_status = :to"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":from": &types.AttributeValueMemberS{Value: string(from)},
			":to":   &types.AttributeValueMemberS{Value: string(to)},
		},
	})
	return err
}

func (s *DynamoStore) Delete(ctx context.Context, campaignID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(campaignID),
	})
	if err != nil {
		return fmt.Errorf("deleting campaign from DynamoDB: %w", err)
	}
	return nil
}
