package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoLedgerArchive mirrors committed log entries to DynamoDB for long-term
// retention and analytics off the primary database. Postgres stays the system
// of record; the archive write happens after commit and is best-effort.
type DynamoLedgerArchive struct {
	client    *dynamodb.Client
	tableName string
}

// dynamoLogEntry is the DynamoDB item structure. Partition key product_id,
// sort key entry id, GSI1PK fixed so a full scan by recency is possible.
type dynamoLogEntry struct {
	ProductID        string `dynamodbav:"product_id"`
	ID               string `dynamodbav:"id"`
	PreviousQuantity int    `dynamodbav:"previous_quantity"`
	NewQuantity      int    `dynamodbav:"new_quantity"`
	Change           int    `dynamodbav:"change"`
	ChangeType       string `dynamodbav:"change_type"`
	IdempotencyKey   string `dynamodbav:"idempotency_key,omitempty"`
	Notes            string `dynamodbav:"notes,omitempty"`
	CreatedAt        string `dynamodbav:"created_at"`
	GSI1PK           string `dynamodbav:"gsi1pk"`
}

func NewDynamoLedgerArchive(client *dynamodb.Client, tableName string) *DynamoLedgerArchive {
	return &DynamoLedgerArchive{client: client, tableName: tableName}
}

// ConnectDynamo builds a DynamoDB client for the given region
func ConnectDynamo(ctx context.Context, region string) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg), nil
}

// Archive writes one committed log entry. The conditional put keeps the
// archive append-only even under worker retries.
func (a *DynamoLedgerArchive) Archive(ctx context.Context, entry *LogEntry) error {
	item := dynamoLogEntry{
		ProductID:        entry.ProductID.String(),
		ID:               entry.ID.String(),
		PreviousQuantity: entry.PreviousQuantity,
		NewQuantity:      entry.NewQuantity,
		Change:           entry.Change,
		ChangeType:       entry.ChangeType,
		Notes:            entry.Notes,
		CreatedAt:        entry.CreatedAt.Format(time.RFC3339Nano),
		GSI1PK:           "ENTRIES",
	}
	if entry.IdempotencyKey != nil {
		item.IdempotencyKey = *entry.IdempotencyKey
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	_, err = a.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(a.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(product_id) AND attribute_not_exists(id)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			// Already archived by an earlier attempt
			return nil
		}
		return fmt.Errorf("failed to archive log entry: %w", err)
	}
	return nil
}

// EntriesForProduct reads a product's archived trail, newest first
func (a *DynamoLedgerArchive) EntriesForProduct(ctx context.Context, productID string, limit int32) ([]LogEntry, error) {
	result, err := a.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(a.tableName),
		KeyConditionExpression: aws.String("product_id = :pid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pid": &types.AttributeValueMemberS{Value: productID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}

	var entries []LogEntry
	for _, item := range result.Items {
		var raw dynamoLogEntry
		if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
			return nil, fmt.Errorf("failed to unmarshal archive item: %w", err)
		}
		entry, err := raw.toLogEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (raw dynamoLogEntry) toLogEntry() (*LogEntry, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, raw.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	entry := LogEntry{
		PreviousQuantity: raw.PreviousQuantity,
		NewQuantity:      raw.NewQuantity,
		Change:           raw.Change,
		ChangeType:       raw.ChangeType,
		Notes:            raw.Notes,
		CreatedAt:        createdAt,
	}
	if err := entry.ID.UnmarshalText([]byte(raw.ID)); err != nil {
		return nil, fmt.Errorf("failed to parse entry id: %w", err)
	}
	if err := entry.ProductID.UnmarshalText([]byte(raw.ProductID)); err != nil {
		return nil, fmt.Errorf("failed to parse product id: %w", err)
	}
	if raw.IdempotencyKey != "" {
		entry.IdempotencyKey = &raw.IdempotencyKey
	}
	return &entry, nil
}
