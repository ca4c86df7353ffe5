package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Stale day records carry a TTL so DynamoDB sweeps them out-of-band; quota
// correctness never depends on the sweep happening.
const recordTTL = 7 * 24 * time.Hour

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore implements Store on a DynamoDB table keyed by the composite day
// key. The whole check-and-increment is one conditional UpdateItem, so the
// read-modify-write is a single isolated write on the server: concurrent
// requests for the same key serialize inside DynamoDB and can never jointly
// push the counter past the limit.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
}

func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("quota: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("quota: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName}, nil
}

// CheckAndIncrement admits or denies one request for key under limit.
//
// A missing record is created with count=1; an existing record below the limit
// is incremented; a record at or above the limit fails the condition
// expression and nothing is written. ConditionalCheckFailed is the denial
// signal, not an error.
func (s *DynamoStore) CheckAndIncrement(ctx context.Context, key string, limit int) (bool, error) {
	if limit <= 0 {
		return false, fmt.Errorf("quota: limit must be positive, got %d", limit)
	}

	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:    aws.String("SET #count = if_not_exists(#count, :zero) + :one, #limit = if_not_exists(#limit, :limit), #ttl = if_not_exists(#ttl, :ttl)"),
		ConditionExpression: aws.String("attribute_not_exists(#count) OR #count < :limit"),
		ExpressionAttributeNames: map[string]string{
			"#count": "count",
			"#limit": "limit",
			"#ttl":   "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero":  &types.AttributeValueMemberN{Value: "0"},
			":one":   &types.AttributeValueMemberN{Value: "1"},
			":limit": &types.AttributeValueMemberN{Value: strconv.Itoa(limit)},
			":ttl":   &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(recordTTL).Unix(), 10)},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return false, nil
		}
		return false, fmt.Errorf("quota: CheckAndIncrement update: %w", err)
	}
	return true, nil
}
