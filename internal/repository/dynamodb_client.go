package repository

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

const (
	pkPrefixClient = "CLIENT#"
	skPrefixWindow = "WINDOW#"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Client stores fixed-window request counters in a DynamoDB table keyed by
// PK (client key) and SK (window start). Items expire through the table TTL
// attribute "ttl".
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func clientPK(key string) string {
	return pkPrefixClient + key
}

func windowSK(start time.Time) string {
	return skPrefixWindow + start.UTC().Format(time.RFC3339)
}

// Increment atomically adds one hit to the client's window and returns the
// updated count. The first hit of a window also sets its expiry.
func (c *Client) Increment(ctx context.Context, key string, windowStart, expiresAt time.Time) (int, error) {
	if strings.TrimSpace(key) == "" {
		return 0, errors.New("repository: Increment: key is required")
	}

	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: clientPK(key)},
			"SK": &types.AttributeValueMemberS{Value: windowSK(windowStart)},
		},
		UpdateExpression: aws.String("ADD hits :one SET #ttl = if_not_exists(#ttl, :ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.Unix(), 10)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("repository: Increment update item: %w", err)
	}
	if out == nil {
		return 0, errors.New("repository: Increment: empty response")
	}

	hits, err := intAttr(out.Attributes, "hits")
	if err != nil {
		return 0, fmt.Errorf("repository: Increment decode hits: %w", err)
	}
	return hits, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
