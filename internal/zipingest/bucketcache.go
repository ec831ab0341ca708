package zipingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// bucketCacheItem is the DynamoDB item shape for a resolved bulk-ZIP
// bucket-name -> gxBucketId mapping, keyed PK=BUCKET#<name>.
type bucketCacheItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	GxBucketID string `dynamodbav:"GxBucketId"`
	CachedAt  string `dynamodbav:"CachedAt"`
}

// BucketCache resolves a bulk ZIP's first-path-segment bucket name to a
// gxBucketId, calling GX's createGXBucket at most once per name within a
// single run (an in-memory layer) and persisting the mapping to
// DynamoDB so subsequent runs and other workers reuse the same
// gxBucketId for a given name rather than re-creating it in GX.
type BucketCache struct {
	dynamo    *dynamodb.Client
	tableName string
	create    func(ctx context.Context, name string) (string, error)

	mu    sync.Mutex
	local map[string]string
}

// NewBucketCache builds a cache backed by the given DynamoDB table. create
// is invoked to mint a new gxBucketId on a full miss (both local and
// DynamoDB).
func NewBucketCache(dynamo *dynamodb.Client, tableName string, create func(ctx context.Context, name string) (string, error)) *BucketCache {
	return &BucketCache{
		dynamo:    dynamo,
		tableName: tableName,
		create:    create,
		local:     make(map[string]string),
	}
}

// Resolve returns the gxBucketId for name, consulting the per-run local
// map, then DynamoDB, and finally creating a new GX bucket on a full
// miss. Concurrent resolves for the same name may race on the
// DynamoDB/create path; the ConditionExpression below ensures only the
// first writer's mapping sticks, and callers that lost the race pick up
// the persisted winner on the next read.
func (c *BucketCache) Resolve(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	if id, ok := c.local[name]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	if id, ok, err := c.readPersisted(ctx, name); err != nil {
		return "", err
	} else if ok {
		c.remember(name, id)
		return id, nil
	}

	id, err := c.create(ctx, name)
	if err != nil {
		return "", fmt.Errorf("bucketcache: create gx bucket %q: %w", name, err)
	}

	if err := c.writePersisted(ctx, name, id); err != nil {
		// Another worker may have won the race; prefer its mapping so
		// every consumer converges on one gxBucketId per name.
		if winner, ok, rerr := c.readPersisted(ctx, name); rerr == nil && ok {
			id = winner
		}
	}

	c.remember(name, id)
	return id, nil
}

func (c *BucketCache) remember(name, id string) {
	c.mu.Lock()
	c.local[name] = id
	c.mu.Unlock()
}

func (c *BucketCache) readPersisted(ctx context.Context, name string) (string, bool, error) {
	out, err := c.dynamo.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "BUCKET#" + name},
			"SK": &types.AttributeValueMemberS{Value: "NAME"},
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("bucketcache: get item: %w", err)
	}
	if out.Item == nil {
		return "", false, nil
	}
	var item bucketCacheItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return "", false, fmt.Errorf("bucketcache: unmarshal item: %w", err)
	}
	return item.GxBucketID, true, nil
}

func (c *BucketCache) writePersisted(ctx context.Context, name, gxBucketID string) error {
	item := bucketCacheItem{
		PK:         "BUCKET#" + name,
		SK:         "NAME",
		GxBucketID: gxBucketID,
		CachedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("bucketcache: marshal item: %w", err)
	}
	_, err = c.dynamo.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("bucketcache: put item: %w", err)
	}
	return nil
}
