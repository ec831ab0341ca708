package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
)

// SQSQueue is the production Queue implementation, backed by Amazon SQS
// FIFO queues.
type SQSQueue struct {
	client               *sqs.Client
	visibilityTimeoutSec int32
	waitTimeSec          int32
}

// NewSQSQueue wraps an SQS client for FIFO send/receive/purge.
func NewSQSQueue(client *sqs.Client, visibilityTimeoutSec, waitTimeSec int32) *SQSQueue {
	return &SQSQueue{client: client, visibilityTimeoutSec: visibilityTimeoutSec, waitTimeSec: waitTimeSec}
}

func (q *SQSQueue) Send(ctx context.Context, queueURL, payload, groupID, dedupID string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(queueURL),
		MessageBody:            aws.String(payload),
		MessageGroupId:         aws.String(groupID),
		MessageDeduplicationId: aws.String(dedupID),
	})
	if err != nil {
		return fmt.Errorf("queue: send to %s: %w", queueURL, err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, queueURL string, maxMessages int32) ([]Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     q.waitTimeSec,
		VisibilityTimeout:   q.visibilityTimeoutSec,
	})
	if err != nil {
		return nil, fmt.Errorf("queue: receive from %s: %w", queueURL, err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

func (q *SQSQueue) Delete(ctx context.Context, queueURL string, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("queue: delete from %s: %w", queueURL, err)
	}
	return nil
}

func (q *SQSQueue) PurgeAll(ctx context.Context, queueURLs []string) error {
	for _, url := range queueURLs {
		_, err := q.client.PurgeQueue(ctx, &sqs.PurgeQueueInput{QueueUrl: aws.String(url)})
		if err != nil {
			var inProgress *types.PurgeQueueInProgress
			if errors.As(err, &inProgress) {
				continue
			}
			return fmt.Errorf("queue: purge %s: %w", url, err)
		}
	}
	return nil
}

// FileGroupID returns the FIFO group ID used for file-queue messages,
// keeping per-tenant ordering (spec.md §4.2).
func FileGroupID(gxBucketID string) string {
	return gxBucketID
}

// ZipGroupID returns the FIFO group ID used for zip-queue messages,
// serializing ingestion of a single job's archive.
func ZipGroupID(jobID string) string {
	return "zip-job-" + jobID
}

// FileDedupID returns a stable deduplication ID for a fresh file-queue
// enqueue, keyed on bucket+hash so identical content within the broker's
// dedup window collapses to one message.
func FileDedupID(bucket, hash string) string {
	sum := sha256.Sum256([]byte(bucket + ":" + hash))
	return hex.EncodeToString(sum[:])
}

// FreshDedupID returns a dedup ID that is guaranteed unique, for use on
// retries where the same entity must be re-enqueued despite the broker's
// dedup window (spec.md §4.2: "retries MUST generate a fresh dedupId").
func FreshDedupID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
