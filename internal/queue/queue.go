// Package queue implements the FIFO message queue adapter (C2): send with
// group/dedup keys, a long-poll consumer loop, and a purge primitive,
// against an SQS FIFO queue.
package queue

import (
	"context"
	"time"

	"github.com/kraklabs/docingest/internal/pkg/apierr"
	"github.com/kraklabs/docingest/internal/pkg/logger"
)

// Message is one delivered queue message. Consumer deletes it once the
// handler returns, unless the handler's error is retryable; an undeleted
// message is left to the broker's visibility-timeout redelivery.
type Message struct {
	Body          string
	ReceiptHandle string
}

// Queue is the contract the zip and file consumers depend on.
type Queue interface {
	// Send enqueues payload with the given FIFO group and deduplication
	// IDs. groupId controls ordering (messages sharing a groupId are
	// delivered in order to at most one consumer at a time); dedupId
	// collisions within the broker's dedup window are dropped.
	Send(ctx context.Context, queueURL, payload, groupID, dedupID string) error

	// Receive long-polls for up to maxMessages, waiting up to the
	// adapter's configured WaitTimeSeconds.
	Receive(ctx context.Context, queueURL string, maxMessages int32) ([]Message, error)

	// Delete acknowledges a message, preventing redelivery.
	Delete(ctx context.Context, queueURL string, receiptHandle string) error

	// PurgeAll drops all in-flight messages on every queue listed.
	// Eventually consistent: callers must tolerate up to 60s of residual
	// delivery per spec.md §4.2.
	PurgeAll(ctx context.Context, queueURLs []string) error
}

// Consumer drives a long-running receive loop against one queue URL,
// dispatching each message body to handle. Handle returning a retryable
// apierr.Kind (Transient/Downstream) leaves the message unacknowledged so
// the broker redelivers it; any other outcome (nil error, or a terminal
// classification) acknowledges the message so it is never redelivered.
type Consumer struct {
	q        Queue
	queueURL string
	maxMsgs  int32
	handle   func(ctx context.Context, body string) error
}

// NewConsumer builds a Consumer that polls queueURL and dispatches each
// message body to handle.
func NewConsumer(q Queue, queueURL string, maxMsgs int32, handle func(ctx context.Context, body string) error) *Consumer {
	if maxMsgs <= 0 {
		maxMsgs = 10
	}
	return &Consumer{q: q, queueURL: queueURL, maxMsgs: maxMsgs, handle: handle}
}

// shouldRedeliver reports whether err's classification means the broker
// should redeliver the message rather than recording a terminal outcome.
func shouldRedeliver(err error) bool {
	if err == nil {
		return false
	}
	return apierr.KindOf(err).Retryable()
}

// Run blocks, polling queueURL until ctx is cancelled. The messages of a
// received batch are handled one at a time, in the order received; per
// spec.md §5 ordering across messages is the broker's responsibility via
// group IDs, not this loop's.
func (c *Consumer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.q.Receive(ctx, c.queueURL, c.maxMsgs)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("queue receive error", "queue", c.queueURL, "error", err.Error())
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, msg := range msgs {
			c.dispatch(ctx, msg)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg Message) {
	err := c.handle(ctx, msg.Body)
	if err != nil && shouldRedeliver(err) {
		logger.Warn("message processing failed, leaving for redelivery",
			"queue", c.queueURL, "error", err.Error())
		return
	}
	if err != nil {
		logger.Error("message processing terminated without redelivery",
			"queue", c.queueURL, "error", err.Error())
	}
	if delErr := c.q.Delete(ctx, c.queueURL, msg.ReceiptHandle); delErr != nil {
		logger.Warn("failed to delete acknowledged message", "queue", c.queueURL, "error", delErr.Error())
	}
}
