// Package pubsub provides a crawl.Queue backed by Google Cloud Pub/Sub so
// submission and execution can run in separate deployments.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/crawlkit/crawlkit/internal/crawl"
)

// Config identifies the topic/subscription pair carrying spider tasks.
type Config struct {
	ProjectID      string
	TopicID        string
	SubscriptionID string
	// ReceiveBuffer bounds tasks pulled ahead of Dequeue calls.
	ReceiveBuffer int
}

// Queue bridges the callback-based Pub/Sub receiver into the pull-style
// crawl.Queue interface. Messages are acked once they land in the local
// buffer; a crashed worker loses its in-flight task, which is acceptable
// because clients can resubmit and requests are idempotent to re-run.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	tasks  chan crawl.Task
	logger *zap.Logger
}

// New creates a Pub/Sub client and verifies the topic exists. It
// authenticates using Application Default Credentials.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReceiveBuffer <= 0 {
		cfg.ReceiveBuffer = 64
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.TopicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check pubsub topic %q: %w", cfg.TopicID, err)
	}
	if !ok {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.TopicID, cfg.ProjectID)
	}
	q := &Queue{
		client: client,
		topic:  topic,
		tasks:  make(chan crawl.Task, cfg.ReceiveBuffer),
		logger: logger,
	}
	if cfg.SubscriptionID != "" {
		q.sub = client.Subscription(cfg.SubscriptionID)
	}
	return q, nil
}

// Enqueue publishes the task and waits for server acknowledgment so the
// submit endpoint can report durable handoff.
func (q *Queue) Enqueue(ctx context.Context, task crawl.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	return nil
}

// Start begins pulling messages into the local buffer. It blocks until ctx
// is canceled and must run in its own goroutine on worker deployments.
func (q *Queue) Start(ctx context.Context) error {
	if q.sub == nil {
		return fmt.Errorf("subscription not configured")
	}
	err := q.sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
		var task crawl.Task
		if err := json.Unmarshal(msg.Data, &task); err != nil {
			q.logger.Warn("discarding malformed task message", zap.Error(err))
			msg.Ack()
			return
		}
		select {
		case q.tasks <- task:
			msg.Ack()
		case <-msgCtx.Done():
			msg.Nack()
		}
	})
	if err != nil {
		return fmt.Errorf("receive tasks: %w", err)
	}
	return nil
}

// Dequeue pops the next buffered task, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawl.Task, error) {
	select {
	case <-ctx.Done():
		return crawl.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task := <-q.tasks:
		return task, nil
	}
}

// Close stops the publisher and closes the underlying client connection.
func (q *Queue) Close() error {
	q.topic.Stop()
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
