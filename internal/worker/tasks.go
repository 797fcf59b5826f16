// Package worker consumes deferred tasks promoted into the ready stream.
package worker

import (
	"context"
	"time"

	"github.com/cassiomorais/billingsync/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/billingsync/internal/infrastructure/redis"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultClaimInterval = 30 * time.Second
	defaultMinIdle       = 2 * time.Minute
	readErrorBackoff     = time.Second
)

// Stream is the consumer-group view of the ready-task stream.
type Stream interface {
	CreateGroup(ctx context.Context) error
	Read(ctx context.Context) ([]redis.XMessage, error)
	Ack(ctx context.Context, messageID string) error
	ClaimStale(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error)
}

// TaskHandler executes one decoded task.
type TaskHandler interface {
	HandleTask(ctx context.Context, name string, payload map[string]string) error
}

// TaskConsumer reads ready tasks and hands them to a TaskHandler. Messages a
// crashed consumer left pending are reclaimed after minIdle.
type TaskConsumer struct {
	stream        Stream
	handler       TaskHandler
	claimInterval time.Duration
	minIdle       time.Duration
	logger        zerolog.Logger
	metrics       *observability.Metrics
}

func NewTaskConsumer(stream Stream, handler TaskHandler, logger zerolog.Logger, metrics *observability.Metrics) *TaskConsumer {
	return &TaskConsumer{
		stream:        stream,
		handler:       handler,
		claimInterval: defaultClaimInterval,
		minIdle:       defaultMinIdle,
		logger:        logger.With().Str("component", "task_consumer").Logger(),
		metrics:       metrics,
	}
}

// Run blocks until ctx is done.
func (c *TaskConsumer) Run(ctx context.Context) error {
	if err := c.stream.CreateGroup(ctx); err != nil {
		return err
	}
	c.logger.Info().Str("stream", infraRedis.TaskStream).Msg("Task consumer started")

	lastClaim := time.Time{}
	for {
		if ctx.Err() != nil {
			return nil
		}

		if time.Since(lastClaim) >= c.claimInterval {
			lastClaim = time.Now()
			stale, err := c.stream.ClaimStale(ctx, c.minIdle)
			if err != nil {
				c.logger.Warn().Err(err).Msg("Failed to claim stale tasks")
			}
			c.HandleBatch(ctx, stale)
		}

		msgs, err := c.stream.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error().Err(err).Msg("Failed to read task stream")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readErrorBackoff):
			}
			continue
		}
		c.HandleBatch(ctx, msgs)
	}
}

// HandleBatch executes and acks each message. Every message is acked: a task
// whose execution failed is picked up again by the payment retry sweep, since
// its record stays due.
func (c *TaskConsumer) HandleBatch(ctx context.Context, msgs []redis.XMessage) {
	for _, msg := range msgs {
		c.handle(ctx, msg)
		if err := c.stream.Ack(ctx, msg.ID); err != nil {
			c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to ack task")
		}
	}
}

func (c *TaskConsumer) handle(ctx context.Context, msg redis.XMessage) {
	start := time.Now()
	task, err := infraRedis.DecodeTask(msg)
	if err != nil {
		c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Dropping undecodable task")
		c.count("malformed", start)
		return
	}

	log := c.logger.With().Str("task_id", task.ID).Str("task", task.Name).Logger()
	if err := c.handler.HandleTask(ctx, task.Name, task.Payload); err != nil {
		log.Error().Err(err).Msg("Task failed")
		c.count("failure", start)
		return
	}
	log.Debug().Msg("Task completed")
	c.count("success", start)
}

func (c *TaskConsumer) count(result string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.WorkerMessagesProcessed.WithLabelValues(infraRedis.TaskStream, result).Inc()
	c.metrics.WorkerProcessingDuration.WithLabelValues(infraRedis.TaskStream).Observe(time.Since(start).Seconds())
}
