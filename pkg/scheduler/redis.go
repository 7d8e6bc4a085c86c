package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/taskmesh/runtime/pkg/log"
	"github.com/taskmesh/runtime/pkg/metrics"
	"github.com/taskmesh/runtime/pkg/types"
)

// DefaultQueueName is the Redis list producers rpush to and consumers blpop
// from when RedisConfig.QueueName is unset.
const DefaultQueueName = "bindu:tasks"

// DefaultPollTimeout is how long a single blpop waits before returning empty,
// giving the consumer loop a chance to notice ctx cancellation.
const DefaultPollTimeout = time.Second

// RedisConfig configures a RedisScheduler.
type RedisConfig struct {
	URL       string
	QueueName string
	// PoolSize bounds the shared connection pool rented per operation
	// (§5); zero uses the go-redis default.
	PoolSize int
	// PollTimeout bounds each blpop call.
	PollTimeout time.Duration
}

// RedisScheduler is a Scheduler backed by a single Redis list, shared by
// competing worker processes. Producer transport errors are retried with
// exponential backoff before surfacing to the caller; consumer transport
// errors and malformed envelopes are logged and the read loop continues.
type RedisScheduler struct {
	client    *redis.Client
	queueName string
	pollEvery time.Duration
	logger    zerolog.Logger
}

// NewRedisScheduler parses cfg.URL, establishes the connection pool, and
// verifies connectivity with a ping — acquisition fails fatally if Redis is
// unreachable, per §4.1's acquire/release contract.
func NewRedisScheduler(ctx context.Context, cfg RedisConfig) (*RedisScheduler, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("scheduler: connect to redis: %w", err)
	}

	queueName := cfg.QueueName
	if queueName == "" {
		queueName = DefaultQueueName
	}
	pollEvery := cfg.PollTimeout
	if pollEvery <= 0 {
		pollEvery = DefaultPollTimeout
	}

	s := &RedisScheduler{
		client:    client,
		queueName: queueName,
		pollEvery: pollEvery,
		logger:    log.WithComponent("scheduler.redis"),
	}
	s.logger.Info().Str("queue", queueName).Msg("redis scheduler connected")
	return s, nil
}

func producerBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, 4), ctx)
}

func (s *RedisScheduler) push(ctx context.Context, op TaskOperation) error {
	payload, err := marshalOperation(op)
	if err != nil {
		return err
	}

	err = backoff.Retry(func() error {
		pushErr := s.client.RPush(ctx, s.queueName, payload).Err()
		if pushErr != nil {
			s.logger.Warn().Err(pushErr).Str("operation", string(op.Kind)).Msg("redis push failed, retrying")
		}
		return pushErr
	}, producerBackoff(ctx))
	if err != nil {
		return fmt.Errorf("scheduler: push %s operation: %w", op.Kind, err)
	}

	metrics.OperationsEnqueued.WithLabelValues(string(op.Kind)).Inc()
	return nil
}

// RunTask implements Scheduler.
func (s *RedisScheduler) RunTask(ctx context.Context, params types.TaskSendParams) error {
	return s.push(ctx, NewRunOperation(params))
}

// CancelTask implements Scheduler.
func (s *RedisScheduler) CancelTask(ctx context.Context, taskID uuid.UUID) error {
	return s.push(ctx, NewCancelOperation(taskID))
}

// PauseTask implements Scheduler.
func (s *RedisScheduler) PauseTask(ctx context.Context, taskID uuid.UUID) error {
	return s.push(ctx, NewPauseOperation(taskID))
}

// ResumeTask implements Scheduler.
func (s *RedisScheduler) ResumeTask(ctx context.Context, taskID uuid.UUID) error {
	return s.push(ctx, NewResumeOperation(taskID))
}

// Operations implements Scheduler, blpop-ing s.queueName in a loop until ctx
// is canceled. Deserialization failures are logged and dropped; the loop
// never halts on a malformed message.
func (s *RedisScheduler) Operations(ctx context.Context) (<-chan TaskOperation, error) {
	out := make(chan TaskOperation)

	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}

			result, err := s.client.BLPop(ctx, s.pollEvery, s.queueName).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
					return
				}
				s.logger.Error().Err(err).Msg("redis error receiving task operations")
				continue
			}

			// result is [queueName, payload]
			if len(result) != 2 {
				continue
			}

			op, err := unmarshalOperation([]byte(result[1]))
			if err != nil {
				metrics.OperationsDropped.WithLabelValues("deserialize").Inc()
				s.logger.Error().Err(err).Msg("failed to deserialize task operation, dropping")
				continue
			}

			metrics.OperationsDequeued.WithLabelValues(string(op.Kind)).Inc()

			select {
			case out <- op:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// QueueDepth implements Scheduler, grounded on the Python scheduler's
// get_queue_length.
func (s *RedisScheduler) QueueDepth(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.queueName).Result()
}

// Ping implements Scheduler, grounded on the Python scheduler's
// health_check.
func (s *RedisScheduler) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Scheduler.
func (s *RedisScheduler) Close() error {
	return s.client.Close()
}
