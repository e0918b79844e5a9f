package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iago/manga-studio-back/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type StreamsConfig struct {
	Addr        string
	Password    string
	DB          int
	Stream      string
	DLQStream   string
	Group       string
	Consumer    string
	MaxAttempts int
	Block       time.Duration
	Logger      zerolog.Logger
}

// StreamsQueue implements Producer and Consumer on top of Redis Streams.
type StreamsQueue struct {
	client      *redis.Client
	stream      string
	dlqStream   string
	group       string
	consumer    string
	maxAttempts int
	block       time.Duration
	logger      zerolog.Logger
}

func NewStreamsQueue(ctx context.Context, cfg StreamsConfig) (*StreamsQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	queue := newStreamsQueue(client, cfg)
	if err := queue.ensureGroup(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return queue, nil
}

func newStreamsQueue(client *redis.Client, cfg StreamsConfig) *StreamsQueue {
	if cfg.Stream == "" {
		cfg.Stream = "manga_jobs"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = cfg.Stream + "_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "manga_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "api-1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	return &StreamsQueue{
		client:      client,
		stream:      cfg.Stream,
		dlqStream:   cfg.DLQStream,
		group:       cfg.Group,
		consumer:    cfg.Consumer,
		maxAttempts: cfg.MaxAttempts,
		block:       cfg.Block,
		logger:      cfg.Logger,
	}
}

func (q *StreamsQueue) Close() error {
	return q.client.Close()
}

func (q *StreamsQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *StreamsQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: messageValues(message),
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Consume(ctx context.Context, handler Handler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	if err := q.drainPending(ctx, handler); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    q.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				q.handle(ctx, item, handler)
			}
		}
	}
}

// drainPending handles entries this consumer read but never acknowledged,
// left behind by a crash or by a shutdown in the middle of a message.
func (q *StreamsQueue) drainPending(ctx context.Context, handler Handler) error {
	lastID := "0"
	for {
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, lastID},
			Count:    10,
			Block:    -1,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read pending entries: %w", err)
		}

		handled := 0
		for _, stream := range streams {
			for _, item := range stream.Messages {
				lastID = item.ID
				handled++
				if len(item.Values) == 0 {
					// the entry was deleted after being read; only the ack is missing
					q.report(q.logger, q.ackAndDelete(context.WithoutCancel(ctx), item.ID))
					continue
				}
				q.logger.Info().Str("stream_id", item.ID).Msg("redelivering pending message")
				q.handle(ctx, item, handler)
			}
		}
		if handled == 0 {
			return nil
		}
	}
}

func (q *StreamsQueue) handle(ctx context.Context, item redis.XMessage, handler Handler) {
	logger := q.logger.With().Str("stream_id", item.ID).Logger()
	// bookkeeping must land even when the handler was interrupted by shutdown
	bookkeeping := context.WithoutCancel(ctx)

	message, err := parseStreamMessage(item)
	if err != nil {
		logger.Error().Err(err).Msg("invalid stream message")
		q.report(logger, q.sendToDLQ(bookkeeping, domain.QueueMessage{}, item, err.Error()))
		q.report(logger, q.ackAndDelete(bookkeeping, item.ID))
		return
	}

	handleErr := handler(ctx, message)
	if handleErr == nil {
		q.report(logger, q.ackAndDelete(bookkeeping, item.ID))
		return
	}

	message.Attempt++
	logger = logger.With().Str("job_id", message.JobID).Int("attempt", message.Attempt).Logger()
	if message.Attempt >= q.maxAttempts {
		logger.Error().Err(handleErr).Msg("moving message to DLQ")
		q.report(logger, q.sendToDLQ(bookkeeping, message, item, handleErr.Error()))
		q.report(logger, q.ackAndDelete(bookkeeping, item.ID))
		return
	}

	logger.Warn().Err(handleErr).Msg("requeueing message")
	if requeueErr := q.Enqueue(bookkeeping, message); requeueErr != nil {
		q.report(logger, q.sendToDLQ(bookkeeping, message, item, fmt.Sprintf("requeue failed: %v", requeueErr)))
	}
	q.report(logger, q.ackAndDelete(bookkeeping, item.ID))
}

func (q *StreamsQueue) report(logger zerolog.Logger, err error) {
	if err != nil {
		logger.Warn().Err(err).Msg("stream bookkeeping failed")
	}
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (q *StreamsQueue) sendToDLQ(ctx context.Context, message domain.QueueMessage, item redis.XMessage, errorMessage string) error {
	values := messageValues(message)
	values["stream_id"] = item.ID
	values["error"] = errorMessage
	values["moved_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Result(); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	return nil
}

func messageValues(message domain.QueueMessage) map[string]any {
	return map[string]any{
		"job_id":       message.JobID,
		"owner_id":     message.OwnerID,
		"attempt":      message.Attempt,
		"requested_at": message.RequestedAt.UTC().Format(time.RFC3339Nano),
	}
}

func parseStreamMessage(item redis.XMessage) (domain.QueueMessage, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	jobID, err := getString("job_id")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	if jobID == "" {
		return domain.QueueMessage{}, errors.New("empty job_id")
	}
	ownerID, err := getString("owner_id")
	if err != nil {
		return domain.QueueMessage{}, err
	}

	attemptString, err := getString("attempt")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	attempt, err := strconv.Atoi(attemptString)
	if err != nil {
		return domain.QueueMessage{}, fmt.Errorf("invalid attempt: %w", err)
	}

	requestedAtString, err := getString("requested_at")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	requestedAt, err := time.Parse(time.RFC3339Nano, requestedAtString)
	if err != nil {
		return domain.QueueMessage{}, fmt.Errorf("invalid requested_at: %w", err)
	}

	return domain.QueueMessage{
		JobID:       jobID,
		OwnerID:     ownerID,
		Attempt:     attempt,
		RequestedAt: requestedAt,
	}, nil
}
