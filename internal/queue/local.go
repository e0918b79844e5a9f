package queue

import (
	"context"
	"sync"
	"time"

	"github.com/iago/manga-studio-back/internal/domain"
	"github.com/rs/zerolog"
)

type LocalConfig struct {
	BufferSize  int
	MaxAttempts int
	RetryDelay  time.Duration
	Logger      zerolog.Logger
}

// LocalQueue is an in-process queue used when Redis is not configured.
// Messages do not survive a restart.
type LocalQueue struct {
	ch          chan domain.QueueMessage
	maxAttempts int
	retryDelay  time.Duration
	logger      zerolog.Logger

	dlqMu sync.Mutex
	dlq   []domain.QueueMessage
}

func NewLocalQueue(cfg LocalConfig) *LocalQueue {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 512
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &LocalQueue{
		ch:          make(chan domain.QueueMessage, cfg.BufferSize),
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		logger:      cfg.Logger,
		dlq:         make([]domain.QueueMessage, 0),
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- message:
		return nil
	}
}

func (q *LocalQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-q.ch:
			err := handler(ctx, message)
			if err == nil {
				continue
			}

			message.Attempt++
			if message.Attempt >= q.maxAttempts {
				q.dlqMu.Lock()
				q.dlq = append(q.dlq, message)
				q.dlqMu.Unlock()
				q.logger.Error().Err(err).Str("job_id", message.JobID).Int("attempt", message.Attempt).Msg("local queue moved message to DLQ")
				continue
			}

			q.logger.Warn().Err(err).Str("job_id", message.JobID).Int("attempt", message.Attempt).Msg("local queue retrying message")
			delay := time.Duration(message.Attempt) * q.retryDelay
			go func(retryMessage domain.QueueMessage) {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
				case <-timer.C:
					_ = q.Enqueue(ctx, retryMessage)
				}
			}(message)
		}
	}
}

func (q *LocalQueue) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}

func (q *LocalQueue) Len() int {
	return len(q.ch)
}
