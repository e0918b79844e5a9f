package queue

import (
	"context"

	"github.com/iago/manga-studio-back/internal/domain"
)

// Producer hands queued projects to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.QueueMessage) error
}

// Handler executes one message. A returned error asks the backend to retry it.
type Handler func(context.Context, domain.QueueMessage) error

// Consumer receives queued projects and executes handlers.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
}

const DefaultMaxAttempts = 3
