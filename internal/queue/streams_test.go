package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/iago/manga-studio-back/internal/domain"
	"github.com/redis/go-redis/v9"
)

func newTestStreamsQueue(t *testing.T) (*StreamsQueue, *redis.Client) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := newStreamsQueue(client, StreamsConfig{Block: 20 * time.Millisecond})
	if err := q.ensureGroup(context.Background()); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	return q, client
}

func enqueueTestMessage(t *testing.T, q *StreamsQueue, jobID string) {
	t.Helper()
	message := domain.QueueMessage{JobID: jobID, OwnerID: "owner-1", RequestedAt: time.Now().UTC()}
	if err := q.Enqueue(context.Background(), message); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func pendingEntries(t *testing.T, q *StreamsQueue, client *redis.Client) int {
	t.Helper()
	streams, err := client.XReadGroup(context.Background(), &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, "0"},
		Block:    -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0
	}
	if err != nil {
		t.Fatalf("read pending entries: %v", err)
	}
	count := 0
	for _, stream := range streams {
		count += len(stream.Messages)
	}
	return count
}

func TestStreamsQueueRequeuesMessageInterruptedByShutdown(t *testing.T) {
	q, client := newTestStreamsQueue(t)
	enqueueTestMessage(t, q, "job-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := q.Consume(ctx, func(handlerCtx context.Context, _ domain.QueueMessage) error {
		cancel()
		return handlerCtx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	entries, err := client.XRange(context.Background(), q.stream, "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected the interrupted message to be requeued once, got %d entries", len(entries))
	}
	requeued, err := parseStreamMessage(entries[0])
	if err != nil {
		t.Fatalf("parse requeued message: %v", err)
	}
	if requeued.JobID != "job-1" || requeued.Attempt != 1 {
		t.Fatalf("unexpected requeued message: %+v", requeued)
	}

	if pending := pendingEntries(t, q, client); pending != 0 {
		t.Fatalf("expected no pending entries, got %d", pending)
	}
}

func TestStreamsQueueRedeliversPendingEntriesOnStart(t *testing.T) {
	q, client := newTestStreamsQueue(t)
	enqueueTestMessage(t, q, "job-1")

	// read without acknowledging, as a consumer that crashed mid-message would
	read, err := client.XReadGroup(context.Background(), &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	if err != nil || len(read) != 1 || len(read[0].Messages) != 1 {
		t.Fatalf("unexpected read: %v %v", read, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var handled []string
	err = q.Consume(ctx, func(_ context.Context, message domain.QueueMessage) error {
		handled = append(handled, message.JobID)
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(handled) != 1 || handled[0] != "job-1" {
		t.Fatalf("expected pending job-1 to be handled, got %v", handled)
	}

	if pending := pendingEntries(t, q, client); pending != 0 {
		t.Fatalf("expected no pending entries, got %d", pending)
	}
}
