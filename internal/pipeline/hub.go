package pipeline

import (
	"sync"

	"github.com/iago/manga-studio-back/internal/domain"
	"github.com/rs/zerolog"
)

// Hub broadcasts the progress events of running jobs to any number of
// subscribers. Late subscribers receive the events emitted so far. A
// subscriber whose buffer is full is disconnected instead of stalling the run.
type Hub struct {
	mu         sync.Mutex
	streams    map[string]*stream
	bufferSize int
	logger     zerolog.Logger
}

type stream struct {
	events      []domain.ProgressEvent
	subscribers map[int]chan domain.ProgressEvent
	nextID      int
	started     bool
}

func NewHub(bufferSize int, logger zerolog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		streams:    make(map[string]*stream),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Observer returns an Observer publishing to the stream of jobID.
func (h *Hub) Observer(jobID string) Observer {
	return ObserverFunc(func(event domain.ProgressEvent) {
		h.Publish(jobID, event)
	})
}

func (h *Hub) Publish(jobID string, event domain.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current := h.streamLocked(jobID)
	current.started = true
	current.events = append(current.events, event)
	for id, subscriber := range current.subscribers {
		select {
		case subscriber <- event:
		default:
			close(subscriber)
			delete(current.subscribers, id)
			h.logger.Warn().Str("job_id", jobID).Int("subscriber", id).Msg("dropping slow progress subscriber")
		}
	}
}

// Subscribe returns the events already emitted for jobID and a channel of the
// following ones. The channel is closed when the job stream is closed or the
// subscriber falls behind. cancel must be called once the caller is done.
func (h *Hub) Subscribe(jobID string) (replay []domain.ProgressEvent, events <-chan domain.ProgressEvent, cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current := h.streamLocked(jobID)
	id := current.nextID
	current.nextID++
	ch := make(chan domain.ProgressEvent, h.bufferSize)
	current.subscribers[id] = ch
	replay = append([]domain.ProgressEvent(nil), current.events...)

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			h.unsubscribe(jobID, current, id)
		})
	}
	return replay, ch, cancel
}

// Close ends the stream of jobID, closing every subscriber channel.
func (h *Hub) Close(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, ok := h.streams[jobID]
	if !ok {
		return
	}
	for id, subscriber := range current.subscribers {
		close(subscriber)
		delete(current.subscribers, id)
	}
	delete(h.streams, jobID)
}

func (h *Hub) unsubscribe(jobID string, owner *stream, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subscriber, ok := owner.subscribers[id]; ok {
		close(subscriber)
		delete(owner.subscribers, id)
	}
	// streams opened by a subscriber for a job that never started are discarded
	if current, ok := h.streams[jobID]; ok && current == owner && !owner.started && len(owner.subscribers) == 0 {
		delete(h.streams, jobID)
	}
}

func (h *Hub) streamLocked(jobID string) *stream {
	current, ok := h.streams[jobID]
	if !ok {
		current = &stream{subscribers: make(map[int]chan domain.ProgressEvent)}
		h.streams[jobID] = current
	}
	return current
}
