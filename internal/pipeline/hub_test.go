package pipeline

import (
	"testing"

	"github.com/iago/manga-studio-back/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(id string, stage domain.Stage) domain.ProgressEvent {
	return domain.ProgressEvent{ID: id, Stage: stage}
}

func TestHubReplaysEarlierEvents(t *testing.T) {
	hub := NewHub(4, zerolog.Nop())
	hub.Publish("job", event("1", domain.StageValidation))
	hub.Publish("job", event("2", domain.StageProject))

	replay, events, cancel := hub.Subscribe("job")
	defer cancel()
	require.Len(t, replay, 2)
	assert.Equal(t, "1", replay[0].ID)

	hub.Observer("job").OnEvent(event("3", domain.StagePlan))
	got := <-events
	assert.Equal(t, "3", got.ID)
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	hub := NewHub(4, zerolog.Nop())
	hub.Publish("job", event("1", domain.StageValidation))
	_, events, cancel := hub.Subscribe("job")
	defer cancel()

	hub.Close("job")
	_, open := <-events
	assert.False(t, open)

	replay, _, cancelLate := hub.Subscribe("job")
	defer cancelLate()
	assert.Empty(t, replay)
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(1, zerolog.Nop())
	_, slow, cancelSlow := hub.Subscribe("job")
	defer cancelSlow()

	hub.Publish("job", event("1", domain.StagePlan))
	hub.Publish("job", event("2", domain.StagePlan))

	first, open := <-slow
	require.True(t, open)
	assert.Equal(t, "1", first.ID)
	_, open = <-slow
	assert.False(t, open)

	replay, _, cancel := hub.Subscribe("job")
	defer cancel()
	assert.Len(t, replay, 2)
}

func TestHubForgetsUnstartedStreams(t *testing.T) {
	hub := NewHub(0, zerolog.Nop())
	replay, _, cancel := hub.Subscribe("unknown")
	assert.Empty(t, replay)
	cancel()
	cancel()

	hub.mu.Lock()
	_, exists := hub.streams["unknown"]
	hub.mu.Unlock()
	assert.False(t, exists)
}
