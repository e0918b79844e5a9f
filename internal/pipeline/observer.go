package pipeline

import (
	"context"

	"github.com/iago/manga-studio-back/internal/domain"
)

// Observer receives progress events in emission order. OnEvent is called
// synchronously from the run; implementations that block slow the run down.
type Observer interface {
	OnEvent(event domain.ProgressEvent)
}

type ObserverFunc func(event domain.ProgressEvent)

func (f ObserverFunc) OnEvent(event domain.ProgressEvent) {
	f(event)
}

type multiObserver []Observer

func (m multiObserver) OnEvent(event domain.ProgressEvent) {
	for _, observer := range m {
		observer.OnEvent(event)
	}
}

// Multi fans events out to every non-nil observer.
func Multi(observers ...Observer) Observer {
	filtered := make(multiObserver, 0, len(observers))
	for _, observer := range observers {
		if observer != nil {
			filtered = append(filtered, observer)
		}
	}
	return filtered
}

// ChannelObserver delivers events on ch, blocking the run until the consumer
// receives each one or ctx is done.
func ChannelObserver(ctx context.Context, ch chan<- domain.ProgressEvent) Observer {
	return ObserverFunc(func(event domain.ProgressEvent) {
		select {
		case ch <- event:
		case <-ctx.Done():
		}
	})
}
