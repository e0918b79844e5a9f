package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/iago/manga-studio-back/internal/domain"
)

// sseWriter writes server-sent events and flushes after each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) event(id, name string, data any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if id != "" {
		if _, err := fmt.Fprintf(s.w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, encoded); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// progressStream forwards each progress event once, in log order.
type progressStream struct {
	sse  *sseWriter
	sent map[string]struct{}
}

func (p *progressStream) send(event domain.ProgressEvent) error {
	if _, ok := p.sent[event.ID]; ok {
		return nil
	}
	p.sent[event.ID] = struct{}{}
	return p.sse.event(event.ID, "progress", event)
}

func (p *progressStream) sendAll(events []domain.ProgressEvent) error {
	for _, event := range events {
		if err := p.send(event); err != nil {
			return err
		}
	}
	return nil
}

// skipThrough marks events up to and including lastEventID as delivered so a
// reconnecting client resumes after it.
func (p *progressStream) skipThrough(events []domain.ProgressEvent, lastEventID string) {
	if lastEventID == "" {
		return
	}
	for i, event := range events {
		if event.ID != lastEventID {
			continue
		}
		for _, seen := range events[:i+1] {
			p.sent[seen.ID] = struct{}{}
		}
		return
	}
}

func (p *progressStream) end(project *domain.Project) error {
	payload := map[string]any{
		"job_id": project.ID,
		"status": project.Status,
	}
	if project.CoverURL != "" {
		payload["cover_url"] = project.CoverURL
	}
	if project.Status == domain.ProjectStatusFailed {
		payload["stage"] = project.FailedStage
		payload["error"] = project.ErrorMessage
	}
	return p.sse.event("", "end", payload)
}

// ProjectEvents streams the progress of a project. Persisted events are
// replayed first; live events come from the in-process hub, and the record is
// re-read periodically until it reaches a terminal status.
func (api *API) ProjectEvents(w http.ResponseWriter, r *http.Request) {
	project, ok := api.loadProject(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	logger := api.logger.With().Str("job_id", project.ID).Logger()

	var live <-chan domain.ProgressEvent
	var replay []domain.ProgressEvent
	if api.events != nil && !project.Status.Terminal() {
		var cancel func()
		replay, live, cancel = api.events.Subscribe(project.ID)
		defer cancel()
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "streaming_unsupported", err.Error())
		return
	}
	stream := &progressStream{sse: sse, sent: make(map[string]struct{})}
	stream.skipThrough(append(append([]domain.ProgressEvent(nil), project.Log...), replay...), r.Header.Get("Last-Event-ID"))

	if err := stream.sendAll(project.Log); err != nil {
		return
	}
	if err := stream.sendAll(replay); err != nil {
		return
	}
	if project.Status.Terminal() {
		_ = stream.end(project)
		return
	}

	poll := time.NewTicker(api.pollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(api.heartbeatInterval)
	defer heartbeat.Stop()

	// refresh re-reads the record and reports whether the stream is finished.
	refresh := func() bool {
		current, err := api.projects.GetProject(ctx, project.ID, project.OwnerID)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn().Err(err).Msg("refresh project for event stream failed")
			}
			return ctx.Err() != nil
		}
		if err := stream.sendAll(current.Log); err != nil {
			return true
		}
		if current.Status.Terminal() {
			_ = stream.end(current)
			return true
		}
		return false
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-live:
			if !open {
				live = nil
				if refresh() {
					return
				}
				continue
			}
			if err := stream.send(event); err != nil {
				return
			}
		case <-poll.C:
			if refresh() {
				return
			}
		case <-heartbeat.C:
			if err := sse.comment("keep-alive"); err != nil {
				return
			}
		}
	}
}
