package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iago/manga-studio-back/internal/domain"
	"github.com/iago/manga-studio-back/internal/pipeline"
	"github.com/iago/manga-studio-back/internal/queue"
	"github.com/iago/manga-studio-back/internal/repository"
	"github.com/rs/zerolog"
)

// Executor runs the generation stages of a queued project.
type Executor interface {
	Execute(ctx context.Context, queued *domain.Project, observer pipeline.Observer) pipeline.Result
}

// Broadcaster fans progress events out to live subscribers.
type Broadcaster interface {
	Observer(jobID string) pipeline.Observer
	Close(jobID string)
}

type ProcessorConfig struct {
	RestartDelay time.Duration
	Logger       zerolog.Logger
}

// Processor consumes queued projects and executes them.
type Processor struct {
	consumer     queue.Consumer
	projects     repository.ProjectsRepository
	executor     Executor
	broadcaster  Broadcaster
	restartDelay time.Duration
	logger       zerolog.Logger
}

func NewProcessor(
	consumer queue.Consumer,
	projects repository.ProjectsRepository,
	executor Executor,
	broadcaster Broadcaster,
	cfg ProcessorConfig,
) *Processor {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 2 * time.Second
	}
	return &Processor{
		consumer:     consumer,
		projects:     projects,
		executor:     executor,
		broadcaster:  broadcaster,
		restartDelay: cfg.RestartDelay,
		logger:       cfg.Logger,
	}
}

// Run re-enqueues the projects still queued in the store and then consumes
// until ctx is done. Records stranded by a crash or an interrupted shutdown
// are picked up again whatever the queue backend; duplicates are skipped by
// the queued-status guard.
func (p *Processor) Run(ctx context.Context, producer queue.Producer) {
	if producer != nil {
		if _, err := p.Recover(ctx, producer); err != nil {
			p.logger.Error().Err(err).Msg("recover queued projects failed")
		}
	}
	p.Start(ctx)
}

// Start consumes until ctx is done, restarting the consume loop after backend errors.
func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.processMessage)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.logger.Error().Err(err).Msg("worker consume loop error")

		timer := time.NewTimer(p.restartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Recover enqueues every project still queued, e.g. after a restart lost the
// in-process queue. Projects already picked up are skipped by the consumer.
func (p *Processor) Recover(ctx context.Context, producer queue.Producer) (int, error) {
	filter := repository.ProjectFilter{Status: domain.ProjectStatusQueued, Page: 1, PageSize: 100}
	enqueued := 0
	for {
		projects, total, err := p.projects.ListProjects(ctx, filter)
		if err != nil {
			return enqueued, fmt.Errorf("list queued projects: %w", err)
		}
		for _, project := range projects {
			message := domain.QueueMessage{JobID: project.ID, OwnerID: project.OwnerID, RequestedAt: project.CreatedAt}
			if err := producer.Enqueue(ctx, message); err != nil {
				return enqueued, fmt.Errorf("enqueue project %s: %w", project.ID, err)
			}
			enqueued++
		}
		if len(projects) == 0 || filter.Page*filter.PageSize >= total {
			break
		}
		filter.Page++
	}
	if enqueued > 0 {
		p.logger.Info().Int("projects", enqueued).Msg("re-enqueued queued projects")
	}
	return enqueued, nil
}

func (p *Processor) processMessage(ctx context.Context, message domain.QueueMessage) error {
	logger := p.logger.With().Str("job_id", message.JobID).Str("owner_id", message.OwnerID).Logger()

	project, err := p.projects.GetProject(ctx, message.JobID, message.OwnerID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn().Msg("queued project no longer exists")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load project %s: %w", message.JobID, err)
	}
	if project.Status != domain.ProjectStatusQueued {
		logger.Info().Str("status", string(project.Status)).Msg("skipping project that is not queued")
		return nil
	}

	var observer pipeline.Observer
	if p.broadcaster != nil {
		observer = p.broadcaster.Observer(project.ID)
		defer p.broadcaster.Close(project.ID)
	}

	// generation is paid for, so a failed run is never retried
	result := p.executor.Execute(ctx, project, observer)
	if !result.OK {
		logger.Warn().Str("stage", string(result.Stage)).Str("error", result.Error).Msg("project failed")
		return nil
	}
	logger.Info().Int("pages", len(result.Pages)).Msg("project processed")
	return nil
}
