package worker

import (
	"context"
	"time"

	"github.com/iago/manga-studio-back/internal/domain"
	"github.com/iago/manga-studio-back/internal/repository"
	"github.com/rs/zerolog"
)

type ReconcilerConfig struct {
	BufferSize  int
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      zerolog.Logger
}

// Reconciler retries saving complete projects whose final write failed.
type Reconciler struct {
	projects    repository.ProjectsRepository
	pending     chan *domain.Project
	maxAttempts int
	baseDelay   time.Duration
	logger      zerolog.Logger
}

func NewReconciler(projects repository.ProjectsRepository, cfg ReconcilerConfig) *Reconciler {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 128
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	return &Reconciler{
		projects:    projects,
		pending:     make(chan *domain.Project, cfg.BufferSize),
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		logger:      cfg.Logger,
	}
}

// Enqueue never blocks; when the buffer is full the project is logged and dropped.
func (r *Reconciler) Enqueue(project *domain.Project) {
	select {
	case r.pending <- project:
	default:
		r.logger.Error().Str("job_id", project.ID).Msg("reconciler buffer full, dropping project")
	}
}

func (r *Reconciler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case project := <-r.pending:
			r.reconcile(ctx, project)
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context, project *domain.Project) {
	logger := r.logger.With().Str("job_id", project.ID).Logger()
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		timer := time.NewTimer(time.Duration(attempt) * r.baseDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn().Msg("reconciler stopped before project was saved")
			return
		case <-timer.C:
		}

		project.UpdatedAt = time.Now().UTC()
		err := r.projects.UpdateProject(ctx, project)
		if err == nil {
			logger.Info().Int("attempt", attempt).Msg("project saved by reconciler")
			return
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("reconcile attempt failed")
	}
	logger.Error().Int("attempts", r.maxAttempts).Msg("giving up on saving project")
}
