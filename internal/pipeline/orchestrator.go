package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iago/manga-studio-back/internal/domain"
	"github.com/iago/manga-studio-back/internal/policy"
	"github.com/iago/manga-studio-back/internal/repository"
	"github.com/iago/manga-studio-back/internal/storage"
	"github.com/rs/zerolog"
)

type PlanGenerator interface {
	GeneratePlan(ctx context.Context, prompt string, totalPages int) (domain.Plan, error)
}

type AssetGenerator interface {
	GenerateCharacterImage(ctx context.Context, ownerID, name, description string) domain.GeneratedAsset
	GeneratePageImage(ctx context.Context, ownerID, prompt string, referenceURLs []string) domain.GeneratedAsset
}

type AssetStore interface {
	Persist(ctx context.Context, sourceURL, destinationPath string) (string, error)
}

// Reconciler retries writing the final state of a project whose generation
// succeeded but whose record could not be saved.
type Reconciler interface {
	Enqueue(project *domain.Project)
}

type Request struct {
	OwnerID    string `json:"owner_id"`
	Prompt     string `json:"prompt"`
	TotalPages int    `json:"total_pages"`
}

type Dependencies struct {
	Projects repository.ProjectsRepository
	Planner  PlanGenerator
	Assets   AssetGenerator
	Store    AssetStore
}

type Config struct {
	// MaxPages caps the requested page count when positive.
	MaxPages   int
	Reconciler Reconciler
	Now        func() time.Time
	NewID      func() string
	Logger     zerolog.Logger
}

// Orchestrator runs the generation pipeline: validation, record creation,
// plan, characters, pages and finalization, strictly in that order.
type Orchestrator struct {
	projects   repository.ProjectsRepository
	planner    PlanGenerator
	assets     AssetGenerator
	store      AssetStore
	maxPages   int
	reconciler Reconciler
	now        func() time.Time
	newID      func() string
	logger     zerolog.Logger
}

func NewOrchestrator(deps Dependencies, config Config) *Orchestrator {
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	if config.NewID == nil {
		config.NewID = uuid.NewString
	}
	return &Orchestrator{
		projects:   deps.Projects,
		planner:    deps.Planner,
		assets:     deps.Assets,
		store:      deps.Store,
		maxPages:   config.MaxPages,
		reconciler: config.Reconciler,
		now:        config.Now,
		newID:      config.NewID,
		logger:     config.Logger,
	}
}

// Run validates the request, creates its record and executes the whole pipeline.
func (o *Orchestrator) Run(ctx context.Context, request Request, observer Observer) Result {
	project, result := o.Prepare(ctx, request, observer)
	if !result.OK {
		return result
	}
	return o.Execute(ctx, project, observer)
}

// Prepare validates the request and persists a queued record. The returned
// project carries the log emitted so far and is the input of Execute.
func (o *Orchestrator) Prepare(ctx context.Context, request Request, observer Observer) (project *domain.Project, result Result) {
	state := o.newRunState(nil, observer)
	defer state.recoverPanic(ctx, &result)

	prompt := strings.TrimSpace(request.Prompt)
	if prompt == "" {
		return nil, state.fail(ctx, domain.StageValidation, "Prompt cannot be empty.", errors.New("Prompt cannot be empty."))
	}
	if request.TotalPages < 1 {
		return nil, state.fail(ctx, domain.StageValidation, "Page count must be a positive integer.", errors.New("totalPages must be a positive integer."))
	}
	if o.maxPages > 0 && request.TotalPages > o.maxPages {
		message := fmt.Sprintf("Page count must be at most %d.", o.maxPages)
		return nil, state.fail(ctx, domain.StageValidation, message, errors.New(message))
	}
	if strings.TrimSpace(request.OwnerID) == "" {
		return nil, state.fail(ctx, domain.StageValidation, "Owner is required.", errors.New("owner is required"))
	}
	if err := policy.EnforcePromptPolicy(prompt); err != nil {
		return nil, state.fail(ctx, domain.StageValidation, err.Error(), err)
	}
	state.emit(domain.StageValidation, "Request accepted.")

	now := o.now()
	project = &domain.Project{
		ID:         o.newID(),
		OwnerID:    request.OwnerID,
		Prompt:     prompt,
		Title:      titleFromPrompt(prompt),
		TotalPages: request.TotalPages,
		Status:     domain.ProjectStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	created := state.newEvent(domain.StageProject, "Project created.")
	project.Log = append(state.snapshot(), created)
	if err := o.projects.CreateProject(ctx, project); err != nil {
		o.logger.Error().Err(err).Str("owner_id", request.OwnerID).Msg("create project failed")
		return nil, state.fail(ctx, domain.StageProject, "Failed to create project: "+err.Error(), err)
	}
	state.project = project
	state.publish(created)

	o.logger.Info().
		Str("job_id", project.ID).
		Str("owner_id", project.OwnerID).
		Int("total_pages", project.TotalPages).
		Str("prompt", policy.LogExcerpt(prompt, 80)).
		Msg("project queued")

	return project.Clone(), Result{OK: true, JobID: project.ID, Log: state.snapshot()}
}

// Execute runs plan, characters, pages and finalization for a queued project.
func (o *Orchestrator) Execute(ctx context.Context, queued *domain.Project, observer Observer) (result Result) {
	project := queued.Clone()
	state := o.newRunState(project, observer)
	defer state.recoverPanic(ctx, &result)

	if project.Status != domain.ProjectStatusQueued {
		err := fmt.Errorf("project %s is %s, not queued", project.ID, project.Status)
		return Result{OK: false, JobID: project.ID, Stage: domain.StageProject, Error: err.Error(), Log: state.snapshot(), err: err}
	}
	logger := o.logger.With().Str("job_id", project.ID).Str("owner_id", project.OwnerID).Logger()
	started := o.now()

	state.emit(domain.StagePlan, "Generating manga plan...")
	plan, err := o.planner.GeneratePlan(ctx, project.Prompt, project.TotalPages)
	if err != nil {
		logger.Warn().Err(err).Msg("plan generation failed")
		return state.fail(ctx, domain.StagePlan, "Failed to generate plan: "+err.Error(), err)
	}
	if len(plan.Pages) != project.TotalPages {
		logger.Warn().Int("requested_pages", project.TotalPages).Int("planned_pages", len(plan.Pages)).Msg("plan page count differs from request")
	}

	project.Plan = &plan
	project.Title = plan.Title
	project.Status = domain.ProjectStatusProcessing
	ready := state.newEvent(domain.StagePlan, fmt.Sprintf("Plan ready: \"%s\" with %d characters.", plan.Title, len(plan.Characters)))
	project.Log = append(state.snapshot(), ready)
	project.UpdatedAt = o.now()
	if err := o.projects.UpdateProject(ctx, project); err != nil {
		logger.Error().Err(err).Msg("mark project processing failed")
		return state.fail(ctx, domain.StageProject, "Failed to update project: "+err.Error(), err)
	}
	state.publish(ready)

	characters, failed, ok := o.generateCharacters(ctx, state, plan)
	if !ok {
		return failed
	}
	pages, failed, ok := o.generatePages(ctx, state, plan, characters, logger)
	if !ok {
		return failed
	}

	pageURLs := make([]string, 0, len(pages))
	for _, page := range pages {
		pageURLs = append(pageURLs, page.ImageURL)
	}
	coverURL := ""
	if len(pageURLs) > 0 {
		coverURL = pageURLs[0]
	}

	project.Status = domain.ProjectStatusComplete
	project.Characters = characters
	project.Pages = pages
	project.CoverURL = coverURL
	o.finalize(ctx, state, logger)

	logger.Info().
		Int("characters", len(characters)).
		Int("pages", len(pages)).
		Dur("elapsed", o.now().Sub(started)).
		Msg("project complete")

	return Result{
		OK:         true,
		JobID:      project.ID,
		Title:      plan.Title,
		Plan:       project.Plan,
		Characters: characters,
		Pages:      pages,
		PageURLs:   pageURLs,
		CoverURL:   coverURL,
		Log:        state.snapshot(),
	}
}

func (o *Orchestrator) generateCharacters(ctx context.Context, state *runState, plan domain.Plan) ([]domain.CharacterAsset, Result, bool) {
	project := state.project
	sorted := plan.SortedCharacters()
	characters := make([]domain.CharacterAsset, 0, len(sorted))

	// each character is stored right after generation, so its locator exists
	// before the next one starts; the counter is the position, not the index
	for i, character := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, state.fail(ctx, domain.StageCharacters, "Character generation failed: "+err.Error(), err), false
		}
		state.emit(domain.StageCharacters, fmt.Sprintf("Generating character %d/%d: %s", i+1, len(sorted), character.Name))

		generated := o.assets.GenerateCharacterImage(ctx, project.OwnerID, character.Name, character.Description)
		if !generated.OK() {
			err := generated.Err
			if err == nil {
				err = fmt.Errorf("Failed to generate character image for %s.", character.Name)
			}
			return nil, state.fail(ctx, domain.StageCharacters, "Character generation failed: "+err.Error(), err), false
		}

		locator, err := o.store.Persist(ctx, generated.SourceURL, storage.CharacterPath(project.OwnerID, project.ID, character.Index))
		if err != nil {
			return nil, state.fail(ctx, domain.StageStorage, fmt.Sprintf("Failed to store character %s: %v", character.Name, err), err), false
		}

		characters = append(characters, domain.CharacterAsset{Character: character, ImageURL: locator})
		state.emit(domain.StageStorage, "Character ready: "+character.Name)
		project.Characters = characters
		state.checkpoint(ctx)
	}
	return characters, Result{}, true
}

func (o *Orchestrator) generatePages(
	ctx context.Context,
	state *runState,
	plan domain.Plan,
	characters []domain.CharacterAsset,
	logger zerolog.Logger,
) ([]domain.PageAsset, Result, bool) {
	project := state.project
	byIndex := make(map[int]domain.CharacterAsset, len(characters))
	for _, character := range characters {
		byIndex[character.Index] = character
	}

	sorted := plan.SortedPages()
	pages := make([]domain.PageAsset, 0, len(sorted))
	for i, page := range sorted {
		pageIndex := page.Index
		if err := ctx.Err(); err != nil {
			return nil, state.fail(ctx, domain.StagePages, fmt.Sprintf("Page generation failed on page %d: %v", pageIndex+1, err), err, withPageIndex(pageIndex)), false
		}

		referenced := page.CharacterIndexes()
		references := make([]string, 0, len(referenced))
		onPage := make([]domain.Character, 0, len(referenced))
		for _, index := range referenced {
			character, ok := byIndex[index]
			if !ok {
				logger.Warn().Int("page_index", pageIndex).Int("character_index", index).Msg("panel references unknown character")
				continue
			}
			references = append(references, character.ImageURL)
			onPage = append(onPage, character.Character)
		}

		state.emit(domain.StagePages, fmt.Sprintf("Generating page %d/%d", i+1, len(sorted)), withPageIndex(pageIndex))
		generated := o.assets.GeneratePageImage(ctx, project.OwnerID, BuildPagePrompt(plan.Title, page, onPage), references)
		if !generated.OK() {
			err := generated.Err
			if err == nil {
				err = fmt.Errorf("Failed to generate image for page %d.", pageIndex+1)
			}
			return nil, state.fail(ctx, domain.StagePages, fmt.Sprintf("Page generation failed on page %d: %v", pageIndex+1, err), err, withPageIndex(pageIndex)), false
		}

		locator, err := o.store.Persist(ctx, generated.SourceURL, storage.PagePath(project.OwnerID, project.ID, pageIndex))
		if err != nil {
			return nil, state.fail(ctx, domain.StageStorage, fmt.Sprintf("Failed to store page %d: %v", pageIndex+1, err), err, withPageIndex(pageIndex)), false
		}

		pages = append(pages, domain.PageAsset{
			Index:      pageIndex,
			Characters: referenced,
			Panels:     page.SortedPanels(),
			ImageURL:   locator,
		})
		state.emit(domain.StageStorage, fmt.Sprintf("Page %d ready.", pageIndex+1), withPageIndex(pageIndex), withPageImage(locator))
		project.Pages = pages
		state.checkpoint(ctx)
	}
	return pages, Result{}, true
}

// finalize writes the complete record. A failure is reported as a warning
// event and handed to the reconciler; the run still succeeds.
func (o *Orchestrator) finalize(ctx context.Context, state *runState, logger zerolog.Logger) {
	project := state.project
	done := state.newEvent(domain.StageDone, "Manga generation complete.")
	project.Log = append(state.snapshot(), done)
	project.UpdatedAt = o.now()

	err := o.projects.UpdateProject(context.WithoutCancel(ctx), project)
	if err == nil {
		state.publish(done)
		return
	}

	logger.Error().Err(err).Msg("finalize project failed")
	state.emit(domain.StageStorage, "Saving results failed; will retry.")
	state.emit(domain.StageDone, "Manga generation complete.")
	project.Log = state.snapshot()
	if o.reconciler != nil {
		o.reconciler.Enqueue(project.Clone())
	}
}

func titleFromPrompt(prompt string) string {
	title := strings.Join(strings.Fields(prompt), " ")
	runes := []rune(title)
	if len(runes) > 80 {
		return string(runes[:80])
	}
	return title
}

type runState struct {
	o        *Orchestrator
	project  *domain.Project
	observer Observer
	log      []domain.ProgressEvent
}

type eventOption func(*domain.ProgressEvent)

func withPageIndex(index int) eventOption {
	return func(event *domain.ProgressEvent) {
		event.PageIndex = &index
	}
}

func withPageImage(url string) eventOption {
	return func(event *domain.ProgressEvent) {
		event.PageImageURL = url
	}
}

func (o *Orchestrator) newRunState(project *domain.Project, observer Observer) *runState {
	state := &runState{o: o, project: project, observer: observer}
	if project != nil {
		state.log = append([]domain.ProgressEvent(nil), project.Log...)
	}
	return state
}

func (s *runState) newEvent(stage domain.Stage, message string, options ...eventOption) domain.ProgressEvent {
	now := s.o.now()
	event := domain.ProgressEvent{
		ID:        fmt.Sprintf("%d-%d", now.UnixMilli(), len(s.log)+1),
		Stage:     stage,
		Message:   message,
		CreatedAt: now,
	}
	for _, option := range options {
		option(&event)
	}
	return event
}

func (s *runState) publish(event domain.ProgressEvent) {
	s.log = append(s.log, event)
	if s.observer != nil {
		s.observer.OnEvent(event)
	}
}

func (s *runState) emit(stage domain.Stage, message string, options ...eventOption) {
	s.publish(s.newEvent(stage, message, options...))
}

func (s *runState) snapshot() []domain.ProgressEvent {
	return append([]domain.ProgressEvent(nil), s.log...)
}

// checkpoint saves partial progress of a processing project. Failures are not fatal.
func (s *runState) checkpoint(ctx context.Context) {
	s.project.Log = s.snapshot()
	s.project.UpdatedAt = s.o.now()
	if err := s.o.projects.UpdateProject(ctx, s.project); err != nil {
		s.o.logger.Warn().Err(err).Str("job_id", s.project.ID).Msg("checkpoint project failed")
	}
}

func (s *runState) fail(ctx context.Context, stage domain.Stage, message string, err error, options ...eventOption) Result {
	s.emit(stage, message, options...)

	result := Result{OK: false, Stage: stage, Error: err.Error(), Log: s.snapshot(), err: err}
	if s.project == nil {
		return result
	}
	result.JobID = s.project.ID

	s.project.Status = domain.ProjectStatusFailed
	s.project.FailedStage = stage
	s.project.ErrorMessage = err.Error()
	s.project.Log = s.snapshot()
	s.project.UpdatedAt = s.o.now()
	if updateErr := s.o.projects.UpdateProject(context.WithoutCancel(ctx), s.project); updateErr != nil {
		s.o.logger.Warn().Err(updateErr).Str("job_id", s.project.ID).Msg("mark project failed")
	}
	return result
}

func (s *runState) recoverPanic(ctx context.Context, result *Result) {
	recovered := recover()
	if recovered == nil {
		return
	}
	s.o.logger.Error().
		Interface("panic", recovered).
		Bytes("stack", debug.Stack()).
		Msg("pipeline panic")
	err := fmt.Errorf("unexpected error: %v", recovered)
	*result = s.fail(ctx, domain.StageUnexpected, err.Error(), err)
}
