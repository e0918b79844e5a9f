package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/iago/manga-studio-back/internal/cache"
	"github.com/iago/manga-studio-back/internal/credits"
	"github.com/iago/manga-studio-back/internal/domain"
	"github.com/iago/manga-studio-back/internal/http/middleware"
	"github.com/iago/manga-studio-back/internal/pipeline"
	"github.com/iago/manga-studio-back/internal/repository"
)

type createProjectRequest struct {
	Prompt     string `json:"prompt" validate:"required,max=4000"`
	TotalPages int    `json:"total_pages" validate:"required,gte=1"`
}

type acceptedResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
	EventsURL string `json:"events_url"`
}

func accepted(jobID string) acceptedResponse {
	return acceptedResponse{
		JobID:     jobID,
		Status:    string(domain.ProjectStatusQueued),
		StatusURL: "/v1/projects/" + jobID,
		EventsURL: "/v1/projects/" + jobID + "/events",
	}
}

func (api *API) CreateProject(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var request createProjectRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if err := api.validate.Struct(request); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "validation_failed", validationMessage(err))
		return
	}

	// the key is reserved before any work so concurrent retries cannot create
	// a second project; failures release it for the next attempt
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	signature := cache.BuildSignature(owner, request.Prompt, strconv.Itoa(request.TotalPages))
	reservation := ""
	if idempotencyKey != "" {
		reservation = cache.BuildSignature(owner, idempotencyKey)
		reserved := api.idempotency.Add(reservation, idempotencyEntry{
			Signature: signature,
			OwnerID:   owner,
			CreatedAt: time.Now().UTC(),
		})
		if !reserved {
			api.replayIdempotent(w, r, reservation, signature)
			return
		}
	}
	release := func() {
		if reservation != "" {
			api.idempotency.Delete(reservation)
		}
	}

	if !api.hasCredits(r.Context(), owner) {
		release()
		writeError(w, r, http.StatusPaymentRequired, "insufficient_credits", "Not enough credits. current credits: 0")
		return
	}

	project, result := api.pipeline.Prepare(r.Context(), pipeline.Request{
		OwnerID:    owner,
		Prompt:     request.Prompt,
		TotalPages: request.TotalPages,
	}, nil)
	if !result.OK {
		release()
		if result.Stage == domain.StageValidation {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":      map[string]string{"code": "validation_failed", "message": result.Error},
				"stage":      result.Stage,
				"log":        result.Log,
				"request_id": middleware.GetRequestID(r.Context()),
			})
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to create project")
		return
	}

	message := domain.QueueMessage{JobID: project.ID, OwnerID: owner, RequestedAt: time.Now().UTC()}
	if err := api.queue.Enqueue(r.Context(), message); err != nil {
		api.logger.Error().Err(err).Str("job_id", project.ID).Msg("enqueue project failed")
		api.abandon(r.Context(), project, err)
		release()
		writeError(w, r, http.StatusServiceUnavailable, "queue_unavailable", "failed to enqueue project")
		return
	}

	if reservation != "" {
		api.idempotency.Set(reservation, idempotencyEntry{
			Signature: signature,
			OwnerID:   owner,
			JobID:     project.ID,
			CreatedAt: time.Now().UTC(),
		})
	}

	w.Header().Set("Location", "/v1/projects/"+project.ID)
	w.Header().Set("Retry-After", "2")
	writeJSON(w, http.StatusAccepted, accepted(project.ID))
}

// replayIdempotent answers a request whose Idempotency-Key is already taken.
func (api *API) replayIdempotent(w http.ResponseWriter, r *http.Request, reservation, signature string) {
	entry, exists := api.idempotency.Get(reservation)
	switch {
	case !exists:
		// the reservation was released between Add and Get
		writeError(w, r, http.StatusConflict, "idempotency_in_progress", "request with this Idempotency-Key is being retried, try again")
	case entry.Signature != signature:
		writeError(w, r, http.StatusConflict, "idempotency_conflict", "Idempotency-Key already used with different payload")
	case entry.JobID == "":
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusConflict, "idempotency_in_progress", "request with this Idempotency-Key is still being processed")
	default:
		w.Header().Set("Idempotent-Replayed", "true")
		w.Header().Set("Retry-After", "2")
		writeJSON(w, http.StatusAccepted, accepted(entry.JobID))
	}
}

func (api *API) ListProjects(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := repository.ProjectFilter{
		OwnerID:  ownerID(r),
		Page:     queryInt(query.Get("page"), 1),
		PageSize: queryInt(query.Get("page_size"), 20),
	}
	if status := strings.TrimSpace(query.Get("status")); status != "" {
		switch domain.ProjectStatus(status) {
		case domain.ProjectStatusQueued, domain.ProjectStatusProcessing, domain.ProjectStatusComplete, domain.ProjectStatusFailed:
			filter.Status = domain.ProjectStatus(status)
		default:
			writeError(w, r, http.StatusBadRequest, "invalid_request", "unknown status filter")
			return
		}
	}
	if filter.OwnerID == "" {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	projects, total, err := api.projects.ListProjects(r.Context(), filter)
	if err != nil {
		api.logger.Error().Err(err).Msg("list projects failed")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list projects")
		return
	}

	items := make([]projectSummary, 0, len(projects))
	for _, project := range projects {
		items = append(items, summarize(project))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":     items,
		"total":     total,
		"page":      filter.Page,
		"page_size": filter.PageSize,
	})
}

func (api *API) GetProject(w http.ResponseWriter, r *http.Request) {
	project, ok := api.loadProject(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (api *API) DeleteProject(w http.ResponseWriter, r *http.Request) {
	project, ok := api.loadProject(w, r)
	if !ok {
		return
	}
	if !project.Status.Terminal() {
		writeError(w, r, http.StatusConflict, "project_running", "project is still being generated")
		return
	}

	if api.assets != nil {
		removed, err := api.assets.DeleteProject(r.Context(), project.OwnerID, project.ID)
		if err != nil {
			api.logger.Error().Err(err).Str("job_id", project.ID).Msg("delete project assets failed")
			writeError(w, r, http.StatusBadGateway, "storage_error", "failed to delete project assets")
			return
		}
		api.logger.Info().Str("job_id", project.ID).Int("objects", removed).Msg("project assets deleted")
	}
	if err := api.projects.DeleteProject(r.Context(), project.ID, project.OwnerID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		api.logger.Error().Err(err).Str("job_id", project.ID).Msg("delete project failed")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to delete project")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *API) Credits(w http.ResponseWriter, r *http.Request) {
	balance, err := api.credits.Balance(r.Context(), ownerID(r))
	if errors.Is(err, credits.ErrUnknownOwner) {
		balance, err = 0, nil
	}
	if err != nil {
		api.logger.Error().Err(err).Msg("read credits failed")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to read credits")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"credits": balance})
}

func (api *API) loadProject(w http.ResponseWriter, r *http.Request) (*domain.Project, bool) {
	projectID := strings.TrimSpace(chi.URLParam(r, "id"))
	if projectID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "project id is required")
		return nil, false
	}
	project, err := api.projects.GetProject(r.Context(), projectID, ownerID(r))
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "not_found", "project not found")
		return nil, false
	}
	if err != nil {
		api.logger.Error().Err(err).Str("job_id", projectID).Msg("load project failed")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load project")
		return nil, false
	}
	return project, true
}

// hasCredits rejects owners with an empty balance up front. Lookup errors are
// left to the per-image check.
func (api *API) hasCredits(ctx context.Context, owner string) bool {
	if api.credits == nil {
		return true
	}
	balance, err := api.credits.Balance(ctx, owner)
	if errors.Is(err, credits.ErrUnknownOwner) {
		return false
	}
	if err != nil {
		api.logger.Warn().Err(err).Str("owner_id", owner).Msg("credit pre-check failed")
		return true
	}
	return balance > 0
}

// abandon marks a record that could not be queued as failed so it is not
// picked up later.
func (api *API) abandon(ctx context.Context, project *domain.Project, cause error) {
	project.Status = domain.ProjectStatusFailed
	project.FailedStage = domain.StageProject
	project.ErrorMessage = "failed to enqueue project: " + cause.Error()
	project.UpdatedAt = time.Now().UTC()
	if err := api.projects.UpdateProject(context.WithoutCancel(ctx), project); err != nil {
		api.logger.Warn().Err(err).Str("job_id", project.ID).Msg("mark unqueued project failed")
	}
}

type projectSummary struct {
	ID         string               `json:"id"`
	Title      string               `json:"title"`
	Status     domain.ProjectStatus `json:"status"`
	TotalPages int                  `json:"total_pages"`
	CoverURL   string               `json:"cover_url,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

func summarize(project *domain.Project) projectSummary {
	return projectSummary{
		ID:         project.ID,
		Title:      project.Title,
		Status:     project.Status,
		TotalPages: project.TotalPages,
		CoverURL:   project.CoverURL,
		CreatedAt:  project.CreatedAt,
		UpdatedAt:  project.UpdatedAt,
	}
}

func queryInt(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
