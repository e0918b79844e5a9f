package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/iago/manga-studio-back/internal/cache"
	"github.com/iago/manga-studio-back/internal/credits"
	"github.com/iago/manga-studio-back/internal/domain"
	"github.com/iago/manga-studio-back/internal/http/middleware"
	"github.com/iago/manga-studio-back/internal/pipeline"
	"github.com/iago/manga-studio-back/internal/queue"
	"github.com/iago/manga-studio-back/internal/repository"
	"github.com/rs/zerolog"
)

var errInvalidPayload = errors.New("invalid payload")

// Preparer validates a request and persists its queued record.
type Preparer interface {
	Prepare(ctx context.Context, request pipeline.Request, observer pipeline.Observer) (*domain.Project, pipeline.Result)
}

// EventSource exposes live progress of jobs running in this process.
type EventSource interface {
	Subscribe(jobID string) ([]domain.ProgressEvent, <-chan domain.ProgressEvent, func())
}

// AssetRemover deletes every stored asset of a project.
type AssetRemover interface {
	DeleteProject(ctx context.Context, ownerID, jobID string) (int, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Dependencies struct {
	Pipeline       Preparer
	Queue          queue.Producer
	Projects       repository.ProjectsRepository
	Events         EventSource
	Assets         AssetRemover
	Credits        credits.Ledger
	HealthChecks   map[string]HealthCheck
	IdempotencyTTL time.Duration
	// EventsPollInterval is how often an event stream re-reads the record,
	// which covers runs executed by another process.
	EventsPollInterval time.Duration
	HeartbeatInterval  time.Duration
	Logger             zerolog.Logger
}

type API struct {
	pipeline          Preparer
	queue             queue.Producer
	projects          repository.ProjectsRepository
	events            EventSource
	assets            AssetRemover
	credits           credits.Ledger
	healthChecks      map[string]HealthCheck
	idempotency       *cache.Store[idempotencyEntry]
	validate          *validator.Validate
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	logger            zerolog.Logger
}

func NewAPI(deps Dependencies) *API {
	if deps.IdempotencyTTL <= 0 {
		deps.IdempotencyTTL = 24 * time.Hour
	}
	if deps.EventsPollInterval <= 0 {
		deps.EventsPollInterval = 2 * time.Second
	}
	if deps.HeartbeatInterval <= 0 {
		deps.HeartbeatInterval = 15 * time.Second
	}
	return &API{
		pipeline:          deps.Pipeline,
		queue:             deps.Queue,
		projects:          deps.Projects,
		events:            deps.Events,
		assets:            deps.Assets,
		credits:           deps.Credits,
		healthChecks:      deps.HealthChecks,
		idempotency:       cache.New[idempotencyEntry](cache.Config{TTL: deps.IdempotencyTTL}),
		validate:          validator.New(),
		pollInterval:      deps.EventsPollInterval,
		heartbeatInterval: deps.HeartbeatInterval,
		logger:            deps.Logger,
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, value any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

// validationMessage turns validator errors into a short client-facing message.
func validationMessage(err error) string {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		fieldErr := validationErrors[0]
		if fieldErr.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s", fieldErr.Field(), fieldErr.Tag(), fieldErr.Param())
		}
		return fmt.Sprintf("%s failed %s", fieldErr.Field(), fieldErr.Tag())
	}
	return "invalid request"
}

func ownerID(r *http.Request) string {
	return middleware.OwnerID(r.Context())
}

type idempotencyEntry struct {
	Signature string
	OwnerID   string
	JobID     string
	CreatedAt time.Time
}
