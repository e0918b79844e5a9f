package domain

import "time"

// Stage names one phase of the generation pipeline.
type Stage string

const (
	StageValidation Stage = "validation"
	StageProject    Stage = "project"
	StagePlan       Stage = "plan"
	StageCharacters Stage = "characters"
	StageStorage    Stage = "storage"
	StagePages      Stage = "pages"
	StageDone       Stage = "done"
	StageUnexpected Stage = "unexpected"
)

// ProgressEvent is append-only; the ordered events of a run form its log.
type ProgressEvent struct {
	ID           string    `json:"id"`
	Stage        Stage     `json:"stage"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
	PageIndex    *int      `json:"page_index,omitempty"`
	PageImageURL string    `json:"page_image_url,omitempty"`
}
