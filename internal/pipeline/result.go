package pipeline

import (
	"fmt"

	"github.com/iago/manga-studio-back/internal/domain"
)

// Result is the outcome of a pipeline run. On failure only JobID (when a
// record exists), Stage, Error and Log are set.
type Result struct {
	OK         bool                    `json:"ok"`
	JobID      string                  `json:"job_id,omitempty"`
	Title      string                  `json:"title,omitempty"`
	Plan       *domain.Plan            `json:"plan,omitempty"`
	Characters []domain.CharacterAsset `json:"characters,omitempty"`
	Pages      []domain.PageAsset      `json:"pages,omitempty"`
	PageURLs   []string                `json:"page_urls,omitempty"`
	CoverURL   string                  `json:"cover_url,omitempty"`
	Stage      domain.Stage            `json:"stage,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Log        []domain.ProgressEvent  `json:"log"`

	err error
}

// Err returns a *StageError for failed runs and nil otherwise.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return &StageError{Stage: r.Stage, Err: r.err}
}

// StageError names the stage a run failed at.
type StageError struct {
	Stage domain.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
