package domain

import "time"

type ProjectStatus string

const (
	ProjectStatusQueued     ProjectStatus = "queued"
	ProjectStatusProcessing ProjectStatus = "processing"
	ProjectStatusComplete   ProjectStatus = "complete"
	ProjectStatusFailed     ProjectStatus = "failed"
)

func (s ProjectStatus) Terminal() bool {
	return s == ProjectStatusComplete || s == ProjectStatusFailed
}

// Project is the durable job record of one pipeline run, owned by OwnerID.
type Project struct {
	ID           string           `json:"id"`
	OwnerID      string           `json:"owner_id"`
	Prompt       string           `json:"prompt"`
	Title        string           `json:"title"`
	TotalPages   int              `json:"total_pages"`
	Status       ProjectStatus    `json:"status"`
	Plan         *Plan            `json:"plan,omitempty"`
	Pages        []PageAsset      `json:"pages"`
	Characters   []CharacterAsset `json:"characters"`
	CoverURL     string           `json:"cover_url,omitempty"`
	FailedStage  Stage            `json:"failed_stage,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Log          []ProgressEvent  `json:"log"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Clone returns a deep copy so stores never share slices with callers.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Plan != nil {
		plan := p.Plan.Clone()
		clone.Plan = &plan
	}
	if p.Pages != nil {
		clone.Pages = make([]PageAsset, len(p.Pages))
		for i, page := range p.Pages {
			page.Characters = append([]int(nil), page.Characters...)
			page.Panels = Page{Panels: page.Panels}.clone().Panels
			clone.Pages[i] = page
		}
	}
	clone.Characters = append([]CharacterAsset(nil), p.Characters...)
	clone.Log = append([]ProgressEvent(nil), p.Log...)
	return &clone
}

// QueueMessage is the transport format sent to queue backends.
type QueueMessage struct {
	JobID       string    `json:"job_id"`
	OwnerID     string    `json:"owner_id"`
	Attempt     int       `json:"attempt"`
	RequestedAt time.Time `json:"requested_at"`
}
