package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/iago/manga-studio-back/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// ProjectFilter selects projects for listing. An empty OwnerID matches every
// owner and is reserved for internal callers.
type ProjectFilter struct {
	OwnerID  string
	Status   domain.ProjectStatus
	Page     int
	PageSize int
}

func (f ProjectFilter) normalized() ProjectFilter {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 20
	}
	if f.PageSize > 100 {
		f.PageSize = 100
	}
	return f
}

// ProjectsRepository persists job records. Every mutation and owner-facing
// read is scoped by (id, owner).
type ProjectsRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	UpdateProject(ctx context.Context, project *domain.Project) error
	GetProject(ctx context.Context, projectID, ownerID string) (*domain.Project, error)
	ListProjects(ctx context.Context, filter ProjectFilter) ([]*domain.Project, int, error)
	DeleteProject(ctx context.Context, projectID, ownerID string) error
}

// MemoryProjectsRepository stores projects in memory for local development.
type MemoryProjectsRepository struct {
	mu       sync.RWMutex
	projects map[string]*domain.Project
}

func NewMemoryProjectsRepository() *MemoryProjectsRepository {
	return &MemoryProjectsRepository{
		projects: make(map[string]*domain.Project),
	}
}

func (r *MemoryProjectsRepository) CreateProject(_ context.Context, project *domain.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.projects[project.ID]; exists {
		return errors.New("project already exists")
	}
	r.projects[project.ID] = project.Clone()
	return nil
}

func (r *MemoryProjectsRepository) UpdateProject(_ context.Context, project *domain.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.projects[project.ID]
	if !ok || current.OwnerID != project.OwnerID {
		return ErrNotFound
	}
	clone := project.Clone()
	clone.CreatedAt = current.CreatedAt
	r.projects[project.ID] = clone
	return nil
}

func (r *MemoryProjectsRepository) GetProject(_ context.Context, projectID, ownerID string) (*domain.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	project, ok := r.projects[projectID]
	if !ok || project.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return project.Clone(), nil
}

func (r *MemoryProjectsRepository) ListProjects(_ context.Context, filter ProjectFilter) ([]*domain.Project, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filter = filter.normalized()
	items := make([]*domain.Project, 0)
	for _, project := range r.projects {
		if filter.OwnerID != "" && project.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && project.Status != filter.Status {
			continue
		}
		items = append(items, project)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	total := len(items)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []*domain.Project{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}

	page := make([]*domain.Project, 0, end-start)
	for _, project := range items[start:end] {
		page = append(page, project.Clone())
	}
	return page, total, nil
}

func (r *MemoryProjectsRepository) DeleteProject(_ context.Context, projectID, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	project, ok := r.projects[projectID]
	if !ok || project.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(r.projects, projectID)
	return nil
}
