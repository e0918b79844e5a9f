package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/iago/manga-studio-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const projectColumns = `id, owner_id, prompt, title, total_pages, status, plan, pages, characters,
	cover_url, failed_stage, error_message, log, created_at, updated_at`

type PostgresProjectsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresProjectsRepository(pool *pgxpool.Pool) *PostgresProjectsRepository {
	return &PostgresProjectsRepository{pool: pool}
}

func (r *PostgresProjectsRepository) CreateProject(ctx context.Context, project *domain.Project) error {
	encoded, err := encodeProject(project)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		project.ID,
		project.OwnerID,
		project.Prompt,
		project.Title,
		project.TotalPages,
		string(project.Status),
		encoded.plan,
		encoded.pages,
		encoded.characters,
		project.CoverURL,
		string(project.FailedStage),
		project.ErrorMessage,
		encoded.log,
		project.CreatedAt,
		project.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (r *PostgresProjectsRepository) UpdateProject(ctx context.Context, project *domain.Project) error {
	encoded, err := encodeProject(project)
	if err != nil {
		return err
	}
	command, err := r.pool.Exec(ctx, `
		UPDATE projects
		SET title = $3,
			status = $4,
			plan = $5,
			pages = $6,
			characters = $7,
			cover_url = $8,
			failed_stage = $9,
			error_message = $10,
			log = $11,
			updated_at = $12
		WHERE id = $1 AND owner_id = $2
	`,
		project.ID,
		project.OwnerID,
		project.Title,
		string(project.Status),
		encoded.plan,
		encoded.pages,
		encoded.characters,
		project.CoverURL,
		string(project.FailedStage),
		project.ErrorMessage,
		encoded.log,
		project.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresProjectsRepository) GetProject(ctx context.Context, projectID, ownerID string) (*domain.Project, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE id = $1 AND owner_id = $2
	`, projectID, ownerID)

	project, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query project: %w", err)
	}
	return project, nil
}

func (r *PostgresProjectsRepository) ListProjects(ctx context.Context, filter ProjectFilter) ([]*domain.Project, int, error) {
	filter = filter.normalized()
	baseQuery, args := buildProjectFilters(filter)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) "+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}

	listQuery := fmt.Sprintf(
		`SELECT %s
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		projectColumns,
		baseQuery,
		len(args)+1,
		len(args)+2,
	)
	listArgs := append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	rows, err := r.pool.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, project)
	}
	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("iterate projects: %w", rows.Err())
	}
	return items, total, nil
}

func (r *PostgresProjectsRepository) DeleteProject(ctx context.Context, projectID, ownerID string) error {
	command, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1 AND owner_id = $2`, projectID, ownerID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func buildProjectFilters(filter ProjectFilter) (string, []any) {
	query := strings.Builder{}
	query.WriteString("FROM projects WHERE TRUE")

	args := make([]any, 0, 2)
	if ownerID := strings.TrimSpace(filter.OwnerID); ownerID != "" {
		args = append(args, ownerID)
		query.WriteString(fmt.Sprintf(" AND owner_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query.WriteString(fmt.Sprintf(" AND status = $%d", len(args)))
	}
	return query.String(), args
}

type encodedProject struct {
	plan       []byte
	pages      []byte
	characters []byte
	log        []byte
}

func encodeProject(project *domain.Project) (encodedProject, error) {
	var (
		encoded encodedProject
		err     error
	)
	if project.Plan != nil {
		if encoded.plan, err = json.Marshal(project.Plan); err != nil {
			return encodedProject{}, fmt.Errorf("encode plan: %w", err)
		}
	}
	if encoded.pages, err = json.Marshal(nonNil(project.Pages)); err != nil {
		return encodedProject{}, fmt.Errorf("encode pages: %w", err)
	}
	if encoded.characters, err = json.Marshal(nonNil(project.Characters)); err != nil {
		return encodedProject{}, fmt.Errorf("encode characters: %w", err)
	}
	if encoded.log, err = json.Marshal(nonNil(project.Log)); err != nil {
		return encodedProject{}, fmt.Errorf("encode log: %w", err)
	}
	return encoded, nil
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var (
		project     domain.Project
		status      string
		failedStage string
		plan        []byte
		pages       []byte
		characters  []byte
		log         []byte
	)
	err := row.Scan(
		&project.ID,
		&project.OwnerID,
		&project.Prompt,
		&project.Title,
		&project.TotalPages,
		&status,
		&plan,
		&pages,
		&characters,
		&project.CoverURL,
		&failedStage,
		&project.ErrorMessage,
		&log,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	project.Status = domain.ProjectStatus(status)
	project.FailedStage = domain.Stage(failedStage)
	if len(plan) > 0 {
		var decoded domain.Plan
		if err := json.Unmarshal(plan, &decoded); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
		project.Plan = &decoded
	}
	if err := json.Unmarshal(pages, &project.Pages); err != nil {
		return nil, fmt.Errorf("decode pages: %w", err)
	}
	if err := json.Unmarshal(characters, &project.Characters); err != nil {
		return nil, fmt.Errorf("decode characters: %w", err)
	}
	if err := json.Unmarshal(log, &project.Log); err != nil {
		return nil, fmt.Errorf("decode log: %w", err)
	}
	return &project, nil
}

func nonNil[T any](values []T) []T {
	if values == nil {
		return []T{}
	}
	return values
}
