package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/veritime/facegate/internal/store"
)

// TemplateRepository provides PostgreSQL-backed template storage with
// pgvector embedding columns.
type TemplateRepository struct {
	pool *Pool
}

// NewTemplateRepository creates a new PostgreSQL template repository.
func NewTemplateRepository(pool *Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

// Add stores a new template for an identity. Inserts are append-only, so
// concurrent enrollments for the same identity need no extra locking here.
func (r *TemplateRepository) Add(ctx context.Context, template *store.Template) error {
	query := `
		INSERT INTO templates (id, identity_id, embedding, dim, model_version, quality, retired, captured_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.pool.Exec(ctx, query,
		template.ID,
		template.IdentityID,
		pgvector.NewVector(template.Embedding),
		template.Dim,
		template.ModelVersion,
		template.Quality,
		template.Retired,
		template.CapturedAt,
		template.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// ListActive returns the active templates for an identity.
func (r *TemplateRepository) ListActive(ctx context.Context, identityID string) ([]store.Template, error) {
	return r.list(ctx, `
		SELECT id, identity_id, embedding, dim, model_version, quality, retired, captured_at, created_at
		FROM templates
		WHERE identity_id = $1 AND NOT retired
		ORDER BY created_at
	`, identityID)
}

// ListAll returns every template for an identity, retired included.
func (r *TemplateRepository) ListAll(ctx context.Context, identityID string) ([]store.Template, error) {
	return r.list(ctx, `
		SELECT id, identity_id, embedding, dim, model_version, quality, retired, captured_at, created_at
		FROM templates
		WHERE identity_id = $1
		ORDER BY created_at
	`, identityID)
}

// AllActive returns every active template across the population.
func (r *TemplateRepository) AllActive(ctx context.Context) ([]store.Template, error) {
	return r.list(ctx, `
		SELECT id, identity_id, embedding, dim, model_version, quality, retired, captured_at, created_at
		FROM templates
		WHERE NOT retired
		ORDER BY identity_id, created_at
	`)
}

func (r *TemplateRepository) list(ctx context.Context, query string, args ...any) ([]store.Template, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var templates []store.Template
	for rows.Next() {
		var t store.Template
		var vec pgvector.Vector
		if err := rows.Scan(
			&t.ID,
			&t.IdentityID,
			&vec,
			&t.Dim,
			&t.ModelVersion,
			&t.Quality,
			&t.Retired,
			&t.CapturedAt,
			&t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		t.Embedding = vec.Slice()
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return templates, nil
}

// Retire marks a template as retired.
func (r *TemplateRepository) Retire(ctx context.Context, templateID string) error {
	result, err := r.pool.Exec(ctx, "UPDATE templates SET retired = TRUE WHERE id = $1", templateID)
	if err != nil {
		return fmt.Errorf("retire template: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("retire template rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CountActive returns the number of active templates.
func (r *TemplateRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM templates WHERE NOT retired").Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count templates: %w", err)
	}
	return count, nil
}
