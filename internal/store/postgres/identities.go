package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/veritime/facegate/internal/store"
)

// isUniqueViolation reports a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// isForeignKeyViolation reports a PostgreSQL foreign key violation.
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

// IdentityRepository provides PostgreSQL-backed identity storage.
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a new PostgreSQL identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// Upsert creates or updates an identity.
func (r *IdentityRepository) Upsert(ctx context.Context, identity *store.Identity) error {
	query := `
		INSERT INTO identities (id, display_name, normalized_name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			normalized_name = EXCLUDED.normalized_name
	`

	_, err := r.pool.Exec(ctx, query,
		identity.ID, identity.DisplayName, store.NormalizeName(identity.DisplayName), identity.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert identity: %w", err)
	}
	return nil
}

// Get retrieves an identity by ID.
func (r *IdentityRepository) Get(ctx context.Context, id string) (*store.Identity, error) {
	query := `
		SELECT id, display_name, normalized_name, created_at
		FROM identities
		WHERE id = $1
	`

	var identity store.Identity
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&identity.ID,
		&identity.DisplayName,
		&identity.NormalizedName,
		&identity.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query identity: %w", err)
	}
	return &identity, nil
}

// List returns all identities ordered by display name.
func (r *IdentityRepository) List(ctx context.Context) ([]store.Identity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, display_name, normalized_name, created_at
		FROM identities
		ORDER BY display_name
	`)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var identities []store.Identity
	for rows.Next() {
		var identity store.Identity
		if err := rows.Scan(&identity.ID, &identity.DisplayName, &identity.NormalizedName, &identity.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil
}

// Delete removes an identity. The foreign keys from templates and
// attendance records reject the delete while references remain.
func (r *IdentityRepository) Delete(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, "DELETE FROM identities WHERE id = $1", id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrIdentityReferenced
		}
		return fmt.Errorf("delete identity: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete identity rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
