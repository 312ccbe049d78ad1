package resources

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Resource is one licensed electronic resource.
type Resource struct {
	ID          int64
	Name        string
	Provider    string
	Category    string
	Description string
	AccessURL   string
	AddedAt     time.Time
}

// Repository defines read operations for e-resources.
type Repository interface {
	ListResources(ctx context.Context, category string) ([]Resource, error)
	ListCategories(ctx context.Context) ([]string, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ListResources returns licensed resources, optionally narrowed to a category.
func (r *PGRepository) ListResources(ctx context.Context, category string) ([]Resource, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, provider, category, description, access_url, added_at
		FROM e_resources
		WHERE ($1 = '' OR category = $1)
		ORDER BY name`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var resources []Resource
	for rows.Next() {
		var res Resource
		if err := rows.Scan(&res.ID, &res.Name, &res.Provider, &res.Category, &res.Description, &res.AccessURL, &res.AddedAt); err != nil {
			return nil, err
		}
		resources = append(resources, res)
	}
	return resources, rows.Err()
}

// ListCategories returns the distinct resource categories.
func (r *PGRepository) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT category FROM e_resources WHERE category <> '' ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
