package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openshelf/openshelf/internal/shared"
)

// Repository defines persistence operations for the catalogue.
type Repository interface {
	Search(ctx context.Context, query, subject string) ([]Book, error)
	GetByID(ctx context.Context, id int64) (*Book, error)
	ListSubjects(ctx context.Context) ([]string, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const bookColumns = `id, title, author, isbn, subject, location, copies_total, copies_on_shelf, published_year, summary, created_at`

// Search returns catalogue records matching the query against title, author
// and ISBN, optionally narrowed to one subject. Results are title-ordered.
func (r *PGRepository) Search(ctx context.Context, query, subject string) ([]Book, error) {
	q := `
		SELECT ` + bookColumns + `
		FROM books
		WHERE ($1 = '' OR title ILIKE '%' || $1 || '%' OR author ILIKE '%' || $1 || '%' OR isbn = $1)
		  AND ($2 = '' OR subject = $2)
		ORDER BY title
		LIMIT 100`
	rows, err := r.pool.Query(ctx, q, query, subject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

// GetByID fetches a single record.
func (r *PGRepository) GetByID(ctx context.Context, id int64) (*Book, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id)
	book, err := scanBook(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &book, nil
}

// ListSubjects returns the distinct subjects present in the catalogue.
func (r *PGRepository) ListSubjects(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT subject FROM books WHERE subject <> '' ORDER BY subject`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subjects []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		subjects = append(subjects, s)
	}
	return subjects, rows.Err()
}

func scanBook(row pgx.Row) (Book, error) {
	var b Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Subject, &b.Location,
		&b.CopiesTotal, &b.CopiesOnShelf, &b.PublishedYear, &b.Summary, &b.CreatedAt)
	return b, err
}

var _ Repository = (*PGRepository)(nil)
