package catalog

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
)

// Service wraps catalogue queries with input normalization.
type Service struct {
	repo   Repository
	folder cases.Caser
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, folder: cases.Fold()}
}

// Search normalizes the query (trim, case-fold so "Ökonomie" matches
// "ökonomie") before hitting the repository.
func (s *Service) Search(ctx context.Context, query, subject string) ([]Book, error) {
	query = s.folder.String(strings.TrimSpace(query))
	return s.repo.Search(ctx, query, strings.TrimSpace(subject))
}

// GetByID fetches a single catalogue record.
func (s *Service) GetByID(ctx context.Context, id int64) (*Book, error) {
	return s.repo.GetByID(ctx, id)
}

// Subjects lists the catalogue's subject facets.
func (s *Service) Subjects(ctx context.Context) ([]string, error) {
	return s.repo.ListSubjects(ctx)
}
