package entity

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository is the unit of indexing: a Git URL or a local directory.
type Repository struct {
	ID          string
	Name        string
	Source      string // Clone URL or local path
	Branch      string
	EntityCount int
	LastIndexed time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks the repository record.
func (r *Repository) Validate() error {
	if r.Name == "" {
		return errors.New("repository name is required")
	}
	if r.Source == "" {
		return errors.New("repository source is required")
	}
	return nil
}

// DeriveRepoID returns the deterministic repository ID for a source,
// so enqueueing the same source twice targets the same repository.
func DeriveRepoID(source string) string {
	return uuid.NewSHA1(idNamespace, []byte(source)).String()
}

// RepoNameFromSource derives a repository name from a clone URL or path,
// e.g. "https://github.com/psf/requests.git" becomes "requests".
func RepoNameFromSource(source string) string {
	name := strings.TrimRight(source, "/")
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, ".git")
}
