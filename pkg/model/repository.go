package model

import (
	"errors"
	"time"
)

const MaxRepositoryNameLength = 100

var ErrRepositoryNameInvalid = errors.New("repository name must be 1-100 alphanumeric characters, '.', '_' or '-'")

// Repository is keyed by (owner username, repository name).
type Repository struct {
	ID            int64     `json:"id"`
	OwnerUsername string    `json:"owner_username"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"created_at"`
}

// FullName returns "owner/name".
func (r Repository) FullName() string {
	return r.OwnerUsername + "/" + r.Name
}

// ValidateRepositoryName checks a repository name as GitHub accepts it.
func ValidateRepositoryName(name string) error {
	if len(name) == 0 || len(name) > MaxRepositoryNameLength || name == "." || name == ".." {
		return ErrRepositoryNameInvalid
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' && r != '.' {
			return ErrRepositoryNameInvalid
		}
	}
	return nil
}
