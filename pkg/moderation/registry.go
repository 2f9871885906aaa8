package moderation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/contribution-patrol/patrol/pkg/datastore"
	"github.com/contribution-patrol/patrol/pkg/model"
)

// Repositories is the repository registry, populated from installation events
// and the admin CLI.
type Repositories struct {
	st     datastore.DataProviderFactory
	logger *slog.Logger
}

// NewRepositories returns a registry over st.
func NewRepositories(st datastore.DataProviderFactory, logger *slog.Logger) *Repositories {
	return &Repositories{st: st, logger: orDefault(logger).With("component", "repositories")}
}

// Lookup returns the repository for (owner, name), or (nil, nil) if unregistered.
func (r *Repositories) Lookup(ctx context.Context, owner, name string) (*model.Repository, error) {
	repo, err := r.st.NonTx().GetRepository(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("moderation: lookup repository %s/%s: %w", owner, name, err)
	}
	return repo, nil
}

// Register creates the repository if needed and returns it.
func (r *Repositories) Register(ctx context.Context, owner, name string) (*model.Repository, error) {
	repo, err := withRetry(ctx, r.logger, "register repository", func() (*model.Repository, error) {
		return r.st.NonTx().RegisterRepository(ctx, owner, name)
	})
	if err != nil {
		return nil, fmt.Errorf("moderation: register repository %s/%s: %w", owner, name, err)
	}
	r.logger.Info("repository registered", "repo", repo.FullName(), "repo_id", repo.ID)
	return repo, nil
}

// Remove deletes the repository with its bans and trust grants. Unknown
// repositories are ignored.
func (r *Repositories) Remove(ctx context.Context, owner, name string) error {
	repo, err := r.Lookup(ctx, owner, name)
	if err != nil {
		return err
	}
	if repo == nil {
		return nil
	}
	if _, err := withRetry(ctx, r.logger, "remove repository", func() (struct{}, error) {
		return struct{}{}, r.st.NonTx().DeleteRepository(ctx, repo.ID)
	}); err != nil {
		return fmt.Errorf("moderation: remove repository %s/%s: %w", owner, name, err)
	}
	r.logger.Info("repository removed", "repo", repo.FullName(), "repo_id", repo.ID)
	return nil
}

// List returns every registered repository.
func (r *Repositories) List(ctx context.Context) ([]model.Repository, error) {
	repos, err := r.st.NonTx().ListRepositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("moderation: list repositories: %w", err)
	}
	return repos, nil
}
