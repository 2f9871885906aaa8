package moderation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/contribution-patrol/patrol/pkg/datastore"
	"github.com/contribution-patrol/patrol/pkg/model"
)

// Resolver maps external usernames to stored user identities.
type Resolver struct {
	st     datastore.DataProviderFactory
	logger *slog.Logger
}

// NewResolver returns a resolver over st.
func NewResolver(st datastore.DataProviderFactory, logger *slog.Logger) *Resolver {
	return &Resolver{st: st, logger: orDefault(logger).With("component", "resolver")}
}

// Resolve returns the user for username, creating it on first sight.
func (r *Resolver) Resolve(ctx context.Context, username string) (*model.User, error) {
	u, err := withRetry(ctx, r.logger, "resolve", func() (*model.User, error) {
		return r.st.NonTx().ResolveUser(ctx, username)
	})
	if err != nil {
		return nil, fmt.Errorf("moderation: resolve %q: %w", username, err)
	}
	return u, nil
}

// Lookup returns the stored user for username, or (nil, nil) if never seen.
func (r *Resolver) Lookup(ctx context.Context, username string) (*model.User, error) {
	u, err := r.st.NonTx().GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("moderation: lookup %q: %w", username, err)
	}
	return u, nil
}

// lookupRequired is Lookup with an unknown user reported as model.ErrNotFound.
func lookupRequired(ctx context.Context, st datastore.DataProviderFactory, username string) (*model.User, error) {
	u, err := st.NonTx().GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %q: %w", username, model.ErrNotFound)
	}
	return u, nil
}
