package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/contribution-patrol/patrol/pkg/datastore"
	"github.com/contribution-patrol/patrol/pkg/model"
)

// TrustRegistry maintains the per-repository whitelist of users allowed to
// issue moderation commands.
type TrustRegistry struct {
	st     datastore.DataProviderFactory
	logger *slog.Logger
}

// NewTrustRegistry returns a registry over st.
func NewTrustRegistry(st datastore.DataProviderFactory, logger *slog.Logger) *TrustRegistry {
	return &TrustRegistry{st: st, logger: orDefault(logger).With("component", "trust")}
}

// Grant whitelists a resolved user. Granting an existing grant returns it unchanged.
// Returns model.ErrNotFound if the user was never resolved.
func (t *TrustRegistry) Grant(ctx context.Context, username string, repoID int64) (*model.TrustGrant, error) {
	u, err := lookupRequired(ctx, t.st, username)
	if err != nil {
		return nil, fmt.Errorf("moderation: grant trust: %w", err)
	}
	g, err := withRetry(ctx, t.logger, "grant trust", func() (*model.TrustGrant, error) {
		return t.st.NonTx().GrantTrust(ctx, u.ID, repoID)
	})
	if err != nil {
		return nil, fmt.Errorf("moderation: grant trust: %w", err)
	}
	t.logger.Info("trust granted", "user", username, "repo_id", repoID)
	return g, nil
}

// Revoke removes a grant if present. An unknown user has no grant, so it is a no-op.
func (t *TrustRegistry) Revoke(ctx context.Context, username string, repoID int64) error {
	u, err := lookupRequired(ctx, t.st, username)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("moderation: revoke trust: %w", err)
	}
	if _, err := withRetry(ctx, t.logger, "revoke trust", func() (struct{}, error) {
		return struct{}{}, t.st.NonTx().RevokeTrust(ctx, u.ID, repoID)
	}); err != nil {
		return fmt.Errorf("moderation: revoke trust: %w", err)
	}
	t.logger.Info("trust revoked", "user", username, "repo_id", repoID)
	return nil
}

// IsTrusted reports whether username holds a grant. Unknown users are not trusted.
func (t *TrustRegistry) IsTrusted(ctx context.Context, username string, repoID int64) (bool, error) {
	u, err := t.st.NonTx().GetUserByUsername(ctx, username)
	if err != nil {
		return false, fmt.Errorf("moderation: is trusted: %w", err)
	}
	if u == nil {
		return false, nil
	}
	ok, err := t.st.NonTx().IsTrusted(ctx, u.ID, repoID)
	if err != nil {
		return false, fmt.Errorf("moderation: is trusted: %w", err)
	}
	return ok, nil
}

// ListTrusted returns the repository's whitelist.
func (t *TrustRegistry) ListTrusted(ctx context.Context, repoID int64) ([]model.TrustedUser, error) {
	list, err := t.st.NonTx().ListTrusted(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("moderation: list trusted: %w", err)
	}
	return list, nil
}
