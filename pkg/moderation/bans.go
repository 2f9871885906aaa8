package moderation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/contribution-patrol/patrol/pkg/datastore"
	"github.com/contribution-patrol/patrol/pkg/model"
)

// BanLedger holds at most one ban per (user, repository). Expiry is evaluated
// against the store clock on every read; nothing sweeps expired rows.
type BanLedger struct {
	st     datastore.DataProviderFactory
	logger *slog.Logger
}

// NewBanLedger returns a ledger over st.
func NewBanLedger(st datastore.DataProviderFactory, logger *slog.Logger) *BanLedger {
	return &BanLedger{st: st, logger: orDefault(logger).With("component", "bans")}
}

// Ban permanently bans a resolved user. An already active ban is returned
// unchanged, reason included.
func (l *BanLedger) Ban(ctx context.Context, username string, repoID int64, reason string) (*model.Ban, error) {
	u, err := lookupRequired(ctx, l.st, username)
	if err != nil {
		return nil, fmt.Errorf("moderation: ban: %w", err)
	}
	b, err := withRetry(ctx, l.logger, "ban", func() (*model.Ban, error) {
		tx, err := l.st.Tx(ctx)
		if err != nil {
			return nil, err
		}
		return tx.BanPermanent(ctx, u.ID, repoID, reason)
	})
	if err != nil {
		return nil, fmt.Errorf("moderation: ban: %w", err)
	}
	l.logger.Info("ban recorded", "user", username, "repo_id", repoID, "permanent", b.Permanent())
	return b, nil
}

// TempBan bans a resolved user until now+days. An active ban is updated in
// place: the expiry is overwritten (last write wins) and the reason replaced
// only when a new one is given.
func (l *BanLedger) TempBan(ctx context.Context, username string, repoID int64, days int, reason string) (*model.Ban, error) {
	if err := model.ValidateDuration(days); err != nil {
		return nil, fmt.Errorf("moderation: temp ban: %w", err)
	}
	u, err := lookupRequired(ctx, l.st, username)
	if err != nil {
		return nil, fmt.Errorf("moderation: temp ban: %w", err)
	}
	b, err := withRetry(ctx, l.logger, "temp ban", func() (*model.Ban, error) {
		tx, err := l.st.Tx(ctx)
		if err != nil {
			return nil, err
		}
		expiresAt := tx.Now().AddDate(0, 0, days)
		return tx.BanUntil(ctx, u.ID, repoID, expiresAt, reason)
	})
	if err != nil {
		return nil, fmt.Errorf("moderation: temp ban: %w", err)
	}
	l.logger.Info("temp ban recorded", "user", username, "repo_id", repoID, "expires_at", b.ExpiresAt)
	return b, nil
}

// Unban deletes the pair's ban row whether active or expired. Returns
// model.ErrNotFound only if the user was never resolved.
func (l *BanLedger) Unban(ctx context.Context, username string, repoID int64) error {
	u, err := lookupRequired(ctx, l.st, username)
	if err != nil {
		return fmt.Errorf("moderation: unban: %w", err)
	}
	if _, err := withRetry(ctx, l.logger, "unban", func() (struct{}, error) {
		return struct{}{}, l.st.NonTx().DeleteBan(ctx, u.ID, repoID)
	}); err != nil {
		return fmt.Errorf("moderation: unban: %w", err)
	}
	l.logger.Info("user unbanned", "user", username, "repo_id", repoID)
	return nil
}

// IsBanned reports whether an active ban exists. Unknown users are not banned.
func (l *BanLedger) IsBanned(ctx context.Context, username string, repoID int64) (bool, error) {
	u, err := l.st.NonTx().GetUserByUsername(ctx, username)
	if err != nil {
		return false, fmt.Errorf("moderation: is banned: %w", err)
	}
	if u == nil {
		return false, nil
	}
	banned, err := l.st.NonTx().IsUserBanned(ctx, u.ID, repoID)
	if err != nil {
		return false, fmt.Errorf("moderation: is banned: %w", err)
	}
	return banned, nil
}

// ListActive returns the repository's currently active bans.
func (l *BanLedger) ListActive(ctx context.Context, repoID int64) ([]model.BanEntry, error) {
	bans, err := l.st.NonTx().ListActiveBans(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("moderation: list bans: %w", err)
	}
	return bans, nil
}
