package datastore

import (
	"context"
	"time"

	"github.com/contribution-patrol/patrol/pkg/model"
)

// DataProviderFactory hands out non-transactional and transactional stores.
type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
	Close() error
}

// DataStoreTx is a DataStore bound to one open transaction.
type DataStoreTx interface {
	DataStore
	BanTransactionProvider
	Rollback() error
	Commit() error
}

// DataStore defines the persistence interface for the moderation ledger.
// Implementations include the default SQLite store and an in-memory store
// for tests; both enforce one ban row and one trust grant per (user, repository).
type DataStore interface {
	ConfigReadProvider

	UserReadProvider
	UserWriteProvider

	RepositoryReadProvider
	RepositoryWriteProvider

	TrustReadProvider
	TrustWriteProvider

	BanReadProvider
	BanWriteProvider
}

// Compile-time checks.
var (
	_ DataProviderFactory = (*ProviderFactory)(nil)
	_ DataProviderFactory = (*MemoryStore)(nil)
)

type ConfigReadProvider interface {
	// Now is the clock every expiry comparison is evaluated against.
	Now() time.Time
}

type UserReadProvider interface {
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
}

type UserWriteProvider interface {
	// ResolveUser returns the user with this username, creating it on first sight.
	// Concurrent calls for one username converge on a single row.
	ResolveUser(ctx context.Context, username string) (*model.User, error)
	DeleteUser(ctx context.Context, id int64) error
}

type RepositoryReadProvider interface {
	GetRepository(ctx context.Context, owner, name string) (*model.Repository, error)
	GetRepositoryByID(ctx context.Context, id int64) (*model.Repository, error)
	ListRepositories(ctx context.Context) ([]model.Repository, error)
}

type RepositoryWriteProvider interface {
	RegisterRepository(ctx context.Context, owner, name string) (*model.Repository, error)
	DeleteRepository(ctx context.Context, id int64) error
}

type TrustReadProvider interface {
	IsTrusted(ctx context.Context, userID, repoID int64) (bool, error)
	ListTrusted(ctx context.Context, repoID int64) ([]model.TrustedUser, error)
}

type TrustWriteProvider interface {
	// GrantTrust inserts a grant or returns the existing one for the pair.
	GrantTrust(ctx context.Context, userID, repoID int64) (*model.TrustGrant, error)
	RevokeTrust(ctx context.Context, userID, repoID int64) error
}

type BanReadProvider interface {
	// GetBan returns the pair's ban row regardless of expiry, or (nil, nil).
	GetBan(ctx context.Context, userID, repoID int64) (*model.Ban, error)
	IsUserBanned(ctx context.Context, userID, repoID int64) (bool, error)
	ListActiveBans(ctx context.Context, repoID int64) ([]model.BanEntry, error)
}

type BanWriteProvider interface {
	// DeleteBan removes the pair's ban row whether active or expired.
	DeleteBan(ctx context.Context, userID, repoID int64) error
}

// BanTransactionProvider holds the check-then-write ban operations. Each call
// ends the transaction it runs on: commit on success, rollback otherwise.
type BanTransactionProvider interface {
	// BanPermanent keeps an active ban unchanged, otherwise writes a permanent one.
	BanPermanent(ctx context.Context, userID, repoID int64, reason string) (*model.Ban, error)

	// BanUntil sets expiresAt on an active ban (keeping its reason when reason is
	// empty), otherwise writes a fresh temporary ban.
	BanUntil(ctx context.Context, userID, repoID int64, expiresAt time.Time, reason string) (*model.Ban, error)
}
