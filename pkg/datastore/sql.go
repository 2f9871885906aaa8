package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/contribution-patrol/patrol/pkg/model"
)

// dbTimeLayout is fixed width so text comparison in SQL matches chronological order.
const dbTimeLayout = "2006-01-02 15:04:05.000000000"

// legacyTimeLayout matches rows written by datetime('now').
const legacyTimeLayout = "2006-01-02 15:04:05"

// Pragmas are applied per connection through the DSN so every pooled
// connection enforces foreign keys and waits on locks.
const dsnPragmas = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate"

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type baseProvider struct {
	DB
	now func() time.Time
}

func (p *baseProvider) Now() time.Time {
	return p.now().UTC()
}

type nonTxProvider struct {
	baseProvider
}

type txProvider struct {
	baseProvider
	tx *sql.Tx
}

func (c *txProvider) Rollback() error {
	return c.tx.Rollback()
}

func (c *txProvider) Commit() error {
	return c.tx.Commit()
}

// ProviderFactory provides SQLite-backed access to the moderation ledger.
type ProviderFactory struct {
	DB  *sql.DB
	now func() time.Time
}

// Option configures a ProviderFactory.
type Option func(*ProviderFactory)

// WithClock overrides the clock used for expiry checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(f *ProviderFactory) {
		if now != nil {
			f.now = now
		}
	}
}

func (sf *ProviderFactory) NonTx() DataStore {
	return &nonTxProvider{
		baseProvider: baseProvider{
			DB:  sf.DB,
			now: sf.now,
		},
	}
}

func (sf *ProviderFactory) Tx(ctx context.Context) (DataStoreTx, error) {
	tx, err := sf.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("datastore: begin tx: %w", err)
	}

	return &txProvider{
		baseProvider: baseProvider{
			DB:  tx,
			now: sf.now,
		},
		tx: tx,
	}, nil
}

// NewProviderFactory opens (or creates) a SQLite database and runs migrations.
func NewProviderFactory(dbPath string, opts ...Option) (*ProviderFactory, error) {
	DB, err := sql.Open("sqlite", dbPath+"?"+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	s := &ProviderFactory{
		DB:  DB,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *ProviderFactory) Close() error {
	return s.DB.Close()
}

// IsRetryable reports whether err is a transient SQLite lock conflict.
func IsRetryable(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func (s *ProviderFactory) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		username   TEXT    NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 64),
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS repositories (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_username TEXT    NOT NULL CHECK(length(owner_username) > 0),
		name           TEXT    NOT NULL CHECK(length(name) > 0),
		created_at     TEXT    NOT NULL DEFAULT (datetime('now')),
		UNIQUE(owner_username, name)
	);

	CREATE TABLE IF NOT EXISTS trust_grants (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		repo_id    INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		created_at TEXT    NOT NULL DEFAULT (datetime('now')),
		UNIQUE(user_id, repo_id)
	);

	CREATE TABLE IF NOT EXISTS bans (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		repo_id    INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		reason     TEXT,
		expires_at TEXT,
		created_at TEXT    NOT NULL DEFAULT (datetime('now')),
		UNIQUE(user_id, repo_id)
	);
	`
	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_bans_repo_expires ON bans (repo_id, expires_at)",
				"CREATE INDEX IF NOT EXISTS idx_trust_grants_repo ON trust_grants (repo_id)",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *ProviderFactory) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *ProviderFactory) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *ProviderFactory) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *ProviderFactory) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	t, err := time.ParseInLocation(dbTimeLayout, value, time.UTC)
	if err == nil {
		return t, nil
	}
	return time.ParseInLocation(legacyTimeLayout, value, time.UTC)
}

func nullableTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	v := formatDBTime(t)
	return &v
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// ---- Users ----

// ResolveUser returns the user with this username, inserting it when missing.
func (s *baseProvider) ResolveUser(ctx context.Context, username string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("datastore: resolve user: %w", err)
	}
	_, err := s.ExecContext(ctx,
		"INSERT INTO users (username, created_at) VALUES (?, ?) ON CONFLICT(username) DO NOTHING",
		username, formatDBTime(s.Now()))
	if err != nil {
		return nil, fmt.Errorf("datastore: resolve user: %w", err)
	}
	u, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("datastore: resolve user %q: %w", username, model.ErrNotFound)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by exact username.
func (s *baseProvider) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.scanUser(s.QueryRowContext(ctx, "SELECT id, username, created_at FROM users WHERE username = ?", username))
}

// GetUserByID retrieves a user by ID.
func (s *baseProvider) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.scanUser(s.QueryRowContext(ctx, "SELECT id, username, created_at FROM users WHERE id = ?", id))
}

func (s *baseProvider) scanUser(row *sql.Row) (*model.User, error) {
	u := &model.User{}
	var createdAt string
	err := row.Scan(&u.ID, &u.Username, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	u.CreatedAt = parsed
	return u, nil
}

// ListUsers returns all users.
func (s *baseProvider) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.QueryContext(ctx, "SELECT id, username, created_at FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		var u model.User
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Username, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		u.CreatedAt = parsed
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser removes a user along with its bans and trust grants.
func (s *baseProvider) DeleteUser(ctx context.Context, id int64) error {
	if _, err := s.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id); err != nil {
		return fmt.Errorf("datastore: delete user: %w", err)
	}
	return nil
}

// ---- Repositories ----

// RegisterRepository inserts a repository or returns the existing one.
func (s *baseProvider) RegisterRepository(ctx context.Context, owner, name string) (*model.Repository, error) {
	if err := model.ValidateUsername(owner); err != nil {
		return nil, fmt.Errorf("datastore: register repository: owner: %w", err)
	}
	if err := model.ValidateRepositoryName(name); err != nil {
		return nil, fmt.Errorf("datastore: register repository: %w", err)
	}
	_, err := s.ExecContext(ctx,
		"INSERT INTO repositories (owner_username, name, created_at) VALUES (?, ?, ?) ON CONFLICT(owner_username, name) DO NOTHING",
		owner, name, formatDBTime(s.Now()))
	if err != nil {
		return nil, fmt.Errorf("datastore: register repository: %w", err)
	}
	repo, err := s.GetRepository(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, fmt.Errorf("datastore: register repository %s/%s: %w", owner, name, model.ErrNotFound)
	}
	return repo, nil
}

// GetRepository retrieves a repository by (owner, name).
func (s *baseProvider) GetRepository(ctx context.Context, owner, name string) (*model.Repository, error) {
	return s.scanRepository(s.QueryRowContext(ctx,
		"SELECT id, owner_username, name, created_at FROM repositories WHERE owner_username = ? AND name = ?",
		owner, name))
}

// GetRepositoryByID retrieves a repository by ID.
func (s *baseProvider) GetRepositoryByID(ctx context.Context, id int64) (*model.Repository, error) {
	return s.scanRepository(s.QueryRowContext(ctx,
		"SELECT id, owner_username, name, created_at FROM repositories WHERE id = ?", id))
}

func (s *baseProvider) scanRepository(row *sql.Row) (*model.Repository, error) {
	r := &model.Repository{}
	var createdAt string
	err := row.Scan(&r.ID, &r.OwnerUsername, &r.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get repository: %w", err)
	}
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("datastore: get repository: %w", err)
	}
	r.CreatedAt = parsed
	return r, nil
}

// ListRepositories returns all repositories ordered by owner and name.
func (s *baseProvider) ListRepositories(ctx context.Context) ([]model.Repository, error) {
	rows, err := s.QueryContext(ctx, "SELECT id, owner_username, name, created_at FROM repositories ORDER BY owner_username, name")
	if err != nil {
		return nil, fmt.Errorf("datastore: list repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var repos []model.Repository
	for rows.Next() {
		var r model.Repository
		var createdAt string
		if err := rows.Scan(&r.ID, &r.OwnerUsername, &r.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan repository: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan repository: %w", err)
		}
		r.CreatedAt = parsed
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// DeleteRepository removes a repository along with its bans and trust grants.
func (s *baseProvider) DeleteRepository(ctx context.Context, id int64) error {
	if _, err := s.ExecContext(ctx, "DELETE FROM repositories WHERE id = ?", id); err != nil {
		return fmt.Errorf("datastore: delete repository: %w", err)
	}
	return nil
}

// ---- Trust ----

// GrantTrust whitelists a user in a repository. Granting twice keeps the first grant.
func (s *baseProvider) GrantTrust(ctx context.Context, userID, repoID int64) (*model.TrustGrant, error) {
	_, err := s.ExecContext(ctx,
		"INSERT INTO trust_grants (user_id, repo_id, created_at) VALUES (?, ?, ?) ON CONFLICT(user_id, repo_id) DO NOTHING",
		userID, repoID, formatDBTime(s.Now()))
	if err != nil {
		return nil, fmt.Errorf("datastore: grant trust: %w", err)
	}

	g := &model.TrustGrant{}
	var createdAt string
	err = s.QueryRowContext(ctx,
		"SELECT id, user_id, repo_id, created_at FROM trust_grants WHERE user_id = ? AND repo_id = ?",
		userID, repoID).Scan(&g.ID, &g.UserID, &g.RepoID, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("datastore: grant trust: %w", err)
	}
	if g.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, fmt.Errorf("datastore: grant trust: %w", err)
	}
	return g, nil
}

// RevokeTrust removes the grant if present.
func (s *baseProvider) RevokeTrust(ctx context.Context, userID, repoID int64) error {
	if _, err := s.ExecContext(ctx, "DELETE FROM trust_grants WHERE user_id = ? AND repo_id = ?", userID, repoID); err != nil {
		return fmt.Errorf("datastore: revoke trust: %w", err)
	}
	return nil
}

// IsTrusted reports whether a grant exists for the pair.
func (s *baseProvider) IsTrusted(ctx context.Context, userID, repoID int64) (bool, error) {
	var count int
	err := s.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM trust_grants WHERE user_id = ? AND repo_id = ?",
		userID, repoID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("datastore: check trust: %w", err)
	}
	return count > 0, nil
}

// ListTrusted returns a repository's whitelist in grant order.
func (s *baseProvider) ListTrusted(ctx context.Context, repoID int64) ([]model.TrustedUser, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT u.username, t.created_at FROM trust_grants t
		JOIN users u ON u.id = t.user_id
		WHERE t.repo_id = ? ORDER BY t.created_at, t.id`, repoID)
	if err != nil {
		return nil, fmt.Errorf("datastore: list trusted: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.TrustedUser
	for rows.Next() {
		var tu model.TrustedUser
		var createdAt string
		if err := rows.Scan(&tu.Username, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan trusted: %w", err)
		}
		if tu.GrantedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan trusted: %w", err)
		}
		out = append(out, tu)
	}
	return out, rows.Err()
}

// ---- Bans ----

// GetBan returns the pair's ban row whether or not it has expired.
func (s *baseProvider) GetBan(ctx context.Context, userID, repoID int64) (*model.Ban, error) {
	b := &model.Ban{}
	var reason, expiresAt *string
	var createdAt string
	err := s.QueryRowContext(ctx,
		"SELECT id, user_id, repo_id, reason, expires_at, created_at FROM bans WHERE user_id = ? AND repo_id = ?",
		userID, repoID).Scan(&b.ID, &b.UserID, &b.RepoID, &reason, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get ban: %w", err)
	}
	if reason != nil {
		b.Reason = *reason
	}
	if expiresAt != nil {
		if b.ExpiresAt, err = parseDBTime(*expiresAt); err != nil {
			return nil, fmt.Errorf("datastore: get ban: %w", err)
		}
	}
	if b.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, fmt.Errorf("datastore: get ban: %w", err)
	}
	return b, nil
}

// IsUserBanned reports whether an active ban exists for the pair.
func (s *baseProvider) IsUserBanned(ctx context.Context, userID, repoID int64) (bool, error) {
	var count int
	err := s.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM bans WHERE user_id = ? AND repo_id = ? AND (expires_at IS NULL OR expires_at > ?)",
		userID, repoID, formatDBTime(s.Now())).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("datastore: check ban: %w", err)
	}
	return count > 0, nil
}

// ListActiveBans returns a repository's active bans in creation order.
func (s *baseProvider) ListActiveBans(ctx context.Context, repoID int64) ([]model.BanEntry, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT u.username, b.reason, b.created_at, b.expires_at FROM bans b
		JOIN users u ON u.id = b.user_id
		WHERE b.repo_id = ? AND (b.expires_at IS NULL OR b.expires_at > ?)
		ORDER BY b.created_at, b.id`,
		repoID, formatDBTime(s.Now()))
	if err != nil {
		return nil, fmt.Errorf("datastore: list bans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.BanEntry
	for rows.Next() {
		var e model.BanEntry
		var reason, expiresAt *string
		var createdAt string
		if err := rows.Scan(&e.Username, &reason, &createdAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("datastore: scan ban: %w", err)
		}
		if reason != nil {
			e.Reason = *reason
		}
		if e.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan ban: %w", err)
		}
		if expiresAt != nil {
			if e.ExpiresAt, err = parseDBTime(*expiresAt); err != nil {
				return nil, fmt.Errorf("datastore: scan ban: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteBan removes the pair's ban row if present.
func (s *baseProvider) DeleteBan(ctx context.Context, userID, repoID int64) error {
	if _, err := s.ExecContext(ctx, "DELETE FROM bans WHERE user_id = ? AND repo_id = ?", userID, repoID); err != nil {
		return fmt.Errorf("datastore: delete ban: %w", err)
	}
	return nil
}

// BanPermanent leaves an active ban untouched and otherwise writes a
// permanent ban, replacing any expired row for the pair.
func (s *txProvider) BanPermanent(ctx context.Context, userID, repoID int64, reason string) (*model.Ban, error) {
	defer func() { _ = s.Rollback() }()

	now := formatDBTime(s.Now())
	_, err := s.ExecContext(ctx,
		`INSERT INTO bans (user_id, repo_id, reason, expires_at, created_at) VALUES (?, ?, ?, NULL, ?)
		ON CONFLICT(user_id, repo_id) DO UPDATE SET
			reason = excluded.reason,
			expires_at = NULL,
			created_at = excluded.created_at
		WHERE bans.expires_at IS NOT NULL AND bans.expires_at <= ?`,
		userID, repoID, nullableString(reason), now, now)
	if err != nil {
		return nil, fmt.Errorf("datastore: ban permanent: %w", err)
	}

	b, err := s.GetBan(ctx, userID, repoID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("datastore: ban permanent: row missing after upsert")
	}

	if err := s.Commit(); err != nil {
		return nil, fmt.Errorf("datastore: commit: %w", err)
	}
	return b, nil
}

// BanUntil writes a ban expiring at expiresAt. An active ban keeps its
// creation time, and its reason when reason is empty.
func (s *txProvider) BanUntil(ctx context.Context, userID, repoID int64, expiresAt time.Time, reason string) (*model.Ban, error) {
	defer func() { _ = s.Rollback() }()

	if expiresAt.IsZero() {
		return nil, fmt.Errorf("datastore: ban until: %w", model.ErrInvalidDuration)
	}

	now := formatDBTime(s.Now())
	_, err := s.ExecContext(ctx,
		`INSERT INTO bans (user_id, repo_id, reason, expires_at, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, repo_id) DO UPDATE SET
			reason = CASE
				WHEN (bans.expires_at IS NULL OR bans.expires_at > ?) AND excluded.reason IS NULL THEN bans.reason
				ELSE excluded.reason END,
			created_at = CASE
				WHEN bans.expires_at IS NULL OR bans.expires_at > ? THEN bans.created_at
				ELSE excluded.created_at END,
			expires_at = excluded.expires_at`,
		userID, repoID, nullableString(reason), formatDBTime(expiresAt), now, now, now)
	if err != nil {
		return nil, fmt.Errorf("datastore: ban until: %w", err)
	}

	b, err := s.GetBan(ctx, userID, repoID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("datastore: ban until: row missing after upsert")
	}

	if err := s.Commit(); err != nil {
		return nil, fmt.Errorf("datastore: commit: %w", err)
	}
	return b, nil
}
