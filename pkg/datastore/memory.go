package datastore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/contribution-patrol/patrol/pkg/model"
)

// MemoryStore provides an in-memory DataStore implementation for tests.
// It mirrors SQLite behavior for validation, uniqueness and cascades.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	nextUserID  int64
	nextRepoID  int64
	nextGrantID int64
	nextBanID   int64

	usersByID       map[int64]*model.User
	usersByUsername map[string]*model.User
	reposByID       map[int64]*model.Repository
	grants          map[pairKey]*model.TrustGrant
	bans            map[pairKey]*model.Ban
}

type pairKey struct {
	userID int64
	repoID int64
}

// memoryTx runs each call under the store lock; Commit and Rollback have nothing to do.
type memoryTx struct {
	*MemoryStore
}

func (memoryTx) Commit() error   { return nil }
func (memoryTx) Rollback() error { return nil }

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:             now,
		nextUserID:      1,
		nextRepoID:      1,
		nextGrantID:     1,
		nextBanID:       1,
		usersByID:       make(map[int64]*model.User),
		usersByUsername: make(map[string]*model.User),
		reposByID:       make(map[int64]*model.Repository),
		grants:          make(map[pairKey]*model.TrustGrant),
		bans:            make(map[pairKey]*model.Ban),
	}
}

func (s *MemoryStore) NonTx() DataStore {
	return s
}

func (s *MemoryStore) Tx(context.Context) (DataStoreTx, error) {
	return memoryTx{MemoryStore: s}, nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) Now() time.Time {
	return s.now().UTC()
}

// ---- Users ----

func (s *MemoryStore) ResolveUser(_ context.Context, username string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("datastore: resolve user: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.usersByUsername[username]; ok {
		copyUser := *u
		return &copyUser, nil
	}
	u := &model.User{
		ID:        s.nextUserID,
		Username:  username,
		CreatedAt: s.Now(),
	}
	s.nextUserID++
	s.usersByID[u.ID] = u
	s.usersByUsername[username] = u

	copyUser := *u
	return &copyUser, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.usersByUsername[username]
	if !ok {
		return nil, nil
	}
	copyUser := *u
	return &copyUser, nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id int64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.usersByID[id]
	if !ok {
		return nil, nil
	}
	copyUser := *u
	return &copyUser, nil
}

func (s *MemoryStore) ListUsers(context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []model.User
	for _, u := range s.usersByID {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByID[id]
	if !ok {
		return nil
	}
	delete(s.usersByID, id)
	delete(s.usersByUsername, u.Username)
	for k := range s.grants {
		if k.userID == id {
			delete(s.grants, k)
		}
	}
	for k := range s.bans {
		if k.userID == id {
			delete(s.bans, k)
		}
	}
	return nil
}

// ---- Repositories ----

func (s *MemoryStore) RegisterRepository(_ context.Context, owner, name string) (*model.Repository, error) {
	if err := model.ValidateUsername(owner); err != nil {
		return nil, fmt.Errorf("datastore: register repository: owner: %w", err)
	}
	if err := model.ValidateRepositoryName(name); err != nil {
		return nil, fmt.Errorf("datastore: register repository: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if r := s.findRepository(owner, name); r != nil {
		copyRepo := *r
		return &copyRepo, nil
	}
	r := &model.Repository{
		ID:            s.nextRepoID,
		OwnerUsername: owner,
		Name:          name,
		CreatedAt:     s.Now(),
	}
	s.nextRepoID++
	s.reposByID[r.ID] = r

	copyRepo := *r
	return &copyRepo, nil
}

func (s *MemoryStore) findRepository(owner, name string) *model.Repository {
	for _, r := range s.reposByID {
		if r.OwnerUsername == owner && r.Name == name {
			return r
		}
	}
	return nil
}

func (s *MemoryStore) GetRepository(_ context.Context, owner, name string) (*model.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.findRepository(owner, name)
	if r == nil {
		return nil, nil
	}
	copyRepo := *r
	return &copyRepo, nil
}

func (s *MemoryStore) GetRepositoryByID(_ context.Context, id int64) (*model.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reposByID[id]
	if !ok {
		return nil, nil
	}
	copyRepo := *r
	return &copyRepo, nil
}

func (s *MemoryStore) ListRepositories(context.Context) ([]model.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var repos []model.Repository
	for _, r := range s.reposByID {
		repos = append(repos, *r)
	}
	sort.Slice(repos, func(i, j int) bool {
		if repos[i].OwnerUsername != repos[j].OwnerUsername {
			return repos[i].OwnerUsername < repos[j].OwnerUsername
		}
		return repos[i].Name < repos[j].Name
	})
	return repos, nil
}

func (s *MemoryStore) DeleteRepository(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.reposByID, id)
	for k := range s.grants {
		if k.repoID == id {
			delete(s.grants, k)
		}
	}
	for k := range s.bans {
		if k.repoID == id {
			delete(s.bans, k)
		}
	}
	return nil
}

// checkRefs mirrors the SQLite foreign keys. Callers hold s.mu.
func (s *MemoryStore) checkRefs(userID, repoID int64) error {
	if _, ok := s.usersByID[userID]; !ok {
		return fmt.Errorf("user %d: %w", userID, model.ErrNotFound)
	}
	if _, ok := s.reposByID[repoID]; !ok {
		return fmt.Errorf("repository %d: %w", repoID, model.ErrNotFound)
	}
	return nil
}

// ---- Trust ----

func (s *MemoryStore) GrantTrust(_ context.Context, userID, repoID int64) (*model.TrustGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRefs(userID, repoID); err != nil {
		return nil, fmt.Errorf("datastore: grant trust: %w", err)
	}
	key := pairKey{userID, repoID}
	if g, ok := s.grants[key]; ok {
		copyGrant := *g
		return &copyGrant, nil
	}
	g := &model.TrustGrant{
		ID:        s.nextGrantID,
		UserID:    userID,
		RepoID:    repoID,
		CreatedAt: s.Now(),
	}
	s.nextGrantID++
	s.grants[key] = g

	copyGrant := *g
	return &copyGrant, nil
}

func (s *MemoryStore) RevokeTrust(_ context.Context, userID, repoID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.grants, pairKey{userID, repoID})
	return nil
}

func (s *MemoryStore) IsTrusted(_ context.Context, userID, repoID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.grants[pairKey{userID, repoID}]
	return ok, nil
}

func (s *MemoryStore) ListTrusted(_ context.Context, repoID int64) ([]model.TrustedUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var grants []*model.TrustGrant
	for k, g := range s.grants {
		if k.repoID == repoID {
			grants = append(grants, g)
		}
	}
	sort.Slice(grants, func(i, j int) bool {
		if !grants[i].CreatedAt.Equal(grants[j].CreatedAt) {
			return grants[i].CreatedAt.Before(grants[j].CreatedAt)
		}
		return grants[i].ID < grants[j].ID
	})

	var out []model.TrustedUser
	for _, g := range grants {
		out = append(out, model.TrustedUser{
			Username:  s.usersByID[g.UserID].Username,
			GrantedAt: g.CreatedAt,
		})
	}
	return out, nil
}

// ---- Bans ----

func (s *MemoryStore) GetBan(_ context.Context, userID, repoID int64) (*model.Ban, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bans[pairKey{userID, repoID}]
	if !ok {
		return nil, nil
	}
	copyBan := *b
	return &copyBan, nil
}

func (s *MemoryStore) IsUserBanned(_ context.Context, userID, repoID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bans[pairKey{userID, repoID}]
	return ok && b.ActiveAt(s.Now()), nil
}

func (s *MemoryStore) ListActiveBans(_ context.Context, repoID int64) ([]model.BanEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.Now()
	var bans []*model.Ban
	for k, b := range s.bans {
		if k.repoID == repoID && b.ActiveAt(now) {
			bans = append(bans, b)
		}
	}
	sort.Slice(bans, func(i, j int) bool {
		if !bans[i].CreatedAt.Equal(bans[j].CreatedAt) {
			return bans[i].CreatedAt.Before(bans[j].CreatedAt)
		}
		return bans[i].ID < bans[j].ID
	})

	var out []model.BanEntry
	for _, b := range bans {
		out = append(out, model.BanEntry{
			Username:  s.usersByID[b.UserID].Username,
			Reason:    b.Reason,
			CreatedAt: b.CreatedAt,
			ExpiresAt: b.ExpiresAt,
		})
	}
	return out, nil
}

func (s *MemoryStore) DeleteBan(_ context.Context, userID, repoID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.bans, pairKey{userID, repoID})
	return nil
}

func (s *MemoryStore) BanPermanent(_ context.Context, userID, repoID int64, reason string) (*model.Ban, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRefs(userID, repoID); err != nil {
		return nil, fmt.Errorf("datastore: ban permanent: %w", err)
	}
	now := s.Now()
	key := pairKey{userID, repoID}
	if b, ok := s.bans[key]; ok && b.ActiveAt(now) {
		copyBan := *b
		return &copyBan, nil
	}
	b := s.putBan(key, reason, time.Time{}, now)
	copyBan := *b
	return &copyBan, nil
}

func (s *MemoryStore) BanUntil(_ context.Context, userID, repoID int64, expiresAt time.Time, reason string) (*model.Ban, error) {
	if expiresAt.IsZero() {
		return nil, fmt.Errorf("datastore: ban until: %w", model.ErrInvalidDuration)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRefs(userID, repoID); err != nil {
		return nil, fmt.Errorf("datastore: ban until: %w", err)
	}
	now := s.Now()
	key := pairKey{userID, repoID}
	if b, ok := s.bans[key]; ok && b.ActiveAt(now) {
		b.ExpiresAt = expiresAt.UTC()
		if reason != "" {
			b.Reason = reason
		}
		copyBan := *b
		return &copyBan, nil
	}
	b := s.putBan(key, reason, expiresAt.UTC(), now)
	copyBan := *b
	return &copyBan, nil
}

// putBan replaces the pair's row in place, keeping its ID like the SQLite upsert does.
func (s *MemoryStore) putBan(key pairKey, reason string, expiresAt, now time.Time) *model.Ban {
	b, ok := s.bans[key]
	if !ok {
		b = &model.Ban{ID: s.nextBanID, UserID: key.userID, RepoID: key.repoID}
		s.nextBanID++
		s.bans[key] = b
	}
	b.Reason = reason
	b.ExpiresAt = expiresAt
	b.CreatedAt = now
	return b
}
