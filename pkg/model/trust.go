package model

import "time"

// TrustGrant whitelists a user for moderation commands within one repository.
// At most one grant exists per (user, repository).
type TrustGrant struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	RepoID    int64     `json:"repo_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TrustedUser is a listing row for a repository's whitelist.
type TrustedUser struct {
	Username  string    `json:"username"`
	GrantedAt time.Time `json:"granted_at"`
}
