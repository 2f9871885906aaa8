package model

import "time"

// MaxTempBanDays bounds temp-ban durations so expiry timestamps stay storable.
const MaxTempBanDays = 36500

// Ban is the single ban row for a (user, repository) pair.
type Ban struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	RepoID    int64     `json:"repo_id"`
	Reason    string    `json:"reason"`     // empty = no reason given
	ExpiresAt time.Time `json:"expires_at"` // zero = permanent
	CreatedAt time.Time `json:"created_at"`
}

// Permanent reports whether the ban has no expiry.
func (b Ban) Permanent() bool {
	return b.ExpiresAt.IsZero()
}

// ActiveAt reports whether the ban is in force at now. Expiry is strict:
// a ban expiring exactly at now is no longer active.
func (b Ban) ActiveAt(now time.Time) bool {
	return b.Permanent() || b.ExpiresAt.After(now)
}

// BanEntry is a listing row for a repository's active bans.
type BanEntry struct {
	Username  string    `json:"username"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidateDuration checks a temp-ban duration in days.
func ValidateDuration(days int) error {
	if days <= 0 || days > MaxTempBanDays {
		return ErrInvalidDuration
	}
	return nil
}
