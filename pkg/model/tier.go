package model

import "errors"

var ErrInvalidTier = errors.New("invalid tier: must be none (0), trusted (1), or owner (2)")

// Tier is an actor's permission level within one repository.
// Tiers are strictly ordered: Owner > Trusted > None.
type Tier int

const (
	TierNone    Tier = iota // Neither owner nor whitelisted
	TierTrusted             // Whitelisted for moderation commands
	TierOwner               // Repository owner, may do anything
)

func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierTrusted:
		return "trusted"
	case TierOwner:
		return "owner"
	default:
		return "unknown"
	}
}

// Valid returns true if the tier is a recognised value.
func (t Tier) Valid() bool {
	return t >= TierNone && t <= TierOwner
}

// Satisfies reports whether t meets the required tier.
func (t Tier) Satisfies(required Tier) bool {
	return t.Valid() && t >= required
}
