// Package rbac decides which permission tier an actor holds in a repository
// and whether that tier may issue a given moderation command.
package rbac

import (
	"fmt"

	"github.com/contribution-patrol/patrol/pkg/model"
)

// DeniedError reports an actor whose tier is below the command's requirement.
type DeniedError struct {
	Command  model.CommandKind
	Required model.Tier
	Actual   model.Tier
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s requires tier %s, actor has %s", e.Command, e.Required, e.Actual)
}

// RequiredTier returns the minimum tier for a command. Unrecognised commands
// report ok=false and are never allowed.
func RequiredTier(cmd model.CommandKind) (tier model.Tier, ok bool) {
	switch cmd {
	case model.CommandBan, model.CommandTempBan, model.CommandUnban:
		return model.TierTrusted, true
	case model.CommandWhitelist, model.CommandUnwhitelist:
		return model.TierOwner, true
	default:
		return 0, false
	}
}

// TierFor derives an actor's tier. Ownership is an exact username match and
// takes precedence over a trust grant.
func TierFor(actor, owner string, trusted bool) model.Tier {
	switch {
	case actor != "" && actor == owner:
		return model.TierOwner
	case trusted:
		return model.TierTrusted
	default:
		return model.TierNone
	}
}

// Authorize checks if a tier may issue a command.
func Authorize(tier model.Tier, cmd model.CommandKind) bool {
	required, ok := RequiredTier(cmd)
	if !ok {
		return false
	}
	return tier.Satisfies(required)
}

// Check returns a *DeniedError if the tier may not issue the command, or nil if allowed.
func Check(tier model.Tier, cmd model.CommandKind) error {
	if Authorize(tier, cmd) {
		return nil
	}
	required, ok := RequiredTier(cmd)
	if !ok {
		required = model.TierOwner + 1
	}
	return &DeniedError{Command: cmd, Required: required, Actual: tier}
}
