package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/contribution-patrol/patrol/pkg/model"
)

const expiryLayout = "2006-01-02 15:04 UTC"

func describe(cmd model.CommandKind) string {
	switch cmd {
	case model.CommandBan:
		return "Permanently ban a user (maintainer/whitelist)"
	case model.CommandTempBan:
		return "Temporarily ban a user (maintainer/whitelist)"
	case model.CommandUnban:
		return "Unban a user (maintainer/whitelist)"
	case model.CommandWhitelist:
		return "Add user to whitelist (maintainer only)"
	case model.CommandUnwhitelist:
		return "Remove user from whitelist (maintainer only)"
	default:
		return ""
	}
}

func usageMessage(mention string, cmd model.CommandKind) string {
	return fmt.Sprintf("❌ Usage: `%s %s`", mention, cmd.Syntax())
}

func unknownCommandMessage(verb string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "❌ Unknown command: `%s`\n\nAvailable commands:", verb)
	for _, cmd := range model.Commands {
		fmt.Fprintf(&b, "\n- `%s` - %s", cmd.Syntax(), describe(cmd))
	}
	return b.String()
}

func invalidUsernameMessage(name string, err error) string {
	return fmt.Sprintf("❌ Invalid username `%s`: %v", name, err)
}

const (
	invalidDurationMessage   = "❌ Days must be a positive number"
	repoNotRegisteredMessage = "❌ Repository not registered. Please reinstall the app."
	notModeratorMessage      = "❌ You must be a repository maintainer or whitelisted user to use moderation commands."
)

func durationTooLongMessage() string {
	return fmt.Sprintf("❌ Days must not exceed %d", model.MaxTempBanDays)
}

func ownerOnlyMessage(cmd model.CommandKind) string {
	return fmt.Sprintf("❌ Only repository maintainers can use the %s command.", cmd)
}

func failureMessage(cmd model.CommandKind) string {
	var action string
	switch cmd {
	case model.CommandBan:
		action = "ban user"
	case model.CommandTempBan:
		action = "temp ban user"
	case model.CommandUnban:
		action = "unban user"
	case model.CommandWhitelist:
		action = "whitelist user"
	case model.CommandUnwhitelist:
		action = "unwhitelist user"
	default:
		action = "run command"
	}
	return fmt.Sprintf("❌ Failed to %s due to an internal error. Please try again later.", action)
}

func withReason(msg, reason string) string {
	if reason == "" {
		return msg
	}
	return msg + "\nReason: " + reason
}

func bannedMessage(target string, b *model.Ban) string {
	if !b.Permanent() {
		return fmt.Sprintf("✅ User @%s is already banned from this repository until %s.",
			target, b.ExpiresAt.UTC().Format(expiryLayout))
	}
	return withReason(fmt.Sprintf("✅ User @%s has been permanently banned from this repository.", target), b.Reason)
}

func tempBannedMessage(target string, days int, expiresAt time.Time, reason string) string {
	return withReason(fmt.Sprintf("✅ User @%s has been temporarily banned for %d day(s), until %s.",
		target, days, expiresAt.UTC().Format(expiryLayout)), reason)
}

func unbannedMessage(target string) string {
	return fmt.Sprintf("✅ User @%s has been unbanned from this repository.", target)
}

func whitelistedMessage(target string) string {
	return fmt.Sprintf("✅ User @%s has been added to the whitelist and can now use moderation commands.", target)
}

func unwhitelistedMessage(target string) string {
	return fmt.Sprintf("✅ User @%s has been removed from the whitelist.", target)
}
