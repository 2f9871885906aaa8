package model

import "strings"

// CommandKind is the closed set of moderation commands.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandBan
	CommandTempBan
	CommandUnban
	CommandWhitelist
	CommandUnwhitelist
)

// Commands lists every recognised command in help order.
var Commands = []CommandKind{
	CommandBan,
	CommandTempBan,
	CommandUnban,
	CommandWhitelist,
	CommandUnwhitelist,
}

func (c CommandKind) String() string {
	switch c {
	case CommandBan:
		return "ban"
	case CommandTempBan:
		return "tempban"
	case CommandUnban:
		return "unban"
	case CommandWhitelist:
		return "whitelist"
	case CommandUnwhitelist:
		return "unwhitelist"
	default:
		return "unknown"
	}
}

// ParseCommandKind maps a verb to its command, case-insensitively.
func ParseCommandKind(verb string) CommandKind {
	switch strings.ToLower(verb) {
	case "ban":
		return CommandBan
	case "tempban":
		return CommandTempBan
	case "unban":
		return CommandUnban
	case "whitelist":
		return CommandWhitelist
	case "unwhitelist":
		return CommandUnwhitelist
	default:
		return CommandUnknown
	}
}

// Syntax returns the argument synopsis, e.g. "ban <username> [reason]".
func (c CommandKind) Syntax() string {
	switch c {
	case CommandBan:
		return "ban <username> [reason]"
	case CommandTempBan:
		return "tempban <username> <days> [reason]"
	case CommandUnban:
		return "unban <username>"
	case CommandWhitelist:
		return "whitelist <username>"
	case CommandUnwhitelist:
		return "unwhitelist <username>"
	default:
		return ""
	}
}
