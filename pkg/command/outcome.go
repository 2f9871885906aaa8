package command

import "github.com/contribution-patrol/patrol/pkg/model"

// Kind classifies how an invocation ended.
type Kind int

const (
	Ignored Kind = iota // no trigger or no verb; nothing to report
	Success
	Rejected
)

func (k Kind) String() string {
	switch k {
	case Ignored:
		return "ignored"
	case Success:
		return "success"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Reason explains a Rejected outcome.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonUserInput
	ReasonPermissionDenied
	ReasonNotFound
	ReasonUnknownCommand
	ReasonStorageFailure
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonUserInput:
		return "user_input"
	case ReasonPermissionDenied:
		return "permission_denied"
	case ReasonNotFound:
		return "not_found"
	case ReasonUnknownCommand:
		return "unknown_command"
	case ReasonStorageFailure:
		return "storage_failure"
	default:
		return "unknown"
	}
}

// Outcome is the result of handling one piece of text. Message is the reply
// to post back into the conversation; it is empty for Ignored.
type Outcome struct {
	Kind    Kind
	Reason  Reason
	Command model.CommandKind
	Message string
}

func ignored() Outcome {
	return Outcome{Kind: Ignored}
}

func success(cmd model.CommandKind, msg string) Outcome {
	return Outcome{Kind: Success, Command: cmd, Message: msg}
}

func rejected(cmd model.CommandKind, reason Reason, msg string) Outcome {
	return Outcome{Kind: Rejected, Reason: reason, Command: cmd, Message: msg}
}
