// Package command turns mention-triggered comment text into authorized
// moderation actions and a reply for the conversation.
package command

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/contribution-patrol/patrol/pkg/model"
	"github.com/contribution-patrol/patrol/pkg/rbac"
)

// DefaultMention is the trigger token used when none is configured.
const DefaultMention = "@contribution-patrol"

// RepositoryLookup finds registered repositories.
type RepositoryLookup interface {
	Lookup(ctx context.Context, owner, name string) (*model.Repository, error)
}

// IdentityResolver creates or returns the user behind a username.
type IdentityResolver interface {
	Resolve(ctx context.Context, username string) (*model.User, error)
}

// TrustRegistry reads and edits a repository's whitelist.
type TrustRegistry interface {
	Grant(ctx context.Context, username string, repoID int64) (*model.TrustGrant, error)
	Revoke(ctx context.Context, username string, repoID int64) error
	IsTrusted(ctx context.Context, username string, repoID int64) (bool, error)
}

// BanLedger records and lifts bans.
type BanLedger interface {
	Ban(ctx context.Context, username string, repoID int64, reason string) (*model.Ban, error)
	TempBan(ctx context.Context, username string, repoID int64, days int, reason string) (*model.Ban, error)
	Unban(ctx context.Context, username string, repoID int64) error
}

// Dependencies holds the collaborators a Dispatcher acts through.
type Dependencies struct {
	Repositories RepositoryLookup
	Resolver     IdentityResolver
	Trust        TrustRegistry
	Bans         BanLedger
	Logger       *slog.Logger
}

// Request is one piece of text addressed to the bot, with the context it was posted in.
type Request struct {
	Text     string
	Actor    string
	Owner    string
	RepoName string
}

// Dispatcher is stateless between calls: every Handle re-resolves the
// repository and re-derives the actor's tier.
type Dispatcher struct {
	mention string
	deps    Dependencies
	logger  *slog.Logger
}

// NewDispatcher returns a Dispatcher triggered by mention, or DefaultMention when empty.
func NewDispatcher(mention string, deps Dependencies) *Dispatcher {
	if mention == "" {
		mention = DefaultMention
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		mention: mention,
		deps:    deps,
		logger:  logger.With("component", "dispatcher"),
	}
}

// Mention returns the trigger token.
func (d *Dispatcher) Mention() string {
	return d.mention
}

// args are the validated arguments of one command.
type args struct {
	target string
	days   int
	reason string
}

// Handle runs one invocation end to end and always returns an Outcome.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Outcome {
	inv, ok := Parse(req.Text, d.mention)
	if !ok {
		return ignored()
	}

	cmd := model.ParseCommandKind(inv.Verb)
	if _, known := rbac.RequiredTier(cmd); !known {
		return rejected(cmd, ReasonUnknownCommand, unknownCommandMessage(inv.Verb))
	}

	a, out, ok := d.extract(cmd, inv.Args)
	if !ok {
		return out
	}

	logger := d.logger.With("command", cmd.String(), "actor", req.Actor, "repo", req.Owner+"/"+req.RepoName)

	repo, err := d.deps.Repositories.Lookup(ctx, req.Owner, req.RepoName)
	if err != nil {
		logger.Error("repository lookup failed", "err", err)
		return rejected(cmd, ReasonStorageFailure, failureMessage(cmd))
	}
	if repo == nil {
		return rejected(cmd, ReasonNotFound, repoNotRegisteredMessage)
	}

	tier, err := d.tierOf(ctx, req.Actor, repo)
	if err != nil {
		logger.Error("tier lookup failed", "err", err)
		return rejected(cmd, ReasonStorageFailure, failureMessage(cmd))
	}
	if err := rbac.Check(tier, cmd); err != nil {
		var denied *rbac.DeniedError
		if errors.As(err, &denied) && denied.Required == model.TierOwner {
			return rejected(cmd, ReasonPermissionDenied, ownerOnlyMessage(cmd))
		}
		return rejected(cmd, ReasonPermissionDenied, notModeratorMessage)
	}

	out, err = d.execute(ctx, cmd, a, repo)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return rejected(cmd, ReasonNotFound, repoNotRegisteredMessage)
		}
		if errors.Is(err, model.ErrInvalidDuration) {
			return rejected(cmd, ReasonUserInput, invalidDurationMessage)
		}
		logger.Error("command failed", "target", a.target, "err", err)
		return rejected(cmd, ReasonStorageFailure, failureMessage(cmd))
	}
	logger.Info("command executed", "target", a.target)
	return out
}

// extract validates positional arguments. No storage is touched.
func (d *Dispatcher) extract(cmd model.CommandKind, raw []string) (args, Outcome, bool) {
	minArgs := 1
	if cmd == model.CommandTempBan {
		minArgs = 2
	}
	if len(raw) < minArgs {
		return args{}, rejected(cmd, ReasonUserInput, usageMessage(d.mention, cmd)), false
	}

	target := model.NormalizeUsername(raw[0])
	if target == "" {
		return args{}, rejected(cmd, ReasonUserInput, usageMessage(d.mention, cmd)), false
	}
	if err := model.ValidateUsername(target); err != nil {
		return args{}, rejected(cmd, ReasonUserInput, invalidUsernameMessage(raw[0], err)), false
	}
	a := args{target: target}

	switch cmd {
	case model.CommandBan:
		a.reason = strings.Join(raw[1:], " ")
	case model.CommandTempBan:
		days, err := strconv.Atoi(raw[1])
		if err != nil || days <= 0 {
			return args{}, rejected(cmd, ReasonUserInput, invalidDurationMessage), false
		}
		if model.ValidateDuration(days) != nil {
			return args{}, rejected(cmd, ReasonUserInput, durationTooLongMessage()), false
		}
		a.days = days
		a.reason = strings.Join(raw[2:], " ")
	}
	return a, Outcome{}, true
}

func (d *Dispatcher) tierOf(ctx context.Context, actor string, repo *model.Repository) (model.Tier, error) {
	if tier := rbac.TierFor(actor, repo.OwnerUsername, false); tier == model.TierOwner {
		return tier, nil
	}
	trusted, err := d.deps.Trust.IsTrusted(ctx, actor, repo.ID)
	if err != nil {
		return model.TierNone, err
	}
	return rbac.TierFor(actor, repo.OwnerUsername, trusted), nil
}

func (d *Dispatcher) execute(ctx context.Context, cmd model.CommandKind, a args, repo *model.Repository) (Outcome, error) {
	switch cmd {
	case model.CommandBan:
		if _, err := d.deps.Resolver.Resolve(ctx, a.target); err != nil {
			return Outcome{}, err
		}
		b, err := d.deps.Bans.Ban(ctx, a.target, repo.ID, a.reason)
		if err != nil {
			return Outcome{}, err
		}
		return success(cmd, bannedMessage(a.target, b)), nil

	case model.CommandTempBan:
		if _, err := d.deps.Resolver.Resolve(ctx, a.target); err != nil {
			return Outcome{}, err
		}
		b, err := d.deps.Bans.TempBan(ctx, a.target, repo.ID, a.days, a.reason)
		if err != nil {
			return Outcome{}, err
		}
		return success(cmd, tempBannedMessage(a.target, a.days, b.ExpiresAt, b.Reason)), nil

	case model.CommandUnban:
		err := d.deps.Bans.Unban(ctx, a.target, repo.ID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return Outcome{}, err
		}
		return success(cmd, unbannedMessage(a.target)), nil

	case model.CommandWhitelist:
		if _, err := d.deps.Resolver.Resolve(ctx, a.target); err != nil {
			return Outcome{}, err
		}
		if _, err := d.deps.Trust.Grant(ctx, a.target, repo.ID); err != nil {
			return Outcome{}, err
		}
		return success(cmd, whitelistedMessage(a.target)), nil

	case model.CommandUnwhitelist:
		if err := d.deps.Trust.Revoke(ctx, a.target, repo.ID); err != nil && !errors.Is(err, model.ErrNotFound) {
			return Outcome{}, err
		}
		return success(cmd, unwhitelistedMessage(a.target)), nil

	default:
		return rejected(cmd, ReasonUnknownCommand, unknownCommandMessage(cmd.String())), nil
	}
}
