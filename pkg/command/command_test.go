package command_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/contribution-patrol/patrol/pkg/command"
	"github.com/contribution-patrol/patrol/pkg/datastore"
	"github.com/contribution-patrol/patrol/pkg/model"
	"github.com/contribution-patrol/patrol/pkg/moderation"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const mention = command.DefaultMention

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   command.Invocation
		wantOK bool
	}{
		{
			name:   "verb_and_args",
			text:   "@contribution-patrol ban spammer flooding issues",
			want:   command.Invocation{Verb: "ban", Args: []string{"spammer", "flooding", "issues"}},
			wantOK: true,
		},
		{
			name:   "surrounding_text",
			text:   "Please stop.\n@contribution-patrol   tempban bob 7\nthanks",
			want:   command.Invocation{Verb: "tempban", Args: []string{"bob", "7"}},
			wantOK: true,
		},
		{
			name:   "verb_only",
			text:   "@contribution-patrol unban",
			want:   command.Invocation{Verb: "unban", Args: []string{}},
			wantOK: true,
		},
		{
			name: "no_mention",
			text: "ban spammer",
		},
		{
			name: "mention_without_verb",
			text: "@contribution-patrol",
		},
		{
			name:   "verb_on_next_line",
			text:   "@contribution-patrol\nban spammer",
			want:   command.Invocation{Verb: "ban", Args: []string{"spammer"}},
			wantOK: true,
		},
		{
			name:   "verb_after_blank_line",
			text:   "@contribution-patrol\n\nban spammer flooding\nsecond line",
			want:   command.Invocation{Verb: "ban", Args: []string{"spammer", "flooding"}},
			wantOK: true,
		},
		{
			name: "only_whitespace_after_mention",
			text: "hello @contribution-patrol \n \n",
		},
		{
			name: "longer_handle",
			text: "@contribution-patrol-bot ban spammer",
		},
		{
			name:   "punctuation_before_mention",
			text:   "cc:@contribution-patrol ban bob",
			want:   command.Invocation{Verb: "ban", Args: []string{"bob"}},
			wantOK: true,
		},
		{
			name:   "parenthesised_mention",
			text:   "(@contribution-patrol ban bob)",
			want:   command.Invocation{Verb: "ban", Args: []string{"bob)"}},
			wantOK: true,
		},
		{
			name:   "glued_mentions_use_second",
			text:   "@contribution-patrol@contribution-patrol ban spammer",
			want:   command.Invocation{Verb: "ban", Args: []string{"spammer"}},
			wantOK: true,
		},
		{
			name:   "second_mention_matches",
			text:   "cc @contribution-patrol-dev and @contribution-patrol whitelist alice",
			want:   command.Invocation{Verb: "whitelist", Args: []string{"alice"}},
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := command.Parse(tt.text, mention)
			if ok != tt.wantOK {
				t.Fatalf("Parse ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Parse mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type fixture struct {
	now   time.Time
	st    *datastore.MemoryStore
	bans  *moderation.BanLedger
	trust *moderation.TrustRegistry
	res   *moderation.Resolver
	repo  *model.Repository
	d     *command.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	f.st = datastore.NewMemoryWithClock(func() time.Time { return f.now })
	repos := moderation.NewRepositories(f.st, nil)
	f.bans = moderation.NewBanLedger(f.st, nil)
	f.trust = moderation.NewTrustRegistry(f.st, nil)
	f.res = moderation.NewResolver(f.st, nil)

	repo, err := repos.Register(context.Background(), "owner", "project")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	f.repo = repo

	f.d = command.NewDispatcher("", command.Dependencies{
		Repositories: repos,
		Resolver:     f.res,
		Trust:        f.trust,
		Bans:         f.bans,
	})
	return f
}

func (f *fixture) handle(actor, text string) command.Outcome {
	return f.d.Handle(context.Background(), command.Request{
		Text:     text,
		Actor:    actor,
		Owner:    "owner",
		RepoName: "project",
	})
}

func (f *fixture) trustUser(t *testing.T, username string) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.res.Resolve(ctx, username); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := f.trust.Grant(ctx, username, f.repo.ID); err != nil {
		t.Fatalf("Grant: %v", err)
	}
}

func (f *fixture) ban(t *testing.T, username string) *model.Ban {
	t.Helper()
	u, err := f.st.GetUserByUsername(context.Background(), username)
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u == nil {
		return nil
	}
	b, err := f.st.GetBan(context.Background(), u.ID, f.repo.ID)
	if err != nil {
		t.Fatalf("GetBan: %v", err)
	}
	return b
}

var ignoreMessage = cmpopts.IgnoreFields(command.Outcome{}, "Message")

func TestOwnerBans(t *testing.T) {
	f := newFixture(t)

	out := f.handle("owner", "@contribution-patrol ban spammer flooding issues")
	want := command.Outcome{Kind: command.Success, Command: model.CommandBan}
	if diff := cmp.Diff(want, out, ignoreMessage); diff != "" {
		t.Fatalf("Handle mismatch (-want +got):\n%s", diff)
	}
	if out.Message != "✅ User @spammer has been permanently banned from this repository.\nReason: flooding issues" {
		t.Errorf("Message = %q", out.Message)
	}

	b := f.ban(t, "spammer")
	if b == nil || !b.Permanent() || b.Reason != "flooding issues" {
		t.Fatalf("ban row = %+v, want permanent with reason", b)
	}
}

func TestUntrustedActorDenied(t *testing.T) {
	f := newFixture(t)

	out := f.handle("stranger", "@contribution-patrol ban spammer flooding issues")
	want := command.Outcome{Kind: command.Rejected, Reason: command.ReasonPermissionDenied, Command: model.CommandBan}
	if diff := cmp.Diff(want, out, ignoreMessage); diff != "" {
		t.Fatalf("Handle mismatch (-want +got):\n%s", diff)
	}
	if f.ban(t, "spammer") != nil {
		t.Errorf("ban row created for denied command")
	}
}

func TestTrustedTempBan(t *testing.T) {
	f := newFixture(t)
	f.trustUser(t, "helper")

	out := f.handle("helper", "@contribution-patrol tempban bob 7")
	if out.Kind != command.Success {
		t.Fatalf("Handle = %+v, want success", out)
	}
	b := f.ban(t, "bob")
	if b == nil {
		t.Fatalf("no ban row for bob")
	}
	if !b.ExpiresAt.Equal(f.now.AddDate(0, 0, 7)) {
		t.Errorf("ExpiresAt = %v, want %v", b.ExpiresAt, f.now.AddDate(0, 0, 7))
	}
	if b.Reason != "" {
		t.Errorf("Reason = %q, want empty", b.Reason)
	}
}

func TestTrustedCannotWhitelist(t *testing.T) {
	f := newFixture(t)
	f.trustUser(t, "helper")

	out := f.handle("helper", "@contribution-patrol whitelist friend")
	want := command.Outcome{
		Kind:    command.Rejected,
		Reason:  command.ReasonPermissionDenied,
		Command: model.CommandWhitelist,
		Message: "❌ Only repository maintainers can use the whitelist command.",
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("Handle mismatch (-want +got):\n%s", diff)
	}

	trusted, err := f.trust.IsTrusted(context.Background(), "friend", f.repo.ID)
	if err != nil || trusted {
		t.Errorf("IsTrusted(friend) = %v, %v; want false, nil", trusted, err)
	}
}

func TestWhitelistFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if out := f.handle("owner", "@contribution-patrol whitelist @helper"); out.Kind != command.Success {
		t.Fatalf("whitelist = %+v, want success", out)
	}
	if out := f.handle("helper", "@contribution-patrol ban spammer"); out.Kind != command.Success {
		t.Fatalf("ban by trusted = %+v, want success", out)
	}
	if out := f.handle("owner", "@contribution-patrol unwhitelist helper"); out.Kind != command.Success {
		t.Fatalf("unwhitelist = %+v, want success", out)
	}
	trusted, err := f.trust.IsTrusted(ctx, "helper", f.repo.ID)
	if err != nil || trusted {
		t.Fatalf("IsTrusted after unwhitelist = %v, %v; want false, nil", trusted, err)
	}
	if out := f.handle("helper", "@contribution-patrol unban spammer"); out.Reason != command.ReasonPermissionDenied {
		t.Fatalf("unban by former helper = %+v, want permission denied", out)
	}
}

func TestNormalization(t *testing.T) {
	f := newFixture(t)

	f.handle("owner", "@contribution-patrol ban @bob")
	f.handle("owner", "@contribution-patrol ban bob")

	users, err := f.st.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 || users[0].Username != "bob" {
		t.Errorf("users = %+v, want exactly bob", users)
	}
}

func TestUnbanUnknownTarget(t *testing.T) {
	f := newFixture(t)

	out := f.handle("owner", "@contribution-patrol unban never-seen")
	if out.Kind != command.Success {
		t.Fatalf("Handle = %+v, want success", out)
	}
	if u, _ := f.st.GetUserByUsername(context.Background(), "never-seen"); u != nil {
		t.Errorf("unban created identity %+v", u)
	}

	out = f.handle("owner", "@contribution-patrol unwhitelist never-seen")
	if out.Kind != command.Success {
		t.Fatalf("unwhitelist = %+v, want success", out)
	}
}

func TestRejections(t *testing.T) {
	tests := []struct {
		name       string
		actor      string
		text       string
		owner      string
		wantReason command.Reason
		wantMsg    string
	}{
		{
			name:       "missing_target",
			actor:      "owner",
			text:       "@contribution-patrol ban",
			wantReason: command.ReasonUserInput,
			wantMsg:    "❌ Usage: `@contribution-patrol ban <username> [reason]`",
		},
		{
			name:       "missing_days",
			actor:      "owner",
			text:       "@contribution-patrol tempban bob",
			wantReason: command.ReasonUserInput,
			wantMsg:    "❌ Usage: `@contribution-patrol tempban <username> <days> [reason]`",
		},
		{
			name:       "zero_days",
			actor:      "owner",
			text:       "@contribution-patrol tempban bob 0",
			wantReason: command.ReasonUserInput,
			wantMsg:    "❌ Days must be a positive number",
		},
		{
			name:       "non_numeric_days",
			actor:      "owner",
			text:       "@contribution-patrol tempban bob 7d",
			wantReason: command.ReasonUserInput,
			wantMsg:    "❌ Days must be a positive number",
		},
		{
			name:       "bare_at_target",
			actor:      "owner",
			text:       "@contribution-patrol unban @",
			wantReason: command.ReasonUserInput,
			wantMsg:    "❌ Usage: `@contribution-patrol unban <username>`",
		},
		{
			name:       "invalid_target",
			actor:      "owner",
			text:       "@contribution-patrol ban bad;name",
			wantReason: command.ReasonUserInput,
		},
		{
			name:       "unknown_command",
			actor:      "owner",
			text:       "@contribution-patrol kick bob",
			wantReason: command.ReasonUnknownCommand,
		},
		{
			name:       "unregistered_repository",
			actor:      "someone",
			owner:      "someone",
			text:       "@contribution-patrol ban bob",
			wantReason: command.ReasonNotFound,
			wantMsg:    "❌ Repository not registered. Please reinstall the app.",
		},
		{
			name:       "untrusted_ban",
			actor:      "stranger",
			text:       "@contribution-patrol unban bob",
			wantReason: command.ReasonPermissionDenied,
			wantMsg:    "❌ You must be a repository maintainer or whitelisted user to use moderation commands.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			owner := tt.owner
			if owner == "" {
				owner = "owner"
			}
			out := f.d.Handle(context.Background(), command.Request{
				Text:     tt.text,
				Actor:    tt.actor,
				Owner:    owner,
				RepoName: "project",
			})
			if out.Kind != command.Rejected || out.Reason != tt.wantReason {
				t.Fatalf("Handle = %+v, want rejected/%s", out, tt.wantReason)
			}
			if tt.wantMsg != "" && out.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", out.Message, tt.wantMsg)
			}
			users, err := f.st.ListUsers(context.Background())
			if err != nil {
				t.Fatalf("ListUsers: %v", err)
			}
			if len(users) != 0 {
				t.Errorf("rejected command created users: %+v", users)
			}
		})
	}
}

func TestUnknownCommandListsCommands(t *testing.T) {
	f := newFixture(t)

	out := f.handle("owner", "@contribution-patrol KICK bob")
	if !strings.HasPrefix(out.Message, "❌ Unknown command: `KICK`") {
		t.Errorf("Message = %q, want unknown-command prefix", out.Message)
	}
	for _, cmd := range model.Commands {
		if !strings.Contains(out.Message, cmd.Syntax()) {
			t.Errorf("Message missing %q", cmd.Syntax())
		}
	}
}

func TestVerbCaseInsensitive(t *testing.T) {
	f := newFixture(t)

	if out := f.handle("owner", "@contribution-patrol BAN spammer"); out.Kind != command.Success {
		t.Fatalf("Handle = %+v, want success", out)
	}
}

func TestIgnored(t *testing.T) {
	f := newFixture(t)

	for _, text := range []string{"", "just a comment", "@contribution-patrol", "@contribution-patrol   "} {
		if out := f.handle("owner", text); out.Kind != command.Ignored || out.Message != "" {
			t.Errorf("Handle(%q) = %+v, want ignored", text, out)
		}
	}
}

func TestBanKeepsExistingTempBan(t *testing.T) {
	f := newFixture(t)

	f.handle("owner", "@contribution-patrol tempban bob 3 noisy")
	out := f.handle("owner", "@contribution-patrol ban bob")
	if out.Kind != command.Success {
		t.Fatalf("Handle = %+v, want success", out)
	}
	if !strings.Contains(out.Message, "already banned") {
		t.Errorf("Message = %q, want already-banned notice", out.Message)
	}
	if b := f.ban(t, "bob"); b == nil || b.Permanent() {
		t.Errorf("ban row = %+v, want the existing temp ban", b)
	}
}

type failingBans struct{ command.BanLedger }

func (failingBans) Ban(context.Context, string, int64, string) (*model.Ban, error) {
	return nil, errors.New("disk I/O error")
}

func TestStorageFailure(t *testing.T) {
	f := newFixture(t)
	repos := moderation.NewRepositories(f.st, nil)
	d := command.NewDispatcher(mention, command.Dependencies{
		Repositories: repos,
		Resolver:     f.res,
		Trust:        f.trust,
		Bans:         failingBans{BanLedger: f.bans},
	})

	out := d.Handle(context.Background(), command.Request{
		Text:     "@contribution-patrol ban bob",
		Actor:    "owner",
		Owner:    "owner",
		RepoName: "project",
	})
	want := command.Outcome{
		Kind:    command.Rejected,
		Reason:  command.ReasonStorageFailure,
		Command: model.CommandBan,
		Message: "❌ Failed to ban user due to an internal error. Please try again later.",
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("Handle mismatch (-want +got):\n%s", diff)
	}
}

func TestCustomMention(t *testing.T) {
	f := newFixture(t)
	repos := moderation.NewRepositories(f.st, nil)
	d := command.NewDispatcher("@patrol", command.Dependencies{
		Repositories: repos,
		Resolver:     f.res,
		Trust:        f.trust,
		Bans:         f.bans,
	})
	if d.Mention() != "@patrol" {
		t.Fatalf("Mention = %q", d.Mention())
	}

	out := d.Handle(context.Background(), command.Request{
		Text: "@patrol ban", Actor: "owner", Owner: "owner", RepoName: "project",
	})
	if out.Message != "❌ Usage: `@patrol ban <username> [reason]`" {
		t.Errorf("Message = %q", out.Message)
	}
}
