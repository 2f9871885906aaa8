package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/contribution-patrol/patrol/pkg/model"
	"github.com/contribution-patrol/patrol/pkg/moderation"
	"github.com/contribution-patrol/patrol/pkg/server"

	"github.com/urfave/cli/v2"
)

const listTimeLayout = "2006-01-02 15:04 UTC"

var cmdRepos = &cli.Command{
	Name:  "repos",
	Usage: "sub-commands for the repository registry",
	Subcommands: []*cli.Command{
		&cli.Command{
			Name:   "list",
			Usage:  "list registered repositories",
			Action: runReposList,
		},
		&cli.Command{
			Name:      "register",
			Usage:     "register a repository (idempotent)",
			ArgsUsage: `<owner/name>`,
			Action:    runReposRegister,
		},
		&cli.Command{
			Name:      "remove",
			Usage:     "remove a repository with its bans and trust grants",
			ArgsUsage: `<owner/name>`,
			Action:    runReposRemove,
		},
	},
}

var cmdBans = &cli.Command{
	Name:  "bans",
	Usage: "sub-commands for a repository's ban ledger",
	Subcommands: []*cli.Command{
		&cli.Command{
			Name:      "list",
			Usage:     "list active bans",
			ArgsUsage: `<owner/name>`,
			Action:    runBansList,
		},
		&cli.Command{
			Name:      "add",
			Usage:     "permanently ban a user",
			ArgsUsage: `<owner/name> <username> [reason...]`,
			Action:    runBansAdd,
		},
		&cli.Command{
			Name:      "temp",
			Usage:     "ban a user for a number of days",
			ArgsUsage: `<owner/name> <username> <days> [reason...]`,
			Action:    runBansTemp,
		},
		&cli.Command{
			Name:      "remove",
			Usage:     "lift a user's ban",
			ArgsUsage: `<owner/name> <username>`,
			Action:    runBansRemove,
		},
	},
}

var cmdTrust = &cli.Command{
	Name:  "trust",
	Usage: "sub-commands for a repository's whitelist",
	Subcommands: []*cli.Command{
		&cli.Command{
			Name:      "list",
			Usage:     "list trusted users",
			ArgsUsage: `<owner/name>`,
			Action:    runTrustList,
		},
		&cli.Command{
			Name:      "add",
			Usage:     "whitelist a user",
			ArgsUsage: `<owner/name> <username>`,
			Action:    runTrustAdd,
		},
		&cli.Command{
			Name:      "remove",
			Usage:     "remove a user from the whitelist",
			ArgsUsage: `<owner/name> <username>`,
			Action:    runTrustRemove,
		},
	},
}

var cmdExport = &cli.Command{
	Name:  "export",
	Usage: "print repositories, active bans and trusted users as YAML",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "write to this file instead of stdout",
		},
	},
	Action: runExport,
}

// admin bundles the moderation components for one CLI invocation.
type admin struct {
	out      io.Writer
	close    func() error
	resolver *moderation.Resolver
	repos    *moderation.Repositories
	trust    *moderation.TrustRegistry
	bans     *moderation.BanLedger
}

func openAdmin(cctx *cli.Context) (*admin, error) {
	_, logger, st, err := setup(cctx)
	if err != nil {
		return nil, err
	}
	return &admin{
		out:      cctx.App.Writer,
		close:    st.Close,
		resolver: moderation.NewResolver(st, logger),
		repos:    moderation.NewRepositories(st, logger),
		trust:    moderation.NewTrustRegistry(st, logger),
		bans:     moderation.NewBanLedger(st, logger),
	}, nil
}

// parseRepoArg splits "owner/name".
func parseRepoArg(s string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(s, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("repository must be given as <owner/name>, got %q", s)
	}
	return owner, name, nil
}

// requireArgs checks the positional argument count.
func requireArgs(cctx *cli.Context, n int) error {
	if cctx.NArg() < n {
		return fmt.Errorf("expected %d argument(s): %s", n, cctx.Command.ArgsUsage)
	}
	return nil
}

// repository resolves the first argument to a registered repository.
func (a *admin) repository(cctx *cli.Context) (*model.Repository, error) {
	owner, name, err := parseRepoArg(cctx.Args().First())
	if err != nil {
		return nil, err
	}
	repo, err := a.repos.Lookup(cctx.Context, owner, name)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, fmt.Errorf("repository %s/%s is not registered", owner, name)
	}
	return repo, nil
}

// target normalizes and validates the username argument.
func target(cctx *cli.Context) (string, error) {
	username := model.NormalizeUsername(cctx.Args().Get(1))
	if err := model.ValidateUsername(username); err != nil {
		return "", fmt.Errorf("invalid username %q: %w", cctx.Args().Get(1), err)
	}
	return username, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(listTimeLayout)
}

func runReposList(cctx *cli.Context) error {
	a, err := openAdmin(cctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	repos, err := a.repos.List(cctx.Context)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREPOSITORY\tREGISTERED")
	for _, r := range repos {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", r.ID, r.FullName(), formatTime(r.CreatedAt))
	}
	return tw.Flush()
}

func runReposRegister(cctx *cli.Context) error {
	if err := requireArgs(cctx, 1); err != nil {
		return err
	}
	owner, name, err := parseRepoArg(cctx.Args().First())
	if err != nil {
		return err
	}
	a, err := openAdmin(cctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	if _, err := a.resolver.Resolve(cctx.Context, owner); err != nil {
		return err
	}
	repo, err := a.repos.Register(cctx.Context, owner, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "registered %s (id %d)\n", repo.FullName(), repo.ID)
	return nil
}

func runReposRemove(cctx *cli.Context) error {
	if err := requireArgs(cctx, 1); err != nil {
		return err
	}
	owner, name, err := parseRepoArg(cctx.Args().First())
	if err != nil {
		return err
	}
	a, err := openAdmin(cctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	if err := a.repos.Remove(cctx.Context, owner, name); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "removed %s/%s\n", owner, name)
	return nil
}

func runBansList(cctx *cli.Context) error {
	if err := requireArgs(cctx, 1); err != nil {
		return err
	}
	a, err := openAdmin(cctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	repo, err := a.repository(cctx)
	if err != nil {
		return err
	}
	bans, err := a.bans.ListActive(cctx.Context, repo.ID)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tSINCE\tEXPIRES\tREASON")
	for _, b := range bans {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.Username, formatTime(b.CreatedAt), formatTime(b.ExpiresAt), b.Reason)
	}
	return tw.Flush()
}

func runBansAdd(cctx *cli.Context) error {
	if err := requireArgs(cctx, 2); err != nil {
		return err
	}
	username, err := target(cctx)
	if err != nil {
		return err
	}
	a, err := openAdmin(cctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	repo, err := a.repository(cctx)
	if err != nil {
		return err
	}
	if _, err := a.resolver.Resolve(cctx.Context, username); err != nil {
		return err
	}
	reason := strings.Join(cctx.Args().Slice()[2:], " ")
	b, err := a.bans.Ban(cctx.Context, username, repo.ID, reason)
	if err != nil {
		return err
	}
	if !b.Permanent() {
		fmt.Fprintf(a.out, "%s is already banned from %s until %s\n", username, repo.FullName(), formatTime(b.ExpiresAt))
		return nil
	}
	fmt.Fprintf(a.out, "banned %s from %s\n", username, repo.FullName())
	return nil
}

func runBansTemp(cctx *cli.Context) error {
	if err := requireArgs(cctx, 3); err != nil {
		return err
	}
	username, err := target(cctx)
	if err != nil {
		return err
	}
	days, err := strconv.Atoi(cctx.Args().Get(2))
	if err != nil {
		return fmt.Errorf("days must be a number: %w", err)
	}
	if err := model.ValidateDuration(days); err != nil {
		return fmt.Errorf("days must be between 1 and %d: %w", model.MaxTempBanDays, err)
	}
	a, err := openAdmin(cctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	repo, err := a.repository(cctx)
	if err != nil {
		return err
	}
	if _, err := a.resolver.Resolve(cctx.Context, username); err != nil {
		return err
	}
	reason := strings.Join(cctx.Args().Slice()[3:], " ")
	b, err := a.bans.TempBan(cctx.Context, username, repo.ID, days, reason)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "banned %s from %s until %s\n", username, repo.FullName(), formatTime(b.ExpiresAt))
	return nil
}

func runBansRemove(cctx *cli.Context) error {
	if err := requireArgs(cctx, 2); err != nil {
		return err
	}
	username, err := target(cctx)
	if err != nil {
		return err
	}
	a, err := openAdmin(cctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	repo, err := a.repository(cctx)
	if err != nil {
		return err
	}
	if err := a.bans.Unban(cctx.Context, username, repo.ID); err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	fmt.Fprintf(a.out, "unbanned %s from %s\n", username, repo.FullName())
	return nil
}

func runTrustList(cctx *cli.Context) error {
	if err := requireArgs(cctx, 1); err != nil {
		return err
	}
	a, err := openAdmin(cctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	repo, err := a.repository(cctx)
	if err != nil {
		return err
	}
	trusted, err := a.trust.ListTrusted(cctx.Context, repo.ID)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tGRANTED")
	for _, t := range trusted {
		fmt.Fprintf(tw, "%s\t%s\n", t.Username, formatTime(t.GrantedAt))
	}
	return tw.Flush()
}

func runTrustAdd(cctx *cli.Context) error {
	if err := requireArgs(cctx, 2); err != nil {
		return err
	}
	username, err := target(cctx)
	if err != nil {
		return err
	}
	a, err := openAdmin(cctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	repo, err := a.repository(cctx)
	if err != nil {
		return err
	}
	if _, err := a.resolver.Resolve(cctx.Context, username); err != nil {
		return err
	}
	if _, err := a.trust.Grant(cctx.Context, username, repo.ID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "trusted %s on %s\n", username, repo.FullName())
	return nil
}

func runTrustRemove(cctx *cli.Context) error {
	if err := requireArgs(cctx, 2); err != nil {
		return err
	}
	username, err := target(cctx)
	if err != nil {
		return err
	}
	a, err := openAdmin(cctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	repo, err := a.repository(cctx)
	if err != nil {
		return err
	}
	if err := a.trust.Revoke(cctx.Context, username, repo.ID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "untrusted %s on %s\n", username, repo.FullName())
	return nil
}

func runExport(cctx *cli.Context) error {
	_, _, st, err := setup(cctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	data, err := server.ExportModerationYAML(cctx.Context, st)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if path := cctx.String("output"); path != "" {
		return os.WriteFile(path, data, 0o600)
	}
	_, err = cctx.App.Writer.Write(data)
	return err
}
