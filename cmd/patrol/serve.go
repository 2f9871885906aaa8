package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/contribution-patrol/patrol/pkg/github"
	"github.com/contribution-patrol/patrol/pkg/server"

	"github.com/urfave/cli/v2"
)

var cmdServe = &cli.Command{
	Name:  "serve",
	Usage: "receive GitHub webhooks and run moderation commands",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "listen",
			Usage:   "IP or address, and port, to listen on for webhooks",
			Value:   server.DefaultConfig().ListenAddr,
			EnvVars: []string{"PATROL_LISTEN", "PORT_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics (empty to disable)",
			Value:   server.DefaultConfig().MetricsAddr,
			EnvVars: []string{"PATROL_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "mention",
			Usage:   "token that triggers a command in a comment",
			Value:   server.DefaultConfig().Mention,
			EnvVars: []string{"PATROL_MENTION"},
		},
		&cli.StringFlag{
			Name:    "webhook-secret",
			Usage:   "secret configured on the GitHub App webhook",
			EnvVars: []string{"PATROL_WEBHOOK_SECRET", "WEBHOOK_SECRET"},
		},
		&cli.StringFlag{
			Name:    "welcome-message",
			Usage:   "comment posted on newly opened issues (empty to disable)",
			Value:   server.DefaultConfig().WelcomeMessage,
			EnvVars: []string{"PATROL_WELCOME_MESSAGE"},
		},
		&cli.StringFlag{
			Name:    "github-api-url",
			Usage:   "GitHub REST API root",
			Value:   github.DefaultBaseURL,
			EnvVars: []string{"PATROL_GITHUB_API_URL"},
		},
		&cli.Int64Flag{
			Name:    "github-app-id",
			Usage:   "GitHub App ID, for installation-token auth",
			EnvVars: []string{"PATROL_GITHUB_APP_ID", "APP_ID"},
		},
		&cli.StringFlag{
			Name:    "github-private-key",
			Usage:   "path to the GitHub App private key (PEM)",
			EnvVars: []string{"PATROL_GITHUB_PRIVATE_KEY_PATH", "PRIVATE_KEY_PATH"},
		},
		&cli.StringFlag{
			Name:    "github-token",
			Usage:   "personal or bot access token, instead of App auth",
			EnvVars: []string{"PATROL_GITHUB_TOKEN", "GITHUB_TOKEN"},
		},
	},
	Action: runServe,
}

func serveConfig(cctx *cli.Context) (server.Config, error) {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return cfg, err
	}
	overrideString(cctx, "listen", &cfg.ListenAddr)
	overrideString(cctx, "metrics-listen", &cfg.MetricsAddr)
	overrideString(cctx, "mention", &cfg.Mention)
	overrideString(cctx, "webhook-secret", &cfg.WebhookSecret)
	overrideString(cctx, "welcome-message", &cfg.WelcomeMessage)
	overrideString(cctx, "github-api-url", &cfg.GitHub.APIURL)
	overrideString(cctx, "github-private-key", &cfg.GitHub.PrivateKeyPath)
	overrideString(cctx, "github-token", &cfg.GitHub.Token)
	if cctx.IsSet("github-app-id") {
		cfg.GitHub.AppID = cctx.Int64("github-app-id")
	}
	return cfg, cfg.Validate()
}

func newAuthenticator(cfg server.GitHubConfig) (github.Authenticator, error) {
	if !cfg.UsesApp() {
		return github.NewTokenAuth(cfg.Token), nil
	}
	key, err := os.ReadFile(cfg.PrivateKeyPath) //nolint:gosec // path from user-provided config
	if err != nil {
		return nil, fmt.Errorf("read github private key: %w", err)
	}
	return github.NewAppAuth(cfg.AppID, key)
}

func runServe(cctx *cli.Context) error {
	cfg, err := serveConfig(cctx)
	if err != nil {
		return err
	}
	cfg, logger, st, err := openWith(cctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	auth, err := newAuthenticator(cfg.GitHub)
	if err != nil {
		return err
	}
	gh, err := github.NewClient(github.Config{
		BaseURL: cfg.GitHub.APIURL,
		Auth:    auth,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, server.Dependencies{Store: st, GitHub: gh, Logger: logger})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("contribution-patrol running",
		"listen", cfg.ListenAddr,
		"metrics", cfg.MetricsAddr,
		"mention", cfg.Mention,
		"app_auth", cfg.GitHub.UsesApp(),
	)
	return srv.Run(ctx)
}
