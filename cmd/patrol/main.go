package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/contribution-patrol/patrol/pkg/datastore"
	"github.com/contribution-patrol/patrol/pkg/logging"
	"github.com/contribution-patrol/patrol/pkg/server"
	"github.com/contribution-patrol/patrol/pkg/version"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := &cli.App{
		Name:    "patrol",
		Usage:   "repository-scoped moderation for GitHub",
		Version: version.String(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML config file, applied over the defaults",
			EnvVars: []string{"PATROL_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "db",
			Usage:   "SQLite database file path",
			Value:   server.DefaultConfig().DBPath,
			EnvVars: []string{"PATROL_DB_PATH"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log level: " + logging.LevelNames(),
			Value:   "info",
			EnvVars: []string{"PATROL_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log format: text or json",
			Value:   "text",
			EnvVars: []string{"PATROL_LOG_FORMAT"},
		},
	}

	app.Commands = []*cli.Command{
		cmdServe,
		cmdRepos,
		cmdBans,
		cmdTrust,
		cmdExport,
	}
	return app
}

// loadConfig layers defaults, the config file, then flags that were set
// explicitly (by argument or environment).
func loadConfig(cctx *cli.Context) (server.Config, error) {
	cfg := server.DefaultConfig()
	if path := cctx.String("config"); path != "" {
		loaded, err := server.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	overrideString(cctx, "db", &cfg.DBPath)
	overrideString(cctx, "log-level", &cfg.Log.Level)
	overrideString(cctx, "log-format", &cfg.Log.Format)
	return cfg, nil
}

func overrideString(cctx *cli.Context, flag string, dst *string) {
	if cctx.IsSet(flag) {
		*dst = cctx.String(flag)
	}
}

// setup loads config, installs the logger and opens the store. The caller
// closes the store.
func setup(cctx *cli.Context) (server.Config, *slog.Logger, *datastore.ProviderFactory, error) {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return cfg, nil, nil, err
	}
	return openWith(cctx, cfg)
}

func openWith(cctx *cli.Context, cfg server.Config) (server.Config, *slog.Logger, *datastore.ProviderFactory, error) {
	logger, err := logging.Setup(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cctx.App.ErrWriter,
	})
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("invalid logging config: %w", err)
	}

	st, err := datastore.NewProviderFactory(cfg.DBPath)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, logger, st, nil
}
