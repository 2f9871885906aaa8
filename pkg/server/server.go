// Package server wires the moderation components to GitHub webhook
// deliveries and posts command outcomes back as comments.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/contribution-patrol/patrol/pkg/command"
	"github.com/contribution-patrol/patrol/pkg/datastore"
	"github.com/contribution-patrol/patrol/pkg/github"
	"github.com/contribution-patrol/patrol/pkg/moderation"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// CommentPoster is the outcome channel: replies land in the conversation
// the command came from.
type CommentPoster interface {
	CreateIssueComment(ctx context.Context, installationID int64, owner, repo string, number int, body string) error
}

// Dependencies holds external dependencies for the server.
// Server does not close Store; the caller owns it.
type Dependencies struct {
	Store  datastore.DataProviderFactory
	GitHub CommentPoster
	Logger *slog.Logger
}

// Server routes webhook events: comments to the command dispatcher,
// installation changes to the repository registry.
type Server struct {
	cfg    Config
	logger *slog.Logger
	poster CommentPoster

	repos      *moderation.Repositories
	resolver   *moderation.Resolver
	dispatcher *command.Dispatcher
	webhook    *github.WebhookHandler
}

// New builds a Server. Config.Validate is not called here so tests can run
// without GitHub credentials; a webhook secret is still required.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("server: missing store dependency")
	}
	if deps.GitHub == nil {
		return nil, errors.New("server: missing github dependency")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("server: webhook secret is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	resolver := moderation.NewResolver(deps.Store, logger)
	repos := moderation.NewRepositories(deps.Store, logger)
	trust := moderation.NewTrustRegistry(deps.Store, logger)
	bans := moderation.NewBanLedger(deps.Store, logger)

	s := &Server{
		cfg:      cfg,
		logger:   logger.With("component", "server"),
		poster:   deps.GitHub,
		repos:    repos,
		resolver: resolver,
		dispatcher: command.NewDispatcher(cfg.Mention, command.Dependencies{
			Repositories: repos,
			Resolver:     resolver,
			Trust:        trust,
			Bans:         bans,
			Logger:       logger,
		}),
	}
	s.webhook = github.NewWebhookHandler([]byte(cfg.WebhookSecret), logger, s.HandleEvent)
	s.webhook.OnReceive = func(eventType string) {
		webhookEventsCounter.WithLabelValues(eventType).Inc()
	}
	return s, nil
}

// Handler returns the public mux: /webhook and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/webhook", s.webhook)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// HandleEvent acts on one normalized webhook event. Failures are logged;
// the delivery is acknowledged either way.
func (s *Server) HandleEvent(ctx context.Context, ev *github.Event) {
	start := time.Now()
	defer func() {
		eventHandleDuration.WithLabelValues(ev.Kind.String()).Observe(time.Since(start).Seconds())
	}()

	switch ev.Kind {
	case github.EventComment:
		s.handleComment(ctx, ev.InstallationID, ev.Comment)
	case github.EventIssueOpened:
		s.handleIssueOpened(ctx, ev.InstallationID, ev.Issue)
	case github.EventRepositoriesAdded:
		s.handleRepositoriesAdded(ctx, ev.Repositories)
	case github.EventRepositoriesRemoved:
		s.handleRepositoriesRemoved(ctx, ev.Repositories)
	default:
		s.logger.Debug("unhandled event kind", "kind", ev.Kind.String(), "type", ev.Type)
	}
}

func (s *Server) handleComment(ctx context.Context, installationID int64, c *github.CommentEvent) {
	// Our own replies echo the mention back in usage texts.
	if c.ActorIsBot {
		return
	}
	out := s.dispatcher.Handle(ctx, command.Request{
		Text:     c.Body,
		Actor:    c.Actor,
		Owner:    c.Owner,
		RepoName: c.Repo,
	})
	if out.Kind == command.Ignored {
		return
	}
	commandsCounter.WithLabelValues(out.Command.String(), out.Kind.String(), out.Reason.String()).Inc()

	if out.Message == "" {
		return
	}
	s.reply(ctx, installationID, c.Owner, c.Repo, c.ConversationID, out.Message)
}

func (s *Server) handleIssueOpened(ctx context.Context, installationID int64, is *github.IssueEvent) {
	if s.cfg.WelcomeMessage == "" {
		return
	}
	s.reply(ctx, installationID, is.Owner, is.Repo, is.Number, s.cfg.WelcomeMessage)
}

func (s *Server) handleRepositoriesAdded(ctx context.Context, ev *github.RepositoriesEvent) {
	if ev.Sender != "" {
		if _, err := s.resolver.Resolve(ctx, ev.Sender); err != nil {
			s.logger.Error("failed to resolve installation sender", "sender", ev.Sender, "err", err)
		}
	}
	for _, ref := range ev.Repositories {
		if _, err := s.repos.Register(ctx, ref.Owner, ref.Name); err != nil {
			s.logger.Error("failed to register repository", "repo", ref.String(), "err", err)
			continue
		}
		repositoryChangesCounter.WithLabelValues("registered").Inc()
	}
	s.logger.Info("installation repositories added", "sender", ev.Sender, "count", len(ev.Repositories))
}

func (s *Server) handleRepositoriesRemoved(ctx context.Context, ev *github.RepositoriesEvent) {
	for _, ref := range ev.Repositories {
		if err := s.repos.Remove(ctx, ref.Owner, ref.Name); err != nil {
			s.logger.Error("failed to remove repository", "repo", ref.String(), "err", err)
			continue
		}
		repositoryChangesCounter.WithLabelValues("removed").Inc()
	}
	s.logger.Info("installation repositories removed", "sender", ev.Sender, "count", len(ev.Repositories))
}

func (s *Server) reply(ctx context.Context, installationID int64, owner, repo string, number int, body string) {
	if err := s.poster.CreateIssueComment(ctx, installationID, owner, repo, number, body); err != nil {
		commentFailuresCounter.Inc()
		s.logger.Error("failed to post comment", "repo", owner+"/"+repo, "number", number, "err", err)
	}
}

// Run serves the webhook and metrics listeners until ctx is cancelled or
// either listener fails, then shuts both down.
func (s *Server) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	servers := []*http.Server{{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}}
	if s.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{
			Addr:              s.cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	for _, srv := range servers {
		srv := srv
		eg.Go(func() error {
			s.logger.Info("HTTP listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server: listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	return eg.Wait()
}
