package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/copyleftdev/postscry/internal/browser"
	"github.com/copyleftdev/postscry/internal/config"
	"github.com/copyleftdev/postscry/internal/content"
	"github.com/copyleftdev/postscry/internal/logging"
	"github.com/copyleftdev/postscry/internal/mcp"
	"github.com/copyleftdev/postscry/internal/metrics"
	"github.com/copyleftdev/postscry/internal/publish"
	"github.com/copyleftdev/postscry/internal/tasks"
)

// app holds the long-lived components shared by serve and submit-json.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	resolver *content.Resolver
	sessions *browser.Manager
	tasks    *tasks.Manager
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	m := metrics.Default()

	resolver, err := content.NewResolver(content.NewHTTPFetcher(cfg.Media), content.Options{
		TempDir:   cfg.Media.TempDir,
		Limits:    content.Limits{MaxImages: cfg.Media.MaxImages, MaxVideos: cfg.Media.MaxVideos},
		CacheSize: cfg.Media.CacheSize,
		CacheTTL:  cfg.Media.CacheTTL,
	}, logger.Named("media"), m)
	if err != nil {
		return nil, fmt.Errorf("failed to create media resolver: %w", err)
	}

	sessions := browser.NewManager(
		browser.NewChromeLauncher(cfg.Browser, logger.Named("chrome")),
		&browser.FileCredentialProvider{Path: cfg.Browser.CookiesFile, DefaultDomain: cfg.Browser.CookieDomain},
		browser.Options{PlatformURL: cfg.Browser.PlatformURL},
		logger.Named("session"), m,
	)

	tm := tasks.NewManager(tasks.Deps{
		Resolver: resolver,
		Sessions: sessions,
		Runner:   publish.NewExecutor(cfg.Browser.PublishURL, cfg.Publish, logger.Named("publish"), m),
		Notifier: mcp.NewCallbackNotifier(cfg, logger.Named("callback")),
	}, tasks.OptionsFromConfig(cfg), logger.Named("tasks"), m)

	return &app{cfg: cfg, logger: logger, resolver: resolver, sessions: sessions, tasks: tm}, nil
}

// shutdown drains tasks before closing the browser, then removes downloads.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.tasks.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("task manager: %w", err))
	}
	if err := a.sessions.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("browser session: %w", err))
	}
	if err := a.resolver.Close(); err != nil {
		errs = append(errs, fmt.Errorf("media resolver: %w", err))
	}
	return errors.Join(errs...)
}
