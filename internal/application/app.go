// Package application is the dependency-injection container binding every
// layer together: config, event store, git, sandbox, LLM provider,
// verifier, notification sink, the run orchestrator, and the HTTP/WS
// control surfaces. Staged initStore/initGit/initSandbox/initVerifier/
// initNotify/initOrchestrator/initInterfaces methods plus Start/Stop follow
// the teacher's internal/application/app.go container shape, trimmed to this
// system's narrower set of interfaces (no Telegram inbound adapter, no
// gRPC agent server — notify.TelegramSink covers the one outbound Telegram
// need this system has).
package application

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/choiros/supervisor/internal/application/agentloop"
	"github.com/choiros/supervisor/internal/application/execution"
	"github.com/choiros/supervisor/internal/application/orchestrator"
	"github.com/choiros/supervisor/internal/domain/sandboxdomain"
	"github.com/choiros/supervisor/internal/infrastructure/config"
	"github.com/choiros/supervisor/internal/infrastructure/eventbus"
	"github.com/choiros/supervisor/internal/infrastructure/eventstore"
	"github.com/choiros/supervisor/internal/infrastructure/filehistory"
	gitops "github.com/choiros/supervisor/internal/infrastructure/git"
	"github.com/choiros/supervisor/internal/infrastructure/llm"
	"github.com/choiros/supervisor/internal/infrastructure/notify"
	"github.com/choiros/supervisor/internal/infrastructure/sandbox"
	domtool "github.com/choiros/supervisor/internal/infrastructure/tool"
	"github.com/choiros/supervisor/internal/infrastructure/verifier"
	httpiface "github.com/choiros/supervisor/internal/interfaces/http"
	wsiface "github.com/choiros/supervisor/internal/interfaces/websocket"
)

// App wires and owns every long-lived collaborator the supervisor process
// needs, and exposes Start/Stop for main() to drive.
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	store          *eventstore.Store
	history        *filehistory.History
	git            *gitops.Ops
	sandboxRunner  sandboxdomain.Runner
	catalogLoader  *verifier.CatalogLoader
	verifierRunner *verifier.Runner
	notifySink     notify.Sink
	bus            *eventbus.InMemoryBus
	orchestrator   *orchestrator.Orchestrator
	agentHub       *wsiface.Hub
	httpServer     *httpiface.Server
}

// New builds every collaborator in dependency order and returns a App ready
// for Start.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{config: cfg, logger: logger}

	if err := app.initStore(); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	if err := app.initGit(); err != nil {
		return nil, fmt.Errorf("init git: %w", err)
	}
	if err := app.initSandbox(); err != nil {
		return nil, fmt.Errorf("init sandbox: %w", err)
	}
	if err := app.initVerifier(); err != nil {
		return nil, fmt.Errorf("init verifier: %w", err)
	}
	if err := app.initNotify(); err != nil {
		return nil, fmt.Errorf("init notify: %w", err)
	}
	if err := app.initOrchestrator(); err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	if err := app.initInterfaces(); err != nil {
		return nil, fmt.Errorf("init interfaces: %w", err)
	}
	return app, nil
}

func (app *App) initStore() error {
	db, err := eventstore.Open(app.config.Database)
	if err != nil {
		return err
	}
	app.db = db
	app.store = eventstore.New(db)
	app.history = filehistory.New()
	return nil
}

func (app *App) initGit() error {
	root := app.config.Sandbox.WorkspaceRoot
	if root == "" {
		root = "."
	}
	app.git = gitops.New(root, app.logger)
	return nil
}

func (app *App) ignoreLoader() (*gitops.IgnoreSet, error) {
	root := app.config.Sandbox.WorkspaceRoot
	if root == "" {
		root = "."
	}
	return gitops.LoadIgnoreFile(filepath.Join(root, ".choirignore"))
}

func (app *App) initSandbox() error {
	runner, err := sandbox.CreateRunner(app.config.Sandbox, app.logger)
	if err != nil {
		return err
	}
	app.sandboxRunner = runner
	return nil
}

func (app *App) initVerifier() error {
	loader, err := verifier.NewCatalogLoader(app.config.Verifier.CatalogPath, app.logger)
	if err != nil {
		return err
	}
	app.catalogLoader = loader

	artifacts, err := verifier.NewArtifactStore(app.config.Verifier.ArtifactRoot)
	if err != nil {
		return err
	}
	app.verifierRunner = verifier.NewRunner(artifacts, app.sandboxRunner, 300, app.logger)
	return nil
}

func (app *App) initNotify() error {
	switch app.config.Notify.Sink {
	case "telegram":
		sink, err := notify.NewTelegramSink(notify.TelegramConfig{
			BotToken: app.config.Notify.TelegramToken,
			ChatID:   app.config.Notify.TelegramChat,
		}, app.logger)
		if err != nil {
			return err
		}
		app.notifySink = sink
	default:
		app.notifySink = notify.NoopSink{}
	}
	return nil
}

func (app *App) initOrchestrator() error {
	provider, err := llm.CreateProvider(llm.ProviderConfig{
		Type:    app.config.Agent.Provider.Type,
		Name:    app.config.Agent.Provider.Name,
		BaseURL: app.config.Agent.Provider.BaseURL,
		APIKey:  app.config.Agent.Provider.APIKey,
		Models:  app.config.Agent.Provider.Models,
	}, app.logger)
	if err != nil {
		return err
	}

	toolFactory := execution.NewHandleToolExecutor(execution.HandleToolExecutorDeps{
		Runner:       app.sandboxRunner,
		History:      app.history,
		Events:       app.store,
		BashLogDir:   filepath.Join(app.config.Verifier.ArtifactRoot, "bash-logs"),
		GitOps:       app.git,
		EventSeqs:    app.store,
		IgnoreLoader: app.ignoreLoader,
		Logger:       app.logger,
	})

	loopCfg := agentLoopConfig(app.config)
	executor := execution.NewLoopExecutor(provider, toolFactory, app.store, loopCfg)

	sandboxTemplate := sandboxdomain.Config{
		WorkspaceRoot: app.config.Sandbox.WorkspaceRoot,
		AllowInternet: app.config.Sandbox.AllowInternet,
		Resources: sandboxdomain.Resources{
			CPUCores: app.config.Sandbox.CPUCores,
			MemoryMB: app.config.Sandbox.MemoryMB,
			DiskMB:   app.config.Sandbox.DiskMB,
		},
	}

	app.orchestrator = orchestrator.New(
		app.store,
		executor,
		app.verifierRunner,
		app.catalogLoader,
		app.sandboxRunner,
		app.git,
		app.notifySink,
		app.ignoreLoader,
		sandboxTemplate,
		app.config.Sandbox.KeepOnExit,
		app.logger,
	)

	app.bus = eventbus.NewInMemoryBus(app.logger, 256)
	app.orchestrator.SetEventBus(app.bus)
	return nil
}

func (app *App) initInterfaces() error {
	app.agentHub = wsiface.NewHub(app.logger)

	if app.bus != nil {
		hub := app.agentHub
		app.bus.Subscribe("*", func(ctx context.Context, event eventbus.Event) {
			hub.Broadcast(wsiface.Frame{Type: wsiface.FrameRunStatus, Content: event.Payload()})
		})
	}

	app.httpServer = httpiface.NewServer(
		httpiface.Config{Host: app.config.HTTP.Host, Port: app.config.HTTP.Port, Mode: "production"},
		httpiface.Deps{
			Store:        app.store,
			History:      app.history,
			Orchestrator: app.orchestrator,
			Git:          app.git,
			IgnoreLoader: app.ignoreLoader,
			Sandbox:      app.sandboxRunner,
			AgentHub:     app.agentHub,
		},
		app.logger,
	)
	return nil
}

// Store exposes the event store for the TUI dashboard and CLI wrappers.
func (app *App) Store() *eventstore.Store { return app.store }

// Git exposes the git ops for the TUI dashboard.
func (app *App) Git() *gitops.Ops { return app.git }

// Start brings up the HTTP server (which also serves WS /agent).
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("starting supervisor")
	return app.httpServer.Start(ctx)
}

// Stop shuts the HTTP server down, closes the catalog watcher, and closes
// the database connection.
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("stopping supervisor")
	if err := app.httpServer.Stop(ctx); err != nil {
		app.logger.Error("http server stop failed", zap.Error(err))
	}
	if app.catalogLoader != nil {
		if err := app.catalogLoader.Close(); err != nil {
			app.logger.Warn("catalog loader close failed", zap.Error(err))
		}
	}
	if app.bus != nil {
		app.bus.Close()
	}
	if app.db != nil {
		if sqlDB, err := app.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				app.logger.Error("db close failed", zap.Error(err))
			}
		}
	}
	return nil
}

func agentLoopConfig(cfg *config.Config) agentloop.Config {
	return agentloop.Config{
		Model:        cfg.Agent.Model,
		MaxTurns:     cfg.Agent.MaxTurns,
		AllowedTools: cfg.Agent.AllowedTools,
	}
}

var _ domtool.EventAppender = (*eventstore.Store)(nil)
