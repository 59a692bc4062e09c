// Package server initializes and runs the gophsafe server: it opens the
// configured certificate storage, rebuilds the organization state from it
// and serves the certificate API over gRPC until a shutdown signal arrives.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/gophsafe/internal/logging"
	"github.com/dmitrijs2005/gophsafe/internal/server/config"
	"github.com/dmitrijs2005/gophsafe/internal/server/organization"
	"github.com/dmitrijs2005/gophsafe/internal/server/repositories/repomanager"

	gs "github.com/dmitrijs2005/gophsafe/internal/server/grpc"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	repos   repomanager.RepositoryManager
	service *organization.Service
}

// openRepositories picks the storage named in the config and brings its
// schema up to date.
func openRepositories(ctx context.Context, c *config.Config) (repomanager.RepositoryManager, error) {
	var rm repomanager.RepositoryManager
	switch c.Storage {
	case config.StorageMemory:
		rm = repomanager.NewMemoryRepositoryManager()
	case config.StoragePostgres:
		pm, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		rm = pm
	default:
		return nil, fmt.Errorf("unknown storage %q", c.Storage)
	}

	if err := rm.RunMigrations(ctx); err != nil {
		_ = rm.Close()
		return nil, err
	}
	return rm, nil
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.New(os.Stdout, logging.FormatJSON, slog.LevelInfo)

	rm, err := openRepositories(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	svc := organization.NewService(rm.Certificates(), organization.Config{
		BallparkEarlyOffset: c.BallparkEarlyOffset,
		BallparkLateOffset:  c.BallparkLateOffset,
		BootstrapToken:      c.BootstrapToken,
	}, logger)

	if err := svc.Load(ctx); err != nil {
		_ = rm.Close()
		return nil, fmt.Errorf("organization load error: %w", err)
	}

	return &App{config: c, logger: logger, repos: rm, service: svc}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.service)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "storage", app.config.Storage, "addr", app.config.EndpointAddrGRPC)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.service.Close(); err != nil {
		app.logger.Error(ctx, "organization close failed", "error", err)
	}
	if err := app.repos.Close(); err != nil {
		app.logger.Error(ctx, "storage close failed", "error", err)
	}
	app.logger.Info(ctx, "Server stopped")
}
