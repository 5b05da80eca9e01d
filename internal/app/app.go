// ABOUTME: Process wiring for coven-recall
// ABOUTME: Builds the recall core, bridge and transports and runs them until shutdown

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/2389/coven-recall/internal/bridge"
	"github.com/2389/coven-recall/internal/config"
	"github.com/2389/coven-recall/internal/dedupe"
	"github.com/2389/coven-recall/internal/ledger"
	"github.com/2389/coven-recall/internal/metrics"
	"github.com/2389/coven-recall/internal/recall"
	"github.com/2389/coven-recall/internal/transport/matrix"
	"github.com/2389/coven-recall/internal/transport/telegram"
)

// shutdownTimeout bounds the metrics server shutdown.
const shutdownTimeout = 5 * time.Second

// seenCacheSize bounds the inbound dedupe cache.
const seenCacheSize = 10_000

// App is a running coven-recall instance.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *ledger.Registry
	metrics  *metrics.Metrics
	executor *recall.Executor
	service  *recall.Service
	commands *recall.Commands
	seen     *dedupe.Cache
	bridge   *bridge.Bridge

	matrix   *matrix.Client
	telegram *telegram.Client

	metricsServer *http.Server
}

// New builds every component. dataDir holds the Matrix crypto store.
func New(cfg *config.Config, dataDir string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: ledger.NewRegistry(cfg.Recall.MaxHistory),
		metrics:  metrics.New(),
	}

	var platforms []recall.Platform
	allowed := make(map[string][]string)
	typing := make(map[string]bool)

	if cfg.Matrix.Enabled {
		client, err := matrix.New(matrix.Options{
			Homeserver:  cfg.Matrix.Homeserver,
			Username:    cfg.Matrix.Username,
			Password:    cfg.Matrix.Password,
			RecoveryKey: cfg.Matrix.RecoveryKey,
			DataDir:     dataDir,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.matrix = client
		platforms = append(platforms, client)
		allowed[matrix.PlatformName] = cfg.Matrix.AllowedRooms
		typing[matrix.PlatformName] = cfg.Matrix.TypingIndicator
	}

	if cfg.Telegram.Enabled {
		client, err := telegram.New(cfg.Telegram.Token, logger)
		if err != nil {
			return nil, err
		}
		a.telegram = client
		platforms = append(platforms, client)
		allowed[telegram.PlatformName] = cfg.Telegram.AllowedChats
		typing[telegram.PlatformName] = cfg.Telegram.TypingIndicator
	}

	a.executor = recall.NewExecutor(a.registry, platforms, recall.ExecutorConfig{
		SettleDelay:        cfg.Recall.SettleDelay,
		DeleteTimeout:      cfg.Recall.DeleteTimeout,
		SupportedPlatforms: cfg.Recall.SupportedPlatforms,
		Metrics:            a.metrics,
	}, logger)
	a.service = recall.NewService(a.executor, a.registry, recall.ServiceConfig{
		Marker:    cfg.Recall.Marker,
		DedupeTTL: cfg.Recall.DedupeTTL,
		Metrics:   a.metrics,
	}, logger)
	a.commands = recall.NewCommands(a.executor, a.registry, recall.CommandsConfig{
		Prefix:    cfg.Recall.CommandPrefix,
		Cooldown:  cfg.Recall.CommandCooldown,
		Marker:    cfg.Recall.Marker,
		Platforms: cfg.Recall.SupportedPlatforms,
	}, logger)
	a.seen = dedupe.New(cfg.Recall.DedupeTTL, seenCacheSize)

	a.bridge = bridge.New(a.service, a.commands, bridge.NewGatewayClient(cfg.Gateway.URL), a.seen, bridge.Options{
		AllowedChats: allowed,
		Typing:       typing,
	}, logger)
	if a.matrix != nil {
		a.bridge.AddTransport(a.matrix)
	}
	if a.telegram != nil {
		a.bridge.AddTransport(a.telegram)
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, a.metrics.Handler())
		a.metricsServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return a, nil
}

// Bridge returns the message bridge.
func (a *App) Bridge() *bridge.Bridge { return a.bridge }

// Service returns the recall hook service.
func (a *App) Service() *recall.Service { return a.service }

// Run starts every enabled transport and blocks until ctx is cancelled or a
// transport fails.
func (a *App) Run(ctx context.Context) error {
	if a.matrix != nil {
		if err := a.matrix.Login(ctx); err != nil {
			return err
		}
	}

	a.logger.Info("message recall ready",
		"marker", a.service.Marker(),
		"usage", fmt.Sprintf("send %s alone to recall the previous message, or append it to recall a message after sending", a.service.Marker()),
		"platforms", a.cfg.Recall.SupportedPlatforms,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup

	if a.metricsServer != nil {
		ln, err := net.Listen("tcp", a.metricsServer.Addr)
		if err != nil {
			return fmt.Errorf("listening for metrics on %s: %w", a.metricsServer.Addr, err)
		}
		a.logger.Info("serving metrics", "addr", ln.Addr().String(), "path", a.cfg.Metrics.Path)
		go func() {
			if err := a.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if a.matrix != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.matrix.Run(runCtx, a.handle); err != nil {
				errCh <- err
			}
		}()
	}
	if a.telegram != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.telegram.Run(runCtx, a.handle); err != nil {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case runErr = <-errCh:
		a.logger.Error("component failed, shutting down", "error", runErr)
	}

	cancel()
	wg.Wait()
	return errors.Join(runErr, a.shutdown())
}

func (a *App) handle(ctx context.Context, msg bridge.Message) {
	a.bridge.HandleMessage(ctx, msg)
}

// shutdown stops the metrics server, waits for background recalls and
// releases the stores. It uses a fresh context since the run context is
// already cancelled.
func (a *App) shutdown() error {
	var errs []error

	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	a.service.Close()
	a.seen.Close()

	if a.matrix != nil {
		if err := a.matrix.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing matrix crypto: %w", err))
		}
	}
	return errors.Join(errs...)
}
