// Command voicebridge runs the voice gateway: the session broker, the
// websocket bridge, and the supervisor delegation path behind them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/auth"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/config"
	gatewayserver "github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/server"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/prefilter"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/retriever"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/retriever/pgstore"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/speech"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/supervisor"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/tools"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/tools/builtins"
)

// baselineCategories always reach the reasoning engine, so a vague "help me
// with the trip" still lands somewhere useful.
var baselineCategories = []string{"travel"}

// voiceNeighbors widens spoken requests: these intents tend to arrive in the
// same breath on the road.
var voiceNeighbors = map[string][]string{
	"travel":   {"calendar"},
	"calendar": {"travel"},
	"finance":  {"preferences"},
}

type bridgeDeps struct {
	loadConfig   func() (config.Config, error)
	buildGateway func(context.Context, config.Config, *slog.Logger) (*gatewayserver.Server, func(), error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultBridgeDeps() bridgeDeps {
	return bridgeDeps{
		loadConfig:   config.LoadFromEnv,
		buildGateway: buildGateway,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// buildGateway constructs the domain collaborators and the server around
// them. The returned cleanup closes the database pool.
func buildGateway(ctx context.Context, cfg config.Config, logger *slog.Logger) (*gatewayserver.Server, func(), error) {
	sup := supervisor.New(cfg.SupervisorAPIKey,
		supervisor.WithBaseURL(cfg.SupervisorBaseURL),
		supervisor.WithModel(cfg.SupervisorModel),
		supervisor.WithMaxTokens(cfg.SupervisorMaxTokens),
		supervisor.WithHTTPClient(&http.Client{Timeout: cfg.SupervisorTimeout}),
		supervisor.WithLogger(logger),
	)

	deps := gatewayserver.Dependencies{
		Verifier: auth.NewVerifier(cfg.IdentitySecret),
		Engine: speech.Config{
			BaseURL: cfg.EngineBaseURL,
			APIKey:  cfg.EngineAPIKey,
			Model:   cfg.EngineModel,
			Voice:   cfg.EngineVoice,
		},
		Supervisor: sup,
		Filter: prefilter.New(prefilter.Options{
			BaselineCategories: baselineCategories,
			VoiceNeighbors:     voiceNeighbors,
			Logger:             logger,
		}),
	}

	cleanup := func() {}
	toolDeps := builtins.Deps{}
	if cfg.DatabaseURL != "" {
		store, err := pgstore.New(ctx, pgstore.Config{DSN: cfg.DatabaseURL}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		cleanup = store.Close

		ts := store.Tools()
		toolDeps = builtins.Deps{Calendar: ts, Expenses: ts, Routes: ts, Preferences: ts}
		deps.Retriever = retriever.New(retriever.Options{
			Store:    store,
			CacheTTL: cfg.RetrieverCacheTTL,
			Timeout:  cfg.RetrieverTimeout,
			Logger:   logger,
		})
	} else {
		logger.Warn("no database configured; context retrieval and tool stores are disabled")
	}

	registry := builtins.NewRegistry(toolDeps)
	deps.Dispatcher = tools.NewDispatcher(registry, tools.DispatcherOptions{
		Timeout: cfg.ToolTimeout,
		Logger:  logger,
	})
	deps.Catalog = registry.Definitions()

	return gatewayserver.New(cfg, logger, deps), cleanup, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runBridge(ctx context.Context, logger *slog.Logger, deps bridgeDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.buildGateway == nil {
		return errors.New("missing buildGateway dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, cleanup, err := deps.buildGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	go gw.Registry().Run(sweepCtx, cfg.SessionSweepInterval)

	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting voice gateway",
		"addr", cfg.Addr,
		"engine_model", cfg.EngineModel,
		"supervisor_model", cfg.SupervisorModel,
		"database", cfg.DatabaseURL != "")

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	gw.WarnLiveSessionsDraining()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	// Shutdown does not wait for hijacked websocket connections; live
	// sessions get the rest of the grace period, then a hard cancel.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitLiveSessions(waitCtx) {
		gw.CancelLiveSessions()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("voice gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps bridgeDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(stderr, "voicebridge: load .env: %v\n", err)
		return 1
	}

	if err := runBridge(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voicebridge: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultBridgeDeps()))
}
