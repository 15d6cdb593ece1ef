package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"simhost/server/internal/config"
	"simhost/server/internal/plugin"
	"simhost/server/internal/server"
	"simhost/server/internal/simerr"
	"simhost/server/internal/telemetry"
	"simhost/server/logging"
	loggingSinks "simhost/server/logging/sinks"
)

type Config struct {
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
	// Getenv reads settings overrides. Nil uses the process environment.
	Getenv func(string) string
	Loader plugin.Loader
	Logger telemetry.Logger
	// Ready is called with the server once it is running.
	Ready func(*server.Server)
}

// Run parses the command line, starts the server and blocks until ctx is
// cancelled or a termination signal arrives. A help request returns
// config.ErrHelp.
func Run(ctx context.Context, cfg Config) error {
	stdout, stderr := cfg.Stdout, cfg.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	serverCfg, err := config.ParseArgs(cfg.Args, stderr)
	if err != nil {
		return err
	}
	settings, err := config.LoadSettings(cfg.Getenv)
	if err != nil {
		return simerr.Fatal(err)
	}

	fallbackLogger := log.New(stderr, "", log.LstdFlags)
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(fallbackLogger)
	}

	sinks, err := loggingSinks.FromConfig(settings.Logging, stdout)
	if err != nil {
		return simerr.Fatal(simerr.Argument("configure logging", err))
	}
	router, err := logging.NewRouter(settings.Logging, logging.SystemClock{}, fallbackLogger, sinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	srv := server.New(server.Config{
		Server:    serverCfg,
		Settings:  settings,
		Loader:    cfg.Loader,
		Logger:    telemetryLogger,
		Publisher: router,
		Metrics:   telemetry.WrapMetrics(router.Metrics()),
	})
	defer srv.Fini()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Setup(); err != nil {
		return err
	}
	if cfg.Ready != nil {
		cfg.Ready(srv)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		srv.Run()
		return nil
	})
	group.Go(func() error {
		select {
		case <-groupCtx.Done():
			telemetryLogger.Printf("shutting down")
			srv.Stop()
		case <-srv.State().Done():
		}
		return nil
	})
	return group.Wait()
}

// ExitCode maps the result of Run onto the process exit status.
func ExitCode(err error) int {
	if err == nil || errors.Is(err, config.ErrHelp) {
		return 0
	}
	return 1
}
