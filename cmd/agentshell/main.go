package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/agentshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/agentshell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/agentshell/internal/infrastructure/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Flags override the environment
	flag.StringVar(&cfg.Server.Port, "port", cfg.Server.Port, "HTTP port")
	flag.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "HTTP listen host")
	flag.StringVar(&cfg.AppServer.Binary, "app-server", cfg.AppServer.Binary, "Path to the app-server binary")
	flag.StringVar(&cfg.Preferences.Path, "preferences", cfg.Preferences.Path, "Preferences file")
	flag.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "Log level (debug, info, warn, error)")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development logging")
	noAutoStart := flag.Bool("no-autostart", false, "Do not start the app-server on launch")
	flag.Parse()

	cfg.Logging.Development = *dev
	if *noAutoStart {
		cfg.AppServer.AutoStart = false
	}

	logger, err := logging.New(logging.FromConfig(cfg.Logging.Level, cfg.Logging.Development))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	srv, err := server.NewServer(cfg, logger, server.Options{})
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()
	srv.AutoStart()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info("Received signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		if err != nil {
			logger.Error("Server error", zap.Error(err))
			exitCode = 1
		}
	}

	// Leave room for the app-server's own graceful stop
	ctx, cancel := context.WithTimeout(context.Background(), cfg.AppServer.StopTimeout+5*time.Second)
	if err := srv.Shutdown(ctx); err != nil {
		exitCode = 1
	}
	cancel()
	os.Exit(exitCode)
}
