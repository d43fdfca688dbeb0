package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/benchagent/internal/sandbox"
)

// Run serves the embedded sandbox until interrupted.
func (c *ServeCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	if c.Listen != "" {
		cfg.Sandbox.Listen = c.Listen
	}
	if c.DSN != "" {
		cfg.Sandbox.DSN = c.DSN
	}
	if c.Fixtures != "" {
		cfg.Sandbox.Fixtures = c.Fixtures
	}

	sb, err := sandbox.New(sandbox.Config{DSN: cfg.Sandbox.DSN, FixturesDir: cfg.Sandbox.Fixtures})
	if err != nil {
		return fmt.Errorf("opening sandbox: %w", err)
	}
	defer sb.Close()

	logger := logging.New().WithComponent("serve")
	srv := &http.Server{
		Addr:              cfg.Sandbox.Listen,
		Handler:           sandbox.NewRouter(sb),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sandbox listening", map[string]interface{}{
			"addr":       srv.Addr,
			"benchmarks": sb.Benchmarks(),
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
