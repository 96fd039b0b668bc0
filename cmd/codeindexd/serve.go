package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeindexd/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the codeindexd daemon",
	Long: `Start the HTTP server. Exposes ingestion triggers, state inspection,
GitHub push webhooks, health, and Prometheus metrics.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	srv, err := server.New(a.cfg, a.ingestor, a.states, a.logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		a.logger.Info("received signal, shutting down gracefully", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return err
	}

	a.logger.Info("shutdown complete")
	return nil
}
