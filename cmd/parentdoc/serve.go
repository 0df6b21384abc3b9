package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/parentdoc/internal/api"
	"github.com/dgallion1/parentdoc/internal/pipeline"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, log, err := openApp(ctx, os.Stdout)
	if err != nil {
		if log != nil {
			log.Error("startup failed", "error", err)
		}
		return err
	}
	cfg := a.Config

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(cfg, a.Service, log)
	orch.Start(ctx)

	srv := api.NewServer(a.Service, orch, a.Meter, log, cfg)
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		log.Info("shutting down...")

		orch.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
		if err := a.Close(shutdownCtx); err != nil {
			log.Warn("close resources", "error", err)
		}
	}()

	log.Info("starting parentdoc", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", "error", err)
		cancel()
		<-done
		return err
	}
	<-done
	return nil
}
