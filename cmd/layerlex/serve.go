package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"layerlex/internal/handler"
	"layerlex/internal/hub"
	"layerlex/internal/metrics"
	"layerlex/internal/service"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, opts, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides server.addr)")
	return cmd
}

func runServer(ctx context.Context, opts *rootOptions, addr string) error {
	m := metrics.NewMetrics(metrics.InstanceInfo{Version: version})

	// Initialize event bus
	eventBus := service.NewEventBus()

	a, err := openApp(ctx, opts, nil, m, eventBus)
	if err != nil {
		return err
	}
	defer a.Close()

	logger := a.log
	logger.WithFields(logrus.Fields{
		"path":   a.location.Path,
		"origin": a.location.Origin,
	}).Info("Loaded config")
	logger.Info(a.cfg.Summary())

	// Initialize SSE hub and connect the event bus to it
	sseHub := hub.New(logger)
	go sseHub.Run()
	defer sseHub.Close()

	eventChan := make(chan service.Event, 100)
	eventBus.Subscribe(eventChan)
	go func() {
		for {
			select {
			case event := <-eventChan:
				sseHub.Broadcast(event)
			case <-ctx.Done():
				return
			}
		}
	}()

	reloader := service.NewReloader(a.svc, a.cfg.Reload, a.cfg.Sources.Files(), logger)
	if err := reloader.Start(ctx); err != nil {
		return err
	}
	defer reloader.Stop()

	h := handler.NewClassifierHandler(a.svc, logger)
	router := handler.NewRouter(h, sseHub, m, logger)

	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// no WriteTimeout: /events streams indefinitely
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "server error")
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Server shutdown error")
	}
	logger.Info("Server stopped")
	return nil
}
