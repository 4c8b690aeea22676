package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/tgcollect/internal/api"
	"github.com/ppiankov/tgcollect/internal/poll"
)

var (
	servePort int
	servePoll bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read API, optionally with background polling",
	RunE:  serveAction,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
	serveCmd.Flags().BoolVar(&servePoll, "poll", false, "enable background polling even if disabled in config")
	rootCmd.AddCommand(serveCmd)
}

func serveAction(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	d, err := buildDeps(logger)
	if err != nil {
		return err
	}

	port := d.cfg.Server.Port
	if servePort > 0 {
		port = servePort
	}
	pollEnabled := d.cfg.Poll.Enabled || servePoll

	info := api.Info{
		AutoPoll:     pollEnabled,
		PollInterval: d.cfg.Poll.Interval.String(),
		SinceHours:   d.cfg.Poll.SinceHours,
		PerSourceCap: d.cfg.Poll.PerSourceCap,
		Port:         port,
		Channels:     d.cfg.Channels,
	}
	srv := api.New(d.engine, d.snapshots, d.checkpoints, info, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Background poller, joined on shutdown rather than abandoned.
	pollerDone := make(chan struct{})
	if pollEnabled {
		poller, err := poll.New(d.engine, d.cfg.Poll.Interval.Duration, d.cfg.Poll.SinceHours, d.cfg.Poll.PerSourceCap, logger)
		if err != nil {
			return fmt.Errorf("create poller: %w", err)
		}
		go func() {
			defer close(pollerDone)
			if err := poller.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("poller exited", "error", err)
			}
		}()
	} else {
		close(pollerDone)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second, // refresh=true runs a full collection
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server started", "port", port, "auto_poll", pollEnabled)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		cancel()
		<-pollerDone
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	<-pollerDone

	logger.Info("server stopped")
	return nil
}
