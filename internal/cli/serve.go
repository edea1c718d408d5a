package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/talktotext/internal/server"
)

func NewServeCmd(deps *Dependencies) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the meeting state to a local UI",
		Long:  "Run the local HTTP and WebSocket API. Every state change is pushed to connected WebSocket clients.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv := server.New(deps.App.Manager, deps.App.Identity, deps.Config.Language)

			if actx, err := deps.App.Context(ctx); err == nil {
				go func() { _, _ = deps.App.Manager.RefreshMeetings(actx) }()
			} else {
				slog.Warn("starting signed out", "error", err)
			}

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("local api starting", "http", addr, "backend", deps.Config.BackendURL)
				if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			// Wait for shutdown signal
			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			slog.Info("shutting down...")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("http shutdown error", "error", err)
			}
			deps.App.Close()
			slog.Info("shutdown complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", deps.Config.HTTPAddr, "Listen address")

	return cmd
}
