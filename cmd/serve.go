package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyanglab/noticebot/internal/api"
)

// newServeCmd creates the serve command.
func newServeCmd(appRef func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat and post-listing HTTP API.",
		Long: `Serve exposes POST /chat plus read-only post endpoints over HTTP. It
reads the stores built by crawl and embed and takes no lock, so it can run
alongside a scheduled crawl.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appRef()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := a.newStore()
			if err != nil {
				return err
			}
			svc, err := a.newAnswerService()
			if err != nil {
				return err
			}

			server := &http.Server{
				Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
				Handler:           api.NewServer(svc, st, a.logger.Named("api")).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("http server listening", zap.String("addr", server.Addr))
				errCh <- server.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				a.logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutdown: %w", err)
				}
				return nil
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("serve: %w", err)
			}
		},
	}
}
