package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyanglab/noticebot/internal/ocr"
	"github.com/hyanglab/noticebot/internal/store"
)

// newRepairCmd creates the repair command.
func newRepairCmd(appRef func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Re-run OCR for posts whose images yielded no text.",
		Long: `Repair scans stored posts and re-runs OCR for those that have images but
an empty ocr_text, for example after installing a missing language pack.
Posts that already carry OCR text are left untouched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appRef()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := a.newStore()
			if err != nil {
				return err
			}
			lock, err := store.AcquireLock(st.DataDir())
			if err != nil {
				return err
			}
			defer lock.Release()

			repairer := ocr.NewRepairer(st, a.newOCREngine(), a.logger.Named("repair"))
			updated, err := repairer.Run(ctx)
			a.logger.Info("repair finished", zap.Int("posts_updated", updated))
			if err != nil {
				return fmt.Errorf("repair: %w", err)
			}
			return nil
		},
	}
}
