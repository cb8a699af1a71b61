package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyanglab/noticebot/internal/embed"
	"github.com/hyanglab/noticebot/internal/store"
)

// newEmbedCmd creates the embed command.
func newEmbedCmd(appRef func() *app) *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Build embeddings for posts without a current vector.",
		Long: `Embed computes a vector for every stored post whose text changed since it
was last embedded, in batches. Posts whose source text is unchanged are
skipped, so re-running after a crawl only embeds the new posts.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appRef()
			if batchSize < 1 {
				batchSize = a.cfg.LLM.BatchSize
			}

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

			embStore, err := embed.OpenStore(a.embeddingStorePath())
			if err != nil {
				return err
			}
			client, err := a.newLLM()
			if err != nil {
				return err
			}

			builder := embed.NewBuilder(st, embStore, client, a.logger.Named("embed"))
			built, err := builder.Build(ctx, batchSize)
			a.logger.Info("embed finished",
				zap.Int("embeddings_built", built),
				zap.Int("embeddings_total", embStore.Len()),
			)
			if err != nil {
				return fmt.Errorf("embed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "posts per embedding request (default from config)")

	return cmd
}
