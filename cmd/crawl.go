package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyanglab/noticebot/internal/crawler"
	"github.com/hyanglab/noticebot/internal/ocr"
	"github.com/hyanglab/noticebot/internal/store"
)

// newCrawlCmd creates the crawl command.
func newCrawlCmd(appRef func() *app) *cobra.Command {
	var maxPages int

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the bulletin board incrementally.",
		Long: `Crawl walks the board's listing pages, fetches posts that are not yet
stored, runs OCR over their images, and writes the results to the data
directory. With --max-pages 0 it keeps going until it reaches posts it has
already seen.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appRef()
			if maxPages < 0 {
				maxPages = a.cfg.Crawler.MaxPagesDefault
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

			client, err := a.newFetcher()
			if err != nil {
				return err
			}
			images := ocr.NewProcessor(client, st, a.newOCREngine(), a.logger.Named("ocr"))

			orch := crawler.New(crawler.Config{
				MaxPages:        maxPages,
				SafetyPageLimit: a.cfg.Crawler.SafetyPageLimit,
				Workers:         a.cfg.Crawler.Workers,
				BaseURL:         a.cfg.Board.BaseURL,
				AjaxListURL:     a.cfg.Board.AjaxListURL,
				AjaxListParams:  a.cfg.Board.AjaxListParams,
				PagePerCount:    a.cfg.Board.PagePerCount,
			}, client, a.newParser(), images, st, a.logger.Named("crawler"))

			stats, err := orch.Run(ctx)
			a.logger.Info("crawl finished",
				zap.Int("pages_fetched", stats.PagesFetched),
				zap.Int("posts_new", stats.PostsNew),
				zap.Int("posts_known", stats.PostsKnown),
				zap.Int("post_failures", stats.PostFailures),
			)
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxPages, "max-pages", -1, "listing pages to crawl (0 = until known posts)")

	return cmd
}
