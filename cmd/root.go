// Package cmd defines and implements the CLI commands for the noticebot
// executable.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyanglab/noticebot/internal/config"
	"github.com/hyanglab/noticebot/internal/fetcher"
	"github.com/hyanglab/noticebot/internal/llm"
	"github.com/hyanglab/noticebot/internal/logging"
	"github.com/hyanglab/noticebot/internal/metrics"
	"github.com/hyanglab/noticebot/internal/ocr"
	"github.com/hyanglab/noticebot/internal/parser"
	"github.com/hyanglab/noticebot/internal/store"
)

var cfgFile string

// app bundles the configuration and logger every command needs.
type app struct {
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var application *app

	cmd := &cobra.Command{
		Use:   "noticebot",
		Short: "Ingests a bulletin board and answers questions about it.",
		Long: `noticebot crawls a department bulletin board incrementally, extracts
text from posts and their images via OCR, builds a semantic vector index, and
answers natural-language questions grounded on the retrieved posts.`,

		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Credentials may live in a local .env; a missing file is fine.
			_ = godotenv.Load()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			metrics.Init()

			application = &app{cfg: cfg, logger: logger}
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if application != nil {
				_ = application.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	appRef := func() *app { return application }
	cmd.AddCommand(newCrawlCmd(appRef))
	cmd.AddCommand(newRepairCmd(appRef))
	cmd.AddCommand(newEmbedCmd(appRef))
	cmd.AddCommand(newAskCmd(appRef))
	cmd.AddCommand(newServeCmd(appRef))

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) newStore() (*store.Store, error) {
	return store.New(a.cfg.Storage.DataDir, a.logger.Named("store"))
}

func (a *app) newFetcher() (*fetcher.Client, error) {
	return fetcher.New(fetcher.Config{
		UserAgent:      a.cfg.HTTP.UserAgent,
		Proxy:          a.cfg.HTTP.Proxy,
		Timeout:        a.cfg.HTTP.HTTPTimeout(),
		MaxRetries:     a.cfg.HTTP.MaxRetries,
		BackoffInitial: time.Duration(a.cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(a.cfg.HTTP.BackoffMaxMs) * time.Millisecond,
		RequestsPerSec: a.cfg.HTTP.RequestsPerSec,
	}, a.logger.Named("fetcher"))
}

func (a *app) newParser() *parser.Parser {
	return parser.New(parser.Config{
		BaseURL:          a.cfg.Board.BaseURL,
		ListLinkSelector: a.cfg.Board.ListLinkSelector,
		TitleSelectors:   a.cfg.Board.TitleSelectors,
		ContentSelectors: a.cfg.Board.ContentSelectors,
		DateSelectors:    a.cfg.Board.DateSelectors,
		PostIDParam:      a.cfg.Board.PostIDParam,
	})
}

func (a *app) newOCREngine() ocr.Engine {
	return ocr.NewTesseractEngine(ocr.TesseractConfig{
		Binary:    a.cfg.OCR.Binary,
		Languages: a.cfg.OCR.Languages,
		Timeout:   time.Duration(a.cfg.OCR.TimeoutSeconds) * time.Second,
	})
}

func (a *app) newLLM() (*llm.Client, error) {
	key, err := a.cfg.LLM.APIKey()
	if err != nil {
		return nil, err
	}
	return llm.New(llm.Config{
		BaseURL:    a.cfg.LLM.BaseURL,
		APIKey:     key,
		EmbedModel: a.cfg.LLM.EmbedModel,
		ChatModel:  a.cfg.LLM.ChatModel,
		Timeout:    time.Duration(a.cfg.LLM.TimeoutSeconds) * time.Second,
		MaxRetries: a.cfg.LLM.MaxRetries,
	}, a.logger.Named("llm")), nil
}

func (a *app) embeddingStorePath() string {
	return filepath.Join(a.cfg.Storage.DataDir, "embeddings.json")
}
