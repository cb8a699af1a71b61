package cmd

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyanglab/noticebot/internal/answer"
	"github.com/hyanglab/noticebot/internal/embed"
	"github.com/hyanglab/noticebot/internal/search"
)

// newAskCmd creates the ask command.
func newAskCmd(appRef func() *app) *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the crawled board.",
		Long: `Ask embeds the question, retrieves the most similar posts from the
embedding store, and prints an answer grounded on their text together with
the source post URLs.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appRef()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := a.newAnswerService()
			if err != nil {
				return err
			}

			reply, err := svc.Answer(ctx, strings.Join(args, " "), topK)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), reply.Answer)
			if len(reply.Sources) > 0 {
				fmt.Fprintln(cmd.OutOrStdout())
				fmt.Fprintln(cmd.OutOrStdout(), "출처:")
				for _, src := range reply.Sources {
					fmt.Fprintln(cmd.OutOrStdout(), " -", src)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "posts to retrieve (default from config)")

	return cmd
}

// newAnswerService wires the read side of the pipeline: post store, embedding
// store, retriever, and LLM client. No lock is taken; readers tolerate a
// concurrent writer because every file lands via rename.
func (a *app) newAnswerService() (*answer.Service, error) {
	st, err := a.newStore()
	if err != nil {
		return nil, err
	}
	embStore, err := embed.OpenStore(a.embeddingStorePath())
	if err != nil {
		return nil, err
	}
	client, err := a.newLLM()
	if err != nil {
		return nil, err
	}
	return answer.New(answer.Config{
		TopKDefault:     a.cfg.Answer.TopKDefault,
		Timeout:         time.Duration(a.cfg.Answer.TimeoutSeconds) * time.Second,
		MaxContextChars: a.cfg.Answer.MaxContextChars,
	}, client, search.New(embStore), client, st, a.logger.Named("answer")), nil
}
