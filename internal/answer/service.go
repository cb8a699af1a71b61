// Package answer orchestrates retrieval-augmented answering: embed the
// question, retrieve the most similar posts, and ground the generation call
// on their text.
package answer

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyanglab/noticebot/internal/board"
	"github.com/hyanglab/noticebot/internal/search"
)

// Embedder maps texts to vectors. It must be the same capability (and the
// same vector space) the embedding builder used.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Generator produces the final answer text from a question and grounding
// context.
type Generator interface {
	Generate(ctx context.Context, question, grounding string) (string, error)
}

// Retriever returns the top-k most similar posts for a query vector.
type Retriever interface {
	Search(query []float64, k int) ([]search.Result, error)
}

// PostReader loads stored posts for context assembly.
type PostReader interface {
	Read(postID string) (board.Post, error)
}

// Config controls the answer path.
type Config struct {
	TopKDefault     int
	Timeout         time.Duration
	MaxContextChars int
}

// Reply is the chat response: the answer text plus source URLs ordered by
// descending relevance.
type Reply struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// Service is stateless and safe for concurrent use.
type Service struct {
	cfg       Config
	embedder  Embedder
	retriever Retriever
	generator Generator
	posts     PostReader
	logger    *zap.Logger
}

// New builds a Service.
func New(
	cfg Config,
	embedder Embedder,
	retriever Retriever,
	generator Generator,
	posts PostReader,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopKDefault < 1 {
		cfg.TopKDefault = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.MaxContextChars < 1 {
		cfg.MaxContextChars = 1200
	}
	return &Service{
		cfg:       cfg,
		embedder:  embedder,
		retriever: retriever,
		generator: generator,
		posts:     posts,
		logger:    logger,
	}
}

// Answer runs the full question path. Zero retrieved posts is a valid
// outcome: generation still runs with empty context and sources come back
// empty. On timeout the in-flight call is canceled and the error surfaces;
// partial answers are never returned.
func (s *Service) Answer(ctx context.Context, question string, topK int) (Reply, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Reply{}, fmt.Errorf("question is required")
	}
	if topK < 1 {
		topK = s.cfg.TopKDefault
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	vectors, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		return Reply{}, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) != 1 {
		return Reply{}, fmt.Errorf("embed question: got %d vectors", len(vectors))
	}

	results, err := s.retriever.Search(vectors[0], topK)
	if err != nil {
		return Reply{}, fmt.Errorf("retrieve: %w", err)
	}

	grounding, sources := s.assembleContext(results)

	text, err := s.generator.Generate(ctx, question, grounding)
	if err != nil {
		return Reply{}, fmt.Errorf("generate answer: %w", err)
	}

	return Reply{Answer: strings.TrimSpace(text), Sources: sources}, nil
}

// assembleContext builds the grounding blocks and the deduplicated source
// URL list, both in descending relevance order.
func (s *Service) assembleContext(results []search.Result) (string, []string) {
	var (
		blocks  []string
		sources = []string{}
		seen    = make(map[string]struct{})
	)
	for i, res := range results {
		post, err := s.posts.Read(res.PostID)
		if err != nil {
			s.logger.Warn("retrieved post unreadable",
				zap.String("post_id", res.PostID),
				zap.Error(err),
			)
			continue
		}
		excerpt := truncateRunes(strings.TrimSpace(post.BodyText+"\n"+post.OCRText), s.cfg.MaxContextChars)
		blocks = append(blocks, fmt.Sprintf("[%d] %s\nURL: %s\n%s", i+1, post.Title, post.URL, excerpt))
		if post.URL == "" {
			continue
		}
		if _, dup := seen[post.URL]; dup {
			continue
		}
		seen[post.URL] = struct{}{}
		sources = append(sources, post.URL)
	}
	return strings.Join(blocks, "\n---\n"), sources
}

func truncateRunes(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
