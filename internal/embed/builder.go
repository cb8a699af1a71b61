package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyanglab/noticebot/internal/board"
	"github.com/hyanglab/noticebot/internal/hash/sha256"
	"github.com/hyanglab/noticebot/internal/metrics"
)

// maxEmbedChars caps the text sent per post so one oversized notice cannot
// blow up a batch request.
const maxEmbedChars = 30000

// Embedder is the external embedding capability. One call per batch; the
// implementation owns retry/backoff for rate limits.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// PostSource is the subset of the post store the builder reads from.
type PostSource interface {
	ListIDs() []string
	Read(postID string) (board.Post, error)
}

// Builder computes embeddings for posts that have no current record.
type Builder struct {
	posts    PostSource
	store    *Store
	embedder Embedder
	hasher   *sha256.Hasher
	logger   *zap.Logger
}

// NewBuilder builds a Builder.
func NewBuilder(posts PostSource, store *Store, embedder Embedder, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		posts:    posts,
		store:    store,
		embedder: embedder,
		hasher:   sha256.New(),
		logger:   logger,
	}
}

type pending struct {
	postID      string
	text        string
	hash        string
	publishedAt time.Time
}

// Build embeds every post lacking a current record, in batches of batchSize,
// and returns the number of records written. A failed batch is logged and
// deferred: its posts still lack a record, so the next invocation picks them
// up again. Batches commit all-or-none.
func (b *Builder) Build(ctx context.Context, batchSize int) (int, error) {
	if batchSize < 1 {
		return 0, &board.ConfigurationError{Reason: "batch size must be positive"}
	}

	queue, err := b.collectPending(ctx)
	if err != nil {
		return 0, err
	}
	if len(queue) == 0 {
		return 0, nil
	}

	built := 0
	for start := 0; start < len(queue); start += batchSize {
		if err := ctx.Err(); err != nil {
			return built, fmt.Errorf("embed canceled: %w", err)
		}
		end := start + batchSize
		if end > len(queue) {
			end = len(queue)
		}
		n, err := b.buildBatch(ctx, queue[start:end])
		if err != nil {
			var cfgErr *board.ConfigurationError
			if errors.As(err, &cfgErr) {
				return built, err
			}
			b.logger.Warn("embedding batch deferred",
				zap.Int("batch_start", start),
				zap.Int("batch_size", end-start),
				zap.Error(err),
			)
			metrics.IncEmbedBatchFailed()
			continue
		}
		built += n
	}
	metrics.AddEmbeddingsBuilt(built)
	return built, nil
}

func (b *Builder) collectPending(ctx context.Context) ([]pending, error) {
	var queue []pending
	for _, id := range b.posts.ListIDs() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("embed canceled: %w", err)
		}
		post, err := b.posts.Read(id)
		if err != nil {
			b.logger.Warn("skip unreadable post", zap.String("post_id", id), zap.Error(err))
			continue
		}
		text := EmbedText(post)
		hash := b.hasher.HashText(text)
		if rec, ok := b.store.Get(id); ok && rec.SourceHash == hash {
			continue
		}
		queue = append(queue, pending{
			postID:      id,
			text:        text,
			hash:        hash,
			publishedAt: post.PublishedAt,
		})
	}
	return queue, nil
}

func (b *Builder) buildBatch(ctx context.Context, batch []pending) (int, error) {
	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.text
	}
	vectors, err := b.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(batch) {
		return 0, fmt.Errorf("embed batch: got %d vectors for %d texts", len(vectors), len(batch))
	}
	records := make([]Record, len(batch))
	now := time.Now().UTC()
	for i, p := range batch {
		records[i] = Record{
			PostID:      p.postID,
			Vector:      vectors[i],
			SourceHash:  p.hash,
			PublishedAt: p.publishedAt,
			BuiltAt:     now,
		}
	}
	if err := b.store.PutBatch(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// EmbedText assembles the text a post is embedded from: title, body, and OCR
// output, capped at a rune boundary.
func EmbedText(post board.Post) string {
	text := strings.TrimSpace(post.Title + "\n" + post.BodyText + "\n" + post.OCRText)
	if len(text) <= maxEmbedChars {
		return text
	}
	cut := maxEmbedChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
