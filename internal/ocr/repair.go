package ocr

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/hyanglab/noticebot/internal/board"
)

// PostStore is the subset of the post store the repair pass needs.
type PostStore interface {
	ListIDs() []string
	Read(postID string) (board.Post, error)
	UpdateParsed(post board.Post) error
}

// Repairer re-attempts OCR for posts whose ocr_text is empty but which have
// stored images. Posts with any OCR text are never touched.
type Repairer struct {
	store  PostStore
	engine Engine
	logger *zap.Logger
}

// NewRepairer builds a Repairer.
func NewRepairer(store PostStore, engine Engine, logger *zap.Logger) *Repairer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repairer{
		store:  store,
		engine: engine,
		logger: logger,
	}
}

// Run scans all posts and rewrites only those whose repair produced text.
// It returns the number of updated posts.
func (r *Repairer) Run(ctx context.Context) (int, error) {
	updated := 0
	for _, id := range r.store.ListIDs() {
		if err := ctx.Err(); err != nil {
			return updated, fmt.Errorf("repair canceled: %w", err)
		}
		post, err := r.store.Read(id)
		if err != nil {
			r.logger.Warn("repair read failed", zap.String("post_id", id), zap.Error(err))
			continue
		}
		if post.OCRText != "" || len(post.ImagePaths) == 0 {
			continue
		}

		text := r.reOCR(ctx, post)
		if text == "" {
			continue
		}
		post.OCRText = text
		if err := r.store.UpdateParsed(post); err != nil {
			r.logger.Warn("repair update failed", zap.String("post_id", id), zap.Error(err))
			continue
		}
		r.logger.Info("ocr repaired", zap.String("post_id", id))
		updated++
	}
	return updated, nil
}

func (r *Repairer) reOCR(ctx context.Context, post board.Post) string {
	var texts []string
	for _, imgPath := range post.ImagePaths {
		if _, err := os.Stat(imgPath); err != nil {
			r.logger.Warn("stored image missing",
				zap.String("post_id", post.PostID),
				zap.String("path", imgPath),
			)
			continue
		}
		text, err := r.engine.Recognize(ctx, imgPath)
		if err != nil {
			r.logger.Warn("repair ocr failed",
				zap.String("post_id", post.PostID),
				zap.String("path", imgPath),
				zap.Error(err),
			)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, Delimiter)
}
