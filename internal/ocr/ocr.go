// Package ocr downloads post images and extracts their text through an
// injected OCR engine. Single-image failures never fail the post.
package ocr

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/hyanglab/noticebot/internal/metrics"
)

// Delimiter joins per-image OCR outputs into a post's ocr_text.
const Delimiter = "\n"

// Engine is the OCR capability: image file in, extracted text out.
type Engine interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// Fetcher downloads one URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ImageStore persists downloaded images under a post's directory.
type ImageStore interface {
	SaveImage(postID, filename string, data []byte) (string, error)
}

// Processor runs download + OCR for a post's images.
type Processor struct {
	fetcher Fetcher
	images  ImageStore
	engine  Engine
	logger  *zap.Logger
}

// NewProcessor builds a Processor.
func NewProcessor(fetcher Fetcher, images ImageStore, engine Engine, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		fetcher: fetcher,
		images:  images,
		engine:  engine,
		logger:  logger,
	}
}

// Process downloads and OCRs each image URL in order. Failures are logged
// and skipped; the post is still stored. The returned text is the successful
// outputs joined by Delimiter, and the paths are the images that were stored,
// whether or not their OCR succeeded. Every image failing yields "", which
// the repair pass later targets.
func (p *Processor) Process(ctx context.Context, postID string, imageURLs []string) (string, []string) {
	var (
		texts []string
		paths []string
	)
	for i, imgURL := range imageURLs {
		if ctx.Err() != nil {
			break
		}
		data, err := p.fetcher.Fetch(ctx, imgURL)
		if err != nil {
			p.logger.Warn("image download failed",
				zap.String("post_id", postID),
				zap.String("url", imgURL),
				zap.Error(err),
			)
			continue
		}
		filename := imageFilename(i+1, imgURL, data)
		imgPath, err := p.images.SaveImage(postID, filename, data)
		if err != nil {
			p.logger.Warn("image save failed",
				zap.String("post_id", postID),
				zap.String("url", imgURL),
				zap.Error(err),
			)
			continue
		}
		paths = append(paths, imgPath)

		text, err := p.engine.Recognize(ctx, imgPath)
		if err != nil {
			p.logger.Warn("ocr failed",
				zap.String("post_id", postID),
				zap.String("path", imgPath),
				zap.Error(err),
			)
			metrics.IncOCRImage("failed")
			continue
		}
		metrics.IncOCRImage("ok")
		if text = strings.TrimSpace(text); text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, Delimiter), paths
}

// imageFilename builds img_N.<ext> names, guessing the extension from the
// URL path, then from the bytes, defaulting to .jpg like the board's own
// attachments.
func imageFilename(n int, rawURL string, data []byte) string {
	if u, err := url.Parse(rawURL); err == nil {
		if e := path.Ext(u.Path); e != "" {
			return fmt.Sprintf("img_%d%s", n, e)
		}
	}
	ext := ".jpg"
	switch http.DetectContentType(data) {
	case "image/png":
		ext = ".png"
	case "image/gif":
		ext = ".gif"
	case "image/webp":
		ext = ".webp"
	case "image/bmp":
		ext = ".bmp"
	}
	return fmt.Sprintf("img_%d%s", n, ext)
}
