// Package crawler implements the incremental crawl orchestrator: it walks
// listing pages, runs parse + OCR per post, and writes full records to the
// post store.
package crawler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyanglab/noticebot/internal/board"
	"github.com/hyanglab/noticebot/internal/metrics"
)

// Fetcher retrieves listing and post pages.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	FetchForm(ctx context.Context, url string, form map[string]string) ([]byte, error)
}

// PostStore is the subset of the store the orchestrator writes through.
type PostStore interface {
	Exists(postID string) bool
	Write(ctx context.Context, post board.Post, rawHTML []byte) error
}

// Parser extracts structured records from raw pages.
type Parser interface {
	ParseListing(raw []byte) ([]board.ListingItem, error)
	ParsePost(raw []byte, pageURL string) (board.PostFields, error)
	FieldsFromListing(item board.ListingItem) board.PostFields
}

// ImageProcessor downloads and OCRs a post's images.
type ImageProcessor interface {
	Process(ctx context.Context, postID string, imageURLs []string) (ocrText string, imagePaths []string)
}

// Config controls one crawl run. MaxPages of 0 means unbounded: the crawl
// stops when a listing page holds only already-known posts, when the listing
// runs out, or at the safety limit.
type Config struct {
	MaxPages        int
	SafetyPageLimit int
	Workers         int
	BaseURL         string
	AjaxListURL     string
	AjaxListParams  map[string]string
	PagePerCount    int
}

// Stats summarizes a crawl run.
type Stats struct {
	PagesFetched int
	PostsNew     int
	PostsKnown   int
	PostFailures int
}

// Orchestrator drives the crawl state machine.
type Orchestrator struct {
	cfg     Config
	fetcher Fetcher
	parser  Parser
	images  ImageProcessor
	store   PostStore
	logger  *zap.Logger
}

// New builds an Orchestrator.
func New(
	cfg Config,
	fetcher Fetcher,
	parser Parser,
	images ImageProcessor,
	store PostStore,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.SafetyPageLimit < 1 {
		cfg.SafetyPageLimit = 200
	}
	return &Orchestrator{
		cfg:     cfg,
		fetcher: fetcher,
		parser:  parser,
		images:  images,
		store:   store,
		logger:  logger,
	}
}

// Run walks listing pages until a stop condition is met. A listing fetch
// failure aborts the run but preserves everything already written; re-running
// is safe because per-post writes are idempotent.
func (o *Orchestrator) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	for page := 1; ; page++ {
		if o.cfg.MaxPages > 0 && page > o.cfg.MaxPages {
			return stats, nil
		}
		if stats.PagesFetched >= o.cfg.SafetyPageLimit {
			o.logger.Warn("safety page limit reached", zap.Int("limit", o.cfg.SafetyPageLimit))
			return stats, nil
		}

		raw, err := o.fetchListing(ctx, page)
		if err != nil {
			return stats, fmt.Errorf("fetch listing page %d: %w", page, err)
		}
		stats.PagesFetched++

		items, err := o.parser.ParseListing(raw)
		if err != nil {
			return stats, fmt.Errorf("parse listing page %d: %w", page, err)
		}
		items = dedupeItems(items)
		if len(items) == 0 {
			o.logger.Info("listing exhausted", zap.Int("page", page))
			return stats, nil
		}

		// The board lists newest first, so a fully-known page means the
		// crawl has caught up with previously ingested content.
		if o.cfg.MaxPages == 0 && allKnown(items, o.store.Exists) {
			o.logger.Info("caught up with known posts", zap.Int("page", page))
			return stats, nil
		}

		o.processPage(ctx, items, &stats)

		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("crawl canceled: %w", err)
		}
	}
}

// allKnown is the loop-termination predicate for unbounded crawls.
func allKnown(items []board.ListingItem, exists func(string) bool) bool {
	for _, item := range items {
		if !exists(item.PostID) {
			return false
		}
	}
	return true
}

// processPage runs the per-post pipeline over a bounded worker pool.
// Per-post failures are logged and skipped; the post is retried on the next
// crawl because it never reaches the index.
func (o *Orchestrator) processPage(ctx context.Context, items []board.ListingItem, stats *Stats) {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, o.cfg.Workers)
	)
	for _, item := range items {
		if o.store.Exists(item.PostID) {
			mu.Lock()
			stats.PostsKnown++
			mu.Unlock()
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(item board.ListingItem) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := o.processPost(ctx, item); err != nil {
				o.logger.Warn("post skipped",
					zap.String("post_id", item.PostID),
					zap.String("url", item.URL),
					zap.Error(err),
				)
				metrics.IncPostFailure()
				mu.Lock()
				stats.PostFailures++
				mu.Unlock()
				return
			}
			metrics.IncPostCrawled()
			mu.Lock()
			stats.PostsNew++
			mu.Unlock()
		}(item)
	}
	wg.Wait()
}

func (o *Orchestrator) processPost(ctx context.Context, item board.ListingItem) error {
	var (
		fields  board.PostFields
		rawHTML []byte
	)
	if item.BodyHTML != "" {
		fields = o.parser.FieldsFromListing(item)
		rawHTML = []byte(item.BodyHTML)
	} else {
		if item.URL == "" {
			return &board.ParseError{Reason: "listing item has neither url nor contents"}
		}
		raw, err := o.fetcher.Fetch(ctx, item.URL)
		if err != nil {
			return fmt.Errorf("fetch post: %w", err)
		}
		rawHTML = raw
		fields, err = o.parser.ParsePost(raw, item.URL)
		if err != nil {
			return err
		}
	}
	if fields.Title == "" {
		fields.Title = item.Title
	}

	ocrText, imagePaths := o.images.Process(ctx, fields.PostID, fields.ImageURLs)

	post := board.Post{
		PostID:      fields.PostID,
		Title:       fields.Title,
		BodyHTML:    fields.BodyHTML,
		BodyText:    fields.BodyText,
		PublishedAt: fields.PublishedAt,
		URL:         item.URL,
		ImagePaths:  imagePaths,
		OCRText:     ocrText,
		FetchedAt:   time.Now().UTC(),
	}
	if err := o.store.Write(ctx, post, rawHTML); err != nil {
		return fmt.Errorf("store post: %w", err)
	}
	return nil
}

func (o *Orchestrator) fetchListing(ctx context.Context, page int) ([]byte, error) {
	if o.cfg.AjaxListURL != "" {
		form := make(map[string]string, len(o.cfg.AjaxListParams)+2)
		for k, v := range o.cfg.AjaxListParams {
			form[k] = v
		}
		form["pageNo"] = strconv.Itoa(page)
		if o.cfg.PagePerCount > 0 {
			form["pagePerCnt"] = strconv.Itoa(o.cfg.PagePerCount)
		}
		return o.fetcher.FetchForm(ctx, o.cfg.AjaxListURL, form)
	}
	return o.fetcher.Fetch(ctx, o.cfg.BaseURL)
}

func dedupeItems(items []board.ListingItem) []board.ListingItem {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, item := range items {
		if item.PostID == "" {
			continue
		}
		if _, dup := seen[item.PostID]; dup {
			continue
		}
		seen[item.PostID] = struct{}{}
		out = append(out, item)
	}
	return out
}
