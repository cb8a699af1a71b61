// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	postsCrawledTotal    prometheus.Counter
	postFailuresTotal    prometheus.Counter
	ocrImagesTotal       *prometheus.CounterVec
	embeddingsBuiltTotal prometheus.Counter
	embedBatchesFailed   prometheus.Counter
	chatRequestsTotal    *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		postsCrawledTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "noticebot_posts_crawled_total",
			Help: "Total number of posts ingested into the store.",
		})
		postFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "noticebot_post_failures_total",
			Help: "Total number of posts skipped due to per-post failures.",
		})
		ocrImagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "noticebot_ocr_images_total",
			Help: "Total number of images processed, labeled by outcome.",
		}, []string{"status"})
		embeddingsBuiltTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "noticebot_embeddings_built_total",
			Help: "Total number of embedding records written.",
		})
		embedBatchesFailed = promauto.NewCounter(prometheus.CounterOpts{
			Name: "noticebot_embed_batches_failed_total",
			Help: "Total number of embedding batches deferred after retries.",
		})
		chatRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "noticebot_chat_requests_total",
			Help: "Total number of chat requests, labeled by outcome.",
		}, []string{"status"})
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncPostCrawled counts one ingested post.
func IncPostCrawled() {
	if postsCrawledTotal != nil {
		postsCrawledTotal.Inc()
	}
}

// IncPostFailure counts one skipped post.
func IncPostFailure() {
	if postFailuresTotal != nil {
		postFailuresTotal.Inc()
	}
}

// IncOCRImage counts one processed image by outcome ("ok" or "failed").
func IncOCRImage(status string) {
	if ocrImagesTotal != nil {
		ocrImagesTotal.WithLabelValues(status).Inc()
	}
}

// AddEmbeddingsBuilt counts embedding records written.
func AddEmbeddingsBuilt(n int) {
	if embeddingsBuiltTotal != nil {
		embeddingsBuiltTotal.Add(float64(n))
	}
}

// IncEmbedBatchFailed counts one deferred embedding batch.
func IncEmbedBatchFailed() {
	if embedBatchesFailed != nil {
		embedBatchesFailed.Inc()
	}
}

// IncChatRequest counts one chat request by outcome ("ok" or "error").
func IncChatRequest(status string) {
	if chatRequestsTotal != nil {
		chatRequestsTotal.WithLabelValues(status).Inc()
	}
}
