// Package api exposes the HTTP interface consumed by the chat frontend.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyanglab/noticebot/internal/answer"
	"github.com/hyanglab/noticebot/internal/board"
	"github.com/hyanglab/noticebot/internal/metrics"
)

// errorAnswer replaces the generated answer when the pipeline fails; it is
// returned with no sources.
const errorAnswer = "답변을 생성하지 못했습니다. 잠시 후 다시 시도해주세요."

// AnswerService is the chat capability behind POST /chat.
type AnswerService interface {
	Answer(ctx context.Context, question string, topK int) (answer.Reply, error)
}

// PostCatalog serves the read-only post listing endpoints.
type PostCatalog interface {
	ListIndex() map[string]board.IndexEntry
	Read(postID string) (board.Post, error)
}

// Server wires HTTP handlers to the answer service and post store.
type Server struct {
	router  chi.Router
	answers AnswerService
	posts   PostCatalog
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(answers AnswerService, posts PostCatalog, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		answers: answers,
		posts:   posts,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/posts", s.listPosts)
	r.Get("/posts/{post_id}", s.getPost)
	r.Post("/chat", s.chat)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type postSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
	FetchedAt   time.Time `json:"fetched_at"`
}

func (s *Server) listPosts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	index := s.posts.ListIndex()
	summaries := make([]postSummary, 0, len(index))
	for id, entry := range index {
		summaries = append(summaries, postSummary{
			ID:          id,
			Title:       entry.Title,
			URL:         entry.URL,
			PublishedAt: entry.PublishedAt,
			FetchedAt:   entry.FetchedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].FetchedAt.After(summaries[j].FetchedAt)
	})
	if limit < len(summaries) {
		summaries = summaries[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(summaries),
		"results": summaries,
	})
}

func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "post_id")
	post, err := s.posts.Read(postID)
	if err != nil {
		if err == board.ErrNotFound {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "read post failed")
		return
	}
	writeJSON(w, http.StatusOK, post)
}

type chatRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	reply, err := s.answers.Answer(r.Context(), req.Question, req.TopK)
	if err != nil {
		s.logger.Warn("chat failed", zap.Error(err))
		metrics.IncChatRequest("error")
		// Failures surface as a plain error answer with no sources.
		writeJSON(w, http.StatusOK, answer.Reply{Answer: errorAnswer, Sources: []string{}})
		return
	}
	metrics.IncChatRequest("ok")
	writeJSON(w, http.StatusOK, reply)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
