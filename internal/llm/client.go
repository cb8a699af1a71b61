// Package llm implements the external embedding and generation capabilities
// against an OpenAI-compatible API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Config configures the provider client.
type Config struct {
	BaseURL    string
	APIKey     string
	EmbedModel string
	ChatModel  string
	Timeout    time.Duration
	MaxRetries int
}

// Client calls the embeddings and chat-completions endpoints. Batch-level
// rate limits (429) and 5xx responses are retried with backoff, honoring
// Retry-After when present.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "text-embedding-3-small"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Embed returns one vector per input text, in input order. One request per
// batch; the batch is the unit of retry.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	payload := map[string]any{
		"model": c.cfg.EmbedModel,
		"input": texts,
	}
	var out struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/embeddings", payload, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings: got %d vectors for %d inputs", len(out.Data), len(texts))
	}
	vectors := make([][]float64, len(out.Data))
	for i, d := range out.Data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("embeddings: empty vector at index %d", i)
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

const systemPrompt = "당신은 대학 학과 공지사항을 기반으로 학생 질문에 정확하고 간결하게 답변하는 도우미입니다. " +
	"반드시 아래에 제공된 출처의 발췌만 사용하고, 출처 외의 정보를 만들어내지 마세요. 응답은 한국어로 작성하세요."

// Generate answers the question grounded on the given context. An empty
// context is allowed; the model may then answer from general knowledge.
func (c *Client) Generate(ctx context.Context, question, grounding string) (string, error) {
	userMsg := "질문: " + question
	if grounding != "" {
		userMsg += "\n\n다음은 관련 공지들의 발췌입니다:\n\n" + grounding +
			"\n\n위 출처만 사용하여 간결하게(한두 문단) 답변하세요."
	}
	payload := map[string]any{
		"model": c.cfg.ChatModel,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userMsg},
		},
		"max_tokens":  400,
		"temperature": 0.0,
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.post(ctx, "/chat/completions", payload, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	url := c.cfg.BaseURL + path

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			data, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = readErr
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				lastErr = fmt.Errorf("%s: %s", path, resp.Status)
				if wait := retryAfter(resp); wait > 0 {
					if !sleepCtx(ctx, wait) {
						return fmt.Errorf("%s canceled: %w", path, ctx.Err())
					}
					continue
				}
			case resp.StatusCode >= 300:
				return fmt.Errorf("%s: %s: %s", path, resp.Status, truncate(data, 200))
			default:
				if err := json.Unmarshal(data, out); err != nil {
					return fmt.Errorf("decode %s response: %w", path, err)
				}
				return nil
			}
		}
		if attempt < c.cfg.MaxRetries {
			if !sleepCtx(ctx, backoff(attempt)) {
				return fmt.Errorf("%s canceled: %w", path, ctx.Err())
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", path, c.cfg.MaxRetries+1, lastErr)
}

func retryAfter(resp *http.Response) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	secs, err := strconv.Atoi(ra)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func backoff(attempt int) time.Duration {
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
