package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyanglab/noticebot/internal/answer"
	"github.com/hyanglab/noticebot/internal/embed"
	"github.com/hyanglab/noticebot/internal/fetcher"
	"github.com/hyanglab/noticebot/internal/ocr"
	"github.com/hyanglab/noticebot/internal/parser"
	"github.com/hyanglab/noticebot/internal/search"
	"github.com/hyanglab/noticebot/internal/store"
)

// stubEngine returns fixed text for any image.
type stubEngine struct{ text string }

func (s stubEngine) Recognize(_ context.Context, _ string) (string, error) {
	return s.text, nil
}

// stubEmbedder maps text length onto a unit vector so distinct posts get
// distinct but deterministic embeddings.
type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		out[i] = []float64{float64(len(text)), 1}
	}
	return out, nil
}

type stubGenerator struct{ grounding string }

func (s *stubGenerator) Generate(_ context.Context, _, grounding string) (string, error) {
	s.grounding = grounding
	return "안내된 일정을 참고하세요.", nil
}

// boardServer simulates the AJAX listing endpoint plus post images.
func boardServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ajax/list.do", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.FormValue("pageNo") != "1" {
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"list": []any{}}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"list": []map[string]any{
					{
						"BBS_SEQ":  101,
						"SUBJECT":  "수강신청 일정 안내",
						"CONTENTS": `<p>수강신청은 3월 2일부터 시작합니다.</p>`,
					},
					{
						"BBS_SEQ":  102,
						"SUBJECT":  "장학금 신청 공지",
						"CONTENTS": fmt.Sprintf(`<p>포스터 참고</p><img src="%s">`, "/upload/poster.png"),
					},
				},
			},
		})
	})
	mux.HandleFunc("/upload/poster.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	})
	return httptest.NewServer(mux)
}

func TestPipelineCrawlEmbedAnswer(t *testing.T) {
	srv := boardServer(t)
	defer srv.Close()

	dataDir := t.TempDir()
	ctx := context.Background()

	st, err := store.New(dataDir, nil)
	require.NoError(t, err)

	client, err := fetcher.New(fetcher.Config{Timeout: 5 * time.Second}, nil)
	require.NoError(t, err)

	p := parser.New(parser.Config{
		BaseURL:     srv.URL + "/index.do?MENU_ID=140",
		PostIDParam: "BBS_SEQ",
	})
	images := ocr.NewProcessor(client, st, stubEngine{text: "장학금 신청 마감 4월 30일"}, nil)

	orch := New(Config{
		MaxPages:     0,
		Workers:      2,
		AjaxListURL:  srv.URL + "/ajax/list.do",
		PagePerCount: 20,
	}, client, p, images, st, nil)

	// Crawl until the listing runs out.
	stats, err := orch.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PostsNew)
	require.True(t, st.Exists("101"))
	require.True(t, st.Exists("102"))

	withImage, err := st.Read("102")
	require.NoError(t, err)
	assert.Equal(t, "장학금 신청 마감 4월 30일", withImage.OCRText)
	require.Len(t, withImage.ImagePaths, 1)
	assert.Equal(t, "img_1.png", filepath.Base(withImage.ImagePaths[0]))

	// A second crawl is a no-op: the first page is fully known.
	stats, err = orch.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.PostsNew)
	assert.Equal(t, 1, stats.PagesFetched)

	// Embed everything, then re-run: nothing is stale.
	embStore, err := embed.OpenStore(filepath.Join(dataDir, "embeddings.json"))
	require.NoError(t, err)
	builder := embed.NewBuilder(st, embStore, stubEmbedder{}, nil)

	built, err := builder.Build(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, built)

	built, err = builder.Build(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, built)

	// Ask a question grounded on the crawled posts.
	generator := &stubGenerator{}
	svc := answer.New(answer.Config{}, stubEmbedder{}, search.New(embStore), generator, st, nil)

	reply, err := svc.Answer(ctx, "장학금 언제까지 신청해?", 2)
	require.NoError(t, err)
	assert.Equal(t, "안내된 일정을 참고하세요.", reply.Answer)
	assert.Len(t, reply.Sources, 2)
	assert.Contains(t, generator.grounding, "장학금 신청 마감 4월 30일")
}
