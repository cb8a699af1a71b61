package embed

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyanglab/noticebot/internal/board"
)

type fakePosts struct {
	posts map[string]board.Post
}

func (f *fakePosts) ListIDs() []string {
	ids := make([]string, 0, len(f.posts))
	for id := range f.posts {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakePosts) Read(postID string) (board.Post, error) {
	post, ok := f.posts[postID]
	if !ok {
		return board.Post{}, board.ErrNotFound
	}
	return post, nil
}

type fakeEmbedder struct {
	calls     int
	batches   [][]string
	failBatch int // 1-based call number to fail, 0 = never
	dim       int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	f.calls++
	f.batches = append(f.batches, texts)
	if f.calls == f.failBatch {
		return nil, fmt.Errorf("rate limited")
	}
	dim := f.dim
	if dim == 0 {
		dim = 3
	}
	vectors := make([][]float64, len(texts))
	for i := range texts {
		vec := make([]float64, dim)
		vec[0] = float64(len(texts[i]))
		vectors[i] = vec
	}
	return vectors, nil
}

func newTestBuilder(t *testing.T, posts map[string]board.Post, embedder *fakeEmbedder) (*Builder, *Store) {
	t.Helper()
	store, err := OpenStore(tmpStorePath(t))
	require.NoError(t, err)
	return NewBuilder(&fakePosts{posts: posts}, store, embedder, nil), store
}

func TestBuildCoversAllPosts(t *testing.T) {
	posts := map[string]board.Post{
		"1": {PostID: "1", Title: "공지 1", BodyText: "본문"},
		"2": {PostID: "2", Title: "공지 2", OCRText: "이미지 텍스트"},
		"3": {PostID: "3", Title: "공지 3"},
	}
	embedder := &fakeEmbedder{}
	builder, store := newTestBuilder(t, posts, embedder)

	built, err := builder.Build(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, 3, built)
	assert.Equal(t, 3, store.Len())
	assert.Equal(t, 2, embedder.calls)
	for id := range posts {
		_, ok := store.Get(id)
		assert.True(t, ok, "missing record for %s", id)
	}
}

func TestBuildSecondRunSkipsUnchanged(t *testing.T) {
	posts := map[string]board.Post{
		"1": {PostID: "1", Title: "공지", BodyText: "본문"},
	}
	embedder := &fakeEmbedder{}
	builder, _ := newTestBuilder(t, posts, embedder)

	built, err := builder.Build(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, built)

	built, err = builder.Build(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, built)
	assert.Equal(t, 1, embedder.calls)
}

func TestBuildReembedsChangedText(t *testing.T) {
	posts := map[string]board.Post{
		"1": {PostID: "1", Title: "공지", BodyText: "본문"},
	}
	embedder := &fakeEmbedder{}
	builder, store := newTestBuilder(t, posts, embedder)

	_, err := builder.Build(context.Background(), 10)
	require.NoError(t, err)
	first, _ := store.Get("1")

	// OCR repair later fills in text; the hash changes and the post is
	// picked up again.
	posts["1"] = board.Post{PostID: "1", Title: "공지", BodyText: "본문", OCRText: "복구된 텍스트"}

	built, err := builder.Build(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, built)
	second, _ := store.Get("1")
	assert.NotEqual(t, first.SourceHash, second.SourceHash)
}

func TestBuildFailedBatchIsDeferred(t *testing.T) {
	posts := map[string]board.Post{
		"1": {PostID: "1", Title: "a"},
		"2": {PostID: "2", Title: "b"},
		"3": {PostID: "3", Title: "c"},
		"4": {PostID: "4", Title: "d"},
	}
	embedder := &fakeEmbedder{failBatch: 1}
	builder, store := newTestBuilder(t, posts, embedder)

	built, err := builder.Build(context.Background(), 2)
	require.NoError(t, err)

	// First batch failed, second succeeded.
	assert.Equal(t, 2, built)
	assert.Equal(t, 2, store.Len())

	// The next run picks up exactly the deferred posts.
	built, err = builder.Build(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, built)
	assert.Equal(t, 4, store.Len())
}

func TestBuildInvalidBatchSize(t *testing.T) {
	builder, _ := newTestBuilder(t, nil, &fakeEmbedder{})
	_, err := builder.Build(context.Background(), 0)
	require.Error(t, err)
	var cfgErr *board.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestEmbedText(t *testing.T) {
	t.Run("joins title body ocr", func(t *testing.T) {
		text := EmbedText(board.Post{Title: "제목", BodyText: "본문", OCRText: "오씨알"})
		assert.Equal(t, "제목\n본문\n오씨알", text)
	})

	t.Run("caps at rune boundary", func(t *testing.T) {
		long := strings.Repeat("한", 20000) // 3 bytes each, well past the cap
		text := EmbedText(board.Post{BodyText: long})
		assert.LessOrEqual(t, len(text), maxEmbedChars)
		assert.True(t, strings.HasSuffix(text, "한"))
	})
}
