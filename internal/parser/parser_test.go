package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyanglab/noticebot/internal/board"
)

func testConfig() Config {
	return Config{
		BaseURL:          "https://cs.example.ac.kr/cms/FR_CON/index.do?MENU_ID=140",
		ListLinkSelector: "a[href*='index.do']",
		TitleSelectors:   "h3, .subject",
		ContentSelectors: "#contents, .contents",
		DateSelectors:    ".date",
		PostIDParam:      "BBS_SEQ",
	}
}

func TestParseListingAjax(t *testing.T) {
	p := New(testConfig())

	raw := []byte(`{
		"data": {
			"list": [
				{"BBS_SEQ": 1201, "SUBJECT": "수강신청 안내", "CONTENTS": "<p>본문</p>"},
				{"BBS_SEQ": "1200", "SUBJECT": "장학금 공지"},
				{"SUBJECT": "id 없는 행"}
			]
		}
	}`)

	items, err := p.ParseListing(raw)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "1201", items[0].PostID)
	assert.Equal(t, "수강신청 안내", items[0].Title)
	assert.Equal(t, "<p>본문</p>", items[0].BodyHTML)
	assert.Contains(t, items[0].URL, "BBS_SEQ=1201")

	assert.Equal(t, "1200", items[1].PostID)
	assert.Empty(t, items[1].BodyHTML)
}

func TestParseListingHTMLFallback(t *testing.T) {
	p := New(testConfig())

	raw := []byte(`<html><body>
		<a href="/cms/FR_CON/index.do?MENU_ID=140&BBS_SEQ=42">공지 하나</a>
		<a href="/cms/FR_CON/index.do?MENU_ID=140">id 없는 링크</a>
		<a href="https://other.example.com/index.do?BBS_SEQ=43">공지 둘</a>
	</body></html>`)

	items, err := p.ParseListing(raw)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "42", items[0].PostID)
	assert.Equal(t, "공지 하나", items[0].Title)
	assert.Equal(t, "43", items[1].PostID)
}

func TestParsePost(t *testing.T) {
	p := New(testConfig())
	pageURL := "https://cs.example.ac.kr/cms/FR_CON/index.do?MENU_ID=140&BBS_SEQ=77"

	raw := []byte(`<html><body>
		<h3>졸업요건 변경 안내</h3>
		<span class="date">2025-03-14</span>
		<div id="contents">
			<p>자세한   내용은
			첨부 이미지를 참고하세요.</p>
			<img src="/upload/img_a.png">
			<img src="/upload/img_a.png">
			<img src="https://cdn.example.com/img_b.jpg">
		</div>
	</body></html>`)

	fields, err := p.ParsePost(raw, pageURL)
	require.NoError(t, err)

	assert.Equal(t, "77", fields.PostID)
	assert.Equal(t, "졸업요건 변경 안내", fields.Title)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), fields.PublishedAt)
	assert.Equal(t, "자세한 내용은 첨부 이미지를 참고하세요.", fields.BodyText)
	require.Len(t, fields.ImageURLs, 2)
	assert.Equal(t, "https://cs.example.ac.kr/upload/img_a.png", fields.ImageURLs[0])
	assert.Equal(t, "https://cdn.example.com/img_b.jpg", fields.ImageURLs[1])
}

func TestParsePostDeterministic(t *testing.T) {
	p := New(testConfig())
	pageURL := "https://cs.example.ac.kr/index.do?BBS_SEQ=5"
	raw := []byte(`<html><body><h3>t</h3><div id="contents"><p>b</p></div></body></html>`)

	first, err := p.ParsePost(raw, pageURL)
	require.NoError(t, err)
	second, err := p.ParsePost(raw, pageURL)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParsePostMissingID(t *testing.T) {
	p := New(testConfig())

	_, err := p.ParsePost([]byte("<html></html>"), "https://cs.example.ac.kr/index.do?MENU_ID=140")
	require.Error(t, err)
	var parseErr *board.ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestFieldsFromListing(t *testing.T) {
	p := New(testConfig())

	fields := p.FieldsFromListing(board.ListingItem{
		PostID:   "9",
		Title:    "인라인 본문",
		BodyHTML: `<p>내용  줄바꿈</p><img src="/img/1.png">`,
	})

	assert.Equal(t, "9", fields.PostID)
	assert.Equal(t, "내용 줄바꿈", fields.BodyText)
	require.Len(t, fields.ImageURLs, 1)
	assert.Equal(t, "https://cs.example.ac.kr/img/1.png", fields.ImageURLs[0])
}

func TestViewURL(t *testing.T) {
	p := New(testConfig())
	u := p.ViewURL("123")
	assert.Contains(t, u, "BBS_SEQ=123")
	assert.Contains(t, u, "MENU_ID=140")
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"dashes", "2025-01-02", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"dots", "2025.01.02", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"datetime", "2025-01-02 13:45", time.Date(2025, 1, 2, 13, 45, 0, 0, time.UTC)},
		{"garbage", "조회수 124", time.Time{}},
		{"empty", "", time.Time{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseDate(tc.in))
		})
	}
}
