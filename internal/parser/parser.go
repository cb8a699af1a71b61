// Package parser extracts structured post fields from listing and post
// pages. All parse functions are pure: the same input always yields the same
// fields.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hyanglab/noticebot/internal/board"
)

// Config carries the site-specific selectors and URL patterns. Selectors are
// comma-separated candidate lists tried in order, so they can be adjusted
// when the board markup changes without touching code.
type Config struct {
	BaseURL          string
	ListLinkSelector string
	TitleSelectors   string
	ContentSelectors string
	DateSelectors    string
	PostIDParam      string
}

// Parser turns raw pages into structured records.
type Parser struct {
	cfg Config
}

// New builds a Parser.
func New(cfg Config) *Parser {
	if cfg.PostIDParam == "" {
		cfg.PostIDParam = "BBS_SEQ"
	}
	return &Parser{cfg: cfg}
}

// ajaxListing mirrors the board's AJAX list response shape.
type ajaxListing struct {
	Data struct {
		List []map[string]json.RawMessage `json:"list"`
	} `json:"data"`
}

// ParseListing extracts listing items from a raw listing page. JSON from the
// AJAX endpoint is preferred; anything that does not decode as JSON falls
// back to scraping anchors from HTML.
func (p *Parser) ParseListing(raw []byte) ([]board.ListingItem, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		items, err := p.parseAjaxListing(trimmed)
		if err == nil {
			return items, nil
		}
	}
	return p.parseHTMLListing(raw)
}

func (p *Parser) parseAjaxListing(raw []byte) ([]board.ListingItem, error) {
	var payload ajaxListing
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode ajax listing: %w", err)
	}
	items := make([]board.ListingItem, 0, len(payload.Data.List))
	for _, entry := range payload.Data.List {
		seq := rawString(entry, "BBS_SEQ", "bbsSeq")
		if seq == "" {
			continue
		}
		items = append(items, board.ListingItem{
			PostID:   seq,
			Title:    rawString(entry, "SUBJECT", "subject"),
			URL:      p.ViewURL(seq),
			BodyHTML: rawString(entry, "CONTENTS", "contents"),
		})
	}
	return items, nil
}

func (p *Parser) parseHTMLListing(raw []byte) ([]board.ListingItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}
	var items []board.ListingItem
	doc.Find(p.cfg.ListLinkSelector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		link := p.absoluteURL(href)
		id, err := p.PostIDFromURL(link)
		if err != nil {
			return
		}
		items = append(items, board.ListingItem{
			PostID: id,
			Title:  strings.TrimSpace(sel.Text()),
			URL:    link,
		})
	})
	return items, nil
}

// ParsePost extracts the structured fields from a raw post page. A missing
// post id is a ParseError; the caller skips the post and continues.
func (p *Parser) ParsePost(raw []byte, pageURL string) (board.PostFields, error) {
	id, err := p.PostIDFromURL(pageURL)
	if err != nil {
		return board.PostFields{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return board.PostFields{}, &board.ParseError{Reason: err.Error()}
	}

	content := p.selectFirst(doc, p.cfg.ContentSelectors)
	fields := board.PostFields{
		PostID:      id,
		Title:       selectionText(p.selectFirst(doc, p.cfg.TitleSelectors)),
		PublishedAt: parseDate(selectionText(p.selectFirst(doc, p.cfg.DateSelectors))),
	}
	if content != nil {
		if html, err := goquery.OuterHtml(content); err == nil {
			fields.BodyHTML = html
		}
		fields.BodyText = normalizeText(content.Text())
		fields.ImageURLs = p.imageURLs(content)
	}
	return fields, nil
}

// FieldsFromListing builds post fields from a listing item whose AJAX
// response already carried the post body inline.
func (p *Parser) FieldsFromListing(item board.ListingItem) board.PostFields {
	fields := board.PostFields{
		PostID:   item.PostID,
		Title:    item.Title,
		BodyHTML: item.BodyHTML,
	}
	if item.BodyHTML != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(item.BodyHTML)); err == nil {
			fields.BodyText = normalizeText(doc.Text())
			fields.ImageURLs = p.imageURLs(doc.Selection)
		}
	}
	return fields
}

// PostIDFromURL extracts the board's own post identifier from a view URL.
func (p *Parser) PostIDFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &board.ParseError{Reason: "invalid post url: " + rawURL}
	}
	id := u.Query().Get(p.cfg.PostIDParam)
	if id == "" {
		return "", &board.ParseError{Reason: "missing " + p.cfg.PostIDParam + " in url: " + rawURL}
	}
	return id, nil
}

// ViewURL builds the canonical post page URL for a post id.
func (p *Parser) ViewURL(postID string) string {
	u, err := url.Parse(p.cfg.BaseURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set(p.cfg.PostIDParam, postID)
	u.RawQuery = q.Encode()
	return u.String()
}

// imageURLs returns the de-duplicated image sources under sel in document
// order, resolved against the board base URL.
func (p *Parser) imageURLs(sel *goquery.Selection) []string {
	seen := make(map[string]struct{})
	var urls []string
	sel.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || src == "" {
			return
		}
		resolved := p.absoluteURL(src)
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		urls = append(urls, resolved)
	})
	return urls
}

func (p *Parser) absoluteURL(href string) string {
	base, err := url.Parse(p.cfg.BaseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// selectFirst tries each comma-separated selector in order and returns the
// first non-empty match.
func (p *Parser) selectFirst(doc *goquery.Document, selectors string) *goquery.Selection {
	for _, s := range strings.Split(selectors, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		sel := doc.Find(s)
		if sel.Length() > 0 {
			return sel.First()
		}
	}
	return nil
}

func selectionText(sel *goquery.Selection) string {
	if sel == nil {
		return ""
	}
	return strings.TrimSpace(sel.Text())
}

var whitespaceRE = regexp.MustCompile(`\s+`)

func normalizeText(text string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(text, " "))
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006.01.02",
	"2006/01/02",
}

// parseDate parses the board's date text. The zero time means unparseable;
// the store substitutes the fetch time so ordering stays total.
func parseDate(text string) time.Time {
	text = strings.TrimSpace(text)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t
		}
	}
	return time.Time{}
}

func rawString(entry map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		raw, ok := entry[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String()
		}
	}
	return ""
}
