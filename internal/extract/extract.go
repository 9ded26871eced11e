// Package extract holds the site-specific extraction logic run against a
// navigated, challenge-cleared page.
package extract

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page is the view of a browser page an extractor needs.
type Page interface {
	URL() string
	HTML(ctx context.Context) (string, error)
}

// Params are the caller-supplied scrape parameters.
type Params map[string]any

// String returns the parameter as a trimmed string, or "" when unset.
func (p Params) String(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Int returns the parameter as an int, or def when unset or unparseable.
// JSON numbers arrive as float64.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// document loads the current page HTML into goquery.
func document(ctx context.Context, page Page) (*goquery.Document, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}
	return doc, nil
}

// findMeta returns the content of the first meta tag matching property or name.
func findMeta(doc *goquery.Document, property, name string) string {
	var content string
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if prop, ok := s.Attr("property"); ok && property != "" && prop == property {
			content, _ = s.Attr("content")
		} else if n, ok := s.Attr("name"); ok && name != "" && strings.EqualFold(n, name) {
			content, _ = s.Attr("content")
		}
		content = strings.TrimSpace(content)
		return content == ""
	})
	return content
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
