package extract

import (
	"context"
	"errors"
	"net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"
)

// ErrResultsNotFound is returned when the page has no search results
// container, which usually means the layout changed or the request was blocked.
var ErrResultsNotFound = errors.New("search results container not found")

const (
	googleSearchURL = "https://www.google.com/search"
	defaultNum      = 10
	maxNum          = 100
)

// SearchResult is one organic Google result.
type SearchResult struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Snippet  string `json:"snippet,omitempty"`
}

// SearchResults is the payload of the google scraper.
type SearchResults struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// Google scrapes organic results from a Google search page.
type Google struct{}

// Name implements the scraper contract.
func (Google) Name() string { return "google" }

// Target builds the search URL from the query, num and hl params.
func (Google) Target(params Params) (string, error) {
	query := params.String("query")
	if query == "" {
		return "", errors.New("query parameter is required")
	}

	v := url.Values{}
	v.Set("q", query)
	v.Set("num", strconv.Itoa(clampNum(params.Int("num", defaultNum))))
	if hl := params.String("hl"); hl != "" {
		v.Set("hl", hl)
	}
	return googleSearchURL + "?" + v.Encode(), nil
}

// Extract parses the results out of the rendered page.
func (Google) Extract(ctx context.Context, page Page, params Params) (any, error) {
	doc, err := document(ctx, page)
	if err != nil {
		return nil, err
	}

	container := doc.Find("#search")
	if container.Length() == 0 {
		return nil, ErrResultsNotFound
	}

	limit := clampNum(params.Int("num", defaultNum))
	results := make([]SearchResult, 0, limit)
	seen := make(map[string]bool)

	container.Find("a h3").EachWithBreak(func(_ int, h3 *goquery.Selection) bool {
		link := h3.Closest("a")
		href := resultURL(link.AttrOr("href", ""))
		if href == "" || seen[href] {
			return true
		}
		seen[href] = true

		block := link.Closest("div.g, div.MjjYud, div[data-hveid]")
		snippet := cleanText(block.Find("div.VwiC3b, span.aCOpRe, div[data-sncf]").First().Text())

		results = append(results, SearchResult{
			Position: len(results) + 1,
			Title:    cleanText(h3.Text()),
			URL:      href,
			Snippet:  snippet,
		})
		return len(results) < limit
	})

	return SearchResults{Query: params.String("query"), Results: results}, nil
}

// resultURL unwraps Google's /url?q= redirects and drops internal links.
func resultURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if u.Path == "/url" {
		if q := u.Query().Get("q"); q != "" {
			return q
		}
		return u.Query().Get("url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return href
}

func clampNum(n int) int {
	if n <= 0 {
		return defaultNum
	}
	if n > maxNum {
		return maxNum
	}
	return n
}
