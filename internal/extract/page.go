package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxLinks = 100

// Heading is an h1-h3 element.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Link is an anchor resolved against the page URL.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// PageMeta is the payload of the page scraper.
type PageMeta struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Headings    []Heading `json:"headings"`
	Links       []Link    `json:"links"`
}

// Generic extracts title, description, headings and links from any page.
type Generic struct{}

// Name implements the scraper contract.
func (Generic) Name() string { return "page" }

// Target validates the url param.
func (Generic) Target(params Params) (string, error) {
	raw := params.String("url")
	if raw == "" {
		return "", errors.New("url parameter is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid url %q", raw)
	}
	return u.String(), nil
}

// Extract reads the page metadata.
func (Generic) Extract(ctx context.Context, page Page, _ Params) (any, error) {
	doc, err := document(ctx, page)
	if err != nil {
		return nil, err
	}

	meta := PageMeta{
		URL:         page.URL(),
		Title:       cleanText(doc.Find("head title").First().Text()),
		Description: findMeta(doc, "og:description", "description"),
		Headings:    []Heading{},
		Links:       []Link{},
	}
	if meta.Title == "" {
		meta.Title = findMeta(doc, "og:title", "")
	}

	doc.Find("h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		text := cleanText(s.Text())
		if text == "" {
			return
		}
		level := int(goquery.NodeName(s)[1] - '0')
		meta.Headings = append(meta.Headings, Heading{Level: level, Text: text})
	})

	base, _ := url.Parse(page.URL())
	seen := make(map[string]bool)
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := resolveLink(base, s.AttrOr("href", ""))
		if href == "" || seen[href] {
			return true
		}
		seen[href] = true
		meta.Links = append(meta.Links, Link{Text: cleanText(s.Text()), Href: href})
		return len(meta.Links) < maxLinks
	})

	return meta, nil
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}
