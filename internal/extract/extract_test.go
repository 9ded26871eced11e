package extract

import (
	"context"
	"errors"
	"net/url"
	"testing"
)

type staticPage struct {
	url  string
	html string
	err  error
}

func (p staticPage) URL() string { return p.url }

func (p staticPage) HTML(context.Context) (string, error) { return p.html, p.err }

const searchHTML = `<html><body>
<div id="search"><div id="rso">
  <div class="g"><a href="https://example.com/one"><h3>First   result</h3></a><div class="VwiC3b">The first snippet.</div></div>
  <div class="g"><a href="/url?q=https://example.org/two&amp;sa=U"><h3>Second</h3></a><div class="VwiC3b">Second snippet</div></div>
  <div class="g"><a href="https://example.com/one"><h3>Duplicate</h3></a></div>
  <div class="g"><a href="/search?q=related"><h3>Internal</h3></a></div>
  <div class="g"><a href="https://example.net/three"><h3>Third</h3></a></div>
</div></div>
</body></html>`

func TestParams(t *testing.T) {
	p := Params{"s": "  hello ", "f": float64(7), "i": 3, "n": "12", "bad": "x"}

	if got := p.String("s"); got != "hello" {
		t.Errorf("String(s) = %q, want hello", got)
	}
	if got := p.String("missing"); got != "" {
		t.Errorf("String(missing) = %q, want empty", got)
	}
	tests := map[string]int{"f": 7, "i": 3, "n": 12, "bad": 5, "missing": 5}
	for key, want := range tests {
		if got := p.Int(key, 5); got != want {
			t.Errorf("Int(%s) = %d, want %d", key, got, want)
		}
	}
}

func TestGoogle_Target(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantQ   string
		wantNum string
		wantHL  string
		wantErr bool
	}{
		{"defaults", Params{"query": "golang"}, "golang", "10", "", false},
		{"num and hl", Params{"query": "go rod", "num": float64(20), "hl": "de"}, "go rod", "20", "de", false},
		{"num clamped", Params{"query": "x", "num": 500}, "x", "100", "", false},
		{"missing query", Params{}, "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := Google{}.Target(tt.params)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Target() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			u, err := url.Parse(target)
			if err != nil {
				t.Fatalf("Target() = %q is not a URL", target)
			}
			if u.Host != "www.google.com" || u.Path != "/search" {
				t.Errorf("Target() = %q", target)
			}
			q := u.Query()
			if q.Get("q") != tt.wantQ || q.Get("num") != tt.wantNum || q.Get("hl") != tt.wantHL {
				t.Errorf("query = %v", q)
			}
		})
	}
}

func TestGoogle_Extract(t *testing.T) {
	page := staticPage{url: "https://www.google.com/search?q=test", html: searchHTML}

	got, err := Google{}.Extract(context.Background(), page, Params{"query": "test"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	res := got.(SearchResults)
	if res.Query != "test" {
		t.Errorf("Query = %q, want test", res.Query)
	}

	want := []SearchResult{
		{Position: 1, Title: "First result", URL: "https://example.com/one", Snippet: "The first snippet."},
		{Position: 2, Title: "Second", URL: "https://example.org/two", Snippet: "Second snippet"},
		{Position: 3, Title: "Third", URL: "https://example.net/three"},
	}
	if len(res.Results) != len(want) {
		t.Fatalf("Results = %+v, want %d entries", res.Results, len(want))
	}
	for i := range want {
		if res.Results[i] != want[i] {
			t.Errorf("Results[%d] = %+v, want %+v", i, res.Results[i], want[i])
		}
	}
}

func TestGoogle_ExtractLimit(t *testing.T) {
	page := staticPage{html: searchHTML}

	got, err := Google{}.Extract(context.Background(), page, Params{"query": "test", "num": 1})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if n := len(got.(SearchResults).Results); n != 1 {
		t.Errorf("len(Results) = %d, want 1", n)
	}
}

func TestGoogle_ExtractErrors(t *testing.T) {
	readErr := errors.New("target closed")
	tests := []struct {
		name string
		page staticPage
		want error
	}{
		{"no container", staticPage{html: `<html><body><div id="captcha-form"></div></body></html>`}, ErrResultsNotFound},
		{"html read fails", staticPage{err: readErr}, readErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Google{}.Extract(context.Background(), tt.page, Params{"query": "q"})
			if !errors.Is(err, tt.want) {
				t.Errorf("Extract() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGeneric_Target(t *testing.T) {
	tests := []struct {
		raw     any
		wantErr bool
	}{
		{"https://example.com/a", false},
		{"http://example.com", false},
		{"", true},
		{"ftp://example.com", true},
		{"not a url", true},
		{nil, true},
	}

	for _, tt := range tests {
		_, err := Generic{}.Target(Params{"url": tt.raw})
		if (err != nil) != tt.wantErr {
			t.Errorf("Target(%v) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
		}
	}
}

func TestGeneric_Extract(t *testing.T) {
	html := `<html><head>
<title> Example   Domain </title>
<meta name="Description" content="An example page.">
</head><body>
<h1>Welcome</h1><h2>Section</h2><h3></h3><h4>Ignored</h4>
<a href="/about">About</a>
<a href="https://other.test/x#frag">Other</a>
<a href="/about">About again</a>
<a href="#top">Top</a>
<a href="mailto:hi@example.com">Mail</a>
</body></html>`
	page := staticPage{url: "https://example.com/index.html", html: html}

	got, err := Generic{}.Extract(context.Background(), page, nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	meta := got.(PageMeta)

	if meta.URL != page.url || meta.Title != "Example Domain" || meta.Description != "An example page." {
		t.Errorf("meta = %+v", meta)
	}
	wantHeadings := []Heading{{1, "Welcome"}, {2, "Section"}}
	if len(meta.Headings) != len(wantHeadings) {
		t.Fatalf("Headings = %+v, want %+v", meta.Headings, wantHeadings)
	}
	for i := range wantHeadings {
		if meta.Headings[i] != wantHeadings[i] {
			t.Errorf("Headings[%d] = %+v, want %+v", i, meta.Headings[i], wantHeadings[i])
		}
	}
	wantLinks := []Link{
		{Text: "About", Href: "https://example.com/about"},
		{Text: "Other", Href: "https://other.test/x"},
	}
	if len(meta.Links) != len(wantLinks) {
		t.Fatalf("Links = %+v, want %+v", meta.Links, wantLinks)
	}
	for i := range wantLinks {
		if meta.Links[i] != wantLinks[i] {
			t.Errorf("Links[%d] = %+v, want %+v", i, meta.Links[i], wantLinks[i])
		}
	}
}

func TestGeneric_ExtractOGFallback(t *testing.T) {
	html := `<html><head><meta property="og:title" content="OG Title"><meta property="og:description" content="OG desc"></head><body></body></html>`

	got, err := Generic{}.Extract(context.Background(), staticPage{url: "https://example.com", html: html}, nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	meta := got.(PageMeta)
	if meta.Title != "OG Title" || meta.Description != "OG desc" {
		t.Errorf("meta = %+v", meta)
	}
	if meta.Headings == nil || meta.Links == nil {
		t.Error("Headings and Links should be empty slices, not nil")
	}
}
