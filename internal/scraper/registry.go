// Package scraper runs site-specific extractors inside managed browser
// sessions with retries, challenge resolution and timeout layering.
package scraper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmylchreest/refyne-api/scraper/internal/extract"
)

// Scraper is one site-specific extractor.
type Scraper interface {
	Name() string
	// Target returns the URL to navigate to for params.
	Target(params extract.Params) (string, error)
	// Extract reads the payload from the navigated, challenge-cleared page.
	Extract(ctx context.Context, page extract.Page, params extract.Params) (any, error)
}

// Result is the envelope returned for every execution.
type Result struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	// Duration is the execution wall clock in milliseconds.
	Duration int64 `json:"duration"`
	Retries  int   `json:"retries"`
}

// Registry maps scraper names to implementations.
type Registry struct {
	mu       sync.RWMutex
	scrapers map[string]Scraper
}

// NewRegistry creates a registry holding scrapers.
func NewRegistry(scrapers ...Scraper) *Registry {
	r := &Registry{scrapers: make(map[string]Scraper)}
	for _, s := range scrapers {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds s under its name.
func (r *Registry) Register(s Scraper) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := s.Name()
	if _, exists := r.scrapers[name]; exists {
		return fmt.Errorf("scraper %q already registered", name)
	}
	r.scrapers[name] = s
	return nil
}

// Get returns the scraper registered under name.
func (r *Registry) Get(name string) (Scraper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scrapers[name]
	return s, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scrapers))
	for name := range r.scrapers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
