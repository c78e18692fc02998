// Package extract runs the extraction pipeline: platform detection, pacing,
// identity rotation, cookie substitution, the resilient fetch and the
// platform extractor, with results cached and concurrent duplicates
// coalesced.
package extract

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/use-agent/mediagate/models"
)

// ErrLoginRequired is returned by an Extractor when the page is a login
// wall. The pipeline retries with a pool cookie when it may.
var ErrLoginRequired = errors.New("extract: login required")

// Page is a fetched post page handed to an Extractor.
type Page struct {
	URL      string // post URL as requested
	FinalURL string // after redirects
	Platform models.Platform
	Status   int
	Header   http.Header
	Body     []byte
}

// Extractor turns a fetched page into media formats.
type Extractor interface {
	Extract(ctx context.Context, page *Page) (*models.ExtractResult, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, page *Page) (*models.ExtractResult, error)

func (f ExtractorFunc) Extract(ctx context.Context, page *Page) (*models.ExtractResult, error) {
	return f(ctx, page)
}

// Registry maps platforms to extractors, falling back to a default.
type Registry struct {
	mu       sync.RWMutex
	byName   map[models.Platform]Extractor
	fallback Extractor
}

// NewRegistry creates a Registry. A nil fallback uses MetaExtractor.
func NewRegistry(fallback Extractor) *Registry {
	if fallback == nil {
		fallback = MetaExtractor{}
	}
	return &Registry{byName: make(map[models.Platform]Extractor), fallback: fallback}
}

// Register sets the extractor for p.
func (r *Registry) Register(p models.Platform, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[p] = e
}

// For returns the extractor for p.
func (r *Registry) For(p models.Platform) Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byName[p]; ok {
		return e
	}
	return r.fallback
}
