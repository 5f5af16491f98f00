package patterns

import (
	"slices"
	"sync"
)

// BaseURLs is the ordered fallback list of origin bases for one manifest,
// shared by all of its segment definitions. The first entry is preferred.
type BaseURLs struct {
	mu   sync.RWMutex
	urls []string
}

// NewBaseURLs creates a list holding urls in order.
func NewBaseURLs(urls []string) *BaseURLs {
	return &BaseURLs{urls: slices.Clone(urls)}
}

// Snapshot returns a copy of the current order.
func (b *BaseURLs) Snapshot() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.urls)
}

// Promote moves url to the front. Unknown urls are ignored.
func (b *BaseURLs) Promote(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := slices.Index(b.urls, url)
	if i <= 0 {
		return
	}
	copy(b.urls[1:i+1], b.urls[:i])
	b.urls[0] = url
}

// Reset replaces the list after a manifest refresh. When the refreshed set
// holds the same urls the current order, including any promotion, is kept.
func (b *BaseURLs) Reset(urls []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sameSet(b.urls, urls) {
		return
	}
	b.urls = slices.Clone(urls)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
