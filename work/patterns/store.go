package patterns

import (
	"slices"
	"sync"

	"mediaproxy/work/cache"
	"mediaproxy/work/logger"

	"github.com/maypok86/otter/v2"
)

// Entry is one segment definition registered for a manifest, together with
// the manifest's shared base URLs and the definition's segment cache.
type Entry struct {
	Manifest   string
	Definition *Definition
	BaseURLs   *BaseURLs
	Segments   *cache.Segments // nil when caching is disabled
}

// manifest groups the entries of one manifest URL in registration order.
type manifest struct {
	url      string
	baseURLs *BaseURLs
	mu       sync.RWMutex
	entries  []*Entry
	byRaw    map[string]*Entry
}

func (m *manifest) match(target string) (*Entry, Params, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if p, ok := e.Definition.Match(target); ok {
			return e, p, true
		}
	}
	return nil, nil, false
}

func (m *manifest) purge() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.Segments != nil {
			e.Segments.Purge()
		}
	}
}

// Store holds segment definitions of every rewritten manifest. It keeps at
// most maxManifests manifests, evicting the least valuable one (and its
// cached segments) when full. Matching walks manifests in registration
// order, then definitions in manifest order.
type Store struct {
	manifests       *otter.Cache[string, *manifest]
	segmentCapacity int

	regMu sync.Mutex // serializes Register

	mu    sync.RWMutex // guards order
	order []string
}

// NewStore creates a Store. segmentCapacity bounds each entry's segment
// cache; 0 disables caching.
func NewStore(maxManifests, segmentCapacity int) *Store {
	if maxManifests < 1 {
		maxManifests = 1
	}
	s := &Store{segmentCapacity: segmentCapacity}
	s.manifests = otter.Must(&otter.Options[string, *manifest]{
		MaximumSize: maxManifests,
		OnDeletion: func(e otter.DeletionEvent[string, *manifest]) {
			if !e.WasEvicted() {
				return
			}
			s.forget(e.Key)
			e.Value.purge()
			logger.Debug("{patterns/store - OnDeletion} Evicted segment patterns of %s", e.Key)
		},
	})
	return s
}

func (s *Store) forget(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := slices.Index(s.order, url); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
}

// Register records the definitions derived from a manifest fetched from
// manifestURL. A manifest already in the store keeps its existing entries
// and their caches; new attribute values are appended, and the base URL
// order survives when the set of bases is unchanged.
func (s *Store) Register(manifestURL string, baseURLs []string, defs []*Definition) {
	s.regMu.Lock()
	defer s.regMu.Unlock()

	m, ok := s.manifests.GetIfPresent(manifestURL)
	if ok {
		m.baseURLs.Reset(baseURLs)
	} else {
		m = &manifest{
			url:      manifestURL,
			baseURLs: NewBaseURLs(baseURLs),
			byRaw:    make(map[string]*Entry),
		}
	}

	m.mu.Lock()
	added := 0
	for _, d := range defs {
		if _, exists := m.byRaw[d.Raw]; exists {
			continue
		}
		e := &Entry{Manifest: manifestURL, Definition: d, BaseURLs: m.baseURLs}
		if s.segmentCapacity > 0 {
			e.Segments = cache.NewSegments(s.segmentCapacity)
		}
		m.byRaw[d.Raw] = e
		m.entries = append(m.entries, e)
		added++
	}
	m.mu.Unlock()

	if ok {
		logger.Debug("{patterns/store - Register} Refreshed %s: %d new definitions", manifestURL, added)
		return
	}

	s.mu.Lock()
	if !slices.Contains(s.order, manifestURL) {
		s.order = append(s.order, manifestURL)
	}
	s.mu.Unlock()
	s.manifests.Set(manifestURL, m)
	logger.Debug("{patterns/store - Register} Registered %s: %d definitions, %d base URLs", manifestURL, added, len(baseURLs))
}

// Match returns the first entry whose pattern matches target, with the
// captured parameters.
func (s *Store) Match(target string) (*Entry, Params, bool) {
	s.mu.RLock()
	order := slices.Clone(s.order)
	s.mu.RUnlock()

	for _, url := range order {
		m, ok := s.manifests.GetIfPresent(url)
		if !ok {
			continue
		}
		if e, p, ok := m.match(target); ok {
			return e, p, true
		}
	}
	return nil, nil, false
}

// Entries returns the entries registered for manifestURL in order.
func (s *Store) Entries(manifestURL string) []*Entry {
	m, ok := s.manifests.GetIfPresent(manifestURL)
	if !ok {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.entries)
}

// Len returns the number of manifests in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
