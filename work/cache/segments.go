package cache

import (
	"net/http"
	"os"

	"mediaproxy/work/logger"

	"github.com/maypok86/otter/v2"
)

// Key identifies one cached segment within a segment definition.
type Key struct {
	RepresentationID string
	Number           int
}

// Record describes a cached segment response.
type Record struct {
	Status int
	Header http.Header
	Path   string
	Size   int64
}

// Segments is the bounded segment cache of one segment definition. Evicted
// or replaced records delete their backing file.
type Segments struct {
	index *otter.Cache[Key, Record]
}

// NewSegments creates a cache holding at most capacity records.
//
// Parameters:
//   - capacity: maximum number of records kept; values below 1 become 1
//
// Returns:
//   - *Segments: empty segment cache
func NewSegments(capacity int) *Segments {
	if capacity < 1 {
		capacity = 1
	}
	return &Segments{
		index: otter.Must(&otter.Options[Key, Record]{
			MaximumSize: capacity,
			OnDeletion: func(e otter.DeletionEvent[Key, Record]) {
				if err := os.Remove(e.Value.Path); err != nil && !os.IsNotExist(err) {
					logger.Warn("{cache/segments - OnDeletion} Removing %s: %v", e.Value.Path, err)
				}
			},
		}),
	}
}

// Get returns the record for k. A record whose file has vanished is dropped
// and reported as a miss.
func (s *Segments) Get(k Key) (Record, bool) {
	rec, ok := s.index.GetIfPresent(k)
	if !ok {
		return Record{}, false
	}
	if _, err := os.Stat(rec.Path); err != nil {
		s.index.Invalidate(k)
		return Record{}, false
	}
	return rec, true
}

// Has reports whether k is cached, without checking the file.
func (s *Segments) Has(k Key) bool {
	_, ok := s.index.GetIfPresent(k)
	return ok
}

// Put stores rec under k.
func (s *Segments) Put(k Key, rec Record) {
	s.index.Set(k, rec)
}

// Len returns the approximate number of records.
func (s *Segments) Len() int {
	return s.index.EstimatedSize()
}

// Purge drops every record and its file.
func (s *Segments) Purge() {
	s.index.InvalidateAll()
}
