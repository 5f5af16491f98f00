package buffer

import (
	"errors"
	"io"
	"iter"

	"github.com/valyala/bytebufferpool"
)

const (
	// DefaultChunkSize is used when no chunk size is configured
	DefaultChunkSize = 4096

	// ToEnd as a size reads until the upstream source is exhausted
	ToEnd = -1

	// FromCursor as a start offset continues from the last read position
	FromCursor = -1
)

// ErrNotReplayable is recorded when Chunks is restarted after an earlier pass
// streamed bytes beyond the retention limit.
var ErrNotReplayable = errors.New("stream passed its retention limit and cannot be replayed")

// Stream wraps a lazy upstream byte source with a growable in-memory store.
// Bytes materialized into the store are never discarded, so reads at the same
// or earlier offsets never touch the source again. A Stream belongs to one
// request flow and is not safe for concurrent use.
type Stream struct {
	pool        *BufferPool
	store       *bytebufferpool.ByteBuffer
	src         io.ReadCloser
	chunkSize   int
	retain      int // bytes Chunks may store; ReadRange ignores it
	cursor      int
	done        bool
	passthrough bool
	scratch     []byte
	err         error
}

// NewStream creates a Stream without a pool. retain bounds how much of the
// body Chunks keeps for replay; values <= 0 mean unbounded.
func NewStream(src io.ReadCloser, chunkSize, retain int) *Stream {
	return newStream(src, chunkSize, retain, nil)
}

// NewStaticStream creates an exhausted Stream holding b.
func NewStaticStream(b []byte) *Stream {
	s := newStream(nil, DefaultChunkSize, 0, nil)
	s.Replace(b)
	return s
}

func newStream(src io.ReadCloser, chunkSize, retain int, pool *BufferPool) *Stream {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	s := &Stream{
		pool:      pool,
		src:       src,
		chunkSize: chunkSize,
		retain:    retain,
		done:      src == nil,
	}
	if pool != nil {
		s.store = pool.Get()
	} else {
		s.store = &bytebufferpool.ByteBuffer{}
	}
	return s
}

// pull reads the next chunk from the source into scratch. It returns nil once
// the source is exhausted or failed.
func (s *Stream) pull() []byte {
	if s.done {
		return nil
	}
	if s.scratch == nil {
		s.scratch = make([]byte, s.chunkSize)
	}
	for {
		n, err := s.src.Read(s.scratch)
		if err != nil {
			s.done = true
			if !errors.Is(err, io.EOF) {
				s.err = err
			}
		}
		if n > 0 {
			return s.scratch[:n]
		}
		if s.done {
			return nil
		}
	}
}

// loadUntil materializes the source until the store holds goal bytes, or
// until the source ends when goal is negative.
func (s *Stream) loadUntil(goal int) {
	for goal < 0 || s.store.Len() < goal {
		chunk := s.pull()
		if chunk == nil {
			return
		}
		s.store.Write(chunk)
	}
}

// ReadRange returns up to size bytes starting at start. A size of ToEnd
// drains the source and reads to its end, starting at offset 0 unless start
// is given. A start of FromCursor continues from the last read position. The
// result is short only when the source ended or failed first; check Err for
// the latter.
func (s *Stream) ReadRange(size, start int) []byte {
	if size < 0 {
		if start < 0 {
			start = 0
		}
		s.loadUntil(-1)
	} else {
		if start < 0 {
			start = s.cursor
		}
		s.loadUntil(start + size)
	}

	b := s.store.B
	if start > len(b) {
		start = len(b)
	}
	end := len(b)
	if size >= 0 && start+size < end {
		end = start + size
	}
	s.cursor = end

	out := make([]byte, end-start)
	copy(out, b[start:end])
	return out
}

// Chunks yields the body in chunkSize pieces: first everything already
// materialized, replayed from offset 0, then fresh chunks from the source.
// Fresh chunks are stored while the store stays within the retention limit,
// which keeps the sequence restartable. Past the limit they are passed
// through unstored. Yielded slices are only valid until the next iteration.
func (s *Stream) Chunks() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if s.passthrough {
			s.err = ErrNotReplayable
			return
		}

		off := 0
		for {
			if !s.passthrough && off < s.store.Len() {
				end := min(off+s.chunkSize, s.store.Len())
				if !yield(s.store.B[off:end]) {
					return
				}
				off = end
				continue
			}

			chunk := s.pull()
			if chunk == nil {
				return
			}

			if !s.passthrough && (s.retain <= 0 || s.store.Len()+len(chunk) <= s.retain) {
				s.store.Write(chunk)
				continue
			}

			s.passthrough = true
			if !yield(chunk) {
				return
			}
		}
	}
}

// Replace discards the buffered bytes and the upstream source, substituting
// a fixed payload.
func (s *Stream) Replace(b []byte) {
	if s.src != nil {
		s.src.Close()
		s.src = nil
	}
	s.store.Reset()
	s.store.Write(b)
	s.done = true
	s.passthrough = false
	s.cursor = 0
	s.err = nil
}

// Tell returns the read cursor.
func (s *Stream) Tell() int {
	return s.cursor
}

// Size returns the number of bytes materialized so far.
func (s *Stream) Size() int {
	return s.store.Len()
}

// Exhausted reports whether the source has ended.
func (s *Stream) Exhausted() bool {
	return s.done
}

// Err returns the source error that ended the stream early, if any.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the upstream source and returns the store to its pool.
func (s *Stream) Close() error {
	var err error
	if s.src != nil {
		err = s.src.Close()
		s.src = nil
	}
	s.done = true
	if s.pool != nil && s.store != nil {
		s.pool.Put(s.store)
	}
	s.store = &bytebufferpool.ByteBuffer{}
	return err
}
