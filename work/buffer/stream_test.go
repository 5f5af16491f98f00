package buffer

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingReader hands out at most step bytes per Read and counts calls.
type countingReader struct {
	r      io.Reader
	step   int
	reads  int
	closed bool
	failAt int // fail once this many bytes were served; 0 disables
	served int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	if c.failAt > 0 && c.served >= c.failAt {
		return 0, errors.New("connection reset")
	}
	if len(p) > c.step {
		p = p[:c.step]
	}
	n, err := c.r.Read(p)
	c.served += n
	return n, err
}

func (c *countingReader) Close() error {
	c.closed = true
	return nil
}

func newCounting(body string, step int) *countingReader {
	return &countingReader{r: strings.NewReader(body), step: step}
}

func collect(s *Stream) []byte {
	var out bytes.Buffer
	for chunk := range s.Chunks() {
		out.Write(chunk)
	}
	return out.Bytes()
}

func TestReadRangeRepeatsWithoutRefetch(t *testing.T) {
	src := newCounting("0123456789abcdefghij", 4)
	s := NewStream(src, 4, 0)

	first := s.ReadRange(10, 0)
	reads := src.reads
	second := s.ReadRange(10, 0)

	assert.Equal(t, "0123456789", string(first))
	assert.Equal(t, first, second)
	assert.Equal(t, reads, src.reads, "buffered range must not touch the source again")
}

func TestReadRangeCursor(t *testing.T) {
	s := NewStream(newCounting("abcdefghij", 3), 3, 0)

	assert.Equal(t, "abcd", string(s.ReadRange(4, FromCursor)))
	assert.Equal(t, 4, s.Tell())
	assert.Equal(t, "efg", string(s.ReadRange(3, FromCursor)))
	assert.Equal(t, "hij", string(s.ReadRange(10, FromCursor)), "short read once the source is exhausted")
	assert.Empty(t, s.ReadRange(5, FromCursor))
	assert.True(t, s.Exhausted())
}

func TestReadRangeToEndStartsAtZero(t *testing.T) {
	s := NewStream(newCounting("hello world", 2), 2, 0)
	s.ReadRange(3, 5)

	assert.Equal(t, "hello world", string(s.ReadRange(ToEnd, FromCursor)))
	assert.Equal(t, "world", string(s.ReadRange(ToEnd, 6)))
	assert.Equal(t, 11, s.Size())
}

func TestReadRangeSourceErrorReturnsMaterialized(t *testing.T) {
	src := newCounting("abcdefghij", 2)
	src.failAt = 4
	s := NewStream(src, 2, 0)

	got := s.ReadRange(8, 0)
	assert.Equal(t, "abcd", string(got))
	assert.Error(t, s.Err())
	assert.True(t, s.Exhausted())
}

func TestChunksReplaysThenContinues(t *testing.T) {
	body := strings.Repeat("x", 10) + strings.Repeat("y", 10)
	src := newCounting(body, 4)
	s := NewStream(src, 4, 0)

	assert.Equal(t, strings.Repeat("x", 6), string(s.ReadRange(6, 0)))

	var chunks [][]byte
	for c := range s.Chunks() {
		chunks = append(chunks, append([]byte(nil), c...))
	}
	assert.Equal(t, body, string(bytes.Join(chunks, nil)))
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 4)
	}

	reads := src.reads
	assert.Equal(t, body, string(collect(s)), "second pass replays from the store")
	assert.Equal(t, reads, src.reads)
}

func TestChunksEarlyStop(t *testing.T) {
	s := NewStream(newCounting("abcdefgh", 2), 2, 0)
	for range s.Chunks() {
		break
	}
	assert.Equal(t, "abcdefgh", string(collect(s)))
}

func TestChunksPassThroughPastRetention(t *testing.T) {
	body := strings.Repeat("z", 20)
	s := NewStream(newCounting(body, 4), 4, 8)

	assert.Equal(t, body, string(collect(s)))
	assert.Equal(t, 8, s.Size())

	assert.Empty(t, collect(s))
	assert.ErrorIs(t, s.Err(), ErrNotReplayable)
}

func TestReplace(t *testing.T) {
	src := newCounting("original body", 4)
	s := NewStream(src, 4, 0)
	s.ReadRange(4, 0)

	s.Replace([]byte("rewritten"))
	assert.True(t, src.closed)
	assert.Equal(t, "rewritten", string(collect(s)))
	assert.Equal(t, "rewritten", string(s.ReadRange(ToEnd, 0)))
	assert.Equal(t, 9, s.Size())
}

func TestPoolStreams(t *testing.T) {
	pool := NewBufferPool(1024, 3)
	require.Equal(t, 3, pool.ChunkSize())

	src := newCounting("pooled", 16)
	s := pool.NewStream(src)
	assert.Equal(t, "pooled", string(collect(s)))
	require.NoError(t, s.Close())
	assert.True(t, src.closed)

	again := pool.NewStream(newCounting("next", 16))
	defer again.Close()
	assert.Equal(t, "next", string(again.ReadRange(ToEnd, 0)))
}

func TestStaticStream(t *testing.T) {
	s := NewStaticStream([]byte("fixed"))
	assert.True(t, s.Exhausted())
	assert.Equal(t, "fixed", string(collect(s)))
}
