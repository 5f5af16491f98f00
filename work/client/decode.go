package client

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// gzipHeaderPeek bounds the bytes inspected before committing to gzip.
const gzipHeaderPeek = 4096

// decodedBody closes the decoder before the raw body.
type decodedBody struct {
	io.Reader
	closers []func() error
}

func (d *decodedBody) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// decodeBody wraps body with a decoder for encoding. The second result is
// false when the encoding is unknown or its header is corrupt; body is then
// returned as-is and the caller must keep the Content-Encoding header.
func decodeBody(body io.ReadCloser, encoding string) (io.ReadCloser, bool) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))

	switch encoding {
	case "", "identity":
		return body, true

	case "gzip", "x-gzip":
		// Validate the header on peeked bytes so a body that is not gzip
		// passes through complete.
		br := bufio.NewReaderSize(body, gzipHeaderPeek)
		head, _ := br.Peek(gzipHeaderPeek)
		if _, err := gzip.NewReader(bytes.NewReader(head)); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return &decodedBody{Reader: br, closers: []func() error{body.Close}}, false
		}
		zr, err := gzip.NewReader(br)
		if err != nil {
			// Truncated header; only what the source still holds is left.
			return &decodedBody{Reader: br, closers: []func() error{body.Close}}, false
		}
		return &decodedBody{Reader: zr, closers: []func() error{zr.Close, body.Close}}, true

	case "deflate":
		// HTTP deflate is usually zlib-wrapped but some servers send raw
		// flate. Peek at the zlib header to tell them apart.
		br := bufio.NewReader(body)
		if head, err := br.Peek(2); err == nil && isZlibHeader(head) {
			zr, err := zlib.NewReader(br)
			if err == nil {
				return &decodedBody{Reader: zr, closers: []func() error{zr.Close, body.Close}}, true
			}
		}
		fr := flate.NewReader(br)
		return &decodedBody{Reader: fr, closers: []func() error{fr.Close, body.Close}}, true

	case "br":
		return &decodedBody{Reader: brotli.NewReader(body), closers: []func() error{body.Close}}, true

	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return body, false
		}
		return &decodedBody{Reader: zr, closers: []func() error{
			func() error { zr.Close(); return nil },
			body.Close,
		}}, true
	}

	return body, false
}

func isZlibHeader(b []byte) bool {
	return b[0]&0x0f == 8 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}
