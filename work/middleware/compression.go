package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"mediaproxy/work/logger"

	"github.com/klauspost/compress/gzip"
)

// gzipWriterPool maintains a reusable pool of gzip writers to avoid repeated allocation
// overhead on every compressed manifest. Writers are initialized at BestSpeed compression
// level, prioritizing latency over compression ratio since players poll live manifests.
var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	},
}

// gzipResponseWriter wraps an http.ResponseWriter with a gzip-compressing io.Writer,
// intercepting Write calls to transparently compress response bodies before they are
// sent to the client.
type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
	wroteHeader bool
}

// WriteHeader drops any upstream length and marks the body as gzip encoded before
// the status line goes out.
func (w *gzipResponseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	h := w.ResponseWriter.Header()
	h.Set("Content-Encoding", "gzip")
	h.Add("Vary", "Accept-Encoding")
	h.Del("Content-Length")
	w.ResponseWriter.WriteHeader(status)
}

// Write compresses b, defaulting the status to 200 OK on first write.
func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.Writer.Write(b)
}

// Flush pushes the gzip buffer and then the underlying connection.
func (w *gzipResponseWriter) Flush() {
	if gzw, ok := w.Writer.(*gzip.Writer); ok {
		gzw.Flush()
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap exposes the original writer to http.ResponseController, which the
// output loop uses for write deadlines.
func (w *gzipResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// AcceptsGzip reports whether the request advertises gzip support.
func AcceptsGzip(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Accept-Encoding")), "gzip")
}

// Gzip wraps w with a pooled gzip writer when the client accepts gzip. The
// returned function must be called once the body is complete; it closes the
// gzip stream and returns the writer to the pool. Clients without gzip
// support get w back unchanged with a no-op finish.
func Gzip(w http.ResponseWriter, r *http.Request) (http.ResponseWriter, func()) {
	if !AcceptsGzip(r) {
		return w, func() {}
	}

	gz := gzipWriterPool.Get().(*gzip.Writer)
	gz.Reset(w)
	gzw := &gzipResponseWriter{Writer: gz, ResponseWriter: w}

	return gzw, func() {
		if !gzw.wroteHeader {
			gzw.WriteHeader(http.StatusOK)
		}
		if err := gz.Close(); err != nil {
			logger.Debug("{middleware/compression - Gzip} failed to close gzip writer for: %s %s - %v", r.Method, r.URL.Path, err)
		}
		gzipWriterPool.Put(gz)
	}
}
