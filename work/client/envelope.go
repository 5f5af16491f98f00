package client

import (
	"net/http"

	"mediaproxy/work/buffer"
)

// Envelope is an upstream response as the proxy sees it: the status, the
// filtered headers, the URL actually fetched and a restartable body.
type Envelope struct {
	Status    int
	Header    Header
	URL       string
	Stream    *buffer.Stream
	Rewritten bool // body was replaced by a manifest rewrite
	FromCache bool
}

// OK reports whether the upstream answered with a non-error status.
func (e *Envelope) OK() bool {
	return e.Status < http.StatusBadRequest
}

// WriteHeader sends the visible headers and the status code to w.
func (e *Envelope) WriteHeader(w http.ResponseWriter) {
	dst := w.Header()
	for name, values := range e.Header.Visible() {
		dst[name] = values
	}
	w.WriteHeader(e.Status)
}

// Close releases the body.
func (e *Envelope) Close() error {
	if e.Stream == nil {
		return nil
	}
	return e.Stream.Close()
}

// Failed builds a synthetic 502 envelope for a target whose fetch failed
// without any upstream response.
func Failed(target string) *Envelope {
	return &Envelope{
		Status: http.StatusBadGateway,
		Header: Header{},
		URL:    target,
		Stream: buffer.NewStaticStream(nil),
	}
}
