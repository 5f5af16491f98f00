package client

import (
	"net/http"
	"strings"
)

// DefaultLanguageHeader is the request header a player uses to pass its
// preferred audio language. It is consumed by the proxy and never forwarded.
const DefaultLanguageHeader = "_proxy_default_language"

// RemovedHeaders are hop-by-hop or regenerated response headers. They are
// kept under a "_" prefix for internal use and never sent to the player.
var RemovedHeaders = []string{
	"connection",
	"transfer-encoding",
	"content-encoding",
	"date",
	"server",
	"content-length",
	"location",
}

// Header is a response header map keyed by lowercase names.
type Header map[string][]string

// Get returns the first value for name, matched case-insensitively.
func (h Header) Get(name string) string {
	if v := h[strings.ToLower(name)]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Set replaces the values for name.
func (h Header) Set(name, value string) {
	h[strings.ToLower(name)] = []string{value}
}

// Del removes name.
func (h Header) Del(name string) {
	delete(h, strings.ToLower(name))
}

// Has reports whether name is present.
func (h Header) Has(name string) bool {
	_, ok := h[strings.ToLower(name)]
	return ok
}

// Visible returns the headers to send to the player: everything except the
// "_"-prefixed shadows of RemovedHeaders.
func (h Header) Visible() http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		if isShadow(name) {
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	return out
}

func isShadow(name string) bool {
	if !strings.HasPrefix(name, "_") {
		return false
	}
	for _, removed := range RemovedHeaders {
		if name[1:] == removed {
			return true
		}
	}
	return false
}

// filterResponse lowercases header names and moves RemovedHeaders under their
// "_" shadow names.
func filterResponse(src http.Header) Header {
	h := HeaderFrom(src)
	for _, name := range RemovedHeaders {
		if values, ok := h[name]; ok {
			delete(h, name)
			h["_"+name] = values
		}
	}
	return h
}

// filterRequest copies the player's request headers for forwarding upstream,
// dropping the proxy's own control headers and the ones the transport sets.
func filterRequest(src http.Header) http.Header {
	h := make(http.Header, len(src))
	for name, values := range src {
		switch {
		case strings.EqualFold(name, DefaultLanguageHeader),
			strings.EqualFold(name, "Host"),
			strings.EqualFold(name, "Content-Length"):
			continue
		}
		h[name] = append([]string(nil), values...)
	}
	return h
}

// HeaderFrom lowercases an already filtered header set, such as one stored
// with a cached segment.
func HeaderFrom(src http.Header) Header {
	h := make(Header, len(src))
	for name, values := range src {
		lower := strings.ToLower(name)
		h[lower] = append(h[lower], values...)
	}
	return h
}
