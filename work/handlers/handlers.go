package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Proxy is the request engine behind the catch-all routes.
type Proxy interface {
	HandleGet(w http.ResponseWriter, r *http.Request)
	HandleHead(w http.ResponseWriter, r *http.Request)
	HandlePost(w http.ResponseWriter, r *http.Request)
}

// Dispatch maps each proxied HTTP verb to its handler.
func Dispatch(p Proxy) map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		http.MethodGet:  p.HandleGet,
		http.MethodHead: p.HandleHead,
		http.MethodPost: p.HandlePost,
	}
}

// NewRouter builds the proxy router. Paths are not cleaned, since the
// upstream URL is carried in the path and "//" after the scheme must
// survive. /metrics is served ahead of the catch-all routes when enabled.
func NewRouter(p Proxy, metricsEnabled bool) *mux.Router {
	router := mux.NewRouter().SkipClean(true)

	if metricsEnabled {
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodPost} {
		router.PathPrefix("/").Methods(method).HandlerFunc(Dispatch(p)[method])
	}
	return router
}
