package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingProxy struct {
	mu    sync.Mutex
	calls []string
}

func (p *recordingProxy) record(method string, w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.calls = append(p.calls, method+" "+r.RequestURI)
	p.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (p *recordingProxy) HandleGet(w http.ResponseWriter, r *http.Request) {
	p.record("GET", w, r)
}

func (p *recordingProxy) HandleHead(w http.ResponseWriter, r *http.Request) {
	p.record("HEAD", w, r)
}

func (p *recordingProxy) HandlePost(w http.ResponseWriter, r *http.Request) {
	p.record("POST", w, r)
}

func TestRouterDispatchesByMethod(t *testing.T) {
	p := &recordingProxy{}
	router := NewRouter(p, false)

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodPost} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(method, "/http://cdn.example/a.mpd", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code, method)
	}

	assert.Equal(t, []string{
		"GET /http://cdn.example/a.mpd",
		"HEAD /http://cdn.example/a.mpd",
		"POST /http://cdn.example/a.mpd",
	}, p.calls)
}

func TestRouterKeepsDoubleSlashes(t *testing.T) {
	p := &recordingProxy{}
	router := NewRouter(p, false)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/http://cdn.example//live/../a.m3u8", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"GET /http://cdn.example//live/../a.m3u8"}, p.calls)
}

func TestRouterRejectsOtherMethods(t *testing.T) {
	p := &recordingProxy{}
	router := NewRouter(p, false)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/http://cdn.example/a", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, p.calls)
}

func TestRouterMetrics(t *testing.T) {
	p := &recordingProxy{}

	rec := httptest.NewRecorder()
	NewRouter(p, true).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
	assert.Empty(t, p.calls)

	rec = httptest.NewRecorder()
	NewRouter(p, false).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, []string{"GET /metrics"}, p.calls)
}

func TestDispatchCoversProxiedVerbs(t *testing.T) {
	table := Dispatch(&recordingProxy{})
	assert.Len(t, table, 3)
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodPost} {
		assert.NotNil(t, table[method], method)
	}
}
