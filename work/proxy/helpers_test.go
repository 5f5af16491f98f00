package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"mediaproxy/work/config"

	"github.com/stretchr/testify/require"
)

// origin is an upstream test server counting requests per path.
type origin struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newOrigin(t *testing.T, handler http.HandlerFunc) *origin {
	t.Helper()
	o := &origin{hits: make(map[string]int)}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.hits[r.URL.Path]++
		o.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *origin) hitCount(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

// harness is a running proxy plus a player client that neither follows
// redirects nor decompresses responses.
type harness struct {
	server *Server
	proxy  *MediaProxy
	player *http.Client
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.CacheDir = t.TempDir()
	cfg.ChunkSize = 1024
	cfg.ClientTimeout = 5 * time.Second
	cfg.UpstreamTimeout = 5 * time.Second
	return cfg
}

func startHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig(t)
	if mutate != nil {
		mutate(cfg)
	}

	mp, err := NewFromConfig(cfg)
	require.NoError(t, err)
	srv := NewServer(cfg, mp)
	require.NoError(t, srv.Start())

	transport := &http.Transport{DisableCompression: true}
	h := &harness{
		server: srv,
		proxy:  mp,
		player: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	t.Cleanup(func() {
		transport.CloseIdleConnections()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return h
}

// do sends a player request for the upstream target through the proxy.
func (h *harness) do(t *testing.T, method, target string, header http.Header, body io.Reader) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, h.server.ProxyPath()+target, body)
	require.NoError(t, err)
	for name, values := range header {
		req.Header[name] = values
	}
	resp, err := h.player.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (h *harness) get(t *testing.T, target string) (*http.Response, []byte) {
	t.Helper()
	return h.do(t, http.MethodGet, target, nil, nil)
}
