package proxy

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestServerStartShutdownNoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "#EXTM3U\n#EXTINF:4,\nhttp://cdn.example/seg1.ts\n")
	}))
	defer backend.Close()

	cfg := testConfig(t)
	cfg.CacheBehind = 2
	cfg.CacheAhead = 1
	mp, err := NewFromConfig(cfg)
	require.NoError(t, err)
	require.NotNil(t, mp.WorkerPool)

	srv := NewServer(cfg, mp)
	require.NoError(t, srv.Start())

	transport := &http.Transport{}
	player := &http.Client{Transport: transport}
	resp, err := player.Get(srv.ProxyPath() + backend.URL + "/live.m3u8")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), srv.ProxyPath()+"http://cdn.example/seg1.ts")
	transport.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}

func TestServerPortZeroUsesBoundPort(t *testing.T) {
	cfg := testConfig(t)
	mp, err := NewFromConfig(cfg)
	require.NoError(t, err)
	srv := NewServer(cfg, mp)
	require.NoError(t, srv.Start())
	defer srv.Shutdown(context.Background())

	prefix := strings.TrimPrefix(srv.ProxyPath(), "http://127.0.0.1:")
	port, err := strconv.Atoi(strings.TrimSuffix(prefix, "/"))
	require.NoError(t, err)
	assert.NotZero(t, port)
	assert.Equal(t, srv.ProxyPath(), mp.Client.ProxyPath())
}

func TestServerStartReportsBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	mp, err := NewFromConfig(cfg)
	require.NoError(t, err)
	srv := NewServer(cfg, mp)

	err = srv.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on")
	assert.NoError(t, srv.Shutdown(context.Background()))
}

func TestNewFromConfigCreatesCacheDirWithoutCaching(t *testing.T) {
	cfg := testConfig(t)
	cfg.CacheDir = filepath.Join(t.TempDir(), "segments")
	cfg.CacheBehind = 0
	mp, err := NewFromConfig(cfg)
	require.NoError(t, err)
	defer mp.Close()

	assert.DirExists(t, cfg.CacheDir)
	assert.Nil(t, mp.Disk)
}

func TestServerRejectsSecondStart(t *testing.T) {
	cfg := testConfig(t)
	mp, err := NewFromConfig(cfg)
	require.NoError(t, err)
	srv := NewServer(cfg, mp)
	require.NoError(t, srv.Start())
	defer srv.Shutdown(context.Background())

	assert.Error(t, srv.Start())
}
