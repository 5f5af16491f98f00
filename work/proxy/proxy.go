package proxy

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"mediaproxy/work/buffer"
	"mediaproxy/work/cache"
	"mediaproxy/work/client"
	"mediaproxy/work/config"
	"mediaproxy/work/logger"
	"mediaproxy/work/metrics"
	"mediaproxy/work/patterns"
	"mediaproxy/work/utils"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// Request kinds used as metric labels.
const (
	kindRejected    = "rejected"
	kindError       = "error"
	kindSegment     = "segment"
	kindCached      = "cached"
	kindManifest    = "manifest"
	kindPassthrough = "passthrough"
)

// MediaProxy is the request engine: it forwards player requests upstream,
// rewrites manifests, resolves segment requests against the patterns those
// manifests registered, and streams responses back.
type MediaProxy struct {
	Config     *config.Config
	BufferPool *buffer.BufferPool
	Client     *client.Client
	Store      *patterns.Store
	Disk       *cache.Disk // nil when caching is disabled
	WorkerPool *ants.Pool  // nil when look-ahead prefetch is disabled

	inflight *xsync.MapOf[prefetchKey, struct{}]
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a MediaProxy. disk and workerPool may be nil.
func New(cfg *config.Config, bufferPool *buffer.BufferPool, httpClient *client.Client, store *patterns.Store, disk *cache.Disk, workerPool *ants.Pool) *MediaProxy {
	ctx, cancel := context.WithCancel(context.Background())
	return &MediaProxy{
		Config:     cfg,
		BufferPool: bufferPool,
		Client:     httpClient,
		Store:      store,
		Disk:       disk,
		WorkerPool: workerPool,
		inflight:   xsync.NewMapOf[prefetchKey, struct{}](),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// NewFromConfig wires a MediaProxy and its pools from cfg. The cache
// directory is always created; the segment cache exists only when caching is
// enabled, and the prefetch pool only when look-ahead is requested on top of
// that.
func NewFromConfig(cfg *config.Config) (*MediaProxy, error) {
	bufferPool := buffer.NewBufferPool(int64(cfg.RetainBytes()), cfg.ChunkSize)
	httpClient := client.New(cfg, bufferPool)

	var disk *cache.Disk
	segmentCapacity := 0
	if cfg.CachingEnabled() {
		d, err := cache.NewDisk(cfg.CacheDir)
		if err != nil {
			return nil, err
		}
		disk = d
		// Look-ahead segments must not push out the ones being watched.
		segmentCapacity = cfg.CacheBehind + cfg.CacheAhead
	} else if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", cfg.CacheDir, err)
	}
	store := patterns.NewStore(cfg.MaxManifests, segmentCapacity)

	var workerPool *ants.Pool
	if disk != nil && cfg.CacheAhead > 0 {
		p, err := ants.NewPool(cfg.WorkerThreads,
			ants.WithPreAlloc(true),
			ants.WithNonblocking(true),
			ants.WithPanicHandler(func(v interface{}) {
				logger.Error("{proxy/proxy - NewFromConfig} Prefetch worker panicked: %v", v)
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("creating prefetch pool: %w", err)
		}
		workerPool = p
	}

	return New(cfg, bufferPool, httpClient, store, disk, workerPool), nil
}

// ProxyPath returns the http://host:port/ prefix of rewritten URLs.
func (mp *MediaProxy) ProxyPath() string {
	return mp.Client.ProxyPath()
}

// SetProxyPath updates the prefix once the listener's real address is known.
func (mp *MediaProxy) SetProxyPath(p string) {
	mp.Client.SetProxyPath(p)
}

// Close stops background prefetching and releases upstream connections.
func (mp *MediaProxy) Close() {
	mp.cancel()
	if mp.WorkerPool != nil {
		if err := mp.WorkerPool.ReleaseTimeout(5 * time.Second); err != nil {
			logger.Warn("{proxy/proxy - Close} Prefetch workers did not stop in time: %v", err)
		}
	}
	mp.Client.Sessions().CloseIdle()
}

// targetURL extracts the upstream URL from the request line. Leading slashes
// and backslashes are stripped; the raw request URI keeps the origin's own
// escaping and query string intact.
func targetURL(r *http.Request) (string, bool) {
	target := strings.TrimLeft(r.RequestURI, `/\`)
	return target, strings.Contains(target, "http")
}

// HandleGet proxies a GET. Segment requests matching a registered manifest
// are resolved with base URL failover; everything else is fetched directly
// and sniffed for manifests to rewrite.
func (mp *MediaProxy) HandleGet(w http.ResponseWriter, r *http.Request) {
	target, ok := mp.accept(w, r)
	if !ok {
		return
	}

	out, err := client.OutboundFromRequest(r)
	if err != nil {
		mp.fail(w, r, target, http.StatusBadRequest, err)
		return
	}

	if entry, params, ok := mp.Store.Match(target); ok {
		mp.serveSegment(w, r, target, entry, params, out)
		return
	}

	env, err := mp.Client.Do(r.Context(), http.MethodGet, target, out)
	if err != nil {
		mp.fail(w, r, target, http.StatusBadGateway, err)
		return
	}
	defer env.Close()

	// Error responses go out as received, manifest markers or not.
	kind := kindPassthrough
	if env.OK() && mp.rewriteManifest(env, r.Header.Get(client.DefaultLanguageHeader)) {
		kind = kindManifest
	}
	metrics.Requests.WithLabelValues(r.Method, kind).Inc()

	if err := mp.output(w, r, env, env.Rewritten, nil); err != nil {
		logger.Debug("{proxy/proxy - HandleGet} Output of %s ended early: %v", utils.LogURL(mp.Config, target), err)
	}
}

// HandleHead proxies a HEAD verbatim.
func (mp *MediaProxy) HandleHead(w http.ResponseWriter, r *http.Request) {
	mp.forward(w, r)
}

// HandlePost proxies a POST verbatim, body included.
func (mp *MediaProxy) HandlePost(w http.ResponseWriter, r *http.Request) {
	mp.forward(w, r)
}

func (mp *MediaProxy) forward(w http.ResponseWriter, r *http.Request) {
	target, ok := mp.accept(w, r)
	if !ok {
		return
	}

	out, err := client.OutboundFromRequest(r)
	if err != nil {
		mp.fail(w, r, target, http.StatusBadRequest, err)
		return
	}

	env, err := mp.Client.Do(r.Context(), r.Method, target, out)
	if err != nil {
		mp.fail(w, r, target, http.StatusBadGateway, err)
		return
	}
	defer env.Close()

	metrics.Requests.WithLabelValues(r.Method, kindPassthrough).Inc()
	if err := mp.output(w, r, env, false, nil); err != nil {
		logger.Debug("{proxy/proxy - forward} Output of %s %s ended early: %v", r.Method, utils.LogURL(mp.Config, target), err)
	}
}

// accept rejects requests whose path carries no upstream URL.
func (mp *MediaProxy) accept(w http.ResponseWriter, r *http.Request) (string, bool) {
	target, ok := targetURL(r)
	if !ok {
		metrics.Requests.WithLabelValues(r.Method, kindRejected).Inc()
		logger.Debug("{proxy/proxy - accept} Rejecting %s %s: no upstream URL", r.Method, r.RequestURI)
		http.NotFound(w, r)
		return "", false
	}
	logger.Debug("{proxy/proxy - accept} %s %s", r.Method, utils.LogURL(mp.Config, target))
	return target, true
}

func (mp *MediaProxy) fail(w http.ResponseWriter, r *http.Request, target string, status int, err error) {
	metrics.Requests.WithLabelValues(r.Method, kindError).Inc()
	logger.Warn("{proxy/proxy - fail} %s %s: %v", r.Method, utils.LogURL(mp.Config, target), err)
	http.Error(w, http.StatusText(status), status)
}
