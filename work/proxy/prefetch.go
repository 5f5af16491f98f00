package proxy

import (
	"net/http"

	"mediaproxy/work/cache"
	"mediaproxy/work/client"
	"mediaproxy/work/logger"
	"mediaproxy/work/metrics"
	"mediaproxy/work/patterns"
)

// prefetchKey identifies one in-flight look-ahead fetch.
type prefetchKey struct {
	entry *patterns.Entry
	key   cache.Key
}

// prefetch queues the next CacheAhead segments after params for background
// caching. Segments already cached or already being fetched are skipped, and
// a saturated pool drops the rest of the batch rather than blocking.
func (mp *MediaProxy) prefetch(entry *patterns.Entry, params patterns.Params, out client.Outbound) {
	if mp.WorkerPool == nil || mp.Config.CacheAhead <= 0 || !mp.caching(entry, params) {
		return
	}

	// Ranges and bodies belong to the player's request, not to the segments ahead.
	base := out.Clone()
	base.Header.Del("Range")
	base.Body = nil

	current := params.Number()
	for n := current + 1; n <= current+mp.Config.CacheAhead; n++ {
		next := params.WithNumber(n)
		pk := prefetchKey{entry: entry, key: cache.Key{RepresentationID: next.RepresentationID(), Number: n}}

		if entry.Segments.Has(pk.key) {
			continue
		}
		if _, loaded := mp.inflight.LoadOrStore(pk, struct{}{}); loaded {
			continue
		}

		err := mp.WorkerPool.Submit(func() {
			defer mp.inflight.Delete(pk)
			mp.fetchToCache(pk, next, base)
		})
		if err != nil {
			mp.inflight.Delete(pk)
			logger.Debug("{proxy/prefetch - prefetch} Dropping look-ahead from segment %d: %v", n, err)
			return
		}
	}
}

// fetchToCache resolves one segment and writes it to the cache only.
func (mp *MediaProxy) fetchToCache(pk prefetchKey, params patterns.Params, out client.Outbound) {
	if mp.ctx.Err() != nil {
		return
	}

	env := mp.resolve(mp.ctx, http.MethodGet, pk.entry, params, out)
	defer env.Close()
	if env.Status != http.StatusOK {
		logger.Debug("{proxy/prefetch - fetchToCache} Segment %s/%d answered %d", pk.key.RepresentationID, pk.key.Number, env.Status)
		return
	}

	writer, err := mp.Disk.Create()
	if err != nil {
		logger.Warn("{proxy/prefetch - fetchToCache} %v", err)
		return
	}
	for chunk := range env.Stream.Chunks() {
		writer.Write(chunk)
	}

	mp.commit(pk.entry, pk.key, env, writer, env.Stream.Err())
	if !writer.Failed() && env.Stream.Err() == nil {
		metrics.SegmentCache.WithLabelValues("prefetch").Inc()
	}
}
