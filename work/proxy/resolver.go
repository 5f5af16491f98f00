package proxy

import (
	"context"
	"io"
	"net/http"
	"os"

	"mediaproxy/work/cache"
	"mediaproxy/work/client"
	"mediaproxy/work/logger"
	"mediaproxy/work/metrics"
	"mediaproxy/work/patterns"
	"mediaproxy/work/utils"
)

// resolve fetches the segment described by params. Absolute templates are
// fetched as rendered. Relative ones are tried against each base URL in
// order; the first base giving a non-error status is promoted to the front
// for later requests. When every base fails the last failed response is
// returned. The result is never nil and must be closed.
func (mp *MediaProxy) resolve(ctx context.Context, method string, entry *patterns.Entry, params patterns.Params, out client.Outbound) *client.Envelope {
	rendered := entry.Definition.Template.Render(params)

	if utils.IsAbsolute(rendered) {
		return mp.fetch(ctx, method, rendered, out)
	}

	bases := entry.BaseURLs.Snapshot()
	var last *client.Envelope
	for i, base := range bases {
		target := utils.ResolveURL(base, rendered)
		env := mp.fetch(ctx, method, target, out)
		if env.OK() {
			if last != nil {
				last.Close()
			}
			if i > 0 {
				entry.BaseURLs.Promote(base)
				metrics.SegmentFailovers.Inc()
				logger.Info("{proxy/resolver - resolve} Promoted base %s after %d failed", utils.LogURL(mp.Config, base), i)
			}
			return env
		}

		logger.Debug("{proxy/resolver - resolve} Base %s answered %d for %s", utils.LogURL(mp.Config, base), env.Status, rendered)
		if last != nil {
			last.Close()
		}
		last = env
		if ctx.Err() != nil {
			break
		}
	}

	if last == nil {
		return client.Failed(rendered)
	}
	return last
}

// fetch performs one upstream request, turning transport errors into a
// synthetic 502 envelope.
func (mp *MediaProxy) fetch(ctx context.Context, method, target string, out client.Outbound) *client.Envelope {
	env, err := mp.Client.Do(ctx, method, target, out)
	if err != nil {
		logger.Debug("{proxy/resolver - fetch} %v", err)
		return client.Failed(target)
	}
	return env
}

// caching reports whether segments of entry with params are cacheable.
func (mp *MediaProxy) caching(entry *patterns.Entry, params patterns.Params) bool {
	return mp.Disk != nil && entry.Segments != nil && params.Number() >= 0
}

// serveSegment answers a request that matched a registered segment pattern,
// from the cache when possible, otherwise through resolve. Numbered 200
// responses are teed into the cache while they stream to the player.
func (mp *MediaProxy) serveSegment(w http.ResponseWriter, r *http.Request, target string, entry *patterns.Entry, params patterns.Params, out client.Outbound) {
	cacheable := mp.caching(entry, params) && r.Method == http.MethodGet && r.Header.Get("Range") == ""
	key := cache.Key{RepresentationID: params.RepresentationID(), Number: params.Number()}

	if cacheable {
		if env := mp.cached(entry, key); env != nil {
			defer env.Close()
			metrics.SegmentCache.WithLabelValues("hit").Inc()
			metrics.Requests.WithLabelValues(r.Method, kindCached).Inc()
			if err := mp.output(w, r, env, false, nil); err != nil {
				logger.Debug("{proxy/resolver - serveSegment} Cached output of %s ended early: %v", utils.LogURL(mp.Config, target), err)
			}
			mp.prefetch(entry, params, out)
			return
		}
		metrics.SegmentCache.WithLabelValues("miss").Inc()
	}

	env := mp.resolve(r.Context(), r.Method, entry, params, out)
	defer env.Close()
	metrics.Requests.WithLabelValues(r.Method, kindSegment).Inc()

	var writer *cache.Writer
	if cacheable && env.Status == http.StatusOK {
		var err error
		if writer, err = mp.Disk.Create(); err != nil {
			logger.Warn("{proxy/resolver - serveSegment} %v", err)
		}
	}

	var sink io.Writer
	if writer != nil {
		sink = writer
	}
	err := mp.output(w, r, env, false, sink)

	if writer != nil {
		mp.commit(entry, key, env, writer, err)
	}
	if err != nil {
		logger.Debug("{proxy/resolver - serveSegment} Output of %s ended early: %v", utils.LogURL(mp.Config, target), err)
	}

	if cacheable {
		mp.prefetch(entry, params, out)
	}
}

// commit stores a teed segment, or discards the partial file when the
// output failed.
func (mp *MediaProxy) commit(entry *patterns.Entry, key cache.Key, env *client.Envelope, writer *cache.Writer, outputErr error) {
	if outputErr != nil {
		writer.Abort()
		metrics.SegmentCache.WithLabelValues("fail").Inc()
		return
	}
	path, err := writer.Commit()
	if err != nil {
		metrics.SegmentCache.WithLabelValues("fail").Inc()
		logger.Warn("{proxy/resolver - commit} %v", err)
		return
	}
	entry.Segments.Put(key, cache.Record{
		Status: env.Status,
		Header: env.Header.Visible(),
		Path:   path,
		Size:   writer.Size(),
	})
	metrics.SegmentCache.WithLabelValues("store").Inc()
	metrics.BytesTransferred.WithLabelValues("cache").Add(float64(writer.Size()))
}

// cached opens a cached segment as an envelope, or returns nil on a miss.
func (mp *MediaProxy) cached(entry *patterns.Entry, key cache.Key) *client.Envelope {
	rec, ok := entry.Segments.Get(key)
	if !ok {
		return nil
	}
	f, err := os.Open(rec.Path)
	if err != nil {
		return nil
	}
	return &client.Envelope{
		Status:    rec.Status,
		Header:    client.HeaderFrom(rec.Header),
		URL:       rec.Path,
		Stream:    mp.BufferPool.NewStream(f),
		FromCache: true,
	}
}
