package proxy

import (
	"bytes"

	"mediaproxy/work/buffer"
	"mediaproxy/work/client"
	"mediaproxy/work/dash"
	"mediaproxy/work/hls"
	"mediaproxy/work/logger"
	"mediaproxy/work/metrics"
	"mediaproxy/work/utils"
)

var (
	dashMarker = []byte("urn:mpeg:dash:schema")
	hlsMarker  = []byte("#extm3u")
)

// Manifest formats detected by sniff.
const (
	formatNone = ""
	formatDASH = "dash"
	formatHLS  = "hls"
)

// sniff inspects the leading bytes of a body, case-insensitively.
func sniff(head []byte) string {
	lower := bytes.ToLower(head)
	switch {
	case bytes.Contains(lower, dashMarker):
		return formatDASH
	case bytes.Contains(lower, hlsMarker):
		return formatHLS
	}
	return formatNone
}

// rewriteManifest sniffs env and rewrites DASH or HLS manifests in place.
// DASH segment definitions are registered in the store. It reports whether
// the body was replaced; on a parse failure the original body is kept.
func (mp *MediaProxy) rewriteManifest(env *client.Envelope, defaultLanguage string) bool {
	format := sniff(env.Stream.ReadRange(mp.Config.SniffSize, 0))
	if format == formatNone {
		return false
	}

	body := env.Stream.ReadRange(buffer.ToEnd, 0)
	if err := env.Stream.Err(); err != nil {
		logger.Warn("{proxy/sniff - rewriteManifest} Manifest body from %s truncated: %v", utils.LogURL(mp.Config, env.URL), err)
	}

	switch format {
	case formatDASH:
		res, err := dash.Rewrite(body, env.URL, mp.ProxyPath())
		if err != nil {
			metrics.ManifestRewrites.WithLabelValues(formatDASH, "parse_error").Inc()
			logger.Warn("{proxy/sniff - rewriteManifest} Forwarding unmodified DASH manifest %s: %v", utils.LogURL(mp.Config, env.URL), err)
			return false
		}
		mp.Store.Register(env.URL, res.BaseURLs, res.Definitions)
		env.Stream.Replace(res.Body)
		logger.Debug("{proxy/sniff - rewriteManifest} Rewrote DASH manifest %s: %d segment definitions, %d base URLs",
			utils.LogURL(mp.Config, env.URL), len(res.Definitions), len(res.BaseURLs))

	case formatHLS:
		res := hls.Rewrite(body, mp.ProxyPath(), defaultLanguage)
		env.Stream.Replace(res.Body)
		logger.Debug("{proxy/sniff - rewriteManifest} Rewrote HLS %s playlist %s: %d audio groups",
			res.Kind, utils.LogURL(mp.Config, env.URL), res.AudioGroups)
	}

	metrics.ManifestRewrites.WithLabelValues(format, "ok").Inc()
	env.Rewritten = true
	return true
}
