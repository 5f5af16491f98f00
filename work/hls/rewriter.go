package hls

import (
	"bytes"
	"strings"

	"mediaproxy/work/logger"

	"github.com/grafana/regexp"
	"github.com/grafov/m3u8"
)

const mediaTag = "#EXT-X-MEDIA:"

// Playlist kinds reported by Classify.
const (
	KindMaster  = "master"
	KindMedia   = "media"
	KindUnknown = "unknown"
)

var absoluteURLRx = regexp.MustCompile(`(?i)(https?)://`)

// Result is a rewritten playlist.
type Result struct {
	Body        []byte
	Kind        string
	AudioGroups int
	Rewritten   int // EXT-X-MEDIA lines re-serialized
}

// Rewrite applies the default audio fix for defaultLanguage (may be empty)
// and prefixes every absolute URL in the playlist with proxyPath. The fix is
// skipped for media playlists, which carry no renditions; playlists that do
// not decode are still fixed.
func Rewrite(body []byte, proxyPath, defaultLanguage string) Result {
	res := Result{Kind: Classify(body)}

	text := string(body)
	if res.Kind != KindMedia && strings.Contains(text, mediaTag) {
		text, res.AudioGroups, res.Rewritten = defaultAudioFix(text, defaultLanguage)
	}
	res.Body = []byte(ProxyURLs(text, proxyPath))
	return res
}

// ProxyURLs prefixes every http:// or https:// occurrence with proxyPath.
// The scheme is matched case-insensitively and kept as written.
func ProxyURLs(text, proxyPath string) string {
	return absoluteURLRx.ReplaceAllString(text, proxyPath+"${1}://")
}

// NormalizeLanguage reduces tags whose region repeats the language, such as
// es-ES, to the bare language. Only the first two subtags are compared, so
// es-ES-x becomes es too. Other tags are returned unchanged.
func NormalizeLanguage(tag string) string {
	subtags := strings.Split(tag, "-")
	if len(subtags) > 1 && strings.EqualFold(subtags[0], subtags[1]) {
		return subtags[0]
	}
	return tag
}

// Classify reports whether body is a master or media playlist.
func Classify(body []byte) string {
	_, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return KindUnknown
	}
	switch listType {
	case m3u8.MASTER:
		return KindMaster
	case m3u8.MEDIA:
		return KindMedia
	}
	return KindUnknown
}

type mediaLine struct {
	index int
	attrs *attributeList
	cr    bool
}

// defaultAudioFix normalizes rendition languages and, when a preference is
// given, selects the default audio rendition of every group that lacks an
// explicit one. It returns the new text, the number of audio groups and the
// number of lines rewritten.
func defaultAudioFix(text, preference string) (string, int, int) {
	lines := strings.Split(text, "\n")

	var order []string
	groups := make(map[string][]*mediaLine)
	hasDefault := make(map[string]bool)
	var touched []*mediaLine

	for i, line := range lines {
		trimmed, cr := strings.CutSuffix(line, "\r")
		if !strings.HasPrefix(trimmed, mediaTag) {
			continue
		}
		ml := &mediaLine{index: i, attrs: parseAttributes(trimmed[len(mediaTag):]), cr: cr}

		normalized := false
		if lang, ok := ml.attrs.Get("LANGUAGE"); ok {
			if n := NormalizeLanguage(lang); n != lang {
				ml.attrs.Set("LANGUAGE", n)
				normalized = true
			}
		}

		if ml.attrs.Value("TYPE") != "AUDIO" {
			if normalized {
				touched = append(touched, ml)
			}
			continue
		}

		group := ml.attrs.Value("GROUP-ID")
		if _, ok := groups[group]; !ok {
			order = append(order, group)
		}
		groups[group] = append(groups[group], ml)
		if ml.attrs.Value("DEFAULT") == "YES" {
			hasDefault[group] = true
		}
		touched = append(touched, ml)
	}

	preference = NormalizeLanguage(strings.TrimSpace(preference))
	if preference != "" {
		for _, group := range order {
			if hasDefault[group] {
				continue
			}
			seen := make(map[string]bool)
			for _, ml := range groups[group] {
				ml.attrs.Set("AUTOSELECT", "NO")
				ml.attrs.Set("DEFAULT", "NO")

				lang := strings.ToLower(ml.attrs.Value("LANGUAGE"))
				if seen[lang] {
					continue
				}
				seen[lang] = true
				ml.attrs.Set("AUTOSELECT", "YES")
				if strings.EqualFold(lang, preference) {
					ml.attrs.Set("DEFAULT", "YES")
				}
			}
			logger.Debug("{hls/rewriter - defaultAudioFix} Selected default audio for group %q (%s)", group, preference)
		}
	}

	for _, ml := range touched {
		line := mediaTag + ml.attrs.String()
		if ml.cr {
			line += "\r"
		}
		lines[ml.index] = line
	}

	return strings.Join(lines, "\n"), len(order), len(touched)
}
