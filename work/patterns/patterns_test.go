package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateRoundTrip(t *testing.T) {
	d, err := Compile("chunk-$RepresentationID$-$Number%05d$.m4s")
	require.NoError(t, err)
	assert.False(t, d.Absolute)

	p, ok := d.Match("http://origin.example/dash/chunk-audio-00042.m4s")
	require.True(t, ok)
	assert.Equal(t, "audio", p.RepresentationID())
	assert.Equal(t, 42, p.Number())

	assert.Equal(t, "chunk-audio-00042.m4s", d.Template.Render(Params{RepresentationID: "audio", Number: "42"}))
	assert.Equal(t, "chunk-audio-00042.m4s", d.Template.Render(p))
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		target  string
		match   bool
		params  Params
		renders string
	}{
		{
			name:    "absolute exact",
			raw:     "https://cdn.example/v/$RepresentationID$/$Number$.m4s",
			target:  "https://cdn.example/v/1080p/17.m4s",
			match:   true,
			params:  Params{RepresentationID: "1080p", Number: "17"},
			renders: "https://cdn.example/v/1080p/17.m4s",
		},
		{
			name:   "absolute rejects prefix",
			raw:    "https://cdn.example/v/$Number$.m4s",
			target: "http://127.0.0.1:52103/https://cdn.example/v/17.m4s",
			match:  false,
		},
		{
			name:    "relative suffix with dot segments",
			raw:     "../media/$RepresentationID$_$Time$.mp4",
			target:  "https://cdn.example/a/b/media/v1_900900.mp4",
			match:   true,
			params:  Params{RepresentationID: "v1", Time: "900900"},
			renders: "../media/v1_900900.mp4",
		},
		{
			name:    "bandwidth and escaped dollar",
			raw:     "seg_$Bandwidth$_$$x.ts",
			target:  "http://o/seg_128000_$x.ts",
			match:   true,
			params:  Params{Bandwidth: "128000"},
			renders: "seg_128000_$x.ts",
		},
		{
			name:    "unknown placeholder is literal",
			raw:     "seg_$SubNumber$_$Number$.ts",
			target:  "http://o/seg_$SubNumber$_3.ts",
			match:   true,
			params:  Params{Number: "3"},
			renders: "seg_$SubNumber$_3.ts",
		},
		{
			name:    "init without placeholders",
			raw:     "init.mp4",
			target:  "http://o/x/init.mp4",
			match:   true,
			params:  Params{},
			renders: "init.mp4",
		},
		{
			name:   "digits only for number",
			raw:    "$Number$.m4s",
			target: "http://o/abc.m4s",
			match:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Compile(tt.raw)
			require.NoError(t, err)

			p, ok := d.Match(tt.target)
			require.Equal(t, tt.match, ok, d.Pattern.String())
			if !ok {
				return
			}
			assert.Equal(t, tt.params, p)
			assert.Equal(t, tt.renders, d.Template.Render(p))
		})
	}
}

func TestRepeatedIdentifierCapturesOnce(t *testing.T) {
	d, err := Compile("$RepresentationID$/$RepresentationID$-$Number$.m4s")
	require.NoError(t, err)

	p, ok := d.Match("http://o/v1/v1-5.m4s")
	require.True(t, ok)
	assert.Equal(t, "v1", p.RepresentationID())
	assert.Equal(t, "v1/v1-5.m4s", d.Template.Render(p))
}

func TestParams(t *testing.T) {
	assert.Equal(t, -1, Params{}.Number())
	assert.Equal(t, -1, Params{Number: "x"}.Number())

	p := Params{RepresentationID: "a", Number: "00007"}
	next := p.WithNumber(8)
	assert.Equal(t, 8, next.Number())
	assert.Equal(t, 7, p.Number(), "WithNumber copies")
	assert.Equal(t, "a", next.RepresentationID())
}

func TestRenderMissingParamKeepsPlaceholder(t *testing.T) {
	tmpl := ParseTemplate("v/$RepresentationID$/$Number%03d$.m4s")
	assert.Equal(t, "v/$RepresentationID$/005.m4s", tmpl.Render(Params{Number: "5"}))
	assert.Equal(t, "v/$RepresentationID$/$Number%03d$.m4s", tmpl.String())
}

func TestBaseURLsPromote(t *testing.T) {
	b := NewBaseURLs([]string{"A", "B", "C"})
	b.Promote("B")
	assert.Equal(t, []string{"B", "A", "C"}, b.Snapshot())
	b.Promote("C")
	assert.Equal(t, []string{"C", "B", "A"}, b.Snapshot())
	b.Promote("C")
	b.Promote("missing")
	assert.Equal(t, []string{"C", "B", "A"}, b.Snapshot())
}

func TestBaseURLsReset(t *testing.T) {
	b := NewBaseURLs([]string{"A", "B"})
	b.Promote("B")

	b.Reset([]string{"A", "B"})
	assert.Equal(t, []string{"B", "A"}, b.Snapshot(), "same set keeps affinity")

	b.Reset([]string{"A", "C"})
	assert.Equal(t, []string{"A", "C"}, b.Snapshot())
}

func mustCompile(t *testing.T, raws ...string) []*Definition {
	t.Helper()
	var defs []*Definition
	for _, raw := range raws {
		d, err := Compile(raw)
		require.NoError(t, err)
		defs = append(defs, d)
	}
	return defs
}

func TestStoreFirstMatchWins(t *testing.T) {
	s := NewStore(10, 0)
	s.Register("http://o/one.mpd", []string{"http://o/"}, mustCompile(t, "$RepresentationID$-$Number$.m4s"))
	s.Register("http://o/two.mpd", []string{"http://p/"}, mustCompile(t, "video-$Number$.m4s"))

	e, p, ok := s.Match("http://o/video-3.m4s")
	require.True(t, ok)
	assert.Equal(t, "http://o/one.mpd", e.Manifest)
	assert.Equal(t, "video", p.RepresentationID())
	assert.Nil(t, e.Segments)

	_, _, ok = s.Match("http://o/playlist.m3u8")
	assert.False(t, ok)
}

func TestStoreDefinitionOrderWithinManifest(t *testing.T) {
	s := NewStore(10, 0)
	s.Register("http://o/m.mpd", []string{"http://o/"}, mustCompile(t, "init-$RepresentationID$.mp4", "$RepresentationID$.mp4"))

	e, _, ok := s.Match("http://o/init-v1.mp4")
	require.True(t, ok)
	assert.Equal(t, "init-$RepresentationID$.mp4", e.Definition.Raw)
}

func TestStoreRefreshKeepsEntries(t *testing.T) {
	s := NewStore(10, 4)
	defs := mustCompile(t, "a-$Number$.m4s")
	s.Register("http://o/m.mpd", []string{"http://a/", "http://b/"}, defs)

	first := s.Entries("http://o/m.mpd")
	require.Len(t, first, 1)
	require.NotNil(t, first[0].Segments)
	first[0].BaseURLs.Promote("http://b/")

	s.Register("http://o/m.mpd", []string{"http://a/", "http://b/"}, mustCompile(t, "a-$Number$.m4s", "b-$Number$.m4s"))

	again := s.Entries("http://o/m.mpd")
	require.Len(t, again, 2)
	assert.Same(t, first[0], again[0])
	assert.Same(t, again[0].BaseURLs, again[1].BaseURLs)
	assert.Equal(t, []string{"http://b/", "http://a/"}, again[1].BaseURLs.Snapshot())
	assert.Equal(t, 1, s.Len())
}
