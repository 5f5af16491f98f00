package utils

import (
	"testing"

	"mediaproxy/work/config"

	"github.com/stretchr/testify/assert"
)

func TestLogURL(t *testing.T) {
	cfg := config.Default()
	u := "https://cdn.example.com/path/master.mpd?token=abc"
	assert.Equal(t, u, LogURL(cfg, u))

	cfg.ObfuscateUrls = true
	assert.Equal(t, "https://cdn.example.com/***?***", LogURL(cfg, u))
	assert.Equal(t, u, LogURL(nil, u))
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base, ref, want string
	}{
		{"https://a.example/dash/manifest.mpd", "video/1.m4s", "https://a.example/dash/video/1.m4s"},
		{"https://a.example/dash/", "../x.m4s", "https://a.example/x.m4s"},
		{"https://a.example/dash/manifest.mpd", "https://b.example/y.m4s", "https://b.example/y.m4s"},
		{"https://a.example/dash/manifest.mpd", "/root.m4s", "https://a.example/root.m4s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveURL(tt.base, tt.ref))
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KiB", FormatBytes(1024))
	assert.Equal(t, "16.0 MiB", FormatBytes(16*1024*1024))
}

func TestIsAbsolute(t *testing.T) {
	assert.True(t, IsAbsolute("http://x"))
	assert.True(t, IsAbsolute("https://x"))
	assert.False(t, IsAbsolute("seg-1.m4s"))
}
