package utils

import (
	"fmt"
	"mediaproxy/work/config"
	"net/url"
	"strings"
)

// LogURL returns either the original URL or an obfuscated version for logging
func LogURL(cfg *config.Config, url string) string {
	if cfg != nil && cfg.ObfuscateUrls {
		return ObfuscateURL(url)
	}
	return url
}

func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	// Parse the URL
	u, err := url.Parse(urlStr)
	if err != nil {
		// If parsing fails, just obfuscate the whole thing
		return "***OBFUSCATED***"
	}

	// Keep scheme and host, obfuscate path and query
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}

	return result
}

// IsAbsolute reports whether s starts with an http scheme, the same test
// manifests use to tell origin URLs from relative references.
func IsAbsolute(s string) bool {
	return strings.HasPrefix(s, "http")
}

// ResolveURL resolves ref against base the way a browser would. When either
// side fails to parse the two are joined textually.
func ResolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return joinText(base, ref)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return joinText(base, ref)
	}
	return b.ResolveReference(r).String()
}

func joinText(base, ref string) string {
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[:i+1]
	}
	return base + strings.TrimPrefix(ref, "/")
}

// ProxyURL prefixes an absolute origin URL with the proxy path.
func ProxyURL(proxyPath, origin string) string {
	return proxyPath + origin
}

// FormatBytes renders a byte count for logs.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
