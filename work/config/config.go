package config

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultConfigPath is read when PROXY_CONFIG is not set
const DefaultConfigPath = "/settings/config.json"

// Config holds all application configuration values for the media proxy.
type Config struct {
	Host                string        `json:"host"`                // Bind host, also used in rewritten proxy URLs
	Port                int           `json:"port"`                // Bind port, also used in rewritten proxy URLs
	CacheDir            string        `json:"cacheDir"`            // Directory for on-disk segment caching
	CacheAhead          int           `json:"cacheAhead"`          // Segments to prefetch ahead of the current one
	CacheBehind         int           `json:"cacheBehind"`         // Watched segments to keep cached; 0 disables caching
	ChunkSize           int           `json:"chunkSize"`           // Chunk size in bytes for upstream reads and client writes
	SniffSize           int           `json:"sniffSize"`           // Leading bytes inspected for manifest detection
	BufferSizePerStream int64         `json:"bufferSizePerStream"` // Replay retention per response in MB
	ClientTimeout       time.Duration `json:"clientTimeout"`       // Per-operation timeout on inbound sockets
	UpstreamTimeout     time.Duration `json:"upstreamTimeout"`     // Dial/handshake/response-header timeout for upstream requests
	UpstreamRateLimit   int           `json:"upstreamRateLimit"`   // Requests per second per upstream host; 0 is unlimited
	MaxManifests        int           `json:"maxManifests"`        // Manifests whose segment patterns are retained
	WorkerThreads       int           `json:"workerThreads"`       // Prefetch worker pool size
	CompressManifests   bool          `json:"compressManifests"`   // Gzip rewritten manifests for clients that accept it
	MetricsEnabled      bool          `json:"metricsEnabled"`      // Expose GET /metrics
	Debug               bool          `json:"debug"`               // Enable debug logging
	ObfuscateUrls       bool          `json:"obfuscateUrls"`       // Obfuscate URLs in logs
	LogLevel            string        `json:"logLevel"`            // DEBUG, INFO, WARN or ERROR
	LogJSON             bool          `json:"logJSON"`             // Emit JSON log lines instead of console text
}

// ConfigFile represents the JSON file structure. Duration fields are strings
// (e.g. "30s") parsed into time.Duration values.
type ConfigFile struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	CacheDir            string `json:"cacheDir"`
	CacheAhead          int    `json:"cacheAhead"`
	CacheBehind         int    `json:"cacheBehind"`
	ChunkSize           int    `json:"chunkSize"`
	SniffSize           int    `json:"sniffSize"`
	BufferSizePerStream int64  `json:"bufferSizePerStream"`
	ClientTimeout       string `json:"clientTimeout"`
	UpstreamTimeout     string `json:"upstreamTimeout"`
	UpstreamRateLimit   int    `json:"upstreamRateLimit"`
	MaxManifests        int    `json:"maxManifests"`
	WorkerThreads       int    `json:"workerThreads"`
	CompressManifests   *bool  `json:"compressManifests"`
	MetricsEnabled      *bool  `json:"metricsEnabled"`
	Debug               bool   `json:"debug"`
	ObfuscateUrls       bool   `json:"obfuscateUrls"`
	LogLevel            string `json:"logLevel"`
	LogJSON             bool   `json:"logJSON"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
)

// LoadConfig loads the configuration from file or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Reads PROXY_CONFIG, falling back to DefaultConfigPath.
//   - Falls back to default config if the file is missing or invalid.
//   - Applies environment overrides, then validation.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	configPath := os.Getenv("PROXY_CONFIG")
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	if err := applyEnv(config, os.LookupEnv); err != nil {
		log.Printf("Ignoring invalid environment override: %v", err)
	}

	validateAndSetDefaults(config)

	configCache = config
	return config
}

// Load reads a config file without touching the singleton. Missing files
// are an error; callers decide whether to fall back.
func Load(path string, lookup func(string) (string, bool)) (*Config, error) {
	config, err := loadFromFile(path)
	if err != nil {
		return nil, err
	}
	if lookup != nil {
		if err := applyEnv(config, lookup); err != nil {
			return nil, err
		}
	}
	validateAndSetDefaults(config)
	return config, nil
}

// Default returns a validated default configuration.
func Default() *Config {
	config := getDefaultConfig()
	validateAndSetDefaults(config)
	return config
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config,
// parsing duration strings into time.Duration.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := getDefaultConfig()

	if cf.Host != "" {
		config.Host = cf.Host
	}
	if cf.Port != 0 {
		config.Port = cf.Port
	}
	if cf.CacheDir != "" {
		config.CacheDir = cf.CacheDir
	}
	config.CacheAhead = cf.CacheAhead
	config.CacheBehind = cf.CacheBehind
	config.ChunkSize = cf.ChunkSize
	config.SniffSize = cf.SniffSize
	config.BufferSizePerStream = cf.BufferSizePerStream
	config.UpstreamRateLimit = cf.UpstreamRateLimit
	config.MaxManifests = cf.MaxManifests
	config.WorkerThreads = cf.WorkerThreads
	config.Debug = cf.Debug
	config.ObfuscateUrls = cf.ObfuscateUrls
	config.LogLevel = cf.LogLevel
	config.LogJSON = cf.LogJSON
	if cf.CompressManifests != nil {
		config.CompressManifests = *cf.CompressManifests
	}
	if cf.MetricsEnabled != nil {
		config.MetricsEnabled = *cf.MetricsEnabled
	}

	var err error
	if cf.ClientTimeout != "" {
		if config.ClientTimeout, err = time.ParseDuration(cf.ClientTimeout); err != nil {
			return nil, fmt.Errorf("invalid clientTimeout: %w", err)
		}
	}
	if cf.UpstreamTimeout != "" {
		if config.UpstreamTimeout, err = time.ParseDuration(cf.UpstreamTimeout); err != nil {
			return nil, fmt.Errorf("invalid upstreamTimeout: %w", err)
		}
	}

	return config, nil
}

// applyEnv overlays host-environment settings onto config.
func applyEnv(config *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("PROXY_HOST"); ok && v != "" {
		config.Host = v
	}
	if v, ok := lookup("PROXY_CACHE_DIR"); ok && v != "" {
		config.CacheDir = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		config.LogLevel = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"PROXY_PORT", &config.Port},
		{"PROXY_CACHE_AHEAD", &config.CacheAhead},
		{"PROXY_CACHE_BEHIND", &config.CacheBehind},
	}
	for _, e := range ints {
		v, ok := lookup(e.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", e.key, err)
		}
		*e.dst = n
	}

	if v, ok := lookup("PROXY_UPSTREAM_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PROXY_UPSTREAM_TIMEOUT: %w", err)
		}
		config.UpstreamTimeout = d
	}
	if v, ok := lookup("PROXY_DEBUG"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid PROXY_DEBUG: %w", err)
		}
		config.Debug = b
	}
	return nil
}

// getDefaultConfig returns a baseline configuration
// with sensible defaults when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		Host:                "127.0.0.1",
		Port:                52103,
		CacheDir:            filepath.Join(os.TempDir(), "mediaproxy-cache"),
		CacheAhead:          0,
		CacheBehind:         0,
		ChunkSize:           4096,
		SniffSize:           4096,
		BufferSizePerStream: 16,
		ClientTimeout:       5 * time.Second,
		UpstreamTimeout:     30 * time.Second,
		UpstreamRateLimit:   0,
		MaxManifests:        100,
		WorkerThreads:       4,
		CompressManifests:   true,
		MetricsEnabled:      true,
		LogLevel:            "INFO",
	}
}

// validateAndSetDefaults ensures all config values are valid,
// filling in defaults for missing/invalid ones.
func validateAndSetDefaults(config *Config) {
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}
	if config.Port < 0 || config.Port > 65535 {
		config.Port = 52103
	}
	if config.CacheAhead < 0 {
		config.CacheAhead = 0
	}
	if config.CacheBehind < 0 {
		config.CacheBehind = 0
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = 4096
	}
	if config.SniffSize <= 0 {
		config.SniffSize = 4096
	}
	if config.BufferSizePerStream <= 0 {
		config.BufferSizePerStream = 16
	}
	if config.ClientTimeout <= 0 {
		config.ClientTimeout = 5 * time.Second
	}
	if config.UpstreamTimeout <= 0 {
		config.UpstreamTimeout = 30 * time.Second
	}
	if config.UpstreamRateLimit < 0 {
		config.UpstreamRateLimit = 0
	}
	if config.MaxManifests <= 0 {
		config.MaxManifests = 100
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 4
	}
	if config.LogLevel == "" {
		config.LogLevel = "INFO"
	}
	if config.Debug {
		config.LogLevel = "DEBUG"
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ProxyPath returns the prefix every rewritten URL starts with.
func (c *Config) ProxyPath() string {
	return ProxyPath(c.Host, c.Port)
}

// ProxyPath formats http://{host}:{port}/.
func ProxyPath(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/"
}

// CachingEnabled reports whether numbered segments are cached on disk.
func (c *Config) CachingEnabled() bool {
	return c.CacheBehind > 0
}

// RetainBytes is the replay retention per response in bytes.
func (c *Config) RetainBytes() int {
	return int(c.BufferSizePerStream * 1024 * 1024)
}

// CreateExampleConfig writes an example config file to path.
func CreateExampleConfig(path string) error {
	compress, metrics := true, true
	example := ConfigFile{
		Host:                "127.0.0.1",
		Port:                52103,
		CacheDir:            "/settings/cache",
		CacheAhead:          2,
		CacheBehind:         10,
		ChunkSize:           4096,
		SniffSize:           4096,
		BufferSizePerStream: 16,
		ClientTimeout:       "5s",
		UpstreamTimeout:     "30s",
		UpstreamRateLimit:   0,
		MaxManifests:        100,
		WorkerThreads:       4,
		CompressManifests:   &compress,
		MetricsEnabled:      &metrics,
		ObfuscateUrls:       true,
		LogLevel:            "INFO",
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ClearConfigCache resets the configCache to nil.
// Forces a reload on the next LoadConfig() call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}
