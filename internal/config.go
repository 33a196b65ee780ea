package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// TemplatePlaceholders is the set of variables recognized by the output
// filename template. Anything else in the template is a config error.
var TemplatePlaceholders = []string{
	"$id", "$ext", "$md5", "$artist", "$rating",
	"$score", "$score_up", "$score_down", "$filesize",
}

// HTTPConfig controls the pooled HTTP client shared by searches and
// download workers.
type HTTPConfig struct {
	// Cap on retained idle connections per host.
	PoolMaxIdlePerHost int `yaml:"pool_max_idle_per_host"`
	// Idle connections older than this are closed proactively.
	PoolIdleTimeoutSecs int `yaml:"pool_idle_timeout_secs"`
	// Per-request deadline.
	TimeoutSecs int `yaml:"timeout_secs"`
	// Per-connect deadline.
	ConnectTimeoutSecs int `yaml:"connect_timeout_secs"`
	// Global ceiling on in-flight requests, shared with the scheduler.
	MaxConnections int `yaml:"max_connections"`
	// Skip protocol negotiation when the server is known to speak HTTP/2.
	HTTP2PriorKnowledge bool `yaml:"http2_prior_knowledge"`
	// Enable periodic keep-alive probes.
	TCPKeepalive bool `yaml:"tcp_keepalive"`
	// Identifies the client to the remote service; required by the API's
	// usage policy.
	UserAgent string `yaml:"user_agent"`
	// Optional http://, https:// or socks5:// proxy.
	ProxyURL string `yaml:"proxy_url"`
}

// CacheConfig controls the on-disk response cache.
type CacheConfig struct {
	Enabled   bool   `yaml:"enabled"`
	CacheDir  string `yaml:"cache_dir"`
	TTLSecs   int    `yaml:"ttl_secs"`
	MaxSizeMB int64  `yaml:"max_size_mb"`
}

// PerformanceConfig controls the download scheduler and prefetching.
type PerformanceConfig struct {
	ConcurrentDownloads int   `yaml:"concurrent_downloads"`
	PrefetchEnabled     bool  `yaml:"prefetch_enabled"`
	PrefetchBatchSize   int   `yaml:"prefetch_batch_size"`
	PreloadImages       bool  `yaml:"preload_images"`
	MaxPreloadSizeMB    int64 `yaml:"max_preload_size_mb"`
}

// UIConfig controls progress reporting toward the UI layer.
type UIConfig struct {
	// Max progress event rate in Hz.
	ProgressRefreshRate int  `yaml:"progress_refresh_rate"`
	DetailedProgress    bool `yaml:"detailed_progress"`
	PaginationSize      int  `yaml:"pagination_size"`
	ColoredOutput       bool `yaml:"colored_output"`
}

// Config is the fully resolved configuration handed to the engine.
type Config struct {
	DownloadDir  string   `yaml:"download_dir"`
	OutputFormat string   `yaml:"output_format"`
	PostCount    int      `yaml:"post_count"`
	BaseURL      string   `yaml:"base_url"`
	Blacklist    []string `yaml:"blacklist"`

	HTTP        HTTPConfig        `yaml:"http"`
	Cache       CacheConfig       `yaml:"cache"`
	Performance PerformanceConfig `yaml:"performance"`
	UI          UIConfig          `yaml:"ui"`

	// Logging configuration
	LogLevel    string `yaml:"log_level"`
	EnableDebug bool   `yaml:"debug"`
	QuietMode   bool   `yaml:"quiet"`
	LogFile     string `yaml:"log_file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DownloadDir:  "downloads",
		OutputFormat: "$id.$ext",
		PostCount:    32,
		BaseURL:      "https://e621.net",
		Blacklist:    []string{"young", "rape", "feral", "bestiality"},
		HTTP: HTTPConfig{
			PoolMaxIdlePerHost:  32,
			PoolIdleTimeoutSecs: 90,
			TimeoutSecs:         30,
			ConnectTimeoutSecs:  10,
			MaxConnections:      2,
			HTTP2PriorKnowledge: true,
			TCPKeepalive:        true,
			UserAgent:           "e6grab/1.0 (by anonymous)",
		},
		Cache: CacheConfig{
			Enabled:   true,
			CacheDir:  ".cache",
			TTLSecs:   3600,
			MaxSizeMB: 500,
		},
		Performance: PerformanceConfig{
			ConcurrentDownloads: 2,
			PrefetchEnabled:     true,
			PrefetchBatchSize:   10,
			PreloadImages:       false,
			MaxPreloadSizeMB:    100,
		},
		UI: UIConfig{
			ProgressRefreshRate: 20,
			DetailedProgress:    true,
			PaginationSize:      20,
			ColoredOutput:       true,
		},
		LogLevel: "info",
	}
}

// LoadFile overlays settings from a YAML file onto the config. A missing
// file is not an error; callers decide whether a config file is mandatory.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return NewConfigError("config_file", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return NewConfigError("config_file", err)
	}
	return nil
}

// LoadFromEnv overlays settings from E6GRAB_* environment variables.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("E6GRAB_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("E6GRAB_DOWNLOAD_DIR"); v != "" {
		c.DownloadDir = v
	}
	if v := os.Getenv("E6GRAB_CACHE_DIR"); v != "" {
		c.Cache.CacheDir = v
	}
	if v := os.Getenv("E6GRAB_USER_AGENT"); v != "" {
		c.HTTP.UserAgent = v
	}
	if v := os.Getenv("E6GRAB_CONCURRENT_DOWNLOADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Performance.ConcurrentDownloads = n
		}
	}
	if v := os.Getenv("E6GRAB_CACHE_ENABLED"); v != "" {
		c.Cache.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("E6GRAB_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("E6GRAB_DEBUG"); v != "" {
		c.EnableDebug = v == "true" || v == "1"
	}
	if v := os.Getenv("E6GRAB_QUIET"); v != "" {
		c.QuietMode = v == "true" || v == "1"
	}
	if v := os.Getenv("E6GRAB_LOG_FILE"); v != "" {
		c.LogFile = v
	}
}

// Validate rejects out-of-range values. Invalid configuration is fatal at
// startup and never silently clamped.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return NewConfigError("base_url", fmt.Errorf("must not be empty"))
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return NewConfigError("base_url", fmt.Errorf("must start with http:// or https://"))
	}
	if c.HTTP.UserAgent == "" {
		return NewConfigError("http.user_agent", fmt.Errorf("must not be empty; required by the API usage policy"))
	}
	if c.HTTP.TimeoutSecs < 1 {
		return NewConfigError("http.timeout_secs", fmt.Errorf("must be >= 1, got %d", c.HTTP.TimeoutSecs))
	}
	if c.HTTP.ConnectTimeoutSecs < 1 {
		return NewConfigError("http.connect_timeout_secs", fmt.Errorf("must be >= 1, got %d", c.HTTP.ConnectTimeoutSecs))
	}
	if c.HTTP.MaxConnections < 1 {
		return NewConfigError("http.max_connections", fmt.Errorf("must be >= 1, got %d", c.HTTP.MaxConnections))
	}
	if c.HTTP.PoolMaxIdlePerHost < 1 {
		return NewConfigError("http.pool_max_idle_per_host", fmt.Errorf("must be >= 1, got %d", c.HTTP.PoolMaxIdlePerHost))
	}
	if c.Cache.TTLSecs < 0 {
		return NewConfigError("cache.ttl_secs", fmt.Errorf("must be >= 0, got %d", c.Cache.TTLSecs))
	}
	if c.Cache.MaxSizeMB < 1 {
		return NewConfigError("cache.max_size_mb", fmt.Errorf("must be >= 1, got %d", c.Cache.MaxSizeMB))
	}
	if c.Performance.ConcurrentDownloads < 1 || c.Performance.ConcurrentDownloads > 32 {
		return NewConfigError("performance.concurrent_downloads", fmt.Errorf("must be 1-32, got %d", c.Performance.ConcurrentDownloads))
	}
	if c.Performance.PrefetchBatchSize < 0 {
		return NewConfigError("performance.prefetch_batch_size", fmt.Errorf("must be >= 0, got %d", c.Performance.PrefetchBatchSize))
	}
	if c.Performance.MaxPreloadSizeMB < 0 {
		return NewConfigError("performance.max_preload_size_mb", fmt.Errorf("must be >= 0, got %d", c.Performance.MaxPreloadSizeMB))
	}
	if c.UI.ProgressRefreshRate < 1 {
		return NewConfigError("ui.progress_refresh_rate", fmt.Errorf("must be >= 1, got %d", c.UI.ProgressRefreshRate))
	}
	if c.PostCount < 1 || c.PostCount > 320 {
		return NewConfigError("post_count", fmt.Errorf("must be 1-320, got %d", c.PostCount))
	}
	if err := validateTemplate(c.OutputFormat); err != nil {
		return err
	}
	return nil
}

// validateTemplate rejects templates referencing unknown placeholders.
func validateTemplate(format string) error {
	if format == "" {
		return NewConfigError("output_format", fmt.Errorf("must not be empty"))
	}
	rest := format
	for {
		i := strings.IndexByte(rest, '$')
		if i < 0 {
			return nil
		}
		rest = rest[i:]
		matched := ""
		for _, ph := range TemplatePlaceholders {
			// Prefer the longest match so $score_up is not read as $score.
			if strings.HasPrefix(rest, ph) && len(ph) > len(matched) {
				matched = ph
			}
		}
		if matched == "" {
			end := 1
			for end < len(rest) && (isWordByte(rest[end])) {
				end++
			}
			return NewConfigError("output_format", fmt.Errorf("unknown placeholder %q", rest[:end]))
		}
		rest = rest[len(matched):]
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
