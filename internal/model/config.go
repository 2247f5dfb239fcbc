package model

import "time"

// Config holds the complete dxmap configuration
type Config struct {
	Station      StationConfig      `yaml:"station" mapstructure:"station"`
	Cluster      ClusterConfig      `yaml:"cluster" mapstructure:"cluster"`
	HTML         HTMLConfig         `yaml:"html" mapstructure:"html"`
	Lookup       LookupConfig       `yaml:"lookup" mapstructure:"lookup"`
	HTTP         HTTPConfig         `yaml:"http" mapstructure:"http"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Display      DisplayConfig      `yaml:"display" mapstructure:"display"`
	Filters      FilterConfig       `yaml:"filters" mapstructure:"filters"`
	Logging      LoggingConfig      `yaml:"logging" mapstructure:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics" mapstructure:"metrics"`
	MQTT         MQTTConfig         `yaml:"mqtt" mapstructure:"mqtt"`
}

// StationConfig is the operator identity submitted at login
type StationConfig struct {
	Callsign string `yaml:"callsign" mapstructure:"callsign"`
	Name     string `yaml:"name" mapstructure:"name"`
	QTH      string `yaml:"qth" mapstructure:"qth"`
	Grid     string `yaml:"grid" mapstructure:"grid"`
}

// ClusterConfig controls the telnet session
type ClusterConfig struct {
	Address        string        `yaml:"address" mapstructure:"address"` // host:port
	TLS            bool          `yaml:"tls" mapstructure:"tls"`
	DialTimeout    time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" mapstructure:"reconnect_delay"`
	KeepAliveAfter time.Duration `yaml:"keepalive_after" mapstructure:"keepalive_after"` // Quiet period before keep-alive
	ReconnectAfter time.Duration `yaml:"reconnect_after" mapstructure:"reconnect_after"` // Quiet period before forced reconnect
	FT8            bool          `yaml:"ft8" mapstructure:"ft8"`                         // Send set/ft8 after login
	Prefill        int           `yaml:"prefill" mapstructure:"prefill"`                 // show dx/N after login (20 or 50, 0 = off)
}

// HTMLConfig controls the scraped web source
type HTMLConfig struct {
	URL           string        `yaml:"url" mapstructure:"url"`
	Interval      time.Duration `yaml:"interval" mapstructure:"interval"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
}

// LookupConfig configures the callsign geography service
type LookupConfig struct {
	BaseURL          string        `yaml:"base_url" mapstructure:"base_url"` // Empty = offline prefix table only
	APIKey           string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	PendingTTL       time.Duration `yaml:"pending_ttl" mapstructure:"pending_ttl"`
	FailureThreshold uint32        `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout" mapstructure:"open_timeout"`
	PrefixFallback   bool          `yaml:"prefix_fallback" mapstructure:"prefix_fallback"`
}

// HTTPConfig contains HTTP client settings
type HTTPConfig struct {
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent    string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	HTTPProxy    string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy   string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy      string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// CacheConfig controls the lookup result cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// ConcurrencyConfig sizes the lookup worker pool
type ConcurrencyConfig struct {
	LookupWorkers int `yaml:"lookup_workers" mapstructure:"lookup_workers"`
}

// RateLimitingConfig limits outbound HTTP per host
type RateLimitingConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// DisplayConfig bounds the displayed collection
type DisplayConfig struct {
	MaxSpots int `yaml:"max_spots" mapstructure:"max_spots"`
}

// FilterConfig is the initial filter state
type FilterConfig struct {
	Bands       []string `yaml:"bands" mapstructure:"bands"` // Bands suppressed at start
	Call        string   `yaml:"call" mapstructure:"call"`
	ExactCall   bool     `yaml:"exact_call" mapstructure:"exact_call"`
	DigitalOnly bool     `yaml:"digital_only" mapstructure:"digital_only"`
	Highlights  []string `yaml:"highlights" mapstructure:"highlights"`
}

// LoggingConfig selects level and format
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
}

// MetricsConfig enables the prometheus listener
type MetricsConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen"` // Empty = disabled
}

// MQTTConfig enables publishing display changes
type MQTTConfig struct {
	Broker   string `yaml:"broker" mapstructure:"broker"` // Empty = disabled
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Topic    string `yaml:"topic" mapstructure:"topic"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Cluster: ClusterConfig{
			DialTimeout:    15 * time.Second,
			ReconnectDelay: 10 * time.Second,
			KeepAliveAfter: 5 * time.Minute,
			ReconnectAfter: 15 * time.Minute,
			Prefill:        50,
		},
		HTML: HTMLConfig{
			Interval:      60 * time.Second,
			RespectRobots: true,
		},
		Lookup: LookupConfig{
			PendingTTL:       3 * time.Minute,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			PrefixFallback:   true,
		},
		HTTP: HTTPConfig{
			Timeout:      15 * time.Second,
			UserAgent:    "dxmap/0.3 (+https://github.com/ppiankov/dxmap)",
			MaxBodyBytes: 2_000_000,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       "",
			MemoryTTL: 6 * time.Hour,
			DiskTTL:   30 * 24 * time.Hour,
		},
		Concurrency: ConcurrencyConfig{
			LookupWorkers: 8,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 5,
			BurstSize:         5,
		},
		Display: DisplayConfig{
			MaxSpots: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		MQTT: MQTTConfig{
			ClientID: "dxmap",
			Topic:    "dxmap/spots",
		},
	}
}
