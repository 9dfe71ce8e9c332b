// Package config loads the fleet's YAML configuration and station template
// files (spec §6), with environment overrides layered on top the way the
// teacher's own config package does.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Config is the top-level fleet configuration.
type Config struct {
	SupervisionURLs            []string          `yaml:"supervisionUrls"`
	SupervisionURLDistribution URLDistribution   `yaml:"supervisionUrlDistribution"`
	StationTemplateURLs        []TemplateURL     `yaml:"stationTemplateUrls"`
	UIServer                   UIServerConfig    `yaml:"uiServer"`
	Log                        LogConfig         `yaml:"log"`
	Worker                     WorkerConfig      `yaml:"worker"`
	Broadcast                  BroadcastConfig   `yaml:"broadcast"`
	Introspection              IntrospectionConfig `yaml:"introspection"`
	IdTagSource                string            `yaml:"idTagSource"`
	IdTagDatabaseURL            string            `yaml:"idTagDatabaseUrl"`
	IdTagSpannerProject         string            `yaml:"idTagSpannerProject"`
	IdTagSpannerInstance        string            `yaml:"idTagSpannerInstance"`
	IdTagSpannerDatabase        string            `yaml:"idTagSpannerDatabase"`
	Security                   SecurityConfig    `yaml:"security"`
}

// SecurityConfig holds the optional SPIFFE/SPIRE-issued mTLS identity used
// for inter-process trust between the fleet and cmd/ocppcheck's gRPC dial
// (spec expansion §3 "security.mTLS").
type SecurityConfig struct {
	MTLS MTLSConfig `yaml:"mTLS"`
}

// MTLSConfig points at a SPIFFE Workload API socket; when Enabled, both the
// introspection gRPC server and cmd/ocppcheck fetch their X.509-SVID from
// it instead of using plaintext transport credentials.
type MTLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SocketPath string `yaml:"socketPath"`
}

// URLDistribution is how a station picks which supervisionUrls entry to
// dial, when more than one is configured.
type URLDistribution string

const (
	DistributionRoundRobin         URLDistribution = "round-robin"
	DistributionRandom              URLDistribution = "random"
	DistributionChargingStationAffinity URLDistribution = "charging-station-affinity"
)

// TemplateURL names a station template file and how many stations to spawn
// from it.
type TemplateURL struct {
	File              string `yaml:"file"`
	NumberOfStations int    `yaml:"numberOfStations"`
}

// UIServerConfig configures the control-plane server (C11).
type UIServerConfig struct {
	Enabled             bool            `yaml:"enabled"`
	Type                string          `yaml:"type"` // "http" or "ws"
	Options             UIServerOptions `yaml:"options"`
	Authentication      UIAuthConfig    `yaml:"authentication"`
	RateLimit           RateLimitConfig `yaml:"rateLimit"`
	MaxBodyBytes        int64           `yaml:"maxBodyBytes"`
	GzipThresholdBytes  int             `yaml:"gzipThresholdBytes"`
	AggregationTimeoutMs int            `yaml:"aggregationTimeout"`
}

type UIServerOptions struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type UIAuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Type     string `yaml:"type"` // "basic-auth" or "protocol-basic-auth"
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RateLimitConfig bounds a fixed-window counter per client IP (spec §4.8).
type RateLimitConfig struct {
	MaxRequests int `yaml:"maxRequests"`
	WindowMs    int `yaml:"windowMs"`
}

// LogConfig mirrors the teacher's log block, retargeted at slog.
type LogConfig struct {
	Enabled   bool   `yaml:"enabled"`
	File      string `yaml:"file"`
	ErrorFile string `yaml:"errorFile"`
	Level     string `yaml:"level"`
	Console   bool   `yaml:"console"`
	Format    string `yaml:"format"` // "json" or "text"
	Rotate    bool   `yaml:"rotate"`
	MaxFiles  int    `yaml:"maxFiles"`
	MaxSize   int    `yaml:"maxSize"`
}

// WorkerConfig tunes how the bootstrap process spawns stations.
type WorkerConfig struct {
	ProcessType       string `yaml:"processType"` // "single" for this implementation
	StartDelayMs      int    `yaml:"startDelay"`
	ElementsPerWorker int    `yaml:"elementsPerWorker"`
	ElementAddDelayMs int    `yaml:"elementAddDelay"`
	PoolMinSize       int    `yaml:"poolMinSize"`
	PoolMaxSize       int    `yaml:"poolMaxSize"`
}

// BroadcastConfig selects the control-plane broadcast transport (C10).
type BroadcastConfig struct {
	Driver       string `yaml:"driver"` // "memory", "redis", "pubsub"
	RedisAddr    string `yaml:"redisAddr"`
	PubSubProject string `yaml:"pubsubProject"`
	PubSubTopic  string `yaml:"pubsubTopic"`
}

// IntrospectionConfig controls the optional gRPC FleetInfoService (§4.3).
type IntrospectionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and parses the top-level config file at path, then applies
// environment overrides and defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if urls := getEnv("OCPPSIM_SUPERVISION_URLS", ""); urls != "" {
		c.SupervisionURLs = splitCSV(urls)
	}
	if dist := getEnv("OCPPSIM_URL_DISTRIBUTION", ""); dist != "" {
		c.SupervisionURLDistribution = URLDistribution(dist)
	}
	c.UIServer.Options.Host = getEnv("OCPPSIM_UI_HOST", c.UIServer.Options.Host)
	if v := getEnvInt("OCPPSIM_UI_PORT", 0); v > 0 {
		c.UIServer.Options.Port = v
	}
	c.UIServer.Authentication.Username = getEnv("OCPPSIM_UI_USERNAME", c.UIServer.Authentication.Username)
	c.UIServer.Authentication.Password = getEnv("OCPPSIM_UI_PASSWORD", c.UIServer.Authentication.Password)

	c.Log.Level = getEnv("OCPPSIM_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("OCPPSIM_LOG_FORMAT", c.Log.Format)

	c.Broadcast.Driver = getEnv("OCPPSIM_BROADCAST_DRIVER", c.Broadcast.Driver)
	c.Broadcast.RedisAddr = getEnv("OCPPSIM_REDIS_ADDR", c.Broadcast.RedisAddr)

	c.IdTagSource = getEnv("OCPPSIM_IDTAG_SOURCE", c.IdTagSource)
	c.IdTagDatabaseURL = getEnv("OCPPSIM_IDTAG_DATABASE_URL", c.IdTagDatabaseURL)
	c.IdTagSpannerProject = getEnv("OCPPSIM_IDTAG_SPANNER_PROJECT", c.IdTagSpannerProject)
	c.IdTagSpannerInstance = getEnv("OCPPSIM_IDTAG_SPANNER_INSTANCE", c.IdTagSpannerInstance)
	c.IdTagSpannerDatabase = getEnv("OCPPSIM_IDTAG_SPANNER_DATABASE", c.IdTagSpannerDatabase)

	if v := getEnvBool("OCPPSIM_INTROSPECTION_ENABLED", c.Introspection.Enabled); v {
		c.Introspection.Enabled = v
	}
	c.Introspection.Addr = getEnv("OCPPSIM_INTROSPECTION_ADDR", c.Introspection.Addr)
}

func (c *Config) applyDefaults() {
	if c.SupervisionURLDistribution == "" {
		c.SupervisionURLDistribution = DistributionRoundRobin
	}
	if c.UIServer.Type == "" {
		c.UIServer.Type = "ws"
	}
	if c.UIServer.Options.Host == "" {
		c.UIServer.Options.Host = "0.0.0.0"
	}
	if c.UIServer.Options.Port == 0 {
		c.UIServer.Options.Port = 9000
	}
	if c.UIServer.Authentication.Type == "" {
		c.UIServer.Authentication.Type = "basic-auth"
	}
	if c.UIServer.RateLimit.MaxRequests == 0 {
		c.UIServer.RateLimit.MaxRequests = 120
	}
	if c.UIServer.RateLimit.WindowMs == 0 {
		c.UIServer.RateLimit.WindowMs = 60_000
	}
	if c.UIServer.MaxBodyBytes == 0 {
		c.UIServer.MaxBodyBytes = 1 << 20 // 1 MiB
	}
	if c.UIServer.GzipThresholdBytes == 0 {
		c.UIServer.GzipThresholdBytes = 1024
	}
	if c.UIServer.AggregationTimeoutMs == 0 {
		c.UIServer.AggregationTimeoutMs = 10_000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Worker.ProcessType == "" {
		c.Worker.ProcessType = "single"
	}
	if c.Worker.ElementsPerWorker == 0 {
		c.Worker.ElementsPerWorker = 1
	}
	if c.Worker.PoolMaxSize == 0 {
		c.Worker.PoolMaxSize = 1
	}
	if c.Broadcast.Driver == "" {
		c.Broadcast.Driver = "memory"
	}
	if c.IdTagSource == "" {
		c.IdTagSource = "file"
	}
	if c.Introspection.Addr == "" {
		c.Introspection.Addr = ":9001"
	}
	if c.Security.MTLS.Enabled && c.Security.MTLS.SocketPath == "" {
		c.Security.MTLS.SocketPath = "unix:///tmp/spire-agent/public/api.sock"
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
