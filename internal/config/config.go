package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/iTrooz/offline-cache/internal/cache"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Cache   CacheConfig   `yaml:"cache"`
	Worker  WorkerConfig  `yaml:"worker"`
	Network NetworkConfig `yaml:"network"`
	Scope   ScopeConfig   `yaml:"scope"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port  int         `yaml:"port"`
	HTTPS HTTPSConfig `yaml:"https"`
}

// HTTPSConfig controls TLS interception of proxied requests
type HTTPSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CACertFile      string `yaml:"ca_cert_file"`
	CAKeyFile       string `yaml:"ca_key_file"`
	TransparentPort int    `yaml:"transparent_port"`
}

// CacheConfig selects where cache buckets are persisted
type CacheConfig struct {
	Backend string `yaml:"backend"` // "disk", "sqlite" or "memory"
	Folder  string `yaml:"folder"`
}

// WorkerConfig describes the cache generation served by the worker
type WorkerConfig struct {
	Version     string   `yaml:"version"`
	Origin      string   `yaml:"origin"`
	Assets      []string `yaml:"assets"`
	Cleanup     bool     `yaml:"cleanup"`
	Concurrency int      `yaml:"concurrency"`
}

// NetworkConfig contains settings of the live network fetch
type NetworkConfig struct {
	Timeout string `yaml:"timeout"`
}

// ScopeConfig decides which proxied requests are handed to the worker
type ScopeConfig struct {
	Mode  string      `yaml:"mode"` // "whitelist" or "blacklist"
	Rules []ScopeRule `yaml:"rules"`
}

// ScopeRule matches requests by URL prefix and method
type ScopeRule struct {
	BaseURI string   `yaml:"base_uri"`
	Methods []string `yaml:"methods"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

const (
	BackendDisk   = "disk"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Default returns the configuration used for every key missing from the file
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Cache: CacheConfig{
			Backend: BackendDisk,
			Folder:  "./cache",
		},
		Worker: WorkerConfig{
			Version:     "animapp-v1",
			Assets:      []string{"./", "./index.html", "./manifest.json", "./service-worker.js"},
			Cleanup:     true,
			Concurrency: 4,
		},
		Network: NetworkConfig{Timeout: "30s"},
		Scope:   ScopeConfig{Mode: "whitelist"},
		Log:     LogConfig{Level: "info"},
	}
}

// Load loads configuration from a YAML file, on top of Default()
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "yaml"), nil); err != nil {
		return nil, fmt.Errorf("loading config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 1
	}
	// Without rules the worker controls its own origin
	if len(c.Scope.Rules) == 0 && c.Scope.Mode == "whitelist" && c.Worker.Origin != "" {
		c.Scope.Rules = []ScopeRule{{BaseURI: c.Worker.Origin}}
	}
}

// GetNetworkTimeout parses and returns the live fetch timeout
func (c *Config) GetNetworkTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Network.Timeout)
}

// GetOrigin parses the base URL that relative assets are resolved against
func (c *Config) GetOrigin() (*url.URL, error) {
	origin, err := url.Parse(c.Worker.Origin)
	if err != nil {
		return nil, err
	}
	if !origin.IsAbs() || origin.Host == "" {
		return nil, fmt.Errorf("origin must be an absolute URL, got: %s", c.Worker.Origin)
	}
	return origin, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.HTTPS.TransparentPort < 0 || c.Server.HTTPS.TransparentPort > 65535 {
		return fmt.Errorf("invalid transparent HTTPS port: %d", c.Server.HTTPS.TransparentPort)
	}

	if c.Server.HTTPS.TransparentPort != 0 && !c.Server.HTTPS.Enabled {
		return fmt.Errorf("transparent HTTPS requires https to be enabled")
	}

	if (c.Server.HTTPS.CACertFile == "") != (c.Server.HTTPS.CAKeyFile == "") {
		return fmt.Errorf("ca_cert_file and ca_key_file must be set together")
	}

	switch c.Cache.Backend {
	case BackendDisk, BackendSQLite:
		if c.Cache.Folder == "" {
			return fmt.Errorf("cache folder is required for the %s backend", c.Cache.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("cache backend must be 'disk', 'sqlite' or 'memory', got: %s", c.Cache.Backend)
	}

	if strings.TrimSpace(c.Worker.Version) == "" {
		return fmt.Errorf("worker version is required")
	}
	if err := cache.ValidateName(c.Worker.Version); err != nil {
		return fmt.Errorf("invalid worker version: %w", err)
	}

	if _, err := c.GetOrigin(); err != nil {
		return fmt.Errorf("invalid worker origin: %w", err)
	}

	if c.Network.Timeout == "" {
		return fmt.Errorf("network timeout is required")
	}

	if _, err := c.GetNetworkTimeout(); err != nil {
		return fmt.Errorf("invalid network timeout format: %w", err)
	}

	if c.Scope.Mode != "whitelist" && c.Scope.Mode != "blacklist" {
		return fmt.Errorf("scope mode must be 'whitelist' or 'blacklist', got: %s", c.Scope.Mode)
	}

	return nil
}
