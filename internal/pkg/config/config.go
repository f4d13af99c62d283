// Package config loads the orchestrator configuration from config.yaml and
// the environment. Env vars with the BRIDGE_ prefix override file values
// (BRIDGE_SERVER__PORT=9090 sets server.port), and ${VAR} references inside
// string values are substituted from the environment.
package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Broker  BrokerConfig  `koanf:"broker"`
	Storage StorageConfig `koanf:"storage"`
	Agents  AgentsConfig  `koanf:"agents"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type BrokerConfig struct {
	// Duration strings like "30m". Defaults applied in Load.
	InactivityThreshold string `koanf:"inactivity_threshold"`
	SweepInterval       string `koanf:"sweep_interval"`
	ForwardTimeout      string `koanf:"forward_timeout"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type AgentsConfig struct {
	// AllowPrivateEndpoints disables the SSRF guard on outbound calls.
	// Meant for local development against agents on loopback.
	AllowPrivateEndpoints bool `koanf:"allow_private_endpoints"`

	// Endpoints optionally pre-registers sessions' agent endpoints with an
	// identifier, mostly for single-agent deployments.
	Endpoints []AgentEndpoint `koanf:"endpoints"`
}

type AgentEndpoint struct {
	ID  string `koanf:"id"`
	URL string `koanf:"url"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads config.yaml (optional) and the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = "config.yaml"
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// Missing file is fine, env vars can carry everything.
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("BRIDGE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "BRIDGE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefault(k, "server.port", 8080)
	setDefault(k, "broker.inactivity_threshold", "30m")
	setDefault(k, "broker.sweep_interval", "5m")
	setDefault(k, "broker.forward_timeout", "5m")
	setDefault(k, "storage.type", "sqlite")
	setDefault(k, "storage.sqlite.path", "./data/agentbridge.db")

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Agents.Endpoints {
		cfg.Agents.Endpoints[i].URL = substituteEnvVars(cfg.Agents.Endpoints[i].URL)
	}

	return &cfg, nil
}

// InactivityThresholdDuration parses the configured threshold, falling back to 30m.
func (c BrokerConfig) InactivityThresholdDuration() time.Duration {
	return parseDuration(c.InactivityThreshold, 30*time.Minute)
}

// SweepIntervalDuration parses the configured interval, falling back to 5m.
func (c BrokerConfig) SweepIntervalDuration() time.Duration {
	return parseDuration(c.SweepInterval, 5*time.Minute)
}

// ForwardTimeoutDuration parses the configured timeout, falling back to 5m.
func (c BrokerConfig) ForwardTimeoutDuration() time.Duration {
	return parseDuration(c.ForwardTimeout, 5*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func setDefault(k *koanf.Koanf, key string, value any) {
	if !k.Exists(key) {
		k.Set(key, value)
	}
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
