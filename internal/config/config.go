// Package config loads forgehook's configuration from file, environment,
// and defaults via Viper, following the same precedence chain the teacher
// repo uses: defaults < config file < environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved process configuration.
type Config struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`

	DatabasePath string `mapstructure:"database_path"`

	PluginPortRangeStart int `mapstructure:"plugin_port_range_start"`
	PluginPortRangeEnd   int `mapstructure:"plugin_port_range_end"`

	DockerHost      string `mapstructure:"docker_host"`
	ForgehookNetwork string `mapstructure:"forgehook_network"`

	RegistryRefreshInterval time.Duration `mapstructure:"registry_refresh_interval"`
	GatewayHealthInterval   time.Duration `mapstructure:"gateway_health_interval"`
	ContainerHealthInterval time.Duration `mapstructure:"container_health_interval"`

	MaxPackageSizeBytes int64 `mapstructure:"max_package_size_bytes"`

	AuthMode string `mapstructure:"auth_mode"` // disabled | optional | required

	AllowedOrigins []string `mapstructure:"allowed_origins"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	RequestTimeoutSec  int `mapstructure:"request_timeout_sec"`
	ShutdownTimeoutSec int `mapstructure:"shutdown_timeout_sec"`

	MetricsAuthEnabled bool `mapstructure:"metrics_auth_enabled"`

	TLSEnabled  bool   `mapstructure:"tls_enabled"`
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`

	TracingEnabled     bool    `mapstructure:"tracing_enabled"`
	TracingServiceName string  `mapstructure:"tracing_service_name"`
	TracingEndpoint    string  `mapstructure:"tracing_endpoint"`
	TracingSampleRate  float64 `mapstructure:"tracing_sample_rate"`

	ProductionMode bool `mapstructure:"production_mode"`
}

// Load reads configuration from /etc/forgehook/, $HOME/.forgehook, and the
// working directory (config.yaml), then overlays environment variables named
// after each key in upper case without a prefix (PORT, DATABASE_PATH, ...),
// same search chain as the teacher's config.Load.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("port", 8080)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("database_path", "./data/forgehook.db")
	v.SetDefault("plugin_port_range_start", 4001)
	v.SetDefault("plugin_port_range_end", 4999)
	v.SetDefault("docker_host", "unix:///var/run/docker.sock")
	v.SetDefault("forgehook_network", "forgehook-net")
	v.SetDefault("registry_refresh_interval", 5*time.Minute)
	v.SetDefault("gateway_health_interval", 60*time.Second)
	v.SetDefault("container_health_interval", 30*time.Second)
	v.SetDefault("max_package_size_bytes", int64(2*1024*1024*1024))
	v.SetDefault("auth_mode", "disabled")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("request_timeout_sec", 30)
	v.SetDefault("shutdown_timeout_sec", 15)
	v.SetDefault("metrics_auth_enabled", false)
	v.SetDefault("tls_enabled", false)
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("tracing_service_name", "forgehook")
	v.SetDefault("tracing_sample_rate", 0.1)
	v.SetDefault("production_mode", false)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/forgehook/")
	v.AddConfigPath("$HOME/.forgehook")
	v.AddConfigPath(".")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.AllowedOrigins = normalizeOrigins(v.GetStringSlice("allowed_origins"), v.GetString("allowed_origins"))

	if cfg.TracingEndpoint == "" {
		cfg.TracingEndpoint = v.GetString("otel_exporter_otlp_endpoint")
	}
	if cfg.TracingEndpoint != "" {
		cfg.TracingEnabled = true
	}

	if cfg.PluginPortRangeStart <= 0 || cfg.PluginPortRangeEnd <= cfg.PluginPortRangeStart {
		return nil, fmt.Errorf("invalid plugin port range [%d,%d]", cfg.PluginPortRangeStart, cfg.PluginPortRangeEnd)
	}

	return &cfg, nil
}

// normalizeOrigins handles both an already-split array (from YAML) and a
// single comma-separated string (from an env var), trimming whitespace and
// dropping empties — same dual-shape tolerance as the teacher's config.
func normalizeOrigins(fromSlice []string, fromString string) []string {
	var raw []string
	if len(fromSlice) > 0 {
		raw = fromSlice
	} else if fromString != "" {
		raw = strings.Split(fromString, ",")
	}
	out := make([]string, 0, len(raw))
	for _, o := range raw {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
