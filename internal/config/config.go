// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Portal      PortalConfig      `mapstructure:"portal" yaml:"portal"`
	Network     NetworkConfig     `mapstructure:"network" yaml:"network"`
	Results     ResultsConfig     `mapstructure:"results" yaml:"results"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"-"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// PortalConfig describes the search portal whose access the login unlocks.
type PortalConfig struct {
	// URL is the canonical portal URL. The final redirect must contain it.
	URL string `mapstructure:"url" yaml:"url"`
	// Headers are sent with every request of the handshake.
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
}

// NetworkConfig tunes the HTTP client used for the handshake.
type NetworkConfig struct {
	Timeout             time.Duration `mapstructure:"timeout" yaml:"timeout"`
	TLSHandshakeTimeout time.Duration `mapstructure:"tls_handshake_timeout" yaml:"tls_handshake_timeout"`
	MaxRedirects        int           `mapstructure:"max_redirects" yaml:"max_redirects"`
	// StepDelay is the minimum spacing between two requests of one attempt.
	StepDelay       time.Duration `mapstructure:"step_delay" yaml:"step_delay"`
	ProxyURL        string        `mapstructure:"proxy_url" yaml:"proxy_url"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ForceHTTP2      bool          `mapstructure:"force_http2" yaml:"force_http2"`
}

// ResultsConfig controls where diagnostic pages are written.
type ResultsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// CredentialsConfig is populated from flags or the environment only.
// It is never serialized back to disk.
type CredentialsConfig struct {
	Login    string `mapstructure:"login" yaml:"-"`
	Password string `mapstructure:"password" yaml:"-"`
}

// DefaultPortalURL is the portal the handshake targets when none is configured.
const DefaultPortalURL = "http://www.bing.com/"

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "liveauth")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Portal --
	v.SetDefault("portal.url", DefaultPortalURL)
	v.SetDefault("portal.headers", map[string]string{
		"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
		"Accept-Encoding": "gzip, deflate, br",
	})

	// -- Network --
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.tls_handshake_timeout", "10s")
	v.SetDefault("network.max_redirects", 10)
	v.SetDefault("network.step_delay", "0s")
	v.SetDefault("network.proxy_url", "")
	v.SetDefault("network.ignore_tls_errors", false)
	v.SetDefault("network.force_http2", true)

	// -- Results --
	v.SetDefault("results.dir", "result")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Credentials only ever come from the environment or flags.
	_ = v.BindEnv("credentials.login", "LIVEAUTH_LOGIN")
	_ = v.BindEnv("credentials.password", "LIVEAUTH_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	dir, err := homedir.Expand(cfg.Results.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand results.dir %q: %w", cfg.Results.Dir, err)
	}
	cfg.Results.Dir = dir

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Portal.URL == "" {
		return fmt.Errorf("portal.url is a required configuration field")
	}
	if u, err := url.Parse(c.Portal.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("portal.url must be an absolute URL, got %q", c.Portal.URL)
	}
	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network configuration invalid: %w", err)
	}
	if c.Results.Dir == "" {
		return fmt.Errorf("results.dir must not be empty")
	}
	return nil
}

// Validate checks the NetworkConfig settings.
func (n *NetworkConfig) Validate() error {
	if n.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	if n.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects must not be negative")
	}
	if n.StepDelay < 0 {
		return fmt.Errorf("step_delay must not be negative")
	}
	if n.ProxyURL != "" {
		if _, err := url.Parse(n.ProxyURL); err != nil {
			return fmt.Errorf("proxy_url is not a valid URL: %w", err)
		}
	}
	return nil
}
