// Package config loads client settings from a YAML file and HYDNA_*
// environment variables.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/progrium/hydna-go/frame"
	"github.com/progrium/hydna-go/mux"
	"github.com/progrium/hydna-go/transport"
)

// EnvPrefix prefixes environment variables overriding file settings.
// HYDNA_DIAL_TIMEOUT sets dial_timeout and so on.
const EnvPrefix = "HYDNA_"

// Config holds client settings.
type Config struct {
	// Protocol is the handshake version spoken, 0 for the default.
	Protocol int `mapstructure:"protocol"`

	MaxRedirects    int  `mapstructure:"max_redirects"`
	FollowRedirects bool `mapstructure:"follow_redirects"`

	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	CloseTimeout     time.Duration `mapstructure:"close_timeout"`

	// Listen keeps idle connections open.
	Listen bool `mapstructure:"listen"`

	// TLSInsecure skips certificate verification on secure transports.
	TLSInsecure bool `mapstructure:"tls_insecure"`

	LogLevel string `mapstructure:"log_level"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Protocol:         int(frame.Default.Version),
		MaxRedirects:     mux.MaxRedirectAttempts,
		FollowRedirects:  true,
		DialTimeout:      10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		CloseTimeout:     30 * time.Second,
		LogLevel:         "info",
	}
}

// Load reads the file at path over the defaults, then applies the
// environment. An empty path or a missing file leaves the defaults.
func Load(path string) (*Config, error) {
	return load(path, os.Environ())
}

func load(path string, environ []string) (*Config, error) {
	raw := map[string]interface{}{}
	if err := mapstructure.Decode(Default(), &raw); err != nil {
		return nil, err
	}

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			var file map[string]interface{}
			if err := yaml.Unmarshal(b, &file); err != nil {
				return nil, fmt.Errorf("config: %s: %w", path, err)
			}
			for k, v := range file {
				raw[k] = v
			}
		}
	}

	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
		if _, known := raw[key]; known {
			raw[key] = v
		}
	}

	var c Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &c,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("config: error decoding: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports settings the client cannot run with.
func (c *Config) Validate() error {
	if c.Protocol != 0 {
		if c.Protocol > 255 {
			return fmt.Errorf("config: unknown protocol version %d", c.Protocol)
		}
		if _, ok := frame.Lookup(byte(c.Protocol)); !ok {
			return fmt.Errorf("config: unknown protocol version %d", c.Protocol)
		}
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("config: max_redirects must not be negative")
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}

// Level is the configured log level.
func (c *Config) Level() hclog.Level {
	return hclog.LevelFromString(c.LogLevel)
}

// Options maps the settings onto the mux layer.
func (c *Config) Options(logger hclog.Logger) *mux.Options {
	opts := &mux.Options{
		Logger:            logger,
		Protocol:          byte(c.Protocol),
		MaxRedirects:      c.MaxRedirects,
		NoFollowRedirects: !c.FollowRedirects,
		DialTimeout:       c.DialTimeout,
		HandshakeTimeout:  c.HandshakeTimeout,
		CloseTimeout:      c.CloseTimeout,
		Listen:            c.Listen,
	}
	if c.TLSInsecure {
		opts.Dialer = transport.DialWithTLS(&tls.Config{InsecureSkipVerify: true})
	}
	return opts
}
