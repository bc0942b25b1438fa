// Package config loads runtime settings from VENDOR_PRESENCE_* environment
// variables.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Prefix is the environment variable prefix, e.g. VENDOR_PRESENCE_API_URL.
const Prefix = "VENDOR_PRESENCE"

// Config holds the settings of one presence client process.
type Config struct {
	APIURL      string        `envconfig:"API_URL" default:"http://localhost:8080"`
	SocketURL   string        `envconfig:"SOCKET_URL" default:""`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
	LogLevel    string        `envconfig:"LOG_LEVEL" default:"info"`
	Debug       bool          `envconfig:"DEBUG" default:"false"`

	PublishInterval       time.Duration `envconfig:"PUBLISH_INTERVAL" default:"10s"`
	PublishDistanceMeters float64       `envconfig:"PUBLISH_DISTANCE_METERS" default:"25"`
	PublishMaxAttempts    int           `envconfig:"PUBLISH_MAX_ATTEMPTS" default:"3"`
	PublishBaseBackoff    time.Duration `envconfig:"PUBLISH_BASE_BACKOFF" default:"500ms"`

	ReconnectMin time.Duration `envconfig:"RECONNECT_MIN" default:"500ms"`
	ReconnectMax time.Duration `envconfig:"RECONNECT_MAX" default:"30s"`
}

// Load reads the environment and resolves derived values.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveDefaults validates the URLs and derives SocketURL from APIURL when
// it is not set: http→ws, https→wss, path /ws.
func (c *Config) ResolveDefaults() error {
	api, err := url.Parse(c.APIURL)
	if err != nil || api.Host == "" || (api.Scheme != "http" && api.Scheme != "https") {
		return fmt.Errorf("invalid API_URL %q", c.APIURL)
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")

	if c.SocketURL == "" {
		scheme := "ws"
		if api.Scheme == "https" {
			scheme = "wss"
		}
		c.SocketURL = (&url.URL{Scheme: scheme, Host: api.Host, Path: "/ws"}).String()
	}
	sock, err := url.Parse(c.SocketURL)
	if err != nil || sock.Host == "" || (sock.Scheme != "ws" && sock.Scheme != "wss") {
		return fmt.Errorf("invalid SOCKET_URL %q", c.SocketURL)
	}

	if c.PublishMaxAttempts <= 0 {
		return fmt.Errorf("PUBLISH_MAX_ATTEMPTS must be positive, got %d", c.PublishMaxAttempts)
	}
	if c.ReconnectMax < c.ReconnectMin {
		return fmt.Errorf("RECONNECT_MAX (%s) is below RECONNECT_MIN (%s)", c.ReconnectMax, c.ReconnectMin)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Level returns the parsed LogLevel, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
