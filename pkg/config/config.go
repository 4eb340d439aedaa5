// Package config loads the settings of the bookcache proxy from a YAML file
// and BOOKCACHE_* environment variables. Environment variables win.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	routetable "github.com/always-cache/bookcache/pkg/route-table"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Settings are the scalar options, settable from either source.
type Settings struct {
	Origin          string        `yaml:"origin" env:"BOOKCACHE_ORIGIN"`
	Host            string        `yaml:"host" env:"BOOKCACHE_ORIGIN_HOST"`
	Port            int           `yaml:"port" env:"BOOKCACHE_PORT"`
	DB              string        `yaml:"db" env:"BOOKCACHE_DB"`
	Version         string        `yaml:"version" env:"BOOKCACHE_VERSION"`
	FallbackURL     string        `yaml:"fallback" env:"BOOKCACHE_FALLBACK_URL"`
	PageSize        int           `yaml:"pageSize" env:"BOOKCACHE_PAGE_SIZE"`
	RefreshInterval time.Duration `yaml:"refreshInterval" env:"BOOKCACHE_REFRESH_INTERVAL"`
	Timeout         time.Duration `yaml:"timeout" env:"BOOKCACHE_TIMEOUT"`
	LogFile         string        `yaml:"logFile" env:"BOOKCACHE_LOG_FILE"`
}

type Config struct {
	Settings `yaml:",inline"`
	// Manifest replaces the default shell assets when set.
	Manifest []string         `yaml:"manifest"`
	Rules    routetable.Rules `yaml:"rules"`
}

// Default returns the settings used when nothing else is configured.
// Zero values of Version, FallbackURL, PageSize and Rules are filled in
// by the worker.
func Default() Config {
	return Config{
		Settings: Settings{
			Port:    8080,
			DB:      "bookcache.db",
			Timeout: 15 * time.Second,
		},
	}
}

// Load reads filename, if not empty, over the defaults and applies
// environment overrides.
func Load(filename string) (Config, error) {
	config := Default()
	if filename != "" {
		b, err := os.ReadFile(filename)
		if err != nil {
			return config, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &config); err != nil {
			return config, fmt.Errorf("parse config %s: %w", filename, err)
		}
	}
	if err := env.Parse(&config.Settings); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}

// Validate checks the options that cannot be defaulted.
func (c Config) Validate() error {
	if c.Origin == "" {
		return fmt.Errorf("origin is required")
	}
	u, err := url.Parse(c.Origin)
	if err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("invalid origin %q: need an http(s) URL", c.Origin)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PageSize < 0 {
		return fmt.Errorf("invalid page size %d", c.PageSize)
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("invalid refresh interval %s", c.RefreshInterval)
	}
	if len(c.Rules) > 0 {
		if _, err := routetable.Compile(c.Rules, routetable.CacheFirst); err != nil {
			return err
		}
	}
	return nil
}

// OriginURL returns the parsed origin. Call Validate first.
func (c Config) OriginURL() *url.URL {
	u, _ := url.Parse(c.Origin)
	return u
}
