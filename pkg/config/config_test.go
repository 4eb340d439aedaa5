package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	routetable "github.com/always-cache/bookcache/pkg/route-table"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
origin: http://localhost:5000
host: books.example.com
port: 8081
db: redis://localhost:6379/0
version: v2
refreshInterval: 10m
manifest:
  - /
  - ./views/fallback.html
rules:
  - method: POST
    pattern: /api/addbook
    strategy: mutate
  - method: "*"
    pattern: /api/*
    strategy: cache-first
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), "bookcache.yml")
	require.NoError(t, os.WriteFile(filename, []byte(content), 0o644))
	return filename
}

func TestLoad(t *testing.T) {
	config, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, "http://localhost:5000", config.Origin)
	assert.Equal(t, "books.example.com", config.Host)
	assert.Equal(t, 8081, config.Port)
	assert.Equal(t, "redis://localhost:6379/0", config.DB)
	assert.Equal(t, "v2", config.Version)
	assert.Equal(t, 10*time.Minute, config.RefreshInterval)
	// not in the file
	assert.Equal(t, 15*time.Second, config.Timeout)
	assert.Equal(t, []string{"/", "./views/fallback.html"}, config.Manifest)
	assert.Equal(t, routetable.Rules{
		{Method: "POST", Pattern: "/api/addbook", Strategy: routetable.Mutate},
		{Method: "*", Pattern: "/api/*", Strategy: routetable.CacheFirst},
	}, config.Rules)
	assert.Equal(t, "localhost:5000", config.OriginURL().Host)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BOOKCACHE_PORT", "9090")
	t.Setenv("BOOKCACHE_VERSION", "v3")
	t.Setenv("BOOKCACHE_REFRESH_INTERVAL", "30s")

	config, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Equal(t, 9090, config.Port)
	assert.Equal(t, "v3", config.Version)
	assert.Equal(t, 30*time.Second, config.RefreshInterval)
	// untouched by the environment
	assert.Equal(t, "http://localhost:5000", config.Origin)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("BOOKCACHE_ORIGIN", "https://books.test")

	config, err := Load("")
	require.NoError(t, err)
	require.NoError(t, config.Validate())
	assert.Equal(t, 8080, config.Port)
	assert.Equal(t, "bookcache.db", config.DB)
	assert.Empty(t, config.Rules)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "origin: [unterminated"))
	assert.Error(t, err)

	t.Setenv("BOOKCACHE_PORT", "eighty")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Origin = "http://localhost:5000"
	require.NoError(t, valid.Validate())

	for name, modify := range map[string]func(*Config){
		"no origin":        func(c *Config) { c.Origin = "" },
		"relative origin":  func(c *Config) { c.Origin = "/books" },
		"ftp origin":       func(c *Config) { c.Origin = "ftp://books.test" },
		"bad port":         func(c *Config) { c.Port = 0 },
		"negative page":    func(c *Config) { c.PageSize = -1 },
		"negative refresh": func(c *Config) { c.RefreshInterval = -time.Second },
		"bad rule": func(c *Config) {
			c.Rules = routetable.Rules{{Method: "POST", Pattern: "addbook", Strategy: routetable.Mutate}}
		},
	} {
		t.Run(name, func(t *testing.T) {
			config := valid
			modify(&config)
			assert.Error(t, config.Validate())
		})
	}
}
