// Package config loads the service configuration from an HCL file.
//
// The file has three optional blocks, all with defaults:
//
//	server {
//	  listen_addr      = "127.0.0.1:8080"
//	  shutdown_timeout = "10s"
//	}
//
//	database {
//	  path      = "gridstone.db"
//	  pool_size = 4
//	}
//
//	analytics {
//	  base_url = "http://localhost:9100"
//	  timeout  = "30s"
//	}
//
// Attribute expressions may reference process environment variables as
// env.NAME, e.g. `path = "${env.HOME}/gridstone.db"`.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// Config is the fully validated service configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Analytics AnalyticsConfig
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path     string
	PoolSize int
}

// AnalyticsConfig configures the reverse proxy to the external analytics
// backend (the equity-waterfall engine among others).
type AnalyticsConfig struct {
	// BaseURL is the upstream root; empty disables the proxy routes.
	BaseURL *url.URL
	Timeout time.Duration
}

// file mirrors the HCL document structure for decoding.
type file struct {
	Server    *serverBlock    `hcl:"server,block"`
	Database  *databaseBlock  `hcl:"database,block"`
	Analytics *analyticsBlock `hcl:"analytics,block"`
}

type serverBlock struct {
	ListenAddr      string `hcl:"listen_addr,optional"`
	ShutdownTimeout string `hcl:"shutdown_timeout,optional"`
}

type databaseBlock struct {
	Path     string `hcl:"path,optional"`
	PoolSize int    `hcl:"pool_size,optional"`
}

type analyticsBlock struct {
	BaseURL string `hcl:"base_url,optional"`
	Timeout string `hcl:"timeout,optional"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1:8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "gridstone.db",
		},
		Analytics: AnalyticsConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// Load parses and validates the HCL file at path. A missing file is not
// an error: the defaults are returned, so a bare `gridstone` invocation
// works out of the box.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("config: parsing %s: %w", path, diags)
	}

	var f file
	diags = gohcl.DecodeBody(hclFile.Body, evalContext(), &f)
	if diags.HasErrors() {
		return nil, fmt.Errorf("config: decoding %s: %w", path, diags)
	}

	cfg := Default()

	if f.Server != nil {
		if f.Server.ListenAddr != "" {
			cfg.Server.ListenAddr = f.Server.ListenAddr
		}
		if f.Server.ShutdownTimeout != "" {
			d, err := time.ParseDuration(f.Server.ShutdownTimeout)
			if err != nil {
				return nil, fmt.Errorf("config: server.shutdown_timeout: %w", err)
			}
			cfg.Server.ShutdownTimeout = d
		}
	}

	if f.Database != nil {
		if f.Database.Path != "" {
			cfg.Database.Path = f.Database.Path
		}
		if f.Database.PoolSize < 0 {
			return nil, fmt.Errorf("config: database.pool_size must not be negative")
		}
		cfg.Database.PoolSize = f.Database.PoolSize
	}

	if f.Analytics != nil {
		if f.Analytics.BaseURL != "" {
			u, err := url.Parse(f.Analytics.BaseURL)
			if err != nil {
				return nil, fmt.Errorf("config: analytics.base_url: %w", err)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return nil, fmt.Errorf("config: analytics.base_url: scheme must be http or https, got %q", u.Scheme)
			}
			cfg.Analytics.BaseURL = u
		}
		if f.Analytics.Timeout != "" {
			d, err := time.ParseDuration(f.Analytics.Timeout)
			if err != nil {
				return nil, fmt.Errorf("config: analytics.timeout: %w", err)
			}
			cfg.Analytics.Timeout = d
		}
	}

	return cfg, nil
}

// evalContext exposes the process environment to config expressions as
// the `env` object.
func evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, entry := range os.Environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || name == "" {
			continue
		}
		env[name] = cty.StringVal(value)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(env),
		},
	}
}
