package app

import (
	"io/fs"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/storefront/internal/connectivity"
)

const defaultAddr = "0.0.0.0:8080"

// Cache drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Connectivity modes.
const (
	ModeProbe   = "probe"
	ModeDial    = "dial"
	ModeOnline  = "online"
	ModeOffline = "offline"
)

// Config holds the complete application configuration, loadable from
// environment variables (STOREFRONT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	ImageBaseURL string `default:"" usage:"Base URL prepended to relative product image paths" flag:"image-base-url"`
	SampleSize   int    `default:"3" usage:"Products per category on the home screen" flag:"sample-size"`
	Catalog      CatalogConfig
	Cache        CacheConfig
	Connectivity ConnectivityConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// CatalogConfig configures the remote catalog client.
type CatalogConfig struct {
	BaseURL   string        `default:"https://fakestoreapi.com/" usage:"Catalog API base URL" flag:"base-url"`
	Timeout   time.Duration `default:"30s" usage:"Catalog request timeout"`
	UserAgent string        `default:"storefront" usage:"User-Agent sent to the catalog" flag:"user-agent"`
	Debug     bool          `default:"false" usage:"Log catalog response bodies"`
}

// CacheConfig selects and configures the local cache store.
type CacheConfig struct {
	Driver      string `default:"sqlite" usage:"Cache driver: sqlite or postgres"`
	Path        string `default:"storefront.db" usage:"SQLite cache file"`
	DatabaseURL string `usage:"PostgreSQL connection URL (STOREFRONT_CACHE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
}

// ConnectivityConfig controls how the server decides it is online.
type ConnectivityConfig struct {
	Mode     string        `default:"probe" usage:"probe, dial, online or offline"`
	Interval time.Duration `default:"15s" usage:"Probe interval"`
	Timeout  time.Duration `default:"3s" usage:"Probe dial timeout"`
	Failures int           `default:"2" usage:"Consecutive failed probes before going offline"`
	// Target is the host:port to probe. Derived from the catalog base URL
	// when empty.
	Target string `usage:"Probe target host:port"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window, 0 disables"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadOptions overrides where LoadConfig reads from.
type LoadOptions struct {
	// Files replaces the default config file locations.
	Files []string
	// Args are parsed as flags instead of os.Args.
	Args      []string
	SkipFlags bool
}

// LoadConfig loads configuration from a .env file, environment variables,
// YAML config files and flags, then applies platform-specific defaults.
func LoadConfig(opts LoadOptions) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	files := opts.Files
	if files == nil {
		files = []string{"config.yaml", "/etc/storefront/config.yaml"}
	}
	acfg := aconfig.Config{
		EnvPrefix: "STOREFRONT",
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
			".yml":  aconfigyaml.New(),
		},
		SkipFlags: opts.SkipFlags,
		Args:      opts.Args,
	}
	if !opts.SkipFlags {
		acfg.FileFlag = "config"
	}

	var cfg Config
	if err := aconfig.LoaderFor(&cfg, acfg).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STOREFRONT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Cache.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.Cache.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// Validate checks settings that cannot be expressed as defaults.
func (c *Config) Validate() error {
	switch c.Cache.Driver {
	case DriverSQLite:
		if c.Cache.Path == "" {
			return errors.New("sqlite cache path is required")
		}
	case DriverPostgres:
		if c.Cache.DatabaseURL == "" {
			return errors.New("database URL is required for the postgres cache: set STOREFRONT_CACHE_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown cache driver %q", c.Cache.Driver)
	}

	switch c.Connectivity.Mode {
	case ModeProbe, ModeDial:
		if c.Connectivity.Target == "" {
			if _, err := connectivity.AddrFromURL(c.Catalog.BaseURL); err != nil {
				return errors.Wrap(err, "catalog base url")
			}
		}
	case ModeOnline, ModeOffline:
	default:
		return errors.Errorf("unknown connectivity mode %q", c.Connectivity.Mode)
	}

	if c.SampleSize <= 0 {
		return errors.Errorf("sample size must be positive, got %d", c.SampleSize)
	}
	return nil
}
