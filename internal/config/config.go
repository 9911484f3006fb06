package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Catalog  CatalogConfig  `yaml:"catalog" mapstructure:"catalog"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Defaults DefaultsConfig `yaml:"defaults" mapstructure:"defaults"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the PostGIS connection pool.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CatalogConfig controls which tables are exposed as layers.
type CatalogConfig struct {
	Schema  string   `yaml:"schema" mapstructure:"schema"`
	Exclude []string `yaml:"exclude" mapstructure:"exclude"`
}

// AnalysisConfig tunes the overlay engine.
type AnalysisConfig struct {
	FeatureLimit      int           `yaml:"feature_limit" mapstructure:"feature_limit"`
	LayerTimeout      time.Duration `yaml:"layer_timeout" mapstructure:"layer_timeout"`
	Concurrency       int           `yaml:"concurrency" mapstructure:"concurrency"`
	GeomColumn        string        `yaml:"geom_column" mapstructure:"geom_column"`
	DisplaySRID       int           `yaml:"display_srid" mapstructure:"display_srid"`
	NameAttribute     string        `yaml:"name_attribute" mapstructure:"name_attribute"`
	SliverToleranceM2 float64       `yaml:"sliver_tolerance_m2" mapstructure:"sliver_tolerance_m2"`
	MaxAreaHa         float64       `yaml:"max_area_ha" mapstructure:"max_area_ha"`
}

// DefaultsConfig names the datasets used by the fixed-purpose endpoints.
type DefaultsConfig struct {
	LegacyLayer             string   `yaml:"legacy_layer" mapstructure:"legacy_layer"`
	ALCLayer                string   `yaml:"alc_layer" mapstructure:"alc_layer"`
	ALCAttribute            string   `yaml:"alc_attribute" mapstructure:"alc_attribute"`
	FloodLayers             []string `yaml:"flood_layers" mapstructure:"flood_layers"`
	RenewablesLayer         string   `yaml:"renewables_layer" mapstructure:"renewables_layer"`
	RenewablesNameAttribute string   `yaml:"renewables_name_attribute" mapstructure:"renewables_name_attribute"`
	RenewablesDistanceM     float64  `yaml:"renewables_distance_m" mapstructure:"renewables_distance_m"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port              int           `yaml:"port" mapstructure:"port"`
	BasePath          string        `yaml:"base_path" mapstructure:"base_path"`
	CORSOrigins       []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
	RateLimitRPS      float64       `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst    int           `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// CacheConfig configures the optional result cache. A zero TTL disables it.
type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl" mapstructure:"ttl"`
	MaxEntries    int           `yaml:"max_entries" mapstructure:"max_entries"`
	RedisAddr     string        `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string        `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int           `yaml:"redis_db" mapstructure:"redis_db"`
	KeyPrefix     string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SITERISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("catalog.schema", "public")
	v.SetDefault("catalog.exclude", []string{"spatial_ref_sys"})
	v.SetDefault("analysis.feature_limit", 100)
	v.SetDefault("analysis.layer_timeout", 15*time.Second)
	v.SetDefault("analysis.concurrency", 8)
	v.SetDefault("analysis.geom_column", "geom")
	v.SetDefault("analysis.display_srid", 4326)
	v.SetDefault("analysis.name_attribute", "name")
	v.SetDefault("analysis.sliver_tolerance_m2", 0.0)
	v.SetDefault("analysis.max_area_ha", 0.0)
	v.SetDefault("defaults.legacy_layer", "Cluster_Maps")
	v.SetDefault("defaults.alc_layer", "ALC UK")
	v.SetDefault("defaults.alc_attribute", "ALC_GRADE")
	v.SetDefault("defaults.flood_layers", []string{"Flood risk areas"})
	v.SetDefault("defaults.renewables_layer", "Renewables")
	v.SetDefault("defaults.renewables_name_attribute", "name")
	v.SetDefault("defaults.renewables_distance_m", 5000.0)
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_rps", 0.0)
	v.SetDefault("server.rate_limit_burst", 20)
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", int64(10<<20))
	v.SetDefault("cache.ttl", time.Duration(0))
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.key_prefix", "siterisk:")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if cfg.Store.DatabaseURL == "" {
		cfg.Store.DatabaseURL = databaseURLFromParts()
	}

	return &cfg, nil
}

// databaseURLFromParts assembles a connection string from the split DB_*
// variables used by existing deployments. Returns "" when DB_HOST is unset.
func databaseURLFromParts() string {
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + os.Getenv("DB_NAME"),
	}
	if user := os.Getenv("DB_USER"); user != "" {
		if pw, ok := os.LookupEnv("DB_PASSWORD"); ok {
			u.User = url.UserPassword(user, pw)
		} else {
			u.User = url.User(user)
		}
	}
	return u.String()
}

// Validate checks the settings required by the given command mode
// ("serve", "analyze", "load").
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
			errs = append(errs, "server.base_path must start with /")
		}
		errs = append(errs, c.validateAnalysis()...)
	case "analyze":
		errs = append(errs, c.validateAnalysis()...)
	case "load":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required (or set DB_HOST/DB_NAME/DB_USER/DB_PASSWORD)")
	}
	if c.Store.MaxConns > 0 && c.Store.MinConns > c.Store.MaxConns {
		errs = append(errs, "store.min_conns must not exceed store.max_conns")
	}

	if len(errs) > 0 {
		return eris.New(fmt.Sprintf("config: validation failed: %s", strings.Join(errs, "; ")))
	}
	return nil
}

func (c *Config) validateAnalysis() []string {
	var errs []string
	if c.Analysis.FeatureLimit < 1 {
		errs = append(errs, "analysis.feature_limit must be >= 1")
	}
	if c.Analysis.Concurrency < 1 || c.Analysis.Concurrency > 64 {
		errs = append(errs, "analysis.concurrency must be between 1 and 64")
	}
	if c.Analysis.LayerTimeout <= 0 {
		errs = append(errs, "analysis.layer_timeout must be > 0")
	}
	if c.Analysis.GeomColumn == "" {
		errs = append(errs, "analysis.geom_column is required")
	}
	if c.Analysis.SliverToleranceM2 < 0 {
		errs = append(errs, "analysis.sliver_tolerance_m2 must be >= 0")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
