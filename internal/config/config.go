package config

import (
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
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Census   CensusConfig   `yaml:"census" mapstructure:"census"`
	VMT      VMTConfig      `yaml:"vmt" mapstructure:"vmt"`
	Cycle    CycleConfig    `yaml:"cycle" mapstructure:"cycle"`
	Geo      GeoConfig      `yaml:"geo" mapstructure:"geo"`
	Score    ScoreConfig    `yaml:"score" mapstructure:"score"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// GeoConfig points at the county boundary fixture used for FIPS
// assignment fallback and county aggregation (components D and E).
type GeoConfig struct {
	CountyFixturePath string `yaml:"county_fixture_path" mapstructure:"county_fixture_path"`
}

// ScoreConfig optionally points at a scoring-weights override file (§4.F).
type ScoreConfig struct {
	WeightsPath string `yaml:"weights_path" mapstructure:"weights_path"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver         string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL    string `yaml:"database_url" mapstructure:"database_url"`
	ServiceRoleKey string `yaml:"service_role_key" mapstructure:"service_role_key"`
	MaxConns       int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns       int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RegistryConfig configures the upstream station registry fetcher (component C).
type RegistryConfig struct {
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	APIKey     string `yaml:"api_key" mapstructure:"api_key"`
	ChunkSize  int    `yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunkPause int    `yaml:"chunk_pause_ms" mapstructure:"chunk_pause_ms"`
}

// CensusConfig configures the population reference service (component A).
type CensusConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	TTLDays int    `yaml:"ttl_days" mapstructure:"ttl_days"`
}

// VMTConfig configures the vehicle-miles-traveled reference service (component A).
type VMTConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// CycleConfig tunes refresh-cycle behavior (components G and H).
type CycleConfig struct {
	ZipChunkSize     int     `yaml:"zip_chunk_size" mapstructure:"zip_chunk_size"`
	ZipChunkPauseMs  int     `yaml:"zip_chunk_pause_ms" mapstructure:"zip_chunk_pause_ms"`
	WallClockCeiling int     `yaml:"wall_clock_ceiling_secs" mapstructure:"wall_clock_ceiling_secs"`
	MinStagingRatio  float64 `yaml:"min_staging_ratio" mapstructure:"min_staging_ratio"`
}

// WallClockCeilingDuration returns the cycle's host-imposed time budget.
func (c CycleConfig) WallClockCeilingDuration() time.Duration {
	return time.Duration(c.WallClockCeiling) * time.Second
}

// ServerConfig configures the trigger webhook server.
type ServerConfig struct {
	Port       int    `yaml:"port" mapstructure:"port"`
	CronSecret string `yaml:"cron_secret" mapstructure:"cron_secret"`
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
	v.SetEnvPrefix("EV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("registry.base_url", "https://developer.nrel.gov/api/alt-fuel-stations/v1.json")
	v.SetDefault("registry.chunk_size", 1000)
	v.SetDefault("registry.chunk_pause_ms", 100)
	v.SetDefault("census.base_url", "https://api.census.gov/data/2020/dec/pl")
	v.SetDefault("census.ttl_days", 30)
	v.SetDefault("cycle.zip_chunk_size", 100)
	v.SetDefault("cycle.zip_chunk_pause_ms", 200)
	v.SetDefault("cycle.wall_clock_ceiling_secs", 300)
	v.SetDefault("cycle.min_staging_ratio", 0.5)
	v.SetDefault("geo.county_fixture_path", "testdata/counties.shp")
	v.SetDefault("score.weights_path", "")

	// spec.md §6 names these explicitly; they don't follow the EV_<SECTION>_<KEY>
	// convention AutomaticEnv assumes, so bind them directly.
	_ = v.BindEnv("registry.api_key", "STATIONS_API_KEY")
	_ = v.BindEnv("census.api_key", "POPULATION_API_KEY")
	_ = v.BindEnv("store.database_url", "DB_URL")
	_ = v.BindEnv("store.service_role_key", "DB_SERVICE_ROLE_KEY")
	_ = v.BindEnv("server.cron_secret", "CRON_SECRET")

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

	return &cfg, nil
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
