package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"lock-points-system/pkg/errors"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Price    PriceConfig    `mapstructure:"price"`
	Points   PointsConfig   `mapstructure:"points"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	DSNOverride     string `mapstructure:"dsn"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// DSN builds the connection string for the configured driver.
// An explicit dsn always wins.
func (d *DatabaseConfig) DSN() string {
	if d.DSNOverride != "" {
		return d.DSNOverride
	}
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
	case "sqlite":
		return d.DBName
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			d.User, d.Password, d.Host, d.Port, d.DBName)
	}
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type ChainConfig struct {
	Name               string `mapstructure:"name"`
	RPCURL             string `mapstructure:"rpc_url"`
	ContractAddress    string `mapstructure:"contract_address"`
	StartBlock         int64  `mapstructure:"start_block"`
	LogChunkSize       int64  `mapstructure:"log_chunk_size"`
	CallTimeout        int    `mapstructure:"call_timeout"`
	WatchEnabled       bool   `mapstructure:"watch_enabled"`
	PullInterval       int    `mapstructure:"pull_interval"`
	ConfirmationBlocks int    `mapstructure:"confirmation_blocks"`
}

func (c *ChainConfig) CallTimeoutDuration() time.Duration {
	return time.Duration(c.CallTimeout) * time.Second
}

type PriceConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	Platform          string  `mapstructure:"platform"`
	APIKey            string  `mapstructure:"api_key"`
	Timeout           int     `mapstructure:"timeout"`
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	CacheTTL          int     `mapstructure:"cache_ttl"`
	SymbolFallback    bool    `mapstructure:"symbol_fallback"`
}

type PointsConfig struct {
	USDMultiplier         float64 `mapstructure:"usd_multiplier"`
	FallbackMultiplier    float64 `mapstructure:"fallback_multiplier"`
	PeriodDays            float64 `mapstructure:"period_days"`
	MinDurationDays       int     `mapstructure:"min_duration_days"`
	EstimatedDurationDays int     `mapstructure:"estimated_duration_days"`
	BackfillCron          string  `mapstructure:"backfill_cron"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.sslmode", "require")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 600)

	v.SetDefault("chain.name", "pulsechain")
	v.SetDefault("chain.rpc_url", "https://rpc.pulsechain.com")
	v.SetDefault("chain.call_timeout", 20)
	v.SetDefault("chain.pull_interval", 15)
	v.SetDefault("chain.confirmation_blocks", 3)

	v.SetDefault("price.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("price.platform", "pulsechain")
	v.SetDefault("price.api_key", "")
	v.SetDefault("price.timeout", 10)
	v.SetDefault("price.requests_per_minute", 25)
	v.SetDefault("price.cache_ttl", 300)
	v.SetDefault("price.symbol_fallback", true)

	v.SetDefault("points.usd_multiplier", 100)
	v.SetDefault("points.fallback_multiplier", 0.1)
	v.SetDefault("points.period_days", 30)
	v.SetDefault("points.min_duration_days", 1)
	v.SetDefault("points.estimated_duration_days", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LOCKPOINTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.New(errors.ErrConfigLoad, "failed to read config file", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.New(errors.ErrConfigLoad, "failed to unmarshal config", err)
	}

	if err := config.Validate(); err != nil {
		return nil, errors.New(errors.ErrConfigLoad, "invalid config", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Chain.ContractAddress == "" {
		return fmt.Errorf("chain.contract_address is required")
	}
	if c.Points.PeriodDays <= 0 {
		return fmt.Errorf("points.period_days must be positive")
	}
	if c.Points.MinDurationDays < 1 {
		return fmt.Errorf("points.min_duration_days must be at least 1")
	}
	return nil
}
