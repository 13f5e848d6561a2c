package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Promotion   PromotionConfig  `mapstructure:"promotion"`
	Elasticity  ElasticityConfig `mapstructure:"elasticity"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PromotionConfig holds tunables for statistical promotion inference.
type PromotionConfig struct {
	LookbackDays        int     `mapstructure:"lookback_days"`
	MinHistoryDays      int     `mapstructure:"min_history_days"`
	MinPromotionDays    int     `mapstructure:"min_promotion_days"`
	SigmaThreshold      float64 `mapstructure:"sigma_threshold"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// ElasticityConfig holds tunables for the estimation hierarchy.
type ElasticityConfig struct {
	LookbackDays      int    `mapstructure:"lookback_days"`
	MinObservations   int    `mapstructure:"min_observations"`
	MinPricePoints    int    `mapstructure:"min_price_points"`
	WeakInstrumentF   float64 `mapstructure:"weak_instrument_f"`
	BatchWorkers      int    `mapstructure:"batch_workers"`
	CacheTTL          string `mapstructure:"cache_ttl"`
	BayesianMinObs    int    `mapstructure:"bayesian_min_obs"`
	BayesianMinPrices int    `mapstructure:"bayesian_min_prices"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(cfg *Config) error {
	if cfg.Promotion.SigmaThreshold <= 0 {
		return fmt.Errorf("promotion sigma threshold must be positive, got %f", cfg.Promotion.SigmaThreshold)
	}
	if cfg.Promotion.ConfidenceThreshold < 0 || cfg.Promotion.ConfidenceThreshold > 1 {
		return fmt.Errorf("promotion confidence threshold must be in [0,1], got %f", cfg.Promotion.ConfidenceThreshold)
	}
	if cfg.Promotion.MinPromotionDays < 2 {
		return fmt.Errorf("minimum promotion length must be at least 2 days, got %d", cfg.Promotion.MinPromotionDays)
	}
	if cfg.Elasticity.MinObservations < cfg.Elasticity.BayesianMinObs {
		return fmt.Errorf("2SLS minimum observations (%d) must not be below the Bayesian minimum (%d)",
			cfg.Elasticity.MinObservations, cfg.Elasticity.BayesianMinObs)
	}
	if cfg.Elasticity.BatchWorkers < 1 {
		return fmt.Errorf("batch workers must be at least 1, got %d", cfg.Elasticity.BatchWorkers)
	}
	return nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "platewise")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 25)

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Promotion inference
	viper.SetDefault("promotion.lookback_days", 90)
	viper.SetDefault("promotion.min_history_days", 14)
	viper.SetDefault("promotion.min_promotion_days", 2)
	viper.SetDefault("promotion.sigma_threshold", 2.0)
	viper.SetDefault("promotion.confidence_threshold", 0.6)

	// Elasticity estimation
	viper.SetDefault("elasticity.lookback_days", 180)
	viper.SetDefault("elasticity.min_observations", 60)
	viper.SetDefault("elasticity.min_price_points", 3)
	viper.SetDefault("elasticity.weak_instrument_f", 10.0)
	viper.SetDefault("elasticity.batch_workers", 4)
	viper.SetDefault("elasticity.cache_ttl", "1h")
	viper.SetDefault("elasticity.bayesian_min_obs", 20)
	viper.SetDefault("elasticity.bayesian_min_prices", 2)
}
