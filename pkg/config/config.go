package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Etcd     EtcdConfig     `mapstructure:"etcd"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	MongoDB  MongoDBConfig  `mapstructure:"mongodb"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
	Checkout CheckoutConfig `mapstructure:"checkout"`
	Tracker  TrackerConfig  `mapstructure:"tracker"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Name string `mapstructure:"name"`
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Prefix      string        `mapstructure:"prefix"`
	LeaseTTL    int64         `mapstructure:"lease_ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type MongoDBConfig struct {
	URI             string `mapstructure:"uri"`
	Database        string `mapstructure:"database"`
	DishCollection  string `mapstructure:"dish_collection"`
	AuditCollection string `mapstructure:"audit_collection"`
}

// PricingConfig holds the charge parameters applied at quote time.
type PricingConfig struct {
	TaxRate    float64 `mapstructure:"tax_rate"`
	ServiceFee float64 `mapstructure:"service_fee"`
}

// CheckoutConfig bounds a single checkout attempt.
type CheckoutConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// TrackerConfig drives the active-orders polling loop.
type TrackerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Encoding    string   `mapstructure:"encoding"`
	OutputPaths []string `mapstructure:"output_paths"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pricing.tax_rate", 0.08)
	v.SetDefault("pricing.service_fee", 2.50)
	v.SetDefault("checkout.timeout", 15*time.Second)
	v.SetDefault("tracker.poll_interval", 30*time.Second)
	v.SetDefault("etcd.lease_ttl", 30)
	v.SetDefault("mongodb.dish_collection", "dishes")
	v.SetDefault("mongodb.audit_collection", "audit_logs")
	v.SetDefault("log.level", "info")
}

func (c *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}
