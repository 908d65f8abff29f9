// Package config loads service settings from an optional YAML file and
// CAMPUSVOTE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "CAMPUSVOTE"

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Election  ElectionConfig  `mapstructure:"election"`
	Log       LogConfig       `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr         string `mapstructure:"addr"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
	CORSOrigin   string `mapstructure:"cors_origin"`

	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	ResultsTTL time.Duration `mapstructure:"results_ttl"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	VoteTopic      string   `mapstructure:"vote_topic"`
	ReconcileTopic string   `mapstructure:"reconcile_topic"`
	GroupID        string   `mapstructure:"group_id"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	LockTTL     int64         `mapstructure:"lock_ttl"`
}

type AuthConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type ReconcileConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Workers  int           `mapstructure:"workers"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type ElectionConfig struct {
	StrictWindow bool `mapstructure:"strict_window"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.max_body_bytes", 1<<20)
	v.SetDefault("http.cors_origin", "*")
	v.SetDefault("http.trusted_proxies", []string{})
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.results_ttl", 5*time.Second)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.vote_topic", "campusvote.votes")
	v.SetDefault("kafka.reconcile_topic", "campusvote.reconcile")
	v.SetDefault("kafka.group_id", "campusvote-reconciler")
	v.SetDefault("etcd.endpoints", []string{})
	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.lock_ttl", 10)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "campusvote")
	v.SetDefault("reconcile.interval", time.Minute)
	v.SetDefault("reconcile.workers", 4)
	v.SetDefault("rate_limit.rps", 20.0)
	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("election.strict_window", false)
	v.SetDefault("log.level", "info")
}

// Load reads path when non-empty, then overlays the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.HTTP.TrustedProxies = splitList(cfg.HTTP.TrustedProxies)
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.Etcd.Endpoints = splitList(cfg.Etcd.Endpoints)
	return cfg, cfg.Validate()
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c Config) Validate() error {
	if c.Auth.Secret == "" {
		return errors.New("auth.secret is required")
	}
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.Reconcile.Interval <= 0 {
		return errors.New("reconcile.interval must be positive")
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate_limit values must not be negative")
	}
	return nil
}
