package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type httpConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type redisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type dbConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

type kafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type webConfig struct {
	CookieDomain  string `mapstructure:"cookie_domain"`
	SecureCookies bool   `mapstructure:"secure_cookies"`
	HoneypotField string `mapstructure:"honeypot_field"`
	MetricsPath   string `mapstructure:"metrics_path"`
	BaseURL       string `mapstructure:"base_url"`
}

type appConfig struct {
	Env             string      `mapstructure:"env"`
	LogLevel        string      `mapstructure:"log_level"`
	FlowTokenSecret string      `mapstructure:"flow_token_secret"`
	EmbedCodeInLink bool        `mapstructure:"embed_code_in_link"`
	HTTP            httpConfig  `mapstructure:"http"`
	Redis           redisConfig `mapstructure:"redis"`
	DB              dbConfig    `mapstructure:"db"`
	Kafka           kafkaConfig `mapstructure:"kafka"`
	Web             webConfig   `mapstructure:"web"`
}

func loadConfig(path string) (*appConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("NIGHTCAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg appConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.FlowTokenSecret == "" {
		return nil, fmt.Errorf("flow_token_secret is required")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("embed_code_in_link", true)
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "5s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "nightcap")
	v.SetDefault("db.user", "nightcap")
	v.SetDefault("db.password", "nightcap")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("kafka.topic", "nightcap.notifications")
	v.SetDefault("web.metrics_path", "/metrics")
	v.SetDefault("web.honeypot_field", "website")
}

func (c *appConfig) connString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DB.User,
		c.DB.Password,
		c.DB.Host,
		c.DB.Port,
		c.DB.Name,
		c.DB.SSLMode,
	)
}
