package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config application configuration, loaded from yaml with env-var overrides
type Config struct {
	Server ServerConfig `yaml:"server"`
	DB     DBConfig     `yaml:"database"`
	Redis  RedisConfig  `yaml:"redis"`
	JWT    JWTConfig    `yaml:"jwt"`
	Editor EditorConfig `yaml:"editor"`
}

// ServerConfig HTTP server settings
type ServerConfig struct {
	Port           int    `yaml:"port"`
	Env            string `yaml:"env"`
	AllowedOrigins string `yaml:"allowed_origins"`
}

// DBConfig MySQL connection settings
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// RedisConfig Redis connection settings
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// JWTConfig token verification settings
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// EditorConfig collaborative editor tuning knobs
type EditorConfig struct {
	AutosaveDebounce   time.Duration `yaml:"autosave_debounce"`
	InactivityWarn     time.Duration `yaml:"inactivity_warn"`
	InactivityRelease  time.Duration `yaml:"inactivity_release"`
	SyncResponseWait   time.Duration `yaml:"sync_response_wait"`
	BroadcastQueueSize int           `yaml:"broadcast_queue_size"`
}

// UnmarshalYAML accepts durations in time.ParseDuration form ("2s", "5m").
// Absent keys keep whatever value the receiver already holds.
func (e *EditorConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		AutosaveDebounce   string `yaml:"autosave_debounce"`
		InactivityWarn     string `yaml:"inactivity_warn"`
		InactivityRelease  string `yaml:"inactivity_release"`
		SyncResponseWait   string `yaml:"sync_response_wait"`
		BroadcastQueueSize int    `yaml:"broadcast_queue_size"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	set := func(dst *time.Duration, s string) error {
		if s == "" {
			return nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
	if err := set(&e.AutosaveDebounce, raw.AutosaveDebounce); err != nil {
		return err
	}
	if err := set(&e.InactivityWarn, raw.InactivityWarn); err != nil {
		return err
	}
	if err := set(&e.InactivityRelease, raw.InactivityRelease); err != nil {
		return err
	}
	if err := set(&e.SyncResponseWait, raw.SyncResponseWait); err != nil {
		return err
	}
	if raw.BroadcastQueueSize > 0 {
		e.BroadcastQueueSize = raw.BroadcastQueueSize
	}
	return nil
}

// Load reads config from the given yaml file and applies env overrides
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: 8082, Env: "local"},
		DB:     DBConfig{Host: "127.0.0.1", Port: 3306, User: "inkwell", Name: "inkwell"},
		Redis:  RedisConfig{Host: "127.0.0.1", Port: 6379, PoolSize: 10},
		Editor: EditorConfig{
			AutosaveDebounce:   2 * time.Second,
			InactivityWarn:     5 * time.Minute,
			InactivityRelease:  10 * time.Minute,
			SyncResponseWait:   3 * time.Second,
			BroadcastQueueSize: 256,
		},
	}
}

// applyEnvOverrides lets ops override yaml values without editing files
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Server.Env = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.DB.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.DB.Port = p
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.DB.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.DB.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.DB.Name = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = p
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWT.Secret = v
	}
}

// DSN builds the MySQL connection string
func (c DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Name)
}
