package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Agents    map[string]AgentDefinition `yaml:"agents"`
	Router    RouterConfig               `yaml:"router"`
	NATS      NATSConfig                 `yaml:"nats"`
	Store     StoreConfig                `yaml:"store"`
	Web       WebConfig                  `yaml:"web"`
	Scheduler SchedulerConfig            `yaml:"scheduler"`
	Cache     CacheConfig                `yaml:"cache"`
	Telegram  TelegramConfig             `yaml:"telegram"`
}

// AgentDefinition describes an agent declared in the config file. Command
// and URL are mutually exclusive: a command agent runs a subprocess per
// task, a URL agent posts the task to a webhook.
type AgentDefinition struct {
	Type         string            `yaml:"type"`
	Capabilities []string          `yaml:"capabilities"`
	Command      string            `yaml:"command"`
	URL          string            `yaml:"url"`
	Env          map[string]string `yaml:"env"`
	Secrets      []string          `yaml:"secrets"`
	Timeout      time.Duration     `yaml:"timeout"`
}

type RouterConfig struct {
	DefaultType string `yaml:"default_type"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type CacheConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	ResultTTL time.Duration `yaml:"result_ttl"`
}

type TelegramConfig struct {
	Token     string  `yaml:"token"`
	ChatID    int64   `yaml:"chat_id"`
	AllowFrom []int64 `yaml:"allow_from"`
}

func defaults() Config {
	return Config{
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/crewd.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Cache: CacheConfig{
			ResultTTL: time.Hour,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("CREWD_CONFIG")
	if path == "" {
		path = "config/crewd.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CREWD_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("CREWD_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("CREWD_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("CREWD_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("CREWD_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("CREWD_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CREWD_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("CREWD_DEFAULT_TYPE"); v != "" {
		cfg.Router.DefaultType = v
	}
}
