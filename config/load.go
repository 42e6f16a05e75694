package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"price-dashboard/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string        `yaml:"env"`
	Feed    FeedConfig    `yaml:"feed"`
	Server  ServerConfig  `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
	Alert   AlertConfig   `yaml:"alert"`
	Log     logger.Config `yaml:"log"`
}

// FeedConfig 行情同步端点与重连参数。
type FeedConfig struct {
	APIURL             string `yaml:"apiURL"`             // REST 基地址，拉取 {apiURL}/prices/all
	WSURL              string `yaml:"wsURL"`              // 流式端点
	InitialDelayMs     int    `yaml:"initialDelayMs"`     // 首次拨号前等待
	ReconnectDelayMs   int    `yaml:"reconnectDelayMs"`   // 断线后固定退避
	FetchTimeoutMs     int    `yaml:"fetchTimeoutMs"`     // 初始拉取超时
	HandshakeTimeoutMs int    `yaml:"handshakeTimeoutMs"` // WS 握手超时
	ReadTimeoutMs      int    `yaml:"readTimeoutMs"`      // 0 表示不设置读超时
	PingIntervalMs     int    `yaml:"pingIntervalMs"`     // 0 表示不发 ping
}

type ServerConfig struct {
	ListenAddr    string `yaml:"listenAddr"`
	DefaultFilter string `yaml:"defaultFilter"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // 留空则关闭
}

// AlertConfig 断线告警参数，DisconnectAfterMs 为 0 时关闭断线告警。
type AlertConfig struct {
	DisconnectAfterMs int `yaml:"disconnectAfterMs"`
	ThrottleMs        int `yaml:"throttleMs"`
	CheckIntervalMs   int `yaml:"checkIntervalMs"`
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (f FeedConfig) InitialDelay() time.Duration     { return ms(f.InitialDelayMs) }
func (f FeedConfig) ReconnectDelay() time.Duration   { return ms(f.ReconnectDelayMs) }
func (f FeedConfig) FetchTimeout() time.Duration     { return ms(f.FetchTimeoutMs) }
func (f FeedConfig) HandshakeTimeout() time.Duration { return ms(f.HandshakeTimeoutMs) }
func (f FeedConfig) ReadTimeout() time.Duration      { return ms(f.ReadTimeoutMs) }
func (f FeedConfig) PingInterval() time.Duration     { return ms(f.PingIntervalMs) }

func (a AlertConfig) DisconnectAfter() time.Duration { return ms(a.DisconnectAfterMs) }
func (a AlertConfig) Throttle() time.Duration        { return ms(a.ThrottleMs) }
func (a AlertConfig) CheckInterval() time.Duration   { return ms(a.CheckIntervalMs) }

// Default returns the local-development configuration.
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		Feed: FeedConfig{
			APIURL:             "http://127.0.0.1:8080/api/v1",
			WSURL:              "ws://127.0.0.1:8080/ws",
			InitialDelayMs:     100,
			ReconnectDelayMs:   3000,
			FetchTimeoutMs:     10000,
			HandshakeTimeoutMs: 10000,
			ReadTimeoutMs:      60000,
			PingIntervalMs:     25000,
		},
		Server: ServerConfig{
			ListenAddr:    ":3000",
			DefaultFilter: "all",
		},
		Metrics: MetricsConfig{Addr: ":9100"},
		Alert: AlertConfig{
			DisconnectAfterMs: 30000,
			ThrottleMs:        300000,
			CheckIntervalMs:   5000,
		},
		Log: logger.DefaultConfig(),
	}
}

// load reads YAML on top of the defaults. An empty path yields the defaults.
func load(path string) (AppConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	cfg, err := load(path)
	if err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

// LoadWithEnvOverrides loads config then overrides endpoints and log level from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := load(path)
	if err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, Validate(cfg)
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("DASHBOARD_API_URL"); v != "" {
		cfg.Feed.APIURL = v
	}
	if v := os.Getenv("DASHBOARD_WS_URL"); v != "" {
		cfg.Feed.WSURL = v
	}
	if v := os.Getenv("DASHBOARD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DASHBOARD_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
}
