// Package config loads the service configuration from a YAML file with
// environment overrides.
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/aabine/flow-realtime/internal/broker"
	"github.com/aabine/flow-realtime/internal/hub"
	"github.com/aabine/flow-realtime/internal/zones"
	pkgconfig "github.com/aabine/flow-realtime/pkg/config"
	"github.com/aabine/flow-realtime/pkg/log"
)

type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Exchange  broker.RedisConfig
	Broker    broker.Config
	WebSocket hub.Config
	Dispatch  DispatchConfig
	Log       log.Config
	Zones     []zones.Zone
}

type ServerConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	Secret string
}

type DispatchConfig struct {
	EscalationSweep time.Duration `mapstructure:"escalation_sweep"`
	AlertMaxAge     time.Duration `mapstructure:"alert_max_age"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8085)
	v.SetDefault("auth.secret", "")
	v.SetDefault("exchange.address", "localhost:6379")
	v.SetDefault("exchange.password", "")
	v.SetDefault("exchange.db", 0)
	v.SetDefault("broker.max_retries", 5)
	v.SetDefault("broker.base_delay", "5s")
	v.SetDefault("broker.max_delay", "60s")
	v.SetDefault("broker.connect_timeout", "10s")
	v.SetDefault("broker.ping_interval", "15s")
	v.SetDefault("broker.buffer_capacity", 1000)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.max_idle", "30m")
	v.SetDefault("dispatch.escalation_sweep", "1m")
	v.SetDefault("dispatch.alert_max_age", "24h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "flow-realtime")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("auth.secret", "JWT_SECRET")
	v.BindEnv("exchange.address", "REDIS_ADDRESS")
	v.BindEnv("exchange.password", "REDIS_PASSWORD")
	v.BindEnv("exchange.db", "REDIS_DB")
	v.BindEnv("broker.max_retries", "BROKER_MAX_RETRIES")
	v.BindEnv("broker.base_delay", "BROKER_BASE_DELAY")
	v.BindEnv("broker.buffer_capacity", "BROKER_BUFFER_CAPACITY")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Broker.BaseDelay = parseDuration(v, "broker.base_delay", 5*time.Second)
	cfg.Broker.MaxDelay = parseDuration(v, "broker.max_delay", 60*time.Second)
	cfg.Broker.ConnectTimeout = parseDuration(v, "broker.connect_timeout", 10*time.Second)
	cfg.Broker.PingInterval = parseDuration(v, "broker.ping_interval", 15*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.MaxIdle = parseDuration(v, "websocket.max_idle", 30*time.Minute)
	cfg.Dispatch.EscalationSweep = parseDuration(v, "dispatch.escalation_sweep", time.Minute)
	cfg.Dispatch.AlertMaxAge = parseDuration(v, "dispatch.alert_max_age", 24*time.Hour)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
