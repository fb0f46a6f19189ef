// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"time"

	"github.com/multi-agent/genruntime/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// HTTP
	ListenAddr string `env:"LISTEN_ADDR" default:":8080"`

	// 日志
	LogEnv string `env:"LOG_ENV" default:"production"`
	LogDir string `env:"LOG_DIR"`

	// PostgreSQL (连接串为空时只保留内存结果, 不持久化)
	PostgresConnStr        string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema         string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize    int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize    int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`
	PostgresPoolTimeoutSec int    `env:"POSTGRES_POOL_TIMEOUT_SEC" default:"10" min:"1"`
	MigrationsDir          string `env:"MIGRATIONS_DIR" default:"migrations"`

	// 事件流 (为空时只接受 HTTP 推送的事件)
	StreamBaseURL              string `env:"STREAM_BASE_URL"`
	StreamHandshakeTimeoutSec  int    `env:"STREAM_HANDSHAKE_TIMEOUT_SEC" default:"10" min:"1"`
	StreamReconnectBaseMS      int    `env:"STREAM_RECONNECT_BASE_MS" default:"250" min:"10"`
	StreamReconnectMaxMS       int    `env:"STREAM_RECONNECT_MAX_MS" default:"5000" min:"10"`
	StreamReconnectMaxAttempts int    `env:"STREAM_RECONNECT_MAX_ATTEMPTS" default:"6" min:"0"`
	StreamReadIdleSec          int    `env:"STREAM_READ_IDLE_SEC" default:"60" min:"1"`
	StreamPingSec              int    `env:"STREAM_PING_SEC" default:"20" min:"1"`

	// 终态持久化后回读
	HydrateAttempts    int `env:"HYDRATE_ATTEMPTS" default:"3" min:"1"`
	HydrateBackoffMS   int `env:"HYDRATE_BACKOFF_MS" default:"200" min:"0"`
	FinalizeTimeoutSec int `env:"FINALIZE_TIMEOUT_SEC" default:"30" min:"1"`

	// API
	MessageListLimit int `env:"MESSAGE_LIST_LIMIT" default:"50" min:"1"`
	SSEKeepaliveSec  int `env:"SSE_KEEPALIVE_SEC" default:"15" min:"1"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	if cfg.StreamReconnectMaxMS < cfg.StreamReconnectBaseMS {
		cfg.StreamReconnectMaxMS = cfg.StreamReconnectBaseMS
	}
	return &cfg
}

// PersistenceEnabled 是否配置了 PostgreSQL。
func (c *Config) PersistenceEnabled() bool { return c.PostgresConnStr != "" }

// StreamEnabled 是否配置了事件流地址。
func (c *Config) StreamEnabled() bool { return c.StreamBaseURL != "" }

// ReconnectBase 重连初始退避。
func (c *Config) ReconnectBase() time.Duration {
	return time.Duration(c.StreamReconnectBaseMS) * time.Millisecond
}

// ReconnectMax 重连最大退避。
func (c *Config) ReconnectMax() time.Duration {
	return time.Duration(c.StreamReconnectMaxMS) * time.Millisecond
}

// HandshakeTimeout websocket 握手超时。
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.StreamHandshakeTimeoutSec) * time.Second
}

// ReadIdle 读空闲超时。
func (c *Config) ReadIdle() time.Duration {
	return time.Duration(c.StreamReadIdleSec) * time.Second
}

// PingInterval websocket ping 间隔。
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.StreamPingSec) * time.Second
}

// HydrateBackoff 回读重试间隔。
func (c *Config) HydrateBackoff() time.Duration {
	return time.Duration(c.HydrateBackoffMS) * time.Millisecond
}

// FinalizeTimeout 终态落库 + 回读的总时限。
func (c *Config) FinalizeTimeout() time.Duration {
	return time.Duration(c.FinalizeTimeoutSec) * time.Second
}

// SSEKeepalive SSE 心跳间隔。
func (c *Config) SSEKeepalive() time.Duration {
	return time.Duration(c.SSEKeepaliveSec) * time.Second
}
