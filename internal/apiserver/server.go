// Package apiserver 提供 generation runtime 的 HTTP 面: 开启 turn、投递事件、
// 读取快照 / 统计 / 终态消息、UI 命令 (审批 / 授权 / 折叠) 以及 SSE 推送。
package apiserver

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/multi-agent/genruntime/internal/generation"
	"github.com/multi-agent/genruntime/internal/turn"
	"github.com/multi-agent/genruntime/pkg/logger"
)

const (
	defaultListLimit    = 50
	maxListLimit        = 500
	defaultSSEKeepalive = 30 * time.Second
)

// MessageHistory 读取已持久化的终态消息。*store.AssistantMessageStore 实现它。
type MessageHistory interface {
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]generation.AssistantMessage, error)
}

// Options 服务可选依赖。
type Options struct {
	// History 为 nil 时 /messages 只返回内存中的最近一次终态。
	History MessageHistory
	// Launch 在 turn 开启后调用 (例如启动事件流订阅)。
	Launch       func(t *turn.Turn)
	ListLimit    int
	SSEKeepalive time.Duration
}

// Server HTTP 服务。
type Server struct {
	router *gin.Engine
	turns  *turn.Manager
	bus    *EventBus
	opts   Options
}

// NewServer 创建服务。bus 同时应作为 turn.Manager 的 Publisher 注入。
func NewServer(turns *turn.Manager, bus *EventBus, opts Options) *Server {
	if opts.ListLimit <= 0 {
		opts.ListLimit = defaultListLimit
	}
	if opts.SSEKeepalive <= 0 {
		opts.SSEKeepalive = defaultSSEKeepalive
	}
	if bus == nil {
		bus = NewEventBus()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	s := &Server{router: r, turns: turns, bus: bus, opts: opts}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// Bus 返回事件总线。
func (s *Server) Bus() *EventBus { return s.bus }

// requestLogger 记录每个请求的方法、路径、状态码与耗时。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/healthz" {
			return
		}
		logger.FromContext(c.Request.Context()).Debug("http request",
			logger.FieldMethod, c.Request.Method,
			logger.FieldPath, c.FullPath(),
			logger.FieldStatus, c.Writer.Status(),
			logger.FieldLatencyMS, time.Since(start).Milliseconds(),
		)
	}
}
