// sse.go — SSE 事件总线 + handler。
package apiserver

import (
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/multi-agent/genruntime/internal/generation"
	"github.com/multi-agent/genruntime/internal/turn"
	"github.com/multi-agent/genruntime/pkg/logger"
)

// SSE 事件类型。
const (
	EventSnapshot  = "snapshot"
	EventFinalized = "finalized"
)

const subscriberBuffer = 32

// Event SSE 事件。ConversationID 用于按会话过滤。
type Event struct {
	Type           string
	ConversationID string
	Data           any
}

type subscriber struct {
	ch             chan Event
	conversationID string // 空表示接收全部
}

// EventBus 事件总线 (SSE 推送)。实现 turn.Publisher。
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]subscriber
}

// NewEventBus 创建事件总线。
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string]subscriber)}
}

// Publish 广播事件。慢订阅者的事件被丢弃, 不阻塞 runtime。
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subscribers {
		if sub.conversationID != "" && sub.conversationID != event.ConversationID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			logger.Debug("sse: subscriber backlog full, event dropped",
				logger.FieldSubscriber, id,
				logger.FieldEventType, event.Type)
		}
	}
}

// PublishSnapshot 实现 turn.Publisher。
func (b *EventBus) PublishSnapshot(conversationID string, snap generation.Snapshot) {
	b.Publish(Event{Type: EventSnapshot, ConversationID: conversationID, Data: snap})
}

// PublishFinalized 实现 turn.Publisher。
func (b *EventBus) PublishFinalized(f turn.Finalized) {
	b.Publish(Event{Type: EventFinalized, ConversationID: f.Message.ConversationID, Data: f})
}

// Subscribe 订阅。conversationID 为空时接收所有会话的事件。
func (b *EventBus) Subscribe(id, conversationID string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[id] = subscriber{ch: ch, conversationID: conversationID}
	return ch
}

// Unsubscribe 取消订阅。
//
// 不关闭 ch: sseHandler 通过 ctx.Done() 退出。
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}

// Subscribers 当前订阅数。
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// sseHandler Gin SSE handler。?conversationId= 过滤单个会话。
func (s *Server) sseHandler(c *gin.Context) {
	clientID := "sse-" + uuid.NewString()
	conversationID := c.Query("conversationId")
	ch := s.bus.Subscribe(clientID, conversationID)
	log := logger.FromContext(c.Request.Context()).With(
		logger.FieldSubscriber, clientID,
		logger.FieldConversationID, conversationID)
	defer func() {
		s.bus.Unsubscribe(clientID)
		log.Info("sse: client disconnected")
	}()
	log.Info("sse: client connected")

	keepaliveEvery := s.opts.SSEKeepalive
	keepalive := time.NewTimer(keepaliveEvery)
	defer keepalive.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"subscriber": clientID})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case evt := <-ch:
			c.SSEvent(evt.Type, evt.Data)
			if !keepalive.Stop() {
				select {
				case <-keepalive.C:
				default:
				}
			}
			keepalive.Reset(keepaliveEvery)
			return true
		case <-keepalive.C:
			c.SSEvent("ping", "keepalive")
			keepalive.Reset(keepaliveEvery)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
