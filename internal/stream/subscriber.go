// subscriber.go — 单个 generation 的 WebSocket 事件订阅: 连接、读帧、断线重连。
//
// 重连后从最后一个已见 seq 之后续传; 服务端忽略 after 整段重放时, seq 不大于已见值的帧被丢弃。
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/multi-agent/genruntime/internal/generation"
	apperrors "github.com/multi-agent/genruntime/pkg/errors"
	"github.com/multi-agent/genruntime/pkg/logger"
	"github.com/multi-agent/genruntime/pkg/util"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultReadIdle         = 90 * time.Second
	defaultPingInterval     = 30 * time.Second
	defaultReconnectBase    = 500 * time.Millisecond
	defaultReconnectMax     = 10 * time.Second
	defaultMaxAttempts      = 5
	writeTimeout            = 5 * time.Second
)

// Sink receives decoded events. *turn.Manager implements it.
type Sink interface {
	Deliver(ctx context.Context, scope generation.Scope, ev generation.Event) (generation.Outcome, error)
	Fail(ctx context.Context, scope generation.Scope, message string) (generation.Outcome, error)
}

// Options configures a Subscriber. Zero values fall back to defaults.
type Options struct {
	BaseURL          string // ws(s)://host[:port][/prefix]
	HandshakeTimeout time.Duration
	ReadIdle         time.Duration
	PingInterval     time.Duration
	ReconnectBase    time.Duration
	ReconnectMax     time.Duration
	MaxAttempts      int // 连续失败的重连次数上限
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.ReadIdle <= 0 {
		o.ReadIdle = defaultReadIdle
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = defaultReconnectBase
	}
	if o.ReconnectMax < o.ReconnectBase {
		o.ReconnectMax = max(defaultReconnectMax, o.ReconnectBase)
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	return o
}

// Subscriber streams the events of one generation into a Sink.
type Subscriber struct {
	scope generation.Scope
	sink  Sink
	opts  Options

	mu      sync.Mutex
	lastSeq int64
}

// NewSubscriber creates a subscriber for scope.
func NewSubscriber(scope generation.Scope, sink Sink, opts Options) *Subscriber {
	return &Subscriber{scope: scope, sink: sink, opts: opts.withDefaults()}
}

// LastSeq returns the highest frame sequence seen so far.
func (s *Subscriber) LastSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// observeSeq records seq and reports whether it is newer than anything seen.
func (s *Subscriber) observeSeq(seq int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.lastSeq {
		return false
	}
	s.lastSeq = seq
	return true
}

// endpoint builds {base}/generations/{gid}/events?conversationId=..&after=..
func (s *Subscriber) endpoint() (string, error) {
	base, err := url.Parse(strings.TrimRight(s.opts.BaseURL, "/"))
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInvalidInput, "Subscriber.endpoint", err.Error())
	}
	switch base.Scheme {
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", apperrors.Wrapf(apperrors.ErrInvalidInput, "Subscriber.endpoint", "unsupported scheme %q", base.Scheme)
	}
	base.Path += "/generations/" + url.PathEscape(s.scope.GenerationID) + "/events"
	q := base.Query()
	q.Set("conversationId", s.scope.ConversationID)
	if seq := s.LastSeq(); seq > 0 {
		q.Set("after", strconv.FormatInt(seq, 10))
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (s *Subscriber) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := s.endpoint()
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: s.opts.HandshakeTimeout,
		NetDialContext:   (&net.Dialer{Timeout: s.opts.HandshakeTimeout}).DialContext,
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	readIdle := s.opts.ReadIdle
	_ = conn.SetReadDeadline(time.Now().Add(readIdle))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readIdle))
		return nil
	})
	return conn, nil
}

// reconnectDelay doubles from ReconnectBase per failed attempt, capped at
// ReconnectMax. The first attempt is immediate.
func (s *Subscriber) reconnectDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := s.opts.ReconnectBase
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay >= s.opts.ReconnectMax {
			return s.opts.ReconnectMax
		}
	}
	return min(delay, s.opts.ReconnectMax)
}

// Run connects and delivers frames until the turn reaches a terminal status,
// ctx is cancelled or reconnect attempts run out. In the last case the turn
// is failed through the sink and an error wrapping ErrStreamClosed returned.
func (s *Subscriber) Run(ctx context.Context) error {
	log := logger.FromContext(ctx).With(
		logger.FieldGenerationID, s.scope.GenerationID,
		logger.FieldConversationID, s.scope.ConversationID)

	var lastErr error
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempt++
		if attempt > s.opts.MaxAttempts {
			break
		}
		if !sleepWithContext(ctx, s.reconnectDelay(attempt)) {
			return ctx.Err()
		}

		conn, err := s.dial(ctx)
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidInput) {
				return err
			}
			lastErr = err
			log.Warn("stream: dial failed",
				logger.FieldAttempt, attempt,
				logger.FieldSeq, s.LastSeq(),
				logger.FieldError, err)
			continue
		}
		log.Info("stream: connected", logger.FieldAttempt, attempt, logger.FieldSeq, s.LastSeq())

		done, frames, err := s.consume(ctx, conn)
		if done {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		// 收到过帧才算恢复, 重新计数
		if frames > 0 {
			attempt = 0
		}
		log.Warn("stream: connection lost", logger.FieldSeq, s.LastSeq(), logger.FieldError, err)
	}

	msg := fmt.Sprintf("event stream closed after %d attempts", s.opts.MaxAttempts)
	if lastErr != nil {
		msg += ": " + util.Truncate(lastErr.Error(), 200)
	}
	log.Error("stream: reconnect exhausted", logger.FieldError, lastErr)
	if _, err := s.sink.Fail(ctx, s.scope, msg); err != nil {
		log.Warn("stream: fail turn", logger.FieldError, err)
	}
	return apperrors.Wrap(apperrors.ErrStreamClosed, "Subscriber.Run", msg)
}

// consume reads frames from conn until it breaks. done is true when no
// further frames are wanted (terminal event or the turn was replaced).
func (s *Subscriber) consume(ctx context.Context, conn *websocket.Conn) (done bool, frames int, err error) {
	connDone := make(chan struct{})
	defer func() {
		close(connDone)
		_ = conn.Close()
	}()
	util.SafeGo(func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-connDone:
		}
	})
	util.SafeGo(func() { s.pingLoop(conn, connDone) })

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return false, frames, err
		}
		frames++
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadIdle))
		if s.handleFrame(ctx, frame) {
			return true, frames, nil
		}
	}
}

// handleFrame decodes and delivers one frame. It reports whether the
// subscription should stop.
func (s *Subscriber) handleFrame(ctx context.Context, frame []byte) bool {
	log := logger.FromContext(ctx)
	env, err := generation.DecodeEnvelope(frame)
	if env.Seq > 0 && !s.observeSeq(env.Seq) {
		log.Debug("stream: replayed frame dropped",
			logger.FieldGenerationID, s.scope.GenerationID,
			logger.FieldSeq, env.Seq)
		return false
	}
	if err != nil {
		log.Debug("stream: frame skipped",
			logger.FieldGenerationID, s.scope.GenerationID,
			logger.FieldEventType, env.Kind,
			logger.FieldError, err)
		return false
	}
	ev, err := generation.DecodeEvent(frame)
	if err != nil {
		log.Warn("stream: decode frame failed", logger.FieldSeq, env.Seq, logger.FieldError, err)
		return false
	}

	out, err := s.sink.Deliver(ctx, s.scope, ev)
	switch {
	case errors.Is(err, apperrors.ErrScopeMismatch):
		// 旧 generation 的尾帧, 丢弃即可
		return false
	case errors.Is(err, apperrors.ErrNoActiveTurn):
		return true
	case err != nil:
		log.Warn("stream: deliver failed", logger.FieldEventType, ev.Kind, logger.FieldError, err)
		return false
	}
	if ev.Kind.Terminal() && (out.Applied || out.Reason == generation.ReasonFinalized) {
		return true
	}
	return false
}

func (s *Subscriber) pingLoop(conn *websocket.Conn, connDone <-chan struct{}) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-connDone:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
