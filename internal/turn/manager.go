// Package turn 是 generation runtime 的调用方: 每个 conversation 持有一个活跃 turn,
// 负责 scope 过滤、终态落库 + 回读, 以及把快照/终态推给订阅者。
//
// 线程模型: 每个 turn 只有一个写入方 (事件投递循环或 HTTP 命令), 读取方任意。
package turn

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/multi-agent/genruntime/internal/generation"
	apperrors "github.com/multi-agent/genruntime/pkg/errors"
	"github.com/multi-agent/genruntime/pkg/logger"
)

// MessageStore persists finalized assistant messages.
type MessageStore interface {
	Save(ctx context.Context, msg generation.AssistantMessage) error
	Get(ctx context.Context, id string) (generation.AssistantMessage, error)
}

// Publisher fans runtime updates out to subscribers (SSE).
type Publisher interface {
	PublishSnapshot(conversationID string, snap generation.Snapshot)
	PublishFinalized(f Finalized)
}

// Finalized is the settled result of one turn.
type Finalized struct {
	Message   generation.AssistantMessage `json:"message"`
	Stats     generation.ActivityStats    `json:"stats"`
	Persisted bool                        `json:"persisted"`
	Hydrated  bool                        `json:"hydrated"`
}

const defaultFinalizeTimeout = 30 * time.Second

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	Store           MessageStore // nil: 只保留内存结果
	Publisher       Publisher
	HydrateAttempts int
	HydrateBackoff  time.Duration
	FinalizeTimeout time.Duration // persist + hydrate 的总时限
	Clock           func() time.Time
	NewID           func() string
}

// Turn is the active generation of one conversation.
type Turn struct {
	scope   generation.Scope
	runtime *generation.Runtime

	ctx    context.Context
	cancel context.CancelFunc

	once sync.Once
}

// Scope returns the scope the turn was begun with.
func (t *Turn) Scope() generation.Scope { return t.scope }

// Runtime returns the turn's runtime.
func (t *Turn) Runtime() *generation.Runtime { return t.runtime }

// Context is cancelled once the turn is finalized or abandoned. Transports
// bound to the turn should stop when it is done.
func (t *Turn) Context() context.Context { return t.ctx }

// Manager owns the active turn of every conversation.
type Manager struct {
	mu        sync.RWMutex
	turns     map[string]*Turn     // conversationID → 当前 turn
	finalized map[string]Finalized // conversationID → 最近一次终态

	opts Options
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	if opts.HydrateAttempts < 1 {
		opts.HydrateAttempts = 1
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = defaultFinalizeTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Manager{
		turns:     make(map[string]*Turn),
		finalized: make(map[string]Finalized),
		opts:      opts,
	}
}

// Begin starts a fresh runtime for scope. A previous turn on the same
// conversation is abandoned: its context is cancelled and later events
// tagged with its generation id are dropped.
func (m *Manager) Begin(scope generation.Scope) (*Turn, error) {
	scope.GenerationID = strings.TrimSpace(scope.GenerationID)
	scope.ConversationID = strings.TrimSpace(scope.ConversationID)
	if scope.GenerationID == "" || scope.ConversationID == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "Manager.Begin", "generationId and conversationId are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Turn{
		scope:   scope,
		runtime: generation.New(scope, generation.WithClock(m.opts.Clock)),
		ctx:     ctx,
		cancel:  cancel,
	}

	m.mu.Lock()
	prev := m.turns[scope.ConversationID]
	m.turns[scope.ConversationID] = t
	m.mu.Unlock()

	if prev != nil {
		prev.cancel()
		if !prev.runtime.Terminal() {
			logger.Warn("turn: abandoned unfinished generation",
				logger.FieldConversationID, scope.ConversationID,
				logger.FieldGenerationID, prev.scope.GenerationID,
				logger.FieldTraceStatus, prev.runtime.Status())
		}
	}
	logger.Info("turn: begin",
		logger.FieldConversationID, scope.ConversationID,
		logger.FieldGenerationID, scope.GenerationID)
	return t, nil
}

// Active returns the current turn of conversationID.
func (m *Manager) Active(conversationID string) (*Turn, error) {
	m.mu.RLock()
	t := m.turns[conversationID]
	m.mu.RUnlock()
	if t == nil {
		return nil, apperrors.Wrapf(apperrors.ErrNoActiveTurn, "Manager.Active", "conversation %s", conversationID)
	}
	return t, nil
}

// lookup resolves the turn for an event the caller believes belongs to
// scope. Stale generations and foreign tags are rejected.
func (m *Manager) lookup(op string, scope generation.Scope, ev generation.Event) (*Turn, error) {
	cid := scope.ConversationID
	if cid == "" {
		cid = ev.ConversationID
	}
	t, err := m.Active(cid)
	if err != nil {
		return nil, err
	}
	if scope.GenerationID != "" && scope.GenerationID != t.scope.GenerationID {
		return nil, apperrors.Wrapf(apperrors.ErrScopeMismatch, op, "generation %s is not active (active %s)", scope.GenerationID, t.scope.GenerationID)
	}
	if !t.scope.Accepts(ev) {
		return nil, apperrors.Wrapf(apperrors.ErrScopeMismatch, op, "event tagged %s/%s", ev.GenerationID, ev.ConversationID)
	}
	return t, nil
}

// Deliver hands one event to the active turn of scope. Events that do not
// belong to the active scope are dropped with ErrScopeMismatch.
func (m *Manager) Deliver(ctx context.Context, scope generation.Scope, ev generation.Event) (generation.Outcome, error) {
	t, err := m.lookup("Manager.Deliver", scope, ev)
	if err != nil {
		logger.FromContext(ctx).Debug("turn: event dropped",
			logger.FieldConversationID, scope.ConversationID,
			logger.FieldGenerationID, scope.GenerationID,
			logger.FieldEventType, ev.Kind,
			logger.FieldError, err)
		return generation.Outcome{}, err
	}
	out := t.runtime.Apply(ev)
	m.after(ctx, t, string(ev.Kind), out)
	return out, nil
}

// Cancel finalizes the active turn of conversationID as cancelled and tears
// down its transport.
func (m *Manager) Cancel(ctx context.Context, conversationID string) (generation.Outcome, error) {
	t, err := m.Active(conversationID)
	if err != nil {
		return generation.Outcome{}, err
	}
	out := t.runtime.HandleCancelled()
	m.after(ctx, t, string(generation.EventCancelled), out)
	t.cancel()
	return out, nil
}

// Fail finalizes the turn of scope as failed, e.g. when the stream could not
// be re-established.
func (m *Manager) Fail(ctx context.Context, scope generation.Scope, message string) (generation.Outcome, error) {
	t, err := m.lookup("Manager.Fail", scope, generation.Event{})
	if err != nil {
		return generation.Outcome{}, err
	}
	out := t.runtime.HandleError(message)
	m.after(ctx, t, string(generation.EventError), out)
	return out, nil
}

// SetApproval resolves an approval checkpoint from the UI.
func (m *Manager) SetApproval(ctx context.Context, conversationID, toolUseID string, status generation.ApprovalStatus) (generation.Outcome, error) {
	return m.command(ctx, conversationID, "approval", func(rt *generation.Runtime) generation.Outcome {
		return rt.SetApprovalStatus(toolUseID, status)
	})
}

// Auth actions accepted by SetAuth.
const (
	AuthActionConnecting = "connecting"
	AuthActionPending    = "pending"
	AuthActionCancelled  = "cancelled"
)

// SetAuth applies a user action to the open auth checkpoint.
func (m *Manager) SetAuth(ctx context.Context, conversationID, action string) (generation.Outcome, error) {
	var fn func(*generation.Runtime) generation.Outcome
	switch action {
	case AuthActionConnecting:
		fn = (*generation.Runtime).SetAuthConnecting
	case AuthActionPending:
		fn = (*generation.Runtime).SetAuthPending
	case AuthActionCancelled:
		fn = (*generation.Runtime).SetAuthCancelled
	default:
		return generation.Outcome{}, apperrors.Wrapf(apperrors.ErrInvalidInput, "Manager.SetAuth", "unknown action %q", action)
	}
	return m.command(ctx, conversationID, "auth_"+action, fn)
}

// SetSegmentExpanded toggles a segment in the active turn.
func (m *Manager) SetSegmentExpanded(ctx context.Context, conversationID, segmentID string, expanded bool) (generation.Outcome, error) {
	return m.command(ctx, conversationID, "segment_expand", func(rt *generation.Runtime) generation.Outcome {
		return rt.SetSegmentExpanded(segmentID, expanded)
	})
}

func (m *Manager) command(ctx context.Context, conversationID, name string, fn func(*generation.Runtime) generation.Outcome) (generation.Outcome, error) {
	t, err := m.Active(conversationID)
	if err != nil {
		return generation.Outcome{}, err
	}
	out := fn(t.runtime)
	m.after(ctx, t, name, out)
	return out, nil
}

// after logs the outcome, publishes the new snapshot and finalizes the turn
// once it reaches a terminal status.
func (m *Manager) after(ctx context.Context, t *Turn, kind string, out generation.Outcome) {
	log := logger.FromContext(ctx)
	if !out.Applied {
		log.Debug("turn: ignored",
			logger.FieldConversationID, t.scope.ConversationID,
			logger.FieldGenerationID, t.scope.GenerationID,
			logger.FieldEventType, kind,
			logger.FieldReason, out.Reason)
		return
	}
	if m.opts.Publisher != nil {
		m.opts.Publisher.PublishSnapshot(t.scope.ConversationID, t.runtime.Snapshot())
	}
	if t.runtime.Terminal() {
		m.finalize(ctx, t)
	}
}

// Finalized returns the last settled result of conversationID.
func (m *Manager) Finalized(conversationID string) (Finalized, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.finalized[conversationID]
	return f, ok
}

// finalize runs at most once per turn: build → persist → hydrate → publish.
// Persistence ignores cancellation of ctx and is bounded by FinalizeTimeout.
func (m *Manager) finalize(ctx context.Context, t *Turn) {
	t.once.Do(func() {
		defer t.cancel()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.FinalizeTimeout)
		defer cancel()
		log := logger.FromContext(ctx).With(
			logger.FieldConversationID, t.scope.ConversationID,
			logger.FieldGenerationID, t.scope.GenerationID)

		msg := t.runtime.BuildAssistantMessage()
		if msg.ID == "" {
			msg.ID = m.opts.NewID()
		}
		f := Finalized{Message: msg, Stats: t.runtime.ActivityStats()}

		if m.opts.Store != nil {
			if err := m.opts.Store.Save(ctx, msg); err != nil {
				log.Error("turn: persist finalized message failed", logger.FieldMessageID, msg.ID, logger.FieldError, err)
			} else {
				f.Persisted = true
				if stored, ok := m.hydrate(ctx, msg.ID); ok {
					f.Message = stored
					f.Hydrated = true
				}
			}
		}

		m.mu.Lock()
		m.finalized[t.scope.ConversationID] = f
		m.mu.Unlock()

		log.Info("turn: finalized",
			logger.FieldMessageID, f.Message.ID,
			logger.FieldTraceStatus, f.Message.Status,
			logger.FieldCount, len(f.Message.Parts))
		if m.opts.Publisher != nil {
			m.opts.Publisher.PublishFinalized(f)
		}
	})
}

// hydrate re-reads the persisted message with bounded retries. On failure
// the caller keeps the in-memory message.
func (m *Manager) hydrate(ctx context.Context, id string) (generation.AssistantMessage, bool) {
	log := logger.FromContext(ctx)
	delay := m.opts.HydrateBackoff
	for attempt := 1; attempt <= m.opts.HydrateAttempts; attempt++ {
		stored, err := m.opts.Store.Get(ctx, id)
		if err == nil {
			return stored, true
		}
		log.Warn("turn: hydrate finalized message failed",
			logger.FieldMessageID, id,
			logger.FieldAttempt, attempt,
			logger.FieldError, err)
		if attempt == m.opts.HydrateAttempts || !sleepWithContext(ctx, delay) {
			break
		}
		delay *= 2
	}
	return generation.AssistantMessage{}, false
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
