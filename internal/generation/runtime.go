// runtime.go - 纯 reducer + 单 turn 的可变包装。
package generation

import (
	"sync"
	"time"
)

// Step applies ev to a copy of s and reports what happened. s is not modified.
func Step(s State, ev Event) (State, Outcome) {
	next := s.clone()
	out := next.apply(ev)
	return next, out
}

// Reduce is the pure fold (state, event) → state'.
func Reduce(s State, ev Event) State {
	next, _ := Step(s, ev)
	return next
}

// ReduceAll folds events into s in order.
func ReduceAll(s State, events ...Event) State {
	next := s.clone()
	for _, ev := range events {
		next.apply(ev)
	}
	return next
}

// ========================================
// 命令 (非事件输入)
// ========================================

func (s *State) command(fn func() Outcome) Outcome {
	if s.status.Terminal() {
		return ignored(ReasonFinalized)
	}
	return fn()
}

// SetAuthConnecting marks the open auth checkpoint as connecting (user action).
func (s *State) SetAuthConnecting() Outcome {
	return s.command(func() Outcome { return s.setAuthStatus(AuthPending, AuthConnecting) })
}

// SetAuthPending reverts a connecting auth checkpoint to pending.
func (s *State) SetAuthPending() Outcome {
	return s.command(func() Outcome { return s.setAuthStatus(AuthConnecting, AuthPending) })
}

// SetAuthCancelled resolves the open auth checkpoint as cancelled.
func (s *State) SetAuthCancelled() Outcome {
	return s.command(func() Outcome { return s.resolveAuth(AuthCancelled) })
}

// SetSegmentExpanded overrides the expand flag of segment id. It stays
// available after the turn ends.
func (s *State) SetSegmentExpanded(id string, expanded bool) Outcome {
	if id == "" {
		return ignored(ReasonInvalid)
	}
	if v, ok := s.expanded[id]; ok && v == expanded {
		return ignored(ReasonDuplicate)
	}
	s.expanded[id] = expanded
	return applied()
}

// ========================================
// Runtime
// ========================================

// Runtime is the mutable wrapper around State for one turn. One writer (the
// event delivery loop) and any number of readers may use it concurrently.
type Runtime struct {
	mu    sync.RWMutex
	state State
	now   func() time.Time
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock sets the clock used to stamp events that arrive without At.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a runtime bound to scope. Create a fresh one per turn.
func New(scope Scope, opts ...Option) *Runtime {
	r := &Runtime{state: NewState(scope), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scope returns the scope the runtime was created for.
func (r *Runtime) Scope() Scope { return r.state.scope }

// Apply folds one event in place.
func (r *Runtime) Apply(ev Event) Outcome {
	if ev.At.IsZero() {
		ev.At = r.now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.apply(ev)
}

// SetStatus records a human-readable progress label.
func (r *Runtime) SetStatus(label string) Outcome { return r.Apply(StatusChange(label)) }

// SetApprovalStatus resolves the approval for toolUseID.
func (r *Runtime) SetApprovalStatus(toolUseID string, status ApprovalStatus) Outcome {
	return r.Apply(ApprovalResult(toolUseID, status))
}

// SetAuthConnecting marks the open auth checkpoint as connecting.
func (r *Runtime) SetAuthConnecting() Outcome { return r.mutate((*State).SetAuthConnecting) }

// SetAuthPending reverts the open auth checkpoint to pending.
func (r *Runtime) SetAuthPending() Outcome { return r.mutate((*State).SetAuthPending) }

// SetAuthCancelled resolves the open auth checkpoint as cancelled.
func (r *Runtime) SetAuthCancelled() Outcome { return r.mutate((*State).SetAuthCancelled) }

// HandleCancelled finalizes the turn as cancelled by the user.
func (r *Runtime) HandleCancelled() Outcome { return r.Apply(Cancelled("")) }

// HandleError finalizes the turn as failed with message.
func (r *Runtime) HandleError(message string) Outcome { return r.Apply(Failed(message)) }

// SetSegmentExpanded overrides the expand flag of a segment.
func (r *Runtime) SetSegmentExpanded(id string, expanded bool) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.SetSegmentExpanded(id, expanded)
}

func (r *Runtime) mutate(fn func(*State) Outcome) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(&r.state)
}

// Snapshot returns a deep-copied projection of the current state.
func (r *Runtime) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Snapshot()
}

// BuildAssistantMessage freezes the current state into a message.
func (r *Runtime) BuildAssistantMessage() AssistantMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.AssistantMessage()
}

// ActivityStats aggregates tool activity of the turn so far.
func (r *Runtime) ActivityStats() ActivityStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.ActivityStats()
}

// Status returns the current trace status.
func (r *Runtime) Status() TraceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.status
}

// Terminal reports whether the turn has ended.
func (r *Runtime) Terminal() bool { return r.Status().Terminal() }

// State returns a deep copy of the underlying state for use with Reduce.
func (r *Runtime) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.clone()
}
