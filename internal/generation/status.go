// status.go - 状态机: trace status 派生 + approval/auth checkpoint 生命周期。
package generation

import (
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// recomputeStatus derives the non-terminal trace status from the pending
// checkpoint queue. Only the head of the queue is reported.
func (s *State) recomputeStatus() {
	if s.status.Terminal() {
		return
	}
	if len(s.pending) == 0 {
		s.status = TraceStreaming
		return
	}
	switch s.pending[0].Kind {
	case CheckpointApproval:
		s.status = TraceWaitingApproval
	case CheckpointAuth:
		s.status = TraceWaitingAuth
	}
}

func (s *State) enqueue(ref CheckpointRef) {
	s.pending = append(s.pending, ref)
	s.recomputeStatus()
}

func (s *State) dequeue(ref CheckpointRef) {
	s.pending = slices.DeleteFunc(s.pending, func(p CheckpointRef) bool { return p == ref })
	s.recomputeStatus()
}

func (s *State) pendingHead() *CheckpointRef {
	if len(s.pending) == 0 {
		return nil
	}
	head := s.pending[0]
	return &head
}

// ── approval ──

func handlePendingApprovalEvent(s *State, ev Event, ordinal int64) Outcome {
	toolUseID := strings.TrimSpace(ev.ToolUseID)
	if toolUseID == "" {
		return ignored(ReasonInvalid)
	}
	if _, ok := s.approvalIndex[toolUseID]; ok {
		return ignored(ReasonDuplicate)
	}
	part := newPart(PartApproval, "approval-"+toolUseID, ordinal, ev.At)
	part.Approval = &ApprovalRecord{
		ToolUseID:   toolUseID,
		ToolName:    ev.ToolName,
		ToolInput:   cloneRaw(ev.ToolInput),
		Integration: ev.Integration,
		Operation:   ev.Operation,
		Command:     ev.Command,
		Status:      ApprovalPending,
	}
	s.approvalIndex[toolUseID] = s.pushPart(part)
	s.touchIntegration(ev.Integration)
	s.enqueue(CheckpointRef{Kind: CheckpointApproval, Key: toolUseID})
	return applied()
}

func handleApprovalResultEvent(s *State, ev Event, _ int64) Outcome {
	return s.resolveApproval(ev.ToolUseID, ev.Decision)
}

// resolveApproval transitions pending → approved|denied at most once.
func (s *State) resolveApproval(toolUseID string, decision ApprovalStatus) Outcome {
	if decision != ApprovalApproved && decision != ApprovalDenied {
		return ignored(ReasonInvalid)
	}
	toolUseID = strings.TrimSpace(toolUseID)
	idx, ok := s.approvalIndex[toolUseID]
	if !ok {
		return ignored(ReasonUnmatched)
	}
	rec := s.parts[idx].Approval
	if rec.Status != ApprovalPending {
		return ignored(ReasonDuplicate)
	}
	rec.Status = decision
	s.dequeue(CheckpointRef{Kind: CheckpointApproval, Key: toolUseID})
	return applied()
}

// ── auth ──

func handleAuthNeededEvent(s *State, ev Event, _ int64) Outcome {
	integrations := normalizeNames(ev.Integrations)
	if len(integrations) == 0 {
		return ignored(ReasonInvalid)
	}
	// 重连重放: 同一组 integrations 只创建一次 auth, 已解决的也不再重开。
	key := authKey(integrations)
	if _, ok := s.authKeys[key]; ok {
		return ignored(ReasonDuplicate)
	}
	s.authKeys[key] = struct{}{}
	id := fmt.Sprintf("auth-%d", len(s.auths)+1)
	s.auths = append(s.auths, authCheckpoint{
		anchor: len(s.parts),
		record: AuthRecord{
			ID:                    id,
			Integrations:          integrations,
			ConnectedIntegrations: []string{},
			Reason:                strings.TrimSpace(ev.Reason),
			Status:                AuthPending,
		},
	})
	s.authIndex[id] = len(s.auths) - 1
	s.enqueue(CheckpointRef{Kind: CheckpointAuth, Key: id})
	return applied()
}

func handleAuthProgressEvent(s *State, ev Event, _ int64) Outcome {
	cur := s.openAuth()
	if cur == nil {
		return ignored(ReasonUnmatched)
	}
	connected := strings.TrimSpace(ev.ConnectedIntegration)
	remaining := normalizeNames(ev.Remaining)
	changed := false
	if connected != "" && !slices.Contains(cur.record.ConnectedIntegrations, connected) {
		cur.record.ConnectedIntegrations = append(cur.record.ConnectedIntegrations, connected)
		changed = true
	}
	if ev.Remaining != nil && !slices.Equal(cur.record.Remaining, remaining) {
		cur.record.Remaining = remaining
		changed = true
	}
	if !changed {
		return ignored(ReasonDuplicate)
	}
	return applied()
}

func handleAuthResultEvent(s *State, ev Event, _ int64) Outcome {
	status := AuthCancelled
	if ev.Success {
		status = AuthCompleted
	}
	return s.resolveAuth(status)
}

// resolveAuth moves the open auth checkpoint to a terminal state. A failed
// auth does not halt the turn: status returns to streaming either way.
func (s *State) resolveAuth(status AuthStatus) Outcome {
	cur := s.openAuth()
	if cur == nil {
		return ignored(ReasonUnmatched)
	}
	cur.record.Status = status
	s.dequeue(CheckpointRef{Kind: CheckpointAuth, Key: cur.record.ID})
	return applied()
}

// setAuthStatus handles the user-driven pending ⇄ connecting transitions.
func (s *State) setAuthStatus(from, to AuthStatus) Outcome {
	cur := s.openAuth()
	if cur == nil {
		return ignored(ReasonUnmatched)
	}
	if cur.record.Status == to {
		return ignored(ReasonDuplicate)
	}
	if cur.record.Status != from {
		return ignored(ReasonInvalid)
	}
	cur.record.Status = to
	return applied()
}

// openAuth returns the oldest unresolved auth checkpoint.
func (s *State) openAuth() *authCheckpoint {
	for i := range s.auths {
		if !s.auths[i].record.Status.Resolved() {
			return &s.auths[i]
		}
	}
	return nil
}

// authKey identifies an integration set independent of order.
func authKey(integrations []string) string {
	sorted := slices.Clone(integrations)
	slices.Sort(sorted)
	return strings.Join(sorted, "\x00")
}

// normalizeNames trims, drops blanks and dedupes, keeping first-seen order.
func normalizeNames(list []string) []string {
	names := lo.Uniq(lo.Compact(lo.Map(list, func(item string, _ int) string {
		return strings.TrimSpace(item)
	})))
	return nonNil(names)
}
