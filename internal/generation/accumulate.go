// accumulate.go - 事件分发 + part 累积。
//
// 每个 handler 必须可重放: 同一事件应用两次与应用一次结果一致
// (tool_result / approval_result / done 等)。
package generation

import (
	"fmt"
	"strings"
	"time"
)

type eventHandler func(*State, Event, int64) Outcome

var eventHandlers = map[EventKind]eventHandler{
	EventText:            handleTextEvent,
	EventThinking:        handleThinkingEvent,
	EventToolUse:         handleToolUseEvent,
	EventToolResult:      handleToolResultEvent,
	EventPendingApproval: handlePendingApprovalEvent,
	EventApprovalResult:  handleApprovalResultEvent,
	EventAuthNeeded:      handleAuthNeededEvent,
	EventAuthProgress:    handleAuthProgressEvent,
	EventAuthResult:      handleAuthResultEvent,
	EventSandboxFile:     handleSandboxFileEvent,
	EventStatusChange:    handleStatusChangeEvent,
	EventDone:            handleDoneEvent,
	EventError:           handleErrorEvent,
	EventCancelled:       handleCancelledEvent,
}

// apply folds one event into s. It never performs I/O and never reads the
// clock; ev.At is taken as given.
func (s *State) apply(ev Event) Outcome {
	if s.status.Terminal() {
		return ignored(ReasonFinalized)
	}
	handler, ok := eventHandlers[ev.Kind]
	if !ok {
		return ignored(ReasonUnknownKind)
	}
	ordinal := s.seq + 1
	out := handler(s, ev, ordinal)
	if !out.Applied {
		return out
	}
	s.seq = ordinal
	if s.status == TraceIdle || s.status == "" {
		s.status = TraceStreaming
	}
	return out
}

func newPart(kind PartType, id string, ordinal int64, at time.Time) Part {
	if id == "" {
		id = fmt.Sprintf("%s-%d", kind, ordinal)
	}
	return Part{Type: kind, ID: id, Ordinal: ordinal, CreatedAt: at}
}

func handleTextEvent(s *State, ev Event, ordinal int64) Outcome {
	if ev.Delta == "" {
		return ignored(ReasonEmpty)
	}
	// 连续 text delta 合并为同一个 part, 直到被非 text 事件打断。
	if idx, ok := s.lastPart(); ok && s.parts[idx].Type == PartText {
		s.parts[idx].Content += ev.Delta
		return applied()
	}
	part := newPart(PartText, "", ordinal, ev.At)
	part.Content = ev.Delta
	s.pushPart(part)
	return applied()
}

func handleThinkingEvent(s *State, ev Event, ordinal int64) Outcome {
	if ev.Delta == "" {
		return ignored(ReasonEmpty)
	}
	block := strings.TrimSpace(ev.ID)
	if idx, ok := s.lastPart(); ok && s.parts[idx].Type == PartThinking {
		if block == "" || block == s.openThinking {
			s.parts[idx].Content += ev.Delta
			return applied()
		}
	}
	id := block
	if _, seen := s.thinkingIDs[id]; seen && id != "" {
		// 同一 reasoning block 被其它事件打断后重新开始: 新 part, 新 id。
		id = fmt.Sprintf("%s-%d", id, ordinal)
	}
	part := newPart(PartThinking, id, ordinal, ev.At)
	part.Content = ev.Delta
	s.thinkingIDs[part.ID] = struct{}{}
	s.openThinking = block
	s.pushPart(part)
	return applied()
}

func handleToolUseEvent(s *State, ev Event, ordinal int64) Outcome {
	id := strings.TrimSpace(ev.ID)
	if id == "" {
		return ignored(ReasonInvalid)
	}
	if _, ok := s.toolIndex[id]; ok {
		return ignored(ReasonDuplicate)
	}
	part := newPart(PartToolCall, id, ordinal, ev.At)
	part.Name = ev.Name
	part.Input = cloneRaw(ev.Input)
	part.Integration = ev.Integration
	part.Operation = ev.Operation
	s.toolIndex[id] = s.pushPart(part)
	s.touchIntegration(ev.Integration)
	return applied()
}

func handleToolResultEvent(s *State, ev Event, _ int64) Outcome {
	idx, ok := s.toolIndex[strings.TrimSpace(ev.ToolUseID)]
	if !ok {
		return ignored(ReasonUnmatched)
	}
	part := &s.parts[idx]
	if part.HasResult() {
		return ignored(ReasonDuplicate)
	}
	part.Result = cloneRaw(ev.Result)
	if len(part.Result) == 0 {
		part.Result = []byte("null")
	}
	part.IsError = ev.IsError
	part.CompletedAt = timePtr(ev.At)
	if part.Integration == "" {
		part.Integration = ev.Integration
	}
	s.touchIntegration(part.Integration)
	return applied()
}

func handleSandboxFileEvent(s *State, ev Event, _ int64) Outcome {
	key := strings.TrimSpace(ev.File.FileID)
	if key == "" {
		key = strings.TrimSpace(ev.File.Path)
	}
	if key == "" {
		return ignored(ReasonInvalid)
	}
	if _, ok := s.fileIndex[key]; ok {
		return ignored(ReasonDuplicate)
	}
	s.fileIndex[key] = struct{}{}
	s.files = append(s.files, cloneFiles([]SandboxFile{ev.File})[0])
	return applied()
}

func handleStatusChangeEvent(s *State, ev Event, _ int64) Outcome {
	s.statusLabel = strings.TrimSpace(ev.Label)
	return applied()
}

func handleDoneEvent(s *State, ev Event, _ int64) Outcome {
	s.finish(TraceComplete, ev.MessageID)
	s.usage = cloneRaw(ev.Usage)
	return applied()
}

func handleErrorEvent(s *State, ev Event, ordinal int64) Outcome {
	s.fail(ev.Message, ordinal, ev.At)
	return applied()
}

func handleCancelledEvent(s *State, ev Event, ordinal int64) Outcome {
	s.cancel(ev.MessageID, ordinal, ev.At)
	return applied()
}

// finish moves the turn into a terminal status. Pending checkpoints stay in
// their last recorded state.
func (s *State) finish(status TraceStatus, messageID string) {
	s.status = status
	s.pending = nil
	if id := strings.TrimSpace(messageID); id != "" {
		s.messageID = id
	}
}

func (s *State) fail(message string, ordinal int64, at time.Time) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = "An error occurred"
	}
	s.errorMessage = msg
	part := newPart(PartSystem, "", ordinal, at)
	part.Content = msg
	s.pushPart(part)
	s.finish(TraceError, "")
}

func (s *State) cancel(messageID string, ordinal int64, at time.Time) {
	part := newPart(PartSystem, "", ordinal, at)
	part.Content = InterruptedByUser
	s.pushPart(part)
	s.finish(TraceCancelled, messageID)
}
