// event.go - 事件模型: 一个 turn 内 runtime 接受的封闭事件集合。
package generation

import (
	"encoding/json"
	"strings"
	"time"
)

// EventKind is the closed set of events the runtime accepts.
type EventKind string

const (
	EventText            EventKind = "text"
	EventThinking        EventKind = "thinking"
	EventToolUse         EventKind = "tool_use"
	EventToolResult      EventKind = "tool_result"
	EventPendingApproval EventKind = "pending_approval"
	EventApprovalResult  EventKind = "approval_result"
	EventAuthNeeded      EventKind = "auth_needed"
	EventAuthProgress    EventKind = "auth_progress"
	EventAuthResult      EventKind = "auth_result"
	EventSandboxFile     EventKind = "sandbox_file"
	EventStatusChange    EventKind = "status_change"
	EventDone            EventKind = "done"
	EventError           EventKind = "error"
	EventCancelled       EventKind = "cancelled"
)

// Terminal reports whether the event ends the turn.
func (k EventKind) Terminal() bool {
	return k == EventDone || k == EventError || k == EventCancelled
}

// Event is one entry of the ordered stream describing an in-flight turn.
// Kind selects which fields are meaningful; see the constructors below.
type Event struct {
	Kind           EventKind `json:"type"`
	GenerationID   string    `json:"generationId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	At             time.Time `json:"at,omitzero"`

	// text / thinking
	Delta string `json:"delta,omitempty"`
	ID    string `json:"id,omitempty"`

	// tool_use / tool_result
	Name        string          `json:"name,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	Integration string          `json:"integration,omitempty"`
	Operation   string          `json:"operation,omitempty"`
	ToolUseID   string          `json:"toolUseId,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	IsError     bool            `json:"isError,omitempty"`

	// pending_approval / approval_result
	ToolName  string          `json:"toolName,omitempty"`
	ToolInput json.RawMessage `json:"toolInput,omitempty"`
	Command   string          `json:"command,omitempty"`
	Decision  ApprovalStatus  `json:"decision,omitempty"`

	// auth_needed / auth_progress / auth_result
	Integrations         []string `json:"integrations,omitempty"`
	Reason               string   `json:"reason,omitempty"`
	ConnectedIntegration string   `json:"connectedIntegration,omitempty"`
	Remaining            []string `json:"remaining,omitempty"`
	Success              bool     `json:"success,omitempty"`

	// sandbox_file
	File SandboxFile `json:"file,omitzero"`

	// status_change
	Label string `json:"label,omitempty"`

	// done / error / cancelled
	MessageID string          `json:"messageId,omitempty"`
	Usage     json.RawMessage `json:"usage,omitempty"`
	Artifacts json.RawMessage `json:"artifacts,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Scope is the (generation, conversation) pair a runtime instance serves.
type Scope struct {
	GenerationID   string `json:"generationId" yaml:"generationId"`
	ConversationID string `json:"conversationId" yaml:"conversationId"`
}

// Accepts reports whether an event tagged with ev's ids belongs to s.
// Untagged fields are treated as matching: several event kinds carry only
// part of the scope.
func (s Scope) Accepts(ev Event) bool {
	gid := strings.TrimSpace(ev.GenerationID)
	if gid != "" && s.GenerationID != "" && gid != s.GenerationID {
		return false
	}
	cid := strings.TrimSpace(ev.ConversationID)
	if cid != "" && s.ConversationID != "" && cid != s.ConversationID {
		return false
	}
	return true
}

// TextDelta builds a text event.
func TextDelta(delta string) Event { return Event{Kind: EventText, Delta: delta} }

// ThinkingDelta builds a thinking event for reasoning block id.
func ThinkingDelta(id, delta string) Event {
	return Event{Kind: EventThinking, ID: id, Delta: delta}
}

// ToolUse builds a tool_use event.
func ToolUse(id, name string, input json.RawMessage) Event {
	return Event{Kind: EventToolUse, ID: id, Name: name, Input: input}
}

// ToolResult builds a tool_result event.
func ToolResult(toolUseID string, result json.RawMessage) Event {
	return Event{Kind: EventToolResult, ToolUseID: toolUseID, Result: result}
}

// PendingApproval builds a pending_approval event.
func PendingApproval(toolUseID, toolName string, toolInput json.RawMessage, integration, operation string) Event {
	return Event{
		Kind:        EventPendingApproval,
		ToolUseID:   toolUseID,
		ToolName:    toolName,
		ToolInput:   toolInput,
		Integration: integration,
		Operation:   operation,
	}
}

// ApprovalResult builds an approval_result event.
func ApprovalResult(toolUseID string, decision ApprovalStatus) Event {
	return Event{Kind: EventApprovalResult, ToolUseID: toolUseID, Decision: decision}
}

// AuthNeeded builds an auth_needed event.
func AuthNeeded(integrations []string, reason string) Event {
	return Event{Kind: EventAuthNeeded, Integrations: integrations, Reason: reason}
}

// AuthProgress builds an auth_progress event.
func AuthProgress(connected string, remaining []string) Event {
	return Event{Kind: EventAuthProgress, ConnectedIntegration: connected, Remaining: remaining}
}

// AuthResult builds an auth_result event.
func AuthResult(success bool) Event { return Event{Kind: EventAuthResult, Success: success} }

// FileDelivered builds a sandbox_file event.
func FileDelivered(file SandboxFile) Event { return Event{Kind: EventSandboxFile, File: file} }

// StatusChange builds a status_change event.
func StatusChange(label string) Event { return Event{Kind: EventStatusChange, Label: label} }

// Done builds a done event.
func Done(generationID, conversationID, messageID string) Event {
	return Event{Kind: EventDone, GenerationID: generationID, ConversationID: conversationID, MessageID: messageID}
}

// Failed builds an error event.
func Failed(message string) Event { return Event{Kind: EventError, Message: message} }

// Cancelled builds a cancelled event.
func Cancelled(messageID string) Event { return Event{Kind: EventCancelled, MessageID: messageID} }
