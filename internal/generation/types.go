// types.go - generation runtime 数据模型: part / segment / checkpoint / snapshot。
package generation

import (
	"encoding/json"
	"time"
)

// PartType discriminates the variants of Part.
type PartType string

const (
	PartText     PartType = "text"
	PartThinking PartType = "thinking"
	PartToolCall PartType = "tool_call"
	PartSystem   PartType = "system"
	PartApproval PartType = "approval"
)

// TraceStatus is the coarse lifecycle of a turn.
type TraceStatus string

const (
	TraceIdle            TraceStatus = "idle"
	TraceStreaming       TraceStatus = "streaming"
	TraceWaitingApproval TraceStatus = "waiting_approval"
	TraceWaitingAuth     TraceStatus = "waiting_auth"
	TraceComplete        TraceStatus = "complete"
	TraceError           TraceStatus = "error"
	TraceCancelled       TraceStatus = "cancelled"
)

// Terminal reports whether no further events may change the turn.
func (s TraceStatus) Terminal() bool {
	return s == TraceComplete || s == TraceError || s == TraceCancelled
}

// ApprovalStatus is the lifecycle of a human-approval checkpoint.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
)

// AuthStatus is the lifecycle of a third-party authorization checkpoint.
type AuthStatus string

const (
	AuthPending    AuthStatus = "pending"
	AuthConnecting AuthStatus = "connecting"
	AuthCompleted  AuthStatus = "completed"
	AuthCancelled  AuthStatus = "cancelled"
)

// Resolved reports whether the auth checkpoint reached a terminal state.
func (s AuthStatus) Resolved() bool {
	return s == AuthCompleted || s == AuthCancelled
}

// ItemStatus is the display status of an activity item.
type ItemStatus string

const (
	ItemRunning     ItemStatus = "running"
	ItemComplete    ItemStatus = "complete"
	ItemError       ItemStatus = "error"
	ItemInterrupted ItemStatus = "interrupted"
)

// InterruptedByUser is the content of the system part appended on cancellation.
const InterruptedByUser = "Interrupted by user"

// ApprovalRecord is a pending or resolved human-approval checkpoint.
type ApprovalRecord struct {
	ToolUseID   string          `json:"toolUseId"`
	ToolName    string          `json:"toolName"`
	ToolInput   json.RawMessage `json:"toolInput,omitempty"`
	Integration string          `json:"integration,omitempty"`
	Operation   string          `json:"operation,omitempty"`
	Command     string          `json:"command,omitempty"`
	Status      ApprovalStatus  `json:"status"`
}

// AuthRecord is a third-party authorization checkpoint. One record may span
// several integrations and receive several progress updates.
type AuthRecord struct {
	ID                    string     `json:"id"`
	Integrations          []string   `json:"integrations"`
	ConnectedIntegrations []string   `json:"connectedIntegrations"`
	Remaining             []string   `json:"remaining,omitempty"`
	Reason                string     `json:"reason,omitempty"`
	Status                AuthStatus `json:"status"`
}

// Part is one atomic content unit of a turn. Type selects which fields apply:
//
//	text      Content
//	thinking  ID, Content
//	tool_call ID, Name, Input, Result, IsError, Integration, Operation
//	system    Content
//	approval  ID, Approval
//
// Parts are append-only; Result and Approval.Status are the only fields
// mutated after creation.
type Part struct {
	Type        PartType        `json:"type"`
	ID          string          `json:"id"`
	Content     string          `json:"content,omitempty"`
	Name        string          `json:"name,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	IsError     bool            `json:"isError,omitempty"`
	Integration string          `json:"integration,omitempty"`
	Operation   string          `json:"operation,omitempty"`
	Approval    *ApprovalRecord `json:"approval,omitempty"`
	Ordinal     int64           `json:"ordinal"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// HasResult reports whether a tool_call part has been resolved.
func (p Part) HasResult() bool { return len(p.Result) > 0 }

// SandboxFile is metadata of a file delivered during the turn.
type SandboxFile struct {
	FileID    string `json:"fileId"`
	Path      string `json:"path"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType"`
	SizeBytes *int64 `json:"sizeBytes,omitempty"`
}

// ActivityItem is the display projection of a part inside a segment.
type ActivityItem struct {
	ID          string          `json:"id"`
	Ordinal     int64           `json:"ordinal"`
	Ts          time.Time       `json:"ts"`
	Type        PartType        `json:"type"`
	Content     string          `json:"content,omitempty"`
	ToolName    string          `json:"toolName,omitempty"`
	ToolInput   json.RawMessage `json:"toolInput,omitempty"`
	ToolResult  json.RawMessage `json:"toolResult,omitempty"`
	Integration string          `json:"integration,omitempty"`
	Operation   string          `json:"operation,omitempty"`
	Status      ItemStatus      `json:"status"`
}

// Segment is a chronological run of activity items terminated by at most one
// checkpoint (approval or auth). The last segment is the open tail.
type Segment struct {
	ID         string          `json:"id"`
	Items      []ActivityItem  `json:"items"`
	Approval   *ApprovalRecord `json:"approval,omitempty"`
	Auth       *AuthRecord     `json:"auth,omitempty"`
	IsExpanded bool            `json:"isExpanded"`
}

// HasCheckpoint reports whether the segment was sealed by a checkpoint.
func (s Segment) HasCheckpoint() bool { return s.Approval != nil || s.Auth != nil }

// CheckpointKind identifies the kind of a pending checkpoint.
type CheckpointKind string

const (
	CheckpointApproval CheckpointKind = "approval"
	CheckpointAuth     CheckpointKind = "auth"
)

// CheckpointRef points at a pending checkpoint: a tool-use id for approvals,
// an auth record id for auth.
type CheckpointRef struct {
	Kind CheckpointKind `json:"kind"`
	Key  string         `json:"key"`
}

// Snapshot is the read-only projection handed to rendering. It is a deep
// copy; mutating it never reaches runtime state.
type Snapshot struct {
	Scope             Scope           `json:"scope"`
	Parts             []Part          `json:"parts"`
	Segments          []Segment       `json:"segments"`
	IntegrationsUsed  []string        `json:"integrationsUsed"`
	SandboxFiles      []SandboxFile   `json:"sandboxFiles"`
	TraceStatus       TraceStatus     `json:"traceStatus"`
	StatusLabel       string          `json:"statusLabel,omitempty"`
	ErrorMessage      string          `json:"errorMessage,omitempty"`
	MessageID         string          `json:"messageId,omitempty"`
	Usage             json.RawMessage `json:"usage,omitempty"`
	PendingCheckpoint *CheckpointRef  `json:"pendingCheckpoint,omitempty"`
	Seq               int64           `json:"seq"`
}

// AssistantMessage is the persistable result of a turn.
type AssistantMessage struct {
	ID               string          `json:"id,omitempty"`
	GenerationID     string          `json:"generationId,omitempty"`
	ConversationID   string          `json:"conversationId,omitempty"`
	Content          string          `json:"content"`
	Parts            []Part          `json:"parts"`
	IntegrationsUsed []string        `json:"integrationsUsed"`
	SandboxFiles     []SandboxFile   `json:"sandboxFiles"`
	Status           TraceStatus     `json:"status"`
	Usage            json.RawMessage `json:"usage,omitempty"`
}

// ApprovalStats counts approval checkpoints by status.
type ApprovalStats struct {
	Approved int `json:"approved"`
	Denied   int `json:"denied"`
	Pending  int `json:"pending"`
}

// ActivityStats aggregates tool activity for observability.
type ActivityStats struct {
	TotalToolCalls       int              `json:"totalToolCalls"`
	RunningToolCalls     int              `json:"runningToolCalls"`
	CompletedToolCalls   int              `json:"completedToolCalls"`
	FailedToolCalls      int              `json:"failedToolCalls"`
	InterruptedToolCalls int              `json:"interruptedToolCalls"`
	ByTool               map[string]int64 `json:"byTool"`
	ByIntegration        map[string]int64 `json:"byIntegration"`
	TotalDurationMS      int64            `json:"totalDurationMs"`
	Approvals            ApprovalStats    `json:"approvals"`
	AuthCheckpoints      int              `json:"authCheckpoints"`
}
