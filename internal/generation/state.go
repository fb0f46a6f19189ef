// state.go - 累积状态 (parts / files / checkpoints) 与深拷贝。
package generation

import (
	"encoding/json"
	"slices"
	"time"
)

// IgnoreReason explains why an event or command left the state unchanged.
type IgnoreReason string

const (
	ReasonFinalized   IgnoreReason = "finalized"
	ReasonDuplicate   IgnoreReason = "duplicate"
	ReasonUnmatched   IgnoreReason = "unmatched"
	ReasonInvalid     IgnoreReason = "invalid"
	ReasonEmpty       IgnoreReason = "empty"
	ReasonUnknownKind IgnoreReason = "unknown_kind"
)

// Outcome reports whether an event mutated the state. Ignored outcomes are
// expected under replay and are for the caller to log, never errors.
type Outcome struct {
	Applied bool         `json:"applied"`
	Reason  IgnoreReason `json:"reason,omitempty"`
}

func applied() Outcome                    { return Outcome{Applied: true} }
func ignored(reason IgnoreReason) Outcome { return Outcome{Reason: reason} }

// authCheckpoint anchors an auth record at the number of parts that existed
// when it arrived; the segmenter seals the open segment at that point.
type authCheckpoint struct {
	anchor int
	record AuthRecord
}

// State is the accumulated state of one turn. The zero value is not usable;
// construct with NewState. State is advanced with Reduce or through Runtime.
type State struct {
	scope Scope

	parts []Part
	files []SandboxFile
	auths []authCheckpoint

	integrations []string
	pending      []CheckpointRef

	status       TraceStatus
	statusLabel  string
	errorMessage string
	messageID    string
	usage        json.RawMessage
	seq          int64

	// id → index into parts; lookups never insert.
	toolIndex     map[string]int
	approvalIndex map[string]int
	authIndex     map[string]int
	authKeys      map[string]struct{}
	thinkingIDs   map[string]struct{}
	openThinking  string
	fileIndex     map[string]struct{}
	integrationOK map[string]struct{}

	expanded map[string]bool
}

// NewState returns an empty idle state for scope.
func NewState(scope Scope) State {
	return State{
		scope:         scope,
		parts:         []Part{},
		files:         []SandboxFile{},
		integrations:  []string{},
		status:        TraceIdle,
		toolIndex:     map[string]int{},
		approvalIndex: map[string]int{},
		authIndex:     map[string]int{},
		authKeys:      map[string]struct{}{},
		thinkingIDs:   map[string]struct{}{},
		fileIndex:     map[string]struct{}{},
		integrationOK: map[string]struct{}{},
		expanded:      map[string]bool{},
	}
}

// Status returns the current trace status.
func (s State) Status() TraceStatus { return s.status }

// Seq returns the number of applied events.
func (s State) Seq() int64 { return s.seq }

func (s *State) pushPart(p Part) int {
	s.parts = append(s.parts, p)
	return len(s.parts) - 1
}

// lastPart returns the index of the part a delta may extend. An auth
// checkpoint that arrived after the last part closes it.
func (s *State) lastPart() (int, bool) {
	if len(s.parts) == 0 {
		return -1, false
	}
	if n := len(s.auths); n > 0 && s.auths[n-1].anchor == len(s.parts) {
		return -1, false
	}
	return len(s.parts) - 1, true
}

func (s *State) touchIntegration(name string) {
	if name == "" {
		return
	}
	if _, ok := s.integrationOK[name]; ok {
		return
	}
	s.integrationOK[name] = struct{}{}
	s.integrations = append(s.integrations, name)
}

// clone returns a deep copy so that Reduce never aliases its input.
func (s State) clone() State {
	out := s
	out.parts = cloneParts(s.parts)
	out.files = cloneFiles(s.files)
	out.auths = make([]authCheckpoint, len(s.auths))
	for i, a := range s.auths {
		out.auths[i] = authCheckpoint{anchor: a.anchor, record: cloneAuth(a.record)}
	}
	out.integrations = slices.Clone(s.integrations)
	out.pending = slices.Clone(s.pending)
	out.usage = cloneRaw(s.usage)
	out.toolIndex = cloneMap(s.toolIndex)
	out.approvalIndex = cloneMap(s.approvalIndex)
	out.authIndex = cloneMap(s.authIndex)
	out.authKeys = cloneMap(s.authKeys)
	out.thinkingIDs = cloneMap(s.thinkingIDs)
	out.fileIndex = cloneMap(s.fileIndex)
	out.integrationOK = cloneMap(s.integrationOK)
	out.expanded = cloneMap(s.expanded)
	return out
}

func cloneParts(src []Part) []Part {
	out := make([]Part, len(src))
	for i, p := range src {
		out[i] = clonePart(p)
	}
	return out
}

func clonePart(p Part) Part {
	p.Input = cloneRaw(p.Input)
	p.Result = cloneRaw(p.Result)
	if p.Approval != nil {
		rec := cloneApproval(*p.Approval)
		p.Approval = &rec
	}
	if p.CompletedAt != nil {
		v := *p.CompletedAt
		p.CompletedAt = &v
	}
	return p
}

func cloneApproval(rec ApprovalRecord) ApprovalRecord {
	rec.ToolInput = cloneRaw(rec.ToolInput)
	return rec
}

func cloneAuth(rec AuthRecord) AuthRecord {
	rec.Integrations = nonNil(slices.Clone(rec.Integrations))
	rec.ConnectedIntegrations = nonNil(slices.Clone(rec.ConnectedIntegrations))
	rec.Remaining = slices.Clone(rec.Remaining)
	return rec
}

func cloneFiles(src []SandboxFile) []SandboxFile {
	out := make([]SandboxFile, len(src))
	for i, f := range src {
		if f.SizeBytes != nil {
			v := *f.SizeBytes
			f.SizeBytes = &v
		}
		out[i] = f
	}
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return slices.Clone(raw)
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	out := make(map[K]V, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
