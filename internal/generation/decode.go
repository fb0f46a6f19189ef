// decode.go - JSON 帧 → Event。
package generation

import (
	"encoding/json"
	"strings"

	apperrors "github.com/multi-agent/genruntime/pkg/errors"
)

// kindAliases maps alternative wire names onto canonical kinds.
var kindAliases = map[string]EventKind{
	"tool_call":       EventToolUse,
	"approval_needed": EventPendingApproval,
	"file":            EventSandboxFile,
	"status":          EventStatusChange,
	"complete":        EventDone,
}

// Envelope is the routing header present on every frame.
type Envelope struct {
	Kind           EventKind `json:"type"`
	GenerationID   string    `json:"generationId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Seq            int64     `json:"seq,omitempty"`
}

// Scope returns the scope tags carried by the frame.
func (e Envelope) Scope() Scope {
	return Scope{GenerationID: e.GenerationID, ConversationID: e.ConversationID}
}

// ParseKind normalizes a wire type name. ok is false for unknown kinds.
func ParseKind(name string) (EventKind, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if kind, ok := kindAliases[name]; ok {
		return kind, true
	}
	kind := EventKind(name)
	if _, ok := eventHandlers[kind]; ok {
		return kind, true
	}
	return "", false
}

// DecodeEnvelope reads only the routing header of a frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, apperrors.Wrap(apperrors.ErrInvalidInput, "generation.DecodeEnvelope", err.Error())
	}
	kind, ok := ParseKind(string(env.Kind))
	if !ok {
		return env, apperrors.Wrapf(apperrors.ErrUnknownEvent, "generation.DecodeEnvelope", "type %q", env.Kind)
	}
	env.Kind = kind
	return env, nil
}

// flatFile accepts sandbox_file payloads that inline the file fields.
type flatFile struct {
	FileID    string `json:"fileId"`
	Path      string `json:"path"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType"`
	SizeBytes *int64 `json:"sizeBytes"`
}

// DecodeEvent decodes one JSON frame into an Event. Unknown types yield an
// error wrapping ErrUnknownEvent; the caller is expected to log and drop.
func DecodeEvent(data []byte) (Event, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return Event{}, err
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, apperrors.Wrap(apperrors.ErrInvalidInput, "generation.DecodeEvent", err.Error())
	}
	ev.Kind = env.Kind
	if ev.Kind == EventSandboxFile && ev.File == (SandboxFile{}) {
		var f flatFile
		if err := json.Unmarshal(data, &f); err == nil {
			ev.File = SandboxFile(f)
		}
	}
	return ev, nil
}
