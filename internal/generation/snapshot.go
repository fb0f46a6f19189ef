// snapshot.go - 只读投影 (深拷贝, 调用方修改不会回写 runtime)。
package generation

import "slices"

// Snapshot projects s into a deep copy for rendering.
func (s State) Snapshot() Snapshot {
	return Snapshot{
		Scope:             s.scope,
		Parts:             cloneParts(s.parts),
		Segments:          s.buildSegments(),
		IntegrationsUsed:  nonNil(slices.Clone(s.integrations)),
		SandboxFiles:      cloneFiles(s.files),
		TraceStatus:       s.status,
		StatusLabel:       s.statusLabel,
		ErrorMessage:      s.errorMessage,
		MessageID:         s.messageID,
		Usage:             cloneRaw(s.usage),
		PendingCheckpoint: s.pendingHead(),
		Seq:               s.seq,
	}
}

// PendingApproval returns the approval record awaiting a decision for
// toolUseID, if any.
func (s Snapshot) PendingApproval(toolUseID string) (ApprovalRecord, bool) {
	for _, p := range s.Parts {
		if p.Type == PartApproval && p.Approval != nil && p.Approval.ToolUseID == toolUseID {
			return *p.Approval, p.Approval.Status == ApprovalPending
		}
	}
	return ApprovalRecord{}, false
}

// Auths returns the auth records in arrival order.
func (s Snapshot) Auths() []AuthRecord {
	var out []AuthRecord
	for _, seg := range s.Segments {
		if seg.Auth != nil {
			out = append(out, *seg.Auth)
		}
	}
	return out
}
