// finalize.go - 冻结当前状态为可持久化的 assistant message + 活动统计。
package generation

import (
	"slices"
	"strings"
)

// AssistantMessage freezes the accumulated state. It is valid at any point of
// the lifecycle, including before the first event and after error/cancel.
func (s State) AssistantMessage() AssistantMessage {
	var content strings.Builder
	for _, p := range s.parts {
		if p.Type == PartText {
			content.WriteString(p.Content)
		}
	}
	return AssistantMessage{
		ID:               s.messageID,
		GenerationID:     s.scope.GenerationID,
		ConversationID:   s.scope.ConversationID,
		Content:          content.String(),
		Parts:            cloneParts(s.parts),
		IntegrationsUsed: nonNil(slices.Clone(s.integrations)),
		SandboxFiles:     cloneFiles(s.files),
		Status:           s.status,
		Usage:            cloneRaw(s.usage),
	}
}

// ActivityStats aggregates tool activity. Read-only.
func (s State) ActivityStats() ActivityStats {
	stats := ActivityStats{
		ByTool:          map[string]int64{},
		ByIntegration:   map[string]int64{},
		AuthCheckpoints: len(s.auths),
	}
	for _, p := range s.parts {
		switch p.Type {
		case PartToolCall:
			stats.TotalToolCalls++
			if p.Name != "" {
				stats.ByTool[p.Name]++
			}
			if p.Integration != "" {
				stats.ByIntegration[p.Integration]++
			}
			switch toolStatus(p, s.status) {
			case ItemRunning:
				stats.RunningToolCalls++
			case ItemComplete:
				stats.CompletedToolCalls++
			case ItemError:
				stats.FailedToolCalls++
			case ItemInterrupted:
				stats.InterruptedToolCalls++
			}
			if p.CompletedAt != nil && !p.CreatedAt.IsZero() && p.CompletedAt.After(p.CreatedAt) {
				stats.TotalDurationMS += p.CompletedAt.Sub(p.CreatedAt).Milliseconds()
			}
		case PartApproval:
			switch p.Approval.Status {
			case ApprovalApproved:
				stats.Approvals.Approved++
			case ApprovalDenied:
				stats.Approvals.Denied++
			default:
				stats.Approvals.Pending++
			}
		}
	}
	return stats
}
