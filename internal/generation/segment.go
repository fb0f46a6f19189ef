// segment.go - 把 part 序列切分为 segment (activity run + 至多一个 checkpoint)。
package generation

import "fmt"

// buildSegments walks parts in order. An approval part seals the open segment
// as its checkpoint; an auth checkpoint seals it at its anchor position. The
// final open tail is always emitted, possibly empty.
func (s *State) buildSegments() []Segment {
	var (
		out  []Segment
		cur  Segment
		next int
		last = len(s.parts) - 1
	)
	seal := func() {
		n := len(out) + 1
		cur.ID = fmt.Sprintf("segment-%d", n)
		out = append(out, cur)
		cur = Segment{}
	}
	flushAuth := func(at int) {
		for next < len(s.auths) && s.auths[next].anchor <= at {
			rec := cloneAuth(s.auths[next].record)
			cur.Auth = &rec
			seal()
			next++
		}
	}

	for i := range s.parts {
		flushAuth(i)
		p := &s.parts[i]
		if p.Type == PartApproval {
			rec := cloneApproval(*p.Approval)
			cur.Approval = &rec
			seal()
			continue
		}
		cur.Items = append(cur.Items, s.itemFor(p, i == last))
	}
	flushAuth(len(s.parts))
	seal()

	for i := range out {
		if out[i].Items == nil {
			out[i].Items = []ActivityItem{}
		}
		expanded := i == len(out)-1 && !s.status.Terminal()
		if v, ok := s.expanded[out[i].ID]; ok {
			expanded = v
		}
		out[i].IsExpanded = expanded
	}
	return out
}

func (s *State) itemFor(p *Part, isLast bool) ActivityItem {
	item := ActivityItem{
		ID:      p.ID,
		Ordinal: p.Ordinal,
		Ts:      p.CreatedAt,
		Type:    p.Type,
		Content: p.Content,
	}
	if p.Type == PartToolCall {
		item.ToolName = p.Name
		item.ToolInput = cloneRaw(p.Input)
		item.ToolResult = cloneRaw(p.Result)
		item.Integration = p.Integration
		item.Operation = p.Operation
		item.Status = toolStatus(*p, s.status)
		return item
	}
	item.Status = ItemComplete
	if isLast && !s.status.Terminal() {
		item.Status = ItemRunning
	}
	return item
}

// toolStatus derives the display status of a tool call. A call left without a
// result by cancellation is interrupted, never running.
func toolStatus(p Part, status TraceStatus) ItemStatus {
	if p.HasResult() {
		if p.IsError {
			return ItemError
		}
		return ItemComplete
	}
	switch status {
	case TraceCancelled:
		return ItemInterrupted
	case TraceError:
		return ItemError
	case TraceComplete:
		return ItemComplete
	default:
		return ItemRunning
	}
}

// DisplayBlockKind distinguishes activity runs from checkpoint cards.
type DisplayBlockKind string

const (
	BlockActivity   DisplayBlockKind = "activity"
	BlockCheckpoint DisplayBlockKind = "checkpoint"
)

// DisplayBlock is one renderable unit derived from a segment.
type DisplayBlock struct {
	Kind      DisplayBlockKind `json:"kind"`
	SegmentID string           `json:"segmentId"`
	Items     []ActivityItem   `json:"items,omitempty"`
	Approval  *ApprovalRecord  `json:"approval,omitempty"`
	Auth      *AuthRecord      `json:"auth,omitempty"`
}

// DisplayBlocks flattens segments into render order. When a checkpoint's own
// segment has no activity, the checkpoint is shown after the following
// segment's activity. Segment order itself is never changed and segs is not
// modified.
func DisplayBlocks(segs []Segment) []DisplayBlock {
	out := make([]DisplayBlock, 0, 2*len(segs))
	for i := 0; i < len(segs); i++ {
		seg := segs[i]
		if len(seg.Items) == 0 && seg.HasCheckpoint() && i+1 < len(segs) && len(segs[i+1].Items) > 0 {
			following := segs[i+1]
			out = append(out, activityBlock(following), checkpointBlock(seg))
			if following.HasCheckpoint() {
				out = append(out, checkpointBlock(following))
			}
			i++
			continue
		}
		if len(seg.Items) > 0 {
			out = append(out, activityBlock(seg))
		}
		if seg.HasCheckpoint() {
			out = append(out, checkpointBlock(seg))
		}
	}
	return out
}

func activityBlock(seg Segment) DisplayBlock {
	return DisplayBlock{Kind: BlockActivity, SegmentID: seg.ID, Items: seg.Items}
}

func checkpointBlock(seg Segment) DisplayBlock {
	return DisplayBlock{Kind: BlockCheckpoint, SegmentID: seg.ID, Approval: seg.Approval, Auth: seg.Auth}
}
