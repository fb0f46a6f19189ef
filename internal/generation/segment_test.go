package generation

import (
	"encoding/json"
	"testing"
)

// segmentShape 把 segment 压缩为 (item ids, checkpoint) 便于断言。
type segmentShape struct {
	items      []string
	checkpoint string
}

func shapeOf(segs []Segment) []segmentShape {
	out := make([]segmentShape, len(segs))
	for i, seg := range segs {
		for _, item := range seg.Items {
			out[i].items = append(out[i].items, item.ID)
		}
		switch {
		case seg.Approval != nil:
			out[i].checkpoint = "approval:" + seg.Approval.ToolUseID
		case seg.Auth != nil:
			out[i].checkpoint = "auth:" + seg.Auth.ID
		}
	}
	return out
}

func assertShape(t *testing.T, segs []Segment, want []segmentShape) {
	t.Helper()
	got := shapeOf(segs)
	if len(got) != len(want) {
		t.Fatalf("segments = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i].checkpoint != want[i].checkpoint || len(got[i].items) != len(want[i].items) {
			t.Fatalf("segment[%d] = %+v, want %+v", i, got[i], want[i])
		}
		for j := range want[i].items {
			if got[i].items[j] != want[i].items[j] {
				t.Fatalf("segment[%d].items = %v, want %v", i, got[i].items, want[i].items)
			}
		}
	}
}

func TestSegmentsSplitAtCheckpoints(t *testing.T) {
	rt := newTestRuntime()
	rt.Apply(TextDelta("a"))                               // 1 text-1
	rt.Apply(ToolUse("x", "Bash", nil))                    // 2
	rt.Apply(PendingApproval("t1", "send", nil, "", ""))   // 3
	rt.Apply(ApprovalResult("t1", ApprovalApproved))       // 4
	rt.Apply(ToolResult("x", json.RawMessage(`"ok"`)))     // 5
	rt.Apply(TextDelta("b"))                               // 6 text-6
	rt.Apply(AuthNeeded([]string{"gmail"}, ""))            // 7
	rt.Apply(TextDelta("c"))                               // 8 text-8
	rt.Apply(AuthResult(true))                             // 9

	snap := rt.Snapshot()
	assertShape(t, snap.Segments, []segmentShape{
		{items: []string{"text-1", "x"}, checkpoint: "approval:t1"},
		{items: []string{"text-6"}, checkpoint: "auth:auth-1"},
		{items: []string{"text-8"}},
	})
	for i, seg := range snap.Segments {
		want := "segment-" + string(rune('1'+i))
		if seg.ID != want {
			t.Errorf("segment[%d].ID = %q, want %q", i, seg.ID, want)
		}
	}
	if !snap.Segments[2].IsExpanded || snap.Segments[0].IsExpanded {
		t.Fatal("only the open tail should be expanded while streaming")
	}
	tail := snap.Segments[2].Items[0]
	if tail.Status != ItemRunning {
		t.Fatalf("streaming tail text status = %s, want running", tail.Status)
	}
	if snap.Segments[0].Items[0].Status != ItemComplete {
		t.Fatal("sealed text should be complete")
	}
}

func TestSegmentsAuthAtEndAndBackToBack(t *testing.T) {
	rt := newTestRuntime()
	rt.Apply(PendingApproval("t1", "x", nil, "", ""))
	rt.Apply(PendingApproval("t2", "y", nil, "", ""))
	rt.Apply(AuthNeeded([]string{"gmail"}, ""))

	assertShape(t, rt.Snapshot().Segments, []segmentShape{
		{checkpoint: "approval:t1"},
		{checkpoint: "approval:t2"},
		{checkpoint: "auth:auth-1"},
		{},
	})
}

func TestSegmentExpandOverride(t *testing.T) {
	rt := newTestRuntime()
	rt.Apply(PendingApproval("t1", "x", nil, "", ""))
	mustApplied(t, rt.SetSegmentExpanded("segment-1", true))
	mustIgnored(t, rt.SetSegmentExpanded("segment-1", true), ReasonDuplicate)
	mustIgnored(t, rt.SetSegmentExpanded("", true), ReasonInvalid)
	mustApplied(t, rt.SetSegmentExpanded("segment-2", false))

	segs := rt.Snapshot().Segments
	if !segs[0].IsExpanded || segs[1].IsExpanded {
		t.Fatalf("expanded = %v/%v, want true/false", segs[0].IsExpanded, segs[1].IsExpanded)
	}

	rt.Apply(Done("", "", ""))
	// 终态后仍可展开/折叠
	mustApplied(t, rt.SetSegmentExpanded("segment-2", true))
	if !rt.Snapshot().Segments[1].IsExpanded {
		t.Fatal("override should survive terminal status")
	}
}

func TestToolStatus(t *testing.T) {
	withResult := Part{Type: PartToolCall, Result: json.RawMessage(`1`)}
	failed := Part{Type: PartToolCall, Result: json.RawMessage(`1`), IsError: true}
	open := Part{Type: PartToolCall}

	tests := []struct {
		name   string
		part   Part
		status TraceStatus
		want   ItemStatus
	}{
		{"resolved streaming", withResult, TraceStreaming, ItemComplete},
		{"resolved cancelled", withResult, TraceCancelled, ItemComplete},
		{"failed", failed, TraceComplete, ItemError},
		{"open streaming", open, TraceStreaming, ItemRunning},
		{"open waiting", open, TraceWaitingApproval, ItemRunning},
		{"open cancelled", open, TraceCancelled, ItemInterrupted},
		{"open error", open, TraceError, ItemError},
		{"open complete", open, TraceComplete, ItemComplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toolStatus(tt.part, tt.status); got != tt.want {
				t.Errorf("toolStatus = %s, want %s", got, tt.want)
			}
		})
	}
}

func blockKinds(blocks []DisplayBlock) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = string(b.Kind) + ":" + b.SegmentID
	}
	return out
}

func TestDisplayBlocksDefersEmptyCheckpoint(t *testing.T) {
	segs := []Segment{
		{ID: "segment-1", Approval: &ApprovalRecord{ToolUseID: "t1", Status: ApprovalApproved}},
		{ID: "segment-2", Items: []ActivityItem{{ID: "a"}}, Auth: &AuthRecord{ID: "auth-1"}},
		{ID: "segment-3", Items: []ActivityItem{{ID: "b"}}},
	}
	got := blockKinds(DisplayBlocks(segs))
	want := []string{
		"activity:segment-2",
		"checkpoint:segment-1",
		"checkpoint:segment-2",
		"activity:segment-3",
	}
	if len(got) != len(want) {
		t.Fatalf("blocks = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("blocks = %v, want %v", got, want)
		}
	}
	// 输入不可被修改
	if segs[0].ID != "segment-1" || len(segs[1].Items) != 1 {
		t.Fatal("DisplayBlocks mutated its input")
	}
}

func TestDisplayBlocksKeepsChronologyOtherwise(t *testing.T) {
	segs := []Segment{
		{ID: "segment-1", Items: []ActivityItem{{ID: "a"}}, Approval: &ApprovalRecord{ToolUseID: "t1"}},
		{ID: "segment-2", Approval: &ApprovalRecord{ToolUseID: "t2"}},
		{ID: "segment-3"},
	}
	got := blockKinds(DisplayBlocks(segs))
	want := []string{"activity:segment-1", "checkpoint:segment-1", "checkpoint:segment-2"}
	if len(got) != len(want) {
		t.Fatalf("blocks = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("blocks = %v, want %v", got, want)
		}
	}
}
