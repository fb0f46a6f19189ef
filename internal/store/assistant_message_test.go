package store

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/multi-agent/genruntime/internal/generation"
)

// TestAssistantMessageRowLossless 行转换必须无损: Get 回读的消息会替换内存中的消息。
func TestAssistantMessageRowLossless(t *testing.T) {
	created := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	completed := created.Add(1500 * time.Millisecond)
	size := int64(2048)

	reduced := generation.ReduceAll(
		generation.NewState(generation.Scope{GenerationID: "g-r", ConversationID: "c-r"}),
		generation.TextDelta("Checking your inbox. "),
		generation.ToolUse("t1", "gmail_search", json.RawMessage(`{"q":"from:boss"}`)),
		generation.ToolResult("t1", nil),
		generation.PendingApproval("t2", "gmail_send", json.RawMessage(`{"to":"a@b.c"}`), "gmail", "send"),
		generation.ApprovalResult("t2", generation.ApprovalDenied),
		generation.Failed(""),
	).AssistantMessage()
	reduced.ID = "m-reduced"

	tests := []struct {
		name string
		msg  generation.AssistantMessage
		want *generation.AssistantMessage // nil 表示与输入完全一致
	}{
		{
			name: "approval and tool parts",
			msg: generation.AssistantMessage{
				ID:             "m1",
				GenerationID:   "g1",
				ConversationID: "c1",
				Content:        "Sent.",
				Parts: []generation.Part{
					{Type: generation.PartThinking, ID: "r1", Content: "plan", Ordinal: 1, CreatedAt: created},
					{
						Type: generation.PartToolCall, ID: "t1", Name: "gmail_send",
						Input:       json.RawMessage(`{"to":"a@b.c"}`),
						Result:      json.RawMessage(`{"id":"msg-9"}`),
						Integration: "gmail", Operation: "send",
						Ordinal: 2, CreatedAt: created, CompletedAt: &completed,
					},
					{
						Type: generation.PartApproval, ID: "approval-t1", Ordinal: 3, CreatedAt: created,
						Approval: &generation.ApprovalRecord{
							ToolUseID:   "t1",
							ToolName:    "gmail_send",
							ToolInput:   json.RawMessage(`{"to":"a@b.c"}`),
							Integration: "gmail",
							Operation:   "send",
							Status:      generation.ApprovalApproved,
						},
					},
					{Type: generation.PartText, ID: "text-4", Content: "Sent.", Ordinal: 4, CreatedAt: created},
				},
				IntegrationsUsed: []string{"gmail"},
				SandboxFiles: []generation.SandboxFile{
					{FileID: "f1", Path: "/out/report.csv", Filename: "report.csv", MimeType: "text/csv", SizeBytes: &size},
					{FileID: "f2", Path: "/out/notes.md"},
				},
				Status: generation.TraceComplete,
				Usage:  json.RawMessage(`{"inputTokens":12,"outputTokens":30}`),
			},
		},
		{
			name: "tool error result",
			msg: generation.AssistantMessage{
				ID: "m2",
				Parts: []generation.Part{
					{Type: generation.PartToolCall, ID: "t1", Name: "Bash", Result: json.RawMessage(`"exit 1"`), IsError: true, Ordinal: 1},
					{Type: generation.PartSystem, ID: "system-2", Content: "An error occurred", Ordinal: 2},
				},
				IntegrationsUsed: []string{},
				SandboxFiles:     []generation.SandboxFile{},
				Status:           generation.TraceError,
			},
		},
		{
			name: "nil lists and null usage",
			msg: generation.AssistantMessage{
				ID:     "m3",
				Status: generation.TraceCancelled,
				Usage:  json.RawMessage("null"),
			},
			want: &generation.AssistantMessage{
				ID:               "m3",
				Parts:            []generation.Part{},
				IntegrationsUsed: []string{},
				SandboxFiles:     []generation.SandboxFile{},
				Status:           generation.TraceCancelled,
			},
		},
		{
			name: "reducer output",
			msg:  reduced,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := toRow(tt.msg)
			if err != nil {
				t.Fatalf("toRow: %v", err)
			}
			got, err := row.toMessage()
			if err != nil {
				t.Fatalf("toMessage: %v", err)
			}
			want := tt.msg
			if tt.want != nil {
				want = *tt.want
			}
			if !reflect.DeepEqual(got, want) {
				gotJSON, _ := json.Marshal(got)
				wantJSON, _ := json.Marshal(want)
				t.Fatalf("round trip mismatch\n got: %s\nwant: %s", gotJSON, wantJSON)
			}
		})
	}
}

func TestAssistantMessageRowReducerOutputShape(t *testing.T) {
	msg := generation.ReduceAll(
		generation.NewState(generation.Scope{GenerationID: "g", ConversationID: "c"}),
		generation.PendingApproval("t1", "send", nil, "slack", "post"),
		generation.ApprovalResult("t1", generation.ApprovalApproved),
		generation.Done("", "", "m-9"),
	).AssistantMessage()

	row, err := toRow(msg)
	if err != nil {
		t.Fatalf("toRow: %v", err)
	}
	got, err := row.toMessage()
	if err != nil {
		t.Fatalf("toMessage: %v", err)
	}
	if len(got.Parts) != 1 || got.Parts[0].Approval == nil {
		t.Fatalf("parts = %+v, want one approval part", got.Parts)
	}
	if got.Parts[0].Approval.Status != generation.ApprovalApproved || got.Parts[0].Approval.Integration != "slack" {
		t.Fatalf("approval = %+v", got.Parts[0].Approval)
	}
	if got.ID != "m-9" || got.Status != generation.TraceComplete {
		t.Fatalf("message = %+v", got)
	}
}
