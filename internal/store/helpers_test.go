// helpers_test.go — QueryBuilder + 行转换表驱动测试。
package store

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/multi-agent/genruntime/internal/generation"
)

func TestQueryBuilderEq(t *testing.T) {
	t.Run("skips_empty", func(t *testing.T) {
		qb := NewQueryBuilder()
		qb.Eq("status", "")
		if clause := qb.WhereClause(); clause != "" {
			t.Errorf("expected empty WHERE, got %q", clause)
		}
	})

	t.Run("adds_condition", func(t *testing.T) {
		qb := NewQueryBuilder()
		qb.Eq("status", "complete")
		if clause := qb.WhereClause(); !strings.Contains(clause, "status = $1") {
			t.Errorf("expected 'status = $1' in WHERE, got %q", clause)
		}
		params := qb.Params()
		if len(params) != 1 || params[0] != "complete" {
			t.Errorf("expected params [complete], got %v", params)
		}
	})

	t.Run("multiple_conditions", func(t *testing.T) {
		qb := NewQueryBuilder()
		qb.Eq("conversation_id", "c1").Eq("status", "error")
		clause := qb.WhereClause()
		if !strings.Contains(clause, "conversation_id = $1") || !strings.Contains(clause, "status = $2") {
			t.Errorf("expected both conditions, got %q", clause)
		}
	})
}

func TestQueryBuilderBefore(t *testing.T) {
	qb := NewQueryBuilder().Before("created_at", time.Time{})
	if qb.WhereClause() != "" {
		t.Fatalf("zero time should be skipped, got %q", qb.WhereClause())
	}
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	qb.Eq("conversation_id", "c1").Before("created_at", ts)
	if clause := qb.WhereClause(); !strings.Contains(clause, "created_at < $2") {
		t.Fatalf("clause = %q", clause)
	}
	if qb.Params()[1] != ts {
		t.Fatalf("params = %v", qb.Params())
	}
}

func TestQueryBuilderBuild(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		wantLimit int
	}{
		{"normal", 20, 20},
		{"zero clamps to 1", 0, 1},
		{"over max clamps", 10000, maxListLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params := NewQueryBuilder().Eq("conversation_id", "c1").
				Build("SELECT id FROM assistant_messages", "created_at DESC", tt.limit)
			want := "SELECT id FROM assistant_messages WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2"
			if sql != want {
				t.Errorf("sql = %q, want %q", sql, want)
			}
			if len(params) != 2 || params[1] != tt.wantLimit {
				t.Errorf("params = %v, want limit %d", params, tt.wantLimit)
			}
		})
	}
}

func TestAssistantMessageRowRoundTrip(t *testing.T) {
	size := int64(42)
	msg := generation.AssistantMessage{
		ID:             "m1",
		GenerationID:   "g1",
		ConversationID: "c1",
		Content:        "hello",
		Parts: []generation.Part{
			{Type: generation.PartText, ID: "text-1", Content: "hello", Ordinal: 1},
			{Type: generation.PartToolCall, ID: "t1", Name: "Search", Result: json.RawMessage(`"ok"`), Ordinal: 2},
		},
		IntegrationsUsed: []string{"gmail"},
		SandboxFiles:     []generation.SandboxFile{{FileID: "f1", Path: "/out/a.csv", SizeBytes: &size}},
		Status:           generation.TraceComplete,
		Usage:            json.RawMessage(`{"outputTokens":3}`),
	}

	row, err := toRow(msg)
	if err != nil {
		t.Fatalf("toRow: %v", err)
	}
	if row.Status != "complete" || string(row.IntegrationsUsed) != `["gmail"]` {
		t.Fatalf("row = %+v", row)
	}

	got, err := row.toMessage()
	if err != nil {
		t.Fatalf("toMessage: %v", err)
	}
	if got.ID != "m1" || got.Content != "hello" || got.Status != generation.TraceComplete {
		t.Fatalf("message = %+v", got)
	}
	if len(got.Parts) != 2 || got.Parts[1].Name != "Search" || string(got.Parts[1].Result) != `"ok"` {
		t.Fatalf("parts = %+v", got.Parts)
	}
	if len(got.SandboxFiles) != 1 || *got.SandboxFiles[0].SizeBytes != 42 {
		t.Fatalf("files = %+v", got.SandboxFiles)
	}
	if string(got.Usage) != `{"outputTokens":3}` {
		t.Fatalf("usage = %s", got.Usage)
	}
}

func TestAssistantMessageRowEmptyLists(t *testing.T) {
	row, err := toRow(generation.AssistantMessage{ID: "m2", Status: generation.TraceCancelled})
	if err != nil {
		t.Fatalf("toRow: %v", err)
	}
	if string(row.Parts) != "[]" || string(row.SandboxFiles) != "[]" {
		t.Fatalf("nil lists should persist as [], got parts=%s files=%s", row.Parts, row.SandboxFiles)
	}

	row.Parts = nil
	row.Usage = json.RawMessage("null")
	got, err := row.toMessage()
	if err != nil {
		t.Fatalf("toMessage: %v", err)
	}
	if got.Parts == nil || got.IntegrationsUsed == nil || got.SandboxFiles == nil {
		t.Fatalf("lists should be non-nil: %+v", got)
	}
	if got.Usage != nil {
		t.Fatalf("usage = %s, want nil", got.Usage)
	}
}

func TestAssistantMessageRowBadJSON(t *testing.T) {
	row := assistantMessageRow{ID: "m3", Parts: json.RawMessage(`{"not":"a list"}`)}
	if _, err := row.toMessage(); err == nil {
		t.Fatal("expected unmarshal error")
	}
}
