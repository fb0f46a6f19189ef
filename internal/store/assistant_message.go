// assistant_message.go — 终态 assistant 消息持久化 (assistant_messages 表)。
package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/multi-agent/genruntime/internal/generation"
	apperrors "github.com/multi-agent/genruntime/pkg/errors"
)

// AssistantMessageStore 持久化 generation.AssistantMessage。
// parts / sandbox_files / integrations_used 以 JSONB 存储。
type AssistantMessageStore struct{ BaseStore }

// NewAssistantMessageStore 创建 AssistantMessageStore。
func NewAssistantMessageStore(pool *pgxpool.Pool) *AssistantMessageStore {
	return &AssistantMessageStore{NewBaseStore(pool)}
}

// assistantMessageRow 与表结构一一对应。
type assistantMessageRow struct {
	ID               string          `db:"id"`
	GenerationID     string          `db:"generation_id"`
	ConversationID   string          `db:"conversation_id"`
	Content          string          `db:"content"`
	Parts            json.RawMessage `db:"parts"`
	IntegrationsUsed json.RawMessage `db:"integrations_used"`
	SandboxFiles     json.RawMessage `db:"sandbox_files"`
	Status           string          `db:"status"`
	Usage            json.RawMessage `db:"usage"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

const assistantMessageColumns = `id, generation_id, conversation_id, content, parts,
	integrations_used, sandbox_files, status, usage, created_at, updated_at`

func toRow(msg generation.AssistantMessage) (assistantMessageRow, error) {
	row := assistantMessageRow{
		ID:             msg.ID,
		GenerationID:   msg.GenerationID,
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		Status:         string(msg.Status),
		Usage:          msg.Usage,
	}
	var err error
	if row.Parts, err = marshalList(msg.Parts); err != nil {
		return row, err
	}
	if row.IntegrationsUsed, err = marshalList(msg.IntegrationsUsed); err != nil {
		return row, err
	}
	if row.SandboxFiles, err = marshalList(msg.SandboxFiles); err != nil {
		return row, err
	}
	return row, nil
}

// marshalList 保证 nil 切片落库为 [] 而非 null。
func marshalList[T any](list []T) (json.RawMessage, error) {
	if list == nil {
		list = []T{}
	}
	return json.Marshal(list)
}

func (r assistantMessageRow) toMessage() (generation.AssistantMessage, error) {
	msg := generation.AssistantMessage{
		ID:               r.ID,
		GenerationID:     r.GenerationID,
		ConversationID:   r.ConversationID,
		Content:          r.Content,
		Status:           generation.TraceStatus(r.Status),
		Parts:            []generation.Part{},
		IntegrationsUsed: []string{},
		SandboxFiles:     []generation.SandboxFile{},
	}
	if len(r.Usage) > 0 && string(r.Usage) != "null" {
		msg.Usage = r.Usage
	}
	if err := unmarshalList(r.Parts, &msg.Parts); err != nil {
		return msg, err
	}
	if err := unmarshalList(r.IntegrationsUsed, &msg.IntegrationsUsed); err != nil {
		return msg, err
	}
	if err := unmarshalList(r.SandboxFiles, &msg.SandboxFiles); err != nil {
		return msg, err
	}
	return msg, nil
}

func unmarshalList[T any](raw json.RawMessage, dst *[]T) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return err
	}
	if *dst == nil {
		*dst = []T{}
	}
	return nil
}

// Save 按 id upsert 一条消息。
func (s *AssistantMessageStore) Save(ctx context.Context, msg generation.AssistantMessage) error {
	if msg.ID == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "AssistantMessageStore.Save", "message id is required")
	}
	row, err := toRow(msg)
	if err != nil {
		return apperrors.Wrap(err, "AssistantMessageStore.Save", "marshal message")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO assistant_messages
			(id, generation_id, conversation_id, content, parts, integrations_used, sandbox_files, status, usage, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			parts = EXCLUDED.parts,
			integrations_used = EXCLUDED.integrations_used,
			sandbox_files = EXCLUDED.sandbox_files,
			status = EXCLUDED.status,
			usage = EXCLUDED.usage,
			updated_at = NOW()
	`, row.ID, row.GenerationID, row.ConversationID, row.Content,
		row.Parts, row.IntegrationsUsed, row.SandboxFiles, row.Status, row.Usage)
	if err != nil {
		return apperrors.WrapCode(err, "AssistantMessageStore.Save", apperrors.CodeDB, "upsert assistant message")
	}
	return nil
}

// Get 按 id 读取一条消息。不存在时返回包装 ErrNotFound 的错误。
func (s *AssistantMessageStore) Get(ctx context.Context, id string) (generation.AssistantMessage, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+assistantMessageColumns+" FROM assistant_messages WHERE id = $1", id)
	if err != nil {
		return generation.AssistantMessage{}, apperrors.WrapCode(err, "AssistantMessageStore.Get", apperrors.CodeDB, "query assistant message")
	}
	row, err := collectOne[assistantMessageRow](rows)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return generation.AssistantMessage{}, apperrors.Wrapf(apperrors.ErrNotFound, "AssistantMessageStore.Get", "message %s", id)
		}
		return generation.AssistantMessage{}, apperrors.WrapCode(err, "AssistantMessageStore.Get", apperrors.CodeDB, "scan assistant message")
	}
	msg, err := row.toMessage()
	if err != nil {
		return generation.AssistantMessage{}, apperrors.Wrap(err, "AssistantMessageStore.Get", "unmarshal assistant message")
	}
	return msg, nil
}

// ListFilter 列表查询条件。
type ListFilter struct {
	ConversationID string
	Status         string
	Before         time.Time // 游标: 只返回更早的消息
	Limit          int
}

// List 按 created_at 倒序列出消息。
func (s *AssistantMessageStore) List(ctx context.Context, f ListFilter) ([]generation.AssistantMessage, error) {
	sql, params := NewQueryBuilder().
		Eq("conversation_id", f.ConversationID).
		Eq("status", f.Status).
		Before("created_at", f.Before).
		Build("SELECT "+assistantMessageColumns+" FROM assistant_messages", "created_at DESC, id", f.Limit)

	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, apperrors.WrapCode(err, "AssistantMessageStore.List", apperrors.CodeDB, "query assistant messages")
	}
	items, err := collectRows[assistantMessageRow](rows)
	if err != nil {
		return nil, apperrors.WrapCode(err, "AssistantMessageStore.List", apperrors.CodeDB, "scan assistant messages")
	}
	out := make([]generation.AssistantMessage, 0, len(items))
	for _, r := range items {
		msg, err := r.toMessage()
		if err != nil {
			return nil, apperrors.Wrapf(err, "AssistantMessageStore.List", "unmarshal message %s", r.ID)
		}
		out = append(out, msg)
	}
	return out, nil
}

// ListByConversation 列出某会话最近 limit 条消息。
func (s *AssistantMessageStore) ListByConversation(ctx context.Context, conversationID string, limit int) ([]generation.AssistantMessage, error) {
	if conversationID == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "AssistantMessageStore.ListByConversation", "conversation id is required")
	}
	return s.List(ctx, ListFilter{ConversationID: conversationID, Limit: limit})
}
