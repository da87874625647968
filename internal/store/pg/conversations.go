package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bazaar.app/internal/conversation"
)

type conversationStore struct {
	db *sql.DB
}

func (s conversationStore) Save(ctx context.Context, c conversation.Conversation) (conversation.Conversation, error) {
	if err := c.Validate(); err != nil {
		return conversation.Conversation{}, err
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		insert into conversations(item_id, buyer_id, created_at, updated_at)
		values ($1, $2, $3, $4)
		returning id
	`, c.ItemID, c.BuyerID, c.CreatedAt, c.UpdatedAt).Scan(&id)
	if err != nil {
		return conversation.Conversation{}, conversation.WriteError("save conversation", err)
	}
	if id == 0 {
		return conversation.Conversation{}, conversation.WriteError("save conversation", errors.New("no id generated"))
	}
	c.ID = id
	return c, nil
}

func (s conversationStore) FindByID(ctx context.Context, id int64) (conversation.Conversation, error) {
	var c conversation.Conversation
	err := s.db.QueryRowContext(ctx, `
		select id, item_id, buyer_id, created_at, updated_at
		from conversations where id = $1
	`, id).Scan(&c.ID, &c.ItemID, &c.BuyerID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("find conversation: %w", err)
	}
	return normalizeConversation(c), nil
}

// Delete relies on the messages foreign key cascade.
func (s conversationStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from conversations where id = $1`, id)
	if err != nil {
		return conversation.WriteError("delete conversation", err)
	}
	return affected(res, "delete conversation")
}

func (s conversationStore) Touch(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update conversations set updated_at = $2 where id = $1`, id, at.UTC())
	if err != nil {
		return conversation.WriteError("touch conversation", err)
	}
	return affected(res, "touch conversation")
}

func (s conversationStore) ListByBuyer(ctx context.Context, buyerID int64) ([]conversation.Conversation, error) {
	return s.list(ctx, `buyer_id`, buyerID)
}

func (s conversationStore) ListByItem(ctx context.Context, itemID int64) ([]conversation.Conversation, error) {
	return s.list(ctx, `item_id`, itemID)
}

func (s conversationStore) list(ctx context.Context, column string, value int64) ([]conversation.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, item_id, buyer_id, created_at, updated_at
		from conversations where `+column+` = $1
		order by updated_at desc, id desc
	`, value)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []conversation.Conversation
	for rows.Next() {
		var c conversation.Conversation
		if err := rows.Scan(&c.ID, &c.ItemID, &c.BuyerID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, normalizeConversation(c))
	}
	return out, rows.Err()
}

type messageStore struct {
	db *sql.DB
}

const messageColumns = `id, conversation_id, sender_id, content, sent_at, is_read`

func (s messageStore) Save(ctx context.Context, m conversation.Message) (conversation.Message, error) {
	if err := m.Validate(); err != nil {
		return conversation.Message{}, err
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		insert into messages(conversation_id, sender_id, content, sent_at, is_read)
		values ($1, $2, $3, $4, $5)
		returning id
	`, m.ConversationID, m.SenderID, m.Content, m.SentAt, m.IsRead).Scan(&id)
	if err != nil {
		return conversation.Message{}, conversation.WriteError("save message", err)
	}
	if id == 0 {
		return conversation.Message{}, conversation.WriteError("save message", errors.New("no id generated"))
	}
	m.ID = id
	return m, nil
}

func (s messageStore) FindByID(ctx context.Context, id int64) (conversation.Message, error) {
	row := s.db.QueryRowContext(ctx, `select `+messageColumns+` from messages where id = $1`, id)
	return scanMessage(row)
}

func (s messageStore) LatestFor(ctx context.Context, conversationID int64) (conversation.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+messageColumns+` from messages
		where conversation_id = $1
		order by sent_at desc, id desc
		limit 1
	`, conversationID)
	return scanMessage(row)
}

func (s messageStore) ListByConversation(ctx context.Context, conversationID int64, limit int, beforeID int64) ([]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+messageColumns+` from messages
		where conversation_id = $1 and ($2::bigint = 0 or id < $2::bigint)
		order by sent_at desc, id desc
		limit $3
	`, conversationID, beforeID, conversation.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []conversation.Message
	for rows.Next() {
		var m conversation.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.SentAt, &m.IsRead); err != nil {
			return nil, err
		}
		m.SentAt = m.SentAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s messageStore) MarkRead(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `update messages set is_read = true where id = $1`, id)
	if err != nil {
		return conversation.WriteError("mark message read", err)
	}
	return affected(res, "mark message read")
}

func scanMessage(row *sql.Row) (conversation.Message, error) {
	var m conversation.Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.SentAt, &m.IsRead)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.Message{}, conversation.ErrNotFound
	}
	if err != nil {
		return conversation.Message{}, fmt.Errorf("scan message: %w", err)
	}
	m.SentAt = m.SentAt.UTC()
	return m, nil
}

func affected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return conversation.WriteError(op, err)
	}
	if n == 0 {
		return conversation.NotFoundError(op)
	}
	return nil
}

func normalizeConversation(c conversation.Conversation) conversation.Conversation {
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c
}
