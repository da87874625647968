package conversation

import (
	"context"
	"time"
)

// Store persists conversations.
type Store interface {
	Save(ctx context.Context, c Conversation) (Conversation, error)
	FindByID(ctx context.Context, id int64) (Conversation, error)
	Delete(ctx context.Context, id int64) error
	Touch(ctx context.Context, id int64, at time.Time) error
	ListByBuyer(ctx context.Context, buyerID int64) ([]Conversation, error)
	ListByItem(ctx context.Context, itemID int64) ([]Conversation, error)
}

// MessageStore persists messages.
type MessageStore interface {
	Save(ctx context.Context, m Message) (Message, error)
	FindByID(ctx context.Context, id int64) (Message, error)
	LatestFor(ctx context.Context, conversationID int64) (Message, error)
	ListByConversation(ctx context.Context, conversationID int64, limit int, beforeID int64) ([]Message, error)
	MarkRead(ctx context.Context, id int64) error
}

// DefaultPageSize and MaxPageSize bound ListByConversation.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// ClampLimit normalizes a requested page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
