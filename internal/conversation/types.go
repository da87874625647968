// Package conversation models buyer/seller conversations about a listing and
// the messages exchanged in them.
package conversation

import (
	"strings"
	"time"
)

// MaxContentLength bounds a single message body, in bytes.
const MaxContentLength = 4000

// Conversation is opened by a buyer about one listing.
type Conversation struct {
	ID        int64     `json:"id"`
	ItemID    int64     `json:"itemId"`
	BuyerID   int64     `json:"buyerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message belongs to exactly one conversation.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversationId"`
	SenderID       int64     `json:"senderId"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sentAt"`
	IsRead         bool      `json:"isRead"`
}

// NewConversation validates the identifiers and stamps both timestamps with now.
func NewConversation(itemID, buyerID int64, now time.Time) (Conversation, error) {
	if itemID < 0 {
		return Conversation{}, invalid("itemId", "must be >= 0")
	}
	if buyerID < 0 {
		return Conversation{}, invalid("buyerId", "must be >= 0")
	}
	now = now.UTC()
	return Conversation{ItemID: itemID, BuyerID: buyerID, CreatedAt: now, UpdatedAt: now}, nil
}

// NewMessage validates and builds an unread message sent at now.
func NewMessage(conversationID, senderID int64, content string, now time.Time) (Message, error) {
	if conversationID < 0 {
		return Message{}, invalid("conversationId", "must be >= 0")
	}
	if senderID < 0 {
		return Message{}, invalid("senderId", "must be >= 0")
	}
	if strings.TrimSpace(content) == "" {
		return Message{}, invalid("content", "must not be blank")
	}
	if len(content) > MaxContentLength {
		return Message{}, invalid("content", "too long")
	}
	return Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		SentAt:         now.UTC(),
	}, nil
}

// Validate re-checks the invariants of a conversation built elsewhere
// (decoded from storage or a wire payload).
func (c Conversation) Validate() error {
	_, err := NewConversation(c.ItemID, c.BuyerID, c.CreatedAt)
	return err
}

// Validate re-checks the invariants of a message.
func (m Message) Validate() error {
	_, err := NewMessage(m.ConversationID, m.SenderID, m.Content, m.SentAt)
	return err
}
