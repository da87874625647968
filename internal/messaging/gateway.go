// Package messaging implements the conversation operations triggered by
// real-time frames and REST calls. Every mutation is persisted first and
// broadcast afterwards.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"bazaar.app/internal/auth"
	"bazaar.app/internal/conversation"
	"bazaar.app/internal/obs"
)

const (
	// TopicConversations carries created and fetched conversations.
	TopicConversations = "/topic/conversations"
	topicPrefix        = TopicConversations + "/"
)

var (
	ErrUnauthenticated = auth.ErrUnauthenticated
	ErrForbidden       = errors.New("messaging: forbidden")
)

// ConversationTopic is the topic carrying messages of one conversation.
func ConversationTopic(id int64) string {
	return topicPrefix + strconv.FormatInt(id, 10)
}

// ConversationIDFromTopic parses the id out of a ConversationTopic value.
func ConversationIDFromTopic(topic string) (int64, bool) {
	if len(topic) <= len(topicPrefix) || topic[:len(topicPrefix)] != topicPrefix {
		return 0, false
	}
	id, err := strconv.ParseInt(topic[len(topicPrefix):], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Publisher delivers payloads to topic subscribers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// SendMessageRequest is the payload of a send. A nil ConversationID opens a
// new conversation about ItemID first.
type SendMessageRequest struct {
	ConversationID *int64 `json:"conversationId,omitempty"`
	ItemID         int64  `json:"itemId"`
	Content        string `json:"content"`
}

type Gateway struct {
	conversations conversation.Store
	messages      conversation.MessageStore
	publisher     Publisher
	now           func() time.Time
	log           *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// WithLogger overrides the logger used for broadcast failures.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

func NewGateway(conversations conversation.Store, messages conversation.MessageStore, publisher Publisher, opts ...Option) (*Gateway, error) {
	if conversations == nil || messages == nil {
		return nil, errors.New("messaging: stores are required")
	}
	if publisher == nil {
		return nil, errors.New("messaging: publisher is required")
	}
	g := &Gateway{
		conversations: conversations,
		messages:      messages,
		publisher:     publisher,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Gateway) logger() *slog.Logger {
	if g.log != nil {
		return g.log
	}
	return obs.Logger()
}

func currentSession(ctx context.Context) (auth.Session, error) {
	s, ok := auth.SessionFromContext(ctx)
	if !ok {
		return auth.Session{}, ErrUnauthenticated
	}
	return s, nil
}

// CreateConversation opens a conversation about itemID with the caller as buyer
// and announces it on TopicConversations.
func (g *Gateway) CreateConversation(ctx context.Context, itemID int64) (conversation.Conversation, error) {
	s, err := currentSession(ctx)
	if err != nil {
		return conversation.Conversation{}, err
	}
	c, err := g.createFor(ctx, itemID, s.UserID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	g.broadcast(ctx, "conversation_created", TopicConversations, c)
	return c, nil
}

func (g *Gateway) createFor(ctx context.Context, itemID, buyerID int64) (conversation.Conversation, error) {
	c, err := conversation.NewConversation(itemID, buyerID, g.now())
	if err != nil {
		return conversation.Conversation{}, err
	}
	saved, err := g.conversations.Save(ctx, c)
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return saved, nil
}

// GetConversation looks a conversation up and broadcasts the result, or null
// when it does not exist. Absence is reported with conversation.ErrNotFound.
func (g *Gateway) GetConversation(ctx context.Context, id int64) (conversation.Conversation, error) {
	if _, err := currentSession(ctx); err != nil {
		return conversation.Conversation{}, err
	}
	c, err := g.conversations.FindByID(ctx, id)
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		g.broadcast(ctx, "conversation_lookup", TopicConversations, nil)
		return conversation.Conversation{}, err
	case err != nil:
		return conversation.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	g.broadcast(ctx, "conversation_lookup", TopicConversations, c)
	return c, nil
}

// DeleteConversation removes a conversation and its messages. Only the buyer
// or an administrator may delete. A missing conversation is reported as a
// persistence error that also matches conversation.ErrNotFound.
func (g *Gateway) DeleteConversation(ctx context.Context, id int64) error {
	s, err := currentSession(ctx)
	if err != nil {
		return err
	}
	c, err := g.conversations.FindByID(ctx, id)
	if errors.Is(err, conversation.ErrNotFound) {
		return conversation.NotFoundError("delete conversation")
	}
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if c.BuyerID != s.UserID && !s.Admin {
		return ErrForbidden
	}
	return g.conversations.Delete(ctx, id)
}

// SendMessage persists a message from the caller and broadcasts it on the
// conversation's topic.
func (g *Gateway) SendMessage(ctx context.Context, req SendMessageRequest) (conversation.Message, error) {
	s, err := currentSession(ctx)
	if err != nil {
		return conversation.Message{}, err
	}
	now := g.now()

	var convID int64
	if req.ConversationID != nil {
		convID = *req.ConversationID
		if _, err := g.conversations.FindByID(ctx, convID); err != nil {
			return conversation.Message{}, fmt.Errorf("send message: %w", err)
		}
	}

	// Validate before any implicit create so a blank body leaves no empty
	// conversation behind.
	msg, err := conversation.NewMessage(convID, s.UserID, req.Content, now)
	if err != nil {
		return conversation.Message{}, err
	}

	if req.ConversationID == nil {
		c, err := g.createFor(ctx, req.ItemID, s.UserID)
		if err != nil {
			return conversation.Message{}, err
		}
		g.broadcast(ctx, "conversation_created", TopicConversations, c)
		msg.ConversationID = c.ID
	}

	saved, err := g.messages.Save(ctx, msg)
	if err != nil {
		return conversation.Message{}, fmt.Errorf("send message: %w", err)
	}
	if err := g.conversations.Touch(ctx, saved.ConversationID, saved.SentAt); err != nil {
		g.logger().Warn("touch conversation failed", "conversation_id", saved.ConversationID, "error", err)
	}
	g.broadcast(ctx, "message_sent", ConversationTopic(saved.ConversationID), saved)
	return saved, nil
}

// MarkRead flags a message as read. The sender cannot mark their own message.
func (g *Gateway) MarkRead(ctx context.Context, messageID int64) (conversation.Message, error) {
	s, err := currentSession(ctx)
	if err != nil {
		return conversation.Message{}, err
	}
	msg, err := g.messages.FindByID(ctx, messageID)
	if err != nil {
		return conversation.Message{}, fmt.Errorf("mark read: %w", err)
	}
	if msg.SenderID == s.UserID {
		return conversation.Message{}, ErrForbidden
	}
	c, err := g.conversations.FindByID(ctx, msg.ConversationID)
	if err != nil {
		return conversation.Message{}, fmt.Errorf("mark read: %w", err)
	}
	// A message from the seller is addressed to the buyer. The seller of a
	// listing is not known here, so a buyer's message may be acknowledged by
	// any other participant.
	if msg.SenderID != c.BuyerID && s.UserID != c.BuyerID && !s.Admin {
		return conversation.Message{}, ErrForbidden
	}
	if msg.IsRead {
		return msg, nil
	}
	if err := g.messages.MarkRead(ctx, messageID); err != nil {
		return conversation.Message{}, err
	}
	msg.IsRead = true
	g.broadcast(ctx, "message_read", ConversationTopic(msg.ConversationID), msg)
	return msg, nil
}

// History pages through a conversation newest first.
func (g *Gateway) History(ctx context.Context, conversationID int64, limit int, beforeID int64) ([]conversation.Message, error) {
	if _, err := currentSession(ctx); err != nil {
		return nil, err
	}
	if _, err := g.conversations.FindByID(ctx, conversationID); err != nil {
		return nil, err
	}
	return g.messages.ListByConversation(ctx, conversationID, limit, beforeID)
}

// Latest returns the newest message of a conversation.
func (g *Gateway) Latest(ctx context.Context, conversationID int64) (conversation.Message, error) {
	if _, err := currentSession(ctx); err != nil {
		return conversation.Message{}, err
	}
	return g.messages.LatestFor(ctx, conversationID)
}

// ListMine returns the conversations the caller opened as buyer.
func (g *Gateway) ListMine(ctx context.Context) ([]conversation.Conversation, error) {
	s, err := currentSession(ctx)
	if err != nil {
		return nil, err
	}
	return g.conversations.ListByBuyer(ctx, s.UserID)
}

// broadcast never fails the caller: the write is already durable.
func (g *Gateway) broadcast(ctx context.Context, kind, topic string, payload any) {
	if err := g.publisher.Publish(ctx, topic, payload); err != nil {
		obs.BroadcastFailed(kind)
		g.logger().Error("broadcast failed", "kind", kind, "topic", topic, "error", err)
	}
}
