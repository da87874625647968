package conversation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory keeps conversations and messages in process memory. Deleting a
// conversation drops its messages, like the foreign key cascade in SQL.
type Memory struct {
	mu       sync.RWMutex
	convSeq  int64
	msgSeq   int64
	convs    map[int64]Conversation
	messages map[int64]Message
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		convs:    make(map[int64]Conversation),
		messages: make(map[int64]Message),
	}
}

// Conversations returns the conversation side of the store.
func (m *Memory) Conversations() Store { return memConversations{m} }

// Messages returns the message side of the store.
func (m *Memory) Messages() MessageStore { return memMessages{m} }

type memConversations struct{ m *Memory }

func (s memConversations) Save(ctx context.Context, c Conversation) (Conversation, error) {
	if err := c.Validate(); err != nil {
		return Conversation{}, err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.convSeq++
	c.ID = s.m.convSeq
	s.m.convs[c.ID] = c
	return c, nil
}

func (s memConversations) FindByID(ctx context.Context, id int64) (Conversation, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	c, ok := s.m.convs[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

func (s memConversations) Delete(ctx context.Context, id int64) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.convs[id]; !ok {
		return NotFoundError("delete conversation")
	}
	delete(s.m.convs, id)
	for mid, msg := range s.m.messages {
		if msg.ConversationID == id {
			delete(s.m.messages, mid)
		}
	}
	return nil
}

func (s memConversations) Touch(ctx context.Context, id int64, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.convs[id]
	if !ok {
		return NotFoundError("touch conversation")
	}
	c.UpdatedAt = at.UTC()
	s.m.convs[id] = c
	return nil
}

func (s memConversations) ListByBuyer(ctx context.Context, buyerID int64) ([]Conversation, error) {
	return s.list(func(c Conversation) bool { return c.BuyerID == buyerID }), nil
}

func (s memConversations) ListByItem(ctx context.Context, itemID int64) ([]Conversation, error) {
	return s.list(func(c Conversation) bool { return c.ItemID == itemID }), nil
}

// list returns matches most recently updated first.
func (s memConversations) list(match func(Conversation) bool) []Conversation {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var res []Conversation
	for _, c := range s.m.convs {
		if match(c) {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].UpdatedAt.Equal(res[j].UpdatedAt) {
			return res[i].UpdatedAt.After(res[j].UpdatedAt)
		}
		return res[i].ID > res[j].ID
	})
	return res
}

type memMessages struct{ m *Memory }

func (s memMessages) Save(ctx context.Context, msg Message) (Message, error) {
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.convs[msg.ConversationID]; !ok {
		return Message{}, WriteError("save message", ErrNotFound)
	}
	s.m.msgSeq++
	msg.ID = s.m.msgSeq
	s.m.messages[msg.ID] = msg
	return msg, nil
}

func (s memMessages) FindByID(ctx context.Context, id int64) (Message, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	msg, ok := s.m.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return msg, nil
}

func (s memMessages) LatestFor(ctx context.Context, conversationID int64) (Message, error) {
	page, _ := s.ListByConversation(ctx, conversationID, 1, 0)
	if len(page) == 0 {
		return Message{}, ErrNotFound
	}
	return page[0], nil
}

// ListByConversation returns newest first; beforeID > 0 pages backwards.
func (s memMessages) ListByConversation(ctx context.Context, conversationID int64, limit int, beforeID int64) ([]Message, error) {
	limit = ClampLimit(limit)
	s.m.mu.RLock()
	var res []Message
	for _, msg := range s.m.messages {
		if msg.ConversationID != conversationID {
			continue
		}
		if beforeID > 0 && msg.ID >= beforeID {
			continue
		}
		res = append(res, msg)
	}
	s.m.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		if !res[i].SentAt.Equal(res[j].SentAt) {
			return res[i].SentAt.After(res[j].SentAt)
		}
		return res[i].ID > res[j].ID
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s memMessages) MarkRead(ctx context.Context, id int64) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	msg, ok := s.m.messages[id]
	if !ok {
		return NotFoundError("mark message read")
	}
	msg.IsRead = true
	s.m.messages[id] = msg
	return nil
}
