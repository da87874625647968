package conversation

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewConversationRejectsNegativeIDs(t *testing.T) {
	now := time.Now()
	cases := []struct {
		item, buyer int64
		field       string
	}{
		{-1, 1, "itemId"},
		{1, -1, "buyerId"},
		{-5, -5, "itemId"},
	}
	for _, tc := range cases {
		_, err := NewConversation(tc.item, tc.buyer, now)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("NewConversation(%d,%d): expected ErrValidation, got %v", tc.item, tc.buyer, err)
		}
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Field != tc.field {
			t.Fatalf("NewConversation(%d,%d): expected field %s, got %v", tc.item, tc.buyer, tc.field, err)
		}
	}

	c, err := NewConversation(0, 0, now)
	if err != nil {
		t.Fatalf("zero ids are valid: %v", err)
	}
	if !c.CreatedAt.Equal(c.UpdatedAt) {
		t.Fatalf("timestamps differ: %v %v", c.CreatedAt, c.UpdatedAt)
	}
}

func TestNewMessageRejectsBlankContent(t *testing.T) {
	for _, content := range []string{"", " ", "\n\t  "} {
		_, err := NewMessage(1, 1, content, time.Now())
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("NewMessage(%q): expected ErrValidation, got %v", content, err)
		}
	}
	if _, err := NewMessage(1, 1, strings.Repeat("x", MaxContentLength+1), time.Now()); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected oversized content to fail, got %v", err)
	}
	if _, err := NewMessage(-1, 1, "hi", time.Now()); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected negative conversation id to fail, got %v", err)
	}
	if _, err := NewMessage(1, -1, "hi", time.Now()); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected negative sender id to fail, got %v", err)
	}

	m, err := NewMessage(3, 4, "hello", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if m.IsRead || m.Content != "hello" || m.ConversationID != 3 || m.SenderID != 4 {
		t.Fatalf("unexpected message: %+v", m)
	}
}

func TestPersistenceErrorMatching(t *testing.T) {
	nf := NotFoundError("delete conversation")
	if !errors.Is(nf, ErrNotFound) || !errors.Is(nf, ErrPersistence) {
		t.Fatalf("not-found write must match both sentinels: %v", nf)
	}
	we := WriteError("save conversation", errors.New("boom"))
	if errors.Is(we, ErrNotFound) || !errors.Is(we, ErrPersistence) {
		t.Fatalf("generic write error must only match ErrPersistence: %v", we)
	}
	if !strings.Contains(we.Error(), "boom") {
		t.Fatalf("cause missing from message: %v", we)
	}
}
