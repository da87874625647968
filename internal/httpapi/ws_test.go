package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bazaar.app/internal/conversation"
	"bazaar.app/internal/realtime"
)

func (c *apiClient) wsURL(token string) string {
	u := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

func TestWebSocketThroughMiddlewareChain(t *testing.T) {
	c := newTestAPI(t, nil)
	session := c.signup("Alice", "alice@example.com", "correct-horse")

	ws, resp, err := websocket.DefaultDialer.Dial(c.wsURL(session.Token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	out, err := json.Marshal(realtime.Frame{
		Command:     realtime.CommandSend,
		Destination: "/app/sendMessage",
		Receipt:     "r1",
		Body:        json.RawMessage(`{"itemId":42,"content":"hello"}`),
	})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, out); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	if err := ws.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("deadline: %v", err)
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var in realtime.Frame
	if err := json.Unmarshal(data, &in); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if in.Command != realtime.CommandReceipt || in.Receipt != "r1" {
		t.Fatalf("expected receipt r1, got %+v", in)
	}
	var msg conversation.Message
	if err := json.Unmarshal(in.Body, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Content != "hello" || msg.SenderID != session.ID || msg.ConversationID <= 0 {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestWebSocketWithoutTokenThroughMiddlewareChain(t *testing.T) {
	c := newTestAPI(t, nil)
	_, resp, err := websocket.DefaultDialer.Dial(c.wsURL(""), nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}
