package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"bazaar.app/internal/ids"
)

type session struct {
	Token string `json:"token"`
	ID    int64  `json:"id"`
}

type frame struct {
	Command     string          `json:"command"`
	Destination string          `json:"destination,omitempty"`
	ID          string          `json:"id,omitempty"`
	Receipt     string          `json:"receipt,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	Message     string          `json:"message,omitempty"`
}

func main() {
	log.SetFlags(0)
	base := flag.String("addr", envOr("BAZAAR_SMOKE_ADDR", "http://localhost:8080"), "API base URL")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}
	email := fmt.Sprintf("smoke-%s@example.com", strings.ToLower(ids.New()))

	sess := post(client, *base+"/v1/auth/signup", map[string]string{
		"name": "Smoke Test", "email": email, "password": "smoke-password",
	})
	log.Printf("signed up user %d", sess.ID)

	wsURL := "ws" + strings.TrimPrefix(*base, "http") + "/ws?token=" + url.QueryEscape(sess.Token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatalf("ws dial: %v", err)
	}
	defer conn.Close()

	send(conn, frame{Command: "SUBSCRIBE", Destination: "/topic/conversations", ID: "smoke", Receipt: "sub"})
	expect(conn, "sub")

	send(conn, frame{
		Command:     "SEND",
		Destination: "/app/sendMessage",
		Receipt:     "send",
		Body:        json.RawMessage(`{"itemId":1,"content":"smoke hello"}`),
	})
	receipt := expect(conn, "send")

	var msg struct {
		ID             int64  `json:"id"`
		ConversationID int64  `json:"conversationId"`
		Content        string `json:"content"`
	}
	if err := json.Unmarshal(receipt.Body, &msg); err != nil {
		log.Fatalf("decode message: %v", err)
	}
	if msg.Content != "smoke hello" || msg.ConversationID == 0 {
		log.Fatalf("unexpected message: %+v", msg)
	}
	fmt.Printf("smoke ok: conversation=%d message=%d\n", msg.ConversationID, msg.ID)
}

func post(client *http.Client, target string, body any) session {
	payload, _ := json.Marshal(body)
	resp, err := client.Post(target, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("POST %s: %v", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		log.Fatalf("POST %s: status %d", target, resp.StatusCode)
	}
	var s session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		log.Fatalf("decode session: %v", err)
	}
	return s
}

func send(conn *websocket.Conn, f frame) {
	if err := conn.WriteJSON(f); err != nil {
		log.Fatalf("ws write: %v", err)
	}
}

// expect reads until the receipt arrives; topic events in between are skipped.
func expect(conn *websocket.Conn, receipt string) frame {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			log.Fatalf("ws read: %v", err)
		}
		switch {
		case f.Command == "ERROR":
			log.Fatalf("server error for %q: %s", f.Receipt, f.Message)
		case f.Command == "RECEIPT" && f.Receipt == receipt:
			return f
		}
	}
	log.Fatalf("timed out waiting for receipt %q", receipt)
	return frame{}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
