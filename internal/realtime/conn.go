package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"bazaar.app/internal/auth"
	"bazaar.app/internal/conversation"
	"bazaar.app/internal/messaging"
	"bazaar.app/internal/obs"
)

type conn struct {
	id      string
	ws      *websocket.Conn
	srv     *Server
	session auth.Session
	limiter *rate.Limiter
	send    chan []byte
	done    chan struct{}

	mu   sync.Mutex
	subs map[string]context.CancelFunc
}

func newConn(ws *websocket.Conn, srv *Server, session auth.Session, limiter *rate.Limiter) *conn {
	return &conn{
		id:      newConnID(),
		ws:      ws,
		srv:     srv,
		session: session,
		limiter: limiter,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		subs:    make(map[string]context.CancelFunc),
	}
}

// readPump owns reads on the socket. It returns when the peer goes away and
// then tears down subscriptions and the write pump.
func (c *conn) readPump(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		for id, cancel := range c.subs {
			cancel()
			delete(c.subs, id)
		}
		c.mu.Unlock()
		close(c.done)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.srv.logger().Warn("ws read failed", "conn_id", c.id, "error", err)
			}
			return
		}
		if !c.limiter.Allow() {
			obs.WSFrame("any", "rate_limited")
			c.reply(Frame{Command: CommandError, Message: "rate limit exceeded"})
			continue
		}
		f, err := decodeFrame(data)
		if err != nil {
			obs.WSFrame("any", "malformed")
			c.reply(Frame{Command: CommandError, Message: "malformed frame"})
			continue
		}
		c.handle(ctx, f)
	}
}

// writePump owns writes on the socket and keeps the peer alive with pings.
func (c *conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ctx.Done():
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

// reply queues a frame; it is dropped when the connection is gone or the
// queue is full.
func (c *conn) reply(f Frame) {
	data, err := encodeFrame(f)
	if err != nil {
		c.srv.logger().Error("encode frame", "conn_id", c.id, "error", err)
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		obs.EventDropped()
	}
}

func (c *conn) handle(ctx context.Context, f Frame) {
	switch f.Command {
	case CommandSubscribe:
		c.subscribe(ctx, f)
	case CommandUnsubscribe:
		c.unsubscribe(f)
	case CommandSend:
		c.dispatch(ctx, f)
	}
}

func (c *conn) subscribe(ctx context.Context, f Frame) {
	if f.ID == "" {
		c.reply(Frame{Command: CommandError, Message: "subscription id is required"})
		return
	}
	if f.Destination != messaging.TopicConversations {
		if _, ok := messaging.ConversationIDFromTopic(f.Destination); !ok {
			c.reply(Frame{Command: CommandError, ID: f.ID, Message: fmt.Sprintf("unknown topic %q", f.Destination)})
			return
		}
	}

	c.mu.Lock()
	if _, dup := c.subs[f.ID]; dup {
		c.mu.Unlock()
		c.reply(Frame{Command: CommandError, ID: f.ID, Message: "subscription id already in use"})
		return
	}
	subCtx, cancel := context.WithCancel(ctx)
	c.subs[f.ID] = cancel
	c.mu.Unlock()

	events := c.srv.hub.Subscribe(subCtx, f.Destination)
	go func() {
		for evt := range events {
			// Events still buffered after UNSUBSCRIBE are not delivered.
			if subCtx.Err() != nil {
				continue
			}
			c.reply(Frame{Command: CommandMessage, Destination: evt.Topic, ID: f.ID, Body: evt.Data})
		}
	}()
	if f.Receipt != "" {
		c.reply(Frame{Command: CommandReceipt, Receipt: f.Receipt, ID: f.ID})
	}
}

func (c *conn) unsubscribe(f Frame) {
	c.mu.Lock()
	cancel, ok := c.subs[f.ID]
	delete(c.subs, f.ID)
	c.mu.Unlock()
	if !ok {
		c.reply(Frame{Command: CommandError, ID: f.ID, Message: "unknown subscription"})
		return
	}
	cancel()
	if f.Receipt != "" {
		c.reply(Frame{Command: CommandReceipt, Receipt: f.Receipt, ID: f.ID})
	}
}

type idBody struct {
	ID int64 `json:"id"`
}

type itemBody struct {
	ItemID int64 `json:"itemId"`
}

func (c *conn) dispatch(ctx context.Context, f Frame) {
	dest, err := ParseDestination(f.Destination)
	if err != nil {
		obs.WSFrame("unknown", "rejected")
		c.reply(Frame{Command: CommandError, Receipt: f.Receipt, Message: err.Error()})
		return
	}

	result, err := c.invoke(ctx, dest, f.Body)
	if err != nil {
		obs.WSFrame(dest.String(), "error")
		c.reply(Frame{Command: CommandError, Receipt: f.Receipt, Message: frameError(err)})
		return
	}
	obs.WSFrame(dest.String(), "ok")

	body, err := json.Marshal(result)
	if err != nil {
		c.reply(Frame{Command: CommandError, Receipt: f.Receipt, Message: "internal error"})
		return
	}
	c.reply(Frame{Command: CommandReceipt, Receipt: f.Receipt, Destination: dest.String(), Body: body})
}

func (c *conn) invoke(ctx context.Context, dest Destination, raw json.RawMessage) (any, error) {
	g := c.srv.gateway
	switch dest {
	case DestinationCreateConversation:
		var b itemBody
		if err := decodeBody(raw, &b); err != nil {
			return nil, err
		}
		return g.CreateConversation(ctx, b.ItemID)
	case DestinationGetConversation:
		var b idBody
		if err := decodeBody(raw, &b); err != nil {
			return nil, err
		}
		return g.GetConversation(ctx, b.ID)
	case DestinationDeleteConversation:
		var b idBody
		if err := decodeBody(raw, &b); err != nil {
			return nil, err
		}
		if err := g.DeleteConversation(ctx, b.ID); err != nil {
			return nil, err
		}
		return nil, nil
	case DestinationSendMessage:
		var b messaging.SendMessageRequest
		if err := decodeBody(raw, &b); err != nil {
			return nil, err
		}
		return g.SendMessage(ctx, b)
	case DestinationMarkRead:
		var b idBody
		if err := decodeBody(raw, &b); err != nil {
			return nil, err
		}
		return g.MarkRead(ctx, b.ID)
	}
	return nil, fmt.Errorf("realtime: unhandled destination %s", dest)
}

var errBadBody = errors.New("realtime: malformed body")

func decodeBody(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errBadBody
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

// frameError reduces an error to the text sent to the client.
func frameError(err error) string {
	var verr *conversation.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, errBadBody):
		return "malformed body"
	case errors.Is(err, conversation.ErrNotFound):
		return "not found"
	case errors.Is(err, messaging.ErrForbidden):
		return "forbidden"
	case errors.Is(err, auth.ErrUnauthenticated):
		return "unauthenticated"
	default:
		return "internal error"
	}
}
