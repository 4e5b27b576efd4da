package client

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/gateway"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var decoders = map[event.Kind]func([]byte) (event.DomainEvent, error){
	event.MessageAckKind:       decodeAs[event.MessageAck],
	event.MessageKind:          decodeAs[event.MessagePosted],
	event.MessageFailedKind:    decodeAs[event.MessageFailed],
	event.PresenceDeltaKind:    decodeAs[event.PresenceDelta],
	event.PresenceSnapshotKind: decodeAs[event.PresenceSnapshot],
	event.ReadUpdateKind:       decodeAs[event.ReadUpdate],
	event.TypingUpdateKind:     decodeAs[event.TypingUpdate],
	event.ReconcileResultKind:  decodeAs[event.ReconcileResult],
	event.ErrorKind:            decodeAs[event.Error],
	event.PongKind:             decodeAs[event.Pong],
}

func decodeAs[T event.DomainEvent](data []byte) (event.DomainEvent, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Decode turns a server frame back into its event.
func Decode(data []byte) (event.DomainEvent, error) {
	var head struct {
		Type event.Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidCommand, err)
	}
	decode, ok := decoders[head.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownFrame, head.Type)
	}
	return decode(data)
}

// Conn is a client websocket session. Reads happen on one goroutine only,
// writes are serialized here.
type Conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

// Dial opens /ws on the gateway at url (ws:// or wss://) with a bearer token.
func Dial(ctx context.Context, url, token string) (*Conn, error) {
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %v", errors.ErrUnauthenticated, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", errors.ErrTransientTransport, url, err)
	}
	return &Conn{ws: ws}, nil
}

func (c *Conn) send(f gateway.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.ws.WriteJSON(f); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrTransientTransport, err)
	}
	return nil
}

func (c *Conn) Subscribe(id domain.ConversationID) error {
	return c.send(gateway.Frame{Type: gateway.SubscribeFrame, ConversationID: id})
}

func (c *Conn) Unsubscribe(id domain.ConversationID) error {
	return c.send(gateway.Frame{Type: gateway.UnsubscribeFrame, ConversationID: id})
}

// Send submits an outbox entry. Sending the same entry again is safe: the temp id deduplicates.
func (c *Conn) Send(entry Entry) error {
	return c.send(gateway.Frame{
		Type:           gateway.SendMessageFrame,
		ConversationID: entry.ConversationID,
		TempID:         entry.TempID,
		Text:           entry.Text,
		AttachmentRef:  entry.AttachmentRef,
	})
}

func (c *Conn) Typing(id domain.ConversationID) error {
	return c.send(gateway.Frame{Type: gateway.TypingFrame, ConversationID: id})
}

func (c *Conn) Read(id domain.ConversationID, uptoID uint64) error {
	return c.send(gateway.Frame{Type: gateway.ReadFrame, ConversationID: id, UptoID: uptoID})
}

func (c *Conn) Reconcile(id domain.ConversationID, sinceID uint64) error {
	return c.send(gateway.Frame{Type: gateway.ReconcileFrame, ConversationID: id, SinceID: sinceID})
}

func (c *Conn) Ping() error {
	return c.send(gateway.Frame{Type: gateway.PingFrame})
}

// Next blocks for the next event. Server pings are answered while reading.
func (c *Conn) Next() (event.DomainEvent, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrTransientTransport, err)
	}
	return Decode(data)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

// Apply feeds an event to the outbox it concerns. It returns false when the event has no effect on it.
func Apply(outbox *Outbox, e event.DomainEvent) bool {
	switch v := e.(type) {
	case event.MessageAck:
		return outbox.Ack(v)
	case event.MessagePosted:
		return outbox.Receive(v)
	case event.MessageFailed:
		return outbox.Fail(v)
	case event.ReconcileResult:
		return outbox.Merge(v) > 0
	case event.ReadUpdate:
		outbox.MarkRead(v)
		return true
	default:
		return false
	}
}
