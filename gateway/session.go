package gateway

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/services"
	"chat-sync/sink"
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	WriteTimeout      time.Duration
	ReadLimit         int64
}

type frameHandler func(ctx context.Context, f Frame) error

// connection is one websocket session. The reader and writer goroutines only
// talk to the main loop through channels, so every frame of a session is
// handled in the order it arrived.
type connection struct {
	log      *slog.Logger
	service  services.IChatService
	ws       *websocket.Conn
	session  *sink.SessionSink
	config   Config
	handlers map[FrameType]frameHandler
}

func newConnection(log *slog.Logger, service services.IChatService, ws *websocket.Conn, session *sink.SessionSink, config Config) *connection {
	c := &connection{
		log: log.With(
			"session_id", session.SessionID(),
			"identity", session.Identity()),
		service: service,
		ws:      ws,
		session: session,
		config:  config,
	}
	c.handlers = map[FrameType]frameHandler{
		SubscribeFrame:   c.subscribe,
		UnsubscribeFrame: c.unsubscribe,
		SendMessageFrame: c.sendMessage,
		TypingFrame:      c.typing,
		ReadFrame:        c.read,
		ReconcileFrame:   c.reconcile,
		PingFrame:        c.ping,
	}
	return c
}

// run blocks until the peer goes away, stops answering, overflows its queue or ctx ends.
// Leaving always tears down presence and every subscription of the session.
func (c *connection) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	inbound := make(chan Frame)
	alive := make(chan struct{}, 1)
	failures := make(chan error, 2)
	writerDone := make(chan struct{})
	opened := false

	defer func() {
		cancel()
		<-writerDone
		if opened {
			c.service.CloseSession(context.Background(), c.session)
		}
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.config.WriteTimeout))
		_ = c.ws.Close()
	}()

	go c.readPump(ctx, inbound, alive, failures)
	go func() {
		defer close(writerDone)
		c.writePump(ctx, failures)
	}()

	if err := c.service.OpenSession(ctx, c.session); err != nil {
		c.log.Warn("Unable to open session", "error", err)
		return
	}
	opened = true

	for {
		select {
		case f := <-inbound:
			c.dispatch(ctx, f)
		case <-alive:
			c.service.Heartbeat(c.session.Identity())
		case err := <-failures:
			c.log.Debug("Session closed", "reason", err)
			return
		case <-c.session.Overflow():
			c.log.Debug("Session closed", "reason", "outbound queue overflow")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *connection) dispatch(ctx context.Context, f Frame) {
	var err error
	if handle, ok := c.handlers[f.Type]; ok {
		err = handle(ctx, f)
	} else {
		err = fmt.Errorf("%w: %q", errors.ErrUnknownFrame, f.Type)
	}
	// The sender already got message_failed
	if err == nil || errors.Is(err, errors.ErrPersistenceFailure) {
		return
	}
	c.log.Debug("Frame refused", "type", f.Type, "conversation_id", f.ConversationID, "error", err)
	c.reply(ctx, ErrorEvent(err, f.Ref))
}

func (c *connection) reply(ctx context.Context, e event.DomainEvent) {
	if err := c.session.Consume(ctx, e); err != nil {
		c.log.Debug("Unable to queue reply", "kind", e.Kind(), "error", err)
	}
}

// readPump refreshes the read deadline on every frame and pong. Silence for
// HeartbeatTimeout makes ReadMessage fail and ends the session.
func (c *connection) readPump(ctx context.Context, inbound chan<- Frame, alive chan<- struct{}, failures chan<- error) {
	refresh := func() {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout))
		select {
		case alive <- struct{}{}:
		default:
		}
	}

	c.ws.SetReadLimit(c.config.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout))
	c.ws.SetPongHandler(func(string) error {
		refresh()
		return nil
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			failures <- readFailure(err)
			return
		}
		refresh()
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}

		f, err := ParseFrame(data)
		if err != nil {
			c.reply(ctx, ErrorEvent(err, ""))
			continue
		}
		select {
		case inbound <- f:
		case <-ctx.Done():
			return
		}
	}
}

func readFailure(err error) error {
	var netErr net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		return fmt.Errorf("peer closed: %w", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: heartbeat timeout", errors.ErrTransientTransport)
	default:
		return fmt.Errorf("%w: %v", errors.ErrTransientTransport, err)
	}
}

// writePump is the only goroutine calling WriteMessage on the connection.
func (c *connection) writePump(ctx context.Context, failures chan<- error) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-c.session.Events():
			data, err := EncodeEvent(e)
			if err != nil {
				c.log.Error("Unable to encode event", "kind", e.Kind(), "error", err)
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				failures <- fmt.Errorf("%w: write %s: %v", errors.ErrTransientTransport, e.Kind(), err)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout)); err != nil {
				failures <- fmt.Errorf("%w: ping: %v", errors.ErrTransientTransport, err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *connection) subscribe(ctx context.Context, f Frame) error {
	_, err := c.service.Subscribe(ctx, c.session, f.ConversationID)
	return err
}

func (c *connection) unsubscribe(ctx context.Context, f Frame) error {
	return c.service.Unsubscribe(ctx, c.session, f.ConversationID)
}

func (c *connection) sendMessage(ctx context.Context, f Frame) error {
	_, err := c.service.SendMessage(ctx, c.session, domain.SendMessageCommand{
		ConversationID: f.ConversationID,
		TempID:         f.TempID,
		Text:           f.Text,
		AttachmentRef:  f.AttachmentRef,
	})
	return err
}

func (c *connection) typing(ctx context.Context, f Frame) error {
	return c.service.Typing(ctx, c.session, f.ConversationID)
}

func (c *connection) read(ctx context.Context, f Frame) error {
	return c.service.Read(ctx, c.session, f.ConversationID, f.UptoID)
}

func (c *connection) reconcile(ctx context.Context, f Frame) error {
	result, err := c.service.Reconcile(c.session.Identity(), f.ConversationID, f.SinceID, f.Limit)
	if err != nil {
		return err
	}
	c.reply(ctx, result)
	return nil
}

func (c *connection) ping(ctx context.Context, _ Frame) error {
	c.reply(ctx, event.Pong{At: time.Now().UTC()})
	return nil
}
