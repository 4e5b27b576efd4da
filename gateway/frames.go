package gateway

import (
	"bytes"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"encoding/json"
	"fmt"
)

// FrameType identifies a client to server frame.
type FrameType string

const (
	SubscribeFrame   FrameType = "subscribe"
	UnsubscribeFrame FrameType = "unsubscribe"
	SendMessageFrame FrameType = "send_message"
	TypingFrame      FrameType = "typing"
	ReadFrame        FrameType = "read"
	ReconcileFrame   FrameType = "reconcile"
	PingFrame        FrameType = "ping"
)

// Frame is the flat JSON shape of every inbound frame. Fields that do not
// apply to a type are left empty.
type Frame struct {
	Type           FrameType             `json:"type"`
	Ref            string                `json:"ref,omitempty"`
	ConversationID domain.ConversationID `json:"conversationId,omitempty"`
	TempID         string                `json:"tempId,omitempty"`
	Text           string                `json:"text,omitempty"`
	AttachmentRef  string                `json:"attachmentRef,omitempty"`
	UptoID         uint64                `json:"uptoId,omitempty"`
	SinceID        uint64                `json:"sinceId,omitempty"`
	Limit          int                   `json:"limit,omitempty"`
}

func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", errors.ErrInvalidCommand, err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", errors.ErrInvalidCommand)
	}
	return f, nil
}

// EncodeEvent renders an event as {"type": kind, ...fields}.
func EncodeEvent(e event.DomainEvent) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	kind, err := json.Marshal(e.Kind())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(kind) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(kind)
	inner := bytes.TrimSpace(body[1 : len(body)-1])
	if len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ErrorEvent turns a failure into the error frame sent back to the client.
func ErrorEvent(err error, ref string) event.Error {
	return event.Error{Code: errors.Code(err), Reason: err.Error(), Ref: ref}
}
